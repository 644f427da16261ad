package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// LogSink writes every event to the default slog logger.
type LogSink struct{}

func (LogSink) Name() string { return "log" }

// Deliver implements Sink.
func (LogSink) Deliver(_ context.Context, e Event) error {
	attrs := []any{
		"document_id", e.DocumentID,
		"document_type", e.DocumentType,
	}
	if e.ActorID != "" {
		attrs = append(attrs, "actor", e.ActorID)
	}
	if e.To != "" {
		attrs = append(attrs, "from", e.From, "to", e.To)
	}
	if e.Recipient != "" {
		attrs = append(attrs, "recipient", e.Recipient)
	}
	if e.RecipientRole != "" {
		attrs = append(attrs, "recipient_role", e.RecipientRole, "level", e.Level)
	}
	if len(e.Alerts) > 0 {
		attrs = append(attrs, "alerts", len(e.Alerts))
	}
	slog.Info("event "+string(e.Kind), attrs...)
	return nil
}

// Conn is the subset of *nats.Conn used by NATSSink.
type Conn interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes events as JSON to NATS.
// Subject convention: gatehouse.<kind>.<document_type>
type NATSSink struct {
	conn Conn
}

// NewNATSSink wraps an existing connection.
func NewNATSSink(conn Conn) *NATSSink {
	return &NATSSink{conn: conn}
}

// DialNATS connects to url and returns a sink plus the connection to drain
// on shutdown.
func DialNATS(url string) (*NATSSink, *nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("gatehouse"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return NewNATSSink(nc), nc, nil
}

func (s *NATSSink) Name() string { return "nats" }

// Deliver implements Sink.
func (s *NATSSink) Deliver(_ context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := s.conn.Publish(e.Subject(), data); err != nil {
		return fmt.Errorf("publish %s: %w", e.Subject(), err)
	}
	return nil
}

// Recorder keeps every event in memory. It is both a Sink and a Publisher,
// so tests can hand it straight to the engine.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Name() string { return "recorder" }

// Deliver implements Sink.
func (r *Recorder) Deliver(_ context.Context, e Event) error {
	r.Publish(e)
	return nil
}

// Publish implements Publisher.
func (r *Recorder) Publish(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything recorded.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfKind returns recorded events of one kind.
func (r *Recorder) OfKind(k Kind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

// Reset forgets recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
