package notify

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// Sink delivers events to one outbound channel.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, e Event) error
}

// Dispatcher fans events out to sinks from a background loop.
//
// Publish enqueues and returns immediately. Run drains the queue until the
// context is cancelled or Close is called and the queue is empty.
type Dispatcher struct {
	queue     *eventQueue
	sinks     []Sink
	delivered atomic.Int64
	failed    atomic.Int64
}

// NewDispatcher creates a dispatcher over the given sinks.
func NewDispatcher(sinks ...Sink) *Dispatcher {
	return &Dispatcher{
		queue: newEventQueue(),
		sinks: sinks,
	}
}

// Publish implements Publisher.
func (d *Dispatcher) Publish(e Event) {
	if !d.queue.Enqueue(e) {
		slog.Warn("notify: dispatcher closed, event dropped",
			"kind", e.Kind,
			"document_id", e.DocumentID,
		)
	}
}

// Run delivers queued events until ctx is done or the dispatcher is closed
// and drained.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		for {
			e, ok := d.queue.TryDequeue()
			if !ok {
				break
			}
			d.deliver(ctx, e)
		}
		if d.queue.closedAndEmpty() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-d.queue.Wait():
		}
	}
}

// Drain synchronously delivers everything queued so far.
// Used by the CLI for one-shot commands and by tests.
func (d *Dispatcher) Drain(ctx context.Context) {
	for {
		e, ok := d.queue.TryDequeue()
		if !ok {
			return
		}
		d.deliver(ctx, e)
	}
}

// Close stops accepting events. Run returns once the queue is drained.
func (d *Dispatcher) Close() {
	d.queue.Close()
}

// Pending returns the number of undelivered events.
func (d *Dispatcher) Pending() int {
	return d.queue.Len()
}

// Stats returns delivered and failed delivery counts across all sinks.
func (d *Dispatcher) Stats() (delivered, failed int64) {
	return d.delivered.Load(), d.failed.Load()
}

func (d *Dispatcher) deliver(ctx context.Context, e Event) {
	for _, s := range d.sinks {
		if err := s.Deliver(ctx, e); err != nil {
			d.failed.Add(1)
			slog.Warn("notify: delivery failed",
				"sink", s.Name(),
				"kind", e.Kind,
				"document_id", e.DocumentID,
				"error", err,
			)
			continue
		}
		d.delivered.Add(1)
	}
}
