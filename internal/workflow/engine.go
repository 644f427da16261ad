package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/jonboulle/clockwork"

	"github.com/roach88/gatehouse/internal/escalation"
	"github.com/roach88/gatehouse/internal/ledger"
	"github.com/roach88/gatehouse/internal/lockmap"
	"github.com/roach88/gatehouse/internal/model"
	"github.com/roach88/gatehouse/internal/notify"
	"github.com/roach88/gatehouse/internal/roles"
)

// Store is the persistence collaborator of the engine.
// Implemented by store.Store (SQLite) and pgstore.Store (Postgres).
type Store interface {
	ledger.Store

	// LoadDocument returns model.ErrNotFound for unknown ids.
	LoadDocument(ctx context.Context, id string) (model.Document, error)

	// CreateDocument stores a new document and its creation entry atomically.
	// A taken id returns model.ErrDuplicate.
	CreateDocument(ctx context.Context, doc model.Document, seal model.SealFunc) (model.AuditEntry, error)

	// CommitTransition stores doc and its entry atomically if the stored
	// version equals expectedVersion, else returns
	// model.ErrConcurrentModification.
	CommitTransition(ctx context.Context, doc model.Document, expectedVersion int64, seal model.SealFunc) (model.AuditEntry, error)
}

// CapabilityResolver maps an actor to capabilities for a document type.
type CapabilityResolver interface {
	Resolve(ctx context.Context, actorID string, dt model.DocumentType) roles.CapabilitySet
}

// Escalations is the engine's view of the escalation scheduler.
type Escalations interface {
	Policy(name string) (escalation.Policy, bool)
	HasOpen(documentID string) bool
	OpenItems(documentID string) []model.EscalationItem
	ScheduleFor(ctx context.Context, documentID, policy, phase string) (string, error)
	ArchiveDocument(ctx context.Context, documentID string) ([]model.EscalationItem, error)
}

// Engine evaluates and applies document transitions.
//
// Thread-safety: all methods are safe for concurrent use. Requests for the
// same document are serialized; requests for different documents are not.
type Engine struct {
	store       Store
	ledger      *ledger.Ledger
	graphs      map[model.DocumentType]*Graph
	resolver    CapabilityResolver
	escalations Escalations
	events      notify.Publisher
	clock       clockwork.Clock
	ids         model.IDGenerator
	locks       *lockmap.Map
	validate    *validator.Validate
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source for lock and audit timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithIDGenerator sets the generator for document and audit entry ids.
func WithIDGenerator(g model.IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithPublisher sets the domain event publisher.
func WithPublisher(p notify.Publisher) Option {
	return func(e *Engine) { e.events = p }
}

// WithEscalations attaches the escalation scheduler.
func WithEscalations(s Escalations) Option {
	return func(e *Engine) { e.escalations = s }
}

// New creates an engine over store. Every graph is compiled; escalation
// policies named by edges must be known to the scheduler when one is set.
func New(ctx context.Context, store Store, resolver CapabilityResolver, graphs []*Graph, opts ...Option) (*Engine, error) {
	e := &Engine{
		store:    store,
		graphs:   make(map[model.DocumentType]*Graph, len(graphs)),
		resolver: resolver,
		events:   notify.Discard{},
		clock:    clockwork.NewRealClock(),
		ids:      model.UUIDv7Generator{},
		locks:    lockmap.New(),
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(e)
	}

	for _, g := range graphs {
		if err := g.Compile(); err != nil {
			return nil, err
		}
		if _, dup := e.graphs[g.Type]; dup {
			return nil, fmt.Errorf("duplicate graph for document type %s", g.Type)
		}
		for _, name := range g.EscalationPolicies() {
			if e.escalations == nil {
				return nil, fmt.Errorf("graph %s: edge schedules policy %q but no scheduler is attached", g.Type, name)
			}
			if _, ok := e.escalations.Policy(name); !ok {
				return nil, fmt.Errorf("graph %s: %w: %s", g.Type, escalation.ErrUnknownPolicy, name)
			}
		}
		e.graphs[g.Type] = g
	}

	e.ledger = ledger.New(store, ledger.WithClock(e.clock), ledger.WithIDGenerator(e.ids))
	return e, nil
}

// Graph returns the graph for a document type.
func (e *Engine) Graph(dt model.DocumentType) (*Graph, bool) {
	g, ok := e.graphs[dt]
	return g, ok
}

// DocumentTypes returns the configured document types, sorted.
func (e *Engine) DocumentTypes() []model.DocumentType {
	out := make([]model.DocumentType, 0, len(e.graphs))
	for dt := range e.graphs {
		out = append(out, dt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Ledger returns the audit ledger.
func (e *Engine) Ledger() *ledger.Ledger {
	return e.ledger
}

// Get loads a document.
func (e *Engine) Get(ctx context.Context, id string) (model.Document, error) {
	return e.store.LoadDocument(ctx, id)
}

// Trail returns a document's audit entries, oldest first.
func (e *Engine) Trail(ctx context.Context, id string) ([]model.AuditEntry, error) {
	return e.ledger.QueryByDocument(ctx, id)
}

// Create places a new document in its graph's initial state.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (model.Document, error) {
	if err := e.validate.Struct(req); err != nil {
		return model.Document{}, newRequestError("create", err)
	}
	g, ok := e.graphs[req.Type]
	if !ok {
		return model.Document{}, &RequestError{Op: "create", Fields: map[string]string{"Type": "unknown document type " + string(req.Type)}}
	}

	id := req.ID
	if id == "" {
		id = e.ids.Generate()
	}

	unlock := e.locks.Lock(id)
	defer unlock()

	if req.ID != "" {
		_, err := e.store.LoadDocument(ctx, id)
		switch {
		case err == nil:
			return model.Document{}, duplicateID(id)
		case !errors.Is(err, model.ErrNotFound):
			return model.Document{}, fmt.Errorf("create %s: %w", id, err)
		}
	}

	caps := e.resolver.Resolve(ctx, req.ActorID, req.Type)
	if !g.CreateRequires.SatisfiedBy(caps) {
		ge := &GateError{
			Code:       CodeForbidden,
			Message:    "actor may not create " + string(req.Type),
			DocumentID: id,
			To:         g.Initial,
			ActorID:    req.ActorID,
			Details:    map[string]string{"required": g.CreateRequires.String(), "held": caps.String()},
		}
		stub := model.Document{ID: id, Type: req.Type, Payload: req.Payload}
		return model.Document{}, e.deny(ctx, stub, ge, model.Snapshot{After: req.Payload})
	}

	now := e.clock.Now().UTC()
	doc := model.Document{
		ID:        id,
		Type:      req.Type,
		State:     g.Initial,
		CreatedBy: req.ActorID,
		CreatedAt: now,
		Payload:   req.Payload.Clone(),
		Version:   1,
	}
	entry := model.AuditEntry{
		DocumentID:   id,
		DocumentType: req.Type,
		ActorID:      req.ActorID,
		Action:       model.ActionTransition,
		To:           g.Initial,
		Timestamp:    now,
		Snapshot:     model.Snapshot{Before: model.Payload{}, After: doc.Payload, Details: map[string]string{"edge": "create"}},
	}

	sealed, err := e.ledger.Commit(ctx, entry, func(ctx context.Context, seal model.SealFunc) (model.AuditEntry, error) {
		return e.store.CreateDocument(ctx, doc, seal)
	})
	if errors.Is(err, model.ErrDuplicate) {
		return model.Document{}, duplicateID(id)
	}
	if err != nil {
		return model.Document{}, fmt.Errorf("create %s: %w", id, err)
	}

	slog.Info("document created",
		"document_id", id,
		"document_type", req.Type,
		"actor", req.ActorID,
		"state", g.Initial,
	)
	e.events.Publish(notify.Event{
		Kind:         notify.KindTransitionApplied,
		DocumentID:   id,
		DocumentType: req.Type,
		To:           g.Initial,
		ActorID:      req.ActorID,
		AuditSeq:     sealed.Seq,
		At:           now,
	})
	return doc, nil
}

// deny records a denial entry and returns ge (joined with any audit failure).
func (e *Engine) deny(ctx context.Context, doc model.Document, ge *GateError, snap model.Snapshot) error {
	if snap.Before == nil {
		snap.Before = doc.Payload
	}
	if snap.After == nil {
		snap.After = doc.Payload
	}
	if len(ge.Details) > 0 {
		snap.Details = ge.Details
	}
	entry := model.AuditEntry{
		DocumentID:   doc.ID,
		DocumentType: doc.Type,
		ActorID:      ge.ActorID,
		Action:       model.ActionDenial,
		From:         ge.From,
		To:           ge.To,
		Denial:       string(ge.Code),
		Snapshot:     snap,
	}

	slog.Warn("request denied",
		"document_id", doc.ID,
		"actor", ge.ActorID,
		"code", ge.Code,
		"from", ge.From,
		"to", ge.To,
	)

	sealed, err := e.ledger.Append(ctx, entry)
	if err != nil {
		slog.Error("failed to audit denial", "document_id", doc.ID, "code", ge.Code, "error", err)
		return errors.Join(ge, fmt.Errorf("audit denial: %w", err))
	}
	ge.AuditSeq = sealed.Seq
	return ge
}

// concurrentModification builds the unaudited conflict error.
func concurrentModification(doc model.Document, actorID string, to model.State, expected int64) *GateError {
	return &GateError{
		Code:       CodeConcurrentModification,
		Message:    fmt.Sprintf("document changed since version %d; reload and retry", expected),
		DocumentID: doc.ID,
		From:       doc.State,
		To:         to,
		ActorID:    actorID,
		Details:    map[string]string{"stored_version": fmt.Sprint(doc.Version)},
	}
}
