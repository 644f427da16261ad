package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/roach88/gatehouse/internal/lockmap"
	"github.com/roach88/gatehouse/internal/model"
)

// ErrReasonRequired is returned when a rollback entry carries no reason.
var ErrReasonRequired = errors.New("rollback entries require a reason")

// Store is the persistence collaborator for audit entries.
type Store interface {
	// AppendAuditEntry reads the chain head of documentID, calls seal and
	// inserts the sealed entry, all in one store transaction.
	AppendAuditEntry(ctx context.Context, documentID string, seal model.SealFunc) (model.AuditEntry, error)
	QueryAuditTrail(ctx context.Context, documentID string) ([]model.AuditEntry, error)
}

// ApplyFunc persists an entry, typically together with a document mutation
// in one transaction. It must call seal exactly once, inside that
// transaction, and return what seal produced.
type ApplyFunc func(ctx context.Context, seal model.SealFunc) (model.AuditEntry, error)

// Ledger is the append-only audit ledger.
//
// Thread-safety: all methods are safe for concurrent use.
type Ledger struct {
	store Store
	locks *lockmap.Map
	ids   model.IDGenerator
	clock clockwork.Clock
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock sets the time source for entry timestamps.
func WithClock(c clockwork.Clock) Option {
	return func(l *Ledger) {
		l.clock = c
	}
}

// WithIDGenerator sets the entry ID generator.
func WithIDGenerator(g model.IDGenerator) Option {
	return func(l *Ledger) {
		l.ids = g
	}
}

// New creates a ledger over store. Sequence numbers are allocated by the
// store, so any number of ledgers may share one.
func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store: store,
		locks: lockmap.New(),
		ids:   model.UUIDv7Generator{},
		clock: clockwork.NewRealClock(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Append seals and durably stores an entry. The stored entry is returned.
func (l *Ledger) Append(ctx context.Context, entry model.AuditEntry) (model.AuditEntry, error) {
	return l.Commit(ctx, entry, func(ctx context.Context, seal model.SealFunc) (model.AuditEntry, error) {
		return l.store.AppendAuditEntry(ctx, entry.DocumentID, seal)
	})
}

// Commit prepares an entry and passes its seal function to apply, which
// must persist the sealed entry. Seq and PrevHash are only known inside
// the store transaction. The document stays locked in this process until
// apply returns.
func (l *Ledger) Commit(ctx context.Context, entry model.AuditEntry, apply ApplyFunc) (model.AuditEntry, error) {
	if err := validate(entry); err != nil {
		return model.AuditEntry{}, err
	}

	unlock := l.locks.Lock(entry.DocumentID)
	defer unlock()

	if entry.ID == "" {
		entry.ID = l.ids.Generate()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.clock.Now()
	}
	entry.Timestamp = entry.Timestamp.UTC()

	sealed, err := apply(ctx, func(head model.ChainHead) (model.AuditEntry, error) {
		return seal(entry, head)
	})
	if err != nil {
		return model.AuditEntry{}, err
	}

	slog.Debug("audit entry appended",
		"document_id", sealed.DocumentID,
		"action", sealed.Action,
		"seq", sealed.Seq,
		"hash", sealed.Hash,
	)
	return sealed, nil
}

// QueryByDocument returns a document's entries in append order, oldest first.
func (l *Ledger) QueryByDocument(ctx context.Context, documentID string) ([]model.AuditEntry, error) {
	entries, err := l.store.QueryAuditTrail(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("ledger: query %s: %w", documentID, err)
	}
	return entries, nil
}

// seal places entry at head and computes its chain hash.
func seal(entry model.AuditEntry, head model.ChainHead) (model.AuditEntry, error) {
	entry.Seq = head.Seq
	entry.PrevHash = head.PrevHash
	hash, err := model.AuditHash(entry)
	if err != nil {
		return model.AuditEntry{}, fmt.Errorf("ledger: seal: %w", err)
	}
	entry.Hash = hash
	return entry, nil
}

func validate(entry model.AuditEntry) error {
	if entry.DocumentID == "" {
		return errors.New("ledger: entry has no document id")
	}
	switch entry.Action {
	case model.ActionTransition, model.ActionDenial, model.ActionAmend:
	case model.ActionRollback:
		if entry.Reason == nil || *entry.Reason == "" {
			return ErrReasonRequired
		}
	default:
		return fmt.Errorf("ledger: unknown action %q", entry.Action)
	}
	return nil
}
