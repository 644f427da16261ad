package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/roach88/gatehouse/internal/model"
)

// Amend merges a patch into an unlocked document's payload.
// On a locked document it is denied DOCUMENT_LOCKED; the lock can only be
// lifted by a rollback edge.
func (e *Engine) Amend(ctx context.Context, req AmendRequest) (model.Document, error) {
	if err := e.validate.Struct(req); err != nil {
		return model.Document{}, newRequestError("amend", err)
	}

	unlock := e.locks.Lock(req.DocumentID)
	defer unlock()

	doc, err := e.store.LoadDocument(ctx, req.DocumentID)
	if err != nil {
		return model.Document{}, fmt.Errorf("amend: %w", err)
	}
	if req.ExpectedVersion != 0 && req.ExpectedVersion != doc.Version {
		return model.Document{}, concurrentModification(doc, req.ActorID, doc.State, req.ExpectedVersion)
	}
	g, ok := e.graphs[doc.Type]
	if !ok {
		return model.Document{}, fmt.Errorf("amend %s: no graph for document type %s", doc.ID, doc.Type)
	}

	proposed := doc.Payload.Merge(req.Patch)
	ge := &GateError{
		DocumentID: doc.ID,
		From:       doc.State,
		To:         doc.State,
		ActorID:    req.ActorID,
	}
	switch caps := e.capabilities(ctx, doc, req.ActorID); {
	case doc.Locked():
		ge.Code = CodeDocumentLocked
		ge.Message = "payload of a locked document cannot change"
		ge.Details = map[string]string{"locked_at": model.FormatTime(*doc.LockedAt)}
	case !g.AmendRequires.SatisfiedBy(caps):
		ge.Code = CodeForbidden
		ge.Message = "actor may not amend this document"
		ge.Details = map[string]string{"required": g.AmendRequires.String(), "held": caps.String()}
	default:
		ge = nil
	}
	if ge != nil {
		return model.Document{}, e.deny(ctx, doc, ge, model.Snapshot{Before: doc.Payload, After: proposed})
	}

	now := e.clock.Now().UTC()
	next := doc.Clone()
	next.Payload = proposed
	next.Version = doc.Version + 1

	entry := model.AuditEntry{
		DocumentID:   doc.ID,
		DocumentType: doc.Type,
		ActorID:      req.ActorID,
		Action:       model.ActionAmend,
		From:         doc.State,
		To:           doc.State,
		Reason:       model.StringPtr(strings.TrimSpace(req.Reason)),
		Timestamp:    now,
		Snapshot:     model.Snapshot{Before: doc.Payload, After: next.Payload},
	}
	_, err = e.ledger.Commit(ctx, entry, func(ctx context.Context, seal model.SealFunc) (model.AuditEntry, error) {
		return e.store.CommitTransition(ctx, next, doc.Version, seal)
	})
	if errors.Is(err, model.ErrConcurrentModification) {
		return model.Document{}, concurrentModification(doc, req.ActorID, doc.State, doc.Version)
	}
	if err != nil {
		return model.Document{}, fmt.Errorf("amend %s: %w", doc.ID, err)
	}

	slog.Info("document amended",
		"document_id", doc.ID,
		"actor", req.ActorID,
		"fields", len(req.Patch),
		"version", next.Version,
	)
	return next, nil
}

// Available describes one edge an actor could request right now.
type Available struct {
	To   model.State
	Name string
	// NeedsJustification is set for rollbacks.
	NeedsJustification bool
	// NeedsMeasurements is set for variance-checked edges.
	NeedsMeasurements bool
}

// AvailableTransitions lists the edges out of the document's current state
// that pass the shape, lock, capability and self-approval gates for actorID.
// It is read-only and writes no audit entries.
func (e *Engine) AvailableTransitions(ctx context.Context, documentID, actorID string) ([]Available, error) {
	doc, err := e.store.LoadDocument(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("available transitions: %w", err)
	}
	g, ok := e.graphs[doc.Type]
	if !ok {
		return nil, fmt.Errorf("available transitions %s: no graph for document type %s", doc.ID, doc.Type)
	}

	caps := e.capabilities(ctx, doc, actorID)
	var out []Available
	for _, edge := range g.EdgesFrom(doc.State) {
		if edge.Blocked {
			continue
		}
		if doc.Locked() && !edge.Rollback && !edge.KeepsLock {
			continue
		}
		if !edge.Requires.SatisfiedBy(caps) {
			continue
		}
		if edge.ForbidSelfApproval && actorID == doc.CreatedBy {
			continue
		}
		if edge.RequiresClosedEscalations && e.escalations != nil && e.escalations.HasOpen(doc.ID) {
			continue
		}
		out = append(out, Available{
			To:                 edge.To,
			Name:               edge.label(),
			NeedsJustification: edge.Rollback,
			NeedsMeasurements:  edge.RequiresVarianceCheck,
		})
	}
	return out, nil
}
