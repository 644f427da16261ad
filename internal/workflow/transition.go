package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/gatehouse/internal/model"
	"github.com/roach88/gatehouse/internal/notify"
	"github.com/roach88/gatehouse/internal/roles"
	"github.com/roach88/gatehouse/internal/variance"
)

// RequestTransition evaluates the gates of the requested edge and applies it.
//
// Denials are audited and returned as *GateError. Malformed requests return
// *RequestError and are not audited. A version conflict returns a GateError
// with CodeConcurrentModification, also not audited.
func (e *Engine) RequestTransition(ctx context.Context, req TransitionRequest) (TransitionResult, error) {
	if err := e.validate.Struct(req); err != nil {
		return TransitionResult{}, newRequestError("transition", err)
	}

	unlock := e.locks.Lock(req.DocumentID)
	defer unlock()

	doc, err := e.store.LoadDocument(ctx, req.DocumentID)
	if err != nil {
		return TransitionResult{}, fmt.Errorf("transition: %w", err)
	}
	if req.ExpectedVersion != 0 && req.ExpectedVersion != doc.Version {
		return TransitionResult{}, concurrentModification(doc, req.ActorID, req.To, req.ExpectedVersion)
	}

	g, ok := e.graphs[doc.Type]
	if !ok {
		return TransitionResult{}, fmt.Errorf("transition %s: no graph for document type %s", doc.ID, doc.Type)
	}

	edge, report, ge, err := e.admit(ctx, g, doc, req)
	if err != nil {
		return TransitionResult{}, err
	}
	if ge != nil {
		return TransitionResult{}, e.deny(ctx, doc, ge, model.Snapshot{
			Variance:      report.Checks,
			Justification: req.Justification,
		})
	}

	return e.apply(ctx, g, edge, doc, req, report)
}

// admit runs the gates in order. It returns a GateError for the first gate
// that fails, or a plain error for malformed input.
func (e *Engine) admit(ctx context.Context, g *Graph, doc model.Document, req TransitionRequest) (*Edge, variance.Report, *GateError, error) {
	denied := func(code Code, msg string, details map[string]string) *GateError {
		return &GateError{
			Code:       code,
			Message:    msg,
			DocumentID: doc.ID,
			From:       doc.State,
			To:         req.To,
			ActorID:    req.ActorID,
			Details:    details,
		}
	}
	var report variance.Report

	// 1. Graph shape.
	edge, ok := g.Edge(doc.State, req.To)
	if !ok {
		return nil, report, denied(CodeInvalidTransition, fmt.Sprintf("no edge %s -> %s for %s", doc.State, req.To, doc.Type), nil), nil
	}
	if edge.Blocked {
		msg := edge.BlockedReason
		if msg == "" {
			msg = "edge " + edge.label() + " is not admissible"
		}
		return nil, report, denied(CodeForbidden, msg, map[string]string{"edge": edge.label(), "blocked": "true"}), nil
	}

	// 2. Lock.
	if doc.Locked() && !edge.Rollback {
		switch {
		case !edge.KeepsLock:
			return nil, report, denied(CodeDocumentLocked, "document is locked", map[string]string{
				"edge":      edge.label(),
				"locked_at": model.FormatTime(*doc.LockedAt),
			}), nil
		case len(req.Payload) > 0:
			return nil, report, denied(CodeDocumentLocked, "payload of a locked document cannot change", map[string]string{
				"edge":      edge.label(),
				"locked_at": model.FormatTime(*doc.LockedAt),
			}), nil
		}
	}

	// 3. Capability.
	caps := e.capabilities(ctx, doc, req.ActorID)
	if !edge.Requires.SatisfiedBy(caps) {
		return nil, report, denied(CodeForbidden, "actor lacks required capability", map[string]string{
			"edge":     edge.label(),
			"required": edge.Requires.String(),
			"held":     caps.String(),
		}), nil
	}

	// 4. Self-approval, independent of capability.
	if edge.ForbidSelfApproval && req.ActorID == doc.CreatedBy {
		return nil, report, denied(CodeSelfApprovalBlocked, "creator may not approve own document", map[string]string{
			"edge":       edge.label(),
			"created_by": doc.CreatedBy,
		}), nil
	}

	if edge.RequiresClosedEscalations && e.escalations != nil {
		if open := e.escalations.OpenItems(doc.ID); len(open) > 0 {
			ids := make([]string, len(open))
			for i, item := range open {
				ids[i] = item.ID
			}
			return nil, report, denied(CodeForbidden, "document has open escalation items", map[string]string{
				"edge":             edge.label(),
				"open_escalations": strings.Join(ids, ","),
			}), nil
		}
	}

	// 5. Variance.
	if edge.RequiresVarianceCheck {
		if len(req.Measurements) == 0 {
			return nil, report, nil, &RequestError{Op: "transition", Fields: map[string]string{
				"Measurements": "required by edge " + edge.label(),
			}}
		}
		r, err := variance.EvaluateAll(req.Measurements, g.Thresholds)
		if err != nil {
			return nil, report, nil, &RequestError{Op: "transition", Fields: map[string]string{"Measurements": err.Error()}}
		}
		report = r
		if report.HasCritical && !justified(req.Justification, edge.minJustification()) {
			fields := make([]string, 0, len(report.Critical()))
			for _, c := range report.Critical() {
				fields = append(fields, c.Field)
			}
			return nil, report, denied(CodeVarianceBlocked, "critical variance requires justification", map[string]string{
				"edge":            edge.label(),
				"critical_fields": strings.Join(fields, ","),
				"min_length":      strconv.Itoa(edge.minJustification()),
			}), nil
		}
	}

	// 6. Rollback justification.
	if edge.Rollback && !justified(req.Justification, edge.minJustification()) {
		return nil, report, denied(CodeJustificationRequired, "rollback requires a justification", map[string]string{
			"edge":       edge.label(),
			"min_length": strconv.Itoa(edge.minJustification()),
		}), nil
	}

	return edge, report, nil, nil
}

// capabilities resolves the actor and adds the creator flag when it applies.
func (e *Engine) capabilities(ctx context.Context, doc model.Document, actorID string) roles.CapabilitySet {
	caps := e.resolver.Resolve(ctx, actorID, doc.Type)
	if actorID == doc.CreatedBy {
		caps = caps.With(roles.CapDocumentCreator)
	}
	return caps
}

// apply commits an admitted transition and runs its side effects.
func (e *Engine) apply(ctx context.Context, g *Graph, edge *Edge, doc model.Document, req TransitionRequest, report variance.Report) (TransitionResult, error) {
	now := e.clock.Now().UTC()

	next := doc.Clone()
	next.State = edge.To
	if len(req.Payload) > 0 {
		next.Payload = doc.Payload.Merge(req.Payload)
	}
	switch {
	case edge.Locks:
		next.LockedAt = &now
	case edge.Unlocks:
		next.LockedAt = nil
	}
	next.Version = doc.Version + 1

	action := model.ActionTransition
	if edge.Rollback {
		action = model.ActionRollback
	}
	entry := model.AuditEntry{
		DocumentID:   doc.ID,
		DocumentType: doc.Type,
		ActorID:      req.ActorID,
		Action:       action,
		From:         doc.State,
		To:           edge.To,
		Reason:       model.StringPtr(strings.TrimSpace(req.Justification)),
		Timestamp:    now,
		Snapshot: model.Snapshot{
			Before:        doc.Payload,
			After:         next.Payload,
			Variance:      report.Checks,
			Justification: req.Justification,
			Details:       map[string]string{"edge": edge.label()},
		},
	}

	sealed, err := e.ledger.Commit(ctx, entry, func(ctx context.Context, seal model.SealFunc) (model.AuditEntry, error) {
		return e.store.CommitTransition(ctx, next, doc.Version, seal)
	})
	if errors.Is(err, model.ErrConcurrentModification) {
		slog.Warn("transition lost optimistic race", "document_id", doc.ID, "version", doc.Version)
		return TransitionResult{}, concurrentModification(doc, req.ActorID, req.To, doc.Version)
	}
	if err != nil {
		return TransitionResult{}, fmt.Errorf("transition %s: %w", doc.ID, err)
	}

	result := TransitionResult{
		Document: next,
		Entry:    sealed,
		Variance: report,
		Alerts:   append(report.Critical(), report.Warnings()...),
	}

	slog.Info("transition applied",
		"document_id", doc.ID,
		"actor", req.ActorID,
		"action", action,
		"from", doc.State,
		"to", edge.To,
		"version", next.Version,
	)

	e.afterCommit(ctx, g, edge, next, &result)
	e.publish(doc, next, req, &result, now)
	return result, nil
}

// afterCommit schedules or archives escalation items. The transition is
// already durable; failures here are logged, not returned.
func (e *Engine) afterCommit(ctx context.Context, g *Graph, edge *Edge, doc model.Document, result *TransitionResult) {
	if e.escalations == nil {
		return
	}
	if g.IsTerminal(doc.State) {
		archived, err := e.escalations.ArchiveDocument(ctx, doc.ID)
		if err != nil {
			slog.Error("failed to archive escalations", "document_id", doc.ID, "error", err)
		}
		result.Archived = archived
		return
	}
	if edge.Escalation != "" {
		id, err := e.escalations.ScheduleFor(ctx, doc.ID, edge.Escalation, string(doc.State))
		if err != nil {
			slog.Error("failed to schedule escalation",
				"document_id", doc.ID,
				"policy", edge.Escalation,
				"error", err,
			)
			return
		}
		result.EscalationID = id
	}
}

func (e *Engine) publish(before, after model.Document, req TransitionRequest, result *TransitionResult, now time.Time) {
	e.events.Publish(notify.Event{
		Kind:         notify.KindTransitionApplied,
		DocumentID:   after.ID,
		DocumentType: after.Type,
		From:         before.State,
		To:           after.State,
		ActorID:      req.ActorID,
		Alerts:       result.Alerts,
		EscalationID: result.EscalationID,
		AuditSeq:     result.Entry.Seq,
		At:           now,
	})

	if result.Rollback() {
		e.events.Publish(notify.Event{
			Kind:         notify.KindRollbackApplied,
			DocumentID:   after.ID,
			DocumentType: after.Type,
			From:         before.State,
			To:           after.State,
			ActorID:      req.ActorID,
			Recipient:    after.CreatedBy,
			Reason:       strings.TrimSpace(req.Justification),
			AuditSeq:     result.Entry.Seq,
			At:           now,
		})
	}

	if len(result.Alerts) > 0 {
		e.events.Publish(notify.Event{
			Kind:         notify.KindVarianceAlert,
			DocumentID:   after.ID,
			DocumentType: after.Type,
			From:         before.State,
			To:           after.State,
			ActorID:      req.ActorID,
			Alerts:       result.Alerts,
			Reason:       strings.TrimSpace(req.Justification),
			AuditSeq:     result.Entry.Seq,
			At:           now,
		})
	}
}
