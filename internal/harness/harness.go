package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/roach88/gatehouse/internal/config"
	"github.com/roach88/gatehouse/internal/escalation"
	"github.com/roach88/gatehouse/internal/ledger"
	"github.com/roach88/gatehouse/internal/model"
	"github.com/roach88/gatehouse/internal/notify"
	"github.com/roach88/gatehouse/internal/roles"
	"github.com/roach88/gatehouse/internal/store"
	"github.com/roach88/gatehouse/internal/testutil"
	"github.com/roach88/gatehouse/internal/variance"
	"github.com/roach88/gatehouse/internal/workflow"
)

// Harness holds the collaborators of one run.
type Harness struct {
	store     *store.Store
	engine    *workflow.Engine
	scheduler *escalation.Scheduler
	clock     *clockwork.FakeClock
	events    *notify.Recorder
}

// Run executes a scenario on a fresh in-memory store.
//
// A returned error means the run could not be carried out (bad config,
// storage failure). Mismatched outcomes and failed assertions are reported
// in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	ctx := context.Background()

	bundle, err := loadBundle(scenario.Config)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	var start time.Time
	if scenario.Start != "" {
		start, _ = time.Parse(time.RFC3339, scenario.Start)
	}
	clock := testutil.NewClock(start)
	ids := testutil.NewIDs()
	rec := &notify.Recorder{}

	sched := escalation.NewScheduler(
		escalation.WithClock(clock),
		escalation.WithIDGenerator(ids.Escalations),
		escalation.WithPublisher(rec),
		escalation.WithPersister(st),
		escalation.WithPolicies(bundle.Escalations...),
	)
	eng, err := workflow.New(ctx, st,
		roles.NewResolver(bundle.Directory, bundle.Policy),
		bundle.Graphs,
		workflow.WithClock(clock),
		workflow.WithIDGenerator(ids.Documents),
		workflow.WithPublisher(rec),
		workflow.WithEscalations(sched),
	)
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}

	h := &Harness{store: st, engine: eng, scheduler: sched, clock: clock, events: rec}
	result := NewResult()

	for i, step := range scenario.Steps {
		ev, err := h.execute(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		ev.Step = i
		result.Trace = append(result.Trace, ev)

		want := step.Expect
		if want == "" {
			want = OutcomeOK
		}
		if ev.Outcome != want {
			result.AddError(fmt.Sprintf("step %d (%s %s): expected %s, got %s", i, ev.Op, ev.Document, want, ev.Outcome))
		}
		slog.Debug("scenario step", "scenario", scenario.Name, "step", i, "op", ev.Op, "outcome", ev.Outcome)
	}

	if err := h.collect(ctx, result); err != nil {
		return nil, err
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func loadBundle(path string) (*config.Bundle, error) {
	if path == "" {
		return config.Default()
	}
	return config.Load(path)
}

// execute runs one step. Business outcomes are returned in the trace event;
// only infrastructure failures are errors.
func (h *Harness) execute(ctx context.Context, step Step) (TraceEvent, error) {
	switch {
	case step.Create != nil:
		c := step.Create
		_, err := h.engine.Create(ctx, workflow.CreateRequest{
			ID:      c.ID,
			Type:    model.DocumentType(c.Type),
			ActorID: c.Actor,
			Payload: model.Payload(c.Payload),
		})
		return outcome(TraceEvent{Op: "create", Document: c.ID, Actor: c.Actor}, err)

	case step.Transition != nil:
		t := step.Transition
		ms, err := measurements(t.Measurements)
		if err != nil {
			return TraceEvent{}, err
		}
		res, err := h.engine.RequestTransition(ctx, workflow.TransitionRequest{
			DocumentID:      t.Document,
			To:              model.State(t.To),
			ActorID:         t.Actor,
			Justification:   t.Justification,
			Measurements:    ms,
			Payload:         model.Payload(t.Payload),
			ExpectedVersion: t.ExpectedVersion,
		})
		ev := TraceEvent{Op: "transition", Document: t.Document, Actor: t.Actor, To: t.To}
		if err == nil && res.EscalationID != "" {
			ev.Detail = "scheduled " + res.EscalationID
		}
		return outcome(ev, err)

	case step.Amend != nil:
		a := step.Amend
		_, err := h.engine.Amend(ctx, workflow.AmendRequest{
			DocumentID: a.Document,
			ActorID:    a.Actor,
			Patch:      model.Payload(a.Patch),
			Reason:     a.Reason,
		})
		return outcome(TraceEvent{Op: "amend", Document: a.Document, Actor: a.Actor}, err)

	case step.Advance != "":
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return TraceEvent{}, err
		}
		h.clock.Advance(d)
		return TraceEvent{Op: "advance", Outcome: OutcomeOK, Detail: step.Advance}, nil

	case step.Sweep:
		fired, err := h.scheduler.Sweep(ctx)
		if err != nil {
			return TraceEvent{}, err
		}
		return TraceEvent{Op: "sweep", Outcome: OutcomeOK, Detail: fmt.Sprintf("fired %d", len(fired))}, nil

	case step.Ack != nil:
		return h.escalate(ctx, "ack", step.Ack, h.scheduler.Acknowledge)
	case step.Complete != nil:
		return h.escalate(ctx, "complete", step.Complete, h.scheduler.Complete)
	case step.Cancel != nil:
		return h.escalate(ctx, "cancel", step.Cancel, h.scheduler.Cancel)
	}
	return TraceEvent{}, fmt.Errorf("step has no operation")
}

func (h *Harness) escalate(ctx context.Context, op string, s *EscalationStep, fn func(context.Context, string) error) (TraceEvent, error) {
	ev := TraceEvent{Op: op, Document: s.Document, Outcome: OutcomeOK}
	n := 0
	for _, item := range h.scheduler.OpenItems(s.Document) {
		if s.Action != "" && item.ActionName != s.Action {
			continue
		}
		if err := fn(ctx, item.ID); err != nil {
			return TraceEvent{}, err
		}
		n++
	}
	if n == 0 {
		ev.Outcome = "no_open_items"
	}
	ev.Detail = fmt.Sprintf("%d items", n)
	return ev, nil
}

// outcome classifies err into a trace outcome.
func outcome(ev TraceEvent, err error) (TraceEvent, error) {
	switch {
	case err == nil:
		ev.Outcome = OutcomeOK
	case workflow.IsRequestError(err):
		ev.Outcome = OutcomeRequestError
		ev.Detail = err.Error()
	case workflow.CodeOf(err) != "":
		ev.Outcome = string(workflow.CodeOf(err))
	case errors.Is(err, model.ErrNotFound):
		ev.Outcome = "not_found"
	default:
		return TraceEvent{}, err
	}
	return ev, nil
}

func measurements(in []MeasurementStep) ([]variance.Measurement, error) {
	out := make([]variance.Measurement, 0, len(in))
	for _, m := range in {
		theo, err := decimal.NewFromString(m.Theoretical)
		if err != nil {
			return nil, fmt.Errorf("measurement %s theoretical: %w", m.Field, err)
		}
		obs, err := decimal.NewFromString(m.Observed)
		if err != nil {
			return nil, fmt.Errorf("measurement %s observed: %w", m.Field, err)
		}
		out = append(out, variance.Measurement{Field: m.Field, Theoretical: theo, Observed: obs})
	}
	return out, nil
}

// collect fills the final views of the result.
func (h *Harness) collect(ctx context.Context, result *Result) error {
	docs, err := h.store.ListDocuments(ctx, "")
	if err != nil {
		return err
	}
	ids := make([]string, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, d.ID)
		result.Documents = append(result.Documents, DocumentView{
			ID:      d.ID,
			Type:    string(d.Type),
			State:   string(d.State),
			Locked:  d.Locked(),
			Version: d.Version,
			Payload: d.Payload,
		})
	}
	// Denied creations leave a trail without a document row.
	for _, ev := range result.Trace {
		if ev.Op == "create" && ev.Document != "" && !slices.Contains(ids, ev.Document) {
			ids = append(ids, ev.Document)
		}
	}
	sort.Strings(ids)

	for _, id := range ids {
		trail, err := h.engine.Trail(ctx, id)
		if err != nil {
			return err
		}
		if len(trail) == 0 {
			continue
		}
		result.Audit[id] = auditViews(trail)
		if err := ledger.VerifyChain(id, trail); err != nil {
			if result.ChainErrors == nil {
				result.ChainErrors = map[string]string{}
			}
			result.ChainErrors[id] = err.Error()
		}
		items, err := h.store.ListEscalationsByDocument(ctx, id)
		if err != nil {
			return err
		}
		for _, item := range items {
			result.Escalations = append(result.Escalations, EscalationView{
				ID:             item.ID,
				Document:       item.DocumentID,
				Action:         item.ActionName,
				Status:         string(item.Status),
				AssignedRole:   item.AssignedRole,
				EscalateToRole: item.EscalateToRole,
				Level:          item.Level,
				Deadline:       model.FormatTime(item.Deadline),
			})
		}
	}

	for _, ev := range h.events.Events() {
		result.Events = append(result.Events, EventView{
			Kind:          string(ev.Kind),
			Document:      ev.DocumentID,
			From:          string(ev.From),
			To:            string(ev.To),
			Recipient:     ev.Recipient,
			RecipientRole: ev.RecipientRole,
		})
	}
	return nil
}

func auditViews(trail []model.AuditEntry) []AuditView {
	out := make([]AuditView, len(trail))
	for i, e := range trail {
		v := AuditView{
			Seq:           e.Seq,
			Actor:         e.ActorID,
			Action:        string(e.Action),
			From:          string(e.From),
			To:            string(e.To),
			Denial:        e.Denial,
			Justification: e.Snapshot.Justification,
			Details:       e.Snapshot.Details,
		}
		if e.Reason != nil {
			v.Reason = *e.Reason
		}
		for _, c := range e.Snapshot.Variance {
			v.Variance = append(v.Variance, fmt.Sprintf("%s %s %s", c.Field, c.PercentDeviation.String(), c.Band))
		}
		out[i] = v
	}
	return out
}
