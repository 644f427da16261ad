package workflow

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gatehouse/internal/escalation"
	"github.com/roach88/gatehouse/internal/model"
	"github.com/roach88/gatehouse/internal/notify"
	"github.com/roach88/gatehouse/internal/roles"
	"github.com/roach88/gatehouse/internal/store"
	"github.com/roach88/gatehouse/internal/variance"
)

var epoch = time.Date(2026, 3, 2, 7, 0, 0, 0, time.UTC)

const (
	stDraft    model.State = "Draft"
	stPending  model.State = "PendingApproval"
	stApproved model.State = "Approved"
	stConvert  model.State = "Converted"
	stRejected model.State = "Rejected"

	stTechReview model.State = "AwaitingTechnicalReview"
	stFrontDesk  model.State = "AwaitingFrontDeskValidation"
	stFinalized  model.State = "Finalized"

	stSubmitted model.State = "Submitted"
	stEmergency model.State = "EmergencySubmitted"
	stAccepted  model.State = "Accepted"
	stDelivered model.State = "Delivered"
)

func quoteGraph() *Graph {
	return &Graph{
		Type:     model.DocQuote,
		Initial:  stDraft,
		States:   []model.State{stDraft, stPending, stApproved, stConvert, stRejected},
		Terminal: []model.State{stConvert, stRejected},
		Edges: []Edge{
			{From: stDraft, To: stPending, Name: "submit", Requires: roles.RequireAll(roles.CapSubmit)},
			{From: stPending, To: stApproved, Name: "approve", Requires: roles.RequireAll(roles.CapApproveFinancial), ForbidSelfApproval: true, Locks: true},
			{From: stPending, To: stDraft, Name: "send_back", Requires: roles.RequireAll(roles.CapApproveFinancial)},
			{From: stPending, To: stRejected, Name: "reject", Requires: roles.RequireAll(roles.CapReject)},
			{
				From: stApproved, To: stPending, Name: "reopen",
				Requires: roles.RequireAll(roles.CapReopen).Or(roles.RequireAll(roles.CapDocumentCreator, roles.CapSubmit)),
				Rollback: true, Unlocks: true,
			},
			{From: stApproved, To: stConvert, Name: "convert", Requires: roles.RequireAll(roles.CapConvert), KeepsLock: true},
			{From: stApproved, To: stRejected, Name: "void", Requires: roles.RequireAll(roles.CapReject)},
		},
		CreateRequires: roles.RequireAll(roles.CapCreate),
		AmendRequires:  roles.RequireAny(roles.CapAmend, roles.CapDocumentCreator),
	}
}

func receptionGraph() *Graph {
	return &Graph{
		Type:     model.DocMaterialReception,
		Initial:  stTechReview,
		States:   []model.State{stTechReview, stFrontDesk, stFinalized, stRejected},
		Terminal: []model.State{stFinalized, stRejected},
		Edges: []Edge{
			{
				From: stTechReview, To: stFrontDesk, Name: "technical_review",
				Requires:              roles.RequireAll(roles.CapApproveTechnical),
				RequiresVarianceCheck: true,
				Escalation:            "front_desk_validation",
			},
			{
				From: stTechReview, To: stFinalized, Name: "front_desk_validation_early",
				Blocked: true, BlockedReason: "front desk validation requires technical review first",
			},
			{From: stFrontDesk, To: stFinalized, Name: "front_desk_validation", Requires: roles.RequireAll(roles.CapValidateFrontDesk), Locks: true},
			{From: stTechReview, To: stRejected, Name: "reject_technical", Requires: roles.RequireAll(roles.CapReject)},
			{From: stFrontDesk, To: stRejected, Name: "reject_front_desk", Requires: roles.RequireAll(roles.CapReject)},
		},
		Thresholds: variance.Table{
			"cement":   {Warning: decimal.NewFromInt(2), Critical: decimal.NewFromInt(5), Mode: model.ModeRelative},
			"additive": {Warning: decimal.NewFromInt(5), Critical: decimal.NewFromInt(10), Mode: model.ModeRelative},
			"humidity": {Warning: decimal.NewFromInt(10), Critical: decimal.NewFromInt(15), Mode: model.ModeAbsolute},
		},
		CreateRequires: roles.RequireAll(roles.CapCreate),
		AmendRequires:  roles.RequireAll(roles.CapAmend),
	}
}

func orderGraph() *Graph {
	return &Graph{
		Type:     model.DocOrder,
		Initial:  stDraft,
		States:   []model.State{stDraft, stSubmitted, stEmergency, stAccepted, stDelivered},
		Terminal: []model.State{stDelivered},
		Edges: []Edge{
			{From: stDraft, To: stSubmitted, Name: "submit", Requires: roles.RequireAll(roles.CapSubmit)},
			{From: stDraft, To: stEmergency, Name: "submit_emergency", Requires: roles.RequireAll(roles.CapSubmit), Escalation: "emergency_order"},
			{From: stSubmitted, To: stAccepted, Name: "accept", Requires: roles.RequireAll(roles.CapApproveTechnical)},
			{From: stEmergency, To: stAccepted, Name: "accept_emergency", Requires: roles.RequireAll(roles.CapApproveTechnical), RequiresClosedEscalations: true},
			{From: stAccepted, To: stDelivered, Name: "deliver", Requires: roles.RequireAll(roles.CapConvert), Locks: true},
		},
		CreateRequires: roles.RequireAll(roles.CapCreate),
	}
}

func testPolicy() *roles.Policy {
	p := roles.NewPolicy()
	p.Grant("sales", roles.AnyDocumentType, roles.CapCreate, roles.CapSubmit)
	p.Grant("finance_manager", model.DocQuote, roles.CapCreate, roles.CapSubmit, roles.CapApproveFinancial, roles.CapReject, roles.CapReopen, roles.CapConvert, roles.CapAmend)
	p.Grant("technician", model.DocMaterialReception, roles.CapCreate, roles.CapApproveTechnical, roles.CapReject, roles.CapAmend)
	p.Grant("technician", model.DocOrder, roles.CapApproveTechnical)
	p.Grant("front_desk", model.DocMaterialReception, roles.CapValidateFrontDesk, roles.CapReject)
	p.Grant("dispatcher", model.DocOrder, roles.CapConvert)
	return p
}

func testDirectory() *roles.StaticDirectory {
	return roles.NewStaticDirectory(
		model.Actor{ID: "alice", AssignedRoles: []string{"sales"}},
		model.Actor{ID: "bob", AssignedRoles: []string{"sales"}},
		model.Actor{ID: "carol", AssignedRoles: []string{"finance_manager"}},
		model.Actor{ID: "dave", AssignedRoles: []string{"technician"}},
		model.Actor{ID: "erin", AssignedRoles: []string{"front_desk"}},
		model.Actor{ID: "frank", AssignedRoles: []string{"dispatcher"}},
	)
}

var testEscalationPolicies = []escalation.Policy{
	{
		Name: "front_desk_validation", ActionName: "validate_reception", AssignedRole: "front_desk",
		Window: 4 * time.Hour,
		Levels: []model.EscalationLevel{{Role: "quality_manager", After: 2 * time.Hour}},
	},
	{
		Name: "emergency_order", ActionName: "accept_emergency_order", AssignedRole: "technician",
		Window: 30 * time.Minute,
		Levels: []model.EscalationLevel{{Role: "plant_manager", After: time.Hour}},
	},
}

type fixture struct {
	engine    *Engine
	store     *store.Store
	clock     *clockwork.FakeClock
	events    *notify.Recorder
	scheduler *escalation.Scheduler
}

func setupEngine(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "workflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	clock := clockwork.NewFakeClockAt(epoch)
	rec := &notify.Recorder{}
	sched := escalation.NewScheduler(
		escalation.WithClock(clock),
		escalation.WithIDGenerator(model.NewSequentialGenerator("esc")),
		escalation.WithPublisher(rec),
		escalation.WithPersister(st),
		escalation.WithPolicies(testEscalationPolicies...),
	)

	eng, err := New(context.Background(), st,
		roles.NewResolver(testDirectory(), testPolicy()),
		[]*Graph{quoteGraph(), receptionGraph(), orderGraph()},
		WithClock(clock),
		WithIDGenerator(model.NewSequentialGenerator("id")),
		WithPublisher(rec),
		WithEscalations(sched),
	)
	require.NoError(t, err)
	return &fixture{engine: eng, store: st, clock: clock, events: rec, scheduler: sched}
}

func (f *fixture) create(t *testing.T, dt model.DocumentType, id, actor string, payload model.Payload) model.Document {
	t.Helper()
	doc, err := f.engine.Create(context.Background(), CreateRequest{ID: id, Type: dt, ActorID: actor, Payload: payload})
	require.NoError(t, err)
	return doc
}

func (f *fixture) move(t *testing.T, id string, to model.State, actor string) TransitionResult {
	t.Helper()
	res, err := f.engine.RequestTransition(context.Background(), TransitionRequest{DocumentID: id, To: to, ActorID: actor})
	require.NoError(t, err)
	return res
}

// approvedQuote creates q-1 by alice and drives it to Approved.
func (f *fixture) approvedQuote(t *testing.T) model.Document {
	t.Helper()
	f.create(t, model.DocQuote, "q-1", "alice", model.Payload{"total": "1200.00", "lines": 3})
	f.move(t, "q-1", stPending, "alice")
	return f.move(t, "q-1", stApproved, "carol").Document
}

func measurements(pairs ...any) []variance.Measurement {
	var out []variance.Measurement
	for i := 0; i+2 < len(pairs); i += 3 {
		out = append(out, variance.Measurement{
			Field:       pairs[i].(string),
			Theoretical: decimal.RequireFromString(pairs[i+1].(string)),
			Observed:    decimal.RequireFromString(pairs[i+2].(string)),
		})
	}
	return out
}

func countActions(trail []model.AuditEntry, action model.AuditAction) int {
	n := 0
	for _, e := range trail {
		if e.Action == action {
			n++
		}
	}
	return n
}
