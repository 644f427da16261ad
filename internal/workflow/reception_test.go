package workflow

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gatehouse/internal/model"
	"github.com/roach88/gatehouse/internal/notify"
)

func TestVarianceBlocked_ThenJustified(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	f.create(t, model.DocMaterialReception, "r-1", "dave", model.Payload{"supplier": "Aridos Norte", "tonnes": "24.5"})

	humid := measurements("humidity", "0", "18")

	_, err := f.engine.RequestTransition(ctx, TransitionRequest{
		DocumentID: "r-1", To: stFrontDesk, ActorID: "dave", Measurements: humid,
	})
	var ge *GateError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, CodeVarianceBlocked, ge.Code)
	assert.Equal(t, "humidity", ge.Details["critical_fields"])

	trail, err := f.engine.Trail(ctx, "r-1")
	require.NoError(t, err)
	denial := trail[len(trail)-1]
	assert.Equal(t, model.ActionDenial, denial.Action)
	require.Len(t, denial.Snapshot.Variance, 1)
	assert.Equal(t, model.BandCritical, denial.Snapshot.Variance[0].Band)

	res, err := f.engine.RequestTransition(ctx, TransitionRequest{
		DocumentID: "r-1", To: stFrontDesk, ActorID: "dave", Measurements: humid,
		Justification: "accepted with added drying step",
	})
	require.NoError(t, err)
	assert.Equal(t, stFrontDesk, res.Document.State)
	assert.True(t, res.Variance.HasCritical)

	snap := res.Entry.Snapshot
	require.Len(t, snap.Variance, 1)
	assert.Equal(t, model.BandCritical, snap.Variance[0].Band)
	assert.Equal(t, "18", snap.Variance[0].PercentDeviation.String())
	assert.Equal(t, "accepted with added drying step", snap.Justification)

	// The stored entry carries the same evidence.
	trail, err = f.engine.Trail(ctx, "r-1")
	require.NoError(t, err)
	last := trail[len(trail)-1]
	assert.Equal(t, model.ActionTransition, last.Action)
	assert.Equal(t, model.BandCritical, last.Snapshot.Variance[0].Band)
	assert.Equal(t, "accepted with added drying step", last.Snapshot.Justification)

	alerts := f.events.OfKind(notify.KindVarianceAlert)
	require.Len(t, alerts, 1)
	assert.Equal(t, "humidity", alerts[0].Alerts[0].Field)
}

func TestVarianceWarning_RecordedNotBlocking(t *testing.T) {
	f := setupEngine(t)
	f.create(t, model.DocMaterialReception, "r-1", "dave", nil)

	res, err := f.engine.RequestTransition(context.Background(), TransitionRequest{
		DocumentID: "r-1", To: stFrontDesk, ActorID: "dave",
		Measurements: measurements("cement", "1000", "1020", "additive", "10", "10.1"),
	})
	require.NoError(t, err)
	assert.False(t, res.Variance.HasCritical)
	assert.True(t, res.Variance.HasWarning)
	require.Len(t, res.Alerts, 1)
	assert.Equal(t, "cement", res.Alerts[0].Field)
	assert.Equal(t, model.BandWarning, res.Alerts[0].Band)

	require.Len(t, res.Entry.Snapshot.Variance, 2)
	assert.Equal(t, "additive", res.Entry.Snapshot.Variance[0].Field)
	assert.Equal(t, model.BandOK, res.Entry.Snapshot.Variance[0].Band)
}

func TestVarianceCheck_RequiresMeasurements(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	f.create(t, model.DocMaterialReception, "r-1", "dave", nil)

	_, err := f.engine.RequestTransition(ctx, TransitionRequest{DocumentID: "r-1", To: stFrontDesk, ActorID: "dave"})
	assert.True(t, IsRequestError(err))

	_, err = f.engine.RequestTransition(ctx, TransitionRequest{
		DocumentID: "r-1", To: stFrontDesk, ActorID: "dave",
		Measurements: measurements("sand", "100", "100"),
	})
	assert.True(t, IsRequestError(err))

	trail, err := f.engine.Trail(ctx, "r-1")
	require.NoError(t, err)
	assert.Len(t, trail, 1)
}

func TestVarianceCheck_CapabilityCheckedFirst(t *testing.T) {
	f := setupEngine(t)
	f.create(t, model.DocMaterialReception, "r-1", "dave", nil)

	_, err := f.engine.RequestTransition(context.Background(), TransitionRequest{
		DocumentID: "r-1", To: stFrontDesk, ActorID: "erin",
		Measurements: measurements("humidity", "2", "18"),
	})
	assert.Equal(t, CodeForbidden, CodeOf(err))
}

func TestFrontDeskCannotSkipTechnicalReview(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	f.create(t, model.DocMaterialReception, "r-1", "dave", nil)

	// erin holds validate_front_desk, but the edge is closed by graph shape.
	_, err := f.engine.RequestTransition(ctx, TransitionRequest{DocumentID: "r-1", To: stFinalized, ActorID: "erin"})
	var ge *GateError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, CodeForbidden, ge.Code)
	assert.Equal(t, "true", ge.Details["blocked"])

	doc, err := f.engine.Get(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, stTechReview, doc.State)

	av, err := f.engine.AvailableTransitions(ctx, "r-1", "erin")
	require.NoError(t, err)
	for _, a := range av {
		assert.NotEqual(t, stFinalized, a.To)
	}
}

func TestReception_EscalationScheduledAndArchived(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	f.create(t, model.DocMaterialReception, "r-1", "dave", nil)

	res, err := f.engine.RequestTransition(ctx, TransitionRequest{
		DocumentID: "r-1", To: stFrontDesk, ActorID: "dave",
		Measurements: measurements("cement", "1000", "1000"),
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.EscalationID)

	item, err := f.scheduler.Get(res.EscalationID)
	require.NoError(t, err)
	assert.Equal(t, "front_desk", item.AssignedRole)
	assert.Equal(t, string(stFrontDesk), item.Phase)
	assert.True(t, epoch.Add(4*time.Hour).Equal(item.Deadline))

	stored, err := f.store.LoadEscalation(ctx, res.EscalationID)
	require.NoError(t, err)
	assert.Equal(t, model.EscalationPending, stored.Status)

	require.NoError(t, f.scheduler.Acknowledge(ctx, res.EscalationID))
	require.NoError(t, f.scheduler.Complete(ctx, res.EscalationID))

	done, err := f.engine.RequestTransition(ctx, TransitionRequest{DocumentID: "r-1", To: stFinalized, ActorID: "erin"})
	require.NoError(t, err)
	require.Len(t, done.Archived, 1)
	assert.Equal(t, model.EscalationCompleted, done.Archived[0].Status)
	assert.Empty(t, f.scheduler.Items("r-1"))
	assert.True(t, done.Document.Locked())
}

func TestReception_TerminalWithOpenItemMarksFailed(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	f.create(t, model.DocMaterialReception, "r-1", "dave", nil)
	res, err := f.engine.RequestTransition(ctx, TransitionRequest{
		DocumentID: "r-1", To: stFrontDesk, ActorID: "dave",
		Measurements: measurements("cement", "1000", "1000"),
	})
	require.NoError(t, err)

	rejected, err := f.engine.RequestTransition(ctx, TransitionRequest{DocumentID: "r-1", To: stRejected, ActorID: "erin"})
	require.NoError(t, err)
	require.Len(t, rejected.Archived, 1)
	assert.Equal(t, model.EscalationFailed, rejected.Archived[0].Status)

	stored, err := f.store.LoadEscalation(ctx, res.EscalationID)
	require.NoError(t, err)
	assert.Equal(t, model.EscalationFailed, stored.Status)
}

func TestEmergencyOrder_ClosedEscalationGuard(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	f.create(t, model.DocOrder, "o-1", "alice", model.Payload{"m3": "12"})

	res := f.move(t, "o-1", stEmergency, "alice")
	require.NotEmpty(t, res.EscalationID)

	_, err := f.engine.RequestTransition(ctx, TransitionRequest{DocumentID: "o-1", To: stAccepted, ActorID: "dave"})
	var ge *GateError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, CodeForbidden, ge.Code)
	assert.Equal(t, res.EscalationID, ge.Details["open_escalations"])

	// Nobody accepts within the window.
	f.clock.Advance(31 * time.Minute)
	fired, err := f.scheduler.Sweep(ctx)
	require.NoError(t, err)
	require.Len(t, fired, 1)
	_, err = f.scheduler.Sweep(ctx)
	require.NoError(t, err)

	escalated := f.events.OfKind(notify.KindEscalationFired)
	require.Len(t, escalated, 1)
	assert.Equal(t, "plant_manager", escalated[0].RecipientRole)
	assert.Equal(t, "o-1", escalated[0].DocumentID)

	require.NoError(t, f.scheduler.Complete(ctx, res.EscalationID))
	f.move(t, "o-1", stAccepted, "dave")

	delivered := f.move(t, "o-1", stDelivered, "frank")
	require.Len(t, delivered.Archived, 1)
	assert.Equal(t, model.EscalationCompleted, delivered.Archived[0].Status)
}

func TestEvents_TransitionAppliedPerCommit(t *testing.T) {
	f := setupEngine(t)
	f.approvedQuote(t)

	applied := f.events.OfKind(notify.KindTransitionApplied)
	require.Len(t, applied, 3)
	assert.Equal(t, stApproved, applied[2].To)
	assert.Equal(t, "carol", applied[2].ActorID)
	assert.Positive(t, applied[2].AuditSeq)
}
