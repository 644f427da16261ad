package workflow

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gatehouse/internal/escalation"
	"github.com/roach88/gatehouse/internal/model"
	"github.com/roach88/gatehouse/internal/notify"
	"github.com/roach88/gatehouse/internal/roles"
)

func TestCreate(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	doc := f.create(t, model.DocQuote, "q-1", "alice", model.Payload{"total": "1200.00"})
	assert.Equal(t, stDraft, doc.State)
	assert.Equal(t, "alice", doc.CreatedBy)
	assert.Equal(t, int64(1), doc.Version)
	assert.True(t, epoch.Equal(doc.CreatedAt))

	stored, err := f.engine.Get(ctx, "q-1")
	require.NoError(t, err)
	assert.Equal(t, doc.State, stored.State)

	trail, err := f.engine.Trail(ctx, "q-1")
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, model.ActionTransition, trail[0].Action)
	assert.Equal(t, model.State(""), trail[0].From)
	assert.Equal(t, stDraft, trail[0].To)

	assert.Len(t, f.events.OfKind(notify.KindTransitionApplied), 1)
}

func TestCreate_GeneratesID(t *testing.T) {
	f := setupEngine(t)
	doc, err := f.engine.Create(context.Background(), CreateRequest{Type: model.DocQuote, ActorID: "alice"})
	require.NoError(t, err)
	assert.NotEmpty(t, doc.ID)
	assert.NotNil(t, doc.Payload)
}

func TestCreate_ForbiddenIsAudited(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	_, err := f.engine.Create(ctx, CreateRequest{ID: "q-x", Type: model.DocQuote, ActorID: "erin"})
	require.Error(t, err)
	assert.Equal(t, CodeForbidden, CodeOf(err))

	_, err = f.engine.Get(ctx, "q-x")
	assert.ErrorIs(t, err, model.ErrNotFound)

	trail, err := f.engine.Trail(ctx, "q-x")
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, model.ActionDenial, trail[0].Action)
	assert.Equal(t, string(CodeForbidden), trail[0].Denial)
}

func TestCreate_MalformedRequest(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	_, err := f.engine.Create(ctx, CreateRequest{Type: model.DocQuote})
	assert.True(t, IsRequestError(err))
	assert.False(t, IsDenial(err))

	_, err = f.engine.Create(ctx, CreateRequest{Type: "invoice", ActorID: "alice"})
	assert.True(t, IsRequestError(err))
}

func TestCreate_DuplicateIDIsRequestError(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	f.create(t, model.DocQuote, "q-1", "alice", model.Payload{"total": "1200.00"})

	_, err := f.engine.Create(ctx, CreateRequest{ID: "q-1", Type: model.DocQuote, ActorID: "alice"})
	require.Error(t, err)
	var re *RequestError
	require.ErrorAs(t, err, &re)
	assert.Contains(t, re.Fields["ID"], "already exists")
	assert.False(t, IsDenial(err))

	doc, err := f.engine.Get(ctx, "q-1")
	require.NoError(t, err)
	assert.Equal(t, "1200.00", doc.Payload["total"])

	trail, err := f.engine.Trail(ctx, "q-1")
	require.NoError(t, err)
	assert.Len(t, trail, 1)
}

// blindStore reports every document as missing, as if another process
// created it between the existence check and the insert.
type blindStore struct {
	Store
}

func (blindStore) LoadDocument(_ context.Context, id string) (model.Document, error) {
	return model.Document{}, fmt.Errorf("document %s: %w", id, model.ErrNotFound)
}

func TestCreate_DuplicateIDRaceIsRequestError(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	f.create(t, model.DocQuote, "q-1", "alice", nil)

	other, err := New(ctx, blindStore{f.store}, roles.NewResolver(testDirectory(), testPolicy()), []*Graph{quoteGraph()},
		WithClock(f.clock), WithIDGenerator(model.NewSequentialGenerator("other")))
	require.NoError(t, err)

	_, err = other.Create(ctx, CreateRequest{ID: "q-1", Type: model.DocQuote, ActorID: "alice"})
	assert.True(t, IsRequestError(err))

	trail, err := f.engine.Trail(ctx, "q-1")
	require.NoError(t, err)
	assert.Len(t, trail, 1)
}

func TestEnginesSharingStore_AuditEveryAttempt(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	other, err := New(ctx, f.store, roles.NewResolver(testDirectory(), testPolicy()), []*Graph{quoteGraph()},
		WithClock(f.clock), WithIDGenerator(model.NewSequentialGenerator("other")))
	require.NoError(t, err)

	f.create(t, model.DocQuote, "q-1", "alice", nil)
	_, err = other.Create(ctx, CreateRequest{ID: "q-2", Type: model.DocQuote, ActorID: "alice"})
	require.NoError(t, err)

	// Denials from both engines land on the same chain.
	_, err = other.RequestTransition(ctx, TransitionRequest{DocumentID: "q-1", To: stApproved, ActorID: "carol"})
	assert.Equal(t, CodeInvalidTransition, CodeOf(err))
	_, err = f.engine.RequestTransition(ctx, TransitionRequest{DocumentID: "q-1", To: stApproved, ActorID: "carol"})
	assert.Equal(t, CodeInvalidTransition, CodeOf(err))
	f.move(t, "q-1", stPending, "alice")

	trail, err := f.engine.Trail(ctx, "q-1")
	require.NoError(t, err)
	require.Len(t, trail, 4)
	assert.Equal(t, 2, countActions(trail, model.ActionDenial))
	require.NoError(t, other.Ledger().Verify(ctx, "q-1"))
	require.NoError(t, f.engine.Ledger().Verify(ctx, "q-2"))

	seqs := map[int64]bool{}
	for _, id := range []string{"q-1", "q-2"} {
		entries, err := f.engine.Trail(ctx, id)
		require.NoError(t, err)
		for _, e := range entries {
			assert.False(t, seqs[e.Seq], "seq %d handed out twice", e.Seq)
			seqs[e.Seq] = true
		}
	}
	assert.Len(t, seqs, 5)
}

func TestRequestTransition_HappyPath(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	f.create(t, model.DocQuote, "q-1", "alice", model.Payload{"total": "1200.00"})
	res := f.move(t, "q-1", stPending, "alice")
	assert.Equal(t, stPending, res.Document.State)
	assert.Equal(t, int64(2), res.Document.Version)
	assert.Nil(t, res.Document.LockedAt)

	f.clock.Advance(time.Hour)
	res = f.move(t, "q-1", stApproved, "carol")
	require.NotNil(t, res.Document.LockedAt)
	assert.True(t, epoch.Add(time.Hour).Equal(*res.Document.LockedAt))
	assert.Equal(t, model.ActionTransition, res.Entry.Action)
	assert.Equal(t, "approve", res.Entry.Snapshot.Details["edge"])

	stored, err := f.engine.Get(ctx, "q-1")
	require.NoError(t, err)
	assert.Equal(t, stApproved, stored.State)
	assert.True(t, stored.Locked())

	require.NoError(t, f.engine.Ledger().Verify(ctx, "q-1"))
}

func TestRequestTransition_UnknownDocument(t *testing.T) {
	f := setupEngine(t)
	_, err := f.engine.RequestTransition(context.Background(), TransitionRequest{DocumentID: "nope", To: stPending, ActorID: "alice"})
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.False(t, IsDenial(err))
}

func TestRequestTransition_MalformedNotAudited(t *testing.T) {
	f := setupEngine(t)
	f.create(t, model.DocQuote, "q-1", "alice", nil)

	_, err := f.engine.RequestTransition(context.Background(), TransitionRequest{DocumentID: "q-1", ActorID: "alice"})
	var re *RequestError
	require.ErrorAs(t, err, &re)
	assert.Contains(t, re.Fields, "TransitionRequest.To")

	trail, err := f.engine.Trail(context.Background(), "q-1")
	require.NoError(t, err)
	assert.Len(t, trail, 1)
}

func TestDenial_RepeatedAttemptsAreEachAudited(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	f.create(t, model.DocQuote, "q-1", "alice", nil)

	const attempts = 5
	for i := 0; i < attempts; i++ {
		_, err := f.engine.RequestTransition(ctx, TransitionRequest{DocumentID: "q-1", To: stApproved, ActorID: "carol"})
		require.Error(t, err)
		assert.Equal(t, CodeInvalidTransition, CodeOf(err))
	}

	doc, err := f.engine.Get(ctx, "q-1")
	require.NoError(t, err)
	assert.Equal(t, stDraft, doc.State)
	assert.Equal(t, int64(1), doc.Version)

	trail, err := f.engine.Trail(ctx, "q-1")
	require.NoError(t, err)
	assert.Equal(t, attempts, countActions(trail, model.ActionDenial))
	require.NoError(t, f.engine.Ledger().Verify(ctx, "q-1"))
}

func TestDenial_CarriesAuditSeq(t *testing.T) {
	f := setupEngine(t)
	f.create(t, model.DocQuote, "q-1", "alice", nil)

	_, err := f.engine.RequestTransition(context.Background(), TransitionRequest{DocumentID: "q-1", To: "Nowhere", ActorID: "alice"})
	var ge *GateError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, CodeInvalidTransition, ge.Code)
	assert.Positive(t, ge.AuditSeq)
	assert.Equal(t, stDraft, ge.From)
	assert.Equal(t, model.State("Nowhere"), ge.To)
}

func TestSelfApprovalBlocked_EvenWithCapability(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	f.create(t, model.DocQuote, "q-2", "carol", nil)
	f.move(t, "q-2", stPending, "carol")

	caps := roles.NewResolver(testDirectory(), testPolicy()).Resolve(ctx, "carol", model.DocQuote)
	require.True(t, caps.Has(roles.CapApproveFinancial))

	_, err := f.engine.RequestTransition(ctx, TransitionRequest{DocumentID: "q-2", To: stApproved, ActorID: "carol"})
	assert.Equal(t, CodeSelfApprovalBlocked, CodeOf(err))

	doc, err := f.engine.Get(ctx, "q-2")
	require.NoError(t, err)
	assert.Equal(t, stPending, doc.State)
}

func TestForbidden_MissingCapability(t *testing.T) {
	f := setupEngine(t)
	f.create(t, model.DocQuote, "q-1", "alice", nil)
	f.move(t, "q-1", stPending, "alice")

	_, err := f.engine.RequestTransition(context.Background(), TransitionRequest{DocumentID: "q-1", To: stApproved, ActorID: "bob"})
	var ge *GateError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, CodeForbidden, ge.Code)
	assert.Equal(t, "(approve_financial)", ge.Details["required"])

	_, err = f.engine.RequestTransition(context.Background(), TransitionRequest{DocumentID: "q-1", To: stApproved, ActorID: "mallory"})
	assert.Equal(t, CodeForbidden, CodeOf(err), "unknown actors fail closed")
}

func TestRollback_Scenario(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	f.approvedQuote(t)

	// bob holds no reopen capability and is not the creator.
	_, err := f.engine.RequestTransition(ctx, TransitionRequest{
		DocumentID: "q-1", To: stPending, ActorID: "bob", Justification: "price typo",
	})
	assert.Equal(t, CodeForbidden, CodeOf(err))

	res, err := f.engine.RequestTransition(ctx, TransitionRequest{
		DocumentID: "q-1", To: stPending, ActorID: "alice", Justification: "price typo",
	})
	require.NoError(t, err)
	assert.True(t, res.Rollback())
	assert.Nil(t, res.Document.LockedAt)
	assert.Equal(t, stPending, res.Document.State)

	trail, err := f.engine.Trail(ctx, "q-1")
	require.NoError(t, err)
	assert.Equal(t, 1, countActions(trail, model.ActionRollback))
	for _, e := range trail {
		if e.Action == model.ActionRollback {
			require.NotNil(t, e.Reason)
			assert.Equal(t, "price typo", *e.Reason)
			assert.Equal(t, "alice", e.ActorID)
		}
	}

	rollbacks := f.events.OfKind(notify.KindRollbackApplied)
	require.Len(t, rollbacks, 1)
	assert.Equal(t, "alice", rollbacks[0].Recipient)
	assert.Equal(t, "price typo", rollbacks[0].Reason)
}

func TestRollback_JustificationRequired(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	f.approvedQuote(t)

	for _, j := range []string{"", "typo", "   typo    "} {
		_, err := f.engine.RequestTransition(ctx, TransitionRequest{
			DocumentID: "q-1", To: stPending, ActorID: "carol", Justification: j,
		})
		assert.Equal(t, CodeJustificationRequired, CodeOf(err), "justification %q", j)
	}

	doc, err := f.engine.Get(ctx, "q-1")
	require.NoError(t, err)
	assert.True(t, doc.Locked())

	// Length counts characters, not bytes.
	_, err = f.engine.RequestTransition(ctx, TransitionRequest{
		DocumentID: "q-1", To: stPending, ActorID: "carol", Justification: "précisé ok",
	})
	require.NoError(t, err)
}

func TestRollback_CarriesPayloadPatch(t *testing.T) {
	f := setupEngine(t)
	f.approvedQuote(t)

	res, err := f.engine.RequestTransition(context.Background(), TransitionRequest{
		DocumentID:    "q-1",
		To:            stPending,
		ActorID:       "carol",
		Justification: "customer asked for a discount",
		Payload:       model.Payload{"total": "1100.00", "lines": nil},
	})
	require.NoError(t, err)
	assert.Equal(t, "1100.00", res.Document.Payload["total"])
	assert.NotContains(t, res.Document.Payload, "lines")
	assert.Equal(t, "1200.00", res.Entry.Snapshot.Before["total"])
	assert.Equal(t, "1100.00", res.Entry.Snapshot.After["total"])
}

func TestLock_NonRollbackEdgesDenied(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	f.approvedQuote(t)

	_, err := f.engine.RequestTransition(ctx, TransitionRequest{DocumentID: "q-1", To: stRejected, ActorID: "carol"})
	assert.Equal(t, CodeDocumentLocked, CodeOf(err))

	_, err = f.engine.RequestTransition(ctx, TransitionRequest{
		DocumentID: "q-1", To: stConvert, ActorID: "carol", Payload: model.Payload{"total": "1.00"},
	})
	assert.Equal(t, CodeDocumentLocked, CodeOf(err), "lock-keeping edges cannot change the payload")

	res, err := f.engine.RequestTransition(ctx, TransitionRequest{DocumentID: "q-1", To: stConvert, ActorID: "carol"})
	require.NoError(t, err)
	assert.True(t, res.Document.Locked())
	assert.Equal(t, "1200.00", res.Document.Payload["total"])
}

func TestLock_PayloadNeverChangesWhileLocked(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	approved := f.approvedQuote(t)
	before, err := model.PayloadHash(approved.Payload)
	require.NoError(t, err)

	_, err = f.engine.Amend(ctx, AmendRequest{DocumentID: "q-1", ActorID: "carol", Patch: model.Payload{"total": "1.00"}})
	assert.Equal(t, CodeDocumentLocked, CodeOf(err))
	_, err = f.engine.RequestTransition(ctx, TransitionRequest{DocumentID: "q-1", To: stRejected, ActorID: "carol", Payload: model.Payload{"total": "2.00"}})
	assert.Error(t, err)
	_, err = f.engine.RequestTransition(ctx, TransitionRequest{DocumentID: "q-1", To: stPending, ActorID: "bob", Payload: model.Payload{"total": "3.00"}})
	assert.Error(t, err)

	doc, err := f.engine.Get(ctx, "q-1")
	require.NoError(t, err)
	after, err := model.PayloadHash(doc.Payload)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	trail, err := f.engine.Trail(ctx, "q-1")
	require.NoError(t, err)
	assert.Equal(t, 3, countActions(trail, model.ActionDenial))
}

func TestAmend(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	f.create(t, model.DocQuote, "q-1", "alice", model.Payload{"total": "1200.00"})

	doc, err := f.engine.Amend(ctx, AmendRequest{DocumentID: "q-1", ActorID: "alice", Patch: model.Payload{"total": "1250.00"}, Reason: "freight added"})
	require.NoError(t, err)
	assert.Equal(t, "1250.00", doc.Payload["total"])
	assert.Equal(t, int64(2), doc.Version)
	assert.Equal(t, stDraft, doc.State)

	// bob is neither the creator nor holds amend.
	_, err = f.engine.Amend(ctx, AmendRequest{DocumentID: "q-1", ActorID: "bob", Patch: model.Payload{"total": "1.00"}})
	assert.Equal(t, CodeForbidden, CodeOf(err))

	_, err = f.engine.Amend(ctx, AmendRequest{DocumentID: "q-1", ActorID: "alice"})
	assert.True(t, IsRequestError(err))

	trail, err := f.engine.Trail(ctx, "q-1")
	require.NoError(t, err)
	require.Len(t, trail, 3)
	assert.Equal(t, model.ActionAmend, trail[1].Action)
	require.NotNil(t, trail[1].Reason)
	assert.Equal(t, "freight added", *trail[1].Reason)
	assert.Equal(t, model.ActionDenial, trail[2].Action)
}

func TestExpectedVersionMismatch_NotAudited(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	f.create(t, model.DocQuote, "q-1", "alice", nil)
	f.move(t, "q-1", stPending, "alice")

	_, err := f.engine.RequestTransition(ctx, TransitionRequest{DocumentID: "q-1", To: stApproved, ActorID: "carol", ExpectedVersion: 1})
	require.Error(t, err)
	assert.Equal(t, CodeConcurrentModification, CodeOf(err))
	assert.ErrorIs(t, err, model.ErrConcurrentModification)
	assert.True(t, IsConcurrentModification(err))
	assert.False(t, IsDenial(err))

	trail, err := f.engine.Trail(ctx, "q-1")
	require.NoError(t, err)
	assert.Zero(t, countActions(trail, model.ActionDenial))

	_, err = f.engine.RequestTransition(ctx, TransitionRequest{DocumentID: "q-1", To: stApproved, ActorID: "carol", ExpectedVersion: 2})
	require.NoError(t, err)
}

// staleStore hands out documents one version behind, as if another writer
// committed between load and save.
type staleStore struct {
	Store
}

func (s staleStore) LoadDocument(ctx context.Context, id string) (model.Document, error) {
	doc, err := s.Store.LoadDocument(ctx, id)
	if err == nil {
		doc.Version--
	}
	return doc, err
}

func TestOptimisticConflict_StateAndAuditUntouched(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	f.create(t, model.DocQuote, "q-1", "alice", nil)
	f.move(t, "q-1", stPending, "alice")

	stale, err := New(ctx, staleStore{f.store}, roles.NewResolver(testDirectory(), testPolicy()), []*Graph{quoteGraph()},
		WithClock(f.clock), WithIDGenerator(model.NewSequentialGenerator("stale")))
	require.NoError(t, err)

	_, err = stale.RequestTransition(ctx, TransitionRequest{DocumentID: "q-1", To: stApproved, ActorID: "carol"})
	assert.Equal(t, CodeConcurrentModification, CodeOf(err))

	doc, err := f.engine.Get(ctx, "q-1")
	require.NoError(t, err)
	assert.Equal(t, stPending, doc.State)

	trail, err := f.engine.Trail(ctx, "q-1")
	require.NoError(t, err)
	assert.Len(t, trail, 2, "no audit entry without a state change")
}

func TestConcurrentApprovals_ExactlyOneWins(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	f.create(t, model.DocQuote, "q-1", "alice", nil)
	f.move(t, "q-1", stPending, "alice")

	const workers = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.RequestTransition(ctx, TransitionRequest{DocumentID: "q-1", To: stApproved, ActorID: "carol"})
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
				return
			}
			assert.Equal(t, CodeInvalidTransition, CodeOf(err))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, success)
	trail, err := f.engine.Trail(ctx, "q-1")
	require.NoError(t, err)
	assert.Equal(t, 3, countActions(trail, model.ActionTransition))
	assert.Equal(t, workers-1, countActions(trail, model.ActionDenial))
	require.NoError(t, f.engine.Ledger().Verify(ctx, "q-1"))
}

func TestConcurrentDocuments_Independent(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	ids := []string{"q-a", "q-b", "q-c", "q-d"}
	for _, id := range ids {
		f.create(t, model.DocQuote, id, "alice", nil)
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := f.engine.RequestTransition(ctx, TransitionRequest{DocumentID: id, To: stPending, ActorID: "alice"})
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	for _, id := range ids {
		doc, err := f.engine.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, stPending, doc.State)
		require.NoError(t, f.engine.Ledger().Verify(ctx, id))
	}
}

func TestStateAlwaysInGraph(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	g := quoteGraph()
	require.NoError(t, g.Compile())

	f.create(t, model.DocQuote, "q-1", "alice", nil)
	actors := []string{"alice", "bob", "carol", "dave", "mallory"}
	targets := append(append([]model.State{}, g.States...), "Nowhere", "")
	justifications := []string{"", "short", "a sufficiently long reason"}

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 200; i++ {
		_, err := f.engine.RequestTransition(ctx, TransitionRequest{
			DocumentID:    "q-1",
			To:            targets[rng.Intn(len(targets))],
			ActorID:       actors[rng.Intn(len(actors))],
			Justification: justifications[rng.Intn(len(justifications))],
		})
		if err != nil {
			assert.True(t, IsDenial(err) || IsRequestError(err), "unexpected error: %v", err)
		}
		doc, err := f.engine.Get(ctx, "q-1")
		require.NoError(t, err)
		require.True(t, g.HasState(doc.State), "state %q escaped the graph", doc.State)
		if g.IsTerminal(doc.State) {
			break
		}
	}
	require.NoError(t, f.engine.Ledger().Verify(ctx, "q-1"))
}

func TestAvailableTransitions(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	f.create(t, model.DocQuote, "q-1", "alice", nil)
	f.move(t, "q-1", stPending, "alice")

	names := func(av []Available) []string {
		var out []string
		for _, a := range av {
			out = append(out, a.Name)
		}
		return out
	}

	av, err := f.engine.AvailableTransitions(ctx, "q-1", "carol")
	require.NoError(t, err)
	assert.Equal(t, []string{"approve", "send_back", "reject"}, names(av))

	av, err = f.engine.AvailableTransitions(ctx, "q-1", "alice")
	require.NoError(t, err)
	assert.Empty(t, av)

	f.move(t, "q-1", stApproved, "carol")
	av, err = f.engine.AvailableTransitions(ctx, "q-1", "alice")
	require.NoError(t, err)
	require.Len(t, av, 1)
	assert.Equal(t, "reopen", av[0].Name)
	assert.True(t, av[0].NeedsJustification)

	av, err = f.engine.AvailableTransitions(ctx, "q-1", "carol")
	require.NoError(t, err)
	assert.Equal(t, []string{"reopen", "convert"}, names(av))

	trail, err := f.engine.Trail(ctx, "q-1")
	require.NoError(t, err)
	assert.Zero(t, countActions(trail, model.ActionDenial), "listing options writes nothing")
}

func TestNew_RejectsBadConfiguration(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()
	resolver := roles.NewResolver(testDirectory(), testPolicy())

	_, err := New(ctx, f.store, resolver, []*Graph{quoteGraph(), quoteGraph()})
	assert.Error(t, err, "duplicate graph")

	_, err = New(ctx, f.store, resolver, []*Graph{receptionGraph()})
	assert.Error(t, err, "escalation policy without scheduler")

	noPolicies := escalation.NewScheduler()
	_, err = New(ctx, f.store, resolver, []*Graph{receptionGraph()}, WithEscalations(noPolicies))
	assert.True(t, errors.Is(err, escalation.ErrUnknownPolicy))

	broken := quoteGraph()
	broken.Initial = "Limbo"
	_, err = New(ctx, f.store, resolver, []*Graph{broken})
	assert.Error(t, err)
}
