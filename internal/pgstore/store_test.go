package pgstore

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/gatehouse/internal/escalation"
	"github.com/roach88/gatehouse/internal/ledger"
	"github.com/roach88/gatehouse/internal/model"
	"github.com/roach88/gatehouse/internal/workflow"
)

var (
	_ workflow.Store       = (*Store)(nil)
	_ escalation.Persister = (*Store)(nil)
)

var testEpoch = time.Date(2026, 3, 1, 8, 0, 0, 123456789, time.UTC)

// openTestStore opens a store in a throwaway schema. Tests are skipped
// unless GATEHOUSE_PG_DSN points at a reachable database.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("GATEHOUSE_PG_DSN")
	if dsn == "" {
		t.Skip("GATEHOUSE_PG_DSN not set")
	}
	ctx := context.Background()
	schema := "gatehouse_test_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	s, err := Open(ctx, dsn, WithSchema(schema), WithMaxConns(4))
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = s.pool.Exec(context.Background(), "DROP SCHEMA "+pgx.Identifier{schema}.Sanitize()+" CASCADE")
		s.Close()
	})
	return s
}

func testDocument(id string) model.Document {
	return model.Document{
		ID:        id,
		Type:      model.DocQuote,
		State:     "Draft",
		CreatedBy: "alice",
		CreatedAt: testEpoch,
		Payload:   model.Payload{"total": "1200.00", "lines": 3},
		Version:   1,
	}
}

func testEntry(id, documentID string) model.AuditEntry {
	return model.AuditEntry{
		ID:           id,
		DocumentID:   documentID,
		DocumentType: model.DocQuote,
		ActorID:      "alice",
		Action:       model.ActionTransition,
		From:         "Draft",
		To:           "Draft",
		Timestamp:    testEpoch,
		Snapshot:     model.Snapshot{Before: model.Payload{}, After: model.Payload{"total": "1200.00"}},
	}
}

// sealAt chains e onto the head the store reads.
func sealAt(e model.AuditEntry) model.SealFunc {
	return func(head model.ChainHead) (model.AuditEntry, error) {
		e.Seq = head.Seq
		e.PrevHash = head.PrevHash
		hash, err := model.AuditHash(e)
		if err != nil {
			return model.AuditEntry{}, err
		}
		e.Hash = hash
		return e, nil
	}
}

func TestOpen_Idempotent(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, applySchema(context.Background(), s.pool))
	require.NoError(t, s.Ping(context.Background()))
}

func TestDocumentLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	doc := testDocument("q-1")
	entry, err := s.CreateDocument(ctx, doc, sealAt(testEntry("e-1", doc.ID)))
	require.NoError(t, err)
	assert.Equal(t, int64(1), entry.Seq)

	_, err = s.CreateDocument(ctx, doc, sealAt(testEntry("e-dup", doc.ID)))
	assert.ErrorIs(t, err, model.ErrDuplicate)

	got, err := s.LoadDocument(ctx, "q-1")
	require.NoError(t, err)
	assert.Equal(t, doc.CreatedAt, got.CreatedAt)
	assert.Equal(t, "1200.00", got.Payload["total"])
	assert.Nil(t, got.LockedAt)

	locked := testEpoch.Add(time.Hour)
	next := got.Clone()
	next.State = "Approved"
	next.LockedAt = &locked
	next.Version = 2
	second, err := s.CommitTransition(ctx, next, 1, sealAt(testEntry("e-2", doc.ID)))
	require.NoError(t, err)
	assert.Equal(t, entry.Hash, second.PrevHash)

	got, err = s.LoadDocument(ctx, "q-1")
	require.NoError(t, err)
	assert.Equal(t, model.State("Approved"), got.State)
	require.NotNil(t, got.LockedAt)
	assert.True(t, got.LockedAt.Equal(locked))
	assert.Equal(t, int64(2), got.Version)

	_, err = s.CommitTransition(ctx, next, 1, sealAt(testEntry("e-3", doc.ID)))
	assert.ErrorIs(t, err, model.ErrConcurrentModification)

	_, err = s.CommitTransition(ctx, testDocument("missing"), 1, sealAt(testEntry("e-4", "missing")))
	assert.ErrorIs(t, err, model.ErrNotFound)

	trail, err := s.QueryAuditTrail(ctx, "q-1")
	require.NoError(t, err)
	assert.Len(t, trail, 2, "rejected commits write no entry")

	docs, err := s.ListDocuments(ctx, model.DocQuote)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
	docs, err = s.ListDocuments(ctx, model.DocOrder)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestAuditTrail_RoundTripPreservesHash(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	e := testEntry("e-1", "q-1")
	e.Action = model.ActionRollback
	e.Reason = model.StringPtr("price typo")
	e.Snapshot.Variance = []model.VarianceCheck{{
		Field:            "humidity",
		Mode:             model.ModeAbsolute,
		Theoretical:      decimal.RequireFromString("2"),
		Observed:         decimal.RequireFromString("18.0"),
		PercentDeviation: decimal.RequireFromString("16.0"),
		Band:             model.BandCritical,
	}}
	sealed, err := s.AppendAuditEntry(ctx, "q-1", sealAt(e))
	require.NoError(t, err)

	got, err := s.LastAuditEntry(ctx, "q-1")
	require.NoError(t, err)
	recomputed, err := model.AuditHash(got)
	require.NoError(t, err)
	assert.Equal(t, sealed.Hash, recomputed)
	assert.Equal(t, "price typo", *got.Reason)

	_, err = s.LastAuditEntry(ctx, "nope")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestAuditTrail_AppendOnly(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	_, err := s.AppendAuditEntry(ctx, "q-1", sealAt(testEntry("e-1", "q-1")))
	require.NoError(t, err)

	assert.ErrorIs(t, s.rewriteAuditEntry(ctx, "e-1", "mallory"), model.ErrAppendOnly)
	assert.ErrorIs(t, s.deleteAuditEntry(ctx, "e-1"), model.ErrAppendOnly)
	assert.ErrorIs(t, s.truncateAuditEntries(ctx), model.ErrAppendOnly)

	trail, err := s.QueryAuditTrail(ctx, "q-1")
	require.NoError(t, err)
	require.Len(t, trail, 1)
	assert.Equal(t, "alice", trail[0].ActorID)
}

func TestLedgerOverPostgres(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	// Two ledgers stand in for two engine instances sharing the database.
	ledgers := []*ledger.Ledger{ledger.New(s), ledger.New(s)}
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := ledgers[i%2].Append(ctx, model.AuditEntry{
				DocumentID:   "q-1",
				DocumentType: model.DocQuote,
				ActorID:      "carol",
				Action:       model.ActionDenial,
				Denial:       "FORBIDDEN",
				From:         "Draft",
				To:           "Approved",
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	trail, err := ledgers[0].QueryByDocument(ctx, "q-1")
	require.NoError(t, err)
	require.Len(t, trail, 10)
	assert.NoError(t, ledgers[1].Verify(ctx, "q-1"))
}

func TestEscalations(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	item := model.EscalationItem{
		ID:             "esc-1",
		DocumentID:     "o-1",
		ActionName:     "accept_emergency_order",
		Phase:          "EmergencySubmitted",
		AssignedRole:   "dispatcher",
		Deadline:       testEpoch.Add(30 * time.Minute),
		Status:         model.EscalationPending,
		EscalateToRole: "plant_manager",
		EscalateAfter:  time.Hour,
		Chain:          []model.EscalationLevel{{Role: "administrator"}},
		CreatedAt:      testEpoch,
		UpdatedAt:      testEpoch,
	}
	require.NoError(t, s.SaveEscalation(ctx, item))

	item.Status = model.EscalationEscalated
	item.Level = 1
	item.AssignedRole = "plant_manager"
	item.Chain = nil
	require.NoError(t, s.SaveEscalation(ctx, item))

	got, err := s.LoadEscalation(ctx, "esc-1")
	require.NoError(t, err)
	assert.Equal(t, item, got)

	done := item
	done.ID = "esc-2"
	done.Status = model.EscalationCompleted
	require.NoError(t, s.SaveEscalation(ctx, done))

	open, err := s.ListOpenEscalations(ctx)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "esc-1", open[0].ID)

	all, err := s.ListEscalationsByDocument(ctx, "o-1")
	require.NoError(t, err)
	assert.Len(t, all, 2)

	_, err = s.LoadEscalation(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}
