package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEntry() AuditEntry {
	return AuditEntry{
		ID:           "entry-1",
		Seq:          7,
		DocumentID:   "quote-1",
		DocumentType: DocQuote,
		ActorID:      "alice",
		Action:       ActionRollback,
		From:         "approved",
		To:           "pending_approval",
		Reason:       StringPtr("price typo"),
		Timestamp:    time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC),
		Snapshot: Snapshot{
			Before: Payload{"total": 1000},
			After:  Payload{"total": 1000},
			Variance: []VarianceCheck{{
				Field:            "cement",
				Mode:             ModeRelative,
				Theoretical:      decimal.NewFromInt(1000),
				Observed:         decimal.NewFromInt(1020),
				PercentDeviation: decimal.NewFromInt(2),
				Band:             BandWarning,
			}},
		},
		PrevHash: "abc",
	}
}

func TestAuditHash_Deterministic(t *testing.T) {
	h1, err := AuditHash(sampleEntry())
	require.NoError(t, err)
	h2, err := AuditHash(sampleEntry())
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestAuditHash_CoversChainAndFields(t *testing.T) {
	base, err := AuditHash(sampleEntry())
	require.NoError(t, err)

	mutations := map[string]func(e *AuditEntry){
		"prev_hash": func(e *AuditEntry) { e.PrevHash = "abd" },
		"reason":    func(e *AuditEntry) { e.Reason = StringPtr("price typ0") },
		"to_state":  func(e *AuditEntry) { e.To = "draft" },
		"snapshot":  func(e *AuditEntry) { e.Snapshot.After = Payload{"total": 1001} },
		"band":      func(e *AuditEntry) { e.Snapshot.Variance[0].Band = BandCritical },
		"timestamp": func(e *AuditEntry) { e.Timestamp = e.Timestamp.Add(time.Nanosecond) },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			e := sampleEntry()
			mutate(&e)
			h, err := AuditHash(e)
			require.NoError(t, err)
			assert.NotEqual(t, base, h)
		})
	}
}

func TestAuditHash_IgnoresTimezone(t *testing.T) {
	e := sampleEntry()
	h1, err := AuditHash(e)
	require.NoError(t, err)

	e.Timestamp = e.Timestamp.In(time.FixedZone("CET", 3600))
	h2, err := AuditHash(e)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestPayloadHash_KeyOrderIndependent(t *testing.T) {
	a, err := PayloadHash(Payload{"x": 1, "y": "z"})
	require.NoError(t, err)
	b, err := PayloadHash(Payload{"y": "z", "x": 1})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestParseTime_RoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 1, 8, 30, 0, 123456789, time.UTC)
	parsed, err := ParseTime(FormatTime(ts))
	require.NoError(t, err)
	assert.True(t, ts.Equal(parsed))
}

func TestFormatTime_SortsLexicographically(t *testing.T) {
	whole := time.Date(2026, 3, 1, 8, 30, 0, 0, time.UTC)
	frac := whole.Add(500 * time.Millisecond)
	assert.Equal(t, "2026-03-01T08:30:00.000000000Z", FormatTime(whole))
	assert.Less(t, FormatTime(whole), FormatTime(frac))
}

func TestAuditHash_NilPayloadEqualsEmpty(t *testing.T) {
	e := AuditEntry{ID: "e-1", Seq: 1, DocumentID: "d", Action: ActionDenial}
	a, err := AuditHash(e)
	require.NoError(t, err)

	e.Snapshot.Before = Payload{}
	e.Snapshot.After = Payload{}
	b, err := AuditHash(e)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
