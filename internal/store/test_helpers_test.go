package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/gatehouse/internal/model"
)

var testEpoch = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

// createTestStore creates a new file-backed store for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestDocument creates a quote in draft at version 1.
func createTestDocument(id string) model.Document {
	return model.Document{
		ID:        id,
		Type:      model.DocQuote,
		State:     "Draft",
		CreatedBy: "alice",
		CreatedAt: testEpoch,
		Payload:   model.Payload{"total": "1200.00"},
		Version:   1,
	}
}

// createTestEntry creates an unsealed entry for documentID.
func createTestEntry(id, documentID string) model.AuditEntry {
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

// sealAt returns a SealFunc that chains e onto whatever head the store reads.
func sealAt(t *testing.T, e model.AuditEntry) model.SealFunc {
	t.Helper()
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
