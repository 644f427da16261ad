package ledger

import (
	"context"
	"fmt"

	"github.com/roach88/gatehouse/internal/model"
)

// ChainError reports a broken hash chain.
type ChainError struct {
	DocumentID string
	Seq        int64
	Reason     string
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("audit chain broken for %s at seq %d: %s", e.DocumentID, e.Seq, e.Reason)
}

// Verify recomputes the hash chain of a document's trail.
// It returns a *ChainError at the first entry that does not match.
func (l *Ledger) Verify(ctx context.Context, documentID string) error {
	entries, err := l.QueryByDocument(ctx, documentID)
	if err != nil {
		return err
	}
	return VerifyChain(documentID, entries)
}

// VerifyChain checks a trail obtained elsewhere (e.g. an export).
func VerifyChain(documentID string, entries []model.AuditEntry) error {
	prev := model.GenesisHash
	var lastSeq int64
	for _, e := range entries {
		if e.DocumentID != documentID {
			return &ChainError{DocumentID: documentID, Seq: e.Seq, Reason: "entry belongs to " + e.DocumentID}
		}
		if e.Seq <= lastSeq {
			return &ChainError{DocumentID: documentID, Seq: e.Seq, Reason: "sequence not increasing"}
		}
		if e.PrevHash != prev {
			return &ChainError{DocumentID: documentID, Seq: e.Seq, Reason: "prev_hash does not match predecessor"}
		}
		want, err := model.AuditHash(e)
		if err != nil {
			return &ChainError{DocumentID: documentID, Seq: e.Seq, Reason: err.Error()}
		}
		if want != e.Hash {
			return &ChainError{DocumentID: documentID, Seq: e.Seq, Reason: "content hash mismatch"}
		}
		prev = e.Hash
		lastSeq = e.Seq
	}
	return nil
}
