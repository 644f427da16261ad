package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// AuditAction categorizes an audit entry.
type AuditAction string

const (
	// ActionTransition records an applied forward transition (including creation).
	ActionTransition AuditAction = "transition"
	// ActionDenial records a rejected transition or amendment attempt.
	ActionDenial AuditAction = "denial"
	// ActionRollback records an applied rollback edge that reopened a locked document.
	ActionRollback AuditAction = "rollback"
	// ActionAmend records a payload change on an unlocked document.
	ActionAmend AuditAction = "amend"
)

// AuditEntry is one immutable record in the audit ledger.
//
// Entries are sealed by the ledger: ID, Seq, Timestamp, PrevHash and Hash are
// assigned there and never change afterwards.
type AuditEntry struct {
	ID           string       `json:"id"`
	Seq          int64        `json:"seq"`
	DocumentID   string       `json:"document_id"`
	DocumentType DocumentType `json:"document_type"`
	ActorID      string       `json:"actor_id"`
	Action       AuditAction  `json:"action"`
	From         State        `json:"from_state"`
	To           State        `json:"to_state"`
	Reason       *string      `json:"reason,omitempty"`

	// Denial holds the failure code for ActionDenial entries.
	Denial string `json:"denial,omitempty"`

	Timestamp time.Time `json:"timestamp"`
	Snapshot  Snapshot  `json:"snapshot"`
	PrevHash  string    `json:"prev_hash"`
	Hash      string    `json:"hash"`
}

// ChainHead is the position a new entry is sealed at: the next global
// sequence number and the hash of the document's latest entry.
type ChainHead struct {
	Seq      int64
	PrevHash string
}

// SealFunc completes an entry at head. Stores call it inside the write
// transaction that inserts the entry, after reading head under that
// transaction's lock.
type SealFunc func(head ChainHead) (AuditEntry, error)

// Snapshot captures payload state around an audited action plus the
// evidence the decision was based on.
type Snapshot struct {
	Before        Payload           `json:"before"`
	After         Payload           `json:"after"`
	Variance      []VarianceCheck   `json:"variance,omitempty"`
	Justification string            `json:"justification,omitempty"`
	Details       map[string]string `json:"details,omitempty"`
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// DecodeSnapshot parses a stored snapshot. Payload numbers are kept as
// json.Number so chain hashes recompute exactly.
func DecodeSnapshot(data []byte) (Snapshot, error) {
	var raw struct {
		Before        json.RawMessage   `json:"before"`
		After         json.RawMessage   `json:"after"`
		Variance      []VarianceCheck   `json:"variance"`
		Justification string            `json:"justification"`
		Details       map[string]string `json:"details"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	before, err := DecodePayload(raw.Before)
	if err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot before: %w", err)
	}
	after, err := DecodePayload(raw.After)
	if err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot after: %w", err)
	}
	return Snapshot{
		Before:        before,
		After:         after,
		Variance:      raw.Variance,
		Justification: raw.Justification,
		Details:       raw.Details,
	}, nil
}
