package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// Domain prefixes for hashes. The version suffix allows algorithm migration.
const (
	DomainAuditEntry = "gatehouse/audit/v1"
	DomainPayload    = "gatehouse/payload/v1"
)

// GenesisHash is the PrevHash of the first audit entry of every document.
const GenesisHash = ""

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// auditHashView is the hashed projection of an entry. Hash itself is excluded.
type auditHashView struct {
	ID           string       `json:"id"`
	Seq          int64        `json:"seq"`
	DocumentID   string       `json:"document_id"`
	DocumentType DocumentType `json:"document_type"`
	ActorID      string       `json:"actor_id"`
	Action       AuditAction  `json:"action"`
	From         State        `json:"from_state"`
	To           State        `json:"to_state"`
	Reason       *string      `json:"reason"`
	Denial       string       `json:"denial"`
	Timestamp    string       `json:"timestamp"`
	Snapshot     Snapshot     `json:"snapshot"`
	PrevHash     string       `json:"prev_hash"`
}

// AuditHash computes the chained hash of an entry.
// The entry's PrevHash must already be set.
func AuditHash(e AuditEntry) (string, error) {
	// A nil payload reloads as an empty object; hash both the same.
	if e.Snapshot.Before == nil {
		e.Snapshot.Before = Payload{}
	}
	if e.Snapshot.After == nil {
		e.Snapshot.After = Payload{}
	}
	view := auditHashView{
		ID:           e.ID,
		Seq:          e.Seq,
		DocumentID:   e.DocumentID,
		DocumentType: e.DocumentType,
		ActorID:      e.ActorID,
		Action:       e.Action,
		From:         e.From,
		To:           e.To,
		Reason:       e.Reason,
		Denial:       e.Denial,
		Timestamp:    FormatTime(e.Timestamp),
		Snapshot:     e.Snapshot,
		PrevHash:     e.PrevHash,
	}
	canonical, err := CanonicalizeJSON(view)
	if err != nil {
		return "", fmt.Errorf("AuditHash: %w", err)
	}
	return hashWithDomain(DomainAuditEntry, canonical), nil
}

// PayloadHash returns a content hash of a payload, used to compare payloads
// across lock boundaries.
func PayloadHash(p Payload) (string, error) {
	if p == nil {
		p = Payload{}
	}
	canonical, err := CanonicalizeJSON(p)
	if err != nil {
		return "", fmt.Errorf("PayloadHash: %w", err)
	}
	return hashWithDomain(DomainPayload, canonical), nil
}

// timeLayout is RFC 3339 with a fixed nine-digit fraction, so stored
// timestamps sort lexicographically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// FormatTime renders a timestamp the way every store persists it.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// ParseTime parses a timestamp written by FormatTime.
func ParseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
