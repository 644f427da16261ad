package workflow

import (
	"strings"
	"unicode/utf8"

	"github.com/roach88/gatehouse/internal/model"
	"github.com/roach88/gatehouse/internal/variance"
)

// CreateRequest asks for a new document in its graph's initial state.
type CreateRequest struct {
	// ID is optional; one is generated when empty.
	ID      string             `validate:"omitempty,max=128"`
	Type    model.DocumentType `validate:"required"`
	ActorID string             `validate:"required"`
	Payload model.Payload
}

// TransitionRequest asks to move a document to another state.
type TransitionRequest struct {
	DocumentID string      `validate:"required"`
	To         model.State `validate:"required"`
	ActorID    string      `validate:"required"`

	// Justification is required for rollbacks and for overriding a critical
	// variance.
	Justification string

	// Measurements feed the variance gate on variance-checked edges.
	Measurements []variance.Measurement `validate:"dive"`

	// Payload is merged into the document atomically with the transition.
	// A nil value removes a key.
	Payload model.Payload

	// ExpectedVersion, when non-zero, must equal the stored version.
	ExpectedVersion int64 `validate:"gte=0"`
}

// AmendRequest changes payload fields of an unlocked document.
type AmendRequest struct {
	DocumentID      string        `validate:"required"`
	ActorID         string        `validate:"required"`
	Patch           model.Payload `validate:"required,min=1"`
	Reason          string
	ExpectedVersion int64 `validate:"gte=0"`
}

// TransitionResult describes an applied transition.
type TransitionResult struct {
	Document model.Document
	Entry    model.AuditEntry
	Variance variance.Report

	// Alerts are the warning and critical checks raised by the transition.
	Alerts []model.VarianceCheck

	// EscalationID is set when the edge scheduled an escalation item.
	EscalationID string

	// Archived lists escalation items closed because the document reached a
	// terminal state.
	Archived []model.EscalationItem
}

// Rollback reports whether the applied edge reopened a locked document.
func (r TransitionResult) Rollback() bool {
	return r.Entry.Action == model.ActionRollback
}

// justified reports whether s meets the minimum length in characters,
// ignoring surrounding whitespace.
func justified(s string, min int) bool {
	return utf8.RuneCountInString(strings.TrimSpace(s)) >= min
}
