package model

import "time"

// EscalationStatus tracks the lifecycle of an escalation item.
type EscalationStatus string

const (
	EscalationPending    EscalationStatus = "pending"
	EscalationInProgress EscalationStatus = "in_progress"
	EscalationCompleted  EscalationStatus = "completed"
	EscalationEscalated  EscalationStatus = "escalated"
	EscalationFailed     EscalationStatus = "failed"
	EscalationCancelled  EscalationStatus = "cancelled"
)

// Open reports whether the item still awaits human action.
func (s EscalationStatus) Open() bool {
	switch s {
	case EscalationPending, EscalationInProgress, EscalationEscalated:
		return true
	}
	return false
}

// EscalationLevel is one rung of an escalation chain.
type EscalationLevel struct {
	Role  string        `json:"role" validate:"required"`
	After time.Duration `json:"after" validate:"gte=0"`
}

// EscalationItem is a time-boxed action attached to a document.
type EscalationItem struct {
	ID           string           `json:"id"`
	DocumentID   string           `json:"document_id" validate:"required"`
	ActionName   string           `json:"action_name" validate:"required"`
	Phase        string           `json:"phase"`
	AssignedRole string           `json:"assigned_role" validate:"required"`
	Deadline     time.Time        `json:"deadline"`
	Status       EscalationStatus `json:"status"`

	// EscalateToRole is the role notified when the current deadline lapses.
	// Empty once the last level has fired.
	EscalateToRole string `json:"escalate_to_role"`
	// EscalateAfter is the window granted to EscalateToRole before the next
	// level fires.
	EscalateAfter time.Duration `json:"escalate_after" validate:"gte=0"`

	// Level counts fired escalations; Chain holds the levels after the next one.
	Level int               `json:"level"`
	Chain []EscalationLevel `json:"chain,omitempty" validate:"dive"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
