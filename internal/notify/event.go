// Package notify carries domain events from the engine and the escalation
// scheduler to outbound notification sinks.
//
// Delivery is fire-and-forget: Publish never blocks on a sink and sink
// failures are logged, never returned to the publisher.
package notify

import (
	"time"

	"github.com/roach88/gatehouse/internal/model"
)

// Kind names a domain event.
type Kind string

const (
	KindTransitionApplied   Kind = "transition_applied"
	KindRollbackApplied     Kind = "rollback_applied"
	KindVarianceAlert       Kind = "variance_alert"
	KindEscalationScheduled Kind = "escalation_scheduled"
	KindEscalationFired     Kind = "escalation_fired"
)

// Event is one domain event. Fields not relevant to a kind are empty.
type Event struct {
	Kind         Kind               `json:"kind"`
	DocumentID   string             `json:"document_id"`
	DocumentType model.DocumentType `json:"document_type,omitempty"`
	From         model.State        `json:"from_state,omitempty"`
	To           model.State        `json:"to_state,omitempty"`
	ActorID      string             `json:"actor_id,omitempty"`

	// Recipient is a user to notify (the creator, on rollback).
	Recipient string `json:"recipient,omitempty"`
	// RecipientRole is a role to notify (the escalation target).
	RecipientRole string `json:"recipient_role,omitempty"`

	Reason       string                `json:"reason,omitempty"`
	Alerts       []model.VarianceCheck `json:"alerts,omitempty"`
	EscalationID string                `json:"escalation_id,omitempty"`
	Level        int                   `json:"level,omitempty"`
	Deadline     *time.Time            `json:"deadline,omitempty"`
	AuditSeq     int64                 `json:"audit_seq,omitempty"`
	At           time.Time             `json:"at"`
}

// Subject returns the routing subject for the event.
// Convention: gatehouse.<kind>.<document_type>
func (e Event) Subject() string {
	dt := string(e.DocumentType)
	if dt == "" {
		dt = "any"
	}
	return "gatehouse." + string(e.Kind) + "." + dt
}

// Publisher accepts events. Implementations must not block.
type Publisher interface {
	Publish(e Event)
}

// Discard drops every event.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(Event) {}
