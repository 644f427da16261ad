package escalation

import (
	"fmt"
	"time"

	"github.com/roach88/gatehouse/internal/model"
)

// Policy describes how items of one kind are created and escalated.
type Policy struct {
	Name         string
	ActionName   string
	AssignedRole string
	// Window is the time the assigned role gets before the first escalation.
	Window time.Duration
	// Levels are the escalation targets in order. Each level's After is the
	// window that role gets before the next level fires.
	Levels []model.EscalationLevel
}

// Validate checks that the policy can produce an item.
func (p Policy) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("escalation policy: missing name")
	}
	if p.ActionName == "" || p.AssignedRole == "" {
		return fmt.Errorf("escalation policy %s: action and assigned role are required", p.Name)
	}
	if p.Window <= 0 {
		return fmt.Errorf("escalation policy %s: window must be positive", p.Name)
	}
	if len(p.Levels) == 0 {
		return fmt.Errorf("escalation policy %s: at least one level is required", p.Name)
	}
	for i, l := range p.Levels {
		if l.Role == "" {
			return fmt.Errorf("escalation policy %s: level %d has no role", p.Name, i+1)
		}
		if l.After < 0 {
			return fmt.Errorf("escalation policy %s: level %d has negative window", p.Name, i+1)
		}
	}
	return nil
}

// Item builds a pending item for documentID starting at now.
func (p Policy) Item(documentID, phase string, now time.Time) model.EscalationItem {
	first := p.Levels[0]
	var chain []model.EscalationLevel
	if len(p.Levels) > 1 {
		chain = append(chain, p.Levels[1:]...)
	}
	return model.EscalationItem{
		DocumentID:     documentID,
		ActionName:     p.ActionName,
		Phase:          phase,
		AssignedRole:   p.AssignedRole,
		Deadline:       now.Add(p.Window),
		Status:         model.EscalationPending,
		EscalateToRole: first.Role,
		EscalateAfter:  first.After,
		Chain:          chain,
	}
}
