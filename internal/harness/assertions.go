package harness

import (
	"fmt"
)

// EvaluateAssertions checks every assertion against the result and returns
// one message per failure.
func EvaluateAssertions(r *Result, assertions []Assertion) []string {
	var failures []string
	for i, a := range assertions {
		if err := evaluate(r, a); err != nil {
			failures = append(failures, fmt.Sprintf("assertion %d (%s): %v", i, a.Type, err))
		}
	}
	return failures
}

func evaluate(r *Result, a Assertion) error {
	switch a.Type {
	case AssertState:
		return assertState(r, a)
	case AssertAudit:
		return assertAudit(r, a)
	case AssertChainValid:
		return assertChain(r, a)
	case AssertEscalation:
		return assertEscalation(r, a)
	case AssertEvents:
		return assertEvents(r, a)
	case AssertPayload:
		return assertPayload(r, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func assertState(r *Result, a Assertion) error {
	doc, ok := r.Document(a.Document)
	if !ok {
		return fmt.Errorf("document %s not found", a.Document)
	}
	if doc.State != a.State {
		return fmt.Errorf("document %s: expected state %s, got %s", a.Document, a.State, doc.State)
	}
	if a.Locked != nil && doc.Locked != *a.Locked {
		return fmt.Errorf("document %s: expected locked=%t, got %t", a.Document, *a.Locked, doc.Locked)
	}
	if a.Version != 0 && doc.Version != a.Version {
		return fmt.Errorf("document %s: expected version %d, got %d", a.Document, a.Version, doc.Version)
	}
	return nil
}

func assertAudit(r *Result, a Assertion) error {
	n := 0
	for _, e := range r.Audit[a.Document] {
		if a.Action == "" || e.Action == a.Action {
			n++
		}
	}
	if n != *a.Count {
		what := "entries"
		if a.Action != "" {
			what = a.Action + " entries"
		}
		return fmt.Errorf("document %s: expected %d %s, got %d", a.Document, *a.Count, what, n)
	}
	return nil
}

func assertChain(r *Result, a Assertion) error {
	if _, ok := r.Audit[a.Document]; !ok {
		return fmt.Errorf("document %s has no audit trail", a.Document)
	}
	if msg, bad := r.ChainErrors[a.Document]; bad {
		return fmt.Errorf("document %s: %s", a.Document, msg)
	}
	return nil
}

func assertEscalation(r *Result, a Assertion) error {
	var matched []EscalationView
	for _, e := range r.Escalations {
		if e.Document == a.Document && (a.Action == "" || e.Action == a.Action) {
			matched = append(matched, e)
		}
	}
	if a.Count != nil && len(matched) != *a.Count {
		return fmt.Errorf("document %s: expected %d escalation items, got %d", a.Document, *a.Count, len(matched))
	}
	if a.Status == "" && a.Role == "" && a.Level == nil {
		return nil
	}
	if len(matched) == 0 {
		return fmt.Errorf("document %s: no escalation items", a.Document)
	}
	// The latest item carries the current state of the action.
	last := matched[len(matched)-1]
	if a.Status != "" && last.Status != a.Status {
		return fmt.Errorf("escalation %s: expected status %s, got %s", last.ID, a.Status, last.Status)
	}
	if a.Role != "" && last.AssignedRole != a.Role {
		return fmt.Errorf("escalation %s: expected role %s, got %s", last.ID, a.Role, last.AssignedRole)
	}
	if a.Level != nil && last.Level != *a.Level {
		return fmt.Errorf("escalation %s: expected level %d, got %d", last.ID, *a.Level, last.Level)
	}
	return nil
}

func assertEvents(r *Result, a Assertion) error {
	n := 0
	for _, e := range r.Events {
		if e.Kind != a.Kind {
			continue
		}
		if a.Document != "" && e.Document != a.Document {
			continue
		}
		if a.Role != "" && e.RecipientRole != a.Role {
			continue
		}
		n++
	}
	if n != *a.Count {
		return fmt.Errorf("expected %d %s events, got %d", *a.Count, a.Kind, n)
	}
	return nil
}

// assertPayload compares by printed form, since stored numbers come back as
// json.Number while YAML numbers decode to int or float64.
func assertPayload(r *Result, a Assertion) error {
	doc, ok := r.Document(a.Document)
	if !ok {
		return fmt.Errorf("document %s not found", a.Document)
	}
	got, present := doc.Payload[a.Field]
	if a.Value == nil {
		if present {
			return fmt.Errorf("document %s: expected %s absent, got %v", a.Document, a.Field, got)
		}
		return nil
	}
	if !present {
		return fmt.Errorf("document %s: field %s missing", a.Document, a.Field)
	}
	if fmt.Sprint(got) != fmt.Sprint(a.Value) {
		return fmt.Errorf("document %s: expected %s=%v, got %v", a.Document, a.Field, a.Value, got)
	}
	return nil
}
