package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Scenario is a scripted run against the engine.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Config is a CUE file or directory. Relative paths are resolved against
	// the scenario file. Empty means the embedded default configuration.
	Config string `yaml:"config,omitempty"`

	// Start overrides the simulated start time (RFC 3339).
	Start string `yaml:"start,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step performs exactly one operation.
type Step struct {
	Create     *CreateStep     `yaml:"create,omitempty"`
	Transition *TransitionStep `yaml:"transition,omitempty"`
	Amend      *AmendStep      `yaml:"amend,omitempty"`

	// Advance moves the simulated clock (Go duration syntax).
	Advance string `yaml:"advance,omitempty"`
	// Sweep fires due escalations.
	Sweep bool `yaml:"sweep,omitempty"`

	Ack      *EscalationStep `yaml:"ack,omitempty"`
	Complete *EscalationStep `yaml:"complete,omitempty"`
	Cancel   *EscalationStep `yaml:"cancel,omitempty"`

	// Expect is "ok" (default), "request_error" or a denial code.
	Expect string `yaml:"expect,omitempty"`
}

// CreateStep creates a document.
type CreateStep struct {
	ID      string         `yaml:"id"`
	Type    string         `yaml:"type"`
	Actor   string         `yaml:"actor"`
	Payload map[string]any `yaml:"payload,omitempty"`
}

// TransitionStep requests a transition.
type TransitionStep struct {
	Document        string            `yaml:"document"`
	To              string            `yaml:"to"`
	Actor           string            `yaml:"actor"`
	Justification   string            `yaml:"justification,omitempty"`
	Measurements    []MeasurementStep `yaml:"measurements,omitempty"`
	Payload         map[string]any    `yaml:"payload,omitempty"`
	ExpectedVersion int64             `yaml:"expected_version,omitempty"`
}

// MeasurementStep is one variance measurement. Values are decimal strings.
type MeasurementStep struct {
	Field       string `yaml:"field"`
	Theoretical string `yaml:"theoretical"`
	Observed    string `yaml:"observed"`
}

// AmendStep changes payload fields.
type AmendStep struct {
	Document string         `yaml:"document"`
	Actor    string         `yaml:"actor"`
	Patch    map[string]any `yaml:"patch"`
	Reason   string         `yaml:"reason,omitempty"`
}

// EscalationStep targets the open escalation items of a document,
// optionally only those of one action.
type EscalationStep struct {
	Document string `yaml:"document"`
	Action   string `yaml:"action,omitempty"`
}

// Assertion validates the final state of a run.
type Assertion struct {
	Type     string `yaml:"type"`
	Document string `yaml:"document,omitempty"`

	// state
	State   string `yaml:"state,omitempty"`
	Locked  *bool  `yaml:"locked,omitempty"`
	Version int64  `yaml:"version,omitempty"`

	// audit, events
	Action string `yaml:"action,omitempty"`
	Kind   string `yaml:"kind,omitempty"`
	Count  *int   `yaml:"count,omitempty"`

	// escalation
	Status string `yaml:"status,omitempty"`
	Role   string `yaml:"role,omitempty"`
	Level  *int   `yaml:"level,omitempty"`

	// payload
	Field string `yaml:"field,omitempty"`
	Value any    `yaml:"value,omitempty"`
}

// Assertion type constants.
const (
	AssertState      = "state"
	AssertAudit      = "audit"
	AssertChainValid = "chain_valid"
	AssertEscalation = "escalation"
	AssertEvents     = "events"
	AssertPayload    = "payload"
)

// Outcome values besides denial codes.
const (
	OutcomeOK           = "ok"
	OutcomeRequestError = "request_error"
)

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	s, err := ParseScenario(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if s.Config != "" && !filepath.IsAbs(s.Config) {
		s.Config = filepath.Join(filepath.Dir(path), s.Config)
	}
	return s, nil
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&s); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &s, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("at least one step is required")
	}
	if s.Start != "" {
		if _, err := time.Parse(time.RFC3339, s.Start); err != nil {
			return fmt.Errorf("start: %w", err)
		}
	}
	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			return fmt.Errorf("steps[%d]: %w", i, err)
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(a); err != nil {
			return fmt.Errorf("assertions[%d]: %w", i, err)
		}
	}
	return nil
}

func validateStep(step Step) error {
	ops := 0
	for _, set := range []bool{
		step.Create != nil, step.Transition != nil, step.Amend != nil,
		step.Advance != "", step.Sweep,
		step.Ack != nil, step.Complete != nil, step.Cancel != nil,
	} {
		if set {
			ops++
		}
	}
	if ops != 1 {
		return fmt.Errorf("exactly one operation is required, got %d", ops)
	}
	if step.Advance != "" {
		d, err := time.ParseDuration(step.Advance)
		if err != nil {
			return fmt.Errorf("advance: %w", err)
		}
		if d < 0 {
			return fmt.Errorf("advance: time cannot move backwards")
		}
	}
	return nil
}

func validateAssertion(a Assertion) error {
	switch a.Type {
	case AssertState:
		if a.Document == "" || a.State == "" {
			return fmt.Errorf("document and state are required for state")
		}
	case AssertAudit:
		if a.Document == "" || a.Count == nil {
			return fmt.Errorf("document and count are required for audit")
		}
	case AssertChainValid:
		if a.Document == "" {
			return fmt.Errorf("document is required for chain_valid")
		}
	case AssertEscalation:
		if a.Document == "" {
			return fmt.Errorf("document is required for escalation")
		}
	case AssertEvents:
		if a.Kind == "" || a.Count == nil {
			return fmt.Errorf("kind and count are required for events")
		}
	case AssertPayload:
		if a.Document == "" || a.Field == "" {
			return fmt.Errorf("document and field are required for payload")
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}
