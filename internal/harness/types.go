package harness

// TraceEvent records one executed step.
type TraceEvent struct {
	Step     int    `json:"step"`
	Op       string `json:"op"`
	Document string `json:"document,omitempty"`
	Actor    string `json:"actor,omitempty"`
	To       string `json:"to,omitempty"`
	Outcome  string `json:"outcome"`
	Detail   string `json:"detail,omitempty"`
}

// AuditView is an audit entry without identifiers, hashes or timestamps.
type AuditView struct {
	Seq           int64             `json:"seq"`
	Actor         string            `json:"actor"`
	Action        string            `json:"action"`
	From          string            `json:"from"`
	To            string            `json:"to"`
	Reason        string            `json:"reason,omitempty"`
	Denial        string            `json:"denial,omitempty"`
	Justification string            `json:"justification,omitempty"`
	Variance      []string          `json:"variance,omitempty"`
	Details       map[string]string `json:"details,omitempty"`
}

// EscalationView is the final state of one escalation item.
type EscalationView struct {
	ID             string `json:"id"`
	Document       string `json:"document"`
	Action         string `json:"action"`
	Status         string `json:"status"`
	AssignedRole   string `json:"assigned_role"`
	EscalateToRole string `json:"escalate_to_role,omitempty"`
	Level          int    `json:"level"`
	Deadline       string `json:"deadline"`
}

// EventView is a published domain event.
type EventView struct {
	Kind          string `json:"kind"`
	Document      string `json:"document"`
	From          string `json:"from,omitempty"`
	To            string `json:"to,omitempty"`
	Recipient     string `json:"recipient,omitempty"`
	RecipientRole string `json:"recipient_role,omitempty"`
}

// DocumentView is the final state of one document.
type DocumentView struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	State   string         `json:"state"`
	Locked  bool           `json:"locked"`
	Version int64          `json:"version"`
	Payload map[string]any `json:"payload"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step outcome and assertion matched.
	Pass   bool     `json:"pass"`
	Errors []string `json:"errors,omitempty"`

	Trace       []TraceEvent           `json:"trace"`
	Documents   []DocumentView         `json:"documents"`
	Audit       map[string][]AuditView `json:"audit"`
	Escalations []EscalationView       `json:"escalations"`
	Events      []EventView            `json:"events"`

	// ChainErrors maps document ids to hash chain failures.
	ChainErrors map[string]string `json:"chain_errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:        true,
		Errors:      []string{},
		Trace:       []TraceEvent{},
		Documents:   []DocumentView{},
		Audit:       map[string][]AuditView{},
		Escalations: []EscalationView{},
		Events:      []EventView{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Document returns the final view of a document.
func (r *Result) Document(id string) (DocumentView, bool) {
	for _, d := range r.Documents {
		if d.ID == id {
			return d, true
		}
	}
	return DocumentView{}, false
}
