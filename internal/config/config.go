package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"github.com/shopspring/decimal"
)

//go:embed schema.cue
var schemaSource []byte

//go:embed plant.cue
var plantSource []byte

// File is the decoded form of a configuration.
type File struct {
	Roles       map[string]map[string][]string `json:"roles"`
	Actors      map[string][]string            `json:"actors"`
	Documents   map[string]DocumentSpec        `json:"documents"`
	Escalations map[string]EscalationSpec      `json:"escalations"`
}

// DocumentSpec is the graph of one document type.
type DocumentSpec struct {
	Initial    string                   `json:"initial"`
	States     []string                 `json:"states"`
	Terminal   []string                 `json:"terminal"`
	Create     [][]string               `json:"create,omitempty"`
	Amend      [][]string               `json:"amend,omitempty"`
	Thresholds map[string]ThresholdSpec `json:"thresholds"`
	Edges      []EdgeSpec               `json:"edges"`
}

// ThresholdSpec holds variance bands for one field.
type ThresholdSpec struct {
	Warning  decimal.Decimal `json:"warning"`
	Critical decimal.Decimal `json:"critical"`
	Mode     string          `json:"mode"`
}

// EdgeSpec mirrors workflow.Edge.
type EdgeSpec struct {
	From     string     `json:"from"`
	To       string     `json:"to"`
	Name     string     `json:"name,omitempty"`
	Requires [][]string `json:"requires,omitempty"`

	ForbidSelfApproval bool `json:"forbidSelfApproval"`
	VarianceCheck      bool `json:"varianceCheck"`
	Rollback           bool `json:"rollback"`
	Locks              bool `json:"locks"`
	Unlocks            bool `json:"unlocks"`
	KeepsLock          bool `json:"keepsLock"`
	MinJustification   int  `json:"minJustification,omitempty"`

	Blocked       bool   `json:"blocked"`
	BlockedReason string `json:"blockedReason,omitempty"`

	RequiresClosedEscalations bool   `json:"requiresClosedEscalations"`
	Escalation                string `json:"escalation,omitempty"`
}

// EscalationSpec describes an escalation policy.
type EscalationSpec struct {
	Action       string      `json:"action"`
	AssignedRole string      `json:"assignedRole"`
	Window       string      `json:"window"`
	Levels       []LevelSpec `json:"levels"`
}

// LevelSpec is one rung of an escalation chain.
type LevelSpec struct {
	Role  string `json:"role"`
	After string `json:"after"`
}

// Default returns the embedded concrete-plant configuration.
func Default() (*Bundle, error) {
	return Parse("plant.cue", plantSource)
}

// DefaultSource returns the embedded default configuration text.
func DefaultSource() []byte {
	return append([]byte(nil), plantSource...)
}

// Parse loads a configuration from CUE source.
func Parse(filename string, src []byte) (*Bundle, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	f, err := decode(ctx, v)
	if err != nil {
		return nil, err
	}
	return Build(f)
}

// Load loads every CUE file of dir as one instance.
// A path to a single file is also accepted.
func Load(path string) (*Bundle, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if !info.IsDir() {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		return Parse(path, src)
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: path})
	if len(instances) == 0 {
		return nil, &Error{Path: path, Message: "no CUE instances loaded"}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, formatCUEError(inst.Err)
	}
	v := ctx.BuildInstance(inst)
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	f, err := decode(ctx, v)
	if err != nil {
		return nil, err
	}
	return Build(f)
}

// decode unifies v with #Config and decodes the concrete result.
func decode(ctx *cue.Context, v cue.Value) (*File, error) {
	schema := ctx.CompileBytes(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("config: schema: %w", err)
	}
	unified := schema.LookupPath(cue.ParsePath("#Config")).Unify(v)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	// decimal.Decimal decodes exact values from the JSON number text.
	data, err := unified.MarshalJSON()
	if err != nil {
		return nil, formatCUEError(err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return &f, nil
}
