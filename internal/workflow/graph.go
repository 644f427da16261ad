package workflow

import (
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/gatehouse/internal/model"
	"github.com/roach88/gatehouse/internal/roles"
	"github.com/roach88/gatehouse/internal/variance"
)

// DefaultMinJustification is the minimum justification length in characters
// when an edge does not set its own.
const DefaultMinJustification = 10

// Edge is a directed transition between two states of one graph.
type Edge struct {
	From model.State
	To   model.State
	Name string

	// Requires is the capability expression the actor must satisfy.
	// The zero value admits any actor.
	Requires roles.Requirement

	ForbidSelfApproval    bool
	RequiresVarianceCheck bool

	// Rollback edges reopen a locked document and require a justification.
	Rollback bool
	Locks    bool
	Unlocks  bool

	// KeepsLock edges may leave a locked state without reopening it
	// (e.g. converting an approved quote). They carry no payload changes.
	KeepsLock bool

	// MinJustification overrides DefaultMinJustification when positive.
	MinJustification int

	// Blocked edges exist in the graph shape but are never admissible.
	Blocked       bool
	BlockedReason string

	// RequiresClosedEscalations denies the edge while the document has open
	// escalation items.
	RequiresClosedEscalations bool

	// Escalation names a policy scheduled when the edge is applied.
	Escalation string
}

// minJustification returns the effective minimum length.
func (e *Edge) minJustification() int {
	if e.MinJustification > 0 {
		return e.MinJustification
	}
	return DefaultMinJustification
}

func (e *Edge) label() string {
	if e.Name != "" {
		return e.Name
	}
	return string(e.From) + "->" + string(e.To)
}

type edgeKey struct {
	from, to model.State
}

// Graph is the static transition graph of one document type.
type Graph struct {
	Type     model.DocumentType
	Initial  model.State
	States   []model.State
	Terminal []model.State
	Edges    []Edge

	// Thresholds are the variance bands used by variance-checked edges.
	Thresholds variance.Table

	// CreateRequires gates document creation; AmendRequires gates payload
	// amendments on unlocked documents.
	CreateRequires roles.Requirement
	AmendRequires  roles.Requirement

	states   map[model.State]bool
	terminal map[model.State]bool
	index    map[edgeKey]*Edge
}

// Compile validates the graph and builds its lookup indexes.
// A graph must be compiled before use; Compile is idempotent.
func (g *Graph) Compile() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("graph %s: "+format, append([]any{g.Type}, args...)...))
	}

	if g.Type == "" {
		return errors.New("graph: missing document type")
	}

	states := make(map[model.State]bool, len(g.States))
	for _, s := range g.States {
		if s == "" {
			fail("empty state name")
			continue
		}
		if states[s] {
			fail("duplicate state %q", s)
		}
		states[s] = true
	}
	if !states[g.Initial] {
		fail("initial state %q is not declared", g.Initial)
	}

	terminal := make(map[model.State]bool, len(g.Terminal))
	for _, s := range g.Terminal {
		if !states[s] {
			fail("terminal state %q is not declared", s)
		}
		terminal[s] = true
	}

	index := make(map[edgeKey]*Edge, len(g.Edges))
	for i := range g.Edges {
		e := &g.Edges[i]
		if !states[e.From] || !states[e.To] {
			fail("edge %s references an undeclared state", e.label())
			continue
		}
		if terminal[e.From] {
			fail("edge %s leaves terminal state %q", e.label(), e.From)
		}
		if e.Locks && e.Unlocks {
			fail("edge %s both locks and unlocks", e.label())
		}
		if e.Rollback && !e.Unlocks {
			fail("rollback edge %s must unlock", e.label())
		}
		if e.KeepsLock && (e.Rollback || e.Unlocks) {
			fail("edge %s cannot both keep and release the lock", e.label())
		}
		key := edgeKey{e.From, e.To}
		if _, dup := index[key]; dup {
			fail("duplicate edge %s", e.label())
			continue
		}
		index[key] = e
	}

	if err := g.Thresholds.Validate(); err != nil {
		fail("%v", err)
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	g.states = states
	g.terminal = terminal
	g.index = index
	return nil
}

// Edge returns the declared edge between two states.
func (g *Graph) Edge(from, to model.State) (*Edge, bool) {
	e, ok := g.index[edgeKey{from, to}]
	return e, ok
}

// EdgesFrom returns the edges leaving a state in declaration order.
func (g *Graph) EdgesFrom(from model.State) []*Edge {
	var out []*Edge
	for i := range g.Edges {
		if g.Edges[i].From == from {
			out = append(out, &g.Edges[i])
		}
	}
	return out
}

// HasState reports whether s is a node of the graph.
func (g *Graph) HasState(s model.State) bool {
	return g.states[s]
}

// IsTerminal reports whether s is a terminal state.
func (g *Graph) IsTerminal(s model.State) bool {
	return g.terminal[s]
}

// EscalationPolicies returns the distinct policy names referenced by edges.
func (g *Graph) EscalationPolicies() []string {
	var names []string
	for _, e := range g.Edges {
		if e.Escalation != "" && !slices.Contains(names, e.Escalation) {
			names = append(names, e.Escalation)
		}
	}
	slices.Sort(names)
	return names
}
