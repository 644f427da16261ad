package workflow

import (
	"fmt"
	"strings"

	"github.com/roach88/gatehouse/internal/model"
)

// Warning kinds reported by Analyze.
const (
	WarnUnreachable = "unreachable"
	WarnDeadEnd     = "dead_end"
	WarnTrap        = "trap"
)

// Warning is a shape problem of a compiled graph. Warnings do not prevent the
// graph from being used; a document can still get stuck in it.
type Warning struct {
	Kind    string        `json:"kind"`
	States  []model.State `json:"states"`
	Message string        `json:"message"`
}

// Analyze reports states that no document can reach, non-terminal states
// without an admissible way out, and cycles with no path to a terminal
// state. Blocked edges are ignored. g must be compiled. Results follow the
// declaration order of g.States.
func Analyze(g *Graph) []Warning {
	adj := make(map[model.State][]model.State, len(g.States))
	rev := make(map[model.State][]model.State, len(g.States))
	for _, e := range g.Edges {
		if e.Blocked {
			continue
		}
		adj[e.From] = append(adj[e.From], e.To)
		rev[e.To] = append(rev[e.To], e.From)
	}

	reachable := walk(adj, []model.State{g.Initial})
	exits := walk(rev, g.Terminal)

	var warnings []Warning
	for _, s := range g.States {
		if !reachable[s] {
			warnings = append(warnings, Warning{
				Kind:    WarnUnreachable,
				States:  []model.State{s},
				Message: fmt.Sprintf("state %s cannot be reached from %s", s, g.Initial),
			})
			continue
		}
		if !g.IsTerminal(s) && len(adj[s]) == 0 {
			warnings = append(warnings, Warning{
				Kind:    WarnDeadEnd,
				States:  []model.State{s},
				Message: fmt.Sprintf("state %s is not terminal and has no outgoing edge", s),
			})
		}
	}

	for _, scc := range stronglyConnected(g.States, adj) {
		if !reachable[scc[0]] || exits[scc[0]] {
			continue
		}
		if len(scc) == 1 && !hasSelfLoop(scc[0], adj) {
			continue
		}
		names := make([]string, len(scc)+1)
		for i, s := range scc {
			names[i] = string(s)
		}
		names[len(scc)] = string(scc[0])
		warnings = append(warnings, Warning{
			Kind:    WarnTrap,
			States:  scc,
			Message: "cycle never reaches a terminal state: " + strings.Join(names, " -> "),
		})
	}
	return warnings
}

// walk returns every state reachable from start over adj.
func walk(adj map[model.State][]model.State, start []model.State) map[model.State]bool {
	seen := make(map[model.State]bool)
	queue := append([]model.State(nil), start...)
	for _, s := range start {
		seen[s] = true
	}
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]
		for _, next := range adj[s] {
			if !seen[next] {
				seen[next] = true
				queue = append(queue, next)
			}
		}
	}
	return seen
}

func hasSelfLoop(s model.State, adj map[model.State][]model.State) bool {
	for _, next := range adj[s] {
		if next == s {
			return true
		}
	}
	return false
}

// stronglyConnected runs Tarjan's algorithm. Each component is returned in
// the order its states were first visited.
func stronglyConnected(states []model.State, adj map[model.State][]model.State) [][]model.State {
	var (
		index   int
		stack   []model.State
		indices = make(map[model.State]int)
		lowlink = make(map[model.State]int)
		onStack = make(map[model.State]bool)
		sccs    [][]model.State
	)

	var connect func(model.State)
	connect = func(v model.State) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range adj[v] {
			if _, visited := indices[w]; !visited {
				connect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []model.State
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			// Popped in reverse visiting order.
			for i, j := 0, len(scc)-1; i < j; i, j = i+1, j-1 {
				scc[i], scc[j] = scc[j], scc[i]
			}
			sccs = append(sccs, scc)
		}
	}

	for _, s := range states {
		if _, visited := indices[s]; !visited {
			connect(s)
		}
	}
	return sccs
}
