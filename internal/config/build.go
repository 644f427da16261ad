package config

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/roach88/gatehouse/internal/escalation"
	"github.com/roach88/gatehouse/internal/model"
	"github.com/roach88/gatehouse/internal/roles"
	"github.com/roach88/gatehouse/internal/variance"
	"github.com/roach88/gatehouse/internal/workflow"
)

// Bundle is a configuration ready to construct an engine.
type Bundle struct {
	Graphs      []*workflow.Graph
	Policy      *roles.Policy
	Directory   *roles.StaticDirectory
	Escalations []escalation.Policy
}

// Graph returns the graph for dt.
func (b *Bundle) Graph(dt model.DocumentType) (*workflow.Graph, bool) {
	for _, g := range b.Graphs {
		if g.Type == dt {
			return g, true
		}
	}
	return nil, false
}

// Build converts a decoded file. Graphs are compiled and cross references
// between documents, roles and escalation policies are checked.
func Build(f *File) (*Bundle, error) {
	var errs []error
	fail := func(path, format string, args ...any) {
		errs = append(errs, &Error{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	if len(f.Documents) == 0 {
		fail("documents", "at least one document type is required")
	}

	b := &Bundle{
		Policy:    roles.NewPolicy(),
		Directory: roles.NewStaticDirectory(),
	}

	for _, role := range sortedKeys(f.Roles) {
		for _, dt := range sortedKeys(f.Roles[role]) {
			path := "roles." + role + "." + dt
			if model.DocumentType(dt) != roles.AnyDocumentType {
				if _, ok := f.Documents[dt]; !ok {
					fail(path, "unknown document type %q", dt)
					continue
				}
			}
			caps := make([]roles.Capability, 0, len(f.Roles[role][dt]))
			for _, c := range f.Roles[role][dt] {
				if roles.Capability(c) == roles.CapDocumentCreator {
					fail(path, "%s cannot be granted", c)
					continue
				}
				caps = append(caps, roles.Capability(c))
			}
			b.Policy.Grant(role, model.DocumentType(dt), caps...)
		}
	}

	for _, id := range sortedKeys(f.Actors) {
		for _, r := range f.Actors[id] {
			if _, ok := f.Roles[r]; !ok {
				fail("actors."+id, "unknown role %q", r)
			}
		}
		b.Directory.Put(model.Actor{ID: id, AssignedRoles: slices.Clone(f.Actors[id])})
	}

	for _, name := range sortedKeys(f.Escalations) {
		p, err := buildEscalation(name, f.Escalations[name])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		b.Escalations = append(b.Escalations, p)
	}

	for _, dt := range sortedKeys(f.Documents) {
		g, err := buildGraph(model.DocumentType(dt), f.Documents[dt])
		if err != nil {
			errs = append(errs, &Error{Path: "documents." + dt, Message: err.Error()})
			continue
		}
		for _, name := range g.EscalationPolicies() {
			if _, ok := f.Escalations[name]; !ok {
				fail("documents."+dt, "unknown escalation policy %q", name)
			}
		}
		b.Graphs = append(b.Graphs, g)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return b, nil
}

func buildGraph(dt model.DocumentType, d DocumentSpec) (*workflow.Graph, error) {
	g := &workflow.Graph{
		Type:           dt,
		Initial:        model.State(d.Initial),
		States:         toStates(d.States),
		Terminal:       toStates(d.Terminal),
		CreateRequires: requirement(d.Create),
		AmendRequires:  requirement(d.Amend),
	}
	if len(d.Thresholds) > 0 {
		g.Thresholds = make(variance.Table, len(d.Thresholds))
		for field, th := range d.Thresholds {
			mode := model.VarianceMode(th.Mode)
			if mode == "" {
				mode = model.ModeRelative
			}
			g.Thresholds[field] = variance.Thresholds{Warning: th.Warning, Critical: th.Critical, Mode: mode}
		}
	}
	for _, e := range d.Edges {
		g.Edges = append(g.Edges, workflow.Edge{
			From:                      model.State(e.From),
			To:                        model.State(e.To),
			Name:                      e.Name,
			Requires:                  requirement(e.Requires),
			ForbidSelfApproval:        e.ForbidSelfApproval,
			RequiresVarianceCheck:     e.VarianceCheck,
			Rollback:                  e.Rollback,
			Locks:                     e.Locks,
			Unlocks:                   e.Unlocks,
			KeepsLock:                 e.KeepsLock,
			MinJustification:          e.MinJustification,
			Blocked:                   e.Blocked,
			BlockedReason:             e.BlockedReason,
			RequiresClosedEscalations: e.RequiresClosedEscalations,
			Escalation:                e.Escalation,
		})
		if e.VarianceCheck && len(d.Thresholds) == 0 {
			return nil, fmt.Errorf("edge %s->%s checks variance but no thresholds are configured", e.From, e.To)
		}
	}
	if err := g.Compile(); err != nil {
		return nil, err
	}
	return g, nil
}

func buildEscalation(name string, s EscalationSpec) (escalation.Policy, error) {
	path := "escalations." + name
	window, err := time.ParseDuration(s.Window)
	if err != nil {
		return escalation.Policy{}, &Error{Path: path + ".window", Message: err.Error()}
	}
	p := escalation.Policy{
		Name:         name,
		ActionName:   s.Action,
		AssignedRole: s.AssignedRole,
		Window:       window,
	}
	for i, l := range s.Levels {
		after, err := time.ParseDuration(l.After)
		if err != nil {
			return escalation.Policy{}, &Error{Path: fmt.Sprintf("%s.levels[%d].after", path, i), Message: err.Error()}
		}
		p.Levels = append(p.Levels, model.EscalationLevel{Role: l.Role, After: after})
	}
	if err := p.Validate(); err != nil {
		return escalation.Policy{}, &Error{Path: path, Message: err.Error()}
	}
	return p, nil
}

// requirement converts an OR-of-AND list. An empty list admits anyone.
func requirement(anyOf [][]string) roles.Requirement {
	var r roles.Requirement
	for _, all := range anyOf {
		group := make([]roles.Capability, len(all))
		for i, c := range all {
			group[i] = roles.Capability(c)
		}
		r.AnyOf = append(r.AnyOf, group)
	}
	return r
}

func toStates(in []string) []model.State {
	out := make([]model.State, len(in))
	for i, s := range in {
		out[i] = model.State(s)
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
