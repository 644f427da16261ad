package roles

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/gatehouse/internal/model"
)

// ErrUnknownActor is returned by directories for actors they do not know.
var ErrUnknownActor = errors.New("unknown actor")

// AnyDocumentType is the policy wildcard matching every document type.
const AnyDocumentType model.DocumentType = "*"

// Directory is the identity collaborator: it resolves actor identities.
type Directory interface {
	LookupActor(ctx context.Context, actorID string) (model.Actor, error)
}

// Policy maps role names to capabilities per document type.
type Policy struct {
	Grants map[string]map[model.DocumentType][]Capability
}

// NewPolicy creates an empty policy.
func NewPolicy() *Policy {
	return &Policy{Grants: make(map[string]map[model.DocumentType][]Capability)}
}

// Grant gives role the capabilities on documents of type dt.
// Use AnyDocumentType to grant on every type.
func (p *Policy) Grant(role string, dt model.DocumentType, caps ...Capability) *Policy {
	if p.Grants == nil {
		p.Grants = make(map[string]map[model.DocumentType][]Capability)
	}
	byType, ok := p.Grants[role]
	if !ok {
		byType = make(map[model.DocumentType][]Capability)
		p.Grants[role] = byType
	}
	byType[dt] = append(byType[dt], caps...)
	return p
}

// Expand returns the capabilities granted by roles on document type dt.
func (p *Policy) Expand(roles []string, dt model.DocumentType) CapabilitySet {
	out := CapabilitySet{}
	if p == nil {
		return out
	}
	for _, role := range roles {
		byType := p.Grants[role]
		for _, c := range byType[AnyDocumentType] {
			out[c] = struct{}{}
		}
		for _, c := range byType[dt] {
			out[c] = struct{}{}
		}
	}
	// The creator flag is contextual; a policy can never hand it out.
	delete(out, CapDocumentCreator)
	return out
}

// Roles returns every role name mentioned in the policy, sorted.
func (p *Policy) Roles() []string {
	out := make([]string, 0, len(p.Grants))
	for r := range p.Grants {
		out = append(out, r)
	}
	slices.Sort(out)
	return out
}

// Resolver implements resolve(actorId, documentType) -> CapabilitySet.
//
// Thread-safety: Resolver holds no mutable state and is safe for concurrent use.
type Resolver struct {
	dir    Directory
	policy *Policy
}

// NewResolver creates a resolver over a directory and policy.
func NewResolver(dir Directory, policy *Policy) *Resolver {
	return &Resolver{dir: dir, policy: policy}
}

// Resolve returns the actor's capabilities for the document type.
// It never fails: unknown actors and directory errors yield the empty set.
func (r *Resolver) Resolve(ctx context.Context, actorID string, dt model.DocumentType) CapabilitySet {
	if actorID == "" || r.dir == nil {
		return CapabilitySet{}
	}
	actor, err := r.dir.LookupActor(ctx, actorID)
	if err != nil {
		if !errors.Is(err, ErrUnknownActor) {
			slog.Warn("actor lookup failed, resolving to no capabilities",
				"actor", actorID,
				"error", err,
			)
		}
		return CapabilitySet{}
	}
	return r.policy.Expand(actor.AssignedRoles, dt)
}

// StaticDirectory is an in-memory Directory.
// It backs configuration-defined actors and tests.
//
// Thread-safety: safe for concurrent use.
type StaticDirectory struct {
	mu     sync.RWMutex
	actors map[string]model.Actor
}

// NewStaticDirectory creates a directory holding the given actors.
func NewStaticDirectory(actors ...model.Actor) *StaticDirectory {
	d := &StaticDirectory{actors: make(map[string]model.Actor, len(actors))}
	for _, a := range actors {
		d.actors[a.ID] = a
	}
	return d
}

// Put adds or replaces an actor.
func (d *StaticDirectory) Put(a model.Actor) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.actors[a.ID] = a
}

// LookupActor implements Directory.
func (d *StaticDirectory) LookupActor(_ context.Context, actorID string) (model.Actor, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	a, ok := d.actors[actorID]
	if !ok {
		return model.Actor{}, fmt.Errorf("lookup %q: %w", actorID, ErrUnknownActor)
	}
	a.AssignedRoles = append([]string(nil), a.AssignedRoles...)
	return a, nil
}

// Len returns the number of actors in the directory.
func (d *StaticDirectory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.actors)
}
