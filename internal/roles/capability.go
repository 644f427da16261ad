package roles

import (
	"slices"
	"strings"
)

// Capability is a single permission flag.
type Capability string

// Well-known capabilities. Policies may define others.
const (
	CapCreate            Capability = "create"
	CapSubmit            Capability = "submit"
	CapApproveFinancial  Capability = "approve_financial"
	CapApproveTechnical  Capability = "approve_technical"
	CapValidateFrontDesk Capability = "validate_front_desk"
	CapReopen            Capability = "reopen"
	CapReject            Capability = "reject"
	CapConvert           Capability = "convert"
	CapAmend             Capability = "amend"

	// CapDocumentCreator is added by the engine for the document's creator.
	// It is never granted through a policy.
	CapDocumentCreator Capability = "is_creator_of_document"
)

// CapabilitySet is an immutable-by-convention set of capabilities.
type CapabilitySet map[Capability]struct{}

// NewCapabilitySet builds a set from the given capabilities.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	s := make(CapabilitySet, len(caps))
	for _, c := range caps {
		s[c] = struct{}{}
	}
	return s
}

// Has reports whether c is in the set.
func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// With returns a copy of s including the given capabilities.
func (s CapabilitySet) With(caps ...Capability) CapabilitySet {
	out := make(CapabilitySet, len(s)+len(caps))
	for c := range s {
		out[c] = struct{}{}
	}
	for _, c := range caps {
		out[c] = struct{}{}
	}
	return out
}

// Slice returns the capabilities in sorted order.
func (s CapabilitySet) Slice() []Capability {
	out := make([]Capability, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

func (s CapabilitySet) String() string {
	parts := make([]string, 0, len(s))
	for _, c := range s.Slice() {
		parts = append(parts, string(c))
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// Requirement is an OR of AND groups.
// The zero Requirement is always satisfied.
type Requirement struct {
	AnyOf [][]Capability `json:"any_of"`
}

// RequireAll builds a requirement with one group.
func RequireAll(caps ...Capability) Requirement {
	return Requirement{AnyOf: [][]Capability{caps}}
}

// RequireAny builds a requirement where any single capability suffices.
func RequireAny(caps ...Capability) Requirement {
	groups := make([][]Capability, len(caps))
	for i, c := range caps {
		groups[i] = []Capability{c}
	}
	return Requirement{AnyOf: groups}
}

// Or returns a requirement that holds when r or other holds.
func (r Requirement) Or(other Requirement) Requirement {
	if r.IsZero() || other.IsZero() {
		return Requirement{}
	}
	groups := make([][]Capability, 0, len(r.AnyOf)+len(other.AnyOf))
	groups = append(groups, r.AnyOf...)
	groups = append(groups, other.AnyOf...)
	return Requirement{AnyOf: groups}
}

// IsZero reports whether the requirement imposes nothing.
func (r Requirement) IsZero() bool {
	return len(r.AnyOf) == 0
}

// SatisfiedBy evaluates the requirement against a capability set.
// An empty group never matches; it would otherwise grant everyone access.
func (r Requirement) SatisfiedBy(s CapabilitySet) bool {
	if r.IsZero() {
		return true
	}
	for _, group := range r.AnyOf {
		if len(group) == 0 {
			continue
		}
		ok := true
		for _, c := range group {
			if !s.Has(c) {
				ok = false
				break
			}
		}
		if ok {
			return true
		}
	}
	return false
}

func (r Requirement) String() string {
	if r.IsZero() {
		return "(none)"
	}
	groups := make([]string, 0, len(r.AnyOf))
	for _, g := range r.AnyOf {
		parts := make([]string, len(g))
		for i, c := range g {
			parts[i] = string(c)
		}
		groups = append(groups, "("+strings.Join(parts, " AND ")+")")
	}
	return strings.Join(groups, " OR ")
}
