// Package roles maps actors to capability flags.
//
// The resolver is the engine's only seam to the identity collaborator: it
// asks a Directory for the actor's assigned roles and expands them through
// a Policy into a CapabilitySet for one document type. Unknown actors and
// lookup failures resolve to the empty set (fail closed).
//
// Requirements attached to transition edges are OR-of-AND groups over
// capabilities: the requirement holds when every capability of at least one
// group is present.
package roles
