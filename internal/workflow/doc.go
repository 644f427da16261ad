// Package workflow implements the document state machine.
//
// Each document type has a fixed transition graph. A transition request
// is admitted only if every gate on the edge passes, in this order:
//
//  1. the edge exists in the graph (and is not declared blocked)
//  2. the document is unlocked, or the edge is a rollback
//  3. the actor's capabilities satisfy the edge requirement
//  4. the actor is not the creator on an edge forbidding self-approval
//  5. no critical variance remains unjustified
//  6. a rollback carries a justification of the minimum length
//
// Applied transitions change the document and append an audit entry in one
// store transaction. Denials append a denial entry and return a *GateError.
package workflow
