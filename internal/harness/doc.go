// Package harness runs workflow scenarios against an in-process engine.
//
// A scenario is a YAML file listing document operations, simulated time
// and expected outcomes:
//
//	name: quote_rollback
//	description: "Creator reopens an approved quote"
//	steps:
//	  - create: {id: q-1, type: quote, actor: alice}
//	  - transition: {document: q-1, to: PendingApproval, actor: alice}
//	  - transition: {document: q-1, to: Approved, actor: alice}
//	    expect: FORBIDDEN
//	  - advance: 31m
//	  - sweep: true
//	assertions:
//	  - type: state
//	    document: q-1
//	    state: PendingApproval
//
// Each run uses a fresh in-memory SQLite store, a fake clock starting at
// testutil.Epoch (or the scenario's start) and sequential identifiers, so
// the resulting trace is reproducible and can be compared against a golden
// file with RunWithGolden.
//
// # Step outcomes
//
// expect defaults to "ok". Other values are a denial code such as
// SELF_APPROVAL_BLOCKED, "request_error" for malformed requests,
// "not_found" for unknown documents and "no_open_items" when an escalation
// step finds nothing to act on.
//
// # Assertion types
//
//   - state: current state, lock and version of a document
//   - audit: number of audit entries (optionally of one action)
//   - chain_valid: the document's hash chain verifies
//   - escalation: status, assigned role and level of a document's items
//   - events: number of domain events of a kind
//   - payload: value of a payload field
package harness
