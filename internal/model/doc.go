// Package model provides the shared types of the approval governance engine.
//
// This package contains type definitions, storage sentinels and the canonical
// serialization used for the audit hash chain. All other internal packages
// import model; model imports nothing internal. This keeps the shared types
// the foundational layer with no circular dependencies.
//
// Key design constraints:
//   - Document.State is only ever mutated by the workflow engine
//   - AuditEntry values are immutable once sealed by the ledger
//   - Quantities are decimal.Decimal, never float64
//   - All JSON tags use snake_case
package model
