// Package store provides SQLite-backed durable storage for the governance
// engine.
//
// The store holds three tables:
//   - documents: workflow documents with an optimistic version token
//   - audit_entries: the append-only audit trail (UPDATE/DELETE abort)
//   - escalation_items: scheduler items and their status history head
//
// # Critical Patterns
//
// Optimistic concurrency:
//   - Every document write names the version it was read at
//   - A mismatch returns model.ErrConcurrentModification
//
// Transition atomicity:
//   - CommitTransition writes the document and its audit entry in one
//     transaction; neither is visible without the other
//
// Audit sealing:
//   - seq and the chain head are read inside the inserting transaction
//   - Transactions begin IMMEDIATE, so processes sharing the file take
//     the write lock before reading the head
//   - A second successor of the same entry violates a unique index
//
// Escalation items:
//   - A closed item (completed, cancelled, failed) is never overwritten;
//     SaveEscalation returns model.ErrConcurrentModification instead
//
// Deterministic reads:
//   - Audit queries use ORDER BY seq ASC
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=FULL: an appended audit entry survives power loss
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
