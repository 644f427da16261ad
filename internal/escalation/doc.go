// Package escalation tracks SLA deadlines for time-boxed action items and
// promotes overdue items to higher authority.
//
// Items move pending -> in_progress (Acknowledge) -> completed (Complete).
// When an open item's deadline passes, the sweep marks it escalated, emits
// an EscalationFired event naming the target role and, if the chain has
// another level, re-arms a fresh deadline for that level. An item at the
// last level stays escalated until a human completes or cancels it.
//
// Every status change happens under the scheduler mutex, so a sweep never
// fires an item whose completion or acknowledgment already took effect.
package escalation
