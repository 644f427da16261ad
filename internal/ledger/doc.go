// Package ledger implements the append-only audit ledger.
//
// Every transition attempt (applied or denied), rollback and amendment is
// sealed here: the ledger assigns the entry's identity, logical sequence
// number and timestamp, then chains it to the previous entry of the same
// document with a SHA-256 hash. The public contract exposes only Append,
// Commit and QueryByDocument; nothing updates or deletes an entry.
//
// # Concurrency
//
// Appends for the same document are serialized in-process through a
// per-document lock. The sequence number and the previous hash are read by
// the store inside the inserting transaction, under a store-wide write lock,
// so several processes sharing one database never hand out the same seq or
// fork a chain.
//
// # Linearizability with state changes
//
// Commit hands a seal function to a caller-supplied apply function that must
// seal and persist the entry together with the document mutation in one
// store transaction. Either both land or neither does, so "state changed but no
// audit entry exists" is not reachable.
package ledger
