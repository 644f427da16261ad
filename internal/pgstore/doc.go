// Package pgstore implements the gatehouse store contract on PostgreSQL
// through pgx.
//
// It mirrors package store: documents carry an optimistic version, audit
// entries are append-only (triggers reject UPDATE, DELETE and TRUNCATE) and
// escalation items are upserted by id. Use it when several operators share
// one authoritative database.
package pgstore
