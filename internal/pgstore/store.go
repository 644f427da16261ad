package pgstore

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/roach88/gatehouse/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// 1 - documents, audit_entries (append-only triggers), escalation_items
// 2 - unique (document_id, prev_hash) on audit_entries
const currentSchemaVersion = 2

// auditLockKey names the transaction-scoped advisory lock that serializes
// audit appends across every process sharing the database.
const auditLockKey int64 = 0x6761746568736571

// Store is a PostgreSQL-backed store.
type Store struct {
	pool *pgxpool.Pool
}

type options struct {
	schema   string
	maxConns int32
}

// Option configures Open.
type Option func(*options)

// WithSchema places every table in the named schema, creating it if needed.
func WithSchema(name string) Option {
	return func(o *options) { o.schema = name }
}

// WithMaxConns caps the pool size.
func WithMaxConns(n int32) Option {
	return func(o *options) { o.maxConns = n }
}

// Open connects to dsn and applies the schema.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if o.maxConns > 0 {
		cfg.MaxConns = o.maxConns
	}
	if o.schema != "" {
		cfg.ConnConfig.RuntimeParams["search_path"] = o.schema
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if o.schema != "" {
		if _, err := pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{o.schema}.Sanitize()); err != nil {
			pool.Close()
			return nil, fmt.Errorf("create schema %s: %w", o.schema, err)
		}
	}

	if err := applySchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

func applySchema(ctx context.Context, pool *pgxpool.Pool) error {
	// Without arguments pgx uses the simple protocol, which accepts
	// multiple statements.
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return err
	}

	var version int
	err := pool.QueryRow(ctx, `SELECT version FROM gatehouse_schema LIMIT 1`).Scan(&version)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		_, err = pool.Exec(ctx, `INSERT INTO gatehouse_schema (version) VALUES ($1)`, currentSchemaVersion)
		return err
	case err != nil:
		return err
	case version > currentSchemaVersion:
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	case version < currentSchemaVersion:
		_, err = pool.Exec(ctx, `UPDATE gatehouse_schema SET version = $1`, currentSchemaVersion)
		return err
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Pool exposes the underlying pool.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// isUniqueViolation reports SQLSTATE 23505.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// mapAppendOnly converts the trigger exception into model.ErrAppendOnly.
func mapAppendOnly(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.Contains(pgErr.Message, "append-only") {
		return fmt.Errorf("%s: %w", pgErr.Message, model.ErrAppendOnly)
	}
	return err
}
