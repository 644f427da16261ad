package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/roach88/gatehouse/internal/model"
)

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const documentColumns = `id, document_type, current_state, created_by, created_at, locked_at, payload::text, version`

// CreateDocument inserts a new document together with its creation entry,
// sealed by seal. An existing id returns model.ErrDuplicate.
func (s *Store) CreateDocument(ctx context.Context, doc model.Document, seal model.SealFunc) (model.AuditEntry, error) {
	payloadJSON, err := marshalPayload(doc.Payload)
	if err != nil {
		return model.AuditEntry{}, fmt.Errorf("create document: %w", err)
	}

	var entry model.AuditEntry
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO documents
			(id, document_type, current_state, created_by, created_at, locked_at, payload, version)
			VALUES ($1, $2, $3, $4, $5, $6, $7::json, $8)
		`,
			doc.ID,
			string(doc.Type),
			string(doc.State),
			doc.CreatedBy,
			model.FormatTime(doc.CreatedAt),
			formatNullTime(doc.LockedAt),
			payloadJSON,
			doc.Version,
		)
		if isUniqueViolation(err) {
			return fmt.Errorf("document %s: %w", doc.ID, model.ErrDuplicate)
		}
		if err != nil {
			return fmt.Errorf("create document %s: %w", doc.ID, err)
		}
		entry, err = appendSealed(ctx, tx, doc.ID, seal)
		if err != nil {
			return fmt.Errorf("create document %s: %w", doc.ID, err)
		}
		return nil
	})
	if err != nil {
		return model.AuditEntry{}, err
	}
	return entry, nil
}

// LoadDocument returns model.ErrNotFound when id does not exist.
func (s *Store) LoadDocument(ctx context.Context, id string) (model.Document, error) {
	return loadDocument(ctx, s.pool, id)
}

func loadDocument(ctx context.Context, q querier, id string) (model.Document, error) {
	row := q.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Document{}, fmt.Errorf("document %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.Document{}, fmt.Errorf("load document %s: %w", id, err)
	}
	return doc, nil
}

// ListDocuments returns documents of a type ordered by id. An empty
// docType lists every document.
func (s *Store) ListDocuments(ctx context.Context, docType model.DocumentType) ([]model.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents`
	var args []any
	if docType != "" {
		query += ` WHERE document_type = $1`
		args = append(args, string(docType))
	}
	query += ` ORDER BY id COLLATE "C" ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	docs := []model.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("list documents: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

// CommitTransition stores doc and its audit entry, sealed by seal, in one
// transaction when the stored version equals expectedVersion. Otherwise it
// returns model.ErrConcurrentModification and writes nothing.
func (s *Store) CommitTransition(ctx context.Context, doc model.Document, expectedVersion int64, seal model.SealFunc) (model.AuditEntry, error) {
	payloadJSON, err := marshalPayload(doc.Payload)
	if err != nil {
		return model.AuditEntry{}, fmt.Errorf("commit transition: %w", err)
	}

	var entry model.AuditEntry
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE documents
			SET current_state = $1, locked_at = $2, payload = $3::json, version = $4
			WHERE id = $5 AND version = $6
		`,
			string(doc.State),
			formatNullTime(doc.LockedAt),
			payloadJSON,
			doc.Version,
			doc.ID,
			expectedVersion,
		)
		if err != nil {
			return fmt.Errorf("commit transition %s: %w", doc.ID, err)
		}
		if tag.RowsAffected() == 0 {
			if _, err := loadDocument(ctx, tx, doc.ID); err != nil {
				return err
			}
			return fmt.Errorf("document %s at version %d: %w", doc.ID, expectedVersion, model.ErrConcurrentModification)
		}
		entry, err = appendSealed(ctx, tx, doc.ID, seal)
		if err != nil {
			return fmt.Errorf("commit transition %s: %w", doc.ID, err)
		}
		return nil
	})
	if err != nil {
		return model.AuditEntry{}, err
	}
	return entry, nil
}

func scanDocument(row pgx.Row) (model.Document, error) {
	var (
		doc         model.Document
		docType     string
		state       string
		createdAt   string
		lockedAt    *string
		payloadJSON string
	)
	if err := row.Scan(&doc.ID, &docType, &state, &doc.CreatedBy, &createdAt, &lockedAt, &payloadJSON, &doc.Version); err != nil {
		return model.Document{}, err
	}

	doc.Type = model.DocumentType(docType)
	doc.State = model.State(state)

	var err error
	if doc.CreatedAt, err = model.ParseTime(createdAt); err != nil {
		return model.Document{}, fmt.Errorf("parse created_at: %w", err)
	}
	if doc.LockedAt, err = parseNullTime(lockedAt); err != nil {
		return model.Document{}, fmt.Errorf("parse locked_at: %w", err)
	}
	if doc.Payload, err = model.DecodePayload([]byte(payloadJSON)); err != nil {
		return model.Document{}, fmt.Errorf("parse payload: %w", err)
	}
	return doc, nil
}

func marshalPayload(p model.Payload) (string, error) {
	if p == nil {
		return "{}", nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return string(data), nil
}

func formatNullTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := model.FormatTime(*t)
	return &s
}

func parseNullTime(s *string) (*time.Time, error) {
	if s == nil {
		return nil, nil
	}
	t, err := model.ParseTime(*s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
