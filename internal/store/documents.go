package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/gatehouse/internal/model"
)

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CreateDocument inserts a new document together with its creation audit
// entry, sealed by seal. The document's Version must be 1. An existing id
// returns model.ErrDuplicate.
func (s *Store) CreateDocument(ctx context.Context, doc model.Document, seal model.SealFunc) (model.AuditEntry, error) {
	payloadJSON, err := marshalPayload(doc.Payload)
	if err != nil {
		return model.AuditEntry{}, fmt.Errorf("create document: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.AuditEntry{}, fmt.Errorf("create document: begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents
		(id, document_type, current_state, created_by, created_at, locked_at, payload, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		doc.ID,
		string(doc.Type),
		string(doc.State),
		doc.CreatedBy,
		model.FormatTime(doc.CreatedAt),
		nullTime(doc.LockedAt),
		payloadJSON,
		doc.Version,
	)
	if isUniqueViolation(err) {
		return model.AuditEntry{}, fmt.Errorf("document %s: %w", doc.ID, model.ErrDuplicate)
	}
	if err != nil {
		return model.AuditEntry{}, fmt.Errorf("create document %s: %w", doc.ID, err)
	}

	entry, err := appendSealed(ctx, tx, doc.ID, seal)
	if err != nil {
		return model.AuditEntry{}, fmt.Errorf("create document %s: %w", doc.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return model.AuditEntry{}, fmt.Errorf("create document %s: commit: %w", doc.ID, err)
	}
	return entry, nil
}

// LoadDocument returns the document with the given ID.
// Returns model.ErrNotFound if it does not exist.
func (s *Store) LoadDocument(ctx context.Context, id string) (model.Document, error) {
	return loadDocument(ctx, s.db, id)
}

func loadDocument(ctx context.Context, q execer, id string) (model.Document, error) {
	row := q.QueryRowContext(ctx, `
		SELECT id, document_type, current_state, created_by, created_at, locked_at, payload, version
		FROM documents
		WHERE id = ?
	`, id)

	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Document{}, fmt.Errorf("document %s: %w", id, model.ErrNotFound)
	}
	if err != nil {
		return model.Document{}, fmt.Errorf("load document %s: %w", id, err)
	}
	return doc, nil
}

// ListDocuments returns documents of a type ordered by id.
// An empty docType lists every document.
func (s *Store) ListDocuments(ctx context.Context, docType model.DocumentType) ([]model.Document, error) {
	query := `
		SELECT id, document_type, current_state, created_by, created_at, locked_at, payload, version
		FROM documents`
	var args []any
	if docType != "" {
		query += ` WHERE document_type = ?`
		args = append(args, string(docType))
	}
	query += ` ORDER BY id COLLATE BINARY ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
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
// transaction.
//
// The update only applies when the stored version equals expectedVersion;
// otherwise model.ErrConcurrentModification is returned and nothing is
// written. doc.Version must already be incremented by the caller.
func (s *Store) CommitTransition(ctx context.Context, doc model.Document, expectedVersion int64, seal model.SealFunc) (model.AuditEntry, error) {
	payloadJSON, err := marshalPayload(doc.Payload)
	if err != nil {
		return model.AuditEntry{}, fmt.Errorf("commit transition: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.AuditEntry{}, fmt.Errorf("commit transition: begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE documents
		SET current_state = ?, locked_at = ?, payload = ?, version = ?
		WHERE id = ? AND version = ?
	`,
		string(doc.State),
		nullTime(doc.LockedAt),
		payloadJSON,
		doc.Version,
		doc.ID,
		expectedVersion,
	)
	if err != nil {
		return model.AuditEntry{}, fmt.Errorf("commit transition %s: %w", doc.ID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return model.AuditEntry{}, fmt.Errorf("commit transition %s: rows affected: %w", doc.ID, err)
	}
	if n == 0 {
		if _, err := loadDocument(ctx, tx, doc.ID); err != nil {
			return model.AuditEntry{}, err
		}
		return model.AuditEntry{}, fmt.Errorf("document %s at version %d: %w", doc.ID, expectedVersion, model.ErrConcurrentModification)
	}

	entry, err := appendSealed(ctx, tx, doc.ID, seal)
	if err != nil {
		return model.AuditEntry{}, fmt.Errorf("commit transition %s: %w", doc.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return model.AuditEntry{}, fmt.Errorf("commit transition %s: commit: %w", doc.ID, err)
	}
	return entry, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (model.Document, error) {
	var (
		doc         model.Document
		docType     string
		state       string
		createdAt   string
		lockedAt    sql.NullString
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
