package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/gatehouse/internal/model"
)

// AppendAuditEntry seals and inserts an entry on its own.
// Used for denials, which change no document state.
func (s *Store) AppendAuditEntry(ctx context.Context, documentID string, seal model.SealFunc) (model.AuditEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.AuditEntry{}, fmt.Errorf("append audit entry: begin: %w", err)
	}
	defer tx.Rollback()

	entry, err := appendSealed(ctx, tx, documentID, seal)
	if err != nil {
		return model.AuditEntry{}, fmt.Errorf("append audit entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.AuditEntry{}, fmt.Errorf("append audit entry: commit: %w", err)
	}
	return entry, nil
}

// appendSealed reads the chain head inside tx, seals the entry at it and
// inserts the result. Transactions begin IMMEDIATE (see connParams), so the
// head cannot move before commit, even with other processes on the file.
func appendSealed(ctx context.Context, tx execer, documentID string, seal model.SealFunc) (model.AuditEntry, error) {
	head, err := chainHead(ctx, tx, documentID)
	if err != nil {
		return model.AuditEntry{}, err
	}
	entry, err := seal(head)
	if err != nil {
		return model.AuditEntry{}, err
	}
	if entry.DocumentID != documentID || entry.Seq != head.Seq || entry.PrevHash != head.PrevHash {
		return model.AuditEntry{}, fmt.Errorf("entry %s is not sealed at the chain head of %s", entry.ID, documentID)
	}
	if err := insertAuditEntry(ctx, tx, entry); err != nil {
		return model.AuditEntry{}, err
	}
	return entry, nil
}

func chainHead(ctx context.Context, q execer, documentID string) (model.ChainHead, error) {
	var head model.ChainHead
	if err := q.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM audit_entries`).Scan(&head.Seq); err != nil {
		return model.ChainHead{}, fmt.Errorf("read next seq: %w", err)
	}
	err := q.QueryRowContext(ctx, `
		SELECT hash FROM audit_entries
		WHERE document_id = ?
		ORDER BY seq DESC
		LIMIT 1
	`, documentID).Scan(&head.PrevHash)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return model.ChainHead{}, fmt.Errorf("read chain head of %s: %w", documentID, err)
	}
	return head, nil
}

func insertAuditEntry(ctx context.Context, q execer, e model.AuditEntry) error {
	snapshotJSON, err := marshalSnapshot(e.Snapshot)
	if err != nil {
		return err
	}

	var reason sql.NullString
	if e.Reason != nil {
		reason = sql.NullString{String: *e.Reason, Valid: true}
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO audit_entries
		(seq, id, document_id, document_type, actor_id, action, from_state, to_state,
		 reason, denial, timestamp, snapshot, prev_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		e.Seq,
		e.ID,
		e.DocumentID,
		string(e.DocumentType),
		e.ActorID,
		string(e.Action),
		string(e.From),
		string(e.To),
		reason,
		e.Denial,
		model.FormatTime(e.Timestamp),
		snapshotJSON,
		e.PrevHash,
		e.Hash,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry %s: %w", e.ID, err)
	}
	return nil
}

// QueryAuditTrail returns every entry for a document ordered by seq.
// Returns an empty slice (not nil) when none exist.
func (s *Store) QueryAuditTrail(ctx context.Context, documentID string) ([]model.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, id, document_id, document_type, actor_id, action, from_state, to_state,
		       reason, denial, timestamp, snapshot, prev_hash, hash
		FROM audit_entries
		WHERE document_id = ?
		ORDER BY seq ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("query audit trail: %w", err)
	}
	defer rows.Close()

	entries := []model.AuditEntry{}
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit trail: %w", err)
	}
	return entries, nil
}

// LastAuditEntry returns the most recent entry for a document.
// Returns model.ErrNotFound if the document has no entries.
func (s *Store) LastAuditEntry(ctx context.Context, documentID string) (model.AuditEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT seq, id, document_id, document_type, actor_id, action, from_state, to_state,
		       reason, denial, timestamp, snapshot, prev_hash, hash
		FROM audit_entries
		WHERE document_id = ?
		ORDER BY seq DESC
		LIMIT 1
	`, documentID)

	e, err := scanAuditEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AuditEntry{}, model.ErrNotFound
	}
	return e, err
}

// rewriteAuditEntry attempts an in-place update of an entry. The schema
// rejects it; it exists so tests can prove that.
func (s *Store) rewriteAuditEntry(ctx context.Context, id, actorID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE audit_entries SET actor_id = ? WHERE id = ?`, actorID, id)
	return mapAppendOnly(err)
}

// deleteAuditEntry attempts to delete an entry. Always rejected by the schema.
func (s *Store) deleteAuditEntry(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM audit_entries WHERE id = ?`, id)
	return mapAppendOnly(err)
}

func scanAuditEntry(row rowScanner) (model.AuditEntry, error) {
	var (
		e            model.AuditEntry
		docType      string
		action       string
		from, to     string
		reason       sql.NullString
		timestamp    string
		snapshotJSON string
	)
	err := row.Scan(&e.Seq, &e.ID, &e.DocumentID, &docType, &e.ActorID, &action, &from, &to,
		&reason, &e.Denial, &timestamp, &snapshotJSON, &e.PrevHash, &e.Hash)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AuditEntry{}, err
	}
	if err != nil {
		return model.AuditEntry{}, fmt.Errorf("scan audit entry: %w", err)
	}

	e.DocumentType = model.DocumentType(docType)
	e.Action = model.AuditAction(action)
	e.From = model.State(from)
	e.To = model.State(to)
	if reason.Valid {
		r := reason.String
		e.Reason = &r
	}
	if e.Timestamp, err = model.ParseTime(timestamp); err != nil {
		return model.AuditEntry{}, fmt.Errorf("parse audit timestamp: %w", err)
	}
	if e.Snapshot, err = unmarshalSnapshot(snapshotJSON); err != nil {
		return model.AuditEntry{}, err
	}
	return e, nil
}
