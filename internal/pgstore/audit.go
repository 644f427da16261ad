package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/roach88/gatehouse/internal/model"
)

const auditColumns = `seq, id, document_id, document_type, actor_id, action, from_state, to_state,
		reason, denial, "timestamp", snapshot::text, prev_hash, hash`

// AppendAuditEntry seals and inserts an entry on its own (denials).
func (s *Store) AppendAuditEntry(ctx context.Context, documentID string, seal model.SealFunc) (model.AuditEntry, error) {
	var entry model.AuditEntry
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var err error
		entry, err = appendSealed(ctx, tx, documentID, seal)
		return err
	})
	if err != nil {
		return model.AuditEntry{}, fmt.Errorf("append audit entry: %w", err)
	}
	return entry, nil
}

// appendSealed takes the audit advisory lock, reads the chain head, seals
// the entry at it and inserts the result. The lock is held until tx ends.
func appendSealed(ctx context.Context, tx pgx.Tx, documentID string, seal model.SealFunc) (model.AuditEntry, error) {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, auditLockKey); err != nil {
		return model.AuditEntry{}, fmt.Errorf("lock audit trail: %w", err)
	}

	var head model.ChainHead
	if err := tx.QueryRow(ctx, `SELECT COALESCE(MAX(seq), 0) + 1 FROM audit_entries`).Scan(&head.Seq); err != nil {
		return model.AuditEntry{}, fmt.Errorf("read next seq: %w", err)
	}
	err := tx.QueryRow(ctx, `
		SELECT hash FROM audit_entries
		WHERE document_id = $1
		ORDER BY seq DESC
		LIMIT 1
	`, documentID).Scan(&head.PrevHash)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return model.AuditEntry{}, fmt.Errorf("read chain head of %s: %w", documentID, err)
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

func insertAuditEntry(ctx context.Context, q querier, e model.AuditEntry) error {
	snapshotJSON, err := json.Marshal(e.Snapshot)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	_, err = q.Exec(ctx, `
		INSERT INTO audit_entries
		(seq, id, document_id, document_type, actor_id, action, from_state, to_state,
		 reason, denial, "timestamp", snapshot, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::json, $13, $14)
	`,
		e.Seq,
		e.ID,
		e.DocumentID,
		string(e.DocumentType),
		e.ActorID,
		string(e.Action),
		string(e.From),
		string(e.To),
		e.Reason,
		e.Denial,
		model.FormatTime(e.Timestamp),
		string(snapshotJSON),
		e.PrevHash,
		e.Hash,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry %s: %w", e.ID, err)
	}
	return nil
}

// QueryAuditTrail returns every entry for a document ordered by seq.
func (s *Store) QueryAuditTrail(ctx context.Context, documentID string) ([]model.AuditEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+auditColumns+`
		FROM audit_entries
		WHERE document_id = $1
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

// LastAuditEntry returns model.ErrNotFound when the document has no entries.
func (s *Store) LastAuditEntry(ctx context.Context, documentID string) (model.AuditEntry, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+auditColumns+`
		FROM audit_entries
		WHERE document_id = $1
		ORDER BY seq DESC
		LIMIT 1
	`, documentID)
	e, err := scanAuditEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.AuditEntry{}, model.ErrNotFound
	}
	return e, err
}

func scanAuditEntry(row pgx.Row) (model.AuditEntry, error) {
	var (
		e            model.AuditEntry
		docType      string
		action       string
		from, to     string
		timestamp    string
		snapshotJSON string
	)
	err := row.Scan(&e.Seq, &e.ID, &e.DocumentID, &docType, &e.ActorID, &action, &from, &to,
		&e.Reason, &e.Denial, &timestamp, &snapshotJSON, &e.PrevHash, &e.Hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.AuditEntry{}, err
	}
	if err != nil {
		return model.AuditEntry{}, fmt.Errorf("scan audit entry: %w", err)
	}

	e.DocumentType = model.DocumentType(docType)
	e.Action = model.AuditAction(action)
	e.From = model.State(from)
	e.To = model.State(to)
	if e.Timestamp, err = model.ParseTime(timestamp); err != nil {
		return model.AuditEntry{}, fmt.Errorf("parse audit timestamp: %w", err)
	}
	if e.Snapshot, err = model.DecodeSnapshot([]byte(snapshotJSON)); err != nil {
		return model.AuditEntry{}, err
	}
	return e, nil
}

// rewriteAuditEntry attempts an in-place update. The schema rejects it.
func (s *Store) rewriteAuditEntry(ctx context.Context, id, actorID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE audit_entries SET actor_id = $1 WHERE id = $2`, actorID, id)
	return mapAppendOnly(err)
}

// deleteAuditEntry attempts a delete. Always rejected by the schema.
func (s *Store) deleteAuditEntry(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM audit_entries WHERE id = $1`, id)
	return mapAppendOnly(err)
}

// truncateAuditEntries attempts to empty the trail. Always rejected.
func (s *Store) truncateAuditEntries(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE audit_entries`)
	return mapAppendOnly(err)
}
