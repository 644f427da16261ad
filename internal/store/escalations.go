package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/gatehouse/internal/model"
)

// SaveEscalation inserts or replaces an escalation item.
// Items are mutable; their history lives in the event stream, not here.
// A stored item that is already closed is left alone and
// model.ErrConcurrentModification is returned.
func (s *Store) SaveEscalation(ctx context.Context, item model.EscalationItem) error {
	chainJSON, err := marshalChain(item.Chain)
	if err != nil {
		return fmt.Errorf("save escalation: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO escalation_items
		(id, document_id, action_name, phase, assigned_role, deadline, status,
		 escalate_to_role, escalate_after_ns, level, chain, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			assigned_role = excluded.assigned_role,
			deadline = excluded.deadline,
			status = excluded.status,
			escalate_to_role = excluded.escalate_to_role,
			escalate_after_ns = excluded.escalate_after_ns,
			level = excluded.level,
			chain = excluded.chain,
			updated_at = excluded.updated_at
		WHERE escalation_items.status IN ('pending', 'in_progress', 'escalated')
	`,
		item.ID,
		item.DocumentID,
		item.ActionName,
		item.Phase,
		item.AssignedRole,
		model.FormatTime(item.Deadline),
		string(item.Status),
		item.EscalateToRole,
		int64(item.EscalateAfter),
		item.Level,
		chainJSON,
		model.FormatTime(item.CreatedAt),
		model.FormatTime(item.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("save escalation %s: %w", item.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save escalation %s: rows affected: %w", item.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("escalation %s is closed: %w", item.ID, model.ErrConcurrentModification)
	}
	return nil
}

const escalationColumns = `id, document_id, action_name, phase, assigned_role, deadline, status,
		escalate_to_role, escalate_after_ns, level, chain, created_at, updated_at`

// LoadEscalation returns one item. Returns model.ErrNotFound if missing.
func (s *Store) LoadEscalation(ctx context.Context, id string) (model.EscalationItem, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+escalationColumns+` FROM escalation_items WHERE id = ?`, id)
	item, err := scanEscalation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.EscalationItem{}, fmt.Errorf("escalation %s: %w", id, model.ErrNotFound)
	}
	return item, err
}

// ListOpenEscalations returns items still awaiting action, by deadline.
func (s *Store) ListOpenEscalations(ctx context.Context) ([]model.EscalationItem, error) {
	return s.queryEscalations(ctx, `
		SELECT `+escalationColumns+`
		FROM escalation_items
		WHERE status IN ('pending', 'in_progress', 'escalated')
		ORDER BY deadline ASC, id COLLATE BINARY ASC
	`)
}

// ListEscalationsByDocument returns every item attached to a document.
func (s *Store) ListEscalationsByDocument(ctx context.Context, documentID string) ([]model.EscalationItem, error) {
	return s.queryEscalations(ctx, `
		SELECT `+escalationColumns+`
		FROM escalation_items
		WHERE document_id = ?
		ORDER BY created_at ASC, id COLLATE BINARY ASC
	`, documentID)
}

func (s *Store) queryEscalations(ctx context.Context, query string, args ...any) ([]model.EscalationItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query escalations: %w", err)
	}
	defer rows.Close()

	items := []model.EscalationItem{}
	for rows.Next() {
		item, err := scanEscalation(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate escalations: %w", err)
	}
	return items, nil
}

func scanEscalation(row rowScanner) (model.EscalationItem, error) {
	var (
		item       model.EscalationItem
		deadline   string
		status     string
		afterNanos int64
		chainJSON  string
		createdAt  string
		updatedAt  string
	)
	err := row.Scan(&item.ID, &item.DocumentID, &item.ActionName, &item.Phase, &item.AssignedRole,
		&deadline, &status, &item.EscalateToRole, &afterNanos, &item.Level, &chainJSON, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.EscalationItem{}, err
	}
	if err != nil {
		return model.EscalationItem{}, fmt.Errorf("scan escalation: %w", err)
	}

	item.Status = model.EscalationStatus(status)
	item.EscalateAfter = time.Duration(afterNanos)
	if item.Chain, err = unmarshalChain(chainJSON); err != nil {
		return model.EscalationItem{}, err
	}
	if item.Deadline, err = model.ParseTime(deadline); err != nil {
		return model.EscalationItem{}, fmt.Errorf("parse deadline: %w", err)
	}
	if item.CreatedAt, err = model.ParseTime(createdAt); err != nil {
		return model.EscalationItem{}, fmt.Errorf("parse created_at: %w", err)
	}
	if item.UpdatedAt, err = model.ParseTime(updatedAt); err != nil {
		return model.EscalationItem{}, fmt.Errorf("parse updated_at: %w", err)
	}
	return item, nil
}
