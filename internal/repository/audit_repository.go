package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/reelforge/reelforge/internal/models"
)

type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Insert(ctx context.Context, entry *models.AuditLogEntry) error {
	const query = `
INSERT INTO audit_log (user_id, action, external_id, details)
VALUES (?, ?, NULLIF(?, ''), ?)`
	res, err := r.db.ExecContext(ctx, query, entry.UserID, entry.Action, entry.ExternalID, entry.Details)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("audit last insert id: %w", err)
	}
	entry.ID = id
	return nil
}

// Exists reports whether an entry for the given external id was already
// recorded. It is the durable idempotency marker for credit-granting webhook
// events: a hit means the event was applied before and must be a no-op.
func (r *AuditRepository) Exists(ctx context.Context, userID string, action models.AuditAction, externalID string) (bool, error) {
	const query = `SELECT 1 FROM audit_log WHERE user_id = ? AND action = ? AND external_id = ? LIMIT 1`
	row := r.db.QueryRowContext(ctx, query, userID, action, externalID)
	var dummy int
	if err := row.Scan(&dummy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check audit entry: %w", err)
	}
	return true, nil
}

func (r *AuditRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.AuditLogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `
SELECT id, user_id, action, COALESCE(external_id, ''), COALESCE(details, ''), created_at
FROM audit_log WHERE user_id = ? ORDER BY id DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []models.AuditLogEntry
	for rows.Next() {
		var e models.AuditLogEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.ExternalID, &e.Details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
