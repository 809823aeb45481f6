package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/reelforge/reelforge/internal/models"
)

type GenerationRepository struct {
	db *sql.DB
}

func NewGenerationRepository(db *sql.DB) *GenerationRepository {
	return &GenerationRepository{db: db}
}

const generationColumns = `id, user_id, tool, node_id, COALESCE(vendor_task, ''), status,
COALESCE(result_url, ''), COALESCE(error, ''), credits_used, created_at, updated_at`

func (r *GenerationRepository) Create(ctx context.Context, g *models.Generation) error {
	const query = `
INSERT INTO generations (id, user_id, tool, node_id, vendor_task, status, credits_used)
VALUES (?, ?, ?, ?, NULLIF(?, ''), ?, ?)`
	if _, err := r.db.ExecContext(ctx, query, g.ID, g.UserID, g.Tool, g.NodeID, g.VendorTask, g.Status, g.CreditsUsed); err != nil {
		return fmt.Errorf("insert generation: %w", err)
	}
	return nil
}

func (r *GenerationRepository) UpdateStatus(ctx context.Context, id string, status models.GenerationStatus, resultURL, errMsg string) error {
	const query = `
UPDATE generations SET status = ?, result_url = NULLIF(?, ''), error = NULLIF(?, ''), updated_at = NOW()
WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, status, resultURL, errMsg, id); err != nil {
		return fmt.Errorf("update generation status: %w", err)
	}
	return nil
}

func (r *GenerationRepository) GetByID(ctx context.Context, id string) (*models.Generation, error) {
	query := `SELECT ` + generationColumns + ` FROM generations WHERE id = ?`
	row := r.db.QueryRowContext(ctx, query, id)
	var g models.Generation
	if err := row.Scan(&g.ID, &g.UserID, &g.Tool, &g.NodeID, &g.VendorTask, &g.Status,
		&g.ResultURL, &g.Error, &g.CreditsUsed, &g.CreatedAt, &g.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan generation: %w", err)
	}
	return &g, nil
}

// CountActive counts this user's non-terminal jobs for the tool. The
// dispatcher uses it as the per-tool mutual-exclusion guard.
func (r *GenerationRepository) CountActive(ctx context.Context, userID, tool string) (int, error) {
	const query = `
SELECT COUNT(*) FROM generations
WHERE user_id = ? AND tool = ? AND status IN ('pending', 'processing')`
	row := r.db.QueryRowContext(ctx, query, userID, tool)
	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("count active generations: %w", err)
	}
	return count, nil
}

func (r *GenerationRepository) ListRecent(ctx context.Context, userID string, limit int) ([]models.Generation, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + generationColumns + ` FROM generations WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	defer rows.Close()

	var generations []models.Generation
	for rows.Next() {
		var g models.Generation
		if err := rows.Scan(&g.ID, &g.UserID, &g.Tool, &g.NodeID, &g.VendorTask, &g.Status,
			&g.ResultURL, &g.Error, &g.CreditsUsed, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan generation list: %w", err)
		}
		generations = append(generations, g)
	}
	return generations, rows.Err()
}
