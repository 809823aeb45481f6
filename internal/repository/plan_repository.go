package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/reelforge/reelforge/internal/models"
)

type PlanRepository struct {
	db *sql.DB
}

func NewPlanRepository(db *sql.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

const planColumns = `id, plan_key, title, plan_rank, credits, trial_credits, price_minor_units, currency,
COALESCE(stripe_price_id, ''), is_active, created_at, updated_at`

func scanPlan(row interface{ Scan(...any) error }) (*models.PricingPlan, error) {
	var p models.PricingPlan
	if err := row.Scan(&p.ID, &p.Key, &p.Title, &p.Rank, &p.Credits, &p.TrialCredits, &p.PriceMinorUnits,
		&p.Currency, &p.StripePriceID, &p.IsActive, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *PlanRepository) List(ctx context.Context) ([]models.PricingPlan, error) {
	query := `SELECT ` + planColumns + ` FROM pricing_plans ORDER BY plan_rank ASC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var plans []models.PricingPlan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, *plan)
	}
	return plans, rows.Err()
}

func (r *PlanRepository) GetByKey(ctx context.Context, key models.Plan) (*models.PricingPlan, error) {
	query := `SELECT ` + planColumns + ` FROM pricing_plans WHERE plan_key = ?`
	plan, err := scanPlan(r.db.QueryRowContext(ctx, query, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get plan by key: %w", err)
	}
	return plan, nil
}

func (r *PlanRepository) GetByStripePriceID(ctx context.Context, priceID string) (*models.PricingPlan, error) {
	query := `SELECT ` + planColumns + ` FROM pricing_plans WHERE stripe_price_id = ?`
	plan, err := scanPlan(r.db.QueryRowContext(ctx, query, priceID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get plan by price id: %w", err)
	}
	return plan, nil
}

func (r *PlanRepository) Upsert(ctx context.Context, plan *models.PricingPlan) error {
	const query = `
INSERT INTO pricing_plans (plan_key, title, plan_rank, credits, trial_credits, price_minor_units, currency, stripe_price_id, is_active)
VALUES (?, ?, ?, ?, ?, ?, ?, NULLIF(?, ''), ?)
ON DUPLICATE KEY UPDATE
    title = VALUES(title), plan_rank = VALUES(plan_rank), credits = VALUES(credits),
    trial_credits = VALUES(trial_credits), price_minor_units = VALUES(price_minor_units),
    currency = VALUES(currency), is_active = VALUES(is_active), updated_at = NOW()`
	if _, err := r.db.ExecContext(ctx, query, plan.Key, plan.Title, plan.Rank, plan.Credits, plan.TrialCredits,
		plan.PriceMinorUnits, plan.Currency, plan.StripePriceID, plan.IsActive); err != nil {
		return fmt.Errorf("upsert plan: %w", err)
	}
	return nil
}
