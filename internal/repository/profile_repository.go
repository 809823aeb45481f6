package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/reelforge/reelforge/internal/models"
)

type ProfileRepository struct {
	db *sql.DB
}

func NewProfileRepository(db *sql.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

func (r *ProfileRepository) DB() *sql.DB {
	return r.db
}

const profileColumns = `id, email, COALESCE(subscription_plan, ''), COALESCE(subscription_status, ''), credits, credits_extras,
COALESCE(subscription_id, ''), subscription_current_period_start, subscription_current_period_end,
account_status, COALESCE(stripe_customer_id, ''), trial_used, created_at, updated_at`

func (r *ProfileRepository) scanProfile(row *sql.Row) (*models.Profile, error) {
	var p models.Profile
	var trialUsed int
	if err := row.Scan(&p.ID, &p.Email, &p.Plan, &p.SubscriptionStatus, &p.Credits, &p.CreditsExtras,
		&p.SubscriptionID, &p.SubscriptionPeriodStart, &p.SubscriptionPeriodEnd,
		&p.AccountStatus, &p.StripeCustomerID, &trialUsed, &p.CreatedAt, &p.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan profile: %w", err)
	}
	p.TrialUsed = trialUsed != 0
	return &p, nil
}

func (r *ProfileRepository) GetByID(ctx context.Context, id string) (*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE id = ?`
	return r.scanProfile(r.db.QueryRowContext(ctx, query, id))
}

func (r *ProfileRepository) GetByEmail(ctx context.Context, email string) (*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE email = ?`
	return r.scanProfile(r.db.QueryRowContext(ctx, query, email))
}

func (r *ProfileRepository) GetByCustomerID(ctx context.Context, customerID string) (*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE stripe_customer_id = ?`
	return r.scanProfile(r.db.QueryRowContext(ctx, query, customerID))
}

func (r *ProfileRepository) GetBySubscriptionID(ctx context.Context, subscriptionID string) (*models.Profile, error) {
	query := `SELECT ` + profileColumns + ` FROM profiles WHERE subscription_id = ?`
	return r.scanProfile(r.db.QueryRowContext(ctx, query, subscriptionID))
}

func (r *ProfileRepository) Create(ctx context.Context, p *models.Profile) error {
	const query = `
INSERT INTO profiles (id, email, account_status)
VALUES (?, ?, ?)`
	status := p.AccountStatus
	if status == "" {
		status = models.AccountActive
	}
	if _, err := r.db.ExecContext(ctx, query, p.ID, p.Email, status); err != nil {
		return fmt.Errorf("insert profile: %w", err)
	}
	return nil
}

// UpdateSubscription persists the full billing slice of the profile in one
// statement. The reconciler mutates the in-memory profile and saves it here.
func (r *ProfileRepository) UpdateSubscription(ctx context.Context, p *models.Profile) error {
	const query = `
UPDATE profiles
SET subscription_plan = NULLIF(?, ''), subscription_status = NULLIF(?, ''), credits = ?, credits_extras = ?,
    subscription_id = NULLIF(?, ''), subscription_current_period_start = ?, subscription_current_period_end = ?,
    account_status = ?, stripe_customer_id = NULLIF(?, ''), trial_used = ?, updated_at = NOW()
WHERE id = ?`
	trialUsed := 0
	if p.TrialUsed {
		trialUsed = 1
	}
	if _, err := r.db.ExecContext(ctx, query,
		string(p.Plan), string(p.SubscriptionStatus), p.Credits, p.CreditsExtras,
		p.SubscriptionID, p.SubscriptionPeriodStart, p.SubscriptionPeriodEnd,
		p.AccountStatus, p.StripeCustomerID, trialUsed, p.ID); err != nil {
		return fmt.Errorf("update subscription: %w", err)
	}
	return nil
}

func (r *ProfileRepository) AddExtras(ctx context.Context, userID string, delta int) error {
	const query = `UPDATE profiles SET credits_extras = GREATEST(credits_extras + ?, 0), updated_at = NOW() WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, delta, userID); err != nil {
		return fmt.Errorf("add extras: %w", err)
	}
	return nil
}

// SpendCredits deducts amount from the plan-cycle pool first, then from extras.
// Returns false when the combined balance is insufficient; nothing is deducted
// in that case. The extras assignment must precede the credits assignment:
// MySQL applies SET clauses left to right, so it has to read the original
// credits value.
func (r *ProfileRepository) SpendCredits(ctx context.Context, userID string, amount int) (bool, error) {
	if amount <= 0 {
		return true, nil
	}
	const query = `
UPDATE profiles
SET credits_extras = CASE WHEN credits >= ? THEN credits_extras ELSE credits_extras - (? - credits) END,
    credits = GREATEST(credits - ?, 0),
    updated_at = NOW()
WHERE id = ? AND credits + credits_extras >= ?`
	res, err := r.db.ExecContext(ctx, query, amount, amount, amount, userID, amount)
	if err != nil {
		return false, fmt.Errorf("spend credits: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("spend rows affected: %w", err)
	}
	return affected > 0, nil
}

// RefundCredits returns a failed workflow's deduction to the plan-cycle pool.
func (r *ProfileRepository) RefundCredits(ctx context.Context, userID string, amount int) error {
	if amount <= 0 {
		return nil
	}
	const query = `UPDATE profiles SET credits = credits + ?, updated_at = NOW() WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, amount, userID); err != nil {
		return fmt.Errorf("refund credits: %w", err)
	}
	return nil
}
