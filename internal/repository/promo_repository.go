package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/reelforge/reelforge/internal/models"
)

type PromoRepository struct {
	db *sql.DB
}

func NewPromoRepository(db *sql.DB) *PromoRepository {
	return &PromoRepository{db: db}
}

func (r *PromoRepository) DB() *sql.DB {
	return r.db
}

func (r *PromoRepository) GetByCode(ctx context.Context, code string) (*models.PromoCode, error) {
	const query = `SELECT id, code, credits, max_uses, uses, created_at FROM promo_codes WHERE code = ?`
	row := r.db.QueryRowContext(ctx, query, code)
	var promo models.PromoCode
	if err := row.Scan(&promo.ID, &promo.Code, &promo.Credits, &promo.MaxUses, &promo.Uses, &promo.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scan promo: %w", err)
	}
	return &promo, nil
}

func (r *PromoRepository) HasUserRedeemed(ctx context.Context, userID string, promoID int64) (bool, error) {
	const query = `SELECT 1 FROM promo_redemptions WHERE user_id = ? AND promo_code_id = ?`
	row := r.db.QueryRowContext(ctx, query, userID, promoID)
	var dummy int
	if err := row.Scan(&dummy); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check promo redemption: %w", err)
	}
	return true, nil
}
