package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/reelforge/reelforge/internal/models"
	"github.com/reelforge/reelforge/internal/repository"
)

var ErrPromoInvalid = errors.New("promo code invalid")
var ErrPromoAlreadyRedeemed = errors.New("promo code already redeemed")

type PromoService struct {
	promos *repository.PromoRepository
	audits AuditStore
	log    *slog.Logger
}

func NewPromoService(promos *repository.PromoRepository, audits AuditStore, log *slog.Logger) *PromoService {
	return &PromoService{promos: promos, audits: audits, log: log}
}

// Apply redeems a code for the user, granting its credits to the extras pool.
// The code row is locked for the usage check so concurrent redemptions cannot
// oversell a code.
func (s *PromoService) Apply(ctx context.Context, userID, code string) (int, error) {
	promo, err := s.promos.GetByCode(ctx, code)
	if err != nil {
		return 0, fmt.Errorf("get promo: %w", err)
	}
	if promo == nil {
		return 0, ErrPromoInvalid
	}

	tx, err := s.promos.DB().BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var uses, maxUses int
	row := tx.QueryRowContext(ctx, `SELECT uses, max_uses FROM promo_codes WHERE id = ? FOR UPDATE`, promo.ID)
	if err := row.Scan(&uses, &maxUses); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrPromoInvalid
		}
		return 0, fmt.Errorf("lock promo: %w", err)
	}
	if uses >= maxUses {
		return 0, fmt.Errorf("promo code exhausted")
	}

	row = tx.QueryRowContext(ctx, `SELECT 1 FROM promo_redemptions WHERE user_id = ? AND promo_code_id = ?`, userID, promo.ID)
	var dummy int
	if err := row.Scan(&dummy); err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("check redemption: %w", err)
		}
	} else {
		return 0, ErrPromoAlreadyRedeemed
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO promo_redemptions (user_id, promo_code_id) VALUES (?, ?)`, userID, promo.ID); err != nil {
		return 0, fmt.Errorf("insert redemption: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE promo_codes SET uses = uses + 1 WHERE id = ?`, promo.ID); err != nil {
		return 0, fmt.Errorf("increment promo uses: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE profiles SET credits_extras = credits_extras + ?, updated_at = NOW() WHERE id = ?`, promo.Credits, userID); err != nil {
		return 0, fmt.Errorf("add promo credits: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit promo tx: %w", err)
	}

	entry := &models.AuditLogEntry{
		UserID:     userID,
		Action:     models.AuditPromoRedeemed,
		ExternalID: promo.Code,
		Details:    fmt.Sprintf(`{"code":%q,"credits":%d}`, promo.Code, promo.Credits),
	}
	if err := s.audits.Insert(ctx, entry); err != nil {
		s.log.Error("audit write failed", "action", entry.Action, "err", err)
	}

	return promo.Credits, nil
}
