package service

import (
	"context"
	"fmt"

	"github.com/reelforge/reelforge/internal/models"
	"github.com/reelforge/reelforge/internal/repository"
)

type PlanService struct {
	repo *repository.PlanRepository
}

func NewPlanService(repo *repository.PlanRepository) *PlanService {
	return &PlanService{repo: repo}
}

// EnsureDefaultPlans seeds the three tiers so a fresh database can serve the
// ledger rules. Stripe price ids are attached out of band (they differ per
// environment), so existing rows keep whatever price id they already carry.
func (s *PlanService) EnsureDefaultPlans(ctx context.Context) error {
	defaults := []models.PricingPlan{
		{Key: models.PlanStarter, Title: "Starter", Rank: 1, Credits: 100, TrialCredits: 25, PriceMinorUnits: 1900, Currency: "usd", IsActive: true},
		{Key: models.PlanPro, Title: "Pro", Rank: 2, Credits: 300, TrialCredits: 50, PriceMinorUnits: 4900, Currency: "usd", IsActive: true},
		{Key: models.PlanPremium, Title: "Premium", Rank: 3, Credits: 1000, TrialCredits: 100, PriceMinorUnits: 9900, Currency: "usd", IsActive: true},
	}
	for i := range defaults {
		if err := s.repo.Upsert(ctx, &defaults[i]); err != nil {
			return fmt.Errorf("seed plan %s: %w", defaults[i].Key, err)
		}
	}
	return nil
}

func (s *PlanService) List(ctx context.Context) ([]models.PricingPlan, error) {
	return s.repo.List(ctx)
}

// LoadCatalog snapshots the plan table for the ledger rules and the
// reconciler's price-id lookups.
func (s *PlanService) LoadCatalog(ctx context.Context) (*Catalog, error) {
	plans, err := s.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("load plan catalog: %w", err)
	}
	return NewCatalog(plans), nil
}
