package service

import (
	"github.com/reelforge/reelforge/internal/models"
)

// Plan tiers form a total order; rank 0 means "no plan".
func planRank(p models.Plan) int {
	switch p {
	case models.PlanStarter:
		return 1
	case models.PlanPro:
		return 2
	case models.PlanPremium:
		return 3
	default:
		return 0
	}
}

func IsUpgrade(from, to models.Plan) bool {
	return planRank(to) > planRank(from)
}

func IsDowngrade(from, to models.Plan) bool {
	return planRank(from) > 0 && planRank(to) > 0 && planRank(to) < planRank(from)
}

// Catalog is an in-memory snapshot of the pricing plans, keyed by tier and by
// Stripe price id.
type Catalog struct {
	plans   map[models.Plan]models.PricingPlan
	byPrice map[string]models.PricingPlan
}

func NewCatalog(plans []models.PricingPlan) *Catalog {
	byKey := make(map[models.Plan]models.PricingPlan, len(plans))
	byPrice := make(map[string]models.PricingPlan, len(plans))
	for _, p := range plans {
		byKey[p.Key] = p
		if p.StripePriceID != "" {
			byPrice[p.StripePriceID] = p
		}
	}
	return &Catalog{plans: byKey, byPrice: byPrice}
}

func (c *Catalog) PlanByPriceID(priceID string) (models.PricingPlan, bool) {
	plan, ok := c.byPrice[priceID]
	return plan, ok
}

func (c *Catalog) CreditsForPlan(p models.Plan) int {
	return c.plans[p].Credits
}

func (c *Catalog) CreditsForTrial(p models.Plan) int {
	return c.plans[p].TrialCredits
}

func (c *Catalog) Plan(p models.Plan) (models.PricingPlan, bool) {
	plan, ok := c.plans[p]
	return plan, ok
}

// ApplyPlanChange mutates the profile's credit pools for a transition to the
// given plan. The same rule runs for both payment paths (one-time checkout and
// recurring update), so both converge on the same balance:
//
//	upgrade:   credits += new plan allowance, extras preserved
//	downgrade: credits  = new plan allowance, extras zeroed
//	otherwise: credits  = new plan allowance (fresh subscription or re-grant)
func ApplyPlanChange(p *models.Profile, to models.Plan, c *Catalog) {
	allowance := c.CreditsForPlan(to)
	switch {
	case planRank(p.Plan) > 0 && IsUpgrade(p.Plan, to):
		p.Credits += allowance
	case IsDowngrade(p.Plan, to):
		p.Credits = allowance
		p.CreditsExtras = 0
	default:
		p.Credits = allowance
	}
	p.Plan = to
}

// ResetPlanCredits grants the full cycle allowance, as on a new subscription,
// renewal, reactivation or trial end. Extras are untouched.
func ResetPlanCredits(p *models.Profile, c *Catalog) {
	p.Credits = c.CreditsForPlan(p.Plan)
}
