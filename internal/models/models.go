package models

import "time"

// Plan is the subscription tier. Tiers form a total order used by the
// upgrade/downgrade rules: starter < pro < premium.
type Plan string

const (
	PlanStarter Plan = "starter"
	PlanPro     Plan = "pro"
	PlanPremium Plan = "premium"
)

type SubscriptionStatus string

const (
	SubscriptionActive     SubscriptionStatus = "active"
	SubscriptionTrialing   SubscriptionStatus = "trialing"
	SubscriptionPastDue    SubscriptionStatus = "past_due"
	SubscriptionCanceled   SubscriptionStatus = "canceled"
	SubscriptionIncomplete SubscriptionStatus = "incomplete"
)

type AccountStatus string

const (
	AccountActive    AccountStatus = "active"
	AccountSuspended AccountStatus = "suspended"
)

// Profile is the billing-relevant slice of a user account.
// Credits holds the plan-cycle allowance (reset each renewal); CreditsExtras is
// the purchased add-on balance, preserved across upgrades and renewals, zeroed
// on downgrade and on suspension. Total spendable balance is the sum.
type Profile struct {
	ID                      string
	Email                   string
	Plan                    Plan
	SubscriptionStatus      SubscriptionStatus
	Credits                 int
	CreditsExtras           int
	SubscriptionID          string
	SubscriptionPeriodStart *time.Time
	SubscriptionPeriodEnd   *time.Time
	AccountStatus           AccountStatus
	StripeCustomerID        string
	TrialUsed               bool
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

func (p *Profile) TotalCredits() int {
	return p.Credits + p.CreditsExtras
}

func (p *Profile) Suspended() bool {
	return p.AccountStatus == AccountSuspended
}

// AuditAction identifies the kind of audit entry; entries double as the
// idempotency markers for credit-granting webhook events.
type AuditAction string

const (
	AuditCreditsPurchase    AuditAction = "credits_purchase"
	AuditPlanChangePayment  AuditAction = "plan_change_payment"
	AuditSubscriptionStart  AuditAction = "subscription_start"
	AuditSubscriptionRenew  AuditAction = "subscription_renew"
	AuditAccountSuspended   AuditAction = "account_suspended"
	AuditPromoRedeemed      AuditAction = "promo_redeemed"
	AuditWorkflowDispatched AuditAction = "workflow_dispatched"
)

type AuditLogEntry struct {
	ID         int64
	UserID     string
	Action     AuditAction
	ExternalID string
	Details    string // JSON blob
	CreatedAt  time.Time
}

// PricingPlan is a catalog row binding a plan tier to its Stripe price and
// credit allowances.
type PricingPlan struct {
	ID              int64
	Key             Plan
	Title           string
	Rank            int
	Credits         int
	TrialCredits    int
	PriceMinorUnits int
	Currency        string
	StripePriceID   string
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type GenerationStatus string

const (
	GenerationPending    GenerationStatus = "pending"
	GenerationProcessing GenerationStatus = "processing"
	GenerationCompleted  GenerationStatus = "completed"
	GenerationFailed     GenerationStatus = "failed"
)

func (s GenerationStatus) Terminal() bool {
	return s == GenerationCompleted || s == GenerationFailed
}

// Generation is one vendor job, tracked pending → processing → completed|failed.
type Generation struct {
	ID          string
	UserID      string
	Tool        string
	NodeID      string
	VendorTask  string
	Status      GenerationStatus
	ResultURL   string
	Error       string
	CreditsUsed int
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type PromoCode struct {
	ID        int64
	Code      string
	Credits   int
	MaxUses   int
	Uses      int
	CreatedAt time.Time
}
