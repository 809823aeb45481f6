package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v81"

	"github.com/reelforge/reelforge/internal/models"
)

// ProfileStore is the profile persistence surface the reconciler needs.
type ProfileStore interface {
	ProfileLookup
	UpdateSubscription(ctx context.Context, p *models.Profile) error
	AddExtras(ctx context.Context, userID string, delta int) error
}

// AuditStore persists audit entries and answers the idempotency check.
type AuditStore interface {
	Insert(ctx context.Context, entry *models.AuditLogEntry) error
	Exists(ctx context.Context, userID string, action models.AuditAction, externalID string) (bool, error)
}

// Gateway is the outbound Stripe surface. Read current state before mutating;
// plan price changes go through ChangeSubscriptionPrice with proration off.
type Gateway interface {
	GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	CancelSubscription(ctx context.Context, id string) error
	ChangeSubscriptionPrice(ctx context.Context, subscriptionID, priceID string) error
	GetCharge(ctx context.Context, id string) (*stripe.Charge, error)
}

// Notifier delivers best-effort ops alerts; implementations must never block
// event processing on delivery failures.
type Notifier interface {
	Notify(ctx context.Context, text string)
}

// Reconciler translates Stripe subscription lifecycle events into profile
// state. Every handler is safe under at-least-once, unordered delivery:
// credit grants are guarded by the audit log, status mutations by "does this
// event's subscription id match the profile" checks.
type Reconciler struct {
	profiles ProfileStore
	audits   AuditStore
	catalog  *Catalog
	gw       Gateway
	resolver *ProfileResolver
	notifier Notifier
	log      *slog.Logger
}

func NewReconciler(profiles ProfileStore, audits AuditStore, catalog *Catalog, gw Gateway, notifier Notifier, log *slog.Logger) *Reconciler {
	return &Reconciler{
		profiles: profiles,
		audits:   audits,
		catalog:  catalog,
		gw:       gw,
		resolver: NewProfileResolver(profiles),
		notifier: notifier,
		log:      log,
	}
}

func (r *Reconciler) HandleEvent(ctx context.Context, event stripe.Event) error {
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return fmt.Errorf("decode checkout session: %w", err)
		}
		return r.handleCheckoutCompleted(ctx, &session)
	case stripe.EventTypeCustomerSubscriptionCreated,
		stripe.EventTypeCustomerSubscriptionUpdated,
		stripe.EventTypeCustomerSubscriptionPendingUpdateApplied:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		return r.handleSubscriptionEvent(ctx, &sub, event.Data.PreviousAttributes)
	case stripe.EventTypeCustomerSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return fmt.Errorf("decode subscription: %w", err)
		}
		return r.handleSubscriptionDeleted(ctx, &sub)
	case stripe.EventTypeInvoicePaid:
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return fmt.Errorf("decode invoice: %w", err)
		}
		return r.handleInvoicePaid(ctx, &inv)
	case stripe.EventTypeInvoicePaymentFailed:
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return fmt.Errorf("decode invoice: %w", err)
		}
		return r.handleInvoicePaymentFailed(ctx, &inv)
	case stripe.EventTypeChargeRefunded:
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return fmt.Errorf("decode charge: %w", err)
		}
		return r.handleChargeRefunded(ctx, &charge)
	case stripe.EventTypeChargeDisputeCreated:
		var dispute stripe.Dispute
		if err := json.Unmarshal(event.Data.Raw, &dispute); err != nil {
			return fmt.Errorf("decode dispute: %w", err)
		}
		return r.handleDisputeCreated(ctx, &dispute)
	default:
		r.log.Debug("ignoring event", "type", event.Type)
		return nil
	}
}

func (r *Reconciler) handleCheckoutCompleted(ctx context.Context, session *stripe.CheckoutSession) error {
	meta := session.Metadata
	ref := ProfileRef{UserID: meta["user_id"]}
	if session.Customer != nil {
		ref.CustomerID = session.Customer.ID
	}
	if session.CustomerDetails != nil {
		ref.Email = session.CustomerDetails.Email
	}
	if ref.Email == "" {
		ref.Email = session.CustomerEmail
	}
	profile, err := r.resolver.Resolve(ctx, ref)
	if err != nil {
		return err
	}
	if profile == nil {
		r.log.Warn("checkout completed for unknown profile", "session", session.ID)
		return nil
	}

	switch meta["type"] {
	case "credits":
		return r.applyCreditsPurchase(ctx, profile, session)
	case "plan_change":
		return r.applyPlanChangePayment(ctx, profile, session)
	default:
		return r.applySubscriptionCheckout(ctx, profile, session)
	}
}

func (r *Reconciler) applyCreditsPurchase(ctx context.Context, profile *models.Profile, session *stripe.CheckoutSession) error {
	amount, _ := strconv.Atoi(session.Metadata["credits_amount"])
	if amount <= 0 {
		r.log.Warn("credits purchase without credits_amount", "session", session.ID)
		return nil
	}
	if profile.Suspended() {
		return nil
	}
	applied, err := r.audits.Exists(ctx, profile.ID, models.AuditCreditsPurchase, session.ID)
	if err != nil {
		return err
	}
	if applied {
		r.log.Info("credits purchase already applied", "session", session.ID)
		return nil
	}
	if err := r.profiles.AddExtras(ctx, profile.ID, amount); err != nil {
		return fmt.Errorf("grant purchased credits: %w", err)
	}
	r.writeAudit(ctx, profile.ID, models.AuditCreditsPurchase, session.ID, map[string]any{
		"sessionId": session.ID,
		"credits":   amount,
	})
	return nil
}

func (r *Reconciler) applyPlanChangePayment(ctx context.Context, profile *models.Profile, session *stripe.CheckoutSession) error {
	toPlan := models.Plan(session.Metadata["plan"])
	if planRank(toPlan) == 0 {
		r.log.Warn("plan change without target plan", "session", session.ID)
		return nil
	}
	if profile.Suspended() {
		return nil
	}
	applied, err := r.audits.Exists(ctx, profile.ID, models.AuditPlanChangePayment, session.ID)
	if err != nil {
		return err
	}
	if applied {
		r.log.Info("plan change already applied", "session", session.ID)
		return nil
	}

	fromPlan := profile.Plan
	ApplyPlanChange(profile, toPlan, r.catalog)
	profile.SubscriptionStatus = models.SubscriptionActive
	if err := r.profiles.UpdateSubscription(ctx, profile); err != nil {
		return fmt.Errorf("apply plan change: %w", err)
	}

	// Move the recurring subscription onto the new price so the next renewal
	// bills correctly. The credits are already granted; failure here is logged
	// and left for the next lifecycle event to settle.
	if plan, ok := r.catalog.Plan(toPlan); ok && profile.SubscriptionID != "" && plan.StripePriceID != "" {
		if err := r.gw.ChangeSubscriptionPrice(ctx, profile.SubscriptionID, plan.StripePriceID); err != nil {
			r.log.Error("subscription price update failed", "subscription", profile.SubscriptionID, "err", err)
		}
	}

	r.writeAudit(ctx, profile.ID, models.AuditPlanChangePayment, session.ID, map[string]any{
		"sessionId":  session.ID,
		"fromPlan":   string(fromPlan),
		"toPlan":     string(toPlan),
		"changeType": session.Metadata["change_type"],
	})
	return nil
}

func (r *Reconciler) applySubscriptionCheckout(ctx context.Context, profile *models.Profile, session *stripe.CheckoutSession) error {
	if profile.Suspended() {
		return nil
	}
	if session.Mode != "" && session.Mode != stripe.CheckoutSessionModeSubscription {
		return nil
	}
	applied, err := r.audits.Exists(ctx, profile.ID, models.AuditSubscriptionStart, session.ID)
	if err != nil {
		return err
	}
	if applied {
		r.log.Info("subscription checkout already applied", "session", session.ID)
		return nil
	}

	plan := models.Plan(session.Metadata["plan"])
	subID := ""
	if session.Subscription != nil {
		subID = session.Subscription.ID
	}

	var sub *stripe.Subscription
	if subID != "" {
		// The event embeds only the subscription id; read the full object for
		// status, period dates and the price when metadata is missing.
		if sub, err = r.gw.GetSubscription(ctx, subID); err != nil {
			r.log.Warn("subscription fetch failed", "subscription", subID, "err", err)
			sub = nil
		}
	}
	if planRank(plan) == 0 && sub != nil {
		plan = r.planFromSubscription(sub)
	}
	if planRank(plan) == 0 {
		r.log.Warn("subscription checkout without plan", "session", session.ID)
		return nil
	}

	// A plan change initiated from the UI cancels the previous subscription
	// rather than mutating it; the new subscription's metadata carries the old
	// id for cleanup.
	if prev := session.Metadata["previous_subscription_id"]; prev != "" && prev != subID {
		if err := r.gw.CancelSubscription(ctx, prev); err != nil {
			r.log.Error("previous subscription cancel failed", "subscription", prev, "err", err)
		}
	}

	profile.Plan = plan
	profile.SubscriptionID = subID
	profile.SubscriptionStatus = models.SubscriptionActive
	if sub != nil {
		profile.SubscriptionStatus = mapSubscriptionStatus(sub.Status)
		profile.SubscriptionPeriodStart = timeFromUnix(sub.CurrentPeriodStart)
		profile.SubscriptionPeriodEnd = timeFromUnix(sub.CurrentPeriodEnd)
	}
	// Any subscription checkout consumes trial eligibility, paid or trialing.
	profile.TrialUsed = true
	if profile.SubscriptionStatus == models.SubscriptionTrialing {
		profile.Credits = r.catalog.CreditsForTrial(plan)
	} else {
		ResetPlanCredits(profile, r.catalog)
	}
	if err := r.profiles.UpdateSubscription(ctx, profile); err != nil {
		return fmt.Errorf("apply subscription checkout: %w", err)
	}

	r.writeAudit(ctx, profile.ID, models.AuditSubscriptionStart, session.ID, map[string]any{
		"sessionId":      session.ID,
		"subscriptionId": subID,
		"plan":           string(plan),
	})
	return nil
}

func (r *Reconciler) handleSubscriptionEvent(ctx context.Context, sub *stripe.Subscription, prev map[string]any) error {
	// incomplete states are transient; they are finalized by checkout.completed
	// or invoice.paid, never by the created/updated stream.
	if sub.Status == stripe.SubscriptionStatusIncomplete || sub.Status == stripe.SubscriptionStatusIncompleteExpired {
		return nil
	}

	ref := ProfileRef{UserID: sub.Metadata["user_id"], SubscriptionID: sub.ID}
	if sub.Customer != nil {
		ref.CustomerID = sub.Customer.ID
	}
	profile, err := r.resolver.Resolve(ctx, ref)
	if err != nil {
		return err
	}
	if profile == nil {
		r.log.Warn("subscription event for unknown profile", "subscription", sub.ID)
		return nil
	}
	if profile.Suspended() {
		return nil
	}

	// Stale guard: the profile may already point at a newer subscription (a
	// plan change cancels and recreates). Never let the superseded one write.
	if profile.SubscriptionID != "" && profile.SubscriptionID != sub.ID {
		if profile.SubscriptionStatus == models.SubscriptionActive || profile.SubscriptionStatus == models.SubscriptionTrialing {
			r.log.Info("ignoring stale subscription event", "subscription", sub.ID, "current", profile.SubscriptionID)
			return nil
		}
	}

	prevStatus, _ := prev["status"].(string)
	prevCancelAtPeriodEnd, _ := prev["cancel_at_period_end"].(bool)

	isPlanChange := sub.Metadata["change_type"] != "" && sub.Metadata["previous_plan"] != ""
	reactivated := profile.SubscriptionStatus == models.SubscriptionCanceled && sub.Status == stripe.SubscriptionStatusActive
	unCanceled := prevCancelAtPeriodEnd && !sub.CancelAtPeriodEnd && sub.Status == stripe.SubscriptionStatusActive
	trialEnded := prevStatus == string(stripe.SubscriptionStatusTrialing) && sub.Status == stripe.SubscriptionStatusActive

	switch {
	case isPlanChange:
		// Credits were already granted by the checkout path; sync status and
		// dates only, never credit twice for one logical transition.
	case reactivated || unCanceled || trialEnded:
		key := sub.ID + ":" + strconv.FormatInt(sub.CurrentPeriodStart, 10)
		applied, err := r.audits.Exists(ctx, profile.ID, models.AuditSubscriptionRenew, key)
		if err != nil {
			return err
		}
		if !applied {
			if plan := r.planFromSubscription(sub); planRank(plan) > 0 {
				profile.Plan = plan
			}
			ResetPlanCredits(profile, r.catalog)
			if trialEnded {
				profile.TrialUsed = true
			}
			r.writeAudit(ctx, profile.ID, models.AuditSubscriptionRenew, key, map[string]any{
				"subscriptionId": sub.ID,
				"periodStart":    sub.CurrentPeriodStart,
			})
		}
	default:
		if plan := r.planFromSubscription(sub); planRank(plan) > 0 {
			profile.Plan = plan
		}
	}

	profile.SubscriptionID = sub.ID
	profile.SubscriptionStatus = mapSubscriptionStatus(sub.Status)
	profile.SubscriptionPeriodStart = timeFromUnix(sub.CurrentPeriodStart)
	profile.SubscriptionPeriodEnd = timeFromUnix(sub.CurrentPeriodEnd)
	if err := r.profiles.UpdateSubscription(ctx, profile); err != nil {
		return fmt.Errorf("sync subscription: %w", err)
	}
	return nil
}

func (r *Reconciler) handleSubscriptionDeleted(ctx context.Context, sub *stripe.Subscription) error {
	ref := ProfileRef{UserID: sub.Metadata["user_id"], SubscriptionID: sub.ID}
	if sub.Customer != nil {
		ref.CustomerID = sub.Customer.ID
	}
	profile, err := r.resolver.Resolve(ctx, ref)
	if err != nil {
		return err
	}
	if profile == nil {
		return nil
	}
	if profile.Suspended() {
		return nil
	}
	// A newer subscription superseded this one; the deletion is its cleanup.
	if profile.SubscriptionID != sub.ID {
		return nil
	}

	profile.SubscriptionID = ""
	profile.SubscriptionStatus = models.SubscriptionCanceled
	profile.SubscriptionPeriodStart = nil
	profile.SubscriptionPeriodEnd = nil
	// Remaining credits stay spendable until they run out.
	if err := r.profiles.UpdateSubscription(ctx, profile); err != nil {
		return fmt.Errorf("clear subscription: %w", err)
	}
	return nil
}

func (r *Reconciler) handleInvoicePaid(ctx context.Context, inv *stripe.Invoice) error {
	subID := ""
	if inv.Subscription != nil {
		subID = inv.Subscription.ID
	}
	if subID == "" {
		return nil
	}

	ref := ProfileRef{SubscriptionID: subID}
	if inv.Customer != nil {
		ref.CustomerID = inv.Customer.ID
	}
	profile, err := r.resolver.Resolve(ctx, ref)
	if err != nil {
		return err
	}
	if profile == nil {
		r.log.Warn("invoice paid for unknown profile", "invoice", inv.ID)
		return nil
	}
	if profile.Suspended() {
		return nil
	}
	if profile.SubscriptionID != "" && profile.SubscriptionID != subID {
		r.log.Info("ignoring invoice for superseded subscription", "invoice", inv.ID, "subscription", subID, "current", profile.SubscriptionID)
		return nil
	}

	sub, err := r.gw.GetSubscription(ctx, subID)
	if err != nil {
		r.log.Warn("subscription fetch failed", "subscription", subID, "err", err)
		sub = nil
	}
	if inv.AmountPaid <= 0 && (sub == nil || sub.Status != stripe.SubscriptionStatusActive) {
		return nil
	}

	applied, err := r.audits.Exists(ctx, profile.ID, models.AuditSubscriptionRenew, inv.ID)
	if err != nil {
		return err
	}
	if applied {
		r.log.Info("renewal already applied", "invoice", inv.ID)
		return nil
	}

	if sub != nil {
		if plan := r.planFromSubscription(sub); planRank(plan) > 0 {
			profile.Plan = plan
		}
		profile.SubscriptionPeriodStart = timeFromUnix(sub.CurrentPeriodStart)
		profile.SubscriptionPeriodEnd = timeFromUnix(sub.CurrentPeriodEnd)
	}
	profile.SubscriptionID = subID
	profile.SubscriptionStatus = models.SubscriptionActive
	ResetPlanCredits(profile, r.catalog)
	if err := r.profiles.UpdateSubscription(ctx, profile); err != nil {
		return fmt.Errorf("apply renewal: %w", err)
	}

	r.writeAudit(ctx, profile.ID, models.AuditSubscriptionRenew, inv.ID, map[string]any{
		"invoiceId":      inv.ID,
		"subscriptionId": subID,
		"amountPaid":     inv.AmountPaid,
	})
	return nil
}

func (r *Reconciler) handleInvoicePaymentFailed(ctx context.Context, inv *stripe.Invoice) error {
	ref := ProfileRef{}
	if inv.Customer != nil {
		ref.CustomerID = inv.Customer.ID
	}
	if inv.Subscription != nil {
		ref.SubscriptionID = inv.Subscription.ID
	}
	profile, err := r.resolver.Resolve(ctx, ref)
	if err != nil {
		return err
	}
	if profile == nil {
		return nil
	}
	if profile.Suspended() {
		return nil
	}
	if inv.Subscription != nil && profile.SubscriptionID != "" && profile.SubscriptionID != inv.Subscription.ID {
		r.log.Info("ignoring payment failure for superseded subscription", "invoice", inv.ID, "subscription", inv.Subscription.ID, "current", profile.SubscriptionID)
		return nil
	}

	// First failure moves the account to past_due immediately; Stripe's own
	// retry schedule decides whether the subscription recovers or cancels.
	profile.SubscriptionStatus = models.SubscriptionPastDue
	if err := r.profiles.UpdateSubscription(ctx, profile); err != nil {
		return fmt.Errorf("mark past due: %w", err)
	}
	r.notify(ctx, fmt.Sprintf("payment failed for %s (invoice %s), subscription now past_due", profile.Email, inv.ID))
	return nil
}

func (r *Reconciler) handleChargeRefunded(ctx context.Context, charge *stripe.Charge) error {
	ref := ProfileRef{}
	if charge.Customer != nil {
		ref.CustomerID = charge.Customer.ID
	}
	profile, err := r.resolver.Resolve(ctx, ref)
	if err != nil {
		return err
	}
	if profile == nil {
		r.log.Warn("refund for unknown customer", "charge", charge.ID)
		return nil
	}
	return r.suspend(ctx, profile, charge.ID, "refund")
}

func (r *Reconciler) handleDisputeCreated(ctx context.Context, dispute *stripe.Dispute) error {
	if dispute.Charge == nil {
		return nil
	}
	charge, err := r.gw.GetCharge(ctx, dispute.Charge.ID)
	if err != nil {
		return fmt.Errorf("fetch disputed charge: %w", err)
	}
	ref := ProfileRef{}
	if charge.Customer != nil {
		ref.CustomerID = charge.Customer.ID
	}
	profile, err := r.resolver.Resolve(ctx, ref)
	if err != nil {
		return err
	}
	if profile == nil {
		r.log.Warn("dispute for unknown customer", "charge", dispute.Charge.ID)
		return nil
	}
	return r.suspend(ctx, profile, dispute.Charge.ID, "chargeback")
}

// suspend is the shared refund/chargeback effect: cancel the subscription,
// zero both credit pools and lock the account. Suspension events are the only
// ones allowed to mutate an already-suspended profile.
func (r *Reconciler) suspend(ctx context.Context, profile *models.Profile, chargeID, reason string) error {
	if profile.SubscriptionID != "" {
		if err := r.gw.CancelSubscription(ctx, profile.SubscriptionID); err != nil {
			r.log.Error("subscription cancel failed", "subscription", profile.SubscriptionID, "err", err)
		}
	}

	profile.SubscriptionID = ""
	profile.SubscriptionStatus = models.SubscriptionCanceled
	profile.SubscriptionPeriodStart = nil
	profile.SubscriptionPeriodEnd = nil
	profile.Credits = 0
	profile.CreditsExtras = 0
	profile.AccountStatus = models.AccountSuspended
	if err := r.profiles.UpdateSubscription(ctx, profile); err != nil {
		return fmt.Errorf("suspend account: %w", err)
	}

	r.writeAudit(ctx, profile.ID, models.AuditAccountSuspended, chargeID, map[string]any{
		"chargeId": chargeID,
		"reason":   reason,
	})
	r.notify(ctx, fmt.Sprintf("account %s suspended (%s, charge %s)", profile.Email, reason, chargeID))
	return nil
}

func (r *Reconciler) planFromSubscription(sub *stripe.Subscription) models.Plan {
	if plan := models.Plan(sub.Metadata["plan"]); planRank(plan) > 0 {
		return plan
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		if plan, ok := r.catalog.PlanByPriceID(sub.Items.Data[0].Price.ID); ok {
			return plan.Key
		}
	}
	return ""
}

// writeAudit records the entry that doubles as the idempotency marker. A
// failed write is logged and swallowed: it must never abort the state
// mutation it describes, at the cost of a best-effort guard for that event.
func (r *Reconciler) writeAudit(ctx context.Context, userID string, action models.AuditAction, externalID string, details map[string]any) {
	raw, err := json.Marshal(details)
	if err != nil {
		raw = []byte("{}")
	}
	entry := &models.AuditLogEntry{
		UserID:     userID,
		Action:     action,
		ExternalID: externalID,
		Details:    string(raw),
	}
	if err := r.audits.Insert(ctx, entry); err != nil {
		r.log.Error("audit write failed", "action", action, "external_id", externalID, "err", err)
	}
}

func (r *Reconciler) notify(ctx context.Context, text string) {
	if r.notifier == nil {
		return
	}
	r.notifier.Notify(ctx, text)
}

func mapSubscriptionStatus(s stripe.SubscriptionStatus) models.SubscriptionStatus {
	switch s {
	case stripe.SubscriptionStatusTrialing:
		return models.SubscriptionTrialing
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return models.SubscriptionPastDue
	case stripe.SubscriptionStatusCanceled:
		return models.SubscriptionCanceled
	case stripe.SubscriptionStatusIncomplete, stripe.SubscriptionStatusIncompleteExpired:
		return models.SubscriptionIncomplete
	default:
		return models.SubscriptionActive
	}
}

func timeFromUnix(ts int64) *time.Time {
	if ts <= 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
