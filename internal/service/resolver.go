package service

import (
	"context"
	"fmt"

	"github.com/reelforge/reelforge/internal/models"
)

// ProfileLookup is the subset of the profile store the resolver needs.
type ProfileLookup interface {
	GetByID(ctx context.Context, id string) (*models.Profile, error)
	GetByCustomerID(ctx context.Context, customerID string) (*models.Profile, error)
	GetByEmail(ctx context.Context, email string) (*models.Profile, error)
	GetBySubscriptionID(ctx context.Context, subscriptionID string) (*models.Profile, error)
}

// ProfileRef carries every identifier a webhook event may or may not supply.
// Which fields are populated depends on the client flow that started the
// payment, so resolution tries them in a fixed priority order.
type ProfileRef struct {
	UserID         string
	CustomerID     string
	Email          string
	SubscriptionID string
}

func (r ProfileRef) Empty() bool {
	return r.UserID == "" && r.CustomerID == "" && r.Email == "" && r.SubscriptionID == ""
}

type ProfileResolver struct {
	profiles ProfileLookup
}

func NewProfileResolver(profiles ProfileLookup) *ProfileResolver {
	return &ProfileResolver{profiles: profiles}
}

// Resolve tries each populated identifier in order: explicit user id, Stripe
// customer id, email, subscription id. Returns (nil, nil) when nothing
// matches; an unresolvable event is an expected no-op under retry semantics.
func (r *ProfileResolver) Resolve(ctx context.Context, ref ProfileRef) (*models.Profile, error) {
	type strategy struct {
		key    string
		lookup func(context.Context, string) (*models.Profile, error)
	}
	strategies := []strategy{
		{ref.UserID, r.profiles.GetByID},
		{ref.CustomerID, r.profiles.GetByCustomerID},
		{ref.Email, r.profiles.GetByEmail},
		{ref.SubscriptionID, r.profiles.GetBySubscriptionID},
	}
	for _, s := range strategies {
		if s.key == "" {
			continue
		}
		p, err := s.lookup(ctx, s.key)
		if err != nil {
			return nil, fmt.Errorf("resolve profile: %w", err)
		}
		if p != nil {
			return p, nil
		}
	}
	return nil, nil
}
