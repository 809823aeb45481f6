package service

import (
	"context"
	"testing"

	"github.com/reelforge/reelforge/internal/models"
)

// fakeLookup resolves only the identifiers it was seeded with and records the
// order lookups were attempted in.
type fakeLookup struct {
	byID     map[string]*models.Profile
	byCust   map[string]*models.Profile
	byEmail  map[string]*models.Profile
	bySub    map[string]*models.Profile
	attempts []string
}

func newFakeLookup() *fakeLookup {
	return &fakeLookup{
		byID:    map[string]*models.Profile{},
		byCust:  map[string]*models.Profile{},
		byEmail: map[string]*models.Profile{},
		bySub:   map[string]*models.Profile{},
	}
}

func (f *fakeLookup) GetByID(ctx context.Context, id string) (*models.Profile, error) {
	f.attempts = append(f.attempts, "id")
	return f.byID[id], nil
}

func (f *fakeLookup) GetByCustomerID(ctx context.Context, customerID string) (*models.Profile, error) {
	f.attempts = append(f.attempts, "customer")
	return f.byCust[customerID], nil
}

func (f *fakeLookup) GetByEmail(ctx context.Context, email string) (*models.Profile, error) {
	f.attempts = append(f.attempts, "email")
	return f.byEmail[email], nil
}

func (f *fakeLookup) GetBySubscriptionID(ctx context.Context, subscriptionID string) (*models.Profile, error) {
	f.attempts = append(f.attempts, "subscription")
	return f.bySub[subscriptionID], nil
}

func TestProfileResolver(t *testing.T) {
	ctx := context.Background()

	t.Run("user_id_wins", func(t *testing.T) {
		lookup := newFakeLookup()
		lookup.byID["u1"] = &models.Profile{ID: "u1"}
		lookup.byCust["cus_1"] = &models.Profile{ID: "other"}

		p, err := NewProfileResolver(lookup).Resolve(ctx, ProfileRef{UserID: "u1", CustomerID: "cus_1"})
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if p == nil || p.ID != "u1" {
			t.Fatalf("expected profile u1, got %+v", p)
		}
		if len(lookup.attempts) != 1 || lookup.attempts[0] != "id" {
			t.Fatalf("expected only the id lookup, got %v", lookup.attempts)
		}
	})

	t.Run("falls_through_in_priority_order", func(t *testing.T) {
		lookup := newFakeLookup()
		lookup.bySub["sub_1"] = &models.Profile{ID: "u2"}

		ref := ProfileRef{UserID: "missing", CustomerID: "cus_x", Email: "a@b.c", SubscriptionID: "sub_1"}
		p, err := NewProfileResolver(lookup).Resolve(ctx, ref)
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if p == nil || p.ID != "u2" {
			t.Fatalf("expected profile u2 via subscription id, got %+v", p)
		}
		want := []string{"id", "customer", "email", "subscription"}
		if len(lookup.attempts) != len(want) {
			t.Fatalf("expected attempts %v, got %v", want, lookup.attempts)
		}
		for i := range want {
			if lookup.attempts[i] != want[i] {
				t.Fatalf("expected attempts %v, got %v", want, lookup.attempts)
			}
		}
	})

	t.Run("blank_identifiers_skipped", func(t *testing.T) {
		lookup := newFakeLookup()
		lookup.byEmail["a@b.c"] = &models.Profile{ID: "u3"}

		p, err := NewProfileResolver(lookup).Resolve(ctx, ProfileRef{Email: "a@b.c"})
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if p == nil || p.ID != "u3" {
			t.Fatalf("expected profile u3, got %+v", p)
		}
		if len(lookup.attempts) != 1 || lookup.attempts[0] != "email" {
			t.Fatalf("expected only the email lookup, got %v", lookup.attempts)
		}
	})

	t.Run("unmatched_is_nil_nil", func(t *testing.T) {
		p, err := NewProfileResolver(newFakeLookup()).Resolve(ctx, ProfileRef{UserID: "ghost"})
		if err != nil {
			t.Fatalf("resolve: %v", err)
		}
		if p != nil {
			t.Fatalf("expected nil profile for unmatched ref, got %+v", p)
		}
	})
}
