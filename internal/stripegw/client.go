// Package stripegw wraps the Stripe API client behind the small surface the
// reconciler uses: subscription reads and mutations, charge lookups, price
// creation.
package stripegw

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/client"
)

type Client struct {
	sc  *client.API
	log *slog.Logger
}

func New(secretKey string, log *slog.Logger) *Client {
	sc := &client.API{}
	sc.Init(secretKey, nil)
	return &Client{sc: sc, log: log}
}

func (c *Client) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := c.sc.Subscriptions.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("get subscription %s: %w", id, err)
	}
	return sub, nil
}

func (c *Client) CancelSubscription(ctx context.Context, id string) error {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	if _, err := c.sc.Subscriptions.Cancel(id, params); err != nil {
		return fmt.Errorf("cancel subscription %s: %w", id, err)
	}
	return nil
}

// ChangeSubscriptionPrice moves the subscription's single item onto the given
// price. The current state is read first, and proration is disabled: the plan
// change payment was already settled through checkout, so the swap must not
// generate its own invoice line.
func (c *Client) ChangeSubscriptionPrice(ctx context.Context, subscriptionID, priceID string) error {
	sub, err := c.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return err
	}
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return fmt.Errorf("subscription %s has no items", subscriptionID)
	}

	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{
				ID:    stripe.String(sub.Items.Data[0].ID),
				Price: stripe.String(priceID),
			},
		},
		ProrationBehavior: stripe.String("none"),
	}
	params.Context = ctx
	if _, err := c.sc.Subscriptions.Update(subscriptionID, params); err != nil {
		return fmt.Errorf("update subscription %s price: %w", subscriptionID, err)
	}
	return nil
}

func (c *Client) GetCharge(ctx context.Context, id string) (*stripe.Charge, error) {
	params := &stripe.ChargeParams{}
	params.Context = ctx
	charge, err := c.sc.Charges.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("get charge %s: %w", id, err)
	}
	return charge, nil
}

func (c *Client) GetCustomer(ctx context.Context, id string) (*stripe.Customer, error) {
	params := &stripe.CustomerParams{}
	params.Context = ctx
	customer, err := c.sc.Customers.Get(id, params)
	if err != nil {
		return nil, fmt.Errorf("get customer %s: %w", id, err)
	}
	return customer, nil
}

// CreateRecurringPrice registers a monthly price for a plan, used when wiring
// a new environment's plan catalog to Stripe.
func (c *Client) CreateRecurringPrice(ctx context.Context, productID, currency string, unitAmount int64) (string, error) {
	params := &stripe.PriceParams{
		Product:    stripe.String(productID),
		Currency:   stripe.String(currency),
		UnitAmount: stripe.Int64(unitAmount),
		Recurring: &stripe.PriceRecurringParams{
			Interval: stripe.String(string(stripe.PriceRecurringIntervalMonth)),
		},
	}
	params.Context = ctx
	price, err := c.sc.Prices.New(params)
	if err != nil {
		return "", fmt.Errorf("create price: %w", err)
	}
	return price.ID, nil
}
