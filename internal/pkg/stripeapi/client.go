package stripeapi

import (
	"context"
	"errors"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
)

// Client is an explicitly constructed Stripe API handle. It is injected into
// every consumer instead of configuring the SDK's package-level key, so
// tests and multi-tenant setups never fight over ambient state.
type Client struct {
	api *client.API
}

// New creates a client for the given secret key.
func New(secretKey string) *Client {
	api := &client.API{}
	api.Init(secretKey, nil)
	return &Client{api: api}
}

// SubscriptionMetadata fetches the metadata map of a provider subscription.
// Implements reconcile.SubscriptionResolver for invoice events that carry no
// metadata of their own.
func (c *Client) SubscriptionMetadata(ctx context.Context, subscriptionID string) (map[string]string, error) {
	if subscriptionID == "" {
		return nil, errors.New("subscription id is required")
	}
	params := &stripe.SubscriptionParams{Params: stripe.Params{Context: ctx}}
	sub, err := c.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, err
	}
	return sub.Metadata, nil
}

// Account retrieves the account associated with the configured key.
func (c *Client) Account(ctx context.Context) (*stripe.Account, error) {
	return c.api.Accounts.Get()
}

// PaymentIntent retrieves a single payment intent by id.
func (c *Client) PaymentIntent(ctx context.Context, id string) (*stripe.PaymentIntent, error) {
	if id == "" {
		return nil, errors.New("payment intent id is required")
	}
	params := &stripe.PaymentIntentParams{Params: stripe.Params{Context: ctx}}
	return c.api.PaymentIntents.Get(id, params)
}
