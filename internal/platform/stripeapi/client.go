package stripeapi

import (
	"context"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"go.uber.org/zap"
)

// ProviderAPI is the slice of the payment provider's REST surface the
// reconciliation engine consumes. Every call goes through the retry
// executor, off the webhook-handling path.
type ProviderAPI interface {
	GetCustomer(ctx context.Context, id string) (*stripe.Customer, error)
	GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	SetCancelAtPeriodEnd(ctx context.Context, id string, cancel bool) (*stripe.Subscription, error)
	CancelSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// Client implements ProviderAPI against the Stripe API.
type Client struct {
	api  *client.API
	exec *Executor
	log  *zap.SugaredLogger
}

func NewClient(apiKey string, exec *Executor, log *zap.SugaredLogger) *Client {
	api := &client.API{}
	api.Init(apiKey, nil)
	return &Client{api: api, exec: exec, log: log}
}

func (c *Client) GetCustomer(ctx context.Context, id string) (*stripe.Customer, error) {
	return DoValue(c.exec, ctx, "customer_get", func(ctx context.Context) (*stripe.Customer, error) {
		params := &stripe.CustomerParams{}
		params.Context = ctx
		return c.api.Customers.Get(id, params)
	})
}

func (c *Client) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	return DoValue(c.exec, ctx, "subscription_get", func(ctx context.Context) (*stripe.Subscription, error) {
		params := &stripe.SubscriptionParams{}
		params.Context = ctx
		return c.api.Subscriptions.Get(id, params)
	})
}

func (c *Client) SetCancelAtPeriodEnd(ctx context.Context, id string, cancel bool) (*stripe.Subscription, error) {
	return DoValue(c.exec, ctx, "subscription_update", func(ctx context.Context) (*stripe.Subscription, error) {
		params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(cancel)}
		params.Context = ctx
		return c.api.Subscriptions.Update(id, params)
	})
}

func (c *Client) CancelSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	return DoValue(c.exec, ctx, "subscription_cancel", func(ctx context.Context) (*stripe.Subscription, error) {
		params := &stripe.SubscriptionCancelParams{}
		params.Context = ctx
		return c.api.Subscriptions.Cancel(id, params)
	})
}

func (c *Client) CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return DoValue(c.exec, ctx, "checkout_session_create", func(ctx context.Context) (*stripe.CheckoutSession, error) {
		params.Context = ctx
		return c.api.CheckoutSessions.New(params)
	})
}

var _ ProviderAPI = (*Client)(nil)
