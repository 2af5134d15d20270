// Package billing creates and cancels pro subscriptions and translates
// payment provider webhooks into subscription events.
package billing

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

// Subscription is the provider's view of a newly created subscription.
type Subscription struct {
	ID           string
	Status       string
	ClientSecret string
}

// Gateway is the subset of the payment provider API the service uses.
type Gateway interface {
	CreateCustomer(ctx context.Context, identity string) (string, error)
	CreateSubscription(ctx context.Context, customerID, priceID, identity, idempotencyKey string) (Subscription, error)
	CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (string, error)
}

// StripeGateway implements Gateway with a per-instance Stripe client
// instead of the package-level stripe.Key.
type StripeGateway struct {
	sc *client.API
}

func NewStripeGateway(secretKey string) *StripeGateway {
	return &StripeGateway{sc: client.New(secretKey, nil)}
}

// CreateCustomer creates a customer tagged with the caller identity.
func (g *StripeGateway) CreateCustomer(ctx context.Context, identity string) (string, error) {
	params := &stripe.CustomerParams{
		Metadata: map[string]string{"identity": identity},
	}
	params.Context = ctx
	cust, err := g.sc.Customers.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe create customer: %w", err)
	}
	return cust.ID, nil
}

// CreateSubscription starts an incomplete subscription whose first invoice
// is paid client-side with the returned payment intent secret.
func (g *StripeGateway) CreateSubscription(ctx context.Context, customerID, priceID, identity, idempotencyKey string) (Subscription, error) {
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(customerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(priceID)},
		},
		PaymentBehavior: stripe.String("default_incomplete"),
		PaymentSettings: &stripe.SubscriptionPaymentSettingsParams{
			SaveDefaultPaymentMethod: stripe.String("on_subscription"),
		},
		Metadata: map[string]string{"identity": identity},
	}
	params.Context = ctx
	params.AddExpand("latest_invoice.payment_intent")
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}

	sub, err := g.sc.Subscriptions.New(params)
	if err != nil {
		return Subscription{}, fmt.Errorf("stripe create subscription: %w", err)
	}

	out := Subscription{ID: sub.ID, Status: string(sub.Status)}
	if sub.LatestInvoice != nil && sub.LatestInvoice.PaymentIntent != nil {
		out.ClientSecret = sub.LatestInvoice.PaymentIntent.ClientSecret
	}
	return out, nil
}

// CancelAtPeriodEnd schedules cancellation; access lasts until the period
// ends and the provider sends the deletion webhook.
func (g *StripeGateway) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (string, error) {
	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
	params.Context = ctx
	sub, err := g.sc.Subscriptions.Update(subscriptionID, params)
	if err != nil {
		return "", fmt.Errorf("stripe cancel subscription: %w", err)
	}
	return string(sub.Status), nil
}
