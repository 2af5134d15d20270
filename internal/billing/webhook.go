package billing

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/iliyamo/refactor-gateway/internal/apperror"
	"github.com/iliyamo/refactor-gateway/internal/model"
	"github.com/iliyamo/refactor-gateway/internal/queue"
)

// WebhookParser verifies and decodes provider webhooks.
type WebhookParser struct {
	secret string
}

func NewWebhookParser(secret string) *WebhookParser {
	return &WebhookParser{secret: secret}
}

// Parse verifies the signature and maps subscription events. ok is false
// for event types the gateway ignores.
func (p *WebhookParser) Parse(payload []byte, signature string) (ev queue.SubscriptionChangedEvent, ok bool, err error) {
	if p.secret == "" {
		return ev, false, apperror.Infrastructure(fmt.Errorf("webhook secret is not configured"))
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.secret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return ev, false, apperror.Validation("signature verification failed")
	}

	ev = queue.SubscriptionChangedEvent{
		EventID:    event.ID,
		EventType:  string(event.Type),
		OccurredAt: time.Unix(event.Created, 0).UTC(),
	}

	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return ev, false, apperror.Validation("invalid subscription payload")
		}
		ev.SubscriptionID = sub.ID
		ev.Identity = sub.Metadata["identity"]
		if sub.Customer != nil {
			ev.CustomerID = sub.Customer.ID
		}
		ev.Status = MapStatus(sub.Status, sub.CancelAtPeriodEnd)
		if event.Type == "customer.subscription.deleted" {
			ev.Status = model.SubscriptionCancelled
		}

	case "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return ev, false, apperror.Validation("invalid invoice payload")
		}
		if inv.Customer != nil {
			ev.CustomerID = inv.Customer.ID
		}
		if inv.Subscription != nil {
			ev.SubscriptionID = inv.Subscription.ID
		}
		ev.Status = model.SubscriptionPastDue

	default:
		return ev, false, nil
	}

	if ev.CustomerID == "" && ev.Identity == "" {
		return ev, false, apperror.Validation("missing customer id")
	}
	return ev, true, nil
}

// MapStatus converts a provider subscription status into the gateway's.
func MapStatus(status stripe.SubscriptionStatus, cancelAtPeriodEnd bool) model.SubscriptionStatus {
	switch status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		if cancelAtPeriodEnd {
			return model.SubscriptionCancelAtPeriodEnd
		}
		return model.SubscriptionActive
	case stripe.SubscriptionStatusPastDue, stripe.SubscriptionStatusUnpaid:
		return model.SubscriptionPastDue
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return model.SubscriptionCancelled
	case stripe.SubscriptionStatusPaused:
		return model.SubscriptionPaused
	default:
		return model.SubscriptionPending
	}
}
