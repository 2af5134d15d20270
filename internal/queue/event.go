// Package queue defines the subscription events exchanged over the message
// broker and the consumer that applies them.
package queue

import (
	"time"

	"github.com/iliyamo/refactor-gateway/internal/model"
)

// SubscriptionChangedQueue is the durable queue carrying plan changes.
const SubscriptionChangedQueue = "subscription.changed"

// SubscriptionChangedEvent is published when the payment provider reports
// a subscription state change. Identity may be empty; consumers then
// resolve the account through CustomerID.
type SubscriptionChangedEvent struct {
	EventID        string                   `json:"event_id"`
	EventType      string                   `json:"event_type"`
	Identity       string                   `json:"identity,omitempty"`
	CustomerID     string                   `json:"customer_id"`
	SubscriptionID string                   `json:"subscription_id"`
	Status         model.SubscriptionStatus `json:"status"`
	OccurredAt     time.Time                `json:"occurred_at"`
}
