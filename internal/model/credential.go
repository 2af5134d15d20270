package model

import "time"

// Plan is the entitlement tier attached to a caller identity.
type Plan string

const (
	PlanFree Plan = "free"
	PlanPro  Plan = "pro"
)

// Valid reports whether p is a known plan.
func (p Plan) Valid() bool { return p == PlanFree || p == PlanPro }

// Daily reports whether the plan's counter resets every calendar day. Free
// plan usage is a lifetime counter.
func (p Plan) Daily() bool { return p == PlanPro }

// SubscriptionStatus mirrors the payment provider's subscription state.
type SubscriptionStatus string

const (
	SubscriptionNone              SubscriptionStatus = ""
	SubscriptionActive            SubscriptionStatus = "active"
	SubscriptionPastDue           SubscriptionStatus = "past_due"
	SubscriptionCancelled         SubscriptionStatus = "cancelled"
	SubscriptionCancelAtPeriodEnd SubscriptionStatus = "cancel_at_period_end"
	SubscriptionPaused            SubscriptionStatus = "paused"
	SubscriptionPending           SubscriptionStatus = "pending"
)

// Credential mirrors a row of the `credentials` table.
//
// Fields:
//
//	Identity           – unique owner handle.
//	SecretHash         – bcrypt hash of the API secret; empty when revoked.
//	Plan               – free or pro.
//	UsageCount         – lifetime (free) or daily (pro) request counter.
//	LastResetDate      – date-only marker of the last daily reset.
//	SubscriptionStatus – last status reported by the payment provider.
//	SubscriptionID     – external subscription identifier.
//	StripeCustomerID   – payment provider customer identifier.
type Credential struct {
	Identity           string
	SecretHash         string
	Plan               Plan
	UsageCount         int
	LastResetDate      time.Time
	SubscriptionStatus SubscriptionStatus
	SubscriptionID     string
	StripeCustomerID   string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// HasSecret reports whether the record can currently authenticate.
func (c Credential) HasSecret() bool { return c.SecretHash != "" }

// UsageSnapshot is the quota state reported to callers.
type UsageSnapshot struct {
	Count     int  `json:"count"`
	Limit     int  `json:"limit"`
	Remaining int  `json:"remaining"`
	Plan      Plan `json:"plan"`
}

// Today truncates t to a UTC calendar date.
func Today(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// SameDay reports whether a and b fall on the same UTC calendar date.
func SameDay(a, b time.Time) bool {
	return Today(a).Equal(Today(b))
}
