package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/refactor-gateway/internal/billing"
	"github.com/iliyamo/refactor-gateway/internal/middleware"
	"github.com/iliyamo/refactor-gateway/internal/model"
)

type Subscriptions interface {
	CreateSubscription(ctx context.Context, identity string) (billing.Checkout, error)
	CancelSubscription(ctx context.Context, identity string) (model.SubscriptionStatus, error)
}

// BillingHandler starts and cancels pro subscriptions for the bearer
// token's identity.
type BillingHandler struct {
	Billing Subscriptions
}

func NewBillingHandler(b Subscriptions) *BillingHandler {
	if b == nil {
		panic("nil billing service passed to NewBillingHandler")
	}
	return &BillingHandler{Billing: b}
}

// CreateSubscription returns the client secret for confirming the first
// payment. The plan changes only when the provider's webhook arrives.
func (h *BillingHandler) CreateSubscription(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 15*time.Second)
	defer cancel()

	out, err := h.Billing.CreateSubscription(ctx, middleware.Identity(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, out)
}

// CancelSubscription stops renewal at the end of the current period.
func (h *BillingHandler) CancelSubscription(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 15*time.Second)
	defer cancel()

	status, err := h.Billing.CancelSubscription(ctx, middleware.Identity(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{
		"status":  status,
		"message": "Subscription will end at the close of the current billing period.",
	})
}
