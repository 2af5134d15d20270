package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/refactor-gateway/internal/apperror"
	"github.com/iliyamo/refactor-gateway/internal/middleware"
	"github.com/iliyamo/refactor-gateway/internal/model"
	"github.com/iliyamo/refactor-gateway/internal/usage"
)

type KeyIssuer interface {
	Issue(ctx context.Context, identity string) (string, error)
	Revoke(ctx context.Context, identity string) error
}

type CredentialAuthenticator interface {
	Authenticate(ctx context.Context, plaintext string) (model.Credential, error)
}

type UsageCounter interface {
	CheckAndIncrement(ctx context.Context, cred model.Credential) (usage.Result, error)
	Snapshot(ctx context.Context, cred model.Credential) (model.UsageSnapshot, error)
}

// APIKeyHandler issues, revokes and inspects API keys.
type APIKeyHandler struct {
	Keys    KeyIssuer
	Auth    CredentialAuthenticator
	Limiter UsageCounter
}

func NewAPIKeyHandler(keys KeyIssuer, auth CredentialAuthenticator, limiter UsageCounter) *APIKeyHandler {
	if keys == nil || auth == nil || limiter == nil {
		panic("nil dependency passed to NewAPIKeyHandler")
	}
	return &APIKeyHandler{Keys: keys, Auth: auth, Limiter: limiter}
}

type apiKeyReq struct {
	APIKey string `json:"api_key" validate:"required"`
}

// GenerateAPIKey replaces the caller's key with a fresh one. The plaintext
// is only ever returned here.
func (h *APIKeyHandler) GenerateAPIKey(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	identity := middleware.Identity(c)
	key, err := h.Keys.Issue(ctx, identity)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"identity": identity,
		"apiKey":   key,
		"message":  "Store this key now; it cannot be shown again.",
	})
}

// DeleteAPIKey revokes the caller's key. Usage and plan are kept.
func (h *APIKeyHandler) DeleteAPIKey(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Keys.Revoke(ctx, middleware.Identity(c)); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "API key revoked"})
}

func (h *APIKeyHandler) authenticate(c echo.Context) (context.Context, context.CancelFunc, model.Credential, error) {
	var req apiKeyReq
	if err := c.Bind(&req); err != nil {
		return nil, nil, model.Credential{}, apperror.Validation("invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return nil, nil, model.Credential{}, err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	cred, err := h.Auth.Authenticate(ctx, req.APIKey)
	if err != nil {
		cancel()
		return nil, nil, cred, err
	}
	return ctx, cancel, cred, nil
}

// UpdateCount consumes one request of quota, for clients that call a
// model directly but still meter through the gateway.
func (h *APIKeyHandler) UpdateCount(c echo.Context) error {
	ctx, cancel, cred, err := h.authenticate(c)
	if err != nil {
		return err
	}
	defer cancel()

	res, err := h.Limiter.CheckAndIncrement(ctx, cred)
	if err != nil {
		return err
	}
	if !res.Allowed {
		return usage.QuotaError(res)
	}
	return c.JSON(http.StatusOK, echo.Map{"usage": res.Snapshot()})
}

// GetUserAPIInfo reports plan and usage without consuming quota.
func (h *APIKeyHandler) GetUserAPIInfo(c echo.Context) error {
	ctx, cancel, cred, err := h.authenticate(c)
	if err != nil {
		return err
	}
	defer cancel()

	snap, err := h.Limiter.Snapshot(ctx, cred)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{
		"identity":           cred.Identity,
		"plan":               cred.Plan,
		"subscriptionStatus": cred.SubscriptionStatus,
		"usage":              snap,
	})
}
