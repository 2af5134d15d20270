package router // package router registers the gateway's HTTP routes

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/refactor-gateway/internal/handler"
	"github.com/iliyamo/refactor-gateway/internal/middleware"
	"github.com/iliyamo/refactor-gateway/internal/utils"
)

// RegisterRoutes registers the unauthenticated liveness probe.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/health", handler.Health)
}

// RegisterGeneration registers the streaming endpoints. Callers
// authenticate with the API key in the body, so the only middleware is
// the burst limiter.
func RegisterGeneration(e *echo.Echo, h *handler.GenerateHandler, rateLimit echo.MiddlewareFunc) {
	e.POST("/process-code", h.ProcessCode, rateLimit)
	e.POST("/generate-custom", h.GenerateCustom, rateLimit)
	e.POST("/optimize-files", h.OptimizeFiles, rateLimit)
}

// RegisterKeys registers key management. Issuing and revoking need the
// account session token; the usage endpoints take the API key itself.
func RegisterKeys(e *echo.Echo, h *handler.APIKeyHandler, jwtSecret string) {
	session := middleware.JWTAuth(jwtSecret)
	e.POST("/generate-api-key", h.GenerateAPIKey, session)
	e.POST("/delete-api-key", h.DeleteAPIKey, session)

	e.POST("/update-count", h.UpdateCount)
	e.POST("/get-user-api-info", h.GetUserAPIInfo)
}

// RegisterBilling registers the subscription endpoints and the provider
// webhook. The webhook is authenticated by its signature, not a token.
func RegisterBilling(e *echo.Echo, b *handler.BillingHandler, w *handler.WebhookHandler, jwtSecret string) {
	session := middleware.JWTAuth(jwtSecret)
	e.POST("/payment/create-subscription", b.CreateSubscription, session)
	e.POST("/subscription/cancel", b.CancelSubscription, session)

	e.POST("/webhooks/stripe", w.Stripe)
}

// RegisterAdmin registers plan limit management for ADMIN tokens.
func RegisterAdmin(e *echo.Echo, a *handler.AdminHandler, jwtSecret string) {
	g := e.Group("/admin")
	g.Use(middleware.JWTAuth(jwtSecret))
	g.Use(middleware.RequireRole(utils.RoleAdmin))
	g.GET("/plan-limits/:plan", a.GetPlanLimit)
	g.PUT("/plan-limits/:plan", a.PutPlanLimit)
}

// RegisterModels registers the model catalog listing behind the response
// cache.
func RegisterModels(e *echo.Echo, models handler.ModelLister, cache echo.MiddlewareFunc) {
	e.GET("/models", handler.Models(models), cache)
}
