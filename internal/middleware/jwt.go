package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/refactor-gateway/internal/utils"
)

// JWTAuth validates the bearer token issued by the account service and
// stores its subject and role on the context.
func JWTAuth(secret string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			if !strings.HasPrefix(auth, "Bearer ") {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "missing bearer token", "type": "auth"})
			}
			raw := strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
			claims, err := utils.ParseAccessToken(secret, raw)
			if err != nil || claims.Subject == "" {
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": "invalid or expired token", "type": "auth"})
			}
			c.Set(ContextIdentity, claims.Subject)
			c.Set(ContextRole, claims.Role)
			return next(c)
		}
	}
}
