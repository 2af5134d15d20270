package middleware

import "github.com/labstack/echo/v4"

// Context keys set by JWTAuth.
const (
	ContextIdentity = "identity"
	ContextRole     = "role"
)

// Identity returns the account identity JWTAuth stored on the context, or
// "" for unauthenticated requests.
func Identity(c echo.Context) string {
	if v, ok := c.Get(ContextIdentity).(string); ok {
		return v
	}
	return ""
}

// Role returns the role claim of the bearer token.
func Role(c echo.Context) string {
	if v, ok := c.Get(ContextRole).(string); ok {
		return v
	}
	return ""
}
