package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/refactor-gateway/internal/policy"
)

type ModelLister interface {
	Models() []policy.ModelInfo
}

// Models lists the logical models and which plans may request them.
// GET /models
func Models(p ModelLister) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{"models": p.Models()})
	}
}
