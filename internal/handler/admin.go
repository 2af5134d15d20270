package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/refactor-gateway/internal/apperror"
	"github.com/iliyamo/refactor-gateway/internal/model"
	"github.com/iliyamo/refactor-gateway/internal/repository"
)

type PlanLimitStore interface {
	PlanLimit(ctx context.Context, plan model.Plan) (int, error)
	SetPlanLimit(ctx context.Context, plan model.Plan, limit int) error
}

// AdminHandler manages per-plan request ceilings.
type AdminHandler struct {
	Limits   PlanLimitStore
	Defaults map[model.Plan]int
}

func NewAdminHandler(limits PlanLimitStore, freeDefault, proDefault int) *AdminHandler {
	if limits == nil {
		panic("nil store passed to NewAdminHandler")
	}
	return &AdminHandler{
		Limits:   limits,
		Defaults: map[model.Plan]int{model.PlanFree: freeDefault, model.PlanPro: proDefault},
	}
}

type planLimitReq struct {
	Limit *int `json:"limit" validate:"required,gte=0"`
}

func planParam(c echo.Context) (model.Plan, error) {
	plan := model.Plan(c.Param("plan"))
	if !plan.Valid() {
		return "", apperror.NotFound("unknown plan")
	}
	return plan, nil
}

// GetPlanLimit reports the effective ceiling and whether it comes from the
// plan_limits table or the configured default.
func (h *AdminHandler) GetPlanLimit(c echo.Context) error {
	plan, err := planParam(c)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	limit, err := h.Limits.PlanLimit(ctx, plan)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusOK, echo.Map{"plan": plan, "limit": h.Defaults[plan], "source": "default", "daily": plan.Daily()})
	case err != nil:
		return apperror.Infrastructure(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"plan": plan, "limit": limit, "source": "table", "daily": plan.Daily()})
}

// PutPlanLimit stores a new ceiling. It applies to the next request.
func (h *AdminHandler) PutPlanLimit(c echo.Context) error {
	plan, err := planParam(c)
	if err != nil {
		return err
	}
	var req planLimitReq
	if err := c.Bind(&req); err != nil {
		return apperror.Validation("invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()

	if err := h.Limits.SetPlanLimit(ctx, plan, *req.Limit); err != nil {
		return apperror.Infrastructure(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"plan": plan, "limit": *req.Limit, "source": "table", "daily": plan.Daily()})
}
