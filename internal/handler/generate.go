package handler

import (
	"context"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/refactor-gateway/internal/apperror"
	"github.com/iliyamo/refactor-gateway/internal/generation"
	"github.com/iliyamo/refactor-gateway/internal/model"
	"github.com/iliyamo/refactor-gateway/internal/sse"
)

// Runner executes one generation request against an open event stream.
type Runner interface {
	Run(ctx context.Context, req model.GenerationRequest, ev generation.Events)
}

// GenerateHandler serves the three streaming endpoints.
type GenerateHandler struct {
	Gen Runner
	Log zerolog.Logger
}

func NewGenerateHandler(gen Runner, log zerolog.Logger) *GenerateHandler {
	if gen == nil {
		panic("nil runner passed to NewGenerateHandler")
	}
	return &GenerateHandler{Gen: gen, Log: log}
}

type generateReq struct {
	APIKey          string              `json:"api_key" validate:"required"`
	Model           string              `json:"model" validate:"required"`
	UpstreamAPIKey  string              `json:"upstream_api_key"`
	UpstreamAPIKeys []string            `json:"upstream_api_keys"`
	Files           []model.ProjectFile `json:"files" validate:"required,min=1,dive"`
	Project         model.ProjectMeta   `json:"project"`
	UserPrompt      string              `json:"user_prompt"`
}

// upstreamKeys merges the single and list forms, dropping blanks and
// duplicates while keeping order.
func (r generateReq) upstreamKeys() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, k := range append([]string{r.UpstreamAPIKey}, r.UpstreamAPIKeys...) {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

func (r generateReq) toModel(op model.Operation) model.GenerationRequest {
	return model.GenerationRequest{
		Operation:    op,
		APIKey:       strings.TrimSpace(r.APIKey),
		Model:        strings.TrimSpace(r.Model),
		UpstreamKeys: r.upstreamKeys(),
		Files:        r.Files,
		Project:      r.Project,
		UserPrompt:   strings.TrimSpace(r.UserPrompt),
	}
}

// ProcessCode rewrites the submitted project. POST /process-code
func (h *GenerateHandler) ProcessCode(c echo.Context) error {
	return h.stream(c, model.OperationRewrite)
}

// GenerateCustom applies the caller's free-text instruction. POST /generate-custom
func (h *GenerateHandler) GenerateCustom(c echo.Context) error {
	return h.stream(c, model.OperationCustom)
}

// OptimizeFiles optimizes the submitted files. POST /optimize-files
func (h *GenerateHandler) OptimizeFiles(c echo.Context) error {
	return h.stream(c, model.OperationOptimize)
}

// stream validates the body while a JSON error can still be returned, then
// commits to SSE. Everything after Open is reported as events.
func (h *GenerateHandler) stream(c echo.Context, op model.Operation) error {
	var req generateReq
	if err := c.Bind(&req); err != nil {
		return apperror.Validation("invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	if op == model.OperationCustom && strings.TrimSpace(req.UserPrompt) == "" {
		return apperror.Validation("user_prompt is required")
	}

	st, err := sse.Open(c)
	if err != nil {
		h.Log.Warn().Err(err).Msg("open event stream")
		return nil
	}
	h.Log.Debug().Str("stream_id", st.ID()).Str("operation", string(op)).Msg("stream opened")
	h.Gen.Run(c.Request().Context(), req.toModel(op), st)
	return nil
}
