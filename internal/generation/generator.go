// Package generation runs the streaming pipeline behind the rewrite,
// custom and optimize endpoints.
package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/refactor-gateway/internal/apperror"
	"github.com/iliyamo/refactor-gateway/internal/extract"
	"github.com/iliyamo/refactor-gateway/internal/llm"
	"github.com/iliyamo/refactor-gateway/internal/model"
	"github.com/iliyamo/refactor-gateway/internal/policy"
	"github.com/iliyamo/refactor-gateway/internal/prompt"
	"github.com/iliyamo/refactor-gateway/internal/usage"
)

type Authenticator interface {
	Authenticate(ctx context.Context, plaintext string) (model.Credential, error)
}

type Limiter interface {
	Enforce(ctx context.Context, cred model.Credential) (usage.Result, error)
}

type AccessPolicy interface {
	Evaluate(plan model.Plan, requested string, hasCallerKey bool) policy.Decision
}

type PromptBuilder interface {
	Build(req model.GenerationRequest) (prompt.Prompt, error)
}

type Dispatcher interface {
	Invoke(ctx context.Context, inv llm.Invocation) (string, error)
}

// Events is the stream the pipeline reports to. *sse.Stream implements it.
type Events interface {
	Status(message string, extra map[string]any) error
	Chunk(content string) error
	Final(result any, usage model.UsageSnapshot, extra map[string]any) error
	Complete() error
	Error(err error, devMode bool) error
	End()
	KeepAlive(interval time.Duration)
}

// Generator wires authentication, quota, policy, prompt rendering, model
// dispatch and extraction.
type Generator struct {
	Auth       Authenticator
	Limiter    Limiter
	Policy     AccessPolicy
	Prompts    PromptBuilder
	Dispatcher Dispatcher
	Log        zerolog.Logger
	DevMode    bool
	KeepAlive  time.Duration
}

// Run executes req and reports every outcome on ev, ending with an end
// event. Failures are reported as error events; the HTTP status was
// already committed when the stream opened.
func (g *Generator) Run(ctx context.Context, req model.GenerationRequest, ev Events) {
	defer ev.End()
	ev.KeepAlive(g.KeepAlive)

	log := g.Log.With().Str("operation", string(req.Operation)).Str("model", req.Model).Logger()
	start := time.Now()

	err := g.run(ctx, req, ev, &log)
	switch {
	case err == nil:
		log.Info().Dur("duration", time.Since(start)).Msg("generation completed")
	case ctx.Err() != nil:
		log.Info().Err(err).Msg("client disconnected, generation abandoned")
	default:
		g.logFailure(log, err)
		_ = ev.Error(err, g.DevMode)
	}
}

func (g *Generator) run(ctx context.Context, req model.GenerationRequest, ev Events, log *zerolog.Logger) error {
	_ = ev.Status("Validating API key", nil)
	cred, err := g.Auth.Authenticate(ctx, req.APIKey)
	if err != nil {
		return err
	}
	*log = log.With().Str("identity", cred.Identity).Str("plan", string(cred.Plan)).Logger()

	// Policy runs before the increment so a denied model never consumes quota.
	_ = ev.Status("Checking model access", nil)
	decision := g.Policy.Evaluate(cred.Plan, req.Model, len(req.UpstreamKeys) > 0)
	if err := decision.Err(); err != nil {
		return err
	}

	_ = ev.Status("Checking usage limits", nil)
	used, err := g.Limiter.Enforce(ctx, cred)
	if err != nil {
		return err
	}

	_ = ev.Status("Preparing prompt", nil)
	p, err := g.Prompts.Build(req)
	if err != nil {
		return apperror.Infrastructure(fmt.Errorf("render prompt: %w", err))
	}

	name := decision.Binding.DisplayName
	if name == "" {
		name = req.Model
	}
	_ = ev.Status(fmt.Sprintf("Generating with %s", name), map[string]any{"model": req.Model})
	text, err := g.Dispatcher.Invoke(ctx, llm.Invocation{
		Model:        req.Model,
		Plan:         cred.Plan,
		CallerKeys:   req.UpstreamKeys,
		Keys:         decision.Keys,
		SystemPrompt: p.System,
		Prompt:       p.User,
		OnChunk:      ev.Chunk,
		OnRetry: func(attempt, total int, err error) {
			_ = ev.Status(fmt.Sprintf("Upstream rate limited, retrying with credential %d of %d", attempt+1, total),
				map[string]any{"attempt": attempt + 1, "of": total, "discardPartial": true})
		},
	})
	if err != nil {
		return err
	}

	_ = ev.Status("Parsing model response", nil)
	doc, err := extract.Extract(text)
	if err != nil {
		return extract.AsAppError(err)
	}
	result, err := doc.Result()
	if err != nil {
		return apperror.Extraction("The model response had an unexpected shape. Please retry the request.", err)
	}

	if err := ev.Final(result, used.Snapshot(), map[string]any{
		"model":     req.Model,
		"operation": req.Operation,
	}); err != nil {
		return err
	}
	return ev.Complete()
}

func (g *Generator) logFailure(log zerolog.Logger, err error) {
	var ae *apperror.Error
	if !errors.As(err, &ae) {
		log.Error().Err(err).Msg("generation failed")
		return
	}
	switch ae.Kind {
	case apperror.KindInfrastructure, apperror.KindUpstreamFatal, apperror.KindExtraction:
		log.Error().Err(err).Str("kind", string(ae.Kind)).Msg("generation failed")
	default:
		log.Warn().Err(err).Str("kind", string(ae.Kind)).Msg("generation rejected")
	}
}
