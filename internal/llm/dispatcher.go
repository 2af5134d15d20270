package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/iliyamo/refactor-gateway/internal/apperror"
	"github.com/iliyamo/refactor-gateway/internal/config"
	"github.com/iliyamo/refactor-gateway/internal/model"
	"github.com/iliyamo/refactor-gateway/internal/policy"
	"github.com/iliyamo/refactor-gateway/internal/retry"
)

// Invocation is one logical generation request.
type Invocation struct {
	Model      string // logical model name from the catalog
	Plan       model.Plan
	CallerKeys []string // caller-supplied upstream credentials, in failover order
	// Keys is the credential source chosen by the access policy. Empty
	// derives it from Plan.
	Keys         policy.KeySource
	SystemPrompt string
	Prompt       string
	OnChunk      StreamCallback
	// OnRetry is called before a failover attempt. Output streamed by the
	// failed attempt is abandoned; the next attempt starts from scratch.
	OnRetry func(attempt, total int, err error)
}

// Options tune upstream calls.
type Options struct {
	Timeout     time.Duration // per attempt; zero disables
	Backoff     time.Duration // initial pause between failover attempts
	Temperature float64
}

// Dispatcher maps logical models to providers and runs credential failover.
type Dispatcher struct {
	catalog    config.Catalog
	providers  map[string]Provider
	serverKeys map[string][]string
	opts       Options
	log        zerolog.Logger
}

// NewDispatcher wires providers and server key pools, both keyed by the
// catalog provider id.
func NewDispatcher(catalog config.Catalog, providers map[string]Provider, serverKeys map[string][]string, opts Options, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		catalog:    catalog,
		providers:  providers,
		serverKeys: serverKeys,
		opts:       opts,
		log:        log,
	}
}

// Invoke streams the model's output through inv.OnChunk and returns the
// full text of the successful attempt.
func (d *Dispatcher) Invoke(ctx context.Context, inv Invocation) (string, error) {
	binding, ok := d.catalog.Lookup(inv.Model)
	if !ok {
		return "", apperror.Validation(fmt.Sprintf("Unknown model %q. Supported models: %s.",
			inv.Model, strings.Join(d.catalog.Names(""), ", ")))
	}
	if err := checkPlan(binding, inv); err != nil {
		return "", err
	}

	provider, ok := d.providers[binding.Provider]
	if !ok || provider == nil {
		return "", apperror.UpstreamFatal(fmt.Sprintf("provider %q is not configured", binding.Provider), nil)
	}

	keys := d.keysFor(binding, inv)
	if len(keys) == 0 {
		return "", apperror.UpstreamFatal(fmt.Sprintf("no upstream credentials available for %s", binding.Name), nil)
	}
	attempts := 1
	if binding.Failover {
		attempts = len(keys)
	}

	log := d.log.With().Str("model", binding.Name).Str("provider", provider.Name()).Logger()

	var acc strings.Builder
	cfg := retry.Config{
		MaxRetries:     attempts,
		InitialBackoff: d.opts.Backoff,
		MaxBackoff:     4 * d.opts.Backoff,
		OnRetry: func(attempt int, err error) {
			log.Warn().Err(err).Int("attempt", attempt+1).Int("of", attempts).Msg("upstream rate limited, failing over")
			if inv.OnRetry != nil {
				inv.OnRetry(attempt, attempts, err)
			}
		},
	}

	err := retry.Do(ctx, cfg, func(attempt int) error {
		acc.Reset()
		callCtx := ctx
		if d.opts.Timeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, d.opts.Timeout)
			defer cancel()
		}
		return provider.Stream(callCtx, Request{
			Model:        binding.UpstreamModel,
			BaseURL:      binding.BaseURL,
			APIKey:       keys[attempt],
			SystemPrompt: inv.SystemPrompt,
			Prompt:       inv.Prompt,
			Temperature:  d.opts.Temperature,
		}, Tee(&acc, inv.OnChunk))
	}, IsRateLimit)

	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", classify(err, attempts)
	}
	return acc.String(), nil
}

// checkPlan repeats the access policy's tier rules so that a caller that
// skipped the policy still cannot reach a model its plan excludes.
func checkPlan(binding config.ModelBinding, inv Invocation) error {
	switch {
	case binding.Tier == config.TierPremium && inv.Plan != model.PlanPro:
		return apperror.Policy(fmt.Sprintf("%s is not available on the %s plan", binding.Name, inv.Plan))
	case binding.Tier == config.TierAggregator && inv.Plan != model.PlanPro && len(inv.CallerKeys) == 0:
		return apperror.Policy(fmt.Sprintf("%s requires a caller-supplied upstream API key", binding.Name))
	case inv.Keys == policy.KeysServer && inv.Plan != model.PlanPro:
		return apperror.Policy(fmt.Sprintf("server credentials for %s are reserved for the pro plan", binding.Name))
	}
	return nil
}

// keysFor returns the failover credential set. Free callers only ever
// spend their own keys.
func (d *Dispatcher) keysFor(binding config.ModelBinding, inv Invocation) []string {
	source := inv.Keys
	if source == "" {
		source = policy.KeysCaller
		if inv.Plan == model.PlanPro {
			source = policy.KeysServer
		}
	}
	if source == policy.KeysCaller {
		return inv.CallerKeys
	}
	return d.serverKeys[binding.Provider]
}

func classify(err error, attempts int) error {
	if IsRateLimit(err) {
		last := errors.Unwrap(err)
		if last == nil {
			last = err
		}
		return apperror.UpstreamTransient(
			fmt.Sprintf("All %d upstream credentials are rate limited. Last error: %v", attempts, last), err)
	}
	return apperror.UpstreamFatal("The model provider rejected the request.", err)
}
