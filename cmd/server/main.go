package main // entry point for the gateway HTTP server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/iliyamo/refactor-gateway/internal/billing"
	"github.com/iliyamo/refactor-gateway/internal/config"
	"github.com/iliyamo/refactor-gateway/internal/database"
	"github.com/iliyamo/refactor-gateway/internal/generation"
	"github.com/iliyamo/refactor-gateway/internal/handler"
	"github.com/iliyamo/refactor-gateway/internal/llm"
	"github.com/iliyamo/refactor-gateway/internal/logging"
	"github.com/iliyamo/refactor-gateway/internal/middleware"
	"github.com/iliyamo/refactor-gateway/internal/policy"
	"github.com/iliyamo/refactor-gateway/internal/prompt"
	"github.com/iliyamo/refactor-gateway/internal/queue"
	"github.com/iliyamo/refactor-gateway/internal/repository"
	"github.com/iliyamo/refactor-gateway/internal/router"
	"github.com/iliyamo/refactor-gateway/internal/service"
	"github.com/iliyamo/refactor-gateway/internal/subscription"
	"github.com/iliyamo/refactor-gateway/internal/usage"
)

// appName is sent to the aggregator as the X-Title attribution header.
const appName = "refactor-gateway"

func main() {
	cfg := config.Load()
	log := logging.New(logging.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty, Output: os.Stdout})

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func run(cfg config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.MigrateOnStart {
		if err := database.Migrate(ctx, db, log); err != nil {
			return err
		}
	}

	rdb := config.NewRedisClient(ctx)
	if rdb == nil {
		log.Warn().Msg("redis unavailable; rate limiting, auth cache and response cache disabled")
	} else {
		defer rdb.Close()
	}

	catalog, err := config.LoadCatalog(cfg.Upstream.CatalogFile)
	if err != nil {
		return err
	}

	repo := repository.NewCredentialRepo(db)

	// usage: authentication, quota, key issuance
	auth := usage.NewAuthenticator(repo, usage.NewAuthCache(cfg.AuthCache, rdb, log), log)
	limiter := usage.NewLimiter(repo, cfg.FreePlanLimit, cfg.ProPlanLimit)
	keys := usage.NewKeys(repo, cfg.BcryptCost)

	// model access and dispatch
	access := policy.New(catalog, cfg.Upstream.ProAggregator)
	google := llm.NewGoogleProvider()
	defer google.Close()
	providers := map[string]llm.Provider{
		config.ProviderGoogle:     google,
		config.ProviderAggregator: llm.NewAggregatorProvider(cfg.Upstream.AggregatorBaseURL, appName),
	}
	serverKeys := map[string][]string{
		config.ProviderAggregator: cfg.Upstream.AggregatorKeys,
	}
	if cfg.Upstream.GoogleAPIKey != "" {
		serverKeys[config.ProviderGoogle] = []string{cfg.Upstream.GoogleAPIKey}
	}
	dispatcher := llm.NewDispatcher(catalog, providers, serverKeys, llm.Options{
		Timeout:     cfg.Upstream.Timeout,
		Backoff:     cfg.Upstream.FailoverBackoff,
		Temperature: 0.2,
	}, log)

	prompts, err := prompt.NewBuilder()
	if err != nil {
		return err
	}

	gen := &generation.Generator{
		Auth:       auth,
		Limiter:    limiter,
		Policy:     access,
		Prompts:    prompts,
		Dispatcher: dispatcher,
		Log:        log.With().Str("component", "generation").Logger(),
		DevMode:    cfg.DevMode(),
		KeepAlive:  cfg.Upstream.KeepaliveInterval,
	}

	// billing and subscription events
	billingSvc := billing.NewService(billing.NewStripeGateway(cfg.Billing.StripeSecretKey), repo, cfg.Billing.ProPriceID, log)
	applier := subscription.NewApplier(repo, cfg.Billing.KeyPolicy, log)

	var publisher handler.EventPublisher
	if cfg.Queue.Enabled {
		publisher = service.NewQueuePublisher(cfg.Queue.URL, log)
		go func() {
			if err := queue.StartSubscriptionConsumer(ctx, cfg.Queue.URL, applier.Apply, log); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("subscription consumer stopped")
			}
		}()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = middleware.NewValidator()
	e.HTTPErrorHandler = middleware.ErrorHandler(log, cfg.DevMode())
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(log))

	router.RegisterRoutes(e)
	router.RegisterGeneration(e, handler.NewGenerateHandler(gen, log), middleware.NewTokenBucket(cfg.RateLimit, rdb, log))
	router.RegisterKeys(e, handler.NewAPIKeyHandler(keys, auth, limiter), cfg.JWTSecret)
	router.RegisterBilling(e,
		handler.NewBillingHandler(billingSvc),
		handler.NewWebhookHandler(billing.NewWebhookParser(cfg.Billing.WebhookSecret), publisher, applier, log),
		cfg.JWTSecret)
	router.RegisterAdmin(e, handler.NewAdminHandler(repo, cfg.FreePlanLimit, cfg.ProPlanLimit), cfg.JWTSecret)
	router.RegisterModels(e, access, middleware.NewRedisCache(cfg.Cache, rdb, log))

	// No write timeout: generation streams stay open for the whole upstream call.
	e.Server.ReadHeaderTimeout = 10 * time.Second
	e.Server.IdleTimeout = 120 * time.Second

	addr := ":" + cfg.Port
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Str("env", cfg.Env).Int("models", len(catalog.Models)).Msg("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return e.Shutdown(shutdownCtx)
}
