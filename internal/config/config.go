package config // package config loads application configuration from environment variables

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration values. Each field corresponds to
// an environment variable.
type Config struct {
	Env       string // application environment (dev, test, prod)
	Port      string // HTTP port to listen on
	LogLevel  string // zerolog level
	LogPretty bool   // console output instead of JSON

	DBUser string
	DBPass string
	DBHost string
	DBPort string
	DBName string

	JWTSecret  string // shared with the account collaborator that issues session tokens
	BcryptCost int    // bcrypt cost for API secret hashing

	FreePlanLimit int // lifetime requests for free plans when plan_limits has no row
	ProPlanLimit  int // daily requests for pro plans when plan_limits has no row

	Upstream  UpstreamConfig
	Billing   BillingConfig
	Queue     QueueConfig
	RateLimit RateLimitConfig
	AuthCache AuthCacheConfig
	Cache     CacheConfig

	MigrateOnStart bool // apply embedded goose migrations before serving
}

// UpstreamConfig configures the LLM providers.
type UpstreamConfig struct {
	GoogleAPIKey      string        // server key for premium Gemini models
	AggregatorBaseURL string        // OpenAI-compatible aggregator endpoint
	AggregatorKeys    []string      // server pool, only used when pro callers may use aggregator models
	ProAggregator     string        // "deny" or "allow"
	CatalogFile       string        // optional YAML model catalog
	Timeout           time.Duration // per upstream call
	FailoverBackoff   time.Duration // pause between failover credentials
	KeepaliveInterval time.Duration // SSE keepalive comment interval
}

// BillingConfig configures the payment provider.
type BillingConfig struct {
	StripeSecretKey string
	WebhookSecret   string
	ProPriceID      string
	KeyPolicy       string // keep | reset | revoke, applied when a plan changes
}

// QueueConfig configures the subscription event broker.
type QueueConfig struct {
	Enabled bool
	URL     string
}

// DevMode reports whether error payloads may include internal details.
func (c Config) DevMode() bool { return c.Env == "dev" }

// Load reads a .env file when present and builds the Config. Required
// variables are enforced by must() and missing values exit the process.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Env:       envStr("APP_ENV", "prod"),
		Port:      envStr("APP_PORT", "8080"),
		LogLevel:  envStr("LOG_LEVEL", "info"),
		LogPretty: envBool("LOG_PRETTY", false),

		DBUser: must("DB_USER"),
		DBPass: os.Getenv("DB_PASS"),
		DBHost: must("DB_HOST"),
		DBPort: envStr("DB_PORT", "3306"),
		DBName: must("DB_NAME"),

		JWTSecret:  must("JWT_SECRET"),
		BcryptCost: envInt("BCRYPT_COST", 10),

		FreePlanLimit: envInt("FREE_PLAN_LIMIT", 3),
		ProPlanLimit:  envInt("PRO_PLAN_LIMIT", 100),

		Upstream:  LoadUpstreamConfig(),
		Billing:   LoadBillingConfig(),
		Queue:     LoadQueueConfig(),
		RateLimit: LoadRateLimitConfig(),
		AuthCache: LoadAuthCacheConfig(),
		Cache:     LoadCacheConfig(),

		MigrateOnStart: envBool("MIGRATE_ON_START", false),
	}
}

// LoadUpstreamConfig reads provider settings. Defaults are used when
// variables are not set.
func LoadUpstreamConfig() UpstreamConfig {
	policy := strings.ToLower(envStr("PRO_AGGREGATOR_POLICY", "deny"))
	if policy != "allow" {
		policy = "deny"
	}
	return UpstreamConfig{
		GoogleAPIKey:      os.Getenv("GOOGLE_API_KEY"),
		AggregatorBaseURL: envStr("AGGREGATOR_BASE_URL", "https://openrouter.ai/api/v1"),
		AggregatorKeys:    splitList(os.Getenv("AGGREGATOR_API_KEYS")),
		ProAggregator:     policy,
		CatalogFile:       os.Getenv("MODEL_CATALOG_FILE"),
		Timeout:           envDur("UPSTREAM_TIMEOUT", 5*time.Minute),
		FailoverBackoff:   envDur("FAILOVER_BACKOFF", 250*time.Millisecond),
		KeepaliveInterval: envDur("SSE_KEEPALIVE_INTERVAL", 15*time.Second),
	}
}

// LoadBillingConfig reads Stripe settings.
func LoadBillingConfig() BillingConfig {
	keyPolicy := strings.ToLower(envStr("PLAN_CHANGE_KEY_POLICY", "reset"))
	switch keyPolicy {
	case "keep", "reset", "revoke":
	default:
		keyPolicy = "reset"
	}
	return BillingConfig{
		StripeSecretKey: os.Getenv("STRIPE_SECRET_KEY"),
		WebhookSecret:   os.Getenv("STRIPE_WEBHOOK_SECRET"),
		ProPriceID:      os.Getenv("STRIPE_PRO_PRICE_ID"),
		KeyPolicy:       keyPolicy,
	}
}

// LoadQueueConfig reads the broker URL; RABBITMQ_URL wins over AMQP_URL.
func LoadQueueConfig() QueueConfig {
	url := os.Getenv("RABBITMQ_URL")
	if url == "" {
		url = os.Getenv("AMQP_URL")
	}
	return QueueConfig{
		Enabled: envBool("QUEUE_ENABLED", url != ""),
		URL:     url,
	}
}

// must retrieves the value of a required environment variable. If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	switch v {
	case "1", "true", "TRUE", "True", "yes", "YES", "on", "ON":
		return true
	case "0", "false", "FALSE", "False", "no", "NO", "off", "OFF":
		return false
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
