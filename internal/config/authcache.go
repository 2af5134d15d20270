package config

import "time"

// AuthCacheConfig controls the Redis fingerprint cache that narrows API key
// authentication to a single record. When Enabled is false or no Redis
// client is configured, every authentication scans all credentials.
type AuthCacheConfig struct {
	Enabled bool
	TTL     time.Duration
	Prefix  string
}

// LoadAuthCacheConfig reads environment variables to build an AuthCacheConfig.
func LoadAuthCacheConfig() AuthCacheConfig {
	ttl := envDur("AUTH_CACHE_TTL", 10*time.Minute)
	if ttl <= 0 {
		ttl = time.Minute
	}
	return AuthCacheConfig{
		Enabled: envBool("AUTH_CACHE_ENABLED", true),
		TTL:     ttl,
		Prefix:  envStr("AUTH_CACHE_PREFIX", "rgw:authfp"),
	}
}
