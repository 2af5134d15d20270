package usage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/iliyamo/refactor-gateway/internal/config"
)

// AuthCache maps a secret's SHA-256 fingerprint to the identity it last
// authenticated as. A hit only narrows the credential scan; the record is
// still verified with bcrypt.
type AuthCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
	log    zerolog.Logger
}

// NewAuthCache returns nil when caching is disabled or Redis is unavailable.
func NewAuthCache(cfg config.AuthCacheConfig, rdb *redis.Client, log zerolog.Logger) *AuthCache {
	if !cfg.Enabled || rdb == nil {
		return nil
	}
	return &AuthCache{rdb: rdb, ttl: cfg.TTL, prefix: cfg.Prefix, log: log}
}

func (c *AuthCache) key(fingerprint string) string { return c.prefix + ":" + fingerprint }

// Lookup returns the cached identity for fingerprint.
func (c *AuthCache) Lookup(ctx context.Context, fingerprint string) (string, bool) {
	if c == nil {
		return "", false
	}
	id, err := c.rdb.Get(ctx, c.key(fingerprint)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn().Err(err).Msg("auth cache lookup failed")
		}
		return "", false
	}
	return id, id != ""
}

// Remember stores fingerprint -> identity.
func (c *AuthCache) Remember(ctx context.Context, fingerprint, identity string) {
	if c == nil {
		return
	}
	if err := c.rdb.Set(ctx, c.key(fingerprint), identity, c.ttl).Err(); err != nil {
		c.log.Warn().Err(err).Msg("auth cache write failed")
	}
}

// Forget evicts fingerprint.
func (c *AuthCache) Forget(ctx context.Context, fingerprint string) {
	if c == nil {
		return
	}
	if err := c.rdb.Del(ctx, c.key(fingerprint)).Err(); err != nil {
		c.log.Warn().Err(err).Msg("auth cache evict failed")
	}
}
