// Package retry runs an operation a bounded number of times with exponential
// backoff between attempts.
//
// The attempt index is passed to the operation so callers can rotate
// through an ordered set of credentials, one per attempt:
//
//	err := retry.Do(ctx, retry.Config{MaxRetries: len(keys), InitialBackoff: 250 * time.Millisecond},
//	    func(attempt int) error { return call(keys[attempt]) },
//	    isRateLimit)
//
// A nil ShouldRetryFunc retries every error. Context cancellation during a
// backoff wait ends the loop with the context error.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Config defines the retry behavior.
type Config struct {
	// MaxRetries is the total number of attempts. Must be greater than 0.
	MaxRetries int

	// InitialBackoff is the wait before the second attempt; it doubles on
	// each later attempt. Zero retries immediately.
	InitialBackoff time.Duration

	// MaxBackoff caps the backoff. Zero means no cap.
	MaxBackoff time.Duration

	// Jitter in [0,1] adds backoff*Jitter*attempt/MaxRetries to each wait.
	Jitter float64

	// OnRetry, if set, is called before each retry with the index of the
	// attempt about to run and the error that caused it.
	OnRetry func(attempt int, err error)
}

// ShouldRetryFunc reports whether err should trigger another attempt.
type ShouldRetryFunc func(error) bool

// Do calls fn up to cfg.MaxRetries times. It returns nil on the first
// success, the error itself when shouldRetry rejects it, and otherwise an
// error wrapping the last failure once attempts are exhausted.
func Do(ctx context.Context, cfg Config, fn func(attempt int) error, shouldRetry ShouldRetryFunc) error {
	var lastErr error

	for attempt := 0; attempt < cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if cfg.OnRetry != nil {
				cfg.OnRetry(attempt, lastErr)
			}
			if backoff := calculateBackoff(cfg, attempt); backoff > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(backoff):
				}
			} else if err := ctx.Err(); err != nil {
				return err
			}
		}

		err := fn(attempt)
		if err == nil {
			return nil
		}
		if shouldRetry != nil && !shouldRetry(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("failed after %d retries: %w", cfg.MaxRetries, lastErr)
}

// calculateBackoff returns InitialBackoff * 2^(attempt-1), capped and
// jittered according to cfg.
func calculateBackoff(cfg Config, attempt int) time.Duration {
	multiplier := math.Pow(2, float64(attempt-1))
	backoff := time.Duration(multiplier * float64(cfg.InitialBackoff))

	if cfg.MaxBackoff > 0 && backoff > cfg.MaxBackoff {
		backoff = cfg.MaxBackoff
	}

	if cfg.Jitter > 0 && cfg.MaxRetries > 0 {
		jitterAmount := float64(backoff) * cfg.Jitter * float64(attempt) / float64(cfg.MaxRetries)
		backoff += time.Duration(jitterAmount)
	}

	return backoff
}
