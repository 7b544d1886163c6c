// Package resilience provides the bounded retry, reconnection backoff
// and circuit breaker policies shared by the client transport, the
// provider bridge and the storage callers.
package resilience

import (
	"context"
	"fmt"
	"time"
)

// RetryConfig bounds a retried operation.
type RetryConfig struct {
	MaxAttempts    int           // total attempts, including the first
	InitialBackoff time.Duration // delay before the second attempt
	Multiplier     float64       // exponential growth factor
	MaxBackoff     time.Duration // ceiling on any single delay
}

// DefaultRetryConfig matches the transport policy: three attempts with
// delays of 1s and 2s between them.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 1 * time.Second,
		Multiplier:     2.0,
		MaxBackoff:     30 * time.Second,
	}
}

// StorageRetryConfig is the object-store policy: the original call
// plus two retries with short delays.
func StorageRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 200 * time.Millisecond,
		Multiplier:     2.0,
		MaxBackoff:     2 * time.Second,
	}
}

// Backoff returns the delay preceding the given retry attempt
// (attempt 1 is the first retry).
func (c *RetryConfig) Backoff(attempt int) time.Duration {
	d := c.InitialBackoff
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * c.Multiplier)
		if d >= c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	if d > c.MaxBackoff {
		return c.MaxBackoff
	}
	return d
}

// Retry runs fn until it succeeds, the attempts are exhausted, or ctx
// is cancelled. The last error is returned on exhaustion.
func Retry(ctx context.Context, fn func() error, cfg *RetryConfig) error {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if attempt == cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cfg.Backoff(attempt)):
		}
	}

	return fmt.Errorf("failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}
