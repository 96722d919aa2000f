package embedder

import (
	"context"
	"errors"
	"time"

	"github.com/kherrera/ctxrelay-mcp/pkg/types"
)

// Retry defaults
const (
	DefaultMaxAttempts      = 3
	DefaultInitialBackoffMs = 100
	DefaultMaxBackoffMs     = 5000
	DefaultBackoffFactor    = 2.0
)

// RetryConfig configures exponential backoff retry behavior
type RetryConfig struct {
	MaxAttempts int           // Total attempts, including the first
	BaseDelay   time.Duration // Initial delay between attempts
	MaxDelay    time.Duration // Maximum delay between attempts
	Multiplier  float64       // Exponential backoff multiplier
}

// DefaultRetryConfig returns sensible defaults for backend retry
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: DefaultMaxAttempts,
		BaseDelay:   DefaultInitialBackoffMs * time.Millisecond,
		MaxDelay:    DefaultMaxBackoffMs * time.Millisecond,
		Multiplier:  DefaultBackoffFactor,
	}
}

func (c *RetryConfig) applyDefaults() {
	def := DefaultRetryConfig()
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = def.MaxAttempts
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = def.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.Multiplier <= 1 {
		c.Multiplier = def.Multiplier
	}
}

// retryWithBackoff executes fn with exponential backoff. Only transient
// backend failures are retried: a circuit rejection, a dimension mismatch,
// or any other permanent error returns immediately. The circuit breaker
// itself never retries; this is the caller-side policy layered on top, and
// every attempt passes through the breaker.
func retryWithBackoff[T any](ctx context.Context, config RetryConfig, fn func() (T, error)) (T, error) {
	var lastErr error
	var zero T
	backoff := config.BaseDelay

	for attempt := 0; attempt < config.MaxAttempts; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}

		if !errors.Is(err, types.ErrBackendTransient) {
			return zero, err
		}

		lastErr = err

		// Don't retry on context cancellation
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		// Apply exponential backoff before next attempt
		if attempt < config.MaxAttempts-1 {
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(backoff):
				backoff = time.Duration(float64(backoff) * config.Multiplier)
				if backoff > config.MaxDelay {
					backoff = config.MaxDelay
				}
			}
		}
	}

	return zero, lastErr
}
