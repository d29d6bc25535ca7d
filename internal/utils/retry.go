package utils

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryConfig bounds a retried outbound operation.
type RetryConfig struct {
	MaxAttempts int           // Total attempts, including the first.
	BaseDelay   time.Duration // Delay before the second attempt.
	MaxDelay    time.Duration // Cap applied to the exponential backoff.
}

// DefaultRetryConfig is the policy adapters use when none is configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// Retry runs op up to cfg.MaxAttempts times, doubling the delay between
// attempts with jitter, until op succeeds, the attempts are exhausted, or
// ctx is done. The last error from op is returned on exhaustion.
func Retry(ctx context.Context, cfg RetryConfig, op func() error) error {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	var err error
	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err = op(); err == nil {
			return nil
		}

		if attempt == cfg.MaxAttempts-1 {
			break
		}

		delay := cfg.BaseDelay * time.Duration(1<<uint(attempt))
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
		delay = time.Duration(float64(delay) * (0.5 + rand.Float64()*0.5))

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
