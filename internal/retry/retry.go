// Package retry provides a bounded retry loop with exponential backoff,
// shared by the token refresh and paginated fetch call sites.
package retry

import (
	"context"
	"time"
)

type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// Retryable decides whether an error is worth another attempt. A nil
	// predicate retries everything.
	Retryable func(error) bool
}

// Do runs fn up to cfg.MaxAttempts times, sleeping BaseDelay, 2*BaseDelay,
// 4*BaseDelay... between attempts. The last error is returned once attempts
// are exhausted or the error is not retryable. Context cancellation stops the
// loop between attempts.
func Do(ctx context.Context, cfg Config, fn func() error) error {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	delay := cfg.BaseDelay
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if cfg.Retryable != nil && !cfg.Retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
