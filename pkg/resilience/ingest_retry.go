// Package resilience provides fault tolerance helpers for remote calls.
package resilience

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// RetryConfig controls the retry loop for transient remote failures.
type RetryConfig struct {
	MaxAttempts int           // total attempts including the first (default: 3)
	BaseDelay   time.Duration // first backoff delay (default: 500ms)
	MaxDelay    time.Duration // backoff ceiling (default: 10s)
}

// DefaultRetryConfig returns sensible defaults.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
	}
}

// retryable is implemented by errors that may succeed on retry.
type retryable interface {
	Retryable() bool
}

// retryAfter is implemented by errors carrying a server-provided delay,
// typically from a 429 Retry-After header.
type retryAfter interface {
	RetryAfter() time.Duration
}

// IsRetryable reports whether err is worth retrying. Errors that do not
// declare themselves retryable are treated as permanent.
func IsRetryable(err error) bool {
	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

// RetryAfterHint extracts a server-provided retry delay, if any.
func RetryAfterHint(err error) (time.Duration, bool) {
	var r retryAfter
	if errors.As(err, &r) && r.RetryAfter() > 0 {
		return r.RetryAfter(), true
	}
	return 0, false
}

// Backoff computes the delay before the given retry attempt (1-based)
// using exponential growth with jitter to avoid thundering herds.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := base * (1 << (attempt - 1))
	if delay > max {
		delay = max
	}
	jitter := time.Duration(rand.Int63n(int64(500 * time.Millisecond)))
	return delay + jitter
}

// Do runs fn with the retry policy: transient failures back off
// exponentially up to the attempt cap, and permanent failures return
// immediately. A rate-limited call waits out the server-provided
// Retry-After delay and is retried once; if the server throttles
// again, the error is returned rather than hammering the endpoint
// further. Context cancellation interrupts any wait.
func Do(ctx context.Context, cfg *RetryConfig, fn func() error) error {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}

	var err error
	rateLimitRetried := false
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := Backoff(attempt-1, cfg.BaseDelay, cfg.MaxDelay)
			if hint, ok := RetryAfterHint(err); ok {
				if rateLimitRetried {
					return err
				}
				rateLimitRetried = true
				delay = hint
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		err = fn()
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
	}
	return err
}
