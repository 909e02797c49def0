// Package retry bounds how hard the ingestion worker tries a storage or
// commit step before giving up on it.
package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"
)

// Backoff returns the wait before retry number attempt (1-based)
type Backoff func(attempt int) time.Duration

// Config describes one retried step. The zero value runs fn once.
type Config struct {
	MaxAttempts int
	Backoff     Backoff
	// ShouldRetry reports whether err is transient; nil retries everything
	ShouldRetry func(error) bool
	// OnRetry is called before each wait
	OnRetry func(attempt int, err error, wait time.Duration)
}

func (c Config) retryable(err error) bool {
	return c.ShouldRetry == nil || c.ShouldRetry(err)
}

func (c Config) wait(attempt int) time.Duration {
	if c.Backoff == nil {
		return ExponentialBackoff(100*time.Millisecond, 0)(attempt)
	}
	return c.Backoff(attempt)
}

// ExponentialBackoff doubles delay per attempt, up to maxDelay when it is
// positive, and adds up to 50% jitter so workers retrying the same broken
// backend spread out.
func ExponentialBackoff(delay, maxDelay time.Duration) Backoff {
	return func(attempt int) time.Duration {
		d := delay << (attempt - 1)
		if d <= 0 || (maxDelay > 0 && d > maxDelay) {
			d = max(maxDelay, delay)
		}
		return d + time.Duration(rand.Int64N(int64(d)/2+1))
	}
}

// LinearBackoff always waits delay
func LinearBackoff(delay time.Duration) Backoff {
	return func(int) time.Duration { return delay }
}

// Do runs fn until it succeeds, fails permanently or the attempts are spent.
// The last error is returned as is; a cancelled wait returns ctx.Err()
// joined with it.
func Do(ctx context.Context, c Config, fn func() error) error {
	_, err := DoWithResult(ctx, c, func() (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}

// DoWithResult is Do for steps that produce a value
func DoWithResult[T any](ctx context.Context, c Config, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	attempts := max(c.MaxAttempts, 1)
	for attempt := 1; ; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		if attempt >= attempts || !c.retryable(err) {
			return zero, err
		}

		wait := c.wait(attempt)
		if c.OnRetry != nil {
			c.OnRetry(attempt, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, fmt.Errorf("%w: %w", ctx.Err(), err)
		case <-timer.C:
		}
	}
}
