package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func TestDo(t *testing.T) {
	t.Run("SucceedsAfterRetries", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), Config{MaxAttempts: 3, Backoff: LinearBackoff(time.Millisecond)}, func() error {
			calls++
			if calls < 3 {
				return errTransient
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("GivesUp", func(t *testing.T) {
		calls := 0
		err := Do(context.Background(), Config{MaxAttempts: 2, Backoff: LinearBackoff(time.Millisecond)}, func() error {
			calls++
			return errTransient
		})
		assert.ErrorIs(t, err, errTransient)
		assert.Equal(t, 2, calls)
	})

	t.Run("NonRetryableReturnsError", func(t *testing.T) {
		permanent := errors.New("permanent")
		calls := 0
		err := Do(context.Background(), Config{
			MaxAttempts: 5,
			Backoff:     LinearBackoff(time.Millisecond),
			ShouldRetry: func(err error) bool { return !errors.Is(err, permanent) },
		}, func() error {
			calls++
			return permanent
		})
		assert.ErrorIs(t, err, permanent)
		assert.Equal(t, 1, calls)
	})

	t.Run("ContextCancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		err := Do(ctx, Config{MaxAttempts: 10, Backoff: LinearBackoff(time.Hour)}, func() error {
			calls++
			cancel()
			return errTransient
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.ErrorIs(t, err, errTransient)
		assert.Equal(t, 1, calls)
	})

	t.Run("AlreadyCancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := Do(ctx, Config{}, func() error { t.Fatal("must not run"); return nil })
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestDoWithResult(t *testing.T) {
	v, err := DoWithResult(context.Background(), Config{}, func() (int, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestDo_OnRetry(t *testing.T) {
	var attempts []int
	err := Do(context.Background(), Config{
		MaxAttempts: 3,
		Backoff:     LinearBackoff(time.Millisecond),
		OnRetry: func(attempt int, err error, wait time.Duration) {
			assert.ErrorIs(t, err, errTransient)
			assert.Equal(t, time.Millisecond, wait)
			attempts = append(attempts, attempt)
		},
	}, func() error { return errTransient })

	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, []int{1, 2}, attempts, "no wait after the last attempt")
}

func TestExponentialBackoff(t *testing.T) {
	b := ExponentialBackoff(10*time.Millisecond, 0)
	for attempt := 1; attempt <= 4; attempt++ {
		base := 10 * time.Millisecond << (attempt - 1)
		d := b(attempt)
		assert.GreaterOrEqual(t, d, base)
		assert.LessOrEqual(t, d, base+base/2+1)
	}
}

func TestExponentialBackoff_Capped(t *testing.T) {
	b := ExponentialBackoff(10*time.Millisecond, 50*time.Millisecond)

	d := b(10)
	assert.GreaterOrEqual(t, d, 50*time.Millisecond)
	assert.LessOrEqual(t, d, 75*time.Millisecond+1)

	d = b(64)
	assert.GreaterOrEqual(t, d, 50*time.Millisecond, "overflowing shifts fall back to the cap")
}
