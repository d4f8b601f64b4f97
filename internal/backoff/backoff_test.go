package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrierSchedule(t *testing.T) {
	t.Parallel()

	r := NewRetrier(Policy{Initial: 10 * time.Millisecond, MaxRetries: 3})

	var intervals []time.Duration
	for {
		interval, err := r.Next(errors.New("boom"))
		if err != nil {
			require.ErrorIs(t, err, ErrRetriesExhausted)
			break
		}
		intervals = append(intervals, interval)
	}
	// Default multiplier doubles the interval.
	assert.Equal(t, []time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		40 * time.Millisecond,
	}, intervals)
	assert.Equal(t, 3, r.Attempts())
}

func TestRetrierMaxInterval(t *testing.T) {
	t.Parallel()

	r := NewRetrier(Policy{Initial: 10 * time.Millisecond, MaxInterval: 15 * time.Millisecond, MaxRetries: 3})

	var intervals []time.Duration
	for {
		interval, err := r.Next(errors.New("boom"))
		if err != nil {
			break
		}
		intervals = append(intervals, interval)
	}
	assert.Equal(t, []time.Duration{
		10 * time.Millisecond,
		15 * time.Millisecond,
		15 * time.Millisecond,
	}, intervals)
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	t.Parallel()

	attempts := 0
	err := Retry(context.Background(), func(_ context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	}, Policy{Initial: time.Millisecond, MaxRetries: 5}, nil)

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryBudgetSpent(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	attempts := 0
	err := Retry(context.Background(), func(_ context.Context) error {
		attempts++
		return boom
	}, Policy{Initial: time.Millisecond, MaxRetries: 2}, nil)

	// The operation's own error surfaces, not the exhaustion sentinel.
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 3, attempts)
}

func TestRetryNonRetriable(t *testing.T) {
	t.Parallel()

	fatal := errors.New("fatal")
	attempts := 0
	err := Retry(context.Background(), func(_ context.Context) error {
		attempts++
		return fatal
	}, Policy{Initial: time.Millisecond, MaxRetries: 5}, func(err error) bool {
		return !errors.Is(err, fatal)
	})

	require.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, attempts)
}

func TestRetryHonorsContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := Retry(ctx, func(_ context.Context) error {
		attempts++
		cancel()
		return errors.New("transient")
	}, Policy{Initial: time.Hour, MaxRetries: 5}, nil)

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}
