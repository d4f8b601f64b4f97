// Package backoff provides retry with exponential backoff for step error
// policies and external calls.
package backoff

import (
	"context"
	"errors"
	"time"
)

// ErrRetriesExhausted is returned by a Retrier once the attempt budget is
// spent.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Policy describes an exponential backoff schedule.
type Policy struct {
	// Initial is the interval before the first retry.
	Initial time.Duration
	// Multiplier grows the interval after each attempt. Values below 1
	// are treated as 2.
	Multiplier float64
	// MaxInterval caps the interval; zero means uncapped.
	MaxInterval time.Duration
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
}

// Retrier yields successive wait intervals for one retried operation.
type Retrier struct {
	policy   Policy
	attempts int
	interval time.Duration
}

// NewRetrier returns a Retrier at the start of the schedule.
func NewRetrier(policy Policy) *Retrier {
	if policy.Multiplier < 1 {
		policy.Multiplier = 2
	}
	return &Retrier{policy: policy, interval: policy.Initial}
}

// Next returns the interval to wait before the next retry, or
// ErrRetriesExhausted when the budget is spent.
func (r *Retrier) Next(_ error) (time.Duration, error) {
	if r.attempts >= r.policy.MaxRetries {
		return 0, ErrRetriesExhausted
	}
	r.attempts++
	interval := r.interval
	next := time.Duration(float64(r.interval) * r.policy.Multiplier)
	if r.policy.MaxInterval > 0 && next > r.policy.MaxInterval {
		next = r.policy.MaxInterval
	}
	r.interval = next
	return interval, nil
}

// Attempts returns the number of retries handed out so far.
func (r *Retrier) Attempts() int { return r.attempts }

type (
	// Operation to retry.
	Operation func(ctx context.Context) error

	// IsRetriableFunc checks whether an error is retriable.
	IsRetriableFunc func(err error) bool
)

// Retry executes the operation with retries per the policy. If isRetriable
// is nil, all errors are retriable. Context cancellation is honored between
// attempts and during waits.
func Retry(ctx context.Context, op Operation, policy Policy, isRetriable IsRetriableFunc) error {
	if isRetriable == nil {
		isRetriable = func(_ error) bool { return true }
	}

	retrier := NewRetrier(policy)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}
		if !isRetriable(err) {
			return err
		}

		interval, retryErr := retrier.Next(err)
		if retryErr != nil {
			// Budget spent; surface the operation error.
			return err
		}

		if interval > 0 {
			timer := time.NewTimer(interval)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			}
			timer.Stop()
		}
	}
}
