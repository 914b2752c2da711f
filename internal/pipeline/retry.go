package pipeline

import (
	"context"
	"time"

	"github.com/OutllierRejects/reliefops/pkg/cerr"
)

// RetryPolicy bounds how often a failing stage is re-attempted. A stage is
// attempted at most MaxRetries+1 times; only errors accepted by Retryable are
// retried.
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Retryable      func(error) bool
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:     2,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Retryable:      cerr.IsRetryable,
	}
}

func (p RetryPolicy) MaxAttempts() int {
	if p.MaxRetries < 0 {
		return 1
	}
	return p.MaxRetries + 1
}

// WillRetry reports whether a failure on attempt (1-based) leads to another
// attempt.
func (p RetryPolicy) WillRetry(attempt int, err error) bool {
	if err == nil || attempt >= p.MaxAttempts() {
		return false
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = cerr.IsRetryable
	}
	return retryable(err)
}

// Backoff is the wait after a failed attempt: InitialBackoff doubled per
// attempt, capped at MaxBackoff.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.InitialBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// attempts are used up. It returns the number of attempts made.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) (int, error) {
	for attempt := 1; ; attempt++ {
		err := fn(ctx, attempt)
		if !p.WillRetry(attempt, err) {
			return attempt, err
		}
		timer := time.NewTimer(p.Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, err
		case <-timer.C:
		}
	}
}
