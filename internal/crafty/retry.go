package crafty

import (
	"context"
	"time"
)

// RetryPolicy describes how a management API call is retried. All client
// operations consume the same policy instead of ad-hoc loops.
type RetryPolicy struct {
	MaxAttempts int           // total attempts, including the first
	Backoff     time.Duration // fixed delay between attempts
	Retryable   func(error) bool
}

// DefaultRetryPolicy retries transient failures twice after the initial attempt.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		Backoff:     2 * time.Second,
		Retryable:   IsTransient,
	}
}

// Do runs op until it succeeds, fails non-retryably, or attempts are exhausted.
func (p RetryPolicy) Do(ctx context.Context, op func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if p.Retryable != nil && !p.Retryable(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.Backoff):
		}
	}
	return lastErr
}
