package crafty

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryStopsOnSuccess(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, Backoff: time.Millisecond, Retryable: IsTransient}

	calls := 0
	err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return &APIError{Kind: KindTransient, Message: "flaky"}
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond, Retryable: IsTransient}

	calls := 0
	err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		return &APIError{Kind: KindTransient, Message: "down"}
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.True(t, IsTransient(err), "the last error is returned")
}

func TestRetrySkipsNonRetryable(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, Backoff: time.Millisecond, Retryable: IsTransient}

	calls := 0
	err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		return &APIError{Kind: KindAuthorization, Message: "bad key"}
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 10, Backoff: time.Hour, Retryable: IsTransient}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- policy.Do(ctx, func(context.Context) error {
			calls++
			return &APIError{Kind: KindTransient, Message: "down"}
		})
	}()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls, "cancellation interrupts the backoff wait")
	case <-time.After(5 * time.Second):
		t.Fatal("retry loop did not observe cancellation")
	}
}

func TestZeroAttemptsRunsOnce(t *testing.T) {
	policy := RetryPolicy{}

	calls := 0
	err := policy.Do(context.Background(), func(context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDefaultRetryPolicy(t *testing.T) {
	policy := DefaultRetryPolicy()
	assert.Equal(t, 3, policy.MaxAttempts)
	assert.True(t, policy.Retryable(&APIError{Kind: KindTransient}))
	assert.False(t, policy.Retryable(&APIError{Kind: KindAPI}))
}
