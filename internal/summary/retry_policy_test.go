package summary

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExponentialRetryPolicyBackoff(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(3, 4*time.Second, 10*time.Second)
	require.Equal(t, 4*time.Second, p.Backoff(1))
	require.Equal(t, 8*time.Second, p.Backoff(2))
	require.Equal(t, 10*time.Second, p.Backoff(3))
	require.Equal(t, 10*time.Second, p.Backoff(10))
}

func TestExponentialRetryPolicyDefaults(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(0, 0, 0)
	require.Equal(t, 3, p.MaxAttempts())
	require.Equal(t, 4*time.Second, p.Backoff(1))
	require.Equal(t, 10*time.Second, p.Backoff(5))
}

func TestExponentialRetryPolicyShouldRetry(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(3, time.Second, time.Second)
	boom := errors.New("boom")
	require.False(t, p.ShouldRetry(nil, 1))
	require.True(t, p.ShouldRetry(boom, 1))
	require.True(t, p.ShouldRetry(boom, 2))
	require.False(t, p.ShouldRetry(boom, 3))
	require.False(t, p.ShouldRetry(context.Canceled, 1))
}

func TestRetryStopsAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(3, 4*time.Second, 10*time.Second)
	var waits []time.Duration
	sleep := func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	calls := 0
	err := Retry(context.Background(), p, sleep, func(context.Context, int) error {
		calls++
		return ErrTransientModel
	})
	require.ErrorIs(t, err, ErrTransientModel)
	require.Equal(t, 3, calls)
	require.Equal(t, []time.Duration{4 * time.Second, 8 * time.Second}, waits)
}

func TestRetryReturnsOnSuccess(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(3, time.Millisecond, time.Millisecond)
	calls := 0
	err := Retry(context.Background(), p, nil, func(_ context.Context, attempt int) error {
		calls++
		if attempt < 2 {
			return ErrTransientFetch
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestRetryHonorsCanceledSleep(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := NewExponentialRetryPolicy(3, time.Hour, time.Hour)
	calls := 0
	err := Retry(ctx, p, Sleep, func(context.Context, int) error {
		calls++
		return ErrTransientFetch
	})
	require.ErrorIs(t, err, ErrTransientFetch)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, calls)
}
