package stripeapi

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"
)

func newTestExecutor(t *testing.T, cfg RetryConfig, slept *[]time.Duration) *Executor {
	t.Helper()
	e := NewExecutor(cfg, zap.NewNop().Sugar())
	e.sleep = func(ctx context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}
	e.jitter = func(time.Duration) time.Duration { return 0 }
	return e
}

func transientErr() error {
	return &stripe.Error{HTTPStatusCode: 503, Msg: "upstream unavailable"}
}

func permanentErr() error {
	return &stripe.Error{HTTPStatusCode: 402, Code: stripe.ErrorCodeCardDeclined, Msg: "card declined"}
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	var slept []time.Duration
	e := newTestExecutor(t, RetryConfig{MaxRetries: 3, InitialDelay: 500 * time.Millisecond, MaxDelay: 3 * time.Second}, &slept)

	attempts := 0
	got, err := DoValue(e, context.Background(), "customer_get", func(ctx context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			return "", transientErr()
		}
		return "cus_123", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "cus_123", got)
	assert.Equal(t, 3, attempts)
	// Backoff doubles: initial*2^0 then initial*2^1.
	require.Equal(t, []time.Duration{500 * time.Millisecond, 1 * time.Second}, slept)
}

func TestDoTransientExhaustionReturnsOriginalError(t *testing.T) {
	var slept []time.Duration
	e := newTestExecutor(t, RetryConfig{MaxRetries: 3, InitialDelay: 500 * time.Millisecond, MaxDelay: 3 * time.Second}, &slept)

	attempts := 0
	err := e.Do(context.Background(), "subscription_get", func(ctx context.Context) error {
		attempts++
		return transientErr()
	})
	require.Error(t, err)
	var sErr *stripe.Error
	require.ErrorAs(t, err, &sErr)
	assert.Equal(t, 503, sErr.HTTPStatusCode)
	assert.Equal(t, 3, attempts)
	assert.Len(t, slept, 2)
}

func TestDoPermanentFailureNeverSleeps(t *testing.T) {
	var slept []time.Duration
	e := newTestExecutor(t, RetryConfig{MaxRetries: 3, InitialDelay: 500 * time.Millisecond, MaxDelay: 3 * time.Second}, &slept)

	attempts := 0
	err := e.Do(context.Background(), "subscription_update", func(ctx context.Context) error {
		attempts++
		return permanentErr()
	})
	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.Empty(t, slept)
}

func TestBackoffCapsAtMaxDelay(t *testing.T) {
	var slept []time.Duration
	e := newTestExecutor(t, RetryConfig{MaxRetries: 5, InitialDelay: time.Second, MaxDelay: 3 * time.Second}, &slept)

	_ = e.Do(context.Background(), "op", func(ctx context.Context) error {
		return transientErr()
	})
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second, 3 * time.Second}, slept)
}

func TestJitterBoundedByTwentyPercent(t *testing.T) {
	e := NewExecutor(DefaultRetryConfig(), zap.NewNop().Sugar())
	for i := 0; i < 100; i++ {
		d := e.backoff(0)
		assert.GreaterOrEqual(t, d, 500*time.Millisecond)
		assert.LessOrEqual(t, d, 600*time.Millisecond)
	}
}

func TestIsTransientClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", &stripe.Error{HTTPStatusCode: 429}, true},
		{"provider 500", &stripe.Error{HTTPStatusCode: 500}, true},
		{"provider 503", &stripe.Error{HTTPStatusCode: 503}, true},
		{"bad request", &stripe.Error{HTTPStatusCode: 400}, false},
		{"card declined", permanentErr(), false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"net timeout", &net.DNSError{IsTimeout: true}, true},
		{"plain error", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}

func TestDoRespectsCanceledContext(t *testing.T) {
	e := NewExecutor(RetryConfig{Workers: 1}, zap.NewNop().Sugar())
	e.sem <- struct{}{} // occupy the only slot

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := e.Do(ctx, "op", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
