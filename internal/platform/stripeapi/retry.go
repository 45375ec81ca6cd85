package stripeapi

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"time"

	"github.com/stripe/stripe-go/v82"
	"go.uber.org/zap"
)

// RetryConfig controls backoff for outbound provider calls.
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Workers      int
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     3 * time.Second,
		Workers:      4,
	}
}

// Executor runs provider-API calls on a bounded pool and retries
// transient failures with capped exponential backoff. Permanent failures
// and exhausted retries return the original error unchanged.
type Executor struct {
	cfg RetryConfig
	log *zap.SugaredLogger
	sem chan struct{}

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func(d time.Duration) time.Duration
}

func NewExecutor(cfg RetryConfig, log *zap.SugaredLogger) *Executor {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 3 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	return &Executor{
		cfg: cfg,
		log: log,
		sem: make(chan struct{}, cfg.Workers),
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-t.C:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
		jitter: func(d time.Duration) time.Duration {
			return time.Duration(rand.Float64() * 0.2 * float64(d))
		},
	}
}

// Do executes fn on the pool, retrying transient failures.
func (e *Executor) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	select {
	case e.sem <- struct{}{}:
		defer func() { <-e.sem }()
	case <-ctx.Done():
		return ctx.Err()
	}

	var err error
	for attempt := 0; attempt < e.cfg.MaxRetries; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !IsTransient(err) || attempt == e.cfg.MaxRetries-1 {
			return err
		}
		delay := e.backoff(attempt)
		e.log.Warnw("provider_call_retry",
			"op", op,
			"attempt", attempt+1,
			"delay_ms", delay.Milliseconds(),
			"error", err.Error(),
		)
		if serr := e.sleep(ctx, delay); serr != nil {
			return err
		}
	}
	return err
}

func (e *Executor) backoff(attempt int) time.Duration {
	d := e.cfg.InitialDelay << attempt
	if d > e.cfg.MaxDelay {
		d = e.cfg.MaxDelay
	}
	return d + e.jitter(d)
}

// DoValue is Do for calls that produce a value.
func DoValue[T any](e *Executor, ctx context.Context, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := e.Do(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// IsTransient classifies a provider-call failure. Rate limits,
// connection-level failures, timeouts and provider 5xx are retryable;
// provider 4xx business errors are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var sErr *stripe.Error
	if errors.As(err, &sErr) {
		if sErr.HTTPStatusCode == 429 || sErr.HTTPStatusCode >= 500 {
			return true
		}
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nErr net.Error
	if errors.As(err, &nErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
