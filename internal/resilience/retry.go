package resilience

import (
	"context"
	"math"
	"time"
)

// RetryPolicy describes how a failed operation is retried. It holds no
// mutable state and is safe to share.
type RetryPolicy struct {
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	// Retryable decides which errors are retried. Nil means IsRetryable.
	Retryable func(error) bool
}

// DefaultRetryPolicy returns the policy used for provider stream opens.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:        3,
		InitialDelay:      500 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		BackoffMultiplier: 2,
		Retryable:         IsRetryable,
	}
}

// Delay returns the wait before the n-th retry (n starts at 0):
// min(InitialDelay * BackoffMultiplier^n, MaxDelay).
func (p RetryPolicy) Delay(n int) time.Duration {
	if n < 0 {
		n = 0
	}
	mult := p.BackoffMultiplier
	if mult < 1 {
		mult = 1
	}
	d := float64(p.InitialDelay) * math.Pow(mult, float64(n))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

func (p RetryPolicy) retryable(err error) bool {
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return IsRetryable(err)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// RetryHook observes a retry right before its backoff sleep.
type RetryHook func(attempt int, delay time.Duration, err error)

// Retrier executes operations under a RetryPolicy.
type Retrier struct {
	policy  RetryPolicy
	sleep   SleepFunc
	onRetry RetryHook
}

// RetryOption customises a Retrier.
type RetryOption func(*Retrier)

// WithSleep replaces the backoff sleep, mainly for tests.
func WithSleep(fn SleepFunc) RetryOption {
	return func(r *Retrier) {
		if fn != nil {
			r.sleep = fn
		}
	}
}

// OnRetry registers a hook invoked before each backoff.
func OnRetry(fn RetryHook) RetryOption {
	return func(r *Retrier) {
		r.onRetry = fn
	}
}

// NewRetrier creates a Retrier for the given policy.
func NewRetrier(policy RetryPolicy, opts ...RetryOption) *Retrier {
	r := &Retrier{policy: policy, sleep: sleepContext}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the retrier's policy.
func (r *Retrier) Policy() RetryPolicy {
	return r.policy
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// policy's retries are exhausted. Non-retryable errors are returned as-is
// without consuming a retry; exhaustion returns a *TerminalError wrapping
// the last error.
func (r *Retrier) Do(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !r.policy.retryable(err) {
			return err
		}
		if attempt >= r.policy.MaxRetries {
			return &TerminalError{Err: err, Attempts: attempt + 1}
		}
		delay := r.policy.Delay(attempt)
		if r.onRetry != nil {
			r.onRetry(attempt+1, delay, err)
		}
		if err := r.sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
