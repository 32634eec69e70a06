package resilience

import (
	"context"
	"time"
)

// Guard composes the three mechanisms around a single dependency call:
// each attempt is bounded by the timeout and admitted by the breaker, and
// failed attempts are retried by the retrier. An open circuit is never
// retried, so a rejected call never reaches the dependency.
type Guard struct {
	breaker *CircuitBreaker
	retrier *Retrier
	timeout time.Duration
}

// NewGuard creates a Guard. A nil breaker or retrier disables that layer.
func NewGuard(breaker *CircuitBreaker, retrier *Retrier, timeout time.Duration) *Guard {
	return &Guard{breaker: breaker, retrier: retrier, timeout: timeout}
}

// Breaker returns the guard's breaker, which may be nil.
func (g *Guard) Breaker() *CircuitBreaker {
	return g.breaker
}

// Do runs fn under the guard.
func (g *Guard) Do(ctx context.Context, fn func(context.Context) error) error {
	_, err := Call(ctx, g, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, nil)
	return err
}

// Call runs fn under g and returns its value. discard releases values that
// arrive after their attempt already timed out.
func Call[T any](ctx context.Context, g *Guard, fn func(context.Context) (T, error), discard func(T)) (T, error) {
	var out T
	attempt := func(ctx context.Context) error {
		v, err := Timeout(ctx, g.timeout, fn, discard)
		if err != nil {
			return err
		}
		out = v
		return nil
	}
	guarded := attempt
	if g.breaker != nil {
		guarded = func(ctx context.Context) error {
			return g.breaker.Execute(ctx, attempt)
		}
	}
	var err error
	if g.retrier != nil {
		err = g.retrier.Do(ctx, guarded)
	} else {
		err = guarded(ctx)
	}
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}
