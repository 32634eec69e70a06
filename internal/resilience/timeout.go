package resilience

import (
	"context"
	"fmt"
	"time"
)

type callResult[T any] struct {
	v   T
	err error
}

// Timeout bounds how long the caller waits for fn. fn keeps running with
// ctx after the deadline so that long-lived results (streams) are not tied
// to the wait budget; a late successful result is handed to discard.
// A non-positive d disables the bound.
func Timeout[T any](ctx context.Context, d time.Duration, fn func(context.Context) (T, error), discard func(T)) (T, error) {
	if d <= 0 {
		return fn(ctx)
	}

	done := make(chan callResult[T], 1)
	go func() {
		v, err := fn(ctx)
		done <- callResult[T]{v: v, err: err}
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()

	var zero T
	select {
	case r := <-done:
		return r.v, r.err
	case <-timer.C:
		go drainLate(done, discard)
		return zero, fmt.Errorf("%w after %s", ErrTimeout, d)
	case <-ctx.Done():
		go drainLate(done, discard)
		return zero, ctx.Err()
	}
}

func drainLate[T any](done <-chan callResult[T], discard func(T)) {
	r := <-done
	if r.err == nil && discard != nil {
		discard(r.v)
	}
}
