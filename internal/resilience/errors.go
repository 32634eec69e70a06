// Package resilience wraps calls to shared downstream dependencies with
// retry-with-backoff, a circuit breaker and per-call timeouts.
//
// Nothing in this package knows about audio or transcription. Callers
// classify their own errors by implementing Retryable.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Errors produced by the resilience layer itself.
var (
	// ErrCircuitOpen is returned without invoking the protected call while
	// the breaker is open, or while a half-open trial is already in flight.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTimeout is returned when a single call exceeds its time budget.
	ErrTimeout = errors.New("operation timed out")
)

// Retryable is implemented by errors that know whether repeating the
// failed operation may succeed.
type Retryable interface {
	Retryable() bool
}

// TerminalError marks the last error of an operation whose retries were
// exhausted.
type TerminalError struct {
	Err      error
	Attempts int
}

func (e *TerminalError) Error() string {
	return fmt.Sprintf("giving up after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TerminalError) Unwrap() error {
	return e.Err
}

// IsTerminal reports whether err carries a TerminalError.
func IsTerminal(err error) bool {
	var te *TerminalError
	return errors.As(err, &te)
}

// IsRetryable is the default retry predicate. Caller cancellation and open
// circuits are never retried; timeouts and network errors are; everything
// else defers to the Retryable interface and is otherwise treated as fatal.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrCircuitOpen) {
		return false
	}
	var r Retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr)
}
