package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// BreakerState is the state of a CircuitBreaker.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerConfig configures a CircuitBreaker.
type BreakerConfig struct {
	FailureThreshold int
	ResetTimeout     time.Duration
}

// DefaultBreakerConfig returns the default breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

// StateChangeFunc observes breaker transitions. It is called outside the
// breaker's lock.
type StateChangeFunc func(name string, from, to BreakerState)

// BreakerOption customises a CircuitBreaker.
type BreakerOption func(*CircuitBreaker)

// WithClock replaces the breaker's time source.
func WithClock(now func() time.Time) BreakerOption {
	return func(b *CircuitBreaker) {
		if now != nil {
			b.now = now
		}
	}
}

// OnStateChange registers a transition observer.
func OnStateChange(fn StateChangeFunc) BreakerOption {
	return func(b *CircuitBreaker) {
		b.onStateChange = fn
	}
}

// CircuitBreaker stops calls to a failing dependency. It is shared by every
// session that talks to the same endpoint and is safe for concurrent use.
//
// Closed counts consecutive failures and opens at FailureThreshold. Open
// rejects everything until ResetTimeout has elapsed, then lets exactly one
// trial through as HalfOpen. The trial's outcome closes or re-opens it.
type CircuitBreaker struct {
	name          string
	cfg           BreakerConfig
	now           func() time.Time
	onStateChange StateChangeFunc

	mu            sync.Mutex
	state         BreakerState
	failures      int
	openedAt      time.Time
	trialInFlight bool
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(name string, cfg BreakerConfig, opts ...BreakerOption) *CircuitBreaker {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	b := &CircuitBreaker{
		name:  name,
		cfg:   cfg,
		now:   time.Now,
		state: StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Name returns the endpoint the breaker protects.
func (b *CircuitBreaker) Name() string {
	return b.name
}

// State returns the current state, applying the lazy Open to HalfOpen
// transition.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	from := b.state
	b.advanceLocked()
	to := b.state
	b.mu.Unlock()
	b.notify(from, to)
	return to
}

// Allow reserves permission for one call. Every nil return must be paired
// with exactly one of Success, Failure or Release.
func (b *CircuitBreaker) Allow() error {
	b.mu.Lock()
	from := b.state
	b.advanceLocked()
	var err error
	switch b.state {
	case StateOpen:
		err = ErrCircuitOpen
	case StateHalfOpen:
		if b.trialInFlight {
			err = ErrCircuitOpen
		} else {
			b.trialInFlight = true
		}
	}
	to := b.state
	b.mu.Unlock()
	b.notify(from, to)
	return err
}

// Success records a successful call.
func (b *CircuitBreaker) Success() {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.trialInFlight = false
		b.failures = 0
		b.state = StateClosed
	}
	to := b.state
	b.mu.Unlock()
	b.notify(from, to)
}

// Failure records a failed call.
func (b *CircuitBreaker) Failure() {
	b.mu.Lock()
	from := b.state
	switch b.state {
	case StateClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.openLocked()
		}
	case StateHalfOpen:
		b.trialInFlight = false
		b.openLocked()
	}
	to := b.state
	b.mu.Unlock()
	b.notify(from, to)
}

// Release gives back a reservation without recording an outcome, used when
// the caller abandoned the call.
func (b *CircuitBreaker) Release() {
	b.mu.Lock()
	if b.state == StateHalfOpen {
		b.trialInFlight = false
	}
	b.mu.Unlock()
}

// Execute runs fn if the breaker allows it and records the outcome. Caller
// cancellation is not counted as a failure.
func (b *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := fn(ctx)
	switch {
	case err == nil:
		b.Success()
	case errors.Is(err, context.Canceled):
		b.Release()
	default:
		b.Failure()
	}
	return err
}

// Snapshot is a point-in-time view of a breaker.
type Snapshot struct {
	Name                string       `json:"name"`
	State               BreakerState `json:"-"`
	StateName           string       `json:"state"`
	ConsecutiveFailures int          `json:"consecutiveFailures"`
	OpenedAt            time.Time    `json:"openedAt,omitempty"`
}

// Snapshot returns the breaker's current view.
func (b *CircuitBreaker) Snapshot() Snapshot {
	b.mu.Lock()
	from := b.state
	b.advanceLocked()
	s := Snapshot{
		Name:                b.name,
		State:               b.state,
		StateName:           b.state.String(),
		ConsecutiveFailures: b.failures,
	}
	if b.state != StateClosed {
		s.OpenedAt = b.openedAt
	}
	b.mu.Unlock()
	b.notify(from, s.State)
	return s
}

func (b *CircuitBreaker) openLocked() {
	b.state = StateOpen
	b.openedAt = b.now()
}

func (b *CircuitBreaker) advanceLocked() {
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.cfg.ResetTimeout {
		b.state = StateHalfOpen
		b.trialInFlight = false
	}
}

func (b *CircuitBreaker) notify(from, to BreakerState) {
	if from != to && b.onStateChange != nil {
		b.onStateChange(b.name, from, to)
	}
}
