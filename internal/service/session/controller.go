package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ai-speech-session-service/internal/observability/logging"
	"ai-speech-session-service/internal/observability/metrics"
	"ai-speech-session-service/internal/resilience"
	"ai-speech-session-service/internal/service/stt"
	"ai-speech-session-service/internal/vad"
)

// DefaultOpenTimeout bounds a single provider open attempt.
const DefaultOpenTimeout = 10 * time.Second

// Controller starts sessions against one provider. Sessions started by the
// same controller share the provider endpoint's circuit breaker.
type Controller struct {
	provider    stt.Provider
	breakers    *resilience.Registry
	policy      resilience.RetryPolicy
	openTimeout time.Duration
	sleep       resilience.SleepFunc
	metrics     *metrics.Metrics
	logger      zerolog.Logger

	guard *resilience.Guard

	mu       sync.Mutex
	sessions map[string]*Session
}

// Option configures a Controller.
type Option func(*Controller)

// WithBreakers shares a breaker registry, typically across controllers.
func WithBreakers(r *resilience.Registry) Option {
	return func(c *Controller) {
		if r != nil {
			c.breakers = r
		}
	}
}

// WithRetryPolicy sets the provider open retry policy.
func WithRetryPolicy(p resilience.RetryPolicy) Option {
	return func(c *Controller) {
		c.policy = p
	}
}

// WithOpenTimeout bounds each provider open attempt.
func WithOpenTimeout(d time.Duration) Option {
	return func(c *Controller) {
		c.openTimeout = d
	}
}

// WithRetrySleep replaces the backoff sleep, mainly for tests.
func WithRetrySleep(fn resilience.SleepFunc) Option {
	return func(c *Controller) {
		c.sleep = fn
	}
}

// WithMetrics records into m instead of metrics.DefaultMetrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Controller) {
		if m != nil {
			c.metrics = m
		}
	}
}

// NewController creates a Controller for provider.
func NewController(provider stt.Provider, opts ...Option) *Controller {
	c := &Controller{
		provider:    provider,
		policy:      resilience.DefaultRetryPolicy(),
		openTimeout: DefaultOpenTimeout,
		metrics:     metrics.DefaultMetrics,
		logger:      logging.WithComponent("session"),
		sessions:    make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breakers == nil {
		c.breakers = resilience.NewRegistry(resilience.DefaultBreakerConfig())
	}

	retryOpts := []resilience.RetryOption{
		resilience.OnRetry(func(attempt int, delay time.Duration, err error) {
			c.metrics.RecordRetry("provider_open")
			c.logger.Warn().
				Err(err).
				Int("attempt", attempt).
				Dur("delay", delay).
				Str("sttProvider", c.provider.Name()).
				Msg("retrying provider open")
		}),
	}
	if c.sleep != nil {
		retryOpts = append(retryOpts, resilience.WithSleep(c.sleep))
	}
	c.guard = resilience.NewGuard(
		c.breakers.Get(provider.Endpoint()),
		resilience.NewRetrier(c.policy, retryOpts...),
		c.openTimeout,
	)
	return c
}

// Provider returns the controller's provider.
func (c *Controller) Provider() stt.Provider {
	return c.provider
}

// Breaker returns the breaker guarding the provider endpoint.
func (c *Controller) Breaker() *resilience.CircuitBreaker {
	return c.guard.Breaker()
}

// Start validates cfg and starts a session in AWAITING_SPEECH. The provider
// stream is opened in the background; failures are reported through
// cb.OnError. ctx bounds the session: cancelling it ends the session like
// Cancel.
func (c *Controller) Start(ctx context.Context, cfg Config, cb Callbacks) (*Session, error) {
	if cb == nil {
		return nil, invalidConfig("callbacks are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	id := uuid.NewString()
	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:        id,
		cfg:       cfg,
		cb:        cb,
		ctrl:      c,
		ctx:       sctx,
		cancel:    cancel,
		createdAt: time.Now(),
		logger:    logging.WithSession(id, c.provider.Name()),
		inbox:     make(chan message, inboxSize),
		opened:    make(chan openResult),
		done:      make(chan struct{}),
		monitor: vad.NewMonitor(vad.Config{
			SilenceThreshold: cfg.SilenceThreshold,
			ConfirmWindow:    cfg.ConfirmWindow,
			SilenceTimeout:   cfg.SpeechEndTimeout,
			SampleRateHz:     cfg.SampleRateHz,
		}),
	}
	s.init()

	c.mu.Lock()
	c.sessions[id] = s
	c.mu.Unlock()
	c.metrics.RecordSessionStart()

	s.begin()
	go s.run()
	return s, nil
}

// Active returns the number of sessions that are not yet terminal.
func (c *Controller) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// Shutdown cancels every live session and waits for them to finish or for
// ctx to expire.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	live := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		live = append(live, s)
	}
	c.mu.Unlock()

	for _, s := range live {
		s.Cancel()
	}
	for _, s := range live {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (c *Controller) release(s *Session) {
	c.mu.Lock()
	delete(c.sessions, s.id)
	c.mu.Unlock()
}

func (c *Controller) openStream(ctx context.Context, cfg stt.StreamConfig) (stt.Stream, error) {
	stream, err := resilience.Call(ctx, c.guard, func(ctx context.Context) (stt.Stream, error) {
		return c.provider.Open(ctx, cfg)
	}, func(late stt.Stream) {
		_ = late.Close()
	})
	c.metrics.RecordProviderOpen(c.provider.Name(), err)
	return stream, err
}
