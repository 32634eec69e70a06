package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"ai-speech-session-service/internal/config"
	"ai-speech-session-service/internal/events"
	"ai-speech-session-service/internal/observability/logging"
	"ai-speech-session-service/internal/observability/metrics"
	"ai-speech-session-service/internal/resilience"
	"ai-speech-session-service/internal/service/audio"
	"ai-speech-session-service/internal/service/session"
	"ai-speech-session-service/internal/service/stt"
	"ai-speech-session-service/internal/service/stt/deepgram"
	"ai-speech-session-service/internal/service/stt/google"
	"ai-speech-session-service/internal/service/stt/mock"
	"ai-speech-session-service/internal/store"
)

// ErrUnknownProvider is returned by Start for an unsupported STT_PROVIDER.
var ErrUnknownProvider = errors.New("unknown stt provider")

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration

	Metrics    *metrics.Metrics
	Breakers   *resilience.Registry
	Controller *session.Controller
	Publisher  *events.Publisher
	Store      *store.Store

	provider stt.Provider
	db       *pgxpool.Pool
	sentry   bool
}

// Option configures an Application.
type Option func(*Application)

// WithProvider uses p instead of building the provider named by the config.
func WithProvider(p stt.Provider) Option {
	return func(a *Application) { a.provider = p }
}

// WithMetrics records into m instead of metrics.DefaultMetrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Application) {
		if m != nil {
			a.Metrics = m
		}
	}
}

// New constructs a new Application from the provided configuration.
func New(cfg *config.Configuration, opts ...Option) *Application {
	a := &Application{
		Cfg:     cfg,
		Metrics: metrics.DefaultMetrics,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.setupLogger()
	a.setupSentry()

	a.Logger.Info().Msg("AI Speech Session service application created")
	return a
}

func (a *Application) setupLogger() {
	lc := logging.DefaultConfig()
	lc.Level = a.Cfg.Observability.LogLevel
	if a.Cfg.Observability.LogFormat != "" {
		lc.Format = a.Cfg.Observability.LogFormat
	}
	logging.Init(lc)

	a.Logger = logging.WithComponent("application").With().
		Str("service", "ai-speech-session-service").
		Logger()

	a.Logger.Info().
		Str("logLevel", lc.Level).
		Str("environment", a.Cfg.Service.Env).
		Msg("Logger setup completed")
}

func (a *Application) setupSentry() {
	dsn := a.Cfg.Observability.SentryDSN
	if dsn == "" {
		return
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		EnableTracing:    true,
		TracesSampleRate: 0.2,
		Environment:      a.Cfg.Service.Env,
		ServerName:       a.Cfg.Service.Principal,
	})
	if err != nil {
		a.Logger.Error().Err(err).Msg("Sentry init failed")
		return
	}
	a.sentry = true
	a.Logger.Info().Msg("Sentry initialized")
}

// Start builds the provider, the session controller and the optional
// publisher and store.
func (a *Application) Start(ctx context.Context) error {
	a.StartupTime = time.Now().UTC()

	if a.provider == nil {
		p, err := newProvider(ctx, a.Cfg)
		if err != nil {
			return err
		}
		a.provider = p
	}

	a.Breakers = resilience.NewRegistry(a.Cfg.BreakerConfig(),
		resilience.OnStateChange(func(name string, from, to resilience.BreakerState) {
			a.Metrics.SetBreakerState(name, int(to))
			a.Logger.Warn().
				Str("endpoint", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		}),
	)
	a.Controller = session.NewController(a.provider,
		session.WithBreakers(a.Breakers),
		session.WithRetryPolicy(a.Cfg.RetryPolicy()),
		session.WithOpenTimeout(a.Cfg.Resilience.OpenTimeout),
		session.WithMetrics(a.Metrics),
	)

	a.Publisher = events.New(&events.Config{
		Enabled:      a.Cfg.Kafka.Enabled,
		Brokers:      a.Cfg.Kafka.Brokers,
		TopicPartial: a.Cfg.Kafka.TopicPartial,
		TopicFinal:   a.Cfg.Kafka.TopicFinal,
		Principal:    a.Cfg.Kafka.Principal,
	}, events.WithMetrics(a.Metrics))

	if url := a.Cfg.Store.DatabaseURL; url != "" {
		db, err := store.Connect(ctx, url)
		if err != nil {
			return fmt.Errorf("transcript store: %w", err)
		}
		a.db = db
		a.Store = store.New(db)
		if err := a.Store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("transcript store schema: %w", err)
		}
	}

	a.Logger.Info().
		Time("startupTime", a.StartupTime).
		Str("sttProvider", a.provider.Name()).
		Str("sttEndpoint", a.provider.Endpoint()).
		Bool("kafka", a.Publisher.Enabled()).
		Bool("store", a.Store != nil).
		Msg("AI Speech Session service starting")
	return nil
}

func newProvider(ctx context.Context, cfg *config.Configuration) (stt.Provider, error) {
	switch cfg.STT.Provider {
	case "mock":
		var opts []mock.Option
		if cfg.STT.Endpoint != "" {
			opts = append(opts, mock.WithEndpoint(cfg.STT.Endpoint))
		}
		return mock.New(opts...), nil
	case "google":
		p, err := google.New(ctx, google.Config{
			LanguageCode:   cfg.STT.LanguageCode,
			SampleRateHz:   cfg.STT.SampleRateHz,
			InterimResults: cfg.STT.InterimResults,
			AudioEncoding:  cfg.STT.AudioEncoding,
			Model:          cfg.STT.GoogleModel,
			Endpoint:       cfg.STT.Endpoint,
		})
		if err != nil {
			return nil, fmt.Errorf("google stt client: %w", err)
		}
		return p, nil
	case "deepgram":
		return deepgram.New(deepgram.Config{
			APIKey:   cfg.STT.DeepgramAPIKey,
			Model:    cfg.STT.DeepgramModel,
			Endpoint: cfg.STT.Endpoint,
		}), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.STT.Provider)
	}
}

// SessionDefaults returns the configuration applied to new sessions.
func (a *Application) SessionDefaults() session.Config {
	return a.Cfg.SessionDefaults()
}

// NewHandler creates a transport bridge for one client stream.
func (a *Application) NewHandler(tenantId, transport string) *audio.Handler {
	opts := []audio.Option{
		audio.WithTenant(tenantId),
		audio.WithTransport(transport),
		audio.WithMetrics(a.Metrics),
		audio.WithLimits(audio.SegmentLimits{
			MaxAudioBytes: a.Cfg.SegmentLimits.MaxAudioBytes,
			MaxDuration:   a.Cfg.SegmentLimits.MaxDuration,
			MaxPartials:   a.Cfg.SegmentLimits.MaxPartials,
		}),
	}
	if a.Publisher != nil && a.Publisher.Enabled() {
		opts = append(opts, audio.WithPublisher(a.Publisher))
	}
	if a.Store != nil {
		opts = append(opts, audio.WithStore(a.Store))
	}
	return audio.NewHandler(a.Controller, opts...)
}

// Ready reports whether the service can accept sessions.
func (a *Application) Ready(ctx context.Context) error {
	if a.Controller == nil {
		return errors.New("application not started")
	}
	if a.Store != nil {
		if err := a.Store.Ping(ctx); err != nil {
			return fmt.Errorf("transcript store: %w", err)
		}
	}
	return nil
}

// Shutdown cancels live sessions and releases external resources.
func (a *Application) Shutdown(ctx context.Context) {
	a.Logger.Info().Msg("AI Speech Session service shutting down")

	if a.Controller != nil {
		if err := a.Controller.Shutdown(ctx); err != nil {
			a.Logger.Warn().Err(err).Int("active", a.Controller.Active()).Msg("Sessions still running at shutdown")
		}
	}
	if a.Publisher != nil {
		if err := a.Publisher.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("Failed to close Kafka publisher")
		}
	}
	if closer, ok := a.provider.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("Failed to close STT provider")
		}
	}
	if a.db != nil {
		a.db.Close()
	}
	if a.sentry {
		sentry.Flush(2 * time.Second)
	}
}
