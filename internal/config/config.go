// Package config loads service configuration from the environment and an
// optional config file. Invalid values fall back to defaults.
package config

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"ai-speech-session-service/internal/resilience"
	"ai-speech-session-service/internal/service/session"
	"ai-speech-session-service/internal/service/stt"
)

// Configuration holds all service configuration.
type Configuration struct {
	Service       ServiceConfig
	STT           STTConfig
	VAD           VADConfig
	Resilience    ResilienceConfig
	SegmentLimits SegmentLimitsConfig
	Kafka         KafkaConfig
	Store         StoreConfig
	Auth          AuthConfig
	Observability ObservabilityConfig
}

// ServiceConfig holds service identity and ports.
type ServiceConfig struct {
	Principal   string
	GRPCPort    string
	HTTPPort    string
	MetricsPort string
	Env         string
}

// STTConfig holds STT provider and session defaults.
type STTConfig struct {
	Provider           string // mock, google or deepgram
	LanguageCode       string
	SampleRateHz       int
	AudioEncoding      string
	InterimResults     bool
	SpeechStartTimeout time.Duration
	SpeechEndTimeout   time.Duration
	FinalizeTimeout    time.Duration
	Endpoint           string
	GoogleModel        string
	DeepgramAPIKey     string
	DeepgramModel      string
}

// VADConfig tunes the energy detector.
type VADConfig struct {
	SilenceThreshold float64
	ConfirmWindow    time.Duration
}

// ResilienceConfig holds retry and circuit breaker settings for provider calls.
type ResilienceConfig struct {
	MaxRetries        int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	FailureThreshold  int
	ResetTimeout      time.Duration
	OpenTimeout       time.Duration
	MaxReconnects     int
}

// SegmentLimitsConfig holds per-session guardrails.
type SegmentLimitsConfig struct {
	MaxAudioBytes int64
	MaxDuration   time.Duration
	MaxPartials   int
}

// KafkaConfig holds Kafka publisher settings.
type KafkaConfig struct {
	Enabled      bool
	Brokers      []string
	TopicPartial string
	TopicFinal   string
	Principal    string
}

// StoreConfig holds transcript persistence settings.
type StoreConfig struct {
	DatabaseURL string // empty disables persistence
}

// AuthConfig holds WebSocket authentication settings.
type AuthConfig struct {
	JWTSecret string // empty disables authentication
}

// ObservabilityConfig holds logging and error reporting settings.
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string
	SentryDSN string
}

// Load reads configuration from the environment, layered over the file
// named by CONFIG_FILE when set. An unreadable file is logged and ignored.
func Load() *Configuration {
	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		return build(newViper())
	}
	cfg, err := LoadFile(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Config file unreadable, using environment only")
		return build(newViper())
	}
	return cfg
}

// LoadFile reads a YAML, JSON or TOML file. Environment variables override
// file values. Keys are the environment variable names, case-insensitive.
func LoadFile(path string) (*Configuration, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	return build(v), nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()
	return v
}

func build(v *viper.Viper) *Configuration {
	principal := getString(v, "SERVICE_PRINCIPAL", "svc-speech-session")
	provider := getString(v, "STT_PROVIDER", "mock")

	return &Configuration{
		Service: ServiceConfig{
			Principal:   principal,
			GRPCPort:    getString(v, "GRPC_PORT", "50051"),
			HTTPPort:    getString(v, "HTTP_PORT", "8080"),
			MetricsPort: getString(v, "METRICS_PORT", "9090"),
			Env:         getString(v, "ENV", "dev"),
		},
		STT: STTConfig{
			Provider:           provider,
			LanguageCode:       getString(v, "STT_LANGUAGE_CODE", session.DefaultLanguageCode),
			SampleRateHz:       getInt(v, "STT_SAMPLE_RATE_HZ", 16000),
			AudioEncoding:      getString(v, "STT_AUDIO_ENCODING", string(stt.EncodingLinear16)),
			InterimResults:     getBool(v, "STT_INTERIM_RESULTS", true),
			SpeechStartTimeout: getSeconds(v, "STT_SPEECH_START_TIMEOUT_SECONDS", session.DefaultSpeechStartTimeout),
			SpeechEndTimeout:   getSeconds(v, "STT_SPEECH_END_TIMEOUT_SECONDS", session.DefaultSpeechEndTimeout),
			FinalizeTimeout:    getDuration(v, "STT_FINALIZE_TIMEOUT", session.DefaultFinalizeTimeout),
			Endpoint:           getString(v, "STT_ENDPOINT", ""),
			GoogleModel:        getString(v, "GOOGLE_STT_MODEL", ""),
			DeepgramAPIKey:     getString(v, "DEEPGRAM_API_KEY", ""),
			DeepgramModel:      getString(v, "DEEPGRAM_MODEL", "nova-2"),
		},
		VAD: VADConfig{
			SilenceThreshold: getFloat(v, "VAD_SILENCE_THRESHOLD", 0.02),
			ConfirmWindow:    getDuration(v, "VAD_CONFIRM_WINDOW", 200*time.Millisecond),
		},
		Resilience: ResilienceConfig{
			MaxRetries:        getInt(v, "RETRY_MAX_RETRIES", 3),
			InitialDelay:      getDuration(v, "RETRY_INITIAL_DELAY", 500*time.Millisecond),
			MaxDelay:          getDuration(v, "RETRY_MAX_DELAY", 5*time.Second),
			BackoffMultiplier: getFloat(v, "RETRY_BACKOFF_MULTIPLIER", 2),
			FailureThreshold:  getInt(v, "BREAKER_FAILURE_THRESHOLD", 5),
			ResetTimeout:      getDuration(v, "BREAKER_RESET_TIMEOUT", 30*time.Second),
			OpenTimeout:       getDuration(v, "PROVIDER_OPEN_TIMEOUT", 10*time.Second),
			MaxReconnects:     getInt(v, "SESSION_MAX_RECONNECTS", session.DefaultMaxReconnects),
		},
		SegmentLimits: SegmentLimitsConfig{
			MaxAudioBytes: getInt64(v, "SEGMENT_MAX_AUDIO_BYTES", 5*1024*1024),
			MaxDuration:   getDuration(v, "SEGMENT_MAX_DURATION", 5*time.Minute),
			MaxPartials:   getInt(v, "SEGMENT_MAX_PARTIALS", 500),
		},
		Kafka: KafkaConfig{
			Enabled:      getBool(v, "KAFKA_ENABLED", false),
			Brokers:      getList(v, "KAFKA_BROKERS"),
			TopicPartial: getString(v, "KAFKA_TOPIC_PARTIAL", "speech.session.transcript.partial"),
			TopicFinal:   getString(v, "KAFKA_TOPIC_FINAL", "speech.session.transcript.final"),
			Principal:    getString(v, "KAFKA_PRINCIPAL", principal),
		},
		Store: StoreConfig{
			DatabaseURL: getString(v, "DATABASE_URL", ""),
		},
		Auth: AuthConfig{
			JWTSecret: getString(v, "AUTH_JWT_SECRET", ""),
		},
		Observability: ObservabilityConfig{
			LogLevel:  getString(v, "LOG_LEVEL", "info"),
			LogFormat: getString(v, "LOG_FORMAT", "json"),
			SentryDSN: getString(v, "SENTRY_DSN", ""),
		},
	}
}

// SessionDefaults returns the session configuration applied when a client
// does not override it.
func (c *Configuration) SessionDefaults() session.Config {
	return session.Config{
		LanguageCode:       c.STT.LanguageCode,
		SampleRateHz:       c.STT.SampleRateHz,
		Encoding:           stt.Encoding(c.STT.AudioEncoding),
		InterimResults:     c.STT.InterimResults,
		SpeechStartTimeout: c.STT.SpeechStartTimeout,
		SpeechEndTimeout:   c.STT.SpeechEndTimeout,
		FinalizeTimeout:    c.STT.FinalizeTimeout,
		SilenceThreshold:   c.VAD.SilenceThreshold,
		ConfirmWindow:      c.VAD.ConfirmWindow,
		MaxReconnects:      c.Resilience.MaxReconnects,
	}
}

// RetryPolicy returns the provider open retry policy.
func (c *Configuration) RetryPolicy() resilience.RetryPolicy {
	return resilience.RetryPolicy{
		MaxRetries:        c.Resilience.MaxRetries,
		InitialDelay:      c.Resilience.InitialDelay,
		MaxDelay:          c.Resilience.MaxDelay,
		BackoffMultiplier: c.Resilience.BackoffMultiplier,
	}
}

// BreakerConfig returns the per-endpoint circuit breaker settings.
func (c *Configuration) BreakerConfig() resilience.BreakerConfig {
	return resilience.BreakerConfig{
		FailureThreshold: c.Resilience.FailureThreshold,
		ResetTimeout:     c.Resilience.ResetTimeout,
	}
}

func getString(v *viper.Viper, key, def string) string {
	if s := strings.TrimSpace(v.GetString(key)); s != "" {
		return s
	}
	return def
}

func getInt(v *viper.Viper, key string, def int) int {
	if !v.IsSet(key) {
		return def
	}
	n, err := cast.ToIntE(v.Get(key))
	if err != nil {
		return def
	}
	return n
}

func getInt64(v *viper.Viper, key string, def int64) int64 {
	if !v.IsSet(key) {
		return def
	}
	n, err := cast.ToInt64E(v.Get(key))
	if err != nil {
		return def
	}
	return n
}

func getFloat(v *viper.Viper, key string, def float64) float64 {
	if !v.IsSet(key) {
		return def
	}
	f, err := cast.ToFloat64E(v.Get(key))
	if err != nil {
		return def
	}
	return f
}

func getBool(v *viper.Viper, key string, def bool) bool {
	if !v.IsSet(key) {
		return def
	}
	b, err := cast.ToBoolE(v.Get(key))
	if err != nil {
		return def
	}
	return b
}

func getDuration(v *viper.Viper, key string, def time.Duration) time.Duration {
	if !v.IsSet(key) {
		return def
	}
	d, err := cast.ToDurationE(v.Get(key))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// getSeconds reads a fractional number of seconds.
func getSeconds(v *viper.Viper, key string, def time.Duration) time.Duration {
	if !v.IsSet(key) {
		return def
	}
	f, err := cast.ToFloat64E(v.Get(key))
	if err != nil || f <= 0 {
		return def
	}
	return time.Duration(f * float64(time.Second))
}

// getList reads a comma-separated string or a list.
func getList(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}
	var items []string
	switch raw := v.Get(key).(type) {
	case string:
		items = strings.Split(raw, ",")
	default:
		items = cast.ToStringSlice(raw)
	}
	var out []string
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
