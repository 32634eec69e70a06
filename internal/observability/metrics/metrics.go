// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ai_speech_session"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Session metrics
	SessionsStarted prometheus.Counter
	SessionsActive  prometheus.Gauge
	SessionsEnded   *prometheus.CounterVec
	SessionDuration prometheus.Histogram
	SpeechEvents    *prometheus.CounterVec

	// Transcript metrics
	TranscriptResults *prometheus.CounterVec
	TranscriptDropped prometheus.Counter

	// Audio metrics
	AudioBytesReceived  prometheus.Counter
	AudioFramesReceived prometheus.Counter
	AudioFramesDropped  *prometheus.CounterVec

	// Provider and resilience metrics
	ProviderErrors     *prometheus.CounterVec
	ProviderOpens      *prometheus.CounterVec
	ProviderReconnects *prometheus.CounterVec
	RetryAttempts      *prometheus.CounterVec
	BreakerState       *prometheus.GaugeVec
	BreakerRejections  *prometheus.CounterVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec

	// Transport metrics
	TransportStreams *prometheus.CounterVec

	// Backpressure metrics
	SegmentLimitExceeded *prometheus.CounterVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics(prometheus.DefaultRegisterer)

// NewMetrics creates all Prometheus metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		// Session metrics
		SessionsStarted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Total number of recognition sessions started",
		}),
		SessionsActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of recognition sessions not yet terminal",
		}),
		SessionsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_ended_total",
			Help:      "Total number of sessions that reached a terminal state",
		}, []string{"outcome", "code"}),
		SessionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Duration of recognition sessions in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}),
		SpeechEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_events_total",
			Help:      "Total number of speech start and end events",
		}, []string{"event"}),

		// Transcript metrics
		TranscriptResults: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_results_total",
			Help:      "Total number of transcript results forwarded",
		}, []string{"kind"}),
		TranscriptDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcript_results_dropped_total",
			Help:      "Total number of duplicate or out-of-order results dropped",
		}),

		// Audio metrics
		AudioBytesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_received_total",
			Help:      "Total audio bytes received",
		}),
		AudioFramesReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_received_total",
			Help:      "Total audio frames received",
		}),
		AudioFramesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_dropped_total",
			Help:      "Total audio frames dropped before reaching the provider",
		}, []string{"reason"}),

		// Provider and resilience metrics
		ProviderErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Total number of provider errors",
		}, []string{"provider", "kind"}),
		ProviderOpens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_opens_total",
			Help:      "Total number of provider stream open outcomes",
		}, []string{"provider", "result"}),
		ProviderReconnects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_reconnects_total",
			Help:      "Total number of mid-stream provider reconnects",
		}, []string{"provider"}),
		RetryAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_attempts_total",
			Help:      "Total number of retries scheduled",
		}, []string{"operation"}),
		BreakerState: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per endpoint (0=closed, 1=open, 2=half-open)",
		}, []string{"endpoint"}),
		BreakerRejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_rejections_total",
			Help:      "Total number of calls rejected by an open circuit",
		}, []string{"endpoint"}),

		// Kafka publish metrics
		KafkaPublishTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),

		// Transport metrics
		TransportStreams: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_streams_total",
			Help:      "Total number of client streams accepted per transport",
		}, []string{"transport"}),

		// Backpressure metrics
		SegmentLimitExceeded: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "segment_limit_exceeded_total",
			Help:      "Total number of times segment limits were exceeded",
		}, []string{"limit_type"}),
	}
}

// RecordSessionStart records a new session starting.
func (m *Metrics) RecordSessionStart() {
	m.SessionsStarted.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionEnd records a session reaching a terminal state.
func (m *Metrics) RecordSessionEnd(outcome, code string, durationSeconds float64) {
	m.SessionsActive.Dec()
	m.SessionDuration.Observe(durationSeconds)
	m.SessionsEnded.WithLabelValues(outcome, code).Inc()
}

// RecordSpeechEvent records a speech_start or speech_end event.
func (m *Metrics) RecordSpeechEvent(event string) {
	m.SpeechEvents.WithLabelValues(event).Inc()
}

// RecordResult records a forwarded transcript result.
func (m *Metrics) RecordResult(final bool) {
	kind := "interim"
	if final {
		kind = "final"
	}
	m.TranscriptResults.WithLabelValues(kind).Inc()
}

// RecordResultDropped records a stale result dropped by the aggregator.
func (m *Metrics) RecordResultDropped() {
	m.TranscriptDropped.Inc()
}

// RecordAudioReceived records audio bytes and frames received.
func (m *Metrics) RecordAudioReceived(bytes int) {
	m.AudioBytesReceived.Add(float64(bytes))
	m.AudioFramesReceived.Inc()
}

// RecordFrameDropped records a frame discarded before reaching the provider.
func (m *Metrics) RecordFrameDropped(reason string) {
	m.AudioFramesDropped.WithLabelValues(reason).Inc()
}

// RecordProviderError records a provider error.
func (m *Metrics) RecordProviderError(provider, kind string) {
	m.ProviderErrors.WithLabelValues(provider, kind).Inc()
}

// RecordProviderOpen records a provider stream open outcome.
func (m *Metrics) RecordProviderOpen(provider string, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.ProviderOpens.WithLabelValues(provider, result).Inc()
}

// RecordReconnect records a mid-stream reconnect.
func (m *Metrics) RecordReconnect(provider string) {
	m.ProviderReconnects.WithLabelValues(provider).Inc()
}

// RecordRetry records a scheduled retry.
func (m *Metrics) RecordRetry(operation string) {
	m.RetryAttempts.WithLabelValues(operation).Inc()
}

// SetBreakerState records a breaker transition. state follows the
// resilience.BreakerState ordering.
func (m *Metrics) SetBreakerState(endpoint string, state int) {
	m.BreakerState.WithLabelValues(endpoint).Set(float64(state))
}

// RecordBreakerRejection records a call rejected by an open circuit.
func (m *Metrics) RecordBreakerRejection(endpoint string) {
	m.BreakerRejections.WithLabelValues(endpoint).Inc()
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}

// RecordTransportStream records an accepted client stream.
func (m *Metrics) RecordTransportStream(transport string) {
	m.TransportStreams.WithLabelValues(transport).Inc()
}

// RecordLimitExceeded records when a segment limit is exceeded.
func (m *Metrics) RecordLimitExceeded(limitType string) {
	m.SegmentLimitExceeded.WithLabelValues(limitType).Inc()
}
