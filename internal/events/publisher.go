// Package events provides event publishing functionality.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"ai-speech-session-service/internal/models"
	"ai-speech-session-service/internal/observability/metrics"
	"ai-speech-session-service/internal/schema"
)

// Publisher publishes transcript events to separate Kafka topics.
type Publisher struct {
	writerPartial *kafka.Writer
	writerFinal   *kafka.Writer
	principal     string
	topicPartial  string
	topicFinal    string
	enabled       bool
	metrics       *metrics.Metrics
	validator     *schema.Validator
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers      []string
	TopicPartial string
	TopicFinal   string
	Principal    string
	Enabled      bool
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithMetrics records into m instead of metrics.DefaultMetrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Publisher) {
		if m != nil {
			p.metrics = m
		}
	}
}

// New creates a new Kafka event publisher with separate topics for partial and final transcripts.
func New(cfg *Config, opts ...Option) *Publisher {
	p := &Publisher{
		metrics:   metrics.DefaultMetrics,
		validator: schema.New(),
	}
	for _, opt := range opts {
		opt(p)
	}

	// Handle nil config case
	if cfg == nil {
		log.Info().Msg("Kafka disabled (nil config), using log-only mode")
		return p
	}

	p.principal = cfg.Principal
	p.topicPartial = cfg.TopicPartial
	p.topicFinal = cfg.TopicFinal

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Info().Msg("Kafka disabled, using log-only mode")
		return p
	}

	// Longer dial timeout for DNS resolution in Kubernetes
	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}

	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	p.writerPartial = newWriter(cfg.Brokers, cfg.TopicPartial, transport)
	p.writerFinal = newWriter(cfg.Brokers, cfg.TopicFinal, transport)
	p.enabled = true

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicPartial", cfg.TopicPartial).
		Str("topicFinal", cfg.TopicFinal).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return p
}

func newWriter(brokers []string, topic string, transport *kafka.Transport) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Transport:    transport,
	}
}

// Enabled reports whether events are written to Kafka.
func (p *Publisher) Enabled() bool {
	return p.enabled
}

// Publish routes a transcript event to its topic, keyed by session so one
// session's results stay ordered within a partition. Non-transcript events
// are ignored.
func (p *Publisher) Publish(ctx context.Context, ev models.SessionEvent) error {
	switch ev.EventType {
	case models.EventTranscriptPartial:
		return p.PublishPartial(ctx, ev)
	case models.EventTranscriptFinal:
		return p.PublishFinal(ctx, ev)
	default:
		return nil
	}
}

// PublishPartial publishes a partial transcript event to the partial topic.
func (p *Publisher) PublishPartial(ctx context.Context, ev models.SessionEvent) error {
	return p.publish(ctx, p.writerPartial, p.topicPartial, "partial", ev)
}

// PublishFinal publishes a final transcript event to the final topic.
func (p *Publisher) PublishFinal(ctx context.Context, ev models.SessionEvent) error {
	return p.publish(ctx, p.writerFinal, p.topicFinal, "final", ev)
}

// publish is the internal method that writes to a specific Kafka writer.
func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType string, ev models.SessionEvent) error {
	start := time.Now()

	if err := p.validator.Validate(ev); err != nil {
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", ev.SessionID).
		RawJSON("payload", payload).
		Msg("Publishing event")

	// If Kafka is disabled, just log
	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(ev.SessionID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(ev.EventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", ev.SessionID).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close closes both Kafka writers.
func (p *Publisher) Close() error {
	var err error
	if p.writerPartial != nil {
		if e := p.writerPartial.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing partial writer")
			err = e
		}
	}
	if p.writerFinal != nil {
		if e := p.writerFinal.Close(); e != nil {
			log.Error().Err(e).Msg("Error closing final writer")
			err = e
		}
	}
	return err
}
