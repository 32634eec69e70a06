// Package deepgram provides a Deepgram live transcription provider over the
// Deepgram websocket API.
package deepgram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"ai-speech-session-service/internal/observability/logging"
	"ai-speech-session-service/internal/service/stt"
)

const (
	providerName    = "deepgram"
	defaultEndpoint = "api.deepgram.com"
	eventBuffer     = 256
	// flushGrace is how long the socket stays up after the last audio so
	// Deepgram can deliver its remaining finals.
	flushGrace = 1500 * time.Millisecond
)

// ErrMissingAPIKey is returned by Open when no API key is configured.
var ErrMissingAPIKey = errors.New("deepgram api key is not configured")

// Config holds Deepgram settings.
type Config struct {
	APIKey         string
	Model          string
	Endpoint       string
	UtteranceEndMs int
}

// Provider implements stt.Provider.
type Provider struct {
	cfg    Config
	logger zerolog.Logger
}

// New creates a Deepgram provider.
func New(cfg Config) *Provider {
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	return &Provider{
		cfg:    cfg,
		logger: logging.WithComponent("deepgram_stt"),
	}
}

func (p *Provider) Name() string     { return providerName }
func (p *Provider) Endpoint() string { return p.cfg.Endpoint }

// Open connects a live transcription socket.
func (p *Provider) Open(ctx context.Context, cfg stt.StreamConfig) (stt.Stream, error) {
	if p.cfg.APIKey == "" {
		return nil, stt.Fatal(providerName, "open", ErrMissingAPIKey)
	}

	sctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		ctx:    sctx,
		cancel: cancel,
		events: make(chan stt.Event, eventBuffer),
		logger: p.logger,
	}
	s.pipeReader, s.pipeWriter = io.Pipe()

	clientOptions := &interfaces.ClientOptions{
		Host:            p.cfg.Endpoint,
		EnableKeepAlive: true,
	}
	transcriptOptions := transcriptionOptions(p.cfg, cfg)

	dg, err := client.NewWSUsingCallback(sctx, p.cfg.APIKey, clientOptions, transcriptOptions, &callback{stream: s})
	if err != nil {
		cancel()
		return nil, stt.Fatal(providerName, "open", err)
	}
	if connected := dg.Connect(); !connected {
		cancel()
		return nil, stt.Transient(providerName, "connect", errors.New("deepgram connection failed"))
	}
	s.client = dg

	p.logger.Debug().
		Str("model", p.cfg.Model).
		Str("language", cfg.LanguageCode).
		Int("sampleRateHz", cfg.SampleRateHz).
		Msg("deepgram connected")

	go s.pump()
	return s, nil
}

func transcriptionOptions(pc Config, cfg stt.StreamConfig) *interfaces.LiveTranscriptionOptions {
	opts := &interfaces.LiveTranscriptionOptions{
		Model:          pc.Model,
		Language:       cfg.LanguageCode,
		InterimResults: cfg.InterimResults,
		SmartFormat:    true,
	}
	// Deepgram sniffs containerized audio itself; only raw PCM needs to be
	// described.
	if cfg.Encoding.IsPCM() {
		opts.Encoding = "linear16"
		opts.SampleRate = cfg.SampleRateHz
		opts.Channels = 1
	}
	if pc.UtteranceEndMs > 0 {
		opts.UtteranceEndMs = fmt.Sprintf("%d", pc.UtteranceEndMs)
	}
	return opts
}

// Stream is one live transcription socket. Audio is written into a pipe
// that the SDK drains onto the socket.
type Stream struct {
	ctx        context.Context
	cancel     context.CancelFunc
	client     *client.WSCallback
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter
	logger     zerolog.Logger

	mu         sync.Mutex
	events     chan stt.Event
	seq        stt.Sequencer
	halfClosed bool
	closed     bool
	stopOnce   sync.Once
}

// Send writes a frame to the socket.
func (s *Stream) Send(ctx context.Context, frame []byte) error {
	s.mu.Lock()
	done := s.closed || s.halfClosed
	s.mu.Unlock()
	if done {
		return stt.ErrStreamClosed
	}
	if _, err := s.pipeWriter.Write(frame); err != nil {
		if errors.Is(err, io.ErrClosedPipe) {
			return stt.ErrStreamClosed
		}
		return stt.Transient(providerName, "send", err)
	}
	return nil
}

// CloseSend ends the audio; the socket is stopped after a short grace
// period so outstanding finals can arrive.
func (s *Stream) CloseSend() error {
	s.mu.Lock()
	if s.closed || s.halfClosed {
		s.mu.Unlock()
		return nil
	}
	s.halfClosed = true
	s.mu.Unlock()
	return s.pipeWriter.Close()
}

// Close stops the socket immediately.
func (s *Stream) Close() error {
	s.cancel()
	_ = s.pipeWriter.Close()
	s.stop()
	s.finish()
	return nil
}

func (s *Stream) Events() <-chan stt.Event {
	return s.events
}

func (s *Stream) pump() {
	err := s.client.Stream(s.pipeReader)
	if s.ctx.Err() != nil {
		return
	}
	if err != nil && !errors.Is(err, io.EOF) {
		s.emit(stt.Event{Kind: stt.EventError, Err: stt.Transient(providerName, "stream", err)})
		s.stop()
		s.finish()
		return
	}

	timer := time.NewTimer(flushGrace)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-s.ctx.Done():
		return
	}
	s.stop()
	s.emit(stt.Event{Kind: stt.EventClosed})
	s.finish()
}

func (s *Stream) stop() {
	s.stopOnce.Do(func() {
		if s.client != nil {
			s.client.Stop()
		}
	})
}

// emit never blocks the SDK's read loop.
func (s *Stream) emit(ev stt.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.Kind == stt.EventInterim || ev.Kind == stt.EventFinal {
		ev.Sequence = s.seq.Next(ev.Kind == stt.EventFinal)
	}
	select {
	case s.events <- ev:
	default:
		s.logger.Warn().Str("kind", ev.Kind.String()).Msg("deepgram event buffer full, dropping event")
	}
}

func (s *Stream) finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}

// callback adapts Deepgram's socket messages to stream events.
type callback struct {
	stream *Stream
}

func (c *callback) Open(*msginterfaces.OpenResponse) error { return nil }

func (c *callback) Message(mr *msginterfaces.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	alt := mr.Channel.Alternatives[0]
	if strings.TrimSpace(alt.Transcript) == "" {
		return nil
	}
	ev := stt.Event{Kind: stt.EventInterim, Text: alt.Transcript}
	if mr.IsFinal {
		ev.Kind = stt.EventFinal
		ev.Confidence = alt.Confidence
	}
	c.stream.emit(ev)
	return nil
}

func (c *callback) Metadata(md *msginterfaces.MetadataResponse) error {
	c.stream.logger.Debug().Str("requestId", md.RequestID).Msg("deepgram metadata received")
	return nil
}

func (c *callback) SpeechStarted(*msginterfaces.SpeechStartedResponse) error { return nil }

func (c *callback) UtteranceEnd(*msginterfaces.UtteranceEndResponse) error { return nil }

func (c *callback) Close(*msginterfaces.CloseResponse) error {
	c.stream.emit(stt.Event{Kind: stt.EventClosed})
	c.stream.finish()
	return nil
}

func (c *callback) Error(er *msginterfaces.ErrorResponse) error {
	c.stream.emit(stt.Event{Kind: stt.EventError, Err: classify(er.ErrCode, er.ErrMsg)})
	return nil
}

func (c *callback) UnhandledEvent(byData []byte) error {
	c.stream.logger.Debug().Int("bytes", len(byData)).Msg("deepgram unhandled event")
	return nil
}

// classify treats authentication and request errors as fatal and
// everything else as transient.
func classify(code, msg string) error {
	err := fmt.Errorf("%s: %s", code, msg)
	upper := strings.ToUpper(code)
	for _, fatal := range []string{"401", "403", "400", "AUTH", "INVALID", "FORBIDDEN"} {
		if strings.Contains(upper, fatal) {
			return stt.Fatal(providerName, "recv", err)
		}
	}
	return stt.Transient(providerName, "recv", err)
}
