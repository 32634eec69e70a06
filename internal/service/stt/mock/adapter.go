// Package mock provides a scripted STT provider for tests and local runs
// without cloud credentials. Each stream plays one utterance: progressive
// partials as audio arrives, then exactly one final when the caller
// half-closes the stream.
package mock

import (
	"context"
	"sync"
	"time"

	"ai-speech-session-service/internal/service/stt"
)

const (
	providerName    = "mock"
	defaultEndpoint = "mock://stt"
	eventBuffer     = 256
)

// SimulatedUtterance represents a mock utterance with progressive transcripts.
type SimulatedUtterance struct {
	Partials   []string // Progressive partial transcripts
	Final      string   // Final transcript text
	Confidence float64  // Confidence score for final
}

// DefaultUtterances provides sample utterances for simulation.
var DefaultUtterances = []SimulatedUtterance{
	{
		Partials:   []string{"I want", "I want to", "I want to cancel"},
		Final:      "I want to cancel my subscription",
		Confidence: 0.94,
	},
	{
		Partials:   []string{"Yes", "Yes please"},
		Final:      "Yes please go ahead",
		Confidence: 0.97,
	},
	{
		Partials:   []string{"Can you", "Can you help", "Can you help me with"},
		Final:      "Can you help me with my account",
		Confidence: 0.91,
	},
	{
		Partials:   []string{"I've been", "I've been waiting", "I've been waiting for"},
		Final:      "I've been waiting for over an hour",
		Confidence: 0.89,
	},
	{
		Partials:   []string{"Thank you"},
		Final:      "Thank you very much",
		Confidence: 0.98,
	},
}

// Provider implements stt.Provider with scripted responses.
type Provider struct {
	endpoint        string
	utterances      []SimulatedUtterance
	framesPerResult int

	mu       sync.Mutex
	openErrs []error
	opens    int
	next     int
	streams  []*Stream
}

// Option configures a Provider.
type Option func(*Provider)

// WithUtterances replaces the scripted utterances.
func WithUtterances(u ...SimulatedUtterance) Option {
	return func(p *Provider) {
		if len(u) > 0 {
			p.utterances = u
		}
	}
}

// WithEndpoint overrides the reported endpoint.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// WithFramesPerPartial emits one partial every n frames instead of every frame.
func WithFramesPerPartial(n int) Option {
	return func(p *Provider) {
		if n > 0 {
			p.framesPerResult = n
		}
	}
}

// WithOpenErrors makes the next Open calls fail with errs, in order. A nil
// entry lets that call succeed.
func WithOpenErrors(errs ...error) Option {
	return func(p *Provider) {
		p.openErrs = append(p.openErrs, errs...)
	}
}

// New creates a new mock provider.
func New(opts ...Option) *Provider {
	p := &Provider{
		endpoint:        defaultEndpoint,
		utterances:      DefaultUtterances,
		framesPerResult: 1,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string     { return providerName }
func (p *Provider) Endpoint() string { return p.endpoint }

// FailNextOpens queues errors for upcoming Open calls.
func (p *Provider) FailNextOpens(errs ...error) {
	p.mu.Lock()
	p.openErrs = append(p.openErrs, errs...)
	p.mu.Unlock()
}

// Open starts a scripted stream. Utterances are assigned round-robin.
func (p *Provider) Open(ctx context.Context, cfg stt.StreamConfig) (stt.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.opens++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(p.openErrs) > 0 {
		err := p.openErrs[0]
		p.openErrs = p.openErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	utt := p.utterances[p.next%len(p.utterances)]
	p.next++
	s := &Stream{
		utterance:       utt,
		interim:         cfg.InterimResults,
		framesPerResult: p.framesPerResult,
		events:          make(chan stt.Event, eventBuffer),
	}
	p.streams = append(p.streams, s)
	return s, nil
}

// Opens returns how many times Open was called.
func (p *Provider) Opens() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opens
}

// Streams returns every stream opened so far.
func (p *Provider) Streams() []*Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Stream(nil), p.streams...)
}

// LastStream returns the most recently opened stream, or nil.
func (p *Provider) LastStream() *Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.streams) == 0 {
		return nil
	}
	return p.streams[len(p.streams)-1]
}

// Stream is one scripted recognition stream.
// It simulates realistic STT behavior:
//   - a partial transcript per audio frame until the script runs out
//   - exactly one final once the caller half-closes
//   - a closed acknowledgement after the final
type Stream struct {
	utterance       SimulatedUtterance
	interim         bool
	framesPerResult int

	mu           sync.Mutex
	events       chan stt.Event
	seq          stt.Sequencer
	frames       int
	bytes        int
	partialIndex int
	finalSent    bool
	halfClosed   bool
	closed       bool
}

// Send simulates receiving audio and emits the next partial.
func (s *Stream) Send(ctx context.Context, frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.halfClosed {
		return stt.ErrStreamClosed
	}
	s.frames++
	s.bytes += len(frame)

	if !s.interim || s.frames%s.framesPerResult != 0 {
		return nil
	}
	if s.partialIndex < len(s.utterance.Partials) {
		text := s.utterance.Partials[s.partialIndex]
		s.partialIndex++
		s.emitLocked(stt.Event{Kind: stt.EventInterim, Text: text, Sequence: s.seq.Next(false)})
	}
	return nil
}

// CloseSend flushes the final transcript (if any audio was heard) and
// acknowledges closure.
func (s *Stream) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.halfClosed {
		return nil
	}
	s.halfClosed = true
	if !s.finalSent && s.frames > 0 {
		s.finalSent = true
		s.emitLocked(stt.Event{
			Kind:       stt.EventFinal,
			Text:       s.utterance.Final,
			Confidence: s.utterance.Confidence,
			Sequence:   s.seq.Next(true),
		})
	}
	s.emitLocked(stt.Event{Kind: stt.EventClosed})
	s.closeEventsLocked()
	return nil
}

// Close aborts the stream. Idempotent.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeEventsLocked()
	return nil
}

func (s *Stream) Events() <-chan stt.Event {
	return s.events
}

// Emit injects an arbitrary event. A zero Sequence on a result is filled
// from the stream's sequencer.
func (s *Stream) Emit(ev stt.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if ev.Sequence == 0 && (ev.Kind == stt.EventInterim || ev.Kind == stt.EventFinal) {
		ev.Sequence = s.seq.Next(ev.Kind == stt.EventFinal)
	}
	s.emitLocked(ev)
}

// Fail emits a provider error and ends the stream.
func (s *Stream) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.emitLocked(stt.Event{Kind: stt.EventError, Err: err})
	s.closeEventsLocked()
}

// Frames returns how many frames were accepted.
func (s *Stream) Frames() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// Bytes returns how many audio bytes were accepted.
func (s *Stream) Bytes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytes
}

// HalfClosed reports whether CloseSend was called.
func (s *Stream) HalfClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.halfClosed
}

// Closed reports whether the stream has ended.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// emitLocked never blocks; with eventBuffer slots the reader only loses
// events if it stopped draining.
func (s *Stream) emitLocked(ev stt.Event) {
	if s.closed {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	select {
	case s.events <- ev:
	default:
	}
}

func (s *Stream) closeEventsLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}
