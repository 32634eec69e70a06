package session

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"ai-speech-session-service/internal/observability/metrics"
	"ai-speech-session-service/internal/service/stt"
	"ai-speech-session-service/internal/service/stt/mock"
)

const sampleRate = 16000

func speechFrame() []byte {
	samples := sampleRate / 50 // 20ms
	buf := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := 10000 * math.Sin(2*math.Pi*440*float64(i)/sampleRate)
		binary.LittleEndian.PutUint16(buf[2*i:], uint16(int16(v)))
	}
	return buf
}

func silenceFrame() []byte {
	return make([]byte, sampleRate/50*2)
}

func testConfig() Config {
	return Config{
		LanguageCode:       "en-US",
		SampleRateHz:       sampleRate,
		Encoding:           stt.EncodingLinear16,
		InterimResults:     true,
		SpeechStartTimeout: 2 * time.Second,
		SpeechEndTimeout:   100 * time.Millisecond,
		FinalizeTimeout:    time.Second,
		ConfirmWindow:      20 * time.Millisecond,
	}
}

func newTestController(p stt.Provider, opts ...Option) *Controller {
	base := []Option{
		WithMetrics(metrics.NewMetrics(prometheus.NewRegistry())),
		WithRetrySleep(func(ctx context.Context, d time.Duration) error { return ctx.Err() }),
	}
	return NewController(p, append(base, opts...)...)
}

// silentProvider plays an utterance with no partials and no final text.
func silentProvider() *mock.Provider {
	return mock.New(mock.WithUtterances(mock.SimulatedUtterance{}))
}

// recorder implements Callbacks and keeps the order of everything it saw.
type recorder struct {
	mu      sync.Mutex
	events  []string
	results []Result
	errs    []*Error
}

func (r *recorder) OnResult(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, res)
	r.events = append(r.events, fmt.Sprintf("result:%t:%s", res.IsFinal, res.Text))
}

func (r *recorder) OnSpeechStart() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "speech_start")
}

func (r *recorder) OnSpeechEnd() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "speech_end")
}

func (r *recorder) OnError(err *Error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
	r.events = append(r.events, "error:"+string(err.Code))
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) getResults() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Result(nil), r.results...)
}

func (r *recorder) getErrors() []*Error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Error(nil), r.errs...)
}

func (r *recorder) count(event string) int {
	n := 0
	for _, e := range r.snapshot() {
		if e == event {
			n++
		}
	}
	return n
}

func indexOf(events []string, want string) int {
	for i, e := range events {
		if e == want {
			return i
		}
	}
	return -1
}

func waitDone(t *testing.T, s *Session, d time.Duration) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(d):
		t.Fatalf("session %s did not finish within %s (state %s)", s.ID(), d, s.State())
	}
}

func waitFor(t *testing.T, d time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// writeUntilClosed keeps writing frames every interval until the session
// rejects them.
func writeUntilClosed(s *Session, frame func() []byte, interval time.Duration) {
	for {
		if err := s.WriteAudio(frame()); err != nil {
			return
		}
		time.Sleep(interval)
	}
}

// stuckProvider opens streams that never acknowledge CloseSend.
type stuckProvider struct {
	mu      sync.Mutex
	streams []*stuckStream
}

func (p *stuckProvider) Name() string     { return "stuck" }
func (p *stuckProvider) Endpoint() string { return "stuck://stt" }

func (p *stuckProvider) Open(ctx context.Context, cfg stt.StreamConfig) (stt.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := &stuckStream{events: make(chan stt.Event)}
	p.streams = append(p.streams, s)
	return s, nil
}

type stuckStream struct {
	mu     sync.Mutex
	events chan stt.Event
	closed bool
}

func (s *stuckStream) Send(ctx context.Context, frame []byte) error { return nil }
func (s *stuckStream) CloseSend() error                           { return nil }
func (s *stuckStream) Events() <-chan stt.Event                   { return s.events }

func (s *stuckStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

// closingProvider opens a first stream that is already shutting down: it
// rejects every Send until the test ends it. Later streams accept and
// record frames.
type closingProvider struct {
	mu      sync.Mutex
	streams []*closingStream
}

func (p *closingProvider) Name() string     { return "closing" }
func (p *closingProvider) Endpoint() string { return "closing://stt" }

func (p *closingProvider) Open(ctx context.Context, cfg stt.StreamConfig) (stt.Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := &closingStream{events: make(chan stt.Event), reject: len(p.streams) == 0}
	p.streams = append(p.streams, s)
	return s, nil
}

func (p *closingProvider) stream(i int) *closingStream {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i >= len(p.streams) {
		return nil
	}
	return p.streams[i]
}

type closingStream struct {
	mu       sync.Mutex
	events   chan stt.Event
	reject   bool
	rejected int
	frames   [][]byte
	closed   bool
}

func (s *closingStream) Send(ctx context.Context, frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject {
		s.rejected++
		return stt.ErrStreamClosed
	}
	s.frames = append(s.frames, frame)
	return nil
}

func (s *closingStream) CloseSend() error         { return nil }
func (s *closingStream) Events() <-chan stt.Event { return s.events }
func (s *closingStream) Close() error             { s.end(); return nil }

func (s *closingStream) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
}

func (s *closingStream) attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rejected
}

// tags returns the first byte of every accepted frame.
func (s *closingStream) tags() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]byte, len(s.frames))
	for i, f := range s.frames {
		out[i] = f[0]
	}
	return out
}
