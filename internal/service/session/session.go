package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"ai-speech-session-service/internal/resilience"
	"ai-speech-session-service/internal/service/stt"
	"ai-speech-session-service/internal/service/transcript"
	"ai-speech-session-service/internal/vad"
)

const inboxSize = 256

var errUnexpectedClose = errors.New("provider closed the stream before finalizing")

type messageKind int

const (
	msgAudio messageKind = iota
	msgEnd
)

type message struct {
	kind  messageKind
	frame []byte
	at    time.Time
}

type openResult struct {
	stream stt.Stream
	err    error
}

// Session is a handle to one streaming recognition attempt.
//
// All state transitions run on a single goroutine that drains, in order,
// caller messages, provider events, the provider open result and timer
// firings. Callbacks are invoked from that goroutine. Handle methods are
// safe for concurrent use.
type Session struct {
	id        string
	cfg       Config
	cb        Callbacks
	ctrl      *Controller
	ctx       context.Context
	cancel    context.CancelFunc
	createdAt time.Time
	logger    zerolog.Logger

	inbox  chan message
	opened chan openResult
	done   chan struct{}

	state    atomic.Int32
	terminal atomic.Bool
	endOnce  sync.Once

	mu              sync.Mutex
	err             error
	lastAudioAt     time.Time
	speechStartedAt time.Time

	// Owned by the session goroutine.
	monitor       *vad.Monitor
	aggregator    *transcript.Aggregator
	timers        *timerSet
	stream        stt.Stream
	draining      bool // stream rejects sends but has not reported its end yet
	opening       bool
	pending       [][]byte
	seqBase       uint64
	lastSeq       uint64
	reconnects    int
	speechStarted bool
}

func (s *Session) init() {
	s.aggregator = transcript.NewAggregator()
	s.timers = newTimerSet(s.done)
	s.state.Store(int32(StateIdle))
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Config returns the effective configuration.
func (s *Session) Config() Config { return s.cfg }

// CreatedAt returns when the session was started.
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// State returns the current state.
func (s *Session) State() State { return State(s.state.Load()) }

// Done is closed once the session is terminal and its resources are
// released.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err returns the terminal error: the *Error reported through OnError for
// FAILED, context.Canceled for a cancelled session, nil otherwise.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// LastAudioAt returns when the last frame was accepted.
func (s *Session) LastAudioAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastAudioAt
}

// SpeechStartedAt returns when speech onset was detected, or zero.
func (s *Session) SpeechStartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.speechStartedAt
}

// Transcript returns the finalized segments in order.
func (s *Session) Transcript() []Result { return s.aggregator.Finals() }

// Text returns the finalized transcript as one string.
func (s *Session) Text() string { return s.aggregator.Text() }

// ActiveTimers returns how many session timers are armed.
func (s *Session) ActiveTimers() int { return s.timers.len() }

// WriteAudio queues a frame. The session takes ownership of frame. It
// fails with ErrStreamClosed once the session is terminal.
func (s *Session) WriteAudio(frame []byte) error {
	if s.terminal.Load() {
		return ErrStreamClosed
	}
	select {
	case s.inbox <- message{kind: msgAudio, frame: frame, at: time.Now()}:
		return nil
	case <-s.done:
		return ErrStreamClosed
	}
}

// EndStream asks the session to finish gracefully: the provider is told no
// more audio follows and the session ends once the last final arrives.
// Idempotent; a no-op once terminal.
func (s *Session) EndStream() {
	if s.terminal.Load() {
		return
	}
	select {
	case s.inbox <- message{kind: msgEnd, at: time.Now()}:
	case <-s.done:
	}
}

// Cancel aborts the session immediately without further callbacks. Writes
// are rejected from the moment it returns.
func (s *Session) Cancel() {
	s.terminal.Store(true)
	s.cancel()
}

// begin performs IDLE → AWAITING_SPEECH before the loop starts.
func (s *Session) begin() {
	s.transition(StateAwaitingSpeech)
	s.timers.start(timerSpeechStart, s.cfg.SpeechStartTimeout)
	s.openAsync()
}

func (s *Session) run() {
	defer s.cleanup()

	for !s.State().IsTerminal() {
		if s.ctx.Err() != nil {
			s.abort()
			continue
		}

		var events <-chan stt.Event
		if s.stream != nil {
			events = s.stream.Events()
		}

		select {
		case <-s.ctx.Done():
			s.abort()
		case msg := <-s.inbox:
			s.handleMessage(msg)
		case r := <-s.opened:
			s.handleOpen(r)
		case ev, ok := <-events:
			if !ok {
				s.handleStreamEnd()
				continue
			}
			s.handleEvent(ev)
		case f := <-s.timers.fired:
			if s.timers.accept(f) {
				s.handleTimer(f.kind)
			}
		}
	}
}

func (s *Session) handleMessage(msg message) {
	switch msg.kind {
	case msgAudio:
		s.handleAudio(msg.frame, msg.at)
	case msgEnd:
		s.handleEnd()
	}
}

func (s *Session) handleAudio(frame []byte, at time.Time) {
	s.mu.Lock()
	s.lastAudioAt = at
	s.mu.Unlock()
	s.ctrl.metrics.RecordAudioReceived(len(frame))

	if s.State() == StateFinalizing {
		s.ctrl.metrics.RecordFrameDropped("finalizing")
		return
	}

	if s.cfg.Encoding.IsPCM() {
		class, sig := s.monitor.Process(frame, at)
		switch {
		case sig == vad.SignalSpeechDetected:
			s.onSpeechDetected(at)
		case class == vad.Speech && s.State() == StateSpeechActive:
			s.timers.start(timerSilence, s.cfg.SpeechEndTimeout)
		}
	}

	s.forward(frame)
}

func (s *Session) handleEnd() {
	switch s.State() {
	case StateAwaitingSpeech:
		s.beginFinalize(false)
	case StateSpeechActive:
		s.beginFinalize(true)
	}
}

func (s *Session) forward(frame []byte) {
	if s.stream == nil || s.draining {
		s.buffer(frame)
		return
	}
	if err := s.stream.Send(s.ctx, frame); err != nil {
		s.sendFailed(err, frame)
	}
}

// buffer queues a frame for the next stream, dropping the oldest when full.
func (s *Session) buffer(frame []byte) {
	if len(s.pending) >= s.cfg.PendingFrames {
		s.pending = s.pending[1:]
		s.ctrl.metrics.RecordFrameDropped("pending_full")
	}
	s.pending = append(s.pending, frame)
}

func (s *Session) flushPending() {
	pending := s.pending
	s.pending = nil
	for i, frame := range pending {
		if err := s.stream.Send(s.ctx, frame); err != nil {
			for _, rest := range pending[i+1:] {
				s.buffer(rest)
			}
			s.sendFailed(err, frame)
			return
		}
	}
}

// sendFailed keeps the frame for the next stream ahead of anything buffered
// after it. A stream that is already shutting down reports its reason
// through its events, so it only stops taking frames here; other send
// errors end it.
func (s *Session) sendFailed(err error, frame []byte) {
	s.pending = append([][]byte{frame}, s.pending...)
	if n := len(s.pending) - s.cfg.PendingFrames; n > 0 {
		s.pending = s.pending[n:]
		s.ctrl.metrics.RecordFrameDropped("pending_full")
	}
	if errors.Is(err, stt.ErrStreamClosed) {
		s.draining = true
		return
	}
	s.handleStreamError(err)
}

func (s *Session) openAsync() {
	if s.opening {
		return
	}
	s.opening = true
	cfg := s.cfg.streamConfig()
	go func() {
		stream, err := s.ctrl.openStream(s.ctx, cfg)
		select {
		case s.opened <- openResult{stream: stream, err: err}:
		case <-s.ctx.Done():
			if stream != nil {
				_ = stream.Close()
			}
		}
	}()
}

func (s *Session) handleOpen(r openResult) {
	s.opening = false
	if r.err != nil {
		if errors.Is(r.err, context.Canceled) && s.ctx.Err() != nil {
			return
		}
		if errors.Is(r.err, resilience.ErrCircuitOpen) {
			s.ctrl.metrics.RecordBreakerRejection(s.ctrl.provider.Endpoint())
		}
		s.fail(providerFailure(r.err))
		return
	}

	s.stream = r.stream
	s.draining = false
	s.logger.Debug().Int("pending", len(s.pending)).Msg("provider stream open")
	s.flushPending()
	if s.stream != nil && s.State() == StateFinalizing {
		s.closeSend()
	}
}

func (s *Session) handleEvent(ev stt.Event) {
	switch ev.Kind {
	case stt.EventInterim, stt.EventFinal:
		s.handleResult(ev)
	case stt.EventError:
		s.handleStreamError(ev.Err)
	case stt.EventClosed:
		s.handleStreamEnd()
	}
}

func (s *Session) handleResult(ev stt.Event) {
	now := time.Now()
	voiced := strings.TrimSpace(ev.Text) != ""

	switch s.State() {
	case StateAwaitingSpeech:
		if !voiced {
			return
		}
		if s.monitor.MarkSpeech(now) == vad.SignalSpeechDetected {
			s.onSpeechDetected(now)
		}
	case StateSpeechActive:
		if voiced && !s.cfg.Encoding.IsPCM() {
			s.monitor.MarkSpeech(now)
			s.timers.start(timerSilence, s.cfg.SpeechEndTimeout)
		}
	case StateFinalizing:
		if voiced && !s.speechStarted {
			s.speechStarted = true
			s.ctrl.metrics.RecordSpeechEvent("speech_start")
			s.cb.OnSpeechStart()
		}
	}

	r := transcript.Result{
		Text:       ev.Text,
		IsFinal:    ev.Kind == stt.EventFinal,
		Confidence: ev.Confidence,
		Sequence:   ev.Sequence + s.seqBase,
		Timestamp:  ev.Timestamp,
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = now
	}
	if !s.aggregator.Offer(r) {
		s.ctrl.metrics.RecordResultDropped()
		s.logger.Debug().Uint64("sequence", r.Sequence).Msg("dropping stale result")
		return
	}
	if r.Sequence > s.lastSeq {
		s.lastSeq = r.Sequence
	}
	s.ctrl.metrics.RecordResult(r.IsFinal)
	s.cb.OnResult(r)
}

func (s *Session) handleStreamError(err error) {
	kind := "fatal"
	if resilience.IsRetryable(err) {
		kind = "transient"
	}
	s.ctrl.metrics.RecordProviderError(s.ctrl.provider.Name(), kind)
	s.logger.Warn().Err(err).Str("state", s.State().String()).Msg("provider stream error")

	s.dropStream()
	if s.State() == StateFinalizing || kind == "fatal" {
		s.fail(providerFailure(err))
		return
	}
	s.reconnect(err)
}

func (s *Session) handleStreamEnd() {
	if s.stream == nil {
		return
	}
	s.dropStream()
	if s.State() == StateFinalizing {
		s.finish()
		return
	}
	s.reconnect(stt.Transient(s.ctrl.provider.Name(), "recv", errUnexpectedClose))
}

// reconnect reopens the provider stream through the guard. Results from
// the new stream are numbered above everything already surfaced.
func (s *Session) reconnect(cause error) {
	if s.reconnects >= s.cfg.MaxReconnects {
		s.fail(providerFailure(&resilience.TerminalError{Err: cause, Attempts: s.reconnects + 1}))
		return
	}
	s.reconnects++
	s.seqBase = s.lastSeq
	s.ctrl.metrics.RecordReconnect(s.ctrl.provider.Name())
	s.logger.Info().Int("reconnect", s.reconnects).Uint64("sequenceBase", s.seqBase).Msg("reconnecting provider stream")
	s.openAsync()
}

func (s *Session) dropStream() {
	if s.stream != nil {
		_ = s.stream.Close()
		s.stream = nil
	}
	s.draining = false
}

func (s *Session) handleTimer(kind timerKind) {
	switch kind {
	case timerSpeechStart:
		if s.State() == StateAwaitingSpeech {
			s.fail(&Error{Code: CodeNoSpeechTimeout, Message: "no speech detected within " + s.cfg.SpeechStartTimeout.String()})
		}
	case timerSilence:
		if s.State() != StateSpeechActive {
			return
		}
		now := time.Now()
		if s.monitor.CheckSilence(now) == vad.SignalSilenceConfirmed {
			s.beginFinalize(true)
			return
		}
		s.timers.start(timerSilence, s.monitor.SilenceRemaining(now))
	case timerFinalize:
		if s.State() == StateFinalizing {
			s.logger.Warn().Dur("timeout", s.cfg.FinalizeTimeout).Msg("provider did not finalize in time")
			s.finish()
		}
	}
}

// onSpeechDetected performs AWAITING_SPEECH → SPEECH_ACTIVE.
func (s *Session) onSpeechDetected(at time.Time) {
	if s.State() != StateAwaitingSpeech || !s.transition(StateSpeechActive) {
		return
	}
	s.timers.stop(timerSpeechStart)
	s.speechStarted = true
	s.mu.Lock()
	s.speechStartedAt = at
	s.mu.Unlock()
	s.ctrl.metrics.RecordSpeechEvent("speech_start")
	s.cb.OnSpeechStart()
	s.timers.start(timerSilence, s.cfg.SpeechEndTimeout)
}

// beginFinalize enters FINALIZING and half-closes the provider stream.
func (s *Session) beginFinalize(speechEnded bool) {
	if !s.transition(StateFinalizing) {
		return
	}
	s.timers.stop(timerSpeechStart)
	s.timers.stop(timerSilence)
	if speechEnded {
		s.ctrl.metrics.RecordSpeechEvent("speech_end")
		s.cb.OnSpeechEnd()
	}
	s.timers.start(timerFinalize, s.cfg.FinalizeTimeout)
	if s.stream != nil {
		s.closeSend()
	}
}

func (s *Session) closeSend() {
	if err := s.stream.CloseSend(); err != nil {
		s.logger.Debug().Err(err).Msg("provider close send failed")
		s.dropStream()
		s.finish()
	}
}

func (s *Session) fail(e *Error) {
	if !s.transition(StateFailed) {
		return
	}
	s.mu.Lock()
	s.err = e
	s.mu.Unlock()
	s.cb.OnError(e)
	s.logger.Warn().Str("code", string(e.Code)).Err(e.Err).Msg("session failed")
	s.terminate(string(e.Code))
}

func (s *Session) finish() {
	if !s.transition(StateEnded) {
		return
	}
	s.logger.Info().Int("finals", len(s.aggregator.Finals())).Msg("session ended")
	s.terminate("")
}

// abort ends the session on cancellation without callbacks.
func (s *Session) abort() {
	if !s.transition(StateEnded) {
		return
	}
	s.mu.Lock()
	s.err = context.Canceled
	s.mu.Unlock()
	s.logger.Info().Msg("session cancelled")
	s.terminate("cancelled")
}

func (s *Session) transition(to State) bool {
	from := s.State()
	if !CanTransition(from, to) {
		s.logger.Error().Err(&InvalidTransitionError{From: from, To: to}).Msg("rejected session transition")
		return false
	}
	s.state.Store(int32(to))
	if to.IsTerminal() {
		s.terminal.Store(true)
	}
	s.logger.Debug().Str("from", from.String()).Str("to", to.String()).Msg("session state transition")
	return true
}

// terminate releases timers and the provider stream. Runs on the session
// goroutine right after the terminal transition.
func (s *Session) terminate(code string) {
	s.timers.stopAll()
	s.dropStream()
	s.pending = nil
	s.cancel()

	outcome := "ended"
	if s.State() == StateFailed {
		outcome = "failed"
	}
	s.ctrl.metrics.RecordSessionEnd(outcome, code, time.Since(s.createdAt).Seconds())
}

func (s *Session) cleanup() {
	s.endOnce.Do(func() {
		s.ctrl.release(s)
		close(s.done)
	})
}
