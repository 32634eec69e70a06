// Package audio bridges a recognition session to a client transport: it
// turns session callbacks into SessionEvents, publishes transcripts,
// enforces segment limits and persists the transcript once the session ends.
package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog"

	"ai-speech-session-service/internal/models"
	"ai-speech-session-service/internal/observability/logging"
	"ai-speech-session-service/internal/observability/metrics"
	"ai-speech-session-service/internal/service/session"
)

const (
	eventBuffer    = 1024
	publishTimeout = 5 * time.Second
	persistTimeout = 5 * time.Second
)

var (
	errNotStarted     = errors.New("handler not started")
	errAlreadyStarted = errors.New("handler already started")
)

// SegmentLimits defines safety guardrails for segment processing.
// These prevent unbounded resource usage and ensure backpressure.
type SegmentLimits struct {
	MaxAudioBytes int64         // Max audio accepted per session
	MaxDuration   time.Duration // Max session duration
	MaxPartials   int           // Max partial transcripts per session
}

// DefaultLimits returns sensible default limits.
func DefaultLimits() SegmentLimits {
	return SegmentLimits{
		MaxAudioBytes: 5 * 1024 * 1024, // 5MB (~160 seconds at 16kHz 16-bit mono)
		MaxDuration:   5 * time.Minute,
		MaxPartials:   500,
	}
}

// Publisher receives transcript events.
type Publisher interface {
	Publish(ctx context.Context, ev models.SessionEvent) error
}

// TranscriptStore persists finished sessions.
type TranscriptStore interface {
	SaveTranscript(ctx context.Context, r models.TranscriptRecord) error
}

// Option configures a Handler.
type Option func(*Handler)

// WithPublisher publishes transcript events through p.
func WithPublisher(p Publisher) Option {
	return func(h *Handler) { h.publisher = p }
}

// WithStore persists the transcript through s once the session ends.
func WithStore(s TranscriptStore) Option {
	return func(h *Handler) { h.store = s }
}

// WithLimits overrides DefaultLimits.
func WithLimits(l SegmentLimits) Option {
	return func(h *Handler) { h.limits = l }
}

// WithTenant tags every event with tenantId.
func WithTenant(tenantId string) Option {
	return func(h *Handler) { h.tenantId = tenantId }
}

// WithTransport names the client transport in logs.
func WithTransport(name string) Option {
	return func(h *Handler) { h.transport = name }
}

// WithMetrics records into m instead of metrics.DefaultMetrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) {
		if m != nil {
			h.metrics = m
		}
	}
}

// Handler drives one session on behalf of a client stream.
// It implements session.Callbacks.
type Handler struct {
	ctrl      *session.Controller
	publisher Publisher
	store     TranscriptStore
	limits    SegmentLimits
	tenantId  string
	transport string
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	queue chan models.SessionEvent
	out   chan models.SessionEvent
	done  chan struct{}

	mu           sync.Mutex
	session      *session.Session
	started      bool
	startTime    time.Time
	audioBytes   int64
	partialCount int
	limitErr     *session.Error
	failure      *models.SessionEvent
	dropped      int
}

// NewHandler creates a handler that starts sessions on ctrl.
func NewHandler(ctrl *session.Controller, opts ...Option) *Handler {
	h := &Handler{
		ctrl:      ctrl,
		limits:    DefaultLimits(),
		transport: "unknown",
		metrics:   metrics.DefaultMetrics,
		queue:     make(chan models.SessionEvent, eventBuffer),
		out:       make(chan models.SessionEvent),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = logging.WithComponent("audio")
	return h
}

// Start starts the session. Events are available from Events until the
// session ends; a failed Start closes Events immediately.
func (h *Handler) Start(ctx context.Context, cfg session.Config) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return errAlreadyStarted
	}
	h.started = true

	// Callbacks wait on h.mu, so none run before the session is recorded.
	s, err := h.ctrl.Start(ctx, cfg, h)
	if err != nil {
		close(h.out)
		close(h.done)
		return err
	}
	h.session = s
	h.startTime = time.Now()
	h.logger = logging.WithStream(s.ID(), h.tenantId, h.transport)

	ev := h.eventLocked(models.EventSessionStarted)
	ev.State = s.State().String()
	h.enqueueLocked(ev)

	go h.dispatch()
	go h.watch(s)
	return nil
}

// Events streams the session's events. Consumers must drain it until it is
// closed.
func (h *Handler) Events() <-chan models.SessionEvent {
	return h.out
}

// Done is closed after the last event was delivered and the transcript
// persisted.
func (h *Handler) Done() <-chan struct{} {
	return h.done
}

// Session returns the running session, or nil before Start.
func (h *Handler) Session() *session.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session
}

// SessionID returns the session identifier, or "" before Start.
func (h *Handler) SessionID() string {
	if s := h.Session(); s != nil {
		return s.ID()
	}
	return ""
}

// WriteAudio forwards a frame to the session.
// Returns a LIMIT_EXCEEDED error if segment limits are exceeded (the session is cancelled).
func (h *Handler) WriteAudio(frame []byte) error {
	h.mu.Lock()
	s := h.session
	if s == nil {
		h.mu.Unlock()
		return errNotStarted
	}
	h.audioBytes += int64(len(frame))
	currentBytes := h.audioBytes
	elapsed := time.Since(h.startTime)
	h.mu.Unlock()

	// Check audio bytes limit
	if h.limits.MaxAudioBytes > 0 && currentBytes > h.limits.MaxAudioBytes {
		return h.exceed("max_audio_bytes", fmt.Sprintf("max audio bytes exceeded: %d > %d", currentBytes, h.limits.MaxAudioBytes))
	}

	// Check duration limit
	if h.limits.MaxDuration > 0 && elapsed > h.limits.MaxDuration {
		return h.exceed("max_duration", fmt.Sprintf("max duration exceeded: %v > %v", elapsed.Round(time.Millisecond), h.limits.MaxDuration))
	}

	return s.WriteAudio(frame)
}

// End asks the session to finish gracefully.
func (h *Handler) End() {
	if s := h.Session(); s != nil {
		s.EndStream()
	}
}

// Cancel aborts the session.
func (h *Handler) Cancel() {
	if s := h.Session(); s != nil {
		s.Cancel()
	}
}

// SegmentMetrics holds current session usage metrics.
type SegmentMetrics struct {
	AudioBytes    int64
	PartialCount  int
	Duration      time.Duration
	DroppedEvents int
}

// GetSegmentMetrics returns current usage metrics for observability.
func (h *Handler) GetSegmentMetrics() SegmentMetrics {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := SegmentMetrics{
		AudioBytes:    h.audioBytes,
		PartialCount:  h.partialCount,
		DroppedEvents: h.dropped,
	}
	if !h.startTime.IsZero() {
		m.Duration = time.Since(h.startTime)
	}
	return m
}

// exceed records the first limit violation and cancels the session. The
// LIMIT_EXCEEDED event is delivered once the session has stopped.
func (h *Handler) exceed(limitType, reason string) error {
	h.mu.Lock()
	if h.limitErr == nil {
		h.limitErr = &session.Error{Code: session.CodeLimitExceeded, Message: reason}
		h.metrics.RecordLimitExceeded(limitType)
		h.logger.Warn().Str("limitType", limitType).Str("reason", reason).Msg("Segment limit exceeded, cancelling session")
	}
	err := h.limitErr
	s := h.session
	h.mu.Unlock()

	s.Cancel()
	return err
}

// --- session.Callbacks implementation ---

// OnResult emits a transcript event. Partials beyond MaxPartials cancel the session.
func (h *Handler) OnResult(r session.Result) {
	h.mu.Lock()
	if !r.IsFinal {
		h.partialCount++
		if h.limits.MaxPartials > 0 && h.partialCount > h.limits.MaxPartials {
			count := h.partialCount
			h.mu.Unlock()
			h.exceed("max_partials", fmt.Sprintf("max partials exceeded: %d > %d", count, h.limits.MaxPartials))
			return
		}
	}
	defer h.mu.Unlock()

	eventType := models.EventTranscriptPartial
	if r.IsFinal {
		eventType = models.EventTranscriptFinal
	}
	ev := h.eventLocked(eventType)
	ev.Text = r.Text
	ev.IsFinal = r.IsFinal
	ev.Confidence = r.Confidence
	ev.Sequence = r.Sequence
	h.enqueueLocked(ev)
}

func (h *Handler) OnSpeechStart() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.enqueueLocked(h.eventLocked(models.EventSpeechStart))
}

func (h *Handler) OnSpeechEnd() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.enqueueLocked(h.eventLocked(models.EventSpeechEnd))
}

// OnError records the session's terminal error for watch to deliver.
// Provider fatal errors are also reported to Sentry.
func (h *Handler) OnError(err *session.Error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ev := h.eventLocked(models.EventSessionError)
	ev.Code = string(err.Code)
	ev.Message = err.Message
	h.failure = &ev

	if err.Code == session.CodeProviderFatal {
		sessionId := h.session.ID()
		provider := h.ctrl.Provider().Name()
		sentry.WithScope(func(scope *sentry.Scope) {
			scope.SetTag("sessionId", sessionId)
			scope.SetTag("sttProvider", provider)
			scope.SetTag("transport", h.transport)
			sentry.CaptureException(err)
		})
	}
}

func (h *Handler) eventLocked(eventType string) models.SessionEvent {
	return models.SessionEvent{
		EventType: eventType,
		SessionID: h.session.ID(),
		TenantID:  h.tenantId,
		Timestamp: time.Now().UnixMilli(),
	}
}

// enqueueLocked never blocks the session goroutine; a client that stops
// reading loses events rather than stalling recognition.
func (h *Handler) enqueueLocked(ev models.SessionEvent) {
	select {
	case h.queue <- ev:
	default:
		h.dropped++
		h.logger.Warn().Str("eventType", ev.EventType).Int("dropped", h.dropped).Msg("Event queue full, dropping event")
	}
}

// watch emits the terminal events once the session is done. No callback
// runs after Done, so nothing else sends on the queue by then. Terminal
// events wait for room instead of being dropped; consumers drain Events
// until it closes.
func (h *Handler) watch(s *session.Session) {
	<-s.Done()

	h.mu.Lock()
	var final []models.SessionEvent
	if h.failure != nil {
		final = append(final, *h.failure)
	}
	code := string(session.CodeOf(s.Err()))
	if h.limitErr != nil {
		ev := h.eventLocked(models.EventSessionError)
		ev.Code = string(h.limitErr.Code)
		ev.Message = h.limitErr.Message
		final = append(final, ev)
		code = string(h.limitErr.Code)
	}
	ev := h.eventLocked(models.EventSessionEnded)
	ev.State = s.State().String()
	ev.Code = code
	ev.Text = s.Text()
	final = append(final, ev)
	h.mu.Unlock()

	for _, ev := range final {
		h.queue <- ev
	}
	close(h.queue)
}

func (h *Handler) dispatch() {
	for ev := range h.queue {
		if h.publisher != nil && ev.IsTranscript() {
			h.publish(ev)
		}
		h.out <- ev
	}
	close(h.out)
	h.persist()
	close(h.done)
}

func (h *Handler) publish(ev models.SessionEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := h.publisher.Publish(ctx, ev); err != nil {
		h.logger.Error().Err(err).Str("eventType", ev.EventType).Uint64("sequence", ev.Sequence).Msg("Failed to publish transcript event")
	}
}

func (h *Handler) persist() {
	if h.store == nil {
		return
	}
	h.mu.Lock()
	s := h.session
	code := string(session.CodeOf(s.Err()))
	if h.limitErr != nil {
		code = string(h.limitErr.Code)
	}
	h.mu.Unlock()

	finals := s.Transcript()
	segments := make([]models.TranscriptSegment, 0, len(finals))
	for _, r := range finals {
		segments = append(segments, models.TranscriptSegment{
			Sequence:   r.Sequence,
			Text:       r.Text,
			Confidence: r.Confidence,
			Timestamp:  r.Timestamp,
		})
	}

	rec := models.TranscriptRecord{
		SessionID:    s.ID(),
		TenantID:     h.tenantId,
		Provider:     h.ctrl.Provider().Name(),
		LanguageCode: s.Config().LanguageCode,
		State:        s.State().String(),
		ErrorCode:    code,
		Text:         s.Text(),
		Segments:     segments,
		StartedAt:    s.CreatedAt(),
		EndedAt:      time.Now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := h.store.SaveTranscript(ctx, rec); err != nil {
		h.logger.Error().Err(err).Msg("Failed to persist transcript")
		sentry.CaptureException(err)
		return
	}
	h.logger.Info().Int("segments", len(segments)).Str("state", rec.State).Msg("Transcript persisted")
}
