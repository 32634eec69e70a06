package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ai-speech-session-service/internal/resilience"
	"ai-speech-session-service/internal/service/stt"
	"ai-speech-session-service/internal/service/stt/mock"
)

func TestSession_NoSpeechTimeout(t *testing.T) {
	p := silentProvider()
	c := newTestController(p)
	rec := &recorder{}

	cfg := testConfig()
	cfg.SpeechStartTimeout = 80 * time.Millisecond
	s, err := c.Start(context.Background(), cfg, rec)
	if err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	if s.State() != StateAwaitingSpeech {
		t.Errorf("expected AWAITING_SPEECH right after start, got %v", s.State())
	}

	go writeUntilClosed(s, silenceFrame, 10*time.Millisecond)
	waitDone(t, s, 2*time.Second)

	if s.State() != StateFailed {
		t.Errorf("expected FAILED, got %v", s.State())
	}
	errs := rec.getErrors()
	if len(errs) != 1 || errs[0].Code != CodeNoSpeechTimeout {
		t.Fatalf("expected one NO_SPEECH_TIMEOUT, got %v", rec.snapshot())
	}
	if CodeOf(s.Err()) != CodeNoSpeechTimeout {
		t.Errorf("expected Err to carry NO_SPEECH_TIMEOUT, got %v", s.Err())
	}
	if got := rec.snapshot(); len(got) != 1 {
		t.Errorf("expected only the error callback, got %v", got)
	}
	if n := s.ActiveTimers(); n != 0 {
		t.Errorf("expected no running timers, got %d", n)
	}
	if st := p.LastStream(); st != nil {
		waitFor(t, time.Second, "stream teardown", st.Closed)
	}

	if err := s.WriteAudio(speechFrame()); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("expected ErrStreamClosed, got %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if got := rec.snapshot(); len(got) != 1 {
		t.Errorf("write after termination produced callbacks: %v", got)
	}
}

func TestSession_SpeechThenSilence(t *testing.T) {
	p := mock.New()
	c := newTestController(p)
	rec := &recorder{}

	s, err := c.Start(context.Background(), testConfig(), rec)
	if err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := s.WriteAudio(speechFrame()); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	go writeUntilClosed(s, silenceFrame, 10*time.Millisecond)
	waitDone(t, s, 3*time.Second)

	if s.State() != StateEnded {
		t.Fatalf("expected ENDED, got %v (err %v, events %v)", s.State(), s.Err(), rec.snapshot())
	}
	if s.Err() != nil {
		t.Errorf("expected no error, got %v", s.Err())
	}

	events := rec.snapshot()
	if len(events) == 0 || events[0] != "speech_start" {
		t.Fatalf("expected speech_start first, got %v", events)
	}
	if rec.count("speech_start") != 1 || rec.count("speech_end") != 1 {
		t.Errorf("expected exactly one speech_start and speech_end, got %v", events)
	}

	final := "result:true:" + mock.DefaultUtterances[0].Final
	end := indexOf(events, "speech_end")
	if idx := indexOf(events, final); idx < 0 || idx < end {
		t.Errorf("expected final result after speech_end, got %v", events)
	}
	if events[len(events)-1] != final {
		t.Errorf("expected the final result to be the last callback, got %v", events)
	}

	finals := s.Transcript()
	if len(finals) != 1 || finals[0].Text != mock.DefaultUtterances[0].Final {
		t.Errorf("unexpected transcript %+v", finals)
	}
	if s.SpeechStartedAt().IsZero() || s.LastAudioAt().IsZero() {
		t.Error("expected speech and audio timestamps to be recorded")
	}
	if n := s.ActiveTimers(); n != 0 {
		t.Errorf("expected no running timers, got %d", n)
	}
}

func TestSession_SpeechEndTiming(t *testing.T) {
	p := mock.New()
	c := newTestController(p)

	var (
		mu         sync.Mutex
		speechEnd  time.Time
		lastSpeech time.Time
	)
	cb := CallbackFuncs{
		SpeechEnd: func() {
			mu.Lock()
			speechEnd = time.Now()
			mu.Unlock()
		},
	}

	cfg := testConfig()
	cfg.SpeechEndTimeout = 150 * time.Millisecond
	s, err := c.Start(context.Background(), cfg, cb)
	if err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}

	for i := 0; i < 10; i++ {
		_ = s.WriteAudio(speechFrame())
		time.Sleep(10 * time.Millisecond)
	}
	mu.Lock()
	lastSpeech = time.Now()
	mu.Unlock()
	go writeUntilClosed(s, silenceFrame, 10*time.Millisecond)
	waitDone(t, s, 3*time.Second)

	mu.Lock()
	defer mu.Unlock()
	if speechEnd.IsZero() {
		t.Fatal("expected speech end")
	}
	if gap := speechEnd.Sub(lastSpeech); gap < 100*time.Millisecond {
		t.Errorf("speech end fired too early, %s after the last voiced frame", gap)
	}
}

func TestSession_RetryThenSucceed(t *testing.T) {
	transient := stt.Transient("mock", "open", errors.New("unavailable"))
	p := mock.New(mock.WithOpenErrors(transient, transient))

	var (
		mu    sync.Mutex
		slept time.Duration
	)
	c := newTestController(p, WithRetrySleep(func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		slept += d
		mu.Unlock()
		return nil
	}))
	rec := &recorder{}

	s, err := c.Start(context.Background(), testConfig(), rec)
	if err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	waitFor(t, time.Second, "third open", func() bool { return p.LastStream() != nil })

	_ = s.WriteAudio(speechFrame())
	s.EndStream()
	waitDone(t, s, 2*time.Second)

	if s.State() != StateEnded {
		t.Errorf("expected ENDED, got %v (%v)", s.State(), rec.snapshot())
	}
	if p.Opens() != 3 {
		t.Errorf("expected 3 open attempts, got %d", p.Opens())
	}
	mu.Lock()
	defer mu.Unlock()
	if slept != 1500*time.Millisecond {
		t.Errorf("expected 1500ms of backoff, got %v", slept)
	}
	if len(rec.getErrors()) != 0 {
		t.Errorf("expected no errors, got %v", rec.snapshot())
	}
}

func TestSession_CircuitOpenRejectsImmediately(t *testing.T) {
	p := mock.New()
	breakers := resilience.NewRegistry(resilience.BreakerConfig{FailureThreshold: 5, ResetTimeout: time.Minute})
	b := breakers.Get(p.Endpoint())
	for i := 0; i < 5; i++ {
		b.Failure()
	}

	c := newTestController(p, WithBreakers(breakers))
	rec := &recorder{}
	start := time.Now()
	s, err := c.Start(context.Background(), testConfig(), rec)
	if err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	waitDone(t, s, time.Second)

	errs := rec.getErrors()
	if len(errs) != 1 || errs[0].Code != CodeCircuitOpen {
		t.Fatalf("expected one CIRCUIT_OPEN error, got %v", rec.snapshot())
	}
	if !errors.Is(s.Err(), resilience.ErrCircuitOpen) {
		t.Errorf("expected Err to wrap ErrCircuitOpen, got %v", s.Err())
	}
	if p.Opens() != 0 {
		t.Errorf("expected zero provider calls, got %d", p.Opens())
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("expected immediate rejection, took %s", elapsed)
	}
}

func TestSession_ConsecutiveFailuresOpenSharedCircuit(t *testing.T) {
	transient := stt.Transient("mock", "open", errors.New("unavailable"))
	p := mock.New(mock.WithOpenErrors(transient, transient, transient, transient, transient))
	policy := resilience.DefaultRetryPolicy()
	policy.MaxRetries = 0
	c := newTestController(p, WithRetryPolicy(policy))

	for i := 0; i < 5; i++ {
		rec := &recorder{}
		s, err := c.Start(context.Background(), testConfig(), rec)
		if err != nil {
			t.Fatalf("session %d: unexpected start error: %v", i, err)
		}
		waitDone(t, s, time.Second)
		if errs := rec.getErrors(); len(errs) != 1 || errs[0].Code != CodeProviderTransient {
			t.Fatalf("session %d: expected PROVIDER_TRANSIENT, got %v", i, rec.snapshot())
		}
	}
	if c.Breaker().State() != resilience.StateOpen {
		t.Fatalf("expected breaker OPEN, got %v", c.Breaker().State())
	}

	rec := &recorder{}
	s, _ := c.Start(context.Background(), testConfig(), rec)
	waitDone(t, s, time.Second)
	if errs := rec.getErrors(); len(errs) != 1 || errs[0].Code != CodeCircuitOpen {
		t.Errorf("expected CIRCUIT_OPEN, got %v", rec.snapshot())
	}
	if p.Opens() != 5 {
		t.Errorf("expected 5 provider calls, got %d", p.Opens())
	}
}

func TestSession_FatalOpenError(t *testing.T) {
	p := mock.New(mock.WithOpenErrors(stt.Fatal("mock", "open", errors.New("unauthenticated"))))
	c := newTestController(p)
	rec := &recorder{}

	s, _ := c.Start(context.Background(), testConfig(), rec)
	waitDone(t, s, time.Second)

	if errs := rec.getErrors(); len(errs) != 1 || errs[0].Code != CodeProviderFatal {
		t.Fatalf("expected PROVIDER_FATAL, got %v", rec.snapshot())
	}
	if p.Opens() != 1 {
		t.Errorf("fatal errors must not be retried, got %d opens", p.Opens())
	}
}

func TestSession_RetriesExhausted(t *testing.T) {
	transient := stt.Transient("mock", "open", errors.New("unavailable"))
	p := mock.New(mock.WithOpenErrors(transient, transient, transient, transient))
	c := newTestController(p)
	rec := &recorder{}

	s, _ := c.Start(context.Background(), testConfig(), rec)
	waitDone(t, s, time.Second)

	if errs := rec.getErrors(); len(errs) != 1 || errs[0].Code != CodeProviderTransient {
		t.Fatalf("expected PROVIDER_TRANSIENT, got %v", rec.snapshot())
	}
	var te *resilience.TerminalError
	if !errors.As(s.Err(), &te) || te.Attempts != 4 {
		t.Errorf("expected terminal error after 4 attempts, got %v", s.Err())
	}
	if p.Opens() != 4 {
		t.Errorf("expected 4 opens, got %d", p.Opens())
	}
}

func TestSession_ReconnectRebasesSequence(t *testing.T) {
	p := mock.New()
	c := newTestController(p)
	rec := &recorder{}

	cfg := testConfig()
	cfg.SpeechEndTimeout = 5 * time.Second
	s, _ := c.Start(context.Background(), cfg, rec)
	defer s.Cancel()
	waitFor(t, time.Second, "first stream", func() bool { return p.LastStream() != nil })

	first := p.LastStream()
	first.Emit(stt.Event{Kind: stt.EventFinal, Text: "one"})
	waitFor(t, time.Second, "first final", func() bool { return len(rec.getResults()) == 1 })

	first.Fail(stt.Transient("mock", "recv", errors.New("connection reset")))
	waitFor(t, time.Second, "reconnect", func() bool { return p.Opens() == 2 && p.LastStream() != first })

	second := p.LastStream()
	second.Emit(stt.Event{Kind: stt.EventFinal, Text: "two"})
	waitFor(t, time.Second, "second final", func() bool { return len(rec.getResults()) == 2 })

	finals := s.Transcript()
	if len(finals) != 2 || finals[0].Sequence != 1 || finals[1].Sequence != 2 {
		t.Errorf("expected rebased sequences [1 2], got %+v", finals)
	}
	if !first.Closed() {
		t.Error("expected the failed stream to be closed")
	}
	if len(rec.getErrors()) != 0 {
		t.Errorf("transient mid-stream error must not surface, got %v", rec.snapshot())
	}
	if s.State().IsTerminal() {
		t.Errorf("expected session to stay live, got %v", s.State())
	}
}

func TestSession_ReconnectNumbersAboveSurfacedInterim(t *testing.T) {
	p := mock.New()
	c := newTestController(p)
	rec := &recorder{}

	cfg := testConfig()
	cfg.SpeechEndTimeout = 5 * time.Second
	s, _ := c.Start(context.Background(), cfg, rec)
	defer s.Cancel()
	waitFor(t, time.Second, "first stream", func() bool { return p.LastStream() != nil })

	first := p.LastStream()
	first.Emit(stt.Event{Kind: stt.EventFinal, Text: "one"})
	first.Emit(stt.Event{Kind: stt.EventInterim, Text: "tw"})
	waitFor(t, time.Second, "first results", func() bool { return len(rec.getResults()) == 2 })

	first.Fail(stt.Transient("mock", "recv", errors.New("connection reset")))
	waitFor(t, time.Second, "reconnect", func() bool { return p.Opens() == 2 && p.LastStream() != first })

	second := p.LastStream()
	second.Emit(stt.Event{Kind: stt.EventInterim, Text: "two"})
	second.Emit(stt.Event{Kind: stt.EventFinal, Text: "two"})
	waitFor(t, time.Second, "second results", func() bool { return len(rec.getResults()) == 4 })

	results := rec.getResults()
	want := []uint64{1, 2, 3, 3}
	for i, seq := range want {
		if results[i].Sequence != seq {
			t.Errorf("result %d (%q): expected seq %d, got %d", i, results[i].Text, seq, results[i].Sequence)
		}
	}
	if finals := s.Transcript(); len(finals) != 2 || finals[1].Sequence != 3 {
		t.Errorf("expected finals [1 3], got %+v", finals)
	}
}

func TestSession_FramesKeepOrderAcrossClosingStream(t *testing.T) {
	p := &closingProvider{}
	c := newTestController(p)
	rec := &recorder{}

	cfg := testConfig()
	cfg.SpeechStartTimeout = 5 * time.Second
	s, _ := c.Start(context.Background(), cfg, rec)
	defer s.Cancel()
	waitFor(t, time.Second, "first stream", func() bool { return p.stream(0) != nil })

	first := p.stream(0)
	for tag := byte(1); tag <= 4; tag++ {
		frame := silenceFrame()
		frame[0] = tag
		if err := s.WriteAudio(frame); err != nil {
			t.Fatalf("write %d: %v", tag, err)
		}
	}
	// Only the first frame reaches the closing stream; the rest queue up.
	waitFor(t, time.Second, "rejected send", func() bool { return first.attempts() >= 1 })
	time.Sleep(30 * time.Millisecond)
	if n := first.attempts(); n != 1 {
		t.Errorf("expected one send to the closing stream, got %d", n)
	}

	first.end()
	waitFor(t, time.Second, "second stream", func() bool { return p.stream(1) != nil })
	second := p.stream(1)
	waitFor(t, time.Second, "flushed frames", func() bool { return len(second.tags()) == 4 })

	got := second.tags()
	for i, want := range []byte{1, 2, 3, 4} {
		if got[i] != want {
			t.Fatalf("expected frames in order [1 2 3 4], got %v", got)
		}
	}
	if len(rec.getErrors()) != 0 {
		t.Errorf("unexpected errors: %v", rec.snapshot())
	}
}

func TestSession_WriteAfterCancelIsRejected(t *testing.T) {
	p := &stuckProvider{}
	c := newTestController(p)
	rec := &recorder{}

	s, _ := c.Start(context.Background(), testConfig(), rec)
	s.Cancel()

	if err := s.WriteAudio(speechFrame()); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("expected ErrStreamClosed right after Cancel, got %v", err)
	}
	waitDone(t, s, time.Second)
	if s.State() != StateEnded {
		t.Errorf("expected ENDED, got %v", s.State())
	}
}

func TestSession_MidStreamFatalError(t *testing.T) {
	p := mock.New()
	c := newTestController(p)
	rec := &recorder{}

	cfg := testConfig()
	cfg.SpeechEndTimeout = 5 * time.Second
	s, _ := c.Start(context.Background(), cfg, rec)
	waitFor(t, time.Second, "stream", func() bool { return p.LastStream() != nil })

	p.LastStream().Fail(stt.Fatal("mock", "recv", errors.New("permission denied")))
	waitDone(t, s, time.Second)

	if errs := rec.getErrors(); len(errs) != 1 || errs[0].Code != CodeProviderFatal {
		t.Errorf("expected PROVIDER_FATAL, got %v", rec.snapshot())
	}
	if p.Opens() != 1 {
		t.Errorf("expected no reconnect, got %d opens", p.Opens())
	}
}

func TestSession_DropsStaleResults(t *testing.T) {
	p := mock.New()
	c := newTestController(p)
	rec := &recorder{}

	cfg := testConfig()
	cfg.SpeechEndTimeout = 5 * time.Second
	s, _ := c.Start(context.Background(), cfg, rec)
	waitFor(t, time.Second, "stream", func() bool { return p.LastStream() != nil })

	st := p.LastStream()
	for _, seq := range []uint64{1, 2, 2, 4, 3} {
		st.Emit(stt.Event{Kind: stt.EventFinal, Text: "x", Sequence: seq})
	}
	waitFor(t, time.Second, "results", func() bool { return len(rec.getResults()) == 3 })
	time.Sleep(30 * time.Millisecond)
	s.Cancel()
	waitDone(t, s, time.Second)

	results := rec.getResults()
	want := []uint64{1, 2, 4}
	if len(results) != len(want) {
		t.Fatalf("expected %d results, got %d", len(want), len(results))
	}
	for i, seq := range want {
		if results[i].Sequence != seq {
			t.Errorf("result %d: expected seq %d, got %d", i, seq, results[i].Sequence)
		}
	}
}

func TestSession_CancelIsSilent(t *testing.T) {
	p := mock.New()
	c := newTestController(p)
	rec := &recorder{}

	s, _ := c.Start(context.Background(), testConfig(), rec)
	_ = s.WriteAudio(speechFrame())
	waitFor(t, time.Second, "speech start", func() bool { return rec.count("speech_start") == 1 })

	s.Cancel()
	waitDone(t, s, time.Second)
	before := len(rec.snapshot())

	if s.State() != StateEnded {
		t.Errorf("expected ENDED, got %v", s.State())
	}
	if !errors.Is(s.Err(), context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", s.Err())
	}
	if len(rec.getErrors()) != 0 || rec.count("speech_end") != 0 {
		t.Errorf("cancel must not fire callbacks, got %v", rec.snapshot())
	}
	if n := s.ActiveTimers(); n != 0 {
		t.Errorf("expected no running timers, got %d", n)
	}
	if st := p.LastStream(); st != nil {
		waitFor(t, time.Second, "stream abort", st.Closed)
	}

	if err := s.WriteAudio(speechFrame()); !errors.Is(err, ErrStreamClosed) {
		t.Errorf("expected ErrStreamClosed, got %v", err)
	}
	s.EndStream()
	s.Cancel()
	time.Sleep(20 * time.Millisecond)
	if after := len(rec.snapshot()); after != before {
		t.Errorf("callbacks fired after termination: %v", rec.snapshot())
	}
}

func TestSession_ParentContextCancel(t *testing.T) {
	c := newTestController(mock.New())
	ctx, cancel := context.WithCancel(context.Background())
	rec := &recorder{}

	s, _ := c.Start(ctx, testConfig(), rec)
	cancel()
	waitDone(t, s, time.Second)

	if s.State() != StateEnded || !errors.Is(s.Err(), context.Canceled) {
		t.Errorf("expected cancelled ENDED session, got %v / %v", s.State(), s.Err())
	}
	if len(rec.snapshot()) != 0 {
		t.Errorf("expected no callbacks, got %v", rec.snapshot())
	}
}

func TestSession_EndStreamFromAwaitingSpeech(t *testing.T) {
	p := mock.New()
	c := newTestController(p)
	rec := &recorder{}

	s, _ := c.Start(context.Background(), testConfig(), rec)
	waitFor(t, time.Second, "stream", func() bool { return p.LastStream() != nil })

	s.EndStream()
	s.EndStream()
	waitDone(t, s, time.Second)

	if s.State() != StateEnded || s.Err() != nil {
		t.Errorf("expected clean ENDED, got %v / %v", s.State(), s.Err())
	}
	if got := rec.snapshot(); len(got) != 0 {
		t.Errorf("expected no callbacks without speech, got %v", got)
	}
	if !p.LastStream().HalfClosed() {
		t.Error("expected provider stream to be half-closed")
	}
}

func TestSession_EndStreamBeforeOpen(t *testing.T) {
	transient := stt.Transient("mock", "open", errors.New("unavailable"))
	p := mock.New(mock.WithOpenErrors(transient))

	release := make(chan struct{})
	c := newTestController(p, WithRetrySleep(func(ctx context.Context, d time.Duration) error {
		select {
		case <-release:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}))
	rec := &recorder{}

	s, _ := c.Start(context.Background(), testConfig(), rec)
	for i := 0; i < 3; i++ {
		_ = s.WriteAudio(speechFrame())
	}
	s.EndStream()
	waitFor(t, time.Second, "finalizing", func() bool { return s.State() == StateFinalizing })
	close(release)
	waitDone(t, s, 2*time.Second)

	if s.State() != StateEnded {
		t.Fatalf("expected ENDED, got %v (%v)", s.State(), rec.snapshot())
	}
	if st := p.LastStream(); st == nil || st.Frames() != 3 {
		t.Errorf("expected the buffered frames to reach the provider")
	}
	events := rec.snapshot()
	if indexOf(events, "speech_start") != 0 || indexOf(events, "speech_end") != 1 {
		t.Errorf("unexpected callback order %v", events)
	}
	if indexOf(events, "result:true:"+mock.DefaultUtterances[0].Final) < 0 {
		t.Errorf("expected final result, got %v", events)
	}
}

func TestSession_FinalizeTimeout(t *testing.T) {
	p := &stuckProvider{}
	c := newTestController(p)
	rec := &recorder{}

	cfg := testConfig()
	cfg.FinalizeTimeout = 60 * time.Millisecond
	s, _ := c.Start(context.Background(), cfg, rec)
	_ = s.WriteAudio(speechFrame())
	waitFor(t, time.Second, "speech start", func() bool { return rec.count("speech_start") == 1 })

	start := time.Now()
	s.EndStream()
	waitDone(t, s, time.Second)

	if s.State() != StateEnded {
		t.Errorf("expected ENDED after finalize timeout, got %v", s.State())
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("ended before the finalize timeout: %s", elapsed)
	}
	if rec.count("speech_end") != 1 {
		t.Errorf("expected speech_end, got %v", rec.snapshot())
	}
}

func TestSession_CompressedAudioUsesTranscriptEvidence(t *testing.T) {
	p := mock.New()
	c := newTestController(p)
	rec := &recorder{}

	cfg := testConfig()
	cfg.Encoding = stt.EncodingWebmOpus
	cfg.SampleRateHz = 48000
	s, _ := c.Start(context.Background(), cfg, rec)

	for i := 0; i < 3; i++ {
		_ = s.WriteAudio([]byte("opus-frame"))
		time.Sleep(5 * time.Millisecond)
	}
	waitDone(t, s, 2*time.Second)

	events := rec.snapshot()
	if len(events) == 0 || events[0] != "speech_start" {
		t.Fatalf("expected speech_start first, got %v", events)
	}
	if rec.count("speech_end") != 1 {
		t.Errorf("expected speech_end from transcript silence, got %v", events)
	}
	if s.State() != StateEnded {
		t.Errorf("expected ENDED, got %v", s.State())
	}
}

func TestSession_FramesDuringFinalizingAreDiscarded(t *testing.T) {
	p := &stuckProvider{}
	c := newTestController(p)
	rec := &recorder{}

	s, _ := c.Start(context.Background(), testConfig(), rec)
	defer s.Cancel()
	s.EndStream()
	waitFor(t, time.Second, "finalizing", func() bool { return s.State() == StateFinalizing })

	if err := s.WriteAudio(speechFrame()); err != nil {
		t.Errorf("writes during finalizing should be accepted, got %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if rec.count("speech_start") != 0 {
		t.Errorf("audio after finalizing must not start speech, got %v", rec.snapshot())
	}
}
