package vad

import (
	"time"
)

// Defaults for Config fields left at zero.
const (
	DefaultSilenceThreshold = 0.02
	DefaultConfirmWindow    = 200 * time.Millisecond
	DefaultSilenceTimeout   = 4 * time.Second
)

// Classification is the verdict for a single frame.
type Classification int

const (
	Silence Classification = iota
	Speech
)

func (c Classification) String() string {
	if c == Speech {
		return "speech"
	}
	return "silence"
}

// Signal is emitted by the monitor at most once per kind.
type Signal int

const (
	SignalNone Signal = iota
	SignalSpeechDetected
	SignalSilenceConfirmed
)

func (s Signal) String() string {
	switch s {
	case SignalSpeechDetected:
		return "speech_detected"
	case SignalSilenceConfirmed:
		return "silence_confirmed"
	default:
		return "none"
	}
}

// Config tunes a Monitor.
type Config struct {
	// SilenceThreshold is the normalized RMS level at or above which a frame
	// counts as voiced.
	SilenceThreshold float64
	// ConfirmWindow is how much continuous voiced audio is needed before
	// onset is declared. Shorter bursts are treated as noise.
	ConfirmWindow time.Duration
	// SilenceTimeout is the continuous silence after onset that confirms the
	// speaker is done.
	SilenceTimeout time.Duration
	SampleRateHz   int
}

func (c Config) withDefaults() Config {
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = DefaultSilenceThreshold
	}
	if c.ConfirmWindow < 0 {
		c.ConfirmWindow = 0
	} else if c.ConfirmWindow == 0 {
		c.ConfirmWindow = DefaultConfirmWindow
	}
	if c.SilenceTimeout <= 0 {
		c.SilenceTimeout = DefaultSilenceTimeout
	}
	return c
}

// Monitor tracks one session's voice activity. It is not safe for
// concurrent use; the owning session serializes calls.
type Monitor struct {
	cfg Config

	voicedRun    time.Duration
	onset        bool
	confirmed    bool
	lastSpeechAt time.Time
	lastEnergy   float64
}

// NewMonitor creates a Monitor.
func NewMonitor(cfg Config) *Monitor {
	return &Monitor{cfg: cfg.withDefaults()}
}

// Config returns the effective configuration.
func (m *Monitor) Config() Config {
	return m.cfg
}

// Process classifies a LINEAR16 frame received at the given time.
func (m *Monitor) Process(frame []byte, at time.Time) (Classification, Signal) {
	m.lastEnergy = RMS(frame)
	if m.lastEnergy < m.cfg.SilenceThreshold {
		m.voicedRun = 0
		return Silence, SignalNone
	}

	if m.onset {
		m.lastSpeechAt = at
		return Speech, SignalNone
	}

	m.voicedRun += FrameDuration(len(frame), m.cfg.SampleRateHz)
	if m.voicedRun < m.cfg.ConfirmWindow {
		return Silence, SignalNone
	}
	m.onset = true
	m.lastSpeechAt = at
	return Speech, SignalSpeechDetected
}

// MarkSpeech records speech evidence from outside the energy detector, such
// as a non-empty transcript.
func (m *Monitor) MarkSpeech(at time.Time) Signal {
	m.lastSpeechAt = at
	if m.onset {
		return SignalNone
	}
	m.onset = true
	return SignalSpeechDetected
}

// CheckSilence reports SignalSilenceConfirmed once SilenceTimeout has passed
// since the last speech after onset.
func (m *Monitor) CheckSilence(now time.Time) Signal {
	if !m.onset || m.confirmed {
		return SignalNone
	}
	if now.Sub(m.lastSpeechAt) < m.cfg.SilenceTimeout {
		return SignalNone
	}
	m.confirmed = true
	return SignalSilenceConfirmed
}

// SilenceRemaining returns how long until CheckSilence may confirm.
func (m *Monitor) SilenceRemaining(now time.Time) time.Duration {
	d := m.cfg.SilenceTimeout - now.Sub(m.lastSpeechAt)
	if d < 0 {
		return 0
	}
	return d
}

// SpeechDetected reports whether onset has been declared.
func (m *Monitor) SpeechDetected() bool { return m.onset }

// SilenceConfirmed reports whether the end of speech has been declared.
func (m *Monitor) SilenceConfirmed() bool { return m.confirmed }

// LastEnergy returns the RMS of the most recent frame.
func (m *Monitor) LastEnergy() float64 { return m.lastEnergy }
