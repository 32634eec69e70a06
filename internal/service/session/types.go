package session

import (
	"time"

	"ai-speech-session-service/internal/service/stt"
	"ai-speech-session-service/internal/service/transcript"
)

// Defaults applied to zero-valued Config fields.
const (
	DefaultLanguageCode       = "en-US"
	DefaultSpeechStartTimeout = 10 * time.Second
	DefaultSpeechEndTimeout   = 4 * time.Second
	DefaultFinalizeTimeout    = 5 * time.Second
	DefaultPendingFrames      = 500
	DefaultMaxReconnects      = 3
)

// Config is the immutable configuration of one session.
type Config struct {
	LanguageCode   string
	SampleRateHz   int
	Encoding       stt.Encoding
	InterimResults bool

	// SpeechStartTimeout fails the session if no speech is detected in time.
	SpeechStartTimeout time.Duration
	// SpeechEndTimeout is the continuous silence that ends speech.
	SpeechEndTimeout time.Duration
	// FinalizeTimeout bounds the wait for the provider's last final.
	FinalizeTimeout time.Duration

	// SilenceThreshold and ConfirmWindow tune the energy detector; zero
	// selects the detector's defaults.
	SilenceThreshold float64
	ConfirmWindow    time.Duration

	// PendingFrames bounds the frames queued while the provider stream is
	// (re)opening. The oldest frame is dropped when full.
	PendingFrames int
	// MaxReconnects bounds mid-stream reconnects after transient errors.
	MaxReconnects int
}

// Validate checks the configuration. Zero timeouts are allowed and mean
// "use the default".
func (c Config) Validate() error {
	if c.SampleRateHz <= 0 {
		return invalidConfig("sample rate must be positive, got %d", c.SampleRateHz)
	}
	if !c.Encoding.Valid() {
		return invalidConfig("unsupported encoding %q", c.Encoding)
	}
	if c.SpeechStartTimeout < 0 {
		return invalidConfig("speech start timeout must be positive, got %s", c.SpeechStartTimeout)
	}
	if c.SpeechEndTimeout < 0 {
		return invalidConfig("speech end timeout must be positive, got %s", c.SpeechEndTimeout)
	}
	if c.FinalizeTimeout < 0 {
		return invalidConfig("finalize timeout must be positive, got %s", c.FinalizeTimeout)
	}
	if c.SilenceThreshold < 0 || c.SilenceThreshold > 1 {
		return invalidConfig("silence threshold must be within [0,1], got %v", c.SilenceThreshold)
	}
	if c.PendingFrames < 0 || c.MaxReconnects < 0 {
		return invalidConfig("buffer and reconnect limits must not be negative")
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.LanguageCode == "" {
		c.LanguageCode = DefaultLanguageCode
	}
	if c.SpeechStartTimeout == 0 {
		c.SpeechStartTimeout = DefaultSpeechStartTimeout
	}
	if c.SpeechEndTimeout == 0 {
		c.SpeechEndTimeout = DefaultSpeechEndTimeout
	}
	if c.FinalizeTimeout == 0 {
		c.FinalizeTimeout = DefaultFinalizeTimeout
	}
	if c.PendingFrames == 0 {
		c.PendingFrames = DefaultPendingFrames
	}
	if c.MaxReconnects == 0 {
		c.MaxReconnects = DefaultMaxReconnects
	}
	return c
}

func (c Config) streamConfig() stt.StreamConfig {
	return stt.StreamConfig{
		LanguageCode:   c.LanguageCode,
		SampleRateHz:   c.SampleRateHz,
		Encoding:       c.Encoding,
		InterimResults: c.InterimResults,
	}
}

// Result is a transcription result delivered through OnResult.
type Result = transcript.Result

// Callbacks receives session events. Every method is invoked from the
// session's own goroutine, one at a time, and never after the session is
// terminal. Implementations must not block.
type Callbacks interface {
	OnResult(r Result)
	OnSpeechStart()
	OnSpeechEnd()
	OnError(err *Error)
}

// CallbackFuncs adapts plain functions to Callbacks. Nil fields are skipped.
type CallbackFuncs struct {
	Result      func(Result)
	SpeechStart func()
	SpeechEnd   func()
	Error       func(*Error)
}

func (f CallbackFuncs) OnResult(r Result) {
	if f.Result != nil {
		f.Result(r)
	}
}

func (f CallbackFuncs) OnSpeechStart() {
	if f.SpeechStart != nil {
		f.SpeechStart()
	}
}

func (f CallbackFuncs) OnSpeechEnd() {
	if f.SpeechEnd != nil {
		f.SpeechEnd()
	}
}

func (f CallbackFuncs) OnError(err *Error) {
	if f.Error != nil {
		f.Error(err)
	}
}
