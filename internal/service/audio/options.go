package audio

import (
	"time"

	"ai-speech-session-service/internal/models"
	"ai-speech-session-service/internal/service/session"
	"ai-speech-session-service/internal/service/stt"
)

// SessionConfig applies a client's overrides to the service defaults.
// Values are not validated here; Controller.Start rejects invalid ones.
func SessionConfig(defaults session.Config, o *models.SessionOptions) session.Config {
	cfg := defaults
	if o == nil {
		return cfg
	}
	if o.LanguageCode != "" {
		cfg.LanguageCode = o.LanguageCode
	}
	if o.SampleRateHz != 0 {
		cfg.SampleRateHz = o.SampleRateHz
	}
	if o.Encoding != "" {
		cfg.Encoding = stt.Encoding(o.Encoding)
	}
	if o.InterimResults != nil {
		cfg.InterimResults = *o.InterimResults
	}
	if o.SpeechStartTimeoutMs != 0 {
		cfg.SpeechStartTimeout = time.Duration(o.SpeechStartTimeoutMs) * time.Millisecond
	}
	if o.SpeechEndTimeoutMs != 0 {
		cfg.SpeechEndTimeout = time.Duration(o.SpeechEndTimeoutMs) * time.Millisecond
	}
	return cfg
}
