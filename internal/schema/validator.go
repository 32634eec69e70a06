// Package schema validates session events before they leave the service.
package schema

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"ai-speech-session-service/internal/models"
)

// ErrInvalidEvent is wrapped by every validation failure.
var ErrInvalidEvent = errors.New("invalid session event")

var knownTypes = map[string]bool{
	models.EventSessionStarted:    true,
	models.EventSpeechStart:       true,
	models.EventSpeechEnd:         true,
	models.EventTranscriptPartial: true,
	models.EventTranscriptFinal:   true,
	models.EventSessionError:      true,
	models.EventSessionEnded:      true,
}

type Validator struct{}

func New() *Validator {
	return &Validator{}
}

// Validate checks the fields every consumer relies on.
func (v *Validator) Validate(ev models.SessionEvent) error {
	if err := validate(ev); err != nil {
		log.Debug().Err(err).Str("eventType", ev.EventType).Str("sessionId", ev.SessionID).Msg("schema validation failed")
		return err
	}
	return nil
}

func validate(ev models.SessionEvent) error {
	if !knownTypes[ev.EventType] {
		return fmt.Errorf("%w: unknown eventType %q", ErrInvalidEvent, ev.EventType)
	}
	if ev.SessionID == "" {
		return fmt.Errorf("%w: sessionId is required", ErrInvalidEvent)
	}
	if ev.Timestamp <= 0 {
		return fmt.Errorf("%w: timestamp is required", ErrInvalidEvent)
	}
	if ev.Confidence < 0 || ev.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrInvalidEvent, ev.Confidence)
	}
	if ev.IsTranscript() {
		if ev.Sequence == 0 {
			return fmt.Errorf("%w: transcript events need a sequenceNumber", ErrInvalidEvent)
		}
		if ev.IsFinal != (ev.EventType == models.EventTranscriptFinal) {
			return fmt.Errorf("%w: isFinal does not match %s", ErrInvalidEvent, ev.EventType)
		}
	}
	if ev.EventType == models.EventSessionError && ev.Code == "" {
		return fmt.Errorf("%w: error events need a code", ErrInvalidEvent)
	}
	return nil
}
