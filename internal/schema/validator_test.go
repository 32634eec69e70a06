package schema

import (
	"errors"
	"testing"

	"ai-speech-session-service/internal/models"
)

func TestValidate(t *testing.T) {
	valid := models.SessionEvent{
		EventType:  models.EventTranscriptFinal,
		SessionID:  "s-1",
		Timestamp:  1700000000000,
		Text:       "hello",
		IsFinal:    true,
		Confidence: 0.9,
		Sequence:   1,
	}

	tests := []struct {
		name    string
		mutate  func(*models.SessionEvent)
		wantErr bool
	}{
		{"valid final", func(e *models.SessionEvent) {}, false},
		{"valid partial", func(e *models.SessionEvent) {
			e.EventType = models.EventTranscriptPartial
			e.IsFinal = false
		}, false},
		{"valid lifecycle", func(e *models.SessionEvent) {
			*e = models.SessionEvent{EventType: models.EventSessionEnded, SessionID: "s-1", Timestamp: 1, State: "ENDED"}
		}, false},
		{"unknown type", func(e *models.SessionEvent) { e.EventType = "interaction.transcript.final" }, true},
		{"missing session", func(e *models.SessionEvent) { e.SessionID = "" }, true},
		{"missing timestamp", func(e *models.SessionEvent) { e.Timestamp = 0 }, true},
		{"confidence above one", func(e *models.SessionEvent) { e.Confidence = 1.2 }, true},
		{"missing sequence", func(e *models.SessionEvent) { e.Sequence = 0 }, true},
		{"final flag mismatch", func(e *models.SessionEvent) { e.IsFinal = false }, true},
		{"error without code", func(e *models.SessionEvent) {
			*e = models.SessionEvent{EventType: models.EventSessionError, SessionID: "s-1", Timestamp: 1}
		}, true},
	}

	v := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := valid
			tt.mutate(&ev)
			err := v.Validate(ev)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidEvent) {
				t.Errorf("expected ErrInvalidEvent, got %v", err)
			}
		})
	}
}
