// Package models defines the data structures for session events.
package models

import "time"

// Event types carried in SessionEvent.EventType.
const (
	EventSessionStarted    = "session.started"
	EventSpeechStart       = "session.speech.start"
	EventSpeechEnd         = "session.speech.end"
	EventTranscriptPartial = "session.transcript.partial"
	EventTranscriptFinal   = "session.transcript.final"
	EventSessionError      = "session.error"
	EventSessionEnded      = "session.ended"
)

// SessionEvent is delivered to clients and, for transcript events, to Kafka.
type SessionEvent struct {
	EventType  string  `json:"eventType"`
	SessionID  string  `json:"sessionId"`
	TenantID   string  `json:"tenantId,omitempty"`
	Timestamp  int64   `json:"timestamp"`
	Text       string  `json:"transcript,omitempty"`
	IsFinal    bool    `json:"isFinal,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Sequence   uint64  `json:"sequenceNumber,omitempty"`
	Code       string  `json:"code,omitempty"`
	Message    string  `json:"message,omitempty"`
	State      string  `json:"state,omitempty"`
}

// IsTranscript reports whether the event carries a transcript result.
func (e SessionEvent) IsTranscript() bool {
	return e.EventType == EventTranscriptPartial || e.EventType == EventTranscriptFinal
}

// TranscriptSegment is one finalized result.
type TranscriptSegment struct {
	Sequence   uint64    `json:"sequenceNumber"`
	Text       string    `json:"transcript"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// TranscriptRecord is the persisted outcome of a session.
type TranscriptRecord struct {
	SessionID    string              `json:"sessionId"`
	TenantID     string              `json:"tenantId"`
	Provider     string              `json:"provider"`
	LanguageCode string              `json:"languageCode"`
	State        string              `json:"state"`
	ErrorCode    string              `json:"errorCode,omitempty"`
	Text         string              `json:"transcript"`
	Segments     []TranscriptSegment `json:"segments"`
	StartedAt    time.Time           `json:"startedAt"`
	EndedAt      time.Time           `json:"endedAt"`
}
