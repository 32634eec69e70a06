package models

// Client message types accepted by the ingress transports.
const (
	MessageStart  = "start"
	MessageAudio  = "audio"
	MessageEnd    = "end"
	MessageCancel = "cancel"
)

// ClientMessage is sent by a client over gRPC or WebSocket. The first
// message of a stream must be a start message.
type ClientMessage struct {
	Type     string          `json:"type"`
	TenantID string          `json:"tenantId,omitempty"`
	Config   *SessionOptions `json:"config,omitempty"`
	Audio    []byte          `json:"audio,omitempty"`
}

// SessionOptions overrides the service's session defaults. Zero values
// keep the default.
type SessionOptions struct {
	LanguageCode         string `json:"languageCode,omitempty"`
	SampleRateHz         int    `json:"sampleRateHz,omitempty"`
	Encoding             string `json:"encoding,omitempty"`
	InterimResults       *bool  `json:"interimResults,omitempty"`
	SpeechStartTimeoutMs int64  `json:"speechStartTimeoutMs,omitempty"`
	SpeechEndTimeoutMs   int64  `json:"speechEndTimeoutMs,omitempty"`
}
