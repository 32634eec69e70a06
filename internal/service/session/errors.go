package session

import (
	"context"
	"errors"
	"fmt"

	"ai-speech-session-service/internal/resilience"
	"ai-speech-session-service/internal/service/stt"
)

// Code classifies session failures for callers.
type Code string

const (
	CodeInvalidConfig     Code = "INVALID_CONFIG"
	CodeNoSpeechTimeout   Code = "NO_SPEECH_TIMEOUT"
	CodeStreamClosed      Code = "STREAM_CLOSED"
	CodeProviderTransient Code = "PROVIDER_TRANSIENT"
	CodeProviderFatal     Code = "PROVIDER_FATAL"
	CodeCircuitOpen       Code = "CIRCUIT_OPEN"
	CodeLimitExceeded     Code = "LIMIT_EXCEEDED"
)

// Error is delivered through OnError and returned by Start and WriteAudio.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrStreamClosed is returned by WriteAudio once the session is terminal.
var ErrStreamClosed = &Error{Code: CodeStreamClosed, Message: "session is closed"}

// CodeOf returns the session code carried by err, or "" if none.
func CodeOf(err error) Code {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

func invalidConfig(format string, args ...any) *Error {
	return &Error{Code: CodeInvalidConfig, Message: fmt.Sprintf(format, args...)}
}

// providerFailure classifies an error that ended the provider stream.
func providerFailure(err error) *Error {
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return &Error{Code: CodeCircuitOpen, Message: "provider circuit is open", Err: err}
	case resilience.IsTerminal(err):
		return &Error{Code: CodeProviderTransient, Message: "provider retries exhausted", Err: err}
	case stt.IsTransient(err), errors.Is(err, resilience.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return &Error{Code: CodeProviderTransient, Message: "provider unavailable", Err: err}
	default:
		return &Error{Code: CodeProviderFatal, Message: "provider failed", Err: err}
	}
}
