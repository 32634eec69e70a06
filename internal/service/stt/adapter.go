// Package stt defines the contract between a recognition session and a
// streaming Speech-to-Text provider (Google, Deepgram, mock, ...).
package stt

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Encoding is the audio encoding of the frames sent to a provider.
type Encoding string

const (
	EncodingLinear16 Encoding = "LINEAR16"
	EncodingWebmOpus Encoding = "WEBM_OPUS"
	EncodingMP3      Encoding = "MP3"
)

// Valid reports whether e is a supported encoding.
func (e Encoding) Valid() bool {
	switch e {
	case EncodingLinear16, EncodingWebmOpus, EncodingMP3:
		return true
	}
	return false
}

// IsPCM reports whether frames are raw 16-bit PCM that can be analyzed for
// energy.
func (e Encoding) IsPCM() bool {
	return e == EncodingLinear16
}

// StreamConfig is what a provider needs to open one recognition stream.
type StreamConfig struct {
	LanguageCode   string
	SampleRateHz   int
	Encoding       Encoding
	InterimResults bool
}

// EventKind identifies a provider event.
type EventKind int

const (
	EventInterim EventKind = iota
	EventFinal
	EventError
	// EventClosed is the provider's acknowledgement that the stream is done.
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventInterim:
		return "interim"
	case EventFinal:
		return "final"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// Event is emitted by a Stream. Interims and the final of one utterance
// share a Sequence; the next utterance uses a higher one.
type Event struct {
	Kind       EventKind
	Text       string
	Confidence float64
	Sequence   uint64
	Err        error
	Timestamp  time.Time
}

// Provider opens recognition streams against one endpoint.
type Provider interface {
	// Name identifies the provider in logs and metrics.
	Name() string
	// Endpoint identifies the downstream dependency. Sessions sharing an
	// endpoint share a circuit breaker.
	Endpoint() string
	// Open starts a stream. ctx bounds the stream's whole lifetime.
	Open(ctx context.Context, cfg StreamConfig) (Stream, error)
}

// Stream is one open recognition stream.
type Stream interface {
	// Send forwards one audio frame.
	Send(ctx context.Context, frame []byte) error
	// CloseSend signals that no more audio will be sent; the provider
	// flushes its last final and then emits EventClosed.
	CloseSend() error
	// Events delivers results until the stream ends. The channel is closed
	// after the last event.
	Events() <-chan Event
	// Close aborts the stream and releases its resources. Idempotent.
	Close() error
}

// ErrStreamClosed is returned by Send after CloseSend or Close.
var ErrStreamClosed = errors.New("stt stream closed")

// ProviderError is a classified provider failure.
type ProviderError struct {
	Provider  string
	Op        string
	Err       error
	Transient bool
}

func (e *ProviderError) Error() string {
	kind := "fatal"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s %s: %s error: %v", e.Provider, e.Op, kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure may clear on retry.
func (e *ProviderError) Retryable() bool {
	return e.Transient
}

// Transient wraps err as a retryable provider failure.
func Transient(provider, op string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Op: op, Err: err, Transient: true}
}

// Fatal wraps err as a non-retryable provider failure.
func Fatal(provider, op string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Op: op, Err: err}
}

// IsTransient reports whether err is a transient provider failure.
func IsTransient(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Transient
}

// Sequencer numbers results for one stream.
type Sequencer struct {
	finals uint64
}

// Next returns the sequence number for a result. A final closes the
// current utterance so the next result gets a new number.
func (s *Sequencer) Next(final bool) uint64 {
	seq := s.finals + 1
	if final {
		s.finals++
	}
	return seq
}
