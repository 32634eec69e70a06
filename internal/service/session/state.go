package session

import (
	"fmt"
)

// State is the lifecycle state of a session.
type State int32

const (
	// StateIdle - created, not started.
	StateIdle State = iota
	// StateAwaitingSpeech - provider opening or open, no speech detected yet.
	StateAwaitingSpeech
	// StateSpeechActive - speaker is talking; the silence timer runs.
	StateSpeechActive
	// StateFinalizing - audio is over, waiting for the provider's last final.
	StateFinalizing
	// StateEnded - completed normally or cancelled.
	StateEnded
	// StateFailed - terminated by an error, reported once through OnError.
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAwaitingSpeech:
		return "AWAITING_SPEECH"
	case StateSpeechActive:
		return "SPEECH_ACTIVE"
	case StateFinalizing:
		return "FINALIZING"
	case StateEnded:
		return "ENDED"
	case StateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", s)
	}
}

// IsTerminal returns true if the state is terminal (ENDED or FAILED).
func (s State) IsTerminal() bool {
	return s == StateEnded || s == StateFailed
}

// State transitions:
//
//	IDLE → AWAITING_SPEECH → SPEECH_ACTIVE → FINALIZING → ENDED
//	            │      │           │              │
//	            │      └── endStream ──→ FINALIZING
//	            │                  │              │
//	            └──────────────────┴──────────────┴──→ FAILED (error) / ENDED (cancel)
var transitions = map[State][]State{
	StateIdle:           {StateAwaitingSpeech, StateFailed},
	StateAwaitingSpeech: {StateSpeechActive, StateFinalizing, StateEnded, StateFailed},
	StateSpeechActive:   {StateFinalizing, StateEnded, StateFailed},
	StateFinalizing:     {StateEnded, StateFailed},
}

// CanTransition reports whether from → to is allowed.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError reports a transition outside the table.
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid session transition %s -> %s", e.From, e.To)
}
