// Package transcript merges interim and final recognition results into an
// ordered, append-only transcript.
package transcript

import (
	"strings"
	"sync"
	"time"
)

// Result is one recognition result for a session.
type Result struct {
	Text       string    `json:"transcript"`
	IsFinal    bool      `json:"isFinal"`
	Confidence float64   `json:"confidence"`
	Sequence   uint64    `json:"sequenceNumber"`
	Timestamp  time.Time `json:"timestamp"`
}

// Aggregator accepts results whose sequence number is above the last
// finalized one. Interim results pass through without being retained;
// finals are appended and advance the sequence. Anything else is a
// duplicate or arrived out of order and is dropped.
//
// Safe for concurrent use.
type Aggregator struct {
	mu       sync.RWMutex
	last     uint64
	segments []Result
	dropped  int
}

// NewAggregator creates an empty Aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Offer reports whether r is new and should be surfaced to the caller.
func (a *Aggregator) Offer(r Result) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if r.Sequence <= a.last {
		a.dropped++
		return false
	}
	if r.IsFinal {
		a.segments = append(a.segments, r)
		a.last = r.Sequence
	}
	return true
}

// Last returns the sequence number of the latest accepted final.
func (a *Aggregator) Last() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.last
}

// Finals returns a copy of the accepted finals in insertion order.
func (a *Aggregator) Finals() []Result {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Result, len(a.segments))
	copy(out, a.segments)
	return out
}

// Text joins the finalized segments with single spaces.
func (a *Aggregator) Text() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	parts := make([]string, 0, len(a.segments))
	for _, s := range a.segments {
		if t := strings.TrimSpace(s.Text); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

// Dropped returns how many results were rejected as stale.
func (a *Aggregator) Dropped() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.dropped
}
