package session

import (
	"sync/atomic"
	"time"
)

type timerKind int

const (
	timerSpeechStart timerKind = iota
	timerSilence
	timerFinalize
)

func (k timerKind) String() string {
	switch k {
	case timerSpeechStart:
		return "speech_start"
	case timerSilence:
		return "silence"
	case timerFinalize:
		return "finalize"
	default:
		return "unknown"
	}
}

type timerFired struct {
	kind timerKind
	gen  uint64
}

type timerHandle struct {
	t   *time.Timer
	gen uint64
}

// timerSet owns a session's cancellable timers. Firings are delivered to
// the session loop through fired; a firing whose generation no longer
// matches (stopped or restarted meanwhile) is ignored. Only the session
// loop may call start, stop and accept.
type timerSet struct {
	fired  chan timerFired
	done   <-chan struct{}
	gen    uint64
	active map[timerKind]*timerHandle
	count  atomic.Int32
}

func newTimerSet(done <-chan struct{}) *timerSet {
	return &timerSet{
		fired:  make(chan timerFired, 4),
		done:   done,
		active: make(map[timerKind]*timerHandle),
	}
}

// start arms (or re-arms) the timer of the given kind.
func (ts *timerSet) start(kind timerKind, d time.Duration) {
	ts.stop(kind)
	ts.gen++
	f := timerFired{kind: kind, gen: ts.gen}
	h := &timerHandle{gen: ts.gen}
	h.t = time.AfterFunc(d, func() {
		select {
		case ts.fired <- f:
		case <-ts.done:
		}
	})
	ts.active[kind] = h
	ts.count.Store(int32(len(ts.active)))
}

func (ts *timerSet) stop(kind timerKind) {
	if h, ok := ts.active[kind]; ok {
		h.t.Stop()
		delete(ts.active, kind)
		ts.count.Store(int32(len(ts.active)))
	}
}

func (ts *timerSet) stopAll() {
	for kind := range ts.active {
		ts.stop(kind)
	}
}

// accept reports whether f is the current firing of its timer and, if so,
// retires the timer.
func (ts *timerSet) accept(f timerFired) bool {
	h, ok := ts.active[f.kind]
	if !ok || h.gen != f.gen {
		return false
	}
	delete(ts.active, f.kind)
	ts.count.Store(int32(len(ts.active)))
	return true
}

func (ts *timerSet) running(kind timerKind) bool {
	_, ok := ts.active[kind]
	return ok
}

// len is safe to call from any goroutine.
func (ts *timerSet) len() int {
	return int(ts.count.Load())
}
