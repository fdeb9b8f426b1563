package quiesce

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrRejectedEntry is returned by Enter once disposal has started.
var ErrRejectedEntry = errors.New("quiesce: tracker is disposing")

const disposingBit = uint64(1) << 63

// State is the tracker life cycle state.
type State int

const (
	StateActive State = iota
	StateDisposing
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateDisposing:
		return "disposing"
	case StateDisposed:
		return "disposed"
	}
	return "unknown"
}

// Tracker counts in-flight operations.
type Tracker struct {
	// word holds the in-flight count in the low bits and disposingBit.
	word atomic.Uint64
	done chan struct{}
	once sync.Once
}

// NewTracker creates an active tracker.
func NewTracker() *Tracker {
	return &Tracker{done: make(chan struct{})}
}

// Scope represents one admitted operation.
type Scope struct {
	t        *Tracker
	released atomic.Bool
}

// Enter admits one operation.
func (t *Tracker) Enter() (*Scope, error) {
	for {
		w := t.word.Load()
		if w&disposingBit != 0 {
			return nil, ErrRejectedEntry
		}
		if t.word.CompareAndSwap(w, w+1) {
			return &Scope{t: t}, nil
		}
	}
}

// Release ends the operation. Calls after the first are no-ops.
func (s *Scope) Release() {
	if s == nil || !s.released.CompareAndSwap(false, true) {
		return
	}
	if s.t.word.Add(^uint64(0)) == disposingBit {
		s.t.finish()
	}
}

// Close stops admission and returns a channel closed when every admitted
// operation has been released. Every call returns the same channel.
func (t *Tracker) Close() <-chan struct{} {
	for {
		w := t.word.Load()
		if w&disposingBit != 0 {
			return t.done
		}
		if t.word.CompareAndSwap(w, w|disposingBit) {
			if w == 0 {
				t.finish()
			}
			return t.done
		}
	}
}

// Wait closes the tracker and blocks until it is drained or ctx is done.
func (t *Tracker) Wait(ctx context.Context) error {
	select {
	case <-t.Close():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Tracker) finish() {
	t.once.Do(func() { close(t.done) })
}

// InFlight returns the number of admitted, unreleased operations.
func (t *Tracker) InFlight() int {
	return int(t.word.Load() &^ disposingBit)
}

// State returns the current life cycle state.
func (t *Tracker) State() State {
	w := t.word.Load()
	switch {
	case w&disposingBit == 0:
		return StateActive
	case w == disposingBit:
		return StateDisposed
	default:
		return StateDisposing
	}
}
