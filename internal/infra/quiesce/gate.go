package quiesce

import (
	"sync"
	"sync/atomic"
)

// Gate hands out scopes from the current tracker generation. Rotate swaps
// in a fresh tracker and closes the previous one, so callers keep entering
// while the old generation drains. Once the gate is closed every later
// generation is born closed.
type Gate struct {
	cur atomic.Pointer[Tracker]
	gen atomic.Uint64

	mu     sync.Mutex // serializes Rotate and Close
	closed bool
}

// NewGate creates a gate with an active tracker.
func NewGate() *Gate {
	g := &Gate{}
	g.cur.Store(NewTracker())
	return g
}

// Enter admits an operation on the current generation. It only fails once
// the gate itself has been closed.
func (g *Gate) Enter() (*Scope, error) {
	for {
		t := g.cur.Load()
		s, err := t.Enter()
		if err == nil {
			return s, nil
		}
		if g.cur.Load() == t {
			return nil, ErrRejectedEntry
		}
	}
}

// Rotate installs a new generation and returns the previous tracker, already
// closed. Wait on it to reach a quiet point for the old generation.
func (g *Gate) Rotate() *Tracker {
	g.mu.Lock()
	next := NewTracker()
	if g.closed {
		next.Close()
	}
	old := g.cur.Swap(next)
	g.gen.Add(1)
	g.mu.Unlock()

	old.Close()
	return old
}

// Generation counts completed rotations.
func (g *Gate) Generation() uint64 {
	return g.gen.Load()
}

// Close stops admission for good and returns a channel closed once the
// current generation has drained.
func (g *Gate) Close() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed = true
	return g.cur.Load().Close()
}

// Closed reports whether Close was called.
func (g *Gate) Closed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}
