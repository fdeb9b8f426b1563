// Package quiesce tracks in-flight operations so that a caller can wait for
// a quiet point.
//
// A Tracker admits operations through Enter until Close is called. Close
// stops admission and returns a channel that is closed once the last
// admitted operation released its Scope. The counter and the disposing flag
// share one atomic word, so no Enter can succeed after any goroutine has
// observed the start of disposal.
//
// Usage:
//
//	scope, err := t.Enter()
//	if err != nil {
//		// tracker is draining; retry on the next generation
//	}
//	defer scope.Release()
package quiesce
