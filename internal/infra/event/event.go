// Package event provides typed callback lists for life cycle notifications.
package event

import "sync"

// List is an ordered set of handlers for events of type T. Handlers run
// synchronously on the emitting goroutine.
type List[T any] struct {
	mu       sync.RWMutex
	next     uint64
	handlers []entry[T]
}

type entry[T any] struct {
	id uint64
	fn func(T)
}

// Subscribe adds fn and returns a function that removes it.
func (l *List[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.next++
	id := l.next
	l.handlers = append(l.handlers, entry[T]{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { l.remove(id) })
	}
}

func (l *List[T]) remove(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, h := range l.handlers {
		if h.id == id {
			l.handlers = append(l.handlers[:i:i], l.handlers[i+1:]...)
			return
		}
	}
}

// Emit calls every handler with v. Handlers added or removed during Emit
// take effect on the next call.
func (l *List[T]) Emit(v T) {
	l.mu.RLock()
	hs := l.handlers
	l.mu.RUnlock()
	for _, h := range hs {
		h.fn(v)
	}
}

// Len returns the number of handlers.
func (l *List[T]) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.handlers)
}
