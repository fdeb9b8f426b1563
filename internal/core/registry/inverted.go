package registry

import (
	"errors"
	"reflect"
	"sync"
)

var (
	ErrDuplicateKey     = errors.New("registry: key already present")
	ErrDuplicateHandle  = errors.New("registry: handle already owned by another key")
	ErrUnhashableHandle = errors.New("registry: handle is not comparable")
)

// InvertedCollection is an EntityCollection that also indexes entries by a
// handle. Adding and removing change the entry and both directions of the
// index under one lock, so lookups in either direction see the collection
// either before or after the change.
type InvertedCollection[V any, H comparable] struct {
	mu      sync.RWMutex
	entries *EntityCollection[V]
	handles map[string]H
	owners  map[H]string
}

// NewInvertedCollection creates an empty collection.
func NewInvertedCollection[V any, H comparable]() *InvertedCollection[V, H] {
	return &InvertedCollection[V, H]{
		entries: NewEntityCollection[V](),
		handles: make(map[string]H),
		owners:  make(map[H]string),
	}
}

// usable reports whether h is set. A zero h is not indexed; a handle whose
// dynamic value cannot be a map key is rejected.
func usable[H comparable](h H) (bool, error) {
	v := reflect.ValueOf(any(h))
	if !v.IsValid() {
		return false, nil
	}
	if !v.Comparable() {
		return false, ErrUnhashableHandle
	}
	var zero H
	return h != zero, nil
}

// TryAdd inserts v under key, indexed by h unless h is zero. Nothing is
// changed when key is live or h belongs to another key.
func (c *InvertedCollection[V, H]) TryAdd(key string, v V, h H) error {
	indexed, err := usable(h)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if indexed {
		if _, taken := c.owners[h]; taken {
			return ErrDuplicateHandle
		}
	}
	if !c.entries.TryAdd(key, v) {
		return ErrDuplicateKey
	}
	if indexed {
		c.handles[key] = h
		c.owners[h] = key
	}
	return nil
}

// TryRemove tombstones key and drops its handle.
func (c *InvertedCollection[V, H]) TryRemove(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.entries.TryRemove(key)
	if !ok {
		return v, false
	}
	if h, indexed := c.handles[key]; indexed {
		delete(c.handles, key)
		delete(c.owners, h)
	}
	return v, true
}

// TryGet returns the live entry under key.
func (c *InvertedCollection[V, H]) TryGet(key string) (V, bool) {
	return c.entries.TryGet(key)
}

// TryGetKey returns the key owning h.
func (c *InvertedCollection[V, H]) TryGetKey(h H) (string, bool) {
	if indexed, err := usable(h); err != nil || !indexed {
		return "", false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	k, ok := c.owners[h]
	return k, ok
}

// Handles returns the number of indexed handles.
func (c *InvertedCollection[V, H]) Handles() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.owners)
}

func (c *InvertedCollection[V, H]) Len() int { return c.entries.Len() }

func (c *InvertedCollection[V, H]) Range(fn func(key string, v V) bool) { c.entries.Range(fn) }

// Clone returns a point-in-time copy of the live entries and the removed
// keys.
func (c *InvertedCollection[V, H]) Clone() CollectionSnapshot[V] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries.Clone()
}

// ClearRemovedKeys forgets the given tombstones.
func (c *InvertedCollection[V, H]) ClearRemovedKeys(keys []string) {
	c.entries.ClearRemovedKeys(keys)
}
