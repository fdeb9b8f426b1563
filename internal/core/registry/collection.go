package registry

import (
	"sync/atomic"

	"github.com/yndnr/rxcheckpoint/pkg/cmap"
)

type slot[V any] struct {
	val     V
	removed bool
}

// EntityCollection is a concurrent keyed collection that remembers removed
// keys until they are cleared.
type EntityCollection[V any] struct {
	m    *cmap.Map[string, slot[V]]
	live atomic.Int64
}

// CollectionSnapshot is a point-in-time view of an EntityCollection. No key
// is both in Entries and in Removed.
type CollectionSnapshot[V any] struct {
	Entries map[string]V
	Removed []string
}

// NewEntityCollection creates an empty collection.
func NewEntityCollection[V any]() *EntityCollection[V] {
	return &EntityCollection[V]{m: cmap.New[string, slot[V]]()}
}

// TryAdd inserts v under key unless a live entry exists.
func (c *EntityCollection[V]) TryAdd(key string, v V) bool {
	added := false
	c.m.Compute(key, func(old slot[V], loaded bool) (slot[V], cmap.ComputeOp) {
		if loaded && !old.removed {
			return old, cmap.Keep
		}
		added = true
		c.live.Add(1)
		return slot[V]{val: v}, cmap.Store
	})
	return added
}

// TryRemove tombstones the live entry under key and returns it.
func (c *EntityCollection[V]) TryRemove(key string) (V, bool) {
	var (
		out     V
		removed bool
	)
	c.m.Compute(key, func(old slot[V], loaded bool) (slot[V], cmap.ComputeOp) {
		if !loaded || old.removed {
			return old, cmap.Keep
		}
		out, removed = old.val, true
		c.live.Add(-1)
		return slot[V]{removed: true}, cmap.Store
	})
	return out, removed
}

// TryGet returns the live entry under key.
func (c *EntityCollection[V]) TryGet(key string) (V, bool) {
	s, ok := c.m.Get(key)
	if !ok || s.removed {
		var zero V
		return zero, false
	}
	return s.val, true
}

// Len returns the number of live entries.
func (c *EntityCollection[V]) Len() int {
	return int(c.live.Load())
}

// Range calls fn for each live entry until it returns false. The view is
// not a single instant; use Clone for that.
func (c *EntityCollection[V]) Range(fn func(key string, v V) bool) {
	c.m.Range(func(k string, s slot[V]) bool {
		if s.removed {
			return true
		}
		return fn(k, s.val)
	})
}

// Values returns the live entries.
func (c *EntityCollection[V]) Values() []V {
	out := make([]V, 0, c.Len())
	c.Range(func(_ string, v V) bool {
		out = append(out, v)
		return true
	})
	return out
}

// Clone returns a point-in-time copy of the live entries and the removed
// keys.
func (c *EntityCollection[V]) Clone() CollectionSnapshot[V] {
	s := CollectionSnapshot[V]{Entries: make(map[string]V, c.Len())}
	c.m.Snapshot(func(k string, sl slot[V]) {
		if sl.removed {
			s.Removed = append(s.Removed, k)
			return
		}
		s.Entries[k] = sl.val
	})
	return s
}

// ClearRemovedKeys forgets the given tombstones. Keys re-added since the
// snapshot that reported them are left alone.
func (c *EntityCollection[V]) ClearRemovedKeys(keys []string) {
	for _, k := range keys {
		c.m.DeleteIf(k, func(s slot[V]) bool { return s.removed })
	}
}

// RemovedCount returns the number of tombstones.
func (c *EntityCollection[V]) RemovedCount() int {
	return c.m.Count() - c.Len()
}
