package cmap

import (
	"fmt"
	"iter"
	"sync"

	"github.com/spaolacci/murmur3"
)

// DefaultShards is the shard count used by New without WithShards.
const DefaultShards = 32

type options struct {
	shards int
	seed   uint32
}

// Option configures a Map.
type Option func(*options)

// WithShards sets the shard count. Values that are not a positive power of
// two are ignored.
func WithShards(n int) Option {
	return func(o *options) {
		if n > 0 && n&(n-1) == 0 {
			o.shards = n
		}
	}
}

// WithSeed seeds the murmur3 hash used for string keys.
func WithSeed(seed uint32) Option {
	return func(o *options) { o.seed = seed }
}

// Map is a concurrent map split into independently locked shards.
type Map[K comparable, V any] struct {
	buckets []bucket[K, V]
	mask    uint64
	seed    uint32
}

type bucket[K comparable, V any] struct {
	sync.RWMutex
	m map[K]V
}

// New returns an empty map.
func New[K comparable, V any](opts ...Option) *Map[K, V] {
	o := options{shards: DefaultShards}
	for _, opt := range opts {
		opt(&o)
	}
	m := &Map[K, V]{
		buckets: make([]bucket[K, V], o.shards),
		mask:    uint64(o.shards - 1),
		seed:    o.seed,
	}
	for i := range m.buckets {
		m.buckets[i].m = make(map[K]V)
	}
	return m
}

// Shards reports the shard count.
func (m *Map[K, V]) Shards() int { return len(m.buckets) }

func (m *Map[K, V]) bucketFor(key K) *bucket[K, V] {
	var h uint64
	switch k := any(key).(type) {
	case string:
		h = murmur3.Sum64WithSeed([]byte(k), m.seed)
	case int:
		h = fmix64(uint64(k))
	case int64:
		h = fmix64(uint64(k))
	case uint64:
		h = fmix64(k)
	default:
		h = murmur3.Sum64WithSeed(fmt.Append(nil, key), m.seed)
	}
	return &m.buckets[h&m.mask]
}

// fmix64 is the murmur3 finalizer; it spreads sequential integers.
func fmix64(h uint64) uint64 {
	h = (h ^ h>>33) * 0xff51afd7ed558ccd
	h = (h ^ h>>33) * 0xc4ceb9fe1a85ec53
	return h ^ h>>33
}

func (m *Map[K, V]) Get(key K) (V, bool) {
	b := m.bucketFor(key)
	b.RLock()
	v, ok := b.m[key]
	b.RUnlock()
	return v, ok
}

func (m *Map[K, V]) Has(key K) bool {
	_, ok := m.Get(key)
	return ok
}

func (m *Map[K, V]) Set(key K, value V) {
	b := m.bucketFor(key)
	b.Lock()
	b.m[key] = value
	b.Unlock()
}

func (m *Map[K, V]) Delete(key K) {
	b := m.bucketFor(key)
	b.Lock()
	delete(b.m, key)
	b.Unlock()
}

// GetOrSet stores value unless key is present and returns the value now
// held, with loaded reporting whether it was already there.
func (m *Map[K, V]) GetOrSet(key K, value V) (actual V, loaded bool) {
	actual, _ = m.Compute(key, func(old V, ok bool) (V, ComputeOp) {
		loaded = ok
		if ok {
			return old, Keep
		}
		return value, Store
	})
	return actual, loaded
}

// ComputeOp is what Compute does with the slot once the callback returns.
type ComputeOp uint8

const (
	Keep ComputeOp = iota
	Store
	Remove
)

// Compute calls fn with the current value under the shard's write lock and
// applies the returned op. It returns the value held afterwards and whether
// the key is present. fn must not call back into the map.
func (m *Map[K, V]) Compute(key K, fn func(old V, loaded bool) (V, ComputeOp)) (V, bool) {
	b := m.bucketFor(key)
	b.Lock()
	defer b.Unlock()

	old, loaded := b.m[key]
	v, op := fn(old, loaded)
	switch op {
	case Store:
		b.m[key] = v
		return v, true
	case Remove:
		delete(b.m, key)
		var zero V
		return zero, false
	}
	return old, loaded
}

// DeleteIf removes key when pred accepts its current value.
func (m *Map[K, V]) DeleteIf(key K, pred func(V) bool) bool {
	removed := false
	m.Compute(key, func(old V, loaded bool) (V, ComputeOp) {
		if loaded && pred(old) {
			removed = true
			return old, Remove
		}
		return old, Keep
	})
	return removed
}

// Count sums the shard sizes; concurrent writers may make it stale.
func (m *Map[K, V]) Count() int {
	n := 0
	for i := range m.buckets {
		b := &m.buckets[i]
		b.RLock()
		n += len(b.m)
		b.RUnlock()
	}
	return n
}

// All yields every pair, locking one shard at a time. It does not observe a
// single instant; see Snapshot.
func (m *Map[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		for i := range m.buckets {
			b := &m.buckets[i]
			b.RLock()
			for k, v := range b.m {
				if !yield(k, v) {
					b.RUnlock()
					return
				}
			}
			b.RUnlock()
		}
	}
}

// Range calls fn for each pair until it returns false.
func (m *Map[K, V]) Range(fn func(key K, value V) bool) {
	m.All()(fn)
}

func (m *Map[K, V]) Keys() []K {
	out := make([]K, 0, m.Count())
	for k := range m.All() {
		out = append(out, k)
	}
	return out
}

func (m *Map[K, V]) Values() []V {
	out := make([]V, 0, m.Count())
	for _, v := range m.All() {
		out = append(out, v)
	}
	return out
}

// Snapshot read-locks every shard, then calls fn for each pair, so the pairs
// form one point-in-time view. fn must not call back into the map.
func (m *Map[K, V]) Snapshot(fn func(key K, value V)) {
	for i := range m.buckets {
		m.buckets[i].RLock()
	}
	defer func() {
		for i := len(m.buckets) - 1; i >= 0; i-- {
			m.buckets[i].RUnlock()
		}
	}()
	for i := range m.buckets {
		for k, v := range m.buckets[i].m {
			fn(k, v)
		}
	}
}
