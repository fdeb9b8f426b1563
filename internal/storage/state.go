package storage

import (
	"bytes"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// State is an immutable committed checkpoint. Apply returns a new State and
// never modifies the receiver, so readers may keep using an old State while
// a newer one is published.
type State struct {
	info  Info
	items map[string]map[string][]byte
}

// NewState returns an empty state.
func NewState(info Info) *State {
	return &State{info: info, items: make(map[string]map[string][]byte)}
}

// NextInfo returns the Info for the state committed after prev.
func NextInfo(prev *Info, id string, lineage Lineage) Info {
	info := Info{
		ID:          id,
		Sequence:    1,
		Version:     ulid.Make().String(),
		Lineage:     lineage,
		CommittedAt: time.Now().UTC(),
	}
	if prev != nil {
		info.Sequence = prev.Sequence + 1
	}
	return info
}

// Info returns the metadata of the state.
func (s *State) Info() Info { return s.info }

// Put sets an item while building a state that is not yet shared.
func (s *State) Put(category, key string, data []byte) {
	cat, ok := s.items[category]
	if !ok {
		cat = make(map[string][]byte)
		s.items[category] = cat
	}
	if old, ok := cat[key]; ok {
		s.info.Items--
		s.info.Bytes -= int64(len(old))
	}
	cat[key] = data
	s.info.Items++
	s.info.Bytes += int64(len(data))
}

// Get returns one item.
func (s *State) Get(category, key string) ([]byte, bool) {
	v, ok := s.items[category][key]
	return v, ok
}

// Len returns the number of items.
func (s *State) Len() int { return s.info.Items }

// Categories returns the non-empty categories in sorted order.
func (s *State) Categories() []string {
	out := make([]string, 0, len(s.items))
	for c, keys := range s.items {
		if len(keys) > 0 {
			out = append(out, c)
		}
	}
	sort.Strings(out)
	return out
}

// Keys returns the keys of a category in sorted order.
func (s *State) Keys(category string) []string {
	cat := s.items[category]
	out := make([]string, 0, len(cat))
	for k := range cat {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Range calls fn for every item in category/key order.
func (s *State) Range(fn func(category, key string, data []byte) bool) {
	for _, c := range s.Categories() {
		for _, k := range s.Keys(c) {
			if !fn(c, k, s.items[c][k]) {
				return
			}
		}
	}
}

// Apply returns the state produced by committing ch on top of s. A full
// lineage starts from an empty state.
func (s *State) Apply(ch *Changes, info Info, progress ProgressFunc) *State {
	next := NewState(info)
	if ch.Lineage != LineageFull && s != nil {
		for c, keys := range s.items {
			cp := make(map[string][]byte, len(keys))
			for k, v := range keys {
				cp[k] = v
			}
			next.items[c] = cp
		}
	}

	total := ch.Total()
	done := 0
	for _, ref := range ch.SortedDeletes() {
		if cat, ok := next.items[ref.Category]; ok {
			delete(cat, ref.Key)
			if len(cat) == 0 {
				delete(next.items, ref.Category)
			}
		}
		done++
		if progress != nil {
			progress(done, total)
		}
	}
	for _, ref := range ch.SortedPuts() {
		cat, ok := next.items[ref.Category]
		if !ok {
			cat = make(map[string][]byte)
			next.items[ref.Category] = cat
		}
		cat[ref.Key] = ch.Puts[ref]
		done++
		if progress != nil {
			progress(done, total)
		}
	}
	next.recount()
	return next
}

func (s *State) recount() {
	s.info.Items = 0
	s.info.Bytes = 0
	for _, keys := range s.items {
		s.info.Items += len(keys)
		for _, v := range keys {
			s.info.Bytes += int64(len(v))
		}
	}
}

// NewStateReader returns a StateReader over an immutable state. onClose may
// be nil.
func NewStateReader(s *State, onClose func()) StateReader {
	return &stateReader{state: s, onClose: onClose}
}

type stateReader struct {
	state   *State
	onClose func()

	mu     sync.Mutex
	closed bool
}

func (r *stateReader) Info() Info { return r.state.Info() }

func (r *stateReader) Categories() []string { return r.state.Categories() }

func (r *stateReader) Keys(category string) []string { return r.state.Keys(category) }

func (r *stateReader) OpenItem(category, key string) (io.ReadCloser, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return nil, ErrReaderClosed
	}
	v, ok := r.state.Get(category, key)
	if !ok {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(v)), nil
}

func (r *stateReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.onClose != nil {
		r.onClose()
	}
	return nil
}
