package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
)

// ItemRef names one item of a checkpoint.
type ItemRef struct {
	Category string `json:"category"`
	Key      string `json:"key"`
}

func (r ItemRef) String() string {
	return r.Category + "/" + r.Key
}

// Changes is the staged content of a writer.
type Changes struct {
	Lineage Lineage
	Puts    map[ItemRef][]byte
	Deletes map[ItemRef]struct{}
}

func newChanges(l Lineage) *Changes {
	return &Changes{
		Lineage: l,
		Puts:    make(map[ItemRef][]byte),
		Deletes: make(map[ItemRef]struct{}),
	}
}

// Total returns the number of staged operations.
func (c *Changes) Total() int {
	return len(c.Puts) + len(c.Deletes)
}

// SortedPuts returns the put refs in category/key order.
func (c *Changes) SortedPuts() []ItemRef {
	return sortRefs(c.Puts)
}

// SortedDeletes returns the delete refs in category/key order.
func (c *Changes) SortedDeletes() []ItemRef {
	return sortRefs(c.Deletes)
}

func sortRefs[V any](m map[ItemRef]V) []ItemRef {
	refs := make([]ItemRef, 0, len(m))
	for r := range m {
		refs = append(refs, r)
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].Category != refs[j].Category {
			return refs[i].Category < refs[j].Category
		}
		return refs[i].Key < refs[j].Key
	})
	return refs
}

// CommitFunc publishes staged changes for one backend.
type CommitFunc func(ctx context.Context, ch *Changes, progress ProgressFunc) error

// Leases enforces a single open writer per checkpoint id.
type Leases struct {
	mu   sync.Mutex
	open map[string]struct{}
}

// Acquire takes the lease for id.
func (l *Leases) Acquire(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.open == nil {
		l.open = make(map[string]struct{})
	}
	if _, ok := l.open[id]; ok {
		return fmt.Errorf("%w: %s", ErrWriterOpen, id)
	}
	l.open[id] = struct{}{}
	return nil
}

// Release gives the lease for id back.
func (l *Leases) Release(id string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.open, id)
}

// Writer is the StateWriter used by every backend. It stages item values
// in memory and hands them to a CommitFunc.
type Writer struct {
	id      string
	commit  CommitFunc
	release func()

	mu      sync.Mutex
	changes *Changes
	locked  map[ItemRef]struct{}
	done    bool
}

// NewWriter returns a staging writer. release runs once, after Commit or
// Rollback.
func NewWriter(id string, lineage Lineage, commit CommitFunc, release func()) *Writer {
	return &Writer{
		id:      id,
		commit:  commit,
		release: release,
		changes: newChanges(lineage),
		locked:  make(map[ItemRef]struct{}),
	}
}

// Lineage implements StateWriter.
func (w *Writer) Lineage() Lineage {
	return w.changes.Lineage
}

// ItemWriter implements StateWriter.
func (w *Writer) ItemWriter(category, key string) (io.WriteCloser, error) {
	if err := ValidateName(category); err != nil {
		return nil, err
	}
	if err := ValidateName(key); err != nil {
		return nil, err
	}
	ref := ItemRef{Category: category, Key: key}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return nil, ErrWriterDone
	}
	if _, ok := w.locked[ref]; ok {
		return nil, fmt.Errorf("%w: %s", ErrItemLocked, ref)
	}
	w.locked[ref] = struct{}{}
	return &itemWriter{w: w, ref: ref}, nil
}

// DeleteItem implements StateWriter.
func (w *Writer) DeleteItem(category, key string) error {
	if err := ValidateName(category); err != nil {
		return err
	}
	if err := ValidateName(key); err != nil {
		return err
	}
	ref := ItemRef{Category: category, Key: key}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done {
		return ErrWriterDone
	}
	if _, ok := w.locked[ref]; ok {
		return fmt.Errorf("%w: %s", ErrItemLocked, ref)
	}
	delete(w.changes.Puts, ref)
	w.changes.Deletes[ref] = struct{}{}
	return nil
}

// Commit implements StateWriter. A failed commit leaves the committed
// state unchanged and ends the writer.
func (w *Writer) Commit(ctx context.Context, progress ProgressFunc) error {
	w.mu.Lock()
	if w.done {
		w.mu.Unlock()
		return ErrWriterDone
	}
	if len(w.locked) > 0 {
		w.mu.Unlock()
		return ErrItemOpen
	}
	w.done = true
	ch := w.changes
	w.mu.Unlock()
	defer w.release()

	if err := ctx.Err(); err != nil {
		return err
	}
	if progress == nil {
		progress = func(int, int) {}
	}
	return w.commit(ctx, ch, progress)
}

// Rollback implements StateWriter.
func (w *Writer) Rollback() error {
	w.mu.Lock()
	if w.done {
		w.mu.Unlock()
		return ErrWriterDone
	}
	w.done = true
	w.changes = newChanges(w.changes.Lineage)
	w.mu.Unlock()
	w.release()
	return nil
}

func (w *Writer) stage(ref ItemRef, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.locked, ref)
	if w.done {
		return ErrWriterDone
	}
	w.changes.Puts[ref] = data
	delete(w.changes.Deletes, ref)
	return nil
}

type itemWriter struct {
	w      *Writer
	ref    ItemRef
	buf    bytes.Buffer
	closed bool
}

func (iw *itemWriter) Write(p []byte) (int, error) {
	if iw.closed {
		return 0, ErrWriterDone
	}
	return iw.buf.Write(p)
}

func (iw *itemWriter) Close() error {
	if iw.closed {
		return nil
	}
	iw.closed = true
	data := iw.buf.Bytes()
	if data == nil {
		data = []byte{}
	}
	return iw.w.stage(iw.ref, data)
}
