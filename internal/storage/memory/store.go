package memory

import (
	"context"
	"sync/atomic"

	"github.com/yndnr/rxcheckpoint/internal/storage"
	"github.com/yndnr/rxcheckpoint/pkg/cmap"
)

// CommitHook runs before a commit is published. A non-nil error fails the
// commit and leaves the committed state unchanged.
type CommitHook func(id string, ch *storage.Changes) error

// Store keeps committed checkpoint states in memory.
type Store struct {
	states *cmap.Map[string, *storage.State]
	leases storage.Leases
	hook   CommitHook
	closed atomic.Bool
}

// Option configures the Store.
type Option func(*Store)

// WithCommitHook installs a hook that runs before every commit.
func WithCommitHook(h CommitHook) Option {
	return func(s *Store) {
		s.hook = h
	}
}

// New creates an empty in-memory store.
func New(opts ...Option) *Store {
	s := &Store{
		states: cmap.New[string, *storage.State](),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartNew implements storage.Store.
func (s *Store) StartNew(ctx context.Context, id string) (storage.StateWriter, error) {
	return s.open(ctx, id, storage.LineageFull)
}

// Update implements storage.Store.
func (s *Store) Update(ctx context.Context, id string) (storage.StateWriter, error) {
	lineage := storage.LineageDifferential
	if !s.states.Has(id) {
		lineage = storage.LineageFull
	}
	return s.open(ctx, id, lineage)
}

func (s *Store) open(ctx context.Context, id string, lineage storage.Lineage) (storage.StateWriter, error) {
	if s.closed.Load() {
		return nil, storage.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := storage.ValidateName(id); err != nil {
		return nil, err
	}
	if err := s.leases.Acquire(id); err != nil {
		return nil, err
	}
	commit := func(ctx context.Context, ch *storage.Changes, progress storage.ProgressFunc) error {
		return s.commit(ctx, id, ch, progress)
	}
	return storage.NewWriter(id, lineage, commit, func() { s.leases.Release(id) }), nil
}

func (s *Store) commit(_ context.Context, id string, ch *storage.Changes, progress storage.ProgressFunc) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	if s.hook != nil {
		if err := s.hook(id, ch); err != nil {
			return err
		}
	}

	// The lease guarantees a single committer per id.
	prev, _ := s.states.Get(id)
	var prevInfo *storage.Info
	if prev != nil {
		info := prev.Info()
		prevInfo = &info
	}
	next := prev.Apply(ch, storage.NextInfo(prevInfo, id, ch.Lineage), progress)
	s.states.Set(id, next)
	return nil
}

// TryReadCurrent implements storage.Store.
func (s *Store) TryReadCurrent(ctx context.Context, id string) (storage.StateReader, bool, error) {
	if s.closed.Load() {
		return nil, false, storage.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	st, ok := s.states.Get(id)
	if !ok {
		return nil, false, nil
	}
	return storage.NewStateReader(st, nil), true, nil
}

// IDs returns the checkpoint ids with a committed state.
func (s *Store) IDs() []string {
	return s.states.Keys()
}

// Close implements storage.Store.
func (s *Store) Close() error {
	s.closed.Store(true)
	return nil
}

var _ storage.Store = (*Store)(nil)
