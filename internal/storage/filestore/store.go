package filestore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/yndnr/rxcheckpoint/internal/storage"
	"github.com/yndnr/rxcheckpoint/internal/storage/snapshot"
	"github.com/yndnr/rxcheckpoint/internal/storage/wal"
	"github.com/yndnr/rxcheckpoint/pkg/cmap"
	"github.com/yndnr/rxcheckpoint/pkg/crypto/adaptive"
)

const (
	snapshotDir = "snapshots"
	walDir      = "wal"

	snapshotKeyInfo = "rx/snapshot"
	walKeyInfo      = "rx/wal"

	// DefaultWALMaxBytes is the log size that triggers folding it into a
	// snapshot.
	DefaultWALMaxBytes int64 = 16 << 20

	// DefaultSnapshotRetention is the number of snapshots kept per id.
	DefaultSnapshotRetention = 2
)

// Config configures a Store.
type Config struct {
	Dir string

	// SyncMode of the write-ahead log. SyncModeBatch trades durability of
	// the last commits for throughput.
	SyncMode wal.SyncMode

	WALMaxBytes       int64
	SnapshotRetention int

	Encryption snapshot.EncryptionConfig
}

// DefaultConfig returns the default configuration for dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:               dir,
		SyncMode:          wal.SyncModeSync,
		WALMaxBytes:       DefaultWALMaxBytes,
		SnapshotRetention: DefaultSnapshotRetention,
	}
}

// Store keeps checkpoints as snapshot files plus a write-ahead log.
type Store struct {
	cfg    Config
	logger *slog.Logger

	snapCipher adaptive.Cipher
	walCipher  adaptive.Cipher

	checkpoints *cmap.Map[string, *checkpoint]
	leases      storage.Leases
	closed      atomic.Bool
}

type checkpoint struct {
	id  string
	dir string

	mu     sync.Mutex
	loaded bool
	state  *storage.State

	snaps *snapshot.Manager
	wal   *wal.Writer

	// needSnapshot is set after a failed log append: the next commit writes
	// a snapshot so a partially written entry can never be replayed.
	needSnapshot bool
}

// New opens the store rooted at cfg.Dir.
func New(cfg Config, logger *slog.Logger) (*Store, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("filestore: dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SyncMode == "" {
		cfg.SyncMode = wal.SyncModeSync
	}
	if cfg.WALMaxBytes == 0 {
		cfg.WALMaxBytes = DefaultWALMaxBytes
	}
	if cfg.SnapshotRetention <= 0 {
		cfg.SnapshotRetention = DefaultSnapshotRetention
	}
	if err := os.MkdirAll(cfg.Dir, 0750); err != nil {
		return nil, fmt.Errorf("filestore: create dir: %w", err)
	}

	s := &Store{
		cfg:         cfg,
		logger:      logger.With("component", "filestore"),
		checkpoints: cmap.New[string, *checkpoint](),
	}
	if cfg.Encryption.Enabled() {
		if err := s.initCiphers(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) initCiphers() error {
	enc := s.cfg.Encryption
	if len(enc.Passphrase) > 0 && enc.Salt == nil {
		salt, err := snapshot.LoadOrCreateSalt(s.cfg.Dir)
		if err != nil {
			return err
		}
		enc.Salt = salt
	}
	master, _, err := snapshot.MasterKey(enc)
	if err != nil {
		return fmt.Errorf("filestore: %w", err)
	}
	defer snapshot.ZeroKey(master)

	s.snapCipher, err = subkeyCipher(master, snapshotKeyInfo, enc.Algorithm)
	if err != nil {
		return err
	}
	s.walCipher, err = subkeyCipher(master, walKeyInfo, enc.Algorithm)
	return err
}

func subkeyCipher(master []byte, info, algorithm string) (adaptive.Cipher, error) {
	key, err := snapshot.DeriveSubkey(master, info, 32)
	if err != nil {
		return nil, fmt.Errorf("filestore: %w", err)
	}
	defer snapshot.ZeroKey(key)
	return snapshot.NewCipher(key, algorithm)
}

func encodeID(id string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(id))
}

// checkpoint returns the handle for id. With create false it returns nil
// when id has never been stored.
func (s *Store) checkpoint(id string, create bool) (*checkpoint, error) {
	if c, ok := s.checkpoints.Get(id); ok {
		return c, nil
	}
	dir := filepath.Join(s.cfg.Dir, encodeID(id))
	if !create {
		if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
	}
	snaps, err := snapshot.NewManager(snapshot.Config{
		Dir:    filepath.Join(dir, snapshotDir),
		Retain: s.cfg.SnapshotRetention,
		Cipher: s.snapCipher,
	})
	if err != nil {
		return nil, err
	}
	c := &checkpoint{
		id:    id,
		dir:   dir,
		snaps: snaps,
	}
	c, _ = s.checkpoints.GetOrSet(id, c)
	return c, nil
}

// loadLocked rebuilds the committed state from the newest snapshot and the
// log entries after it.
func (s *Store) loadLocked(c *checkpoint) error {
	if c.loaded {
		return nil
	}
	st, _, err := c.snaps.Load()
	if err != nil && !errors.Is(err, snapshot.ErrNoSnapshots) {
		return fmt.Errorf("filestore: load snapshot of %q: %w", c.id, err)
	}

	var after uint64
	if st != nil {
		after = st.Info().Sequence
	}
	replayed := 0
	err = wal.Replay(filepath.Join(c.dir, walDir), s.walCipher, after, func(e *wal.Entry) error {
		if e.CheckpointID != c.id {
			return nil
		}
		if st != nil && e.Sequence <= st.Info().Sequence {
			return nil
		}
		st = st.Apply(e.Changes(), e.Info(), nil)
		replayed++
		return nil
	})
	if err != nil {
		return fmt.Errorf("filestore: replay log of %q: %w", c.id, err)
	}
	if replayed > 0 {
		s.logger.Debug("replayed checkpoint log", "id", c.id, "entries", replayed, "sequence", st.Info().Sequence)
	}

	c.state = st
	c.loaded = true
	return nil
}

func (s *Store) current(c *checkpoint) (*storage.State, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := s.loadLocked(c); err != nil {
		return nil, err
	}
	return c.state, nil
}

// StartNew implements storage.Store.
func (s *Store) StartNew(ctx context.Context, id string) (storage.StateWriter, error) {
	return s.open(ctx, id, func(*checkpoint) (storage.Lineage, error) {
		return storage.LineageFull, nil
	})
}

// Update implements storage.Store.
func (s *Store) Update(ctx context.Context, id string) (storage.StateWriter, error) {
	return s.open(ctx, id, func(c *checkpoint) (storage.Lineage, error) {
		st, err := s.current(c)
		if err != nil {
			return "", err
		}
		if st == nil {
			return storage.LineageFull, nil
		}
		return storage.LineageDifferential, nil
	})
}

func (s *Store) open(ctx context.Context, id string, lineage func(*checkpoint) (storage.Lineage, error)) (storage.StateWriter, error) {
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
	c, err := s.checkpoint(id, true)
	if err != nil {
		s.leases.Release(id)
		return nil, err
	}
	l, err := lineage(c)
	if err != nil {
		s.leases.Release(id)
		return nil, err
	}
	commit := func(ctx context.Context, ch *storage.Changes, progress storage.ProgressFunc) error {
		return s.commit(c, ch, progress)
	}
	return storage.NewWriter(id, l, commit, func() { s.leases.Release(id) }), nil
}

func (s *Store) commit(c *checkpoint, ch *storage.Changes, progress storage.ProgressFunc) error {
	if s.closed.Load() {
		return storage.ErrClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := s.loadLocked(c); err != nil {
		return err
	}

	prev := c.state
	var prevInfo *storage.Info
	if prev != nil {
		info := prev.Info()
		prevInfo = &info
	}
	next := prev.Apply(ch, storage.NextInfo(prevInfo, c.id, ch.Lineage), progress)

	if ch.Lineage == storage.LineageFull || c.needSnapshot || prev == nil {
		if err := s.snapshotLocked(c, next); err != nil {
			return err
		}
		c.state = next
		return nil
	}

	w, err := s.walLocked(c)
	if err != nil {
		return err
	}
	if err := w.Commit(wal.NewCommitEntry(next.Info(), ch)); err != nil {
		c.needSnapshot = true
		return fmt.Errorf("filestore: append log of %q: %w", c.id, err)
	}
	c.state = next

	if size, err := wal.Size(filepath.Join(c.dir, walDir)); err == nil && s.cfg.WALMaxBytes > 0 && size > s.cfg.WALMaxBytes {
		// The commit is already durable in the log; folding it is an
		// optimization that the next commit retries.
		if err := s.snapshotLocked(c, next); err != nil {
			s.logger.Warn("fold log into snapshot failed", "id", c.id, "error", err)
		}
	}
	return nil
}

// snapshotLocked makes st durable as a snapshot, then drops the log
// segments and snapshots it supersedes.
func (s *Store) snapshotLocked(c *checkpoint, st *storage.State) error {
	info, err := c.snaps.Create(st)
	if err != nil {
		return fmt.Errorf("filestore: write snapshot of %q: %w", c.id, err)
	}
	c.needSnapshot = false
	s.logger.Debug("snapshot written", "id", c.id, "sequence", info.Sequence, "items", info.ItemCount, "size", info.Size)

	// Log entries at or below the snapshot sequence are skipped on replay,
	// so failures below only leave garbage behind.
	if w, err := s.walLocked(c); err != nil {
		s.logger.Warn("open log failed", "id", c.id, "error", err)
	} else if seg, err := w.Rotate(); err != nil {
		s.logger.Warn("rotate log failed", "id", c.id, "error", err)
	} else if n, err := wal.Prune(filepath.Join(c.dir, walDir), seg); err != nil {
		s.logger.Warn("compact log failed", "id", c.id, "error", err)
	} else if n > 0 {
		s.logger.Debug("log compacted", "id", c.id, "segments", n)
	}
	if _, err := c.snaps.Prune(); err != nil {
		s.logger.Warn("prune snapshots failed", "id", c.id, "error", err)
	}
	return nil
}

func (s *Store) walLocked(c *checkpoint) (*wal.Writer, error) {
	if c.wal != nil {
		return c.wal, nil
	}
	cfg := wal.DefaultConfig(filepath.Join(c.dir, walDir))
	cfg.SyncMode = s.cfg.SyncMode
	cfg.Cipher = s.walCipher
	w, err := wal.NewWriter(cfg)
	if err != nil {
		return nil, err
	}
	c.wal = w
	return w, nil
}

// TryReadCurrent implements storage.Store.
func (s *Store) TryReadCurrent(ctx context.Context, id string) (storage.StateReader, bool, error) {
	if s.closed.Load() {
		return nil, false, storage.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	c, err := s.checkpoint(id, false)
	if err != nil || c == nil {
		return nil, false, err
	}
	st, err := s.current(c)
	if err != nil || st == nil {
		return nil, false, err
	}
	return storage.NewStateReader(st, nil), true, nil
}

// IDs returns the ids that have a directory under the store root.
func (s *Store) IDs() ([]string, error) {
	entries, err := os.ReadDir(s.cfg.Dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		raw, err := base64.RawURLEncoding.DecodeString(e.Name())
		if err != nil {
			continue
		}
		ids = append(ids, string(raw))
	}
	sort.Strings(ids)
	return ids, nil
}

// Snapshots lists the snapshot files kept for id.
func (s *Store) Snapshots(id string) ([]*snapshot.Info, error) {
	c, err := s.checkpoint(id, false)
	if err != nil || c == nil {
		return nil, err
	}
	return c.snaps.List()
}

// Close flushes and closes every open log.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	s.checkpoints.Range(func(_ string, c *checkpoint) bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.wal != nil {
			if err := c.wal.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close log of %q: %w", c.id, err))
			}
			c.wal = nil
		}
		return true
	})
	return errors.Join(errs...)
}

var _ storage.Store = (*Store)(nil)
