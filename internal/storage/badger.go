package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/prometheus/client_golang/prometheus"
)

// Key layout:
//
//	c\x00<id>\x00m                       checkpoint Info (JSON)
//	c\x00<id>\x00i\x00<category>\x00<key> item value
//
// Names never contain NUL, see ValidateName.
const (
	keyMeta  = "m"
	keyItems = "i\x00"
)

func checkpointPrefix(id string) []byte {
	return []byte("c\x00" + id + "\x00")
}

func metaKey(id string) []byte {
	return append(checkpointPrefix(id), keyMeta...)
}

func itemsPrefix(id string) []byte {
	return append(checkpointPrefix(id), keyItems...)
}

func itemKey(id string, ref ItemRef) []byte {
	k := itemsPrefix(id)
	k = append(k, ref.Category...)
	k = append(k, 0)
	return append(k, ref.Key...)
}

// BadgerStore is a durable Store backed by Badger v3. Each commit is a
// single Badger transaction.
type BadgerStore struct {
	db     *badger.DB
	cfg    BadgerConfig
	logger *slog.Logger
	leases Leases
	closed atomic.Bool

	lastGCTime atomic.Int64 // Unix milliseconds
	gcRuns     atomic.Uint64

	// Set by RegisterMetrics.
	gcRewrites *prometheus.CounterVec
	commits    *prometheus.CounterVec

	quit   chan struct{}
	gcDone chan struct{}
}

// NewBadgerStore opens a Badger checkpoint store.
func NewBadgerStore(cfg BadgerConfig, logger *slog.Logger) (*BadgerStore, error) {
	if cfg.Dir == "" && !cfg.InMemory {
		return nil, fmt.Errorf("badger: dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(cfg.Dir)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = badgerLogger{logger.With("component", "badger")}
	if cfg.CacheSize > 0 {
		opts.BlockCacheSize = cfg.CacheSize
	}
	if cfg.ValueLogFileSize > 0 {
		opts.ValueLogFileSize = cfg.ValueLogFileSize
	}
	if cfg.NumMemtables > 0 {
		opts.NumMemtables = cfg.NumMemtables
	}
	if cfg.NumLevelZeroTables > 0 {
		opts.NumLevelZeroTables = cfg.NumLevelZeroTables
	}
	if cfg.NumLevelZeroTablesStall > 0 {
		opts.NumLevelZeroTablesStall = cfg.NumLevelZeroTablesStall
	}
	opts.SyncWrites = cfg.SyncWrites && !cfg.InMemory

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger: open db: %w", err)
	}

	s := &BadgerStore{
		db:     db,
		cfg:    cfg,
		logger: logger,
		quit:   make(chan struct{}),
		gcDone: make(chan struct{}),
	}
	go s.gcLoop()

	logger.Info("badger checkpoint store opened",
		"dir", cfg.Dir,
		"in_memory", cfg.InMemory,
		"gc_interval", cfg.GCInterval)

	return s, nil
}

// StartNew implements Store.
func (s *BadgerStore) StartNew(ctx context.Context, id string) (StateWriter, error) {
	return s.open(ctx, id, LineageFull)
}

// Update implements Store.
func (s *BadgerStore) Update(ctx context.Context, id string) (StateWriter, error) {
	if err := ValidateName(id); err != nil {
		return nil, err
	}
	lineage := LineageFull
	if _, err := s.info(id); err == nil {
		lineage = LineageDifferential
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return s.open(ctx, id, lineage)
}

func (s *BadgerStore) open(ctx context.Context, id string, lineage Lineage) (StateWriter, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateName(id); err != nil {
		return nil, err
	}
	if err := s.leases.Acquire(id); err != nil {
		return nil, err
	}
	commit := func(ctx context.Context, ch *Changes, progress ProgressFunc) error {
		return s.commit(ctx, id, ch, progress)
	}
	return NewWriter(id, lineage, commit, func() { s.leases.Release(id) }), nil
}

func (s *BadgerStore) commit(ctx context.Context, id string, ch *Changes, progress ProgressFunc) error {
	if s.closed.Load() {
		return ErrClosed
	}
	start := time.Now()

	err := s.db.Update(func(txn *badger.Txn) error {
		var prev *Info
		if v, err := getValue(txn, metaKey(id)); err == nil {
			var info Info
			if err := json.Unmarshal(v, &info); err != nil {
				return fmt.Errorf("badger: decode info: %w", err)
			}
			prev = &info
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}

		info := NextInfo(prev, id, ch.Lineage)
		if ch.Lineage == LineageFull {
			if err := deletePrefix(txn, itemsPrefix(id)); err != nil {
				return err
			}
		} else if prev != nil {
			info.Items = prev.Items
			info.Bytes = prev.Bytes
		}

		total := ch.Total()
		done := 0
		for _, ref := range ch.SortedDeletes() {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := itemKey(id, ref)
			if old, err := txn.Get(key); err == nil {
				info.Items--
				info.Bytes -= old.ValueSize()
				if err := txn.Delete(key); err != nil {
					return err
				}
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			done++
			progress(done, total)
		}
		for _, ref := range ch.SortedPuts() {
			if err := ctx.Err(); err != nil {
				return err
			}
			key := itemKey(id, ref)
			if ch.Lineage != LineageFull {
				if old, err := txn.Get(key); err == nil {
					info.Items--
					info.Bytes -= old.ValueSize()
				} else if !errors.Is(err, badger.ErrKeyNotFound) {
					return err
				}
			}
			v := ch.Puts[ref]
			if err := txn.Set(key, v); err != nil {
				return err
			}
			info.Items++
			info.Bytes += int64(len(v))
			done++
			progress(done, total)
		}

		meta, err := json.Marshal(info)
		if err != nil {
			return fmt.Errorf("badger: encode info: %w", err)
		}
		return txn.Set(metaKey(id), meta)
	})

	result := "ok"
	if err != nil {
		result = "error"
	}
	if s.commits != nil {
		s.commits.WithLabelValues(string(ch.Lineage), result).Inc()
	}
	if err != nil {
		return fmt.Errorf("badger: commit %s: %w", id, err)
	}

	s.logger.Debug("checkpoint committed",
		"id", id,
		"lineage", ch.Lineage,
		"changes", ch.Total(),
		"elapsed", time.Since(start))
	return nil
}

func getValue(txn *badger.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return item.ValueCopy(nil)
}

func deletePrefix(txn *badger.Txn, prefix []byte) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	var keys [][]byte
	for it.Rewind(); it.Valid(); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	it.Close()

	for _, k := range keys {
		if err := txn.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (s *BadgerStore) info(id string) (Info, error) {
	var info Info
	err := s.db.View(func(txn *badger.Txn) error {
		v, err := getValue(txn, metaKey(id))
		if err != nil {
			return err
		}
		return json.Unmarshal(v, &info)
	})
	return info, err
}

// TryReadCurrent implements Store. The reader holds a Badger read
// transaction and sees the state as of the time it was opened.
func (s *BadgerStore) TryReadCurrent(ctx context.Context, id string) (StateReader, bool, error) {
	if s.closed.Load() {
		return nil, false, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	if err := ValidateName(id); err != nil {
		return nil, false, err
	}

	txn := s.db.NewTransaction(false)
	v, err := getValue(txn, metaKey(id))
	if err != nil {
		txn.Discard()
		if errors.Is(err, ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	var info Info
	if err := json.Unmarshal(v, &info); err != nil {
		txn.Discard()
		return nil, false, fmt.Errorf("badger: decode info: %w", err)
	}
	return &badgerReader{txn: txn, id: id, info: info}, true, nil
}

// IDs returns the ids of all committed checkpoints.
func (s *BadgerStore) IDs() ([]string, error) {
	var ids []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte("c\x00")
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			k := it.Item().Key()
			rest := k[2:]
			i := bytes.IndexByte(rest, 0)
			if i < 0 || string(rest[i+1:]) != keyMeta {
				continue
			}
			ids = append(ids, string(rest[:i]))
		}
		return nil
	})
	return ids, err
}

type badgerReader struct {
	mu     sync.Mutex
	txn    *badger.Txn
	id     string
	info   Info
	closed bool
}

func (r *badgerReader) Info() Info { return r.info }

func (r *badgerReader) scan(prefix []byte, fn func(rest []byte)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	opts.PrefetchValues = false
	it := r.txn.NewIterator(opts)
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		fn(it.Item().Key()[len(prefix):])
	}
}

func (r *badgerReader) Categories() []string {
	var out []string
	r.scan(itemsPrefix(r.id), func(rest []byte) {
		i := bytes.IndexByte(rest, 0)
		if i < 0 {
			return
		}
		c := string(rest[:i])
		if len(out) == 0 || out[len(out)-1] != c {
			out = append(out, c)
		}
	})
	return out
}

func (r *badgerReader) Keys(category string) []string {
	var out []string
	prefix := append(itemsPrefix(r.id), category...)
	prefix = append(prefix, 0)
	r.scan(prefix, func(rest []byte) {
		out = append(out, string(rest))
	})
	sort.Strings(out)
	return out
}

func (r *badgerReader) OpenItem(category, key string) (io.ReadCloser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrReaderClosed
	}
	v, err := getValue(r.txn, itemKey(r.id, ItemRef{Category: category, Key: key}))
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(v)), nil
}

func (r *badgerReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	r.txn.Discard()
	return nil
}

// GC runs value log garbage collection until Badger has nothing left to
// rewrite and returns the number of rewritten value log files.
func (s *BadgerStore) GC(ctx context.Context) (uint64, error) {
	if s.cfg.InMemory {
		return 0, nil
	}
	startTime := time.Now()
	threshold := s.cfg.GCThreshold
	if threshold <= 0 || threshold >= 1 {
		threshold = 0.5
	}

	var runs uint64
	for ctx.Err() == nil {
		err := s.db.RunValueLogGC(threshold)
		if err != nil {
			if errors.Is(err, badger.ErrNoRewrite) {
				break
			}
			return runs, fmt.Errorf("gc: %w", err)
		}
		runs++
	}

	s.lastGCTime.Store(time.Now().UnixMilli())
	s.gcRuns.Add(runs)
	if s.gcRewrites != nil {
		s.gcRewrites.WithLabelValues().Add(float64(runs))
	}

	s.logger.Info("gc completed",
		"rewritten_files", runs,
		"elapsed", time.Since(startTime))

	return runs, nil
}

// Stats returns storage statistics.
func (s *BadgerStore) Stats() BadgerStats {
	lsm, vlog := s.db.Size()
	return BadgerStats{
		LSMSize:      uint64(lsm),
		ValueLogSize: uint64(vlog),
		TotalSize:    uint64(lsm + vlog),
		LastGCTime:   s.lastGCTime.Load(),
		GCRuns:       s.gcRuns.Load(),
	}
}

// Close implements Store.
func (s *BadgerStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.logger.Info("closing badger checkpoint store")

	close(s.quit)
	<-s.gcDone

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close db: %w", err)
	}
	return nil
}

// RegisterMetrics exposes the store's size, GC and commit metrics through
// reg. Sizes are read from Badger at scrape time. It returns s.
func (s *BadgerStore) RegisterMetrics(reg prometheus.Registerer) *BadgerStore {
	opts := func(name, help string) prometheus.Opts {
		return prometheus.Opts{Namespace: "rxcheckpoint", Subsystem: "badger", Name: name, Help: help}
	}
	gauge := func(name, help string, fn func(BadgerStats) float64) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts(opts(name, help)), func() float64 {
			return fn(s.Stats())
		})
	}

	s.gcRewrites = prometheus.NewCounterVec(prometheus.CounterOpts(opts("gc_rewritten_files_total",
		"Value log files rewritten by garbage collection.")), nil)
	s.commits = prometheus.NewCounterVec(prometheus.CounterOpts(opts("commits_total",
		"Checkpoint commits by lineage and result.")), []string{"lineage", "result"})

	reg.MustRegister(
		gauge("lsm_size_bytes", "Size of the LSM tree.", func(st BadgerStats) float64 { return float64(st.LSMSize) }),
		gauge("value_log_size_bytes", "Size of the value log.", func(st BadgerStats) float64 { return float64(st.ValueLogSize) }),
		gauge("last_gc_timestamp_seconds", "When value log GC last finished, zero before the first run.",
			func(st BadgerStats) float64 { return float64(st.LastGCTime) / 1e3 }),
		s.gcRewrites,
		s.commits,
	)
	return s
}

// gcLoop runs GC every GCInterval, 10m when unset or invalid.
func (s *BadgerStore) gcLoop() {
	defer close(s.gcDone)

	every := 10 * time.Minute
	if d, err := time.ParseDuration(s.cfg.GCInterval); err == nil && d > 0 {
		every = d
	} else if s.cfg.GCInterval != "" {
		s.logger.Warn("invalid gc_interval ignored", "value", s.cfg.GCInterval)
	}

	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-s.quit:
			return
		case <-t.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), every/2)
		if _, err := s.GC(ctx); err != nil {
			s.logger.Error("background gc failed", "error", err)
		}
		cancel()
	}
}

// badgerLogger routes Badger's printf logging into slog. Badger's info
// output is chatty and is demoted to debug.
type badgerLogger struct{ l *slog.Logger }

func (b badgerLogger) log(level slog.Level, format string, args []any) {
	if !b.l.Enabled(context.Background(), level) {
		return
	}
	b.l.Log(context.Background(), level, strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b badgerLogger) Errorf(format string, args ...any)   { b.log(slog.LevelError, format, args) }
func (b badgerLogger) Warningf(format string, args ...any) { b.log(slog.LevelWarn, format, args) }
func (b badgerLogger) Infof(format string, args ...any)    { b.log(slog.LevelDebug, format, args) }
func (b badgerLogger) Debugf(format string, args ...any)   { b.log(slog.LevelDebug, format, args) }

var _ Store = (*BadgerStore)(nil)
