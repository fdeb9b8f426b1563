package wal

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/yndnr/rxcheckpoint/pkg/crypto/adaptive"
)

// ErrWriterClosed is returned after Close.
var ErrWriterClosed = errors.New("wal: writer is closed")

// SyncMode selects when commits reach stable storage.
type SyncMode string

const (
	// SyncModeSync fsyncs every commit before it returns.
	SyncModeSync SyncMode = "sync"
	// SyncModeBatch fsyncs at most once per SyncInterval; a crash may lose
	// the last commits.
	SyncModeBatch SyncMode = "batch"
)

const (
	DefaultSyncInterval          = time.Second
	DefaultMaxSegmentBytes int64 = 64 << 20
)

// Config configures a Writer.
type Config struct {
	Dir             string
	SyncMode        SyncMode
	SyncInterval    time.Duration
	MaxSegmentBytes int64

	// Cipher seals entry bodies when set.
	Cipher adaptive.Cipher
}

// DefaultConfig returns a synchronous configuration for dir.
func DefaultConfig(dir string) Config {
	return Config{
		Dir:             dir,
		SyncMode:        SyncModeSync,
		SyncInterval:    DefaultSyncInterval,
		MaxSegmentBytes: DefaultMaxSegmentBytes,
	}
}

// Writer appends commit entries to the newest segment of a directory.
type Writer struct {
	cfg Config

	mu     sync.Mutex
	seg    *segment
	dirty  bool // written but not yet synced (batch mode)
	torn   bool // a failed write may have left a partial frame
	closed bool

	stop chan struct{}
	done chan struct{}
}

// NewWriter opens a fresh segment after the newest one in cfg.Dir. Older
// segments are never appended to: their tail may hold a torn frame.
func NewWriter(cfg Config) (*Writer, error) {
	if cfg.Dir == "" {
		return nil, errors.New("wal: dir is required")
	}
	if cfg.SyncMode == "" {
		cfg.SyncMode = SyncModeSync
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = DefaultSyncInterval
	}
	if cfg.MaxSegmentBytes <= 0 {
		cfg.MaxSegmentBytes = DefaultMaxSegmentBytes
	}
	if err := os.MkdirAll(cfg.Dir, dirPerm); err != nil {
		return nil, fmt.Errorf("wal: create dir: %w", err)
	}

	segs, err := listSegments(cfg.Dir)
	if err != nil {
		return nil, err
	}
	next := uint64(1)
	if len(segs) > 0 {
		next = segs[len(segs)-1].id + 1
	}
	seg, err := createSegment(cfg.Dir, next)
	if err != nil {
		return nil, err
	}

	w := &Writer{cfg: cfg, seg: seg}
	if cfg.SyncMode == SyncModeBatch {
		w.stop = make(chan struct{})
		w.done = make(chan struct{})
		go w.syncLoop()
	}
	return w, nil
}

// Commit appends e. In SyncModeSync the entry is on stable storage when
// Commit returns. After a failed commit the next one starts a new segment,
// so a partial frame never hides frames written after it.
func (w *Writer) Commit(e *Entry) error {
	frame, err := encodeEntryFrame(e, w.cfg.Cipher)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWriterClosed
	}

	switch {
	case w.torn:
		if err := w.startSegmentLocked(false); err != nil {
			return err
		}
		w.torn = false
	case w.seg.size+int64(len(frame)) > w.cfg.MaxSegmentBytes && w.seg.size > int64(len(Magic)):
		if err := w.startSegmentLocked(true); err != nil {
			return err
		}
	}

	if err := w.seg.write(frame); err != nil {
		w.torn = true
		return err
	}
	if w.cfg.SyncMode == SyncModeSync {
		if err := w.seg.f.Sync(); err != nil {
			w.torn = true
			return fmt.Errorf("wal: sync: %w", err)
		}
		return nil
	}
	w.dirty = true
	return nil
}

// Rotate seals the active segment and opens the next one, whose id it
// returns. Every entry committed before Rotate lives in a lower segment.
func (w *Writer) Rotate() (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, ErrWriterClosed
	}
	if err := w.startSegmentLocked(!w.torn); err != nil {
		return 0, err
	}
	w.torn = false
	return w.seg.id, nil
}

// Segment returns the id of the active segment.
func (w *Writer) Segment() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seg.id
}

// Close seals the active segment.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	if w.stop != nil {
		close(w.stop)
		<-w.done
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.torn {
		return w.seg.abandon()
	}
	return w.seg.seal()
}

func (w *Writer) startSegmentLocked(seal bool) error {
	var err error
	if seal {
		err = w.seg.seal()
	} else {
		err = w.seg.abandon()
	}
	if err != nil {
		return err
	}
	seg, err := createSegment(w.cfg.Dir, w.seg.id+1)
	if err != nil {
		return err
	}
	w.seg = seg
	w.dirty = false
	return nil
}

func (w *Writer) syncLoop() {
	defer close(w.done)
	t := time.NewTicker(w.cfg.SyncInterval)
	defer t.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-t.C:
			w.mu.Lock()
			if w.dirty && !w.closed {
				if err := w.seg.f.Sync(); err == nil {
					w.dirty = false
				}
			}
			w.mu.Unlock()
		}
	}
}
