package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

// Contract errors.
var (
	ErrWriterOpen   = errors.New("storage: a writer is already open for this checkpoint")
	ErrItemLocked   = errors.New("storage: item is being written")
	ErrItemOpen     = errors.New("storage: item writer still open at commit")
	ErrWriterDone   = errors.New("storage: writer already committed or rolled back")
	ErrNotFound     = errors.New("storage: item not found")
	ErrClosed       = errors.New("storage: store closed")
	ErrReaderClosed = errors.New("storage: reader closed")
	ErrInvalidName  = errors.New("storage: invalid checkpoint, category or key name")
)

// Lineage tells how a committed state was produced.
type Lineage string

const (
	LineageFull         Lineage = "full"
	LineageDifferential Lineage = "differential"
)

// ProgressFunc is called during Commit after each applied item.
type ProgressFunc func(done, total int)

// Info describes a committed checkpoint.
type Info struct {
	ID          string    `json:"id"`
	Sequence    uint64    `json:"sequence"`
	Version     string    `json:"version"`
	Lineage     Lineage   `json:"lineage"`
	CommittedAt time.Time `json:"committed_at"`
	Items       int       `json:"items"`
	Bytes       int64     `json:"bytes"`
}

// Store persists checkpoints.
type Store interface {
	// StartNew opens a writer for a full checkpoint.
	StartNew(ctx context.Context, id string) (StateWriter, error)

	// Update opens a writer for a differential checkpoint on top of the
	// current committed state. With nothing committed it behaves like a
	// full checkpoint.
	Update(ctx context.Context, id string) (StateWriter, error)

	// TryReadCurrent opens the committed state. ok is false when nothing
	// was committed for id.
	TryReadCurrent(ctx context.Context, id string) (r StateReader, ok bool, err error)

	// Close releases the store.
	Close() error
}

// StateWriter stages one checkpoint.
type StateWriter interface {
	// Lineage reports whether the writer produces a full or differential state.
	Lineage() Lineage

	// ItemWriter returns an exclusive writer for one item. The staged value
	// replaces any earlier one when the returned writer is closed.
	ItemWriter(category, key string) (io.WriteCloser, error)

	// DeleteItem stages the removal of an item.
	DeleteItem(category, key string) error

	// Commit atomically publishes the staged state.
	Commit(ctx context.Context, progress ProgressFunc) error

	// Rollback discards the staged state.
	Rollback() error
}

// StateReader reads one committed state.
type StateReader interface {
	Info() Info
	Categories() []string
	Keys(category string) []string
	OpenItem(category, key string) (io.ReadCloser, error)
	Close() error
}

// ValidateName rejects names that cannot be stored by every backend.
func ValidateName(s string) error {
	if s == "" || strings.IndexByte(s, 0) >= 0 {
		return ErrInvalidName
	}
	return nil
}
