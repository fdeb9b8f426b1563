package wal

import (
	"errors"
	"time"

	"github.com/yndnr/rxcheckpoint/internal/storage"
)

// Errors for WAL operations.
var (
	ErrCorruptedEntry   = errors.New("wal: corrupted entry")
	ErrChecksumMismatch = errors.New("wal: checksum mismatch")
	ErrInvalidEntryType = errors.New("wal: invalid entry type")
	ErrCipherRequired   = errors.New("wal: encrypted entry requires a cipher")
	ErrDecrypt          = errors.New("wal: cannot decrypt entry")
)

// OpType represents the type of a journaled operation.
type OpType uint8

const (
	OpTypeUnspecified OpType = iota
	// OpTypeCommit is one differential checkpoint commit.
	OpTypeCommit
)

// Item is one put of a commit.
type Item struct {
	Category string `json:"c"`
	Key      string `json:"k"`
	Data     []byte `json:"d"`
}

// Entry is one durable operation written to the WAL.
type Entry struct {
	OpType       OpType
	Timestamp    int64 // Unix milliseconds
	CheckpointID string
	Sequence     uint64
	Version      string
	CommittedAt  time.Time
	Puts         []Item
	Deletes      []storage.ItemRef
}

// NewCommitEntry journals the changes committed as info.
func NewCommitEntry(info storage.Info, ch *storage.Changes) *Entry {
	e := &Entry{
		OpType:       OpTypeCommit,
		Timestamp:    time.Now().UnixMilli(),
		CheckpointID: info.ID,
		Sequence:     info.Sequence,
		Version:      info.Version,
		CommittedAt:  info.CommittedAt,
		Deletes:      ch.SortedDeletes(),
	}
	for _, ref := range ch.SortedPuts() {
		e.Puts = append(e.Puts, Item{Category: ref.Category, Key: ref.Key, Data: ch.Puts[ref]})
	}
	return e
}

// Changes rebuilds the differential changes carried by e.
func (e *Entry) Changes() *storage.Changes {
	ch := &storage.Changes{
		Lineage: storage.LineageDifferential,
		Puts:    make(map[storage.ItemRef][]byte, len(e.Puts)),
		Deletes: make(map[storage.ItemRef]struct{}, len(e.Deletes)),
	}
	for _, ref := range e.Deletes {
		ch.Deletes[ref] = struct{}{}
	}
	for _, it := range e.Puts {
		data := it.Data
		if data == nil {
			data = []byte{}
		}
		ch.Puts[storage.ItemRef{Category: it.Category, Key: it.Key}] = data
	}
	return ch
}

// Info returns the checkpoint metadata recorded with e.
func (e *Entry) Info() storage.Info {
	return storage.Info{
		ID:          e.CheckpointID,
		Sequence:    e.Sequence,
		Version:     e.Version,
		Lineage:     storage.LineageDifferential,
		CommittedAt: e.CommittedAt,
	}
}
