package wal

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/yndnr/rxcheckpoint/internal/storage"
	"github.com/yndnr/rxcheckpoint/pkg/crypto/adaptive"
)

// Frame layout: [len:4][crc32:4][type:1][record JSON]. len counts every
// byte after itself; the checksum covers the type byte and the record.
const frameHeader = 4 + 1

// record is the JSON form of an Entry. Exactly one of Changes and Sealed is
// set; Sealed holds the encrypted Changes with the checkpoint id as
// additional data.
type record struct {
	Timestamp    int64    `json:"ts"`
	CheckpointID string   `json:"id"`
	Sequence     uint64   `json:"seq"`
	Version      string   `json:"ver"`
	CommittedAt  int64    `json:"at"`
	Changes      *changes `json:"body,omitempty"`
	Sealed       []byte   `json:"enc_body,omitempty"`
}

type changes struct {
	Puts    []Item            `json:"puts,omitempty"`
	Deletes []storage.ItemRef `json:"deletes,omitempty"`
}

func frameChecksum(op OpType, payload []byte) uint32 {
	return crc32.Update(crc32.ChecksumIEEE([]byte{byte(op)}), crc32.IEEETable, payload)
}

func encodeEntryFrame(e *Entry, cipher adaptive.Cipher) ([]byte, error) {
	switch {
	case e == nil:
		return nil, errors.New("wal: entry is nil")
	case e.OpType != OpTypeCommit:
		return nil, ErrInvalidEntryType
	case e.CheckpointID == "":
		return nil, errors.New("wal: missing checkpoint id")
	}

	rec := record{
		Timestamp:    e.Timestamp,
		CheckpointID: e.CheckpointID,
		Sequence:     e.Sequence,
		Version:      e.Version,
		CommittedAt:  e.CommittedAt.UnixNano(),
	}
	ch := &changes{Puts: e.Puts, Deletes: e.Deletes}
	if cipher != nil {
		plain, err := json.Marshal(ch)
		if err != nil {
			return nil, fmt.Errorf("wal: marshal changes: %w", err)
		}
		if rec.Sealed, err = cipher.Encrypt(plain, []byte(e.CheckpointID)); err != nil {
			return nil, fmt.Errorf("wal: encrypt changes: %w", err)
		}
	} else {
		rec.Changes = ch
	}

	payload, err := json.Marshal(&rec)
	if err != nil {
		return nil, fmt.Errorf("wal: marshal record: %w", err)
	}
	frame := make([]byte, 4, 4+frameHeader+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(frameHeader+len(payload)))
	frame = binary.BigEndian.AppendUint32(frame, frameChecksum(e.OpType, payload))
	frame = append(frame, byte(e.OpType))
	return append(frame, payload...), nil
}

// decodeEntryFrame decodes a frame without its length prefix.
func decodeEntryFrame(frame []byte, cipher adaptive.Cipher) (*Entry, error) {
	if len(frame) < frameHeader {
		return nil, ErrCorruptedEntry
	}
	op, payload := OpType(frame[4]), frame[frameHeader:]
	if binary.BigEndian.Uint32(frame) != frameChecksum(op, payload) {
		return nil, ErrChecksumMismatch
	}
	if op != OpTypeCommit {
		return nil, ErrInvalidEntryType
	}

	var rec record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("wal: unmarshal record: %w", err)
	}
	if rec.Changes == nil && rec.Sealed != nil {
		if cipher == nil {
			return nil, ErrCipherRequired
		}
		plain, err := cipher.Decrypt(rec.Sealed, []byte(rec.CheckpointID))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
		}
		rec.Changes = new(changes)
		if err := json.Unmarshal(plain, rec.Changes); err != nil {
			return nil, fmt.Errorf("wal: unmarshal changes: %w", err)
		}
	}

	e := &Entry{
		OpType:       op,
		Timestamp:    rec.Timestamp,
		CheckpointID: rec.CheckpointID,
		Sequence:     rec.Sequence,
		Version:      rec.Version,
		CommittedAt:  time.Unix(0, rec.CommittedAt).UTC(),
	}
	if rec.Changes != nil {
		e.Puts, e.Deletes = rec.Changes.Puts, rec.Changes.Deletes
	}
	return e, nil
}
