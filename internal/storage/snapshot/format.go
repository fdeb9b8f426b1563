package snapshot

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/yndnr/rxcheckpoint/internal/storage"
	"github.com/yndnr/rxcheckpoint/pkg/crypto/adaptive"
)

// Magic opens every snapshot file.
const Magic = "RXCKSNAP"

const (
	formatVersion = 1
	trailerSize   = sha256.Size
)

var (
	ErrInvalidMagic     = errors.New("snapshot: invalid magic bytes")
	ErrChecksumMismatch = errors.New("snapshot: checksum mismatch")
	ErrNoSnapshots      = errors.New("snapshot: no snapshots available")
	ErrCipherRequired   = errors.New("snapshot: encrypted snapshot requires a cipher")
	ErrNotEncrypted     = errors.New("snapshot: snapshot is not encrypted")
)

// header describes the state stored in a file. It is never encrypted, so
// List-style tooling can read it without a key.
type header struct {
	Format       int             `json:"format"`
	CreatedAt    int64           `json:"created_at"`
	CheckpointID string          `json:"checkpoint_id"`
	Sequence     uint64          `json:"sequence"`
	StateVersion string          `json:"state_version"`
	Lineage      storage.Lineage `json:"lineage"`
	CommittedAt  int64           `json:"committed_at"`
	Items        int             `json:"items"`
	Encrypted    bool            `json:"encrypted"`
}

func (h header) info() storage.Info {
	return storage.Info{
		ID:          h.CheckpointID,
		Sequence:    h.Sequence,
		Version:     h.StateVersion,
		Lineage:     h.Lineage,
		CommittedAt: time.Unix(0, h.CommittedAt).UTC(),
	}
}

type item struct {
	Category string `json:"c"`
	Key      string `json:"k"`
	Data     []byte `json:"d"`
}

// encodeState writes magic, header and body of st to w and returns the
// SHA-256 of everything written. The caller appends it as the trailer.
func encodeState(w io.Writer, st *storage.State, created time.Time, cipher adaptive.Cipher) ([]byte, error) {
	sum := sha256.New()
	bw := bufio.NewWriter(io.MultiWriter(w, sum))

	meta := st.Info()
	hdr, err := json.Marshal(header{
		Format:       formatVersion,
		CreatedAt:    created.UnixMilli(),
		CheckpointID: meta.ID,
		Sequence:     meta.Sequence,
		StateVersion: meta.Version,
		Lineage:      meta.Lineage,
		CommittedAt:  meta.CommittedAt.UnixNano(),
		Items:        st.Len(),
		Encrypted:    cipher != nil,
	})
	if err != nil {
		return nil, fmt.Errorf("snapshot: marshal header: %w", err)
	}

	items := make([]item, 0, st.Len())
	st.Range(func(category, key string, data []byte) bool {
		items = append(items, item{Category: category, Key: key, Data: data})
		return true
	})
	body, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("snapshot: marshal items: %w", err)
	}
	if cipher != nil {
		if body, err = cipher.Encrypt(body, []byte(meta.ID)); err != nil {
			return nil, fmt.Errorf("snapshot: encrypt: %w", err)
		}
	}

	bw.WriteString(Magic)
	putSection(bw, hdr)
	putSection(bw, body)
	if err := bw.Flush(); err != nil {
		return nil, fmt.Errorf("snapshot: write: %w", err)
	}
	return sum.Sum(nil), nil
}

func putSection(w *bufio.Writer, p []byte) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(p)))
	w.Write(n[:])
	w.Write(p)
}

// verifyTrailer checks the SHA-256 trailer of a file of the given size and
// returns the length of the data it covers along with the checksum.
func verifyTrailer(f io.ReaderAt, size int64) (int64, []byte, error) {
	if size < int64(len(Magic))+trailerSize {
		return 0, nil, ErrChecksumMismatch
	}
	n := size - trailerSize
	want := make([]byte, trailerSize)
	if _, err := f.ReadAt(want, n); err != nil {
		return 0, nil, err
	}
	h := sha256.New()
	if _, err := io.Copy(h, io.NewSectionReader(f, 0, n)); err != nil {
		return 0, nil, err
	}
	if !bytes.Equal(h.Sum(nil), want) {
		return 0, nil, ErrChecksumMismatch
	}
	return n, want, nil
}

// decodeState reads a verified file body of length n.
func decodeState(f io.ReaderAt, n int64, cipher adaptive.Cipher) (*storage.State, header, error) {
	var hdr header
	r := bufio.NewReader(io.NewSectionReader(f, 0, n))

	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, hdr, err
	}
	if string(magic) != Magic {
		return nil, hdr, ErrInvalidMagic
	}

	raw, err := getSection(r, n)
	if err != nil {
		return nil, hdr, fmt.Errorf("snapshot: read header: %w", err)
	}
	if err := json.Unmarshal(raw, &hdr); err != nil {
		return nil, hdr, fmt.Errorf("snapshot: unmarshal header: %w", err)
	}
	if hdr.Format != formatVersion {
		return nil, hdr, fmt.Errorf("snapshot: unsupported format %d", hdr.Format)
	}

	body, err := getSection(r, n)
	if err != nil {
		return nil, hdr, fmt.Errorf("snapshot: read items: %w", err)
	}
	switch {
	case hdr.Encrypted && cipher == nil:
		return nil, hdr, ErrCipherRequired
	case !hdr.Encrypted && cipher != nil:
		return nil, hdr, ErrNotEncrypted
	case hdr.Encrypted:
		if body, err = cipher.Decrypt(body, []byte(hdr.CheckpointID)); err != nil {
			return nil, hdr, fmt.Errorf("snapshot: decrypt: %w", err)
		}
	}

	var items []item
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, hdr, fmt.Errorf("snapshot: unmarshal items: %w", err)
	}
	st := storage.NewState(hdr.info())
	for _, it := range items {
		if it.Data == nil {
			it.Data = []byte{}
		}
		st.Put(it.Category, it.Key, it.Data)
	}
	return st, hdr, nil
}

func getSection(r io.Reader, limit int64) ([]byte, error) {
	var n [4]byte
	if _, err := io.ReadFull(r, n[:]); err != nil {
		return nil, err
	}
	size := int64(binary.BigEndian.Uint32(n[:]))
	if size > limit {
		return nil, ErrChecksumMismatch
	}
	p := make([]byte, size)
	if _, err := io.ReadFull(r, p); err != nil {
		return nil, err
	}
	return p, nil
}
