package wal

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/yndnr/rxcheckpoint/pkg/crypto/adaptive"
)

const (
	segmentPrefix = "wal-"
	segmentSuffix = ".log"

	// Magic opens every segment.
	Magic = "RXCKWAL\x01"

	checksumSize = sha256.Size
	filePerm     = 0600
	dirPerm      = 0750

	// maxFrameSize bounds a single frame so a corrupt length cannot force a
	// huge allocation.
	maxFrameSize = 1 << 30
)

func segmentName(id uint64) string {
	return fmt.Sprintf("%s%08d%s", segmentPrefix, id, segmentSuffix)
}

func parseSegmentName(name string) (uint64, bool) {
	s, ok := strings.CutPrefix(name, segmentPrefix)
	if !ok {
		return 0, false
	}
	s, ok = strings.CutSuffix(s, segmentSuffix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseUint(s, 10, 64)
	return id, err == nil
}

type segmentFile struct {
	id   uint64
	path string
	size int64
}

// listSegments returns the segments of dir, oldest first. A missing dir has
// none.
func listSegments(dir string) ([]segmentFile, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("wal: read dir: %w", err)
	}
	var segs []segmentFile
	for _, e := range entries {
		id, ok := parseSegmentName(e.Name())
		if !ok || e.IsDir() {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		segs = append(segs, segmentFile{id: id, path: filepath.Join(dir, e.Name()), size: fi.Size()})
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].id < segs[j].id })
	return segs, nil
}

// segment is the open tail of the log. Every byte written is also fed to
// sum so that seal can append the SHA-256 trailer without rereading.
type segment struct {
	id   uint64
	f    *os.File
	size int64
	sum  hash.Hash
}

func createSegment(dir string, id uint64) (*segment, error) {
	f, err := os.OpenFile(filepath.Join(dir, segmentName(id)), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, filePerm)
	if err != nil {
		return nil, fmt.Errorf("wal: create segment: %w", err)
	}
	s := &segment{id: id, f: f, sum: sha256.New()}
	if err := s.write([]byte(Magic)); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *segment) write(p []byte) error {
	n, err := s.f.Write(p)
	s.sum.Write(p[:n])
	s.size += int64(n)
	if err != nil {
		return fmt.Errorf("wal: write segment %d: %w", s.id, err)
	}
	return nil
}

// seal appends the checksum trailer, syncs and closes the file.
func (s *segment) seal() error {
	if _, err := s.f.Write(s.sum.Sum(nil)); err != nil {
		s.f.Close()
		return fmt.Errorf("wal: seal segment %d: %w", s.id, err)
	}
	if err := s.f.Sync(); err != nil {
		s.f.Close()
		return fmt.Errorf("wal: sync segment %d: %w", s.id, err)
	}
	return s.f.Close()
}

// abandon closes the file without a trailer. Readers then stop at the
// first damaged frame.
func (s *segment) abandon() error {
	return s.f.Close()
}

// sealedLength returns the data length of a sealed segment, or ok=false
// when the trailer is missing or does not match.
func sealedLength(f io.ReaderAt, size int64) (n int64, ok bool, err error) {
	if size < int64(len(Magic))+checksumSize {
		return 0, false, nil
	}
	n = size - checksumSize
	trailer := make([]byte, checksumSize)
	if _, err := f.ReadAt(trailer, n); err != nil {
		return 0, false, err
	}
	h := sha256.New()
	if _, err := io.Copy(h, io.NewSectionReader(f, 0, n)); err != nil {
		return 0, false, err
	}
	return n, bytes.Equal(h.Sum(nil), trailer), nil
}

// scanSegment calls fn for each intact entry of the segment at path. A
// damaged or torn frame ends the segment; only I/O failures and errors
// returned by fn are reported.
func scanSegment(seg segmentFile, cipher adaptive.Cipher, fn func(*Entry) error) error {
	f, err := os.Open(seg.path)
	if err != nil {
		return fmt.Errorf("wal: open segment %d: %w", seg.id, err)
	}
	defer f.Close()

	limit := seg.size
	if n, sealed, err := sealedLength(f, seg.size); err != nil {
		return fmt.Errorf("wal: check segment %d: %w", seg.id, err)
	} else if sealed {
		limit = n
	}

	r := bufio.NewReader(io.NewSectionReader(f, 0, limit))
	magic := make([]byte, len(Magic))
	if _, err := io.ReadFull(r, magic); err != nil || string(magic) != Magic {
		return nil
	}

	var lenBuf [4]byte
	for {
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil
		}
		length := binary.BigEndian.Uint32(lenBuf[:])
		if length < 5 || length > maxFrameSize {
			return nil
		}
		frame := make([]byte, length)
		if _, err := io.ReadFull(r, frame); err != nil {
			return nil
		}
		e, err := decodeEntryFrame(frame, cipher)
		switch {
		case errors.Is(err, ErrCipherRequired), errors.Is(err, ErrDecrypt):
			return fmt.Errorf("wal: segment %d: %w", seg.id, err)
		case err != nil:
			return nil
		}
		if err := fn(e); err != nil {
			return err
		}
	}
}
