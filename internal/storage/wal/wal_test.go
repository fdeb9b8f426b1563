package wal

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yndnr/rxcheckpoint/internal/storage"
	"github.com/yndnr/rxcheckpoint/pkg/crypto/adaptive"
)

func commitEntry(seq uint64, puts map[string]string, deletes ...string) *Entry {
	ch := &storage.Changes{
		Lineage: storage.LineageDifferential,
		Puts:    make(map[storage.ItemRef][]byte),
		Deletes: make(map[storage.ItemRef]struct{}),
	}
	for k, v := range puts {
		ch.Puts[storage.ItemRef{Category: "subscriptions", Key: k}] = []byte(v)
	}
	for _, k := range deletes {
		ch.Deletes[storage.ItemRef{Category: "subscriptions", Key: k}] = struct{}{}
	}
	info := storage.Info{
		ID:          "engine-1",
		Sequence:    seq,
		Version:     "v" + string(rune('0'+seq)),
		Lineage:     storage.LineageDifferential,
		CommittedAt: time.Now().UTC(),
	}
	return NewCommitEntry(info, ch)
}

func testCipher(t *testing.T, fill byte) adaptive.Cipher {
	t.Helper()
	c, err := adaptive.New(bytes.Repeat([]byte{fill}, 32))
	require.NoError(t, err)
	return c
}

func openWriter(t *testing.T, cfg Config) *Writer {
	t.Helper()
	w, err := NewWriter(cfg)
	require.NoError(t, err)
	return w
}

func mustCommit(t *testing.T, w *Writer, e *Entry) {
	t.Helper()
	require.NoError(t, w.Commit(e), "commit seq %d", e.Sequence)
}

func sequences(entries []*Entry) []uint64 {
	out := make([]uint64, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Sequence)
	}
	return out
}

// readSeqs reads every intact entry under dir and returns their sequences.
func readSeqs(t *testing.T, dir string) []uint64 {
	t.Helper()
	entries, err := ReadAll(dir, nil)
	require.NoError(t, err)
	return sequences(entries)
}

func TestSegmentName(t *testing.T) {
	name := segmentName(42)
	require.Equal(t, "wal-00000042.log", name)

	id, ok := parseSegmentName(name)
	require.True(t, ok)
	assert.EqualValues(t, 42, id)

	for _, bad := range []string{"wal-.log", "wal-12.tmp", "snap-00000001.log", "wal-x1.log"} {
		_, ok := parseSegmentName(bad)
		assert.False(t, ok, "parseSegmentName(%q) accepted", bad)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("x")
	assert.Equal(t, "x", cfg.Dir)
	assert.Equal(t, SyncModeSync, cfg.SyncMode)
	assert.EqualValues(t, DefaultMaxSegmentBytes, cfg.MaxSegmentBytes)
}

func TestNewWriter_RequiresDir(t *testing.T) {
	_, err := NewWriter(Config{})
	assert.Error(t, err)
}

func TestWriter_RoundTripPlain(t *testing.T) {
	dir := t.TempDir()
	w := openWriter(t, DefaultConfig(dir))
	mustCommit(t, w, commitEntry(2, map[string]string{"rx://s1": "a"}))
	mustCommit(t, w, commitEntry(3, map[string]string{"rx://s2": "b"}, "rx://s1"))
	require.NoError(t, w.Close())

	f, err := os.Open(filepath.Join(dir, "wal-00000001.log"))
	require.NoError(t, err)
	defer f.Close()
	fi, _ := f.Stat()
	_, sealed, err := sealedLength(f, fi.Size())
	require.NoError(t, err)
	assert.True(t, sealed, "segment not sealed")

	entries, err := ReadAll(dir, nil)
	require.NoError(t, err)
	require.Equal(t, []uint64{2, 3}, sequences(entries))

	ch := entries[1].Changes()
	assert.Equal(t, "b", string(ch.Puts[storage.ItemRef{Category: "subscriptions", Key: "rx://s2"}]))
	assert.Contains(t, ch.Deletes, storage.ItemRef{Category: "subscriptions", Key: "rx://s1"}, "delete of rx://s1 lost")
	info := entries[1].Info()
	assert.Equal(t, "engine-1", info.ID)
	assert.Equal(t, storage.LineageDifferential, info.Lineage)
}

func TestWriter_Encrypted(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.Cipher = testCipher(t, 0x11)
	w := openWriter(t, cfg)
	mustCommit(t, w, commitEntry(2, map[string]string{"rx://s1": "top-secret-state"}))
	require.NoError(t, w.Close())

	raw, err := os.ReadFile(filepath.Join(dir, segmentName(1)))
	require.NoError(t, err)
	assert.False(t, bytes.Contains(raw, []byte("top-secret-state")), "plaintext state found in encrypted segment")

	entries, err := ReadAll(dir, cfg.Cipher)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	data := entries[0].Changes().Puts[storage.ItemRef{Category: "subscriptions", Key: "rx://s1"}]
	assert.Equal(t, "top-secret-state", string(data))

	_, err = ReadAll(dir, nil)
	assert.ErrorIs(t, err, ErrCipherRequired)
	_, err = ReadAll(dir, testCipher(t, 0x22))
	assert.ErrorIs(t, err, ErrDecrypt)
}

func TestReplay_After(t *testing.T) {
	dir := t.TempDir()
	w := openWriter(t, DefaultConfig(dir))
	for seq := uint64(1); seq <= 4; seq++ {
		mustCommit(t, w, commitEntry(seq, map[string]string{"rx://s": "v"}))
	}
	require.NoError(t, w.Close())

	var got []uint64
	err := Replay(dir, nil, 2, func(e *Entry) error {
		got = append(got, e.Sequence)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 4}, got)

	stop := errors.New("stop")
	err = Replay(dir, nil, 0, func(*Entry) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestReplay_MissingDir(t *testing.T) {
	entries, err := ReadAll(filepath.Join(t.TempDir(), "absent"), nil)
	require.NoError(t, err)
	assert.Empty(t, entries)

	n, err := Size(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReader_TornTail(t *testing.T) {
	dir := t.TempDir()
	w := openWriter(t, DefaultConfig(dir))
	mustCommit(t, w, commitEntry(2, map[string]string{"rx://s1": "a"}))
	mustCommit(t, w, commitEntry(3, map[string]string{"rx://s2": "b"}))
	require.NoError(t, w.Close())

	// Drop the trailer and part of the last frame.
	path := filepath.Join(dir, segmentName(1))
	fi, err := os.Stat(path)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(path, fi.Size()-checksumSize-3))

	assert.Equal(t, []uint64{2}, readSeqs(t, dir))
}

func TestReader_CorruptFrameEndsOnlyItsSegment(t *testing.T) {
	dir := t.TempDir()
	w := openWriter(t, DefaultConfig(dir))
	mustCommit(t, w, commitEntry(1, map[string]string{"rx://s1": "a"}))
	mustCommit(t, w, commitEntry(2, map[string]string{"rx://s2": "b"}))
	_, err := w.Rotate()
	require.NoError(t, err)
	mustCommit(t, w, commitEntry(3, map[string]string{"rx://s3": "c"}))
	require.NoError(t, w.Close())

	// Flip a byte inside the second frame of the first segment.
	path := filepath.Join(dir, segmentName(1))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	raw[len(raw)-checksumSize-2] ^= 0xff
	require.NoError(t, os.WriteFile(path, raw, filePerm))

	assert.Equal(t, []uint64{1, 3}, readSeqs(t, dir))
}

func TestReader_SkipsForeignSegment(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, segmentName(1)), []byte("not a wal segment"), filePerm))

	w := openWriter(t, DefaultConfig(dir))
	require.EqualValues(t, 2, w.Segment())
	mustCommit(t, w, commitEntry(5, map[string]string{"rx://s": "v"}))
	require.NoError(t, w.Close())

	assert.Equal(t, []uint64{5}, readSeqs(t, dir))
}

func TestNewWriter_StartsAfterNewestSegment(t *testing.T) {
	dir := t.TempDir()
	w := openWriter(t, DefaultConfig(dir))
	mustCommit(t, w, commitEntry(1, map[string]string{"rx://s": "a"}))
	require.NoError(t, w.Close())

	w = openWriter(t, DefaultConfig(dir))
	defer w.Close()
	require.EqualValues(t, 2, w.Segment())
	mustCommit(t, w, commitEntry(2, map[string]string{"rx://s": "b"}))

	assert.Equal(t, []uint64{1, 2}, readSeqs(t, dir))
}

func TestWriter_MaxSegmentBytes(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.MaxSegmentBytes = 64
	w := openWriter(t, cfg)
	for seq := uint64(1); seq <= 3; seq++ {
		mustCommit(t, w, commitEntry(seq, map[string]string{"rx://s": "payload"}))
	}
	require.NoError(t, w.Close())

	segs, err := listSegments(dir)
	require.NoError(t, err)
	assert.Len(t, segs, 3)
	assert.Equal(t, []uint64{1, 2, 3}, readSeqs(t, dir))
}

func TestRotateAndPrune(t *testing.T) {
	dir := t.TempDir()
	w := openWriter(t, DefaultConfig(dir))
	mustCommit(t, w, commitEntry(1, map[string]string{"rx://s": "a"}))
	mustCommit(t, w, commitEntry(2, map[string]string{"rx://s": "b"}))

	seg, err := w.Rotate()
	require.NoError(t, err)
	require.EqualValues(t, 2, seg)
	require.EqualValues(t, 2, w.Segment())
	mustCommit(t, w, commitEntry(3, map[string]string{"rx://s": "c"}))

	before, err := Size(dir)
	require.NoError(t, err)
	require.Positive(t, before)

	removed, err := Prune(dir, seg)
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)
	after, err := Size(dir)
	require.NoError(t, err)
	assert.Less(t, after, before)

	require.NoError(t, w.Close())
	assert.Equal(t, []uint64{3}, readSeqs(t, dir))
}

func TestWriter_BatchMode(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.SyncMode = SyncModeBatch
	cfg.SyncInterval = 5 * time.Millisecond
	w := openWriter(t, cfg)
	mustCommit(t, w, commitEntry(1, map[string]string{"rx://s": "a"}))

	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return !w.dirty
	}, 2*time.Second, time.Millisecond, "batch sync did not run")

	require.NoError(t, w.Close())
	assert.Len(t, readSeqs(t, dir), 1)
}

func TestWriter_Closed(t *testing.T) {
	w := openWriter(t, DefaultConfig(t.TempDir()))
	require.NoError(t, w.Close())
	require.NoError(t, w.Close(), "second Close")

	assert.ErrorIs(t, w.Commit(commitEntry(1, nil)), ErrWriterClosed)
	_, err := w.Rotate()
	assert.ErrorIs(t, err, ErrWriterClosed)
}

func TestWriter_RejectsInvalidEntries(t *testing.T) {
	w := openWriter(t, DefaultConfig(t.TempDir()))
	defer w.Close()

	assert.Error(t, w.Commit(nil), "nil entry")

	e := commitEntry(1, nil)
	e.CheckpointID = ""
	assert.Error(t, w.Commit(e), "entry without checkpoint id")

	e = commitEntry(1, nil)
	e.OpType = OpTypeUnspecified
	assert.ErrorIs(t, w.Commit(e), ErrInvalidEntryType)
}

func TestDecodeEntryFrame_Checksum(t *testing.T) {
	frame, err := encodeEntryFrame(commitEntry(1, map[string]string{"rx://s": "a"}), nil)
	require.NoError(t, err)
	body := frame[4:]
	_, err = decodeEntryFrame(body, nil)
	require.NoError(t, err)

	body[len(body)-1] ^= 0xff
	_, err = decodeEntryFrame(body, nil)
	assert.ErrorIs(t, err, ErrChecksumMismatch)
	_, err = decodeEntryFrame([]byte{1, 2}, nil)
	assert.ErrorIs(t, err, ErrCorruptedEntry)
}
