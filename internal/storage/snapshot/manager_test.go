package snapshot

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yndnr/rxcheckpoint/internal/storage"
	"github.com/yndnr/rxcheckpoint/pkg/crypto/adaptive"
)

func testState(seq uint64, items map[string]string) *storage.State {
	st := storage.NewState(storage.Info{
		ID:          "engine-1",
		Sequence:    seq,
		Version:     "v",
		Lineage:     storage.LineageFull,
		CommittedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	for k, v := range items {
		st.Put("observables", k, []byte(v))
	}
	return st
}

func newManager(t *testing.T, cfg Config) *Manager {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	m, err := NewManager(cfg)
	require.NoError(t, err)
	return m
}

func create(t *testing.T, m *Manager, st *storage.State) *Info {
	t.Helper()
	info, err := m.Create(st)
	require.NoError(t, err, "create seq %d", st.Info().Sequence)
	return info
}

func TestNewManager(t *testing.T) {
	_, err := NewManager(Config{})
	require.Error(t, err, "dir is required")

	m := newManager(t, Config{Dir: filepath.Join(t.TempDir(), "a", "b")})
	assert.Equal(t, DefaultRetain, m.cfg.Retain)
	assert.DirExists(t, m.cfg.Dir)
}

func TestFileName(t *testing.T) {
	a, b := fileName(7), fileName(7)
	require.NotEqual(t, a, b, "fileName repeated for the same sequence")

	seq, ok := parseFileName(a)
	require.True(t, ok)
	assert.EqualValues(t, 7, seq)

	for _, name := range []string{"salt", "snapshot-x-y.snap", a + ".tmp", "snapshot-00000000000000000007.snap"} {
		_, ok := parseFileName(name)
		assert.False(t, ok, "parseFileName(%q) accepted", name)
	}
}

func TestManager_CreateLoad(t *testing.T) {
	m := newManager(t, Config{})
	created := create(t, m, testState(3, map[string]string{"rx://a": "1", "rx://b": "22"}))
	assert.EqualValues(t, 2, created.ItemCount)
	assert.EqualValues(t, 3, created.Sequence)
	assert.NotEmpty(t, created.Checksum)

	got, info, err := m.Load()
	require.NoError(t, err)
	assert.Equal(t, created.ID, info.ID)
	assert.Equal(t, created.Checksum, info.Checksum)
	assert.EqualValues(t, 2, info.ItemCount)

	v, ok := got.Get("observables", "rx://b")
	require.True(t, ok)
	assert.Equal(t, "22", string(v))

	meta := got.Info()
	assert.Equal(t, "engine-1", meta.ID)
	assert.Equal(t, storage.LineageFull, meta.Lineage)
	assert.EqualValues(t, 3, meta.Sequence)
	assert.True(t, meta.CommittedAt.Equal(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)), "CommittedAt = %v", meta.CommittedAt)
	assert.EqualValues(t, 3, meta.Bytes)
}

func TestManager_EmptyItemDataSurvives(t *testing.T) {
	m := newManager(t, Config{})
	create(t, m, testState(1, map[string]string{"rx://empty": ""}))
	got, _, err := m.Load()
	require.NoError(t, err)

	v, ok := got.Get("observables", "rx://empty")
	require.True(t, ok)
	assert.NotNil(t, v)
	assert.Empty(t, v)
}

func TestManager_Encrypted(t *testing.T) {
	dir := t.TempDir()
	c, err := adaptive.New(bytes.Repeat([]byte{0xA5}, 32))
	require.NoError(t, err)
	m := newManager(t, Config{Dir: dir, Cipher: c})
	info := create(t, m, testState(1, map[string]string{"rx://a": "classified"}))

	raw, err := os.ReadFile(info.Path)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(raw, []byte("classified")), "plaintext item in encrypted snapshot")

	got, _, err := m.Load()
	require.NoError(t, err)
	v, _ := got.Get("observables", "rx://a")
	assert.Equal(t, "classified", string(v))

	_, _, err = newManager(t, Config{Dir: dir}).Load()
	assert.ErrorIs(t, err, ErrCipherRequired)
}

func TestManager_CipherOnPlainSnapshot(t *testing.T) {
	dir := t.TempDir()
	create(t, newManager(t, Config{Dir: dir}), testState(1, nil))

	c, err := adaptive.New(bytes.Repeat([]byte{1}, 32))
	require.NoError(t, err)
	_, _, err = newManager(t, Config{Dir: dir, Cipher: c}).Load()
	assert.ErrorIs(t, err, ErrNotEncrypted)
}

func TestManager_ListOrder(t *testing.T) {
	m := newManager(t, Config{})
	for _, seq := range []uint64{10, 2, 9, 2} {
		create(t, m, testState(seq, nil))
	}
	require.NoError(t, os.WriteFile(filepath.Join(m.cfg.Dir, "notes.txt"), []byte("x"), 0600))

	infos, err := m.List()
	require.NoError(t, err)
	var seqs []uint64
	for _, info := range infos {
		seqs = append(seqs, info.Sequence)
	}
	assert.Equal(t, []uint64{2, 2, 9, 10}, seqs)
}

func TestManager_Prune(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		created int
		removed int
	}{
		{"keeps newest", Config{Retain: 1}, 3, 2},
		{"under retention", Config{Retain: 5}, 3, 0},
		{"max age keeps young files", Config{Retain: 1, MaxAge: time.Hour}, 3, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newManager(t, tt.cfg)
			for i := range tt.created {
				create(t, m, testState(uint64(i+1), map[string]string{"k": "v"}))
			}
			removed, err := m.Prune()
			require.NoError(t, err)
			assert.Equal(t, tt.removed, removed)

			infos, err := m.List()
			require.NoError(t, err)
			require.Len(t, infos, tt.created-tt.removed)
			assert.EqualValues(t, tt.created, infos[len(infos)-1].Sequence, "newest kept")
		})
	}
}

func TestManager_LoadFallsBack(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(raw []byte) []byte
	}{
		{"trailer", func(raw []byte) []byte { raw[len(raw)-1] ^= 0xff; return raw }},
		{"body", func(raw []byte) []byte { raw[len(Magic)+6] ^= 0xff; return raw }},
		{"truncated", func(raw []byte) []byte { return raw[:len(raw)/2] }},
		{"too short", func(raw []byte) []byte { return raw[:4] }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newManager(t, Config{Retain: 5})
			old := create(t, m, testState(1, map[string]string{"old": "1"}))
			latest := create(t, m, testState(2, map[string]string{"new": "2"}))

			raw, err := os.ReadFile(latest.Path)
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(latest.Path, tt.corrupt(raw), 0600))

			got, info, err := m.Load()
			require.NoError(t, err)
			assert.Equal(t, filepath.Base(old.Path), filepath.Base(info.Path), "fallback to previous snapshot")
			_, ok := got.Get("observables", "old")
			assert.True(t, ok, "fallback state misses item: %v", got.Categories())
		})
	}
}

func TestManager_LoadEmpty(t *testing.T) {
	m := newManager(t, Config{})
	_, _, err := m.Load()
	assert.ErrorIs(t, err, ErrNoSnapshots, "empty dir")

	create(t, m, testState(1, nil))
	infos, _ := m.List()
	require.NoError(t, os.WriteFile(infos[0].Path, []byte("garbage"), 0600))
	_, _, err = m.Load()
	assert.ErrorIs(t, err, ErrNoSnapshots, "only damaged files")
}
