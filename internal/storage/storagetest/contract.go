// Package storagetest holds the behavioral test suite every checkpoint
// store must pass.
package storagetest

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yndnr/rxcheckpoint/internal/storage"
)

// Factory opens a fresh, empty store for one subtest.
type Factory func(t *testing.T) storage.Store

// Run executes the contract suite against the stores produced by open.
func Run(t *testing.T, open Factory) {
	cases := []struct {
		name string
		fn   func(t *testing.T, s storage.Store)
	}{
		{"EmptyRead", testEmptyRead},
		{"FullCommit", testFullCommit},
		{"RollbackKeepsCommitted", testRollbackKeepsCommitted},
		{"Differential", testDifferential},
		{"UpdateWithoutBaseIsFull", testUpdateWithoutBase},
		{"FullReplaces", testFullReplaces},
		{"SingleWriter", testSingleWriter},
		{"ItemLocks", testItemLocks},
		{"WriterDone", testWriterDone},
		{"ReaderIsolation", testReaderIsolation},
		{"Progress", testProgress},
		{"Sequence", testSequence},
		{"InvalidNames", testInvalidNames},
		{"ConcurrentIDs", testConcurrentIDs},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := open(t)
			t.Cleanup(func() { _ = s.Close() })
			tc.fn(t, s)
		})
	}
}

// Put writes one item through w.
func Put(t testing.TB, w storage.StateWriter, category, key string, data []byte) {
	t.Helper()
	iw, err := w.ItemWriter(category, key)
	require.NoError(t, err)
	_, err = iw.Write(data)
	require.NoError(t, err)
	require.NoError(t, iw.Close())
}

// ReadAll returns every item of r keyed by "category/key".
func ReadAll(t testing.TB, r storage.StateReader) map[string]string {
	t.Helper()
	out := make(map[string]string)
	for _, c := range r.Categories() {
		for _, k := range r.Keys(c) {
			out[c+"/"+k] = string(Get(t, r, c, k))
		}
	}
	return out
}

// Get reads one item.
func Get(t testing.TB, r storage.StateReader, category, key string) []byte {
	t.Helper()
	rc, err := r.OpenItem(category, key)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return b
}

func commitItems(t *testing.T, s storage.Store, id string, full bool, items map[string]string, deletes ...string) {
	t.Helper()
	ctx := context.Background()
	var (
		w   storage.StateWriter
		err error
	)
	if full {
		w, err = s.StartNew(ctx, id)
	} else {
		w, err = s.Update(ctx, id)
	}
	require.NoError(t, err)
	for k, v := range items {
		Put(t, w, "cat", k, []byte(v))
	}
	for _, k := range deletes {
		require.NoError(t, w.DeleteItem("cat", k))
	}
	require.NoError(t, w.Commit(ctx, nil))
}

func readCurrent(t *testing.T, s storage.Store, id string) map[string]string {
	t.Helper()
	r, ok, err := s.TryReadCurrent(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)
	defer r.Close()
	return ReadAll(t, r)
}

func testEmptyRead(t *testing.T, s storage.Store) {
	r, ok, err := s.TryReadCurrent(context.Background(), "none")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, r)
}

func testFullCommit(t *testing.T, s storage.Store) {
	commitItems(t, s, "e1", true, map[string]string{"a": "1", "b": "2"})
	assert.Equal(t, map[string]string{"cat/a": "1", "cat/b": "2"}, readCurrent(t, s, "e1"))

	r, ok, err := s.TryReadCurrent(context.Background(), "e1")
	require.NoError(t, err)
	require.True(t, ok)
	defer r.Close()
	info := r.Info()
	assert.Equal(t, "e1", info.ID)
	assert.Equal(t, storage.LineageFull, info.Lineage)
	assert.Equal(t, 2, info.Items)
	assert.EqualValues(t, 2, info.Bytes)
	assert.NotEmpty(t, info.Version)

	_, err = r.OpenItem("cat", "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testRollbackKeepsCommitted(t *testing.T, s storage.Store) {
	ctx := context.Background()
	w, err := s.StartNew(ctx, "e1")
	require.NoError(t, err)
	Put(t, w, "cat", "k", []byte("bytes1"))
	require.NoError(t, w.Commit(ctx, nil))

	w, err = s.Update(ctx, "e1")
	require.NoError(t, err)
	Put(t, w, "cat", "k", []byte("bytes2"))
	require.NoError(t, w.Rollback())

	r, ok, err := s.TryReadCurrent(ctx, "e1")
	require.NoError(t, err)
	require.True(t, ok)
	defer r.Close()
	assert.Equal(t, []byte("bytes1"), Get(t, r, "cat", "k"))
}

func testDifferential(t *testing.T, s storage.Store) {
	commitItems(t, s, "e1", true, map[string]string{"a": "1", "b": "2"})
	commitItems(t, s, "e1", false, map[string]string{"b": "22", "c": "3"}, "a")

	assert.Equal(t, map[string]string{"cat/b": "22", "cat/c": "3"}, readCurrent(t, s, "e1"))

	r, ok, err := s.TryReadCurrent(context.Background(), "e1")
	require.NoError(t, err)
	require.True(t, ok)
	defer r.Close()
	assert.Equal(t, storage.LineageDifferential, r.Info().Lineage)
	assert.Equal(t, 2, r.Info().Items)
}

func testUpdateWithoutBase(t *testing.T, s storage.Store) {
	ctx := context.Background()
	w, err := s.Update(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, storage.LineageFull, w.Lineage())
	Put(t, w, "cat", "a", []byte("1"))
	require.NoError(t, w.Commit(ctx, nil))
	assert.Equal(t, map[string]string{"cat/a": "1"}, readCurrent(t, s, "fresh"))
}

func testFullReplaces(t *testing.T, s storage.Store) {
	commitItems(t, s, "e1", true, map[string]string{"a": "1", "b": "2"})
	commitItems(t, s, "e1", true, map[string]string{"c": "3"})
	assert.Equal(t, map[string]string{"cat/c": "3"}, readCurrent(t, s, "e1"))
}

func testSingleWriter(t *testing.T, s storage.Store) {
	ctx := context.Background()
	w, err := s.StartNew(ctx, "e1")
	require.NoError(t, err)

	_, err = s.StartNew(ctx, "e1")
	assert.ErrorIs(t, err, storage.ErrWriterOpen)
	_, err = s.Update(ctx, "e1")
	assert.ErrorIs(t, err, storage.ErrWriterOpen)

	other, err := s.StartNew(ctx, "e2")
	require.NoError(t, err)
	require.NoError(t, other.Rollback())

	require.NoError(t, w.Rollback())
	w, err = s.StartNew(ctx, "e1")
	require.NoError(t, err)
	require.NoError(t, w.Rollback())
}

func testItemLocks(t *testing.T, s storage.Store) {
	ctx := context.Background()
	w, err := s.StartNew(ctx, "e1")
	require.NoError(t, err)
	defer w.Rollback()

	iw, err := w.ItemWriter("cat", "k")
	require.NoError(t, err)
	_, err = w.ItemWriter("cat", "k")
	assert.ErrorIs(t, err, storage.ErrItemLocked)
	assert.ErrorIs(t, w.DeleteItem("cat", "k"), storage.ErrItemLocked)
	assert.ErrorIs(t, w.Commit(ctx, nil), storage.ErrItemOpen)

	require.NoError(t, iw.Close())
	iw, err = w.ItemWriter("cat", "k")
	require.NoError(t, err)
	_, err = iw.Write([]byte("second"))
	require.NoError(t, err)
	require.NoError(t, iw.Close())
	require.NoError(t, w.Commit(ctx, nil))

	assert.Equal(t, map[string]string{"cat/k": "second"}, readCurrent(t, s, "e1"))
}

func testWriterDone(t *testing.T, s storage.Store) {
	ctx := context.Background()
	w, err := s.StartNew(ctx, "e1")
	require.NoError(t, err)
	require.NoError(t, w.Commit(ctx, nil))

	_, err = w.ItemWriter("cat", "k")
	assert.ErrorIs(t, err, storage.ErrWriterDone)
	assert.ErrorIs(t, w.DeleteItem("cat", "k"), storage.ErrWriterDone)
	assert.ErrorIs(t, w.Commit(ctx, nil), storage.ErrWriterDone)
	assert.ErrorIs(t, w.Rollback(), storage.ErrWriterDone)

	r, ok, err := s.TryReadCurrent(ctx, "e1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, r.Categories())
	require.NoError(t, r.Close())
}

func testReaderIsolation(t *testing.T, s storage.Store) {
	ctx := context.Background()
	commitItems(t, s, "e1", true, map[string]string{"a": "old"})

	r, ok, err := s.TryReadCurrent(ctx, "e1")
	require.NoError(t, err)
	require.True(t, ok)

	commitItems(t, s, "e1", false, map[string]string{"a": "new", "b": "x"})

	assert.Equal(t, map[string]string{"cat/a": "old"}, ReadAll(t, r))
	require.NoError(t, r.Close())
	assert.Equal(t, map[string]string{"cat/a": "new", "cat/b": "x"}, readCurrent(t, s, "e1"))
}

func testProgress(t *testing.T, s storage.Store) {
	ctx := context.Background()
	w, err := s.StartNew(ctx, "e1")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		Put(t, w, "cat", fmt.Sprintf("k%d", i), []byte("v"))
	}

	var mu sync.Mutex
	var last, total int
	require.NoError(t, w.Commit(ctx, func(done, n int) {
		mu.Lock()
		defer mu.Unlock()
		last, total = done, n
	}))
	assert.Equal(t, 5, total)
	assert.Equal(t, 5, last)
}

func testSequence(t *testing.T, s storage.Store) {
	var versions []string
	for i := 0; i < 3; i++ {
		commitItems(t, s, "e1", i == 0, map[string]string{"a": fmt.Sprint(i)})
		r, ok, err := s.TryReadCurrent(context.Background(), "e1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.EqualValues(t, i+1, r.Info().Sequence)
		versions = append(versions, r.Info().Version)
		require.NoError(t, r.Close())
	}
	assert.NotEqual(t, versions[0], versions[1])
	assert.NotEqual(t, versions[1], versions[2])
}

func testInvalidNames(t *testing.T, s storage.Store) {
	ctx := context.Background()
	_, err := s.StartNew(ctx, "")
	assert.ErrorIs(t, err, storage.ErrInvalidName)

	w, err := s.StartNew(ctx, "e1")
	require.NoError(t, err)
	defer w.Rollback()
	_, err = w.ItemWriter("", "k")
	assert.ErrorIs(t, err, storage.ErrInvalidName)
	_, err = w.ItemWriter("cat", "a\x00b")
	assert.ErrorIs(t, err, storage.ErrInvalidName)
}

func testConcurrentIDs(t *testing.T, s storage.Store) {
	ctx := context.Background()
	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("engine-%d", i)
			w, err := s.StartNew(ctx, id)
			if err != nil {
				errs <- err
				return
			}
			for j := 0; j < 20; j++ {
				iw, err := w.ItemWriter("cat", fmt.Sprintf("k%d", j))
				if err != nil {
					errs <- err
					return
				}
				_, _ = iw.Write([]byte(id))
				_ = iw.Close()
			}
			errs <- w.Commit(ctx, nil)
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	for i := 0; i < 8; i++ {
		items := readCurrent(t, s, fmt.Sprintf("engine-%d", i))
		assert.Len(t, items, 20)
	}
}
