package backend

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yndnr/rxcheckpoint/internal/storage"
	"github.com/yndnr/rxcheckpoint/internal/storage/storagetest"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func open(t *testing.T, backend string) storage.Store {
	t.Helper()
	s, err := Open(Config{
		Backend:    backend,
		DataDir:    t.TempDir(),
		Logger:     discard,
		Registerer: prometheus.NewRegistry(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func commit(t *testing.T, s storage.Store, id string, items map[string]string) {
	t.Helper()
	ctx := context.Background()
	w, err := s.StartNew(ctx, id)
	require.NoError(t, err)
	for k, v := range items {
		storagetest.Put(t, w, "subscriptions", k, []byte(v))
	}
	require.NoError(t, w.Commit(ctx, nil))
}

func TestOpen(t *testing.T) {
	for _, backend := range []string{Memory, Badger, SQLite, File} {
		t.Run(backend, func(t *testing.T) {
			s := open(t, backend)
			commit(t, s, "default", map[string]string{"a": "1", "b": "2"})
			commit(t, s, "archive", map[string]string{"c": "3"})

			r, ok, err := s.TryReadCurrent(context.Background(), "default")
			require.NoError(t, err)
			require.True(t, ok)
			defer r.Close()
			assert.Equal(t, map[string]string{
				"subscriptions/a": "1",
				"subscriptions/b": "2",
			}, storagetest.ReadAll(t, r))

			infos, err := List(context.Background(), s)
			require.NoError(t, err)
			require.Len(t, infos, 2)
			assert.Equal(t, "archive", infos[0].ID)
			assert.Equal(t, "default", infos[1].ID)
			assert.Equal(t, 2, infos[1].Items)
		})
	}
}

func TestOpenErrors(t *testing.T) {
	_, err := Open(Config{Backend: "tape", DataDir: t.TempDir()})
	assert.ErrorContains(t, err, "unknown backend")

	_, err = Open(Config{Backend: Badger})
	assert.ErrorContains(t, err, "data directory")
}

func TestPath(t *testing.T) {
	tests := []struct {
		backend string
		want    string
	}{
		{Memory, ""},
		{Badger, "/data/badger"},
		{SQLite, "/data/checkpoints.db"},
		{File, "/data/files"},
	}
	for _, tt := range tests {
		got, err := Path(tt.backend, "/data")
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.backend)
	}
}

func TestListEmpty(t *testing.T) {
	infos, err := List(context.Background(), open(t, Memory))
	require.NoError(t, err)
	assert.Empty(t, infos)
}
