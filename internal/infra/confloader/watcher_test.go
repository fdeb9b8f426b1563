package confloader

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runWatcher watches a fresh config.yaml and runs the watcher until the
// test ends.
func runWatcher(t *testing.T, debounce time.Duration) (w *Watcher, path string) {
	t.Helper()
	path = filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, "a: 0")

	w, err := NewWatcher(
		WithWatcherLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithDebounce(debounce),
	)
	require.NoError(t, err)
	require.NoError(t, w.Watch(path))
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run()
	}()
	t.Cleanup(func() {
		_ = w.Close()
		<-done
	})
	time.Sleep(50 * time.Millisecond)
	return w, path
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestNewWatcher_Defaults(t *testing.T) {
	w, err := NewWatcher()
	require.NoError(t, err)
	defer w.Close()
	assert.Equal(t, DefaultDebounce, w.debounce)
	assert.NotNil(t, w.log)
	assert.Error(t, w.Watch("/nonexistent/dir/config.yaml"), "missing directory")
}

func TestWatcher_ReportsWrite(t *testing.T) {
	w, path := runWatcher(t, 20*time.Millisecond)
	changed := make(chan string, 8)
	w.OnChange(func(p string) { changed <- p })

	writeFile(t, path, "a: 1")
	select {
	case got := <-changed:
		assert.Equal(t, path, got)
	case <-time.After(2 * time.Second):
		t.Fatal("no notification within 2s")
	}
}

func TestWatcher_ReportsRenameOver(t *testing.T) {
	w, path := runWatcher(t, 20*time.Millisecond)
	changed := make(chan string, 8)
	w.OnChange(func(p string) { changed <- p })

	tmp := path + ".tmp"
	writeFile(t, tmp, "a: 2")
	require.NoError(t, os.Rename(tmp, path))
	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("no notification for an atomic replace")
	}
}

func TestWatcher_IgnoresSiblings(t *testing.T) {
	w, path := runWatcher(t, 0)
	var calls atomic.Int32
	w.OnChange(func(string) { calls.Add(1) })

	writeFile(t, filepath.Join(filepath.Dir(path), "other.yaml"), "b: 1")
	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, calls.Load(), "callbacks for an unwatched file")
}

func TestWatcher_CoalescesBurst(t *testing.T) {
	w, path := runWatcher(t, 150*time.Millisecond)
	var calls atomic.Int32
	w.OnChange(func(string) { calls.Add(1) })

	for i := range 5 {
		writeFile(t, path, "a: "+string(rune('1'+i)))
		time.Sleep(10 * time.Millisecond)
	}
	time.Sleep(500 * time.Millisecond)
	assert.EqualValues(t, 1, calls.Load(), "callbacks for one burst")
}

func TestWatcher_Unsubscribe(t *testing.T) {
	w, err := NewWatcher()
	require.NoError(t, err)
	defer w.Close()

	var calls atomic.Int32
	unsubscribe := w.OnChange(func(string) { calls.Add(1) })
	w.changes.Emit("x")
	unsubscribe()
	w.changes.Emit("x")
	assert.EqualValues(t, 1, calls.Load())
}

func TestWatcher_CloseTwice(t *testing.T) {
	w, err := NewWatcher()
	require.NoError(t, err)
	done := make(chan struct{})
	go func() {
		w.Run()
		close(done)
	}()
	require.NoError(t, w.Close())
	require.NoError(t, w.Close(), "second Close")
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Close")
	}
}
