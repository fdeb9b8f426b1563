package localserver

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// socketPath returns a short path; unix socket paths are length limited.
func socketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "rxls")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "admin.sock")
}

func unixClient(path string) *http.Client {
	return &http.Client{
		Timeout: 2 * time.Second,
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", path)
			},
		},
	}
}

func start(t *testing.T, s *Server) chan error {
	t.Helper()
	ln, err := s.Listen()
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- s.Serve(ln) }()
	return done
}

func TestServer_ServeAndShutdown(t *testing.T) {
	path := socketPath(t)
	s := New(path, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "ok "+r.URL.Path)
	}), quiet)
	assert.Equal(t, path, s.Path())
	done := start(t, s)

	fi, err := os.Stat(path)
	require.NoError(t, err, "socket not created")
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())

	resp, err := unixClient(path).Get("http://local/admin/v1/status/summary")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "ok /admin/v1/status/summary", string(body))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	assert.NoError(t, <-done)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "socket file should be removed, stat err = %v", err)
}

func TestServer_ReplacesStaleSocket(t *testing.T) {
	path := socketPath(t)

	// A listener closed without unlinking leaves a stale socket file.
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	ln.(*net.UnixListener).SetUnlinkOnClose(false)
	ln.Close()

	s := New(path, http.NotFoundHandler(), quiet)
	start(t, s)
	defer s.Shutdown(context.Background())

	_, err = unixClient(path).Get("http://local/")
	assert.NoError(t, err)
}

func TestServer_RefusesLiveSocket(t *testing.T) {
	path := socketPath(t)
	first := New(path, http.NotFoundHandler(), quiet)
	start(t, first)
	defer first.Shutdown(context.Background())

	_, err := New(path, http.NotFoundHandler(), quiet).Listen()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "in use")
}

func TestServer_RefusesRegularFile(t *testing.T) {
	path := socketPath(t)
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	_, err := New(path, http.NotFoundHandler(), quiet).Listen()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a socket")
}

func TestServer_ShutdownWithoutListen(t *testing.T) {
	s := New(socketPath(t), http.NotFoundHandler(), nil)
	assert.NoError(t, s.Shutdown(context.Background()))
}
