package localserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync/atomic"
)

// Server is the local admin server.
type Server struct {
	path       string
	httpServer *http.Server
	logger     *slog.Logger
	listening  atomic.Bool
}

// New creates a server for handler on the socket at socketPath.
func New(socketPath string, handler http.Handler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		path:       socketPath,
		httpServer: &http.Server{Handler: handler},
		logger:     logger,
	}
}

// Path returns the socket path.
func (s *Server) Path() string { return s.path }

// Listen creates the socket. A stale socket file left by a crashed server
// is replaced; a live one is an error.
func (s *Server) Listen() (net.Listener, error) {
	if err := removeStale(s.path); err != nil {
		return nil, err
	}
	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(s.path, 0o600); err != nil {
		ln.Close()
		return nil, fmt.Errorf("localserver: chmod socket: %w", err)
	}
	s.listening.Store(true)
	return ln, nil
}

// ListenAndServe creates the socket and serves until Shutdown. It returns
// nil after Shutdown.
func (s *Server) ListenAndServe() error {
	ln, err := s.Listen()
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln. It returns nil after Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("local admin socket listening", "path", s.path)
	err := s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains open requests and removes the socket file.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.listening.Swap(false) {
		if rmErr := os.Remove(s.path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) && err == nil {
			err = rmErr
		}
	}
	return err
}

func removeStale(path string) error {
	fi, err := os.Lstat(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if fi.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("localserver: %s exists and is not a socket", path)
	}
	if conn, err := net.Dial("unix", path); err == nil {
		conn.Close()
		return fmt.Errorf("localserver: %s is in use", path)
	}
	return os.Remove(path)
}
