package tlsroots

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the burst of events a certificate rotation
// produces.
const DefaultDebounce = 500 * time.Millisecond

// KeyPair is a serving certificate that follows its files on disk.
type KeyPair struct {
	certFile string
	keyFile  string
	cert     atomic.Pointer[tls.Certificate]
	reloads  atomic.Uint64
	logger   *slog.Logger
	debounce time.Duration

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	timer   *time.Timer
	done    chan struct{}
	stopped bool
}

// Option configures a KeyPair.
type Option func(*KeyPair)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(kp *KeyPair) { kp.logger = logger }
}

// WithDebounce sets the reload debounce.
func WithDebounce(d time.Duration) Option {
	return func(kp *KeyPair) { kp.debounce = d }
}

// NewKeyPair loads certFile and keyFile. Watching starts with Start.
func NewKeyPair(certFile, keyFile string, opts ...Option) (*KeyPair, error) {
	kp := &KeyPair{
		certFile: certFile,
		keyFile:  keyFile,
		logger:   slog.Default(),
		debounce: DefaultDebounce,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(kp)
	}
	if err := kp.Reload(); err != nil {
		return nil, fmt.Errorf("tlsroots: initial load: %w", err)
	}
	return kp, nil
}

// Reload reads the files again. On failure the previous certificate stays
// in use.
func (kp *KeyPair) Reload() error {
	cert, err := tls.LoadX509KeyPair(kp.certFile, kp.keyFile)
	if err != nil {
		return fmt.Errorf("load key pair: %w", err)
	}
	kp.cert.Store(&cert)
	kp.reloads.Add(1)
	return nil
}

// Reloads returns how many times the pair was loaded, the initial load
// included.
func (kp *KeyPair) Reloads() uint64 {
	return kp.reloads.Load()
}

// GetCertificate implements tls.Config.GetCertificate.
func (kp *KeyPair) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return kp.cert.Load(), nil
}

// Start watches the directories holding the files. Directories rather
// than files are watched so rename-into-place rotations are seen.
func (kp *KeyPair) Start() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("tlsroots: create watcher: %w", err)
	}
	dirs := []string{filepath.Dir(kp.certFile)}
	if d := filepath.Dir(kp.keyFile); d != dirs[0] {
		dirs = append(dirs, d)
	}
	for _, d := range dirs {
		if err := w.Add(d); err != nil {
			w.Close()
			return fmt.Errorf("tlsroots: watch %s: %w", d, err)
		}
	}

	kp.mu.Lock()
	kp.watcher = w
	kp.mu.Unlock()

	go kp.loop(w)
	kp.logger.Info("certificate watcher started", "cert_file", kp.certFile, "key_file", kp.keyFile)
	return nil
}

func (kp *KeyPair) loop(w *fsnotify.Watcher) {
	certBase := filepath.Base(kp.certFile)
	keyBase := filepath.Base(kp.keyFile)
	for {
		select {
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			base := filepath.Base(ev.Name)
			if base != certBase && base != keyBase {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			kp.schedule()
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			kp.logger.Error("certificate watcher error", "error", err)
		case <-kp.done:
			return
		}
	}
}

func (kp *KeyPair) schedule() {
	kp.mu.Lock()
	defer kp.mu.Unlock()
	if kp.stopped {
		return
	}
	if kp.timer != nil {
		kp.timer.Stop()
	}
	kp.timer = time.AfterFunc(kp.debounce, func() {
		if err := kp.Reload(); err != nil {
			kp.logger.Error("certificate reload failed", "error", err, "cert_file", kp.certFile)
			return
		}
		kp.logger.Info("certificate reloaded", "cert_file", kp.certFile)
	})
}

// Stop ends watching. It is safe to call more than once.
func (kp *KeyPair) Stop() error {
	kp.mu.Lock()
	defer kp.mu.Unlock()
	if kp.stopped {
		return nil
	}
	kp.stopped = true
	close(kp.done)
	if kp.timer != nil {
		kp.timer.Stop()
	}
	if kp.watcher != nil {
		return kp.watcher.Close()
	}
	return nil
}
