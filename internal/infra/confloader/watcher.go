package confloader

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/yndnr/rxcheckpoint/internal/infra/event"
)

// DefaultDebounce is how long a watched file must stay quiet before a
// change is reported.
const DefaultDebounce = 100 * time.Millisecond

// Watcher reports rewrites of configuration files. Editors that save by
// writing a temp file and renaming it over the original are handled by
// watching the parent directory.
type Watcher struct {
	fs       *fsnotify.Watcher
	log      *slog.Logger
	debounce time.Duration
	changes  event.List[string]

	mu    sync.Mutex
	files map[string]struct{}

	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

func WithWatcherLogger(log *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.log = log }
}

// WithDebounce sets the quiet period; zero or less reports every event.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

func NewWatcher(opts ...WatcherOption) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fs:       fs,
		log:      slog.Default(),
		debounce: DefaultDebounce,
		files:    make(map[string]struct{}),
		closed:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Watch adds path to the watched files.
func (w *Watcher) Watch(path string) error {
	path = filepath.Clean(path)
	if err := w.fs.Add(filepath.Dir(path)); err != nil {
		return err
	}
	w.mu.Lock()
	w.files[path] = struct{}{}
	w.mu.Unlock()
	w.log.Debug("watching configuration file", "path", path)
	return nil
}

// OnChange registers fn and returns a function that removes it. fn runs on
// the goroutine executing Run.
func (w *Watcher) OnChange(fn func(path string)) (unsubscribe func()) {
	return w.changes.Subscribe(fn)
}

// Run delivers change notifications until Close is called. Events for the
// same burst are coalesced into one notification per file.
func (w *Watcher) Run() {
	quiet := time.NewTimer(w.debounce)
	quiet.Stop()
	defer quiet.Stop()

	pending := make(map[string]struct{})
	flush := func() {
		for path := range pending {
			w.changes.Emit(path)
		}
		clear(pending)
	}

	for {
		select {
		case <-w.closed:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			path := filepath.Clean(ev.Name)
			if !w.watched(path) {
				continue
			}
			pending[path] = struct{}{}
			if w.debounce <= 0 {
				flush()
				continue
			}
			quiet.Reset(w.debounce)
		case <-quiet.C:
			flush()
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Warn("configuration watcher error", "error", err)
		}
	}
}

// Close stops Run and releases the underlying watch. Pending notifications
// are dropped. It is safe to call more than once.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		close(w.closed)
		w.closeErr = w.fs.Close()
	})
	return w.closeErr
}

func (w *Watcher) watched(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.files[path]
	return ok
}
