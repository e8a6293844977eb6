package pipeline

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/teranos/qaflow/errors"
)

// RoutesWatcher reloads a route file into a live Routes table when it changes.
// A file that fails to parse is logged and the previous table stays in use.
type RoutesWatcher struct {
	path           string
	routes         *Routes
	watcher        *fsnotify.Watcher
	logger         *zap.SugaredLogger
	mu             sync.Mutex
	debounceTimer  *time.Timer
	debouncePeriod time.Duration
	onReload       func(*Routes)
	started        bool
	done           chan struct{}
}

// NewRoutesWatcher watches path and applies changes to routes.
// The parent directory is watched so editors that replace the file are seen.
func NewRoutesWatcher(path string, routes *Routes, logger *zap.SugaredLogger) (*RoutesWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve %s", path)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create fsnotify watcher")
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, errors.Wrapf(err, "failed to watch routes file %s", abs)
	}

	return &RoutesWatcher{
		path:           abs,
		routes:         routes,
		watcher:        watcher,
		logger:         logger,
		debouncePeriod: 250 * time.Millisecond,
		done:           make(chan struct{}),
	}, nil
}

// OnReload registers a callback run after every successful reload
func (w *RoutesWatcher) OnReload(fn func(*Routes)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReload = fn
}

// Start begins watching in the background
func (w *RoutesWatcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return
	}
	w.started = true
	go w.watchLoop()
}

func (w *RoutesWatcher) watchLoop() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				w.logger.Debugw("Routes file changed", "file", event.Name, "op", event.Op.String())
				w.scheduleReload()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warnw("Routes watcher error", "error", err)
		}
	}
}

func (w *RoutesWatcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debouncePeriod, w.reload)
}

func (w *RoutesWatcher) reload() {
	next, err := LoadRoutes(w.path)
	if err != nil {
		w.logger.Errorw("Routes reload failed, keeping previous table", "file", w.path, "error", err)
		return
	}
	w.routes.Replace(next)
	w.logger.Infow("Routes reloaded", "file", w.path, "version", next.Version())

	w.mu.Lock()
	fn := w.onReload
	w.mu.Unlock()
	if fn != nil {
		fn(w.routes)
	}
}

// Stop stops watching and waits for the watch loop to exit
func (w *RoutesWatcher) Stop() error {
	w.mu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	started := w.started
	w.mu.Unlock()

	err := w.watcher.Close()
	if started {
		<-w.done
	}
	return err
}
