package routing

import (
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the routing rules file when it changes on disk.
type Watcher struct {
	router  *Router
	path    string
	logger  *slog.Logger
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher creates a rules-file watcher. Watching the directory rather
// than the file keeps reloads working across editors and config
// management tools that replace files atomically.
func NewWatcher(router *Router, path string, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}

	if logger == nil {
		logger = slog.Default()
	}

	w := &Watcher{
		router:  router,
		path:    path,
		logger:  logger.With("component", "routing.watcher"),
		watcher: fsw,
		done:    make(chan struct{}),
	}

	go w.loop()
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *Watcher) loop() {
	// Debounce: editors produce bursts of write events per save.
	var pending <-chan time.Time

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(250 * time.Millisecond)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("rules watcher error", "error", err)

		case <-pending:
			pending = nil
			rules, err := LoadRules(w.path)
			if err != nil {
				// Keep serving the previous rules on a bad reload.
				w.logger.Error("rules reload failed, keeping previous rules",
					"path", w.path,
					"error", err,
				)
				continue
			}
			w.router.ReplaceRules(rules)
		}
	}
}
