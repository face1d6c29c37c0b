package reload

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/toolgate/toolgate/pkg/logging"
)

// Watcher monitors the backend store file and triggers a reload when it
// changes.
type Watcher struct {
	path     string
	onChange func() error
	logger   *slog.Logger
	debounce time.Duration
}

// NewWatcher creates a file watcher for the given store path. onChange is
// called after debouncing.
func NewWatcher(path string, onChange func() error) *Watcher {
	return &Watcher{
		path:     path,
		onChange: onChange,
		logger:   logging.NewDiscardLogger(),
		debounce: 300 * time.Millisecond,
	}
}

// SetLogger sets the logger for watcher events.
func (w *Watcher) SetLogger(logger *slog.Logger) {
	if logger != nil {
		w.logger = logger
	}
}

// SetDebounce sets the debounce duration for file changes.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Watch blocks until the context is cancelled.
//
// The parent directory is watched rather than the file itself: editors and
// the gateway's own store both save atomically (write temp file, rename
// over target), and fsnotify loses track of a file replaced by rename.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	filename := filepath.Base(w.path)

	if err := watcher.Add(dir); err != nil {
		return err
	}

	w.logger.Info("watching store for changes", "path", w.path)

	var debounceTimer *time.Timer
	var debounceChan <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("stopping store watcher")
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != filename {
				continue
			}

			// Create covers atomic saves, Write covers in-place edits.
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				w.logger.Debug("store file changed", "event", event.Op.String())
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.NewTimer(w.debounce)
				debounceChan = debounceTimer.C
			}

		case <-debounceChan:
			w.logger.Info("store change detected, reloading")
			if err := w.onChange(); err != nil {
				w.logger.Error("reload failed", "error", err)
			}
			debounceChan = nil

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}
