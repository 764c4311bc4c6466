package sheets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	// watcherDebounceInterval is how often the watcher checks whether a
	// burst of filesystem events has settled.
	watcherDebounceInterval = 500 * time.Millisecond

	// watcherSettle is how long the file must be quiet before it is read.
	watcherSettle = 300 * time.Millisecond
)

// hashSource reports the hash of the content the sync itself last wrote.
type hashSource interface {
	Path() string
	LastWriteHash() string
}

// Watcher monitors the CSV sheet file and calls onChange when its content
// changes for a reason other than the store's own write.
type Watcher struct {
	store    hashSource
	onChange func()
	logger   *slog.Logger

	lastSeen string
}

// NewWatcher creates a watcher for the file behind store.
func NewWatcher(store *CSVStore, onChange func(), logger *slog.Logger) *Watcher {
	return &Watcher{
		store:    store,
		onChange: onChange,
		logger:   logger,
	}
}

// Watch blocks until ctx is cancelled. The parent directory is watched
// rather than the file because atomic writes replace the file's inode.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(w.store.Path())
	dir := filepath.Dir(target)

	if err := os.MkdirAll(dir, csvDirPerm); err != nil {
		return fmt.Errorf("creating sheet dir: %w", err)
	}

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}

	w.lastSeen = w.currentHash()

	w.logger.Info("sheet file watcher started", slog.String("path", target))

	var pending time.Time

	ticker := time.NewTicker(watcherDebounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed unexpectedly")
			}

			if filepath.Clean(event.Name) != target {
				continue
			}

			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Rename) {
				pending = time.Now()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed unexpectedly")
			}

			w.logger.Warn("watcher error", slog.String("error", err.Error()))

		case <-ticker.C:
			if pending.IsZero() || time.Since(pending) < watcherSettle {
				continue
			}

			pending = time.Time{}
			w.handleChange()
		}
	}
}

func (w *Watcher) handleChange() {
	h := w.currentHash()
	if h == "" || h == w.lastSeen {
		return
	}

	w.lastSeen = h

	// Our own write echoing back through fsnotify.
	if h == w.store.LastWriteHash() {
		return
	}

	w.logger.Debug("sheet file changed externally", slog.String("path", w.store.Path()))
	w.onChange()
}

func (w *Watcher) currentHash() string {
	data, err := os.ReadFile(w.store.Path())
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			w.logger.Warn("reading sheet file", slog.String("error", err.Error()))
		}

		return ""
	}

	h := sha256.Sum256(data)

	return hex.EncodeToString(h[:])
}
