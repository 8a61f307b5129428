package mediacast

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// StoreWatcher reloads a file-backed identifier store whenever the backing
// JSON is rewritten outside the process. The list files are human-editable by
// design; without this, an external edit to the recipient registry would only
// be picked up after the next in-process mutation.
type StoreWatcher struct {
	store   interface{ Reload() error }
	path    string
	logger  *slog.Logger
	watcher *fsnotify.Watcher
}

func NewStoreWatcher(store *FileIdentifierStore, logger *slog.Logger) (*StoreWatcher, error) {
	if store == nil {
		return nil, ErrInvalidInput
	}
	if logger == nil {
		logger = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory, not the file: atomic rename-into-place replaces
	// the inode the file watch would be pinned to.
	dir := filepath.Dir(store.Path())
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	return &StoreWatcher{
		store:   store,
		path:    filepath.Clean(store.Path()),
		logger:  logger,
		watcher: watcher,
	}, nil
}

// Run blocks until ctx is done, reloading the store on every write, create or
// rename touching its file. Reload failures are logged, never fatal.
func (w *StoreWatcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if !w.matches(event) {
				continue
			}
			if err := w.store.Reload(); err != nil {
				w.logger.Error("failed to reload identifier store", "path", w.path, "error", err)
				continue
			}
			w.logger.Info("reloaded identifier store after external change", "path", w.path)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("store watcher error", "path", w.path, "error", err)
		}
	}
}

func (w *StoreWatcher) matches(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	// Skip the tmp-file write that precedes our own rename; the rename event
	// for the final path still triggers a reload.
	if strings.HasSuffix(event.Name, ".tmp") {
		return false
	}
	return event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) || event.Op.Has(fsnotify.Rename)
}
