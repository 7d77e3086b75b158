package universe

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

const reimportDelay = 500 * time.Millisecond

// ImportWatcher re-imports a CSV file whenever it changes on disk.
type ImportWatcher struct {
	store   *Store
	path    string
	log     *logrus.Entry
	watcher *fsnotify.Watcher
}

// NewImportWatcher watches path. The parent directory is watched so editors
// that replace the file are noticed too.
func NewImportWatcher(store *Store, path string, log *logrus.Logger) (*ImportWatcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	path = filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}
	return &ImportWatcher{
		store:   store,
		path:    path,
		log:     log.WithFields(logrus.Fields{"component": "universe", "path": path}),
		watcher: watcher,
	}, nil
}

// Run processes file events until ctx is done. Bursts of events are
// coalesced into one import.
func (w *ImportWatcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
				pending = time.After(reimportDelay)
			}

		case <-pending:
			pending = nil
			n, err := w.store.ImportFile(ctx, w.path)
			if err != nil {
				w.log.WithError(err).Warn("Re-import failed")
				continue
			}
			w.log.WithField("systems", n).Info("Universe data re-imported")

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Error("Watcher error")
		}
	}
}
