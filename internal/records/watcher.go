package records

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/arvore/internal/storage"
)

// EventCallback is called after a watcher-driven fixture change.
// kind is one of "created", "updated", "deleted".
type EventCallback func(kind string, cpf string)

// Watch starts an fsnotify watcher on the fixture root and keeps src in sync
// until ctx is cancelled. It calls cb (if non-nil) for every identifier whose
// record changed.
//
// Rename events trigger a debounced full Sync, since fsnotify only reports
// the old path.
func Watch(ctx context.Context, src *FileSource, root string, logger *slog.Logger, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := addDirsRecursive(w, root); err != nil {
		return err
	}

	logger.Info("watcher: started", slog.String("root", root))

	var resyncTimer *time.Timer
	var resyncCh <-chan time.Time

	scheduleResync := func() {
		if resyncTimer == nil {
			resyncTimer = time.NewTimer(200 * time.Millisecond)
			resyncCh = resyncTimer.C
		} else {
			resyncTimer.Reset(200 * time.Millisecond)
		}
	}

	notify := func(kind, id string) {
		if cb != nil && id != "" {
			cb(kind, id)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if resyncTimer != nil {
				resyncTimer.Stop()
			}
			logger.Info("watcher: stopped")
			return nil

		case <-resyncCh:
			changed, err := src.Sync()
			if err != nil {
				logger.Warn("watcher: resync failed", slog.String("error", err.Error()))
				continue
			}
			for _, id := range changed {
				notify("updated", id)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}

			if ev.Op&fsnotify.Create != 0 {
				if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
					if addErr := addDirsRecursive(w, ev.Name); addErr != nil {
						logger.Warn("watcher: add new dir failed",
							slog.String("path", ev.Name),
							slog.String("error", addErr.Error()))
					}
					scheduleResync()
					continue
				}
			}

			name := filepath.Base(ev.Name)
			if name == "" || name[0] == '.' || !storage.IsRecordFile(name) {
				continue
			}
			rel, relErr := filepath.Rel(root, ev.Name)
			if relErr != nil {
				continue
			}
			rel = filepath.ToSlash(rel)

			switch {
			case ev.Op&(fsnotify.Create|fsnotify.Write) != 0:
				id, loadErr := src.Reload(rel)
				if loadErr != nil {
					logger.Warn("watcher: reload failed", slog.String("path", rel), slog.String("error", loadErr.Error()))
					continue
				}
				kind := "updated"
				if ev.Op&fsnotify.Create != 0 {
					kind = "created"
				}
				logger.Debug("watcher: reloaded", slog.String("path", rel), slog.String("op", kind))
				notify(kind, id)

			case ev.Op&fsnotify.Remove != 0:
				notify("deleted", src.Remove(rel))

			case ev.Op&fsnotify.Rename != 0:
				notify("deleted", src.Remove(rel))
				scheduleResync()
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// addDirsRecursive adds root and all its subdirectories to the watcher.
func addDirsRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
