package observer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher re-observes files under FS.Root whenever they are created or
// written, until its context is cancelled.
type Watcher struct {
	FS *FS

	// Ready, if set, is closed once the watches are installed.
	Ready chan struct{}
}

// Name implements Observer.
func (w *Watcher) Name() string {
	return "watch"
}

// Observe installs watches on Root and every directory below it, then
// observes changed files through the same path as FS. It returns nil
// when ctx is cancelled or the budget is exhausted.
func (w *Watcher) Observe(ctx context.Context, h Handle, b *Budget) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	defer fw.Close()

	root, err := filepath.Abs(w.FS.Root)
	if err != nil {
		return fmt.Errorf("watch: resolve root: %w", err)
	}
	if err := addTree(fw, root); err != nil {
		return err
	}
	if w.Ready != nil {
		close(w.Ready)
	}

	log := w.FS.logger()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Warn("watch error", zap.Error(err))
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
				continue
			}
			info, err := os.Stat(ev.Name)
			if err != nil {
				continue
			}
			if info.IsDir() {
				if ev.Has(fsnotify.Create) {
					if err := addTree(fw, ev.Name); err != nil {
						log.Warn("watch directory", zap.String("path", ev.Name), zap.Error(err))
					}
				}
				continue
			}
			if !info.Mode().IsRegular() {
				continue
			}
			_, err = w.FS.observeFile(ctx, h, b, ev.Name)
			switch {
			case errors.Is(err, ErrExhausted):
				return nil
			case errors.Is(err, context.Canceled):
				return nil
			case err != nil:
				return err
			}
		}
	}
}

func addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := fw.Add(path); err != nil {
				return fmt.Errorf("watch %s: %w", path, err)
			}
		}
		return nil
	})
}
