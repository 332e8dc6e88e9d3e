package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"aegisflux/agents/hids/internal/logging"
	"aegisflux/agents/hids/internal/model"
)

// ErrNoWatchRoots is returned when none of the configured roots can be watched
var ErrNoWatchRoots = errors.New("no watchable paths")

// DefaultRenameGrace is how long a rename waits for its matching create
const DefaultRenameGrace = 250 * time.Millisecond

// FileWatcher reports filesystem changes below a set of roots, recursively.
// A rename followed by a create is reported as one move; a rename with no
// create inside the grace period left the watched tree and is reported as a delete.
type FileWatcher struct {
	roots       []string
	renameGrace time.Duration
	logger      *logging.Logger

	mu   sync.Mutex
	dirs map[string]struct{}
	add  func(string) error
	drop func(string) error
}

// NewFileWatcher creates a watcher over roots
func NewFileWatcher(roots []string, logger *logging.Logger) *FileWatcher {
	return &FileWatcher{
		roots:       roots,
		renameGrace: DefaultRenameGrace,
		logger:      logger.WithComponent("file_watcher"),
		dirs:        make(map[string]struct{}),
	}
}

// Events starts watching and returns the event stream, closed when ctx ends
func (w *FileWatcher) Events(ctx context.Context) (<-chan model.FileEvent, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem watcher: %w", err)
	}
	w.add = watcher.Add
	w.drop = watcher.Remove

	watched := 0
	for _, root := range w.roots {
		info, err := os.Stat(root)
		if err != nil || !info.IsDir() {
			w.logger.Warn("Skipping watch path", "path", root, "error", err)
			continue
		}
		w.addTree(root)
		watched++
	}
	if watched == 0 {
		watcher.Close()
		return nil, ErrNoWatchRoots
	}

	out := make(chan model.FileEvent, 256)
	go func() {
		defer watcher.Close()
		w.run(ctx, watcher.Events, watcher.Errors, out)
	}()
	return out, nil
}

// WatchedDirs returns the number of directories currently watched
func (w *FileWatcher) WatchedDirs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.dirs)
}

// addTree watches root and every directory below it
func (w *FileWatcher) addTree(root string) {
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// unreadable subtree; keep walking the rest
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if addErr := w.add(path); addErr != nil {
			w.logger.Debug("Failed to watch directory", "path", path, "error", addErr)
			return nil
		}
		w.mu.Lock()
		w.dirs[path] = struct{}{}
		w.mu.Unlock()
		return nil
	})
}

func (w *FileWatcher) forgetDir(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.dirs[path]; !ok {
		return false
	}
	prefix := path + string(filepath.Separator)
	for dir := range w.dirs {
		if dir == path || (len(dir) > len(prefix) && dir[:len(prefix)] == prefix) {
			delete(w.dirs, dir)
		}
	}
	return true
}

type pendingRename struct {
	path  string
	isDir bool
}

func (w *FileWatcher) run(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error, out chan<- model.FileEvent) {
	defer close(out)

	var pending *pendingRename
	grace := time.NewTimer(time.Hour)
	grace.Stop()
	defer grace.Stop()

	emit := func(ev model.FileEvent) bool {
		ev.Time = time.Now()
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
	flush := func() bool {
		if pending == nil {
			return true
		}
		p := pending
		pending = nil
		grace.Stop()
		return emit(model.FileEvent{Op: model.FileDeleted, Path: p.path, IsDir: p.isDir})
	}

	for {
		select {
		case <-ctx.Done():
			return

		case err, ok := <-errs:
			if !ok {
				return
			}
			w.logger.Warn("Filesystem watcher error", "error", err)

		case <-grace.C:
			if !flush() {
				return
			}

		case event, ok := <-events:
			if !ok {
				return
			}

			switch {
			case event.Op&fsnotify.Create == fsnotify.Create:
				isDir := false
				if info, err := os.Lstat(event.Name); err == nil && info.IsDir() {
					isDir = true
					w.addTree(event.Name)
				}
				if pending != nil {
					src := pending.path
					pending = nil
					grace.Stop()
					if !emit(model.FileEvent{Op: model.FileMoved, Path: src, DestPath: event.Name, IsDir: isDir}) {
						return
					}
					continue
				}
				if !emit(model.FileEvent{Op: model.FileCreated, Path: event.Name, IsDir: isDir}) {
					return
				}

			case event.Op&fsnotify.Write == fsnotify.Write, event.Op&fsnotify.Chmod == fsnotify.Chmod:
				if !emit(model.FileEvent{Op: model.FileModified, Path: event.Name, IsDir: w.isDir(event.Name)}) {
					return
				}

			case event.Op&fsnotify.Remove == fsnotify.Remove:
				if !flush() {
					return
				}
				isDir := w.forgetDir(event.Name)
				if !emit(model.FileEvent{Op: model.FileDeleted, Path: event.Name, IsDir: isDir}) {
					return
				}

			case event.Op&fsnotify.Rename == fsnotify.Rename:
				if !flush() {
					return
				}
				isDir := w.forgetDir(event.Name)
				if isDir && w.drop != nil {
					_ = w.drop(event.Name)
				}
				pending = &pendingRename{path: event.Name, isDir: isDir}
				grace.Reset(w.renameGrace)
			}
		}
	}
}

func (w *FileWatcher) isDir(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.dirs[path]
	return ok
}
