package engine

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchDebounce delays recompiling after the last write to a file.
var WatchDebounce = 100 * time.Millisecond

// Watch recompiles scripts under the scripts directory as they change and
// unpublishes removed ones. It blocks until ctx is cancelled.
func (e *Engine) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	dir, err := filepath.Abs(e.cfg.ScriptsDir)
	if err != nil {
		return err
	}
	if err := watchDirRecursive(watcher, dir); err != nil {
		return err
	}
	e.logger.Info("watching scripts", "dir", dir)

	var mu sync.Mutex
	timers := make(map[string]*time.Timer)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			mu.Lock()
			for _, t := range timers {
				if t.Stop() {
					wg.Done()
				}
			}
			mu.Unlock()
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = watchDirRecursive(watcher, event.Name)
					continue
				}
			}
			if !IsScript(event.Name) {
				continue
			}
			path := event.Name

			// Debounce
			mu.Lock()
			if t, ok := timers[path]; ok && t.Stop() {
				wg.Done()
			}
			wg.Add(1)
			timers[path] = time.AfterFunc(WatchDebounce, func() {
				defer wg.Done()
				mu.Lock()
				delete(timers, path)
				mu.Unlock()
				e.handleChange(ctx, path)
			})
			mu.Unlock()

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			e.logger.Error("watcher error", "error", err)
		}
	}
}

func (e *Engine) handleChange(ctx context.Context, path string) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		if p, ok := e.registry.GetByPath(path); ok {
			if err := e.Unpublish(ctx, p.Name); err != nil {
				e.logger.Warn("unpublish failed", "script", p.Name, "error", err)
			}
		}
		return
	}

	e.logger.Debug("file changed, recompiling", "file", path)
	e.Invalidate(path)
	if _, err := e.Compile(ctx, path); err != nil {
		e.logger.Error("compile failed", "path", path, "error", err)
	}
}

// watchDirRecursive adds a directory and all subdirectories to the watcher.
func watchDirRecursive(watcher *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
}
