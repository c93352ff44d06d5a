package engine

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Extensions are the script file extensions Discover compiles.
var Extensions = []string{".bas", ".gbdialog"}

// IsScript reports whether path has a script extension.
func IsScript(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, e := range Extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// DiscoveryOptions configures the discovery process.
type DiscoveryOptions struct {
	ForceFullRefresh bool   // Ignore caches, recompile everything
	ScriptsDir       string // Override default scripts directory
}

// DiscoveryResult contains statistics about the discovery run.
type DiscoveryResult struct {
	Total    int
	Compiled int
	Cached   int
	Failed   int
	Deleted  int

	// Errors are per-script compile failures; other scripts still publish.
	Errors []DiscoveryError

	Duration time.Duration
}

// DiscoveryError is a script that failed to compile or publish.
type DiscoveryError struct {
	Path string
	Err  error
}

func (e DiscoveryError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

// HasErrors returns true if any script failed.
func (r *DiscoveryResult) HasErrors() bool {
	return len(r.Errors) > 0
}

// Summary returns a human-readable summary.
func (r *DiscoveryResult) Summary() string {
	return fmt.Sprintf(
		"Scripts: %d total (%d compiled, %d cached, %d failed, %d deleted) | Duration: %s",
		r.Total, r.Compiled, r.Cached, r.Failed, r.Deleted,
		r.Duration.Round(time.Millisecond),
	)
}

// Discover compiles every script under the scripts directory concurrently
// and unpublishes scripts whose files are gone.
func (e *Engine) Discover(ctx context.Context, opts DiscoveryOptions) (*DiscoveryResult, error) {
	start := time.Now()
	result := &DiscoveryResult{}

	dir := opts.ScriptsDir
	if dir == "" {
		dir = e.cfg.ScriptsDir
	}
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return result, err
	}

	e.logger.Info("starting discovery", "dir", absDir)

	var paths []string
	err = filepath.WalkDir(absDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && path != absDir && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if !d.IsDir() && IsScript(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return result, fmt.Errorf("scan %s: %w", absDir, err)
	}
	result.Total = len(paths)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, path := range paths {
		g.Go(func() error {
			_, src, err := e.compile(gctx, path, opts.ForceFullRefresh)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				result.Failed++
				result.Errors = append(result.Errors, DiscoveryError{Path: path, Err: err})
				e.logger.Error("compile failed", "path", path, "error", err)
			case src == SourceCompiled:
				result.Compiled++
			default:
				result.Cached++
			}
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}

	seen := make(map[string]bool, len(paths))
	for _, p := range paths {
		seen[p] = true
	}
	for _, p := range e.registry.List() {
		if p.Path == "" || seen[p.Path] || !strings.HasPrefix(p.Path, absDir+string(filepath.Separator)) {
			continue
		}
		if err := e.Unpublish(ctx, p.Name); err != nil {
			e.logger.Warn("unpublish failed", "script", p.Name, "error", err)
		}
		result.Deleted++
	}

	result.Duration = time.Since(start)
	e.logger.Info("discovery completed",
		"total", result.Total,
		"compiled", result.Compiled,
		"cached", result.Cached,
		"failed", result.Failed,
		"duration_ms", result.Duration.Milliseconds())

	return result, nil
}
