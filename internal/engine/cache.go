package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/GeneralBots/BotServer-sub001/internal/compiler"
	"github.com/GeneralBots/BotServer-sub001/internal/state"
)

// Source says where Compile found a program.
type Source string

// Compile sources.
const (
	SourceMemory   Source = "memory"
	SourceStore    Source = "store"
	SourceCompiled Source = "compiled"
)

type cacheEntry struct {
	program *compiler.Program
	modTime time.Time
}

// fresh reports whether a file modified at modTime may still use the entry.
func (c *cacheEntry) fresh(modTime time.Time, threshold time.Duration) bool {
	return modTime.Sub(c.modTime) <= threshold
}

// Compile returns the program for the script at path, compiling and
// publishing it when no fresh cached copy exists. A failed compile caches
// and publishes nothing.
func (e *Engine) Compile(ctx context.Context, path string) (*compiler.Program, error) {
	p, _, err := e.compile(ctx, path, false)
	return p, err
}

func (e *Engine) compile(ctx context.Context, path string, force bool) (*compiler.Program, Source, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, "", &compiler.IOError{Path: path, Err: err}
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, "", &compiler.IOError{Path: abs, Err: err}
	}
	modTime := info.ModTime()

	if !force {
		if p := e.cached(abs, modTime); p != nil {
			return p, SourceMemory, nil
		}
		p, err := e.fromStore(ctx, abs, modTime)
		if err != nil {
			e.logger.Warn("ignoring stored program", "path", abs, "error", err)
		}
		if p != nil {
			if err := e.activate(p, p.Schedules); err != nil {
				return nil, "", err
			}
			e.remember(abs, p)
			return p, SourceStore, nil
		}
	}

	e.logger.Debug("compiling script", "path", abs, "legacy", e.cfg.Legacy)
	p, err := compiler.CompileFile(abs, compiler.Options{Legacy: e.cfg.Legacy, ModTime: modTime})
	if err != nil {
		return nil, "", err
	}
	if err := e.Publish(ctx, p); err != nil {
		return nil, "", err
	}
	e.remember(abs, p)
	return p, SourceCompiled, nil
}

func (e *Engine) cached(path string, modTime time.Time) *compiler.Program {
	e.mu.Lock()
	defer e.mu.Unlock()
	entry, ok := e.cache[path]
	if !ok {
		return nil
	}
	if !entry.fresh(modTime, e.cfg.AgeThreshold) {
		delete(e.cache, path)
		return nil
	}
	return entry.program
}

func (e *Engine) remember(path string, p *compiler.Program) {
	e.mu.Lock()
	e.cache[path] = &cacheEntry{program: p, modTime: p.ModTime}
	e.mu.Unlock()
}

// Invalidate drops the cached program of path.
func (e *Engine) Invalidate(path string) {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	e.mu.Lock()
	delete(e.cache, abs)
	e.mu.Unlock()
}

// fromStore reuses the stored program of path when it is still fresh by
// modification time, or when the source hash is unchanged.
func (e *Engine) fromStore(ctx context.Context, path string, modTime time.Time) (*compiler.Program, error) {
	sp, err := e.store.GetProgram(ctx, compiler.ScriptName(path))
	if err != nil || sp == nil || sp.Path != path {
		return nil, err
	}
	if modTime.Sub(sp.ModTime) > e.cfg.AgeThreshold {
		src, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if compiler.Hash(string(src)) != sp.SourceHash {
			return nil, nil
		}
	}
	e.logger.Debug("using stored program", "script", sp.Name)
	return programFromState(sp)
}

// programFromState rebuilds a compiled program. Its Starlark form is
// resolved again on first run.
func programFromState(sp *state.Program) (*compiler.Program, error) {
	p := &compiler.Program{}
	if len(sp.Meta) > 0 {
		if err := json.Unmarshal(sp.Meta, p); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", sp.Name, err)
		}
	}
	p.Name = sp.Name
	p.Path = sp.Path
	p.Code = sp.Code
	p.LineMap = sp.LineMap
	p.ModTime = sp.ModTime
	p.SourceHash = sp.SourceHash
	return p, nil
}

func programToState(p *compiler.Program) (*state.Program, error) {
	meta, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode metadata of %s: %w", p.Name, err)
	}
	return &state.Program{
		Name:       p.Name,
		Path:       p.Path,
		ModTime:    p.ModTime,
		SourceHash: p.SourceHash,
		Code:       p.Code,
		LineMap:    p.LineMap,
		Meta:       meta,
	}, nil
}
