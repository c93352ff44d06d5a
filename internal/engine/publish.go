package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/GeneralBots/BotServer-sub001/internal/compiler"
	"github.com/GeneralBots/BotServer-sub001/internal/schedule"
	"github.com/GeneralBots/BotServer-sub001/internal/schema"
	"github.com/GeneralBots/BotServer-sub001/internal/state"
)

// Sidecar file suffixes written next to each other in the output directory.
const (
	CodeSuffix = ".star"
	MapSuffix  = ".map.json"
	MetaSuffix = ".meta.json"
)

// Publish makes a compiled program live: sidecars are written, the program
// and its schedules are persisted, the scheduler's jobs for the script are
// replaced and, when enabled, its tables are synchronized.
func (e *Engine) Publish(ctx context.Context, p *compiler.Program) error {
	if err := e.writeSidecars(p); err != nil {
		return err
	}

	sp, err := programToState(p)
	if err != nil {
		return err
	}
	if err := e.store.SaveProgram(ctx, sp); err != nil {
		return err
	}
	schedules := make([]state.Schedule, len(p.Schedules))
	for i, d := range p.Schedules {
		schedules[i] = state.Schedule{Owner: p.Name, Seq: d.Seq, Cron: d.Cron, Line: d.Line}
	}
	if err := e.store.ReplaceSchedules(ctx, p.Name, schedules); err != nil {
		return err
	}

	if err := e.activate(p, p.Schedules); err != nil {
		return err
	}

	if e.cfg.SchemaSync && len(p.Tables()) > 0 {
		changes, err := e.syncer.Sync(ctx, p.Tables())
		if err != nil {
			return fmt.Errorf("schema sync for %s: %w", p.Name, err)
		}
		for _, c := range changes {
			e.logger.Info("schema change", "script", p.Name, "connection", c.Connection, "table", c.Table, "kind", c.Kind)
		}
	}

	e.logger.Info("published script", "script", p.Name, "schedules", len(p.Schedules), "tables", len(p.Tables()))
	return nil
}

// activate registers a program in memory: registry, table store and
// scheduler.
func (e *Engine) activate(p *compiler.Program, ds []schedule.Directive) error {
	if err := e.scheduler.Replace(p.Name, ds); err != nil {
		return err
	}
	for _, c := range e.registry.Register(p) {
		e.logger.Warn("table redefined", "table", c.Table, "previous_owner", c.Owner, "script", p.Name)
	}
	e.tables.Register(p.Tables()...)
	return nil
}

// Unpublish removes a script: its jobs, stored program, sidecars and cache
// entry. Tables already created are kept.
func (e *Engine) Unpublish(ctx context.Context, name string) error {
	p, ok := e.registry.Get(name)
	if ok {
		name = p.Name
		if p.Path != "" {
			e.Invalidate(p.Path)
		}
	}
	e.registry.Unregister(name)
	removed := e.scheduler.Remove(name)

	var errs []error
	if err := e.store.DeleteProgram(ctx, name); err != nil {
		errs = append(errs, err)
	}
	if e.cfg.OutputDir != "" {
		for _, suffix := range []string{CodeSuffix, MapSuffix, MetaSuffix} {
			errs = append(errs, removeIfExists(filepath.Join(e.cfg.OutputDir, name+suffix)))
		}
		errs = append(errs, removeIfExists(filepath.Join(e.cfg.OutputDir, schema.SidecarName(name))))
	}
	e.logger.Info("unpublished script", "script", name, "jobs_removed", removed)
	return errors.Join(errs...)
}

func (e *Engine) writeSidecars(p *compiler.Program) error {
	dir := e.cfg.OutputDir
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &compiler.IOError{Path: dir, Err: err}
	}

	lineMap, err := json.Marshal(p.LineMap)
	if err != nil {
		return err
	}
	meta, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return err
	}
	files := map[string][]byte{
		p.Name + CodeSuffix: []byte(p.Code),
		p.Name + MapSuffix:  lineMap,
		p.Name + MetaSuffix: append(meta, '\n'),
	}
	for name, data := range files {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return &compiler.IOError{Path: path, Err: err}
		}
	}

	tablesPath := filepath.Join(dir, schema.SidecarName(p.Name))
	if len(p.Tasks) == 0 {
		return removeIfExists(tablesPath)
	}
	for _, t := range p.Tasks {
		if t.Kind != schema.KindWriteTableDefinition {
			continue
		}
		path := filepath.Join(dir, t.TargetFile)
		if err := schema.WriteSidecar(path, p.Name, t.Tables); err != nil {
			return &compiler.IOError{Path: path, Err: err}
		}
	}
	return nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
