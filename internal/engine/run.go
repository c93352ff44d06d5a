package engine

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/GeneralBots/BotServer-sub001/internal/channel"
	"github.com/GeneralBots/BotServer-sub001/internal/compiler"
	"github.com/GeneralBots/BotServer-sub001/internal/sandbox"
	"github.com/GeneralBots/BotServer-sub001/internal/schedule"
	sl "github.com/GeneralBots/BotServer-sub001/internal/starlark"
	"github.com/GeneralBots/BotServer-sub001/internal/state"
)

// Run triggers.
const (
	TriggerManual   = "manual"
	TriggerSchedule = "schedule"
	TriggerAPI      = "api"
)

// ScriptNotFoundError is returned for a script that is not published.
type ScriptNotFoundError struct {
	Name string
}

func (e *ScriptNotFoundError) Error() string {
	return fmt.Sprintf("script not found: %s", e.Name)
}

// RunOptions configures one run.
type RunOptions struct {
	Tenant   string
	Trigger  string
	Session  channel.Session
	Args     map[string]any
	Entities map[string]any
	PageMode string
}

// Run executes a published script, or compiles it first when name is a
// script path. The run is recorded in the state store and tokens the
// script refreshed are kept for the tenant's next run.
func (e *Engine) Run(ctx context.Context, name string, opts RunOptions) (*sandbox.Result, error) {
	p, err := e.resolve(ctx, name)
	if err != nil {
		return nil, err
	}

	tenant := opts.Tenant
	if tenant == "" {
		tenant = e.cfg.Tenant
	}
	trigger := opts.Trigger
	if trigger == "" {
		trigger = TriggerManual
	}

	stored, err := e.store.GetTokens(ctx, tenant)
	if err != nil {
		return nil, err
	}
	tokens := make(map[string]sl.Token, len(stored))
	for k, v := range stored {
		tokens[k] = sl.Token(v)
	}

	run, err := e.store.CreateRun(ctx, p.Name, tenant, trigger)
	if err != nil {
		return nil, err
	}
	if opts.Session.ID == "" {
		opts.Session.ID = run.ID
	}

	e.logger.Info("starting run", "script", p.Name, "tenant", tenant, "trigger", trigger, "run_id", run.ID)
	res, runErr := e.sandbox.Run(ctx, tenant, sandbox.Request{
		Program:     p,
		Session:     opts.Session,
		Args:        opts.Args,
		Params:      e.cfg.Params,
		Entities:    opts.Entities,
		Credentials: e.cfg.Credentials,
		Tokens:      tokens,
		PageMode:    opts.PageMode,
	})

	// bookkeeping survives a cancelled run
	bg := context.WithoutCancel(ctx)
	if res != nil && len(res.Tokens) > 0 {
		save := make(map[string]state.Token, len(res.Tokens))
		for k, v := range res.Tokens {
			save[k] = state.Token(v)
		}
		if err := e.store.SaveTokens(bg, tenant, save); err != nil {
			e.logger.Warn("saving tokens failed", "tenant", tenant, "error", err)
		}
	}

	status, kind, msg := state.RunStatusSuccess, "", ""
	if runErr != nil {
		status, kind, msg = state.RunStatusFailed, sandbox.Kind(runErr), runErr.Error()
		var se *sandbox.ScriptError
		if errors.As(runErr, &se) {
			e.logger.Error("script failed", "script", p.Name, "line", se.Line, "backtrace", se.Backtrace())
		}
	}
	if err := e.store.CompleteRun(bg, run.ID, status, kind, msg); err != nil {
		e.logger.Warn("recording run failed", "run_id", run.ID, "error", err)
	}
	e.logger.Info("run completed", "script", p.Name, "run_id", run.ID, "status", string(status))
	return res, runErr
}

func (e *Engine) resolve(ctx context.Context, name string) (*compiler.Program, error) {
	if p, ok := e.registry.Get(name); ok {
		if p.Path == "" {
			return p, nil
		}
		// recompile when the file moved on
		cur, err := e.Compile(ctx, p.Path)
		if errors.Is(err, fs.ErrNotExist) {
			return p, nil
		}
		return cur, err
	}
	if IsScript(name) {
		return e.Compile(ctx, name)
	}
	return nil, &ScriptNotFoundError{Name: name}
}

// Fire runs the owner of a schedule directive. It is the scheduler's
// FireFunc.
func (e *Engine) Fire(ctx context.Context, d schedule.Directive) error {
	_, err := e.Run(ctx, d.Owner, RunOptions{Trigger: TriggerSchedule})
	return err
}

// Restore loads published programs and their schedules from the state
// store, so jobs survive a restart without recompiling.
func (e *Engine) Restore(ctx context.Context) (programs, jobs int, err error) {
	stored, err := e.store.ListPrograms(ctx)
	if err != nil {
		return 0, 0, err
	}
	schedules, err := e.store.ListSchedules(ctx)
	if err != nil {
		return 0, 0, err
	}
	owned := make(map[string][]schedule.Directive)
	for _, s := range schedules {
		owned[s.Owner] = append(owned[s.Owner], schedule.Directive{Cron: s.Cron, Owner: s.Owner, Seq: s.Seq, Line: s.Line})
	}

	for _, sp := range stored {
		p, err := programFromState(sp)
		if err != nil {
			e.logger.Warn("skipping stored program", "script", sp.Name, "error", err)
			continue
		}
		if err := e.activate(p, owned[p.Name]); err != nil {
			e.logger.Warn("restoring schedules failed", "script", p.Name, "error", err)
			continue
		}
		if p.Path != "" {
			e.remember(p.Path, p)
		}
		programs++
		jobs += len(owned[p.Name])
	}
	e.logger.Info("restored state", "programs", programs, "jobs", jobs)
	return programs, jobs, nil
}
