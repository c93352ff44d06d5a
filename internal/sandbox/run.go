package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.starlark.net/starlark"

	"github.com/GeneralBots/BotServer-sub001/internal/channel"
	"github.com/GeneralBots/BotServer-sub001/internal/compiler"
	sl "github.com/GeneralBots/BotServer-sub001/internal/starlark"
)

// ResultName is the module global a script sets to hand a value back to
// its caller.
const ResultName = "result"

// Request is one run of a compiled program.
type Request struct {
	Program *compiler.Program
	// Session identifies the run. ID is generated when empty; Tenant and
	// Script are filled in by the pool.
	Session     channel.Session
	Args        map[string]any
	Params      map[string]any
	Entities    map[string]any
	Credentials []string
	Tokens      map[string]sl.Token
	PageMode    string
}

// Result is a finished run.
type Result struct {
	SessionID string
	// Value is the script's result global converted to Go, nil if unset.
	Value any
	// Exited reports a run ended by EXIT.
	Exited   bool
	Tokens   map[string]sl.Token
	Steps    uint64
	Duration time.Duration
}

// Session is a run in flight.
type Session struct {
	ID      string
	Tenant  string
	Script  string
	Worker  string
	Limits  Limits
	Started time.Time

	mu     sync.Mutex
	thread *starlark.Thread
	cancel context.CancelCauseFunc
}

// SessionInfo is the public view of a session.
type SessionInfo struct {
	ID      string    `json:"id"`
	Tenant  string    `json:"tenant"`
	Script  string    `json:"script"`
	Worker  string    `json:"worker"`
	Started time.Time `json:"started"`
	Steps   uint64    `json:"steps"`
	Limits  Limits    `json:"limits"`
}

// Info snapshots the session.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := SessionInfo{ID: s.ID, Tenant: s.Tenant, Script: s.Script, Worker: s.Worker, Started: s.Started, Limits: s.Limits}
	if s.thread != nil {
		info.Steps = s.thread.ExecutionSteps()
	}
	return info
}

// Run executes req on a pool worker. Every channel handle opened for the
// run is closed before Run returns, whatever the outcome.
func (p *Pool) Run(ctx context.Context, req Request) (*Result, error) {
	if req.Program == nil {
		return nil, errors.New("sandbox: no program")
	}
	prog, err := req.Program.Starlark()
	if err != nil {
		return nil, err
	}

	w, err := p.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer p.release(w)

	sess := req.Session
	if sess.ID == "" {
		sess.ID = uuid.NewString()
	}
	sess.Tenant = p.tenant
	sess.Script = req.Program.Name
	limits := p.cfg.Limits
	logger := p.logger.With(slog.String("script", sess.Script), slog.String("session", sess.ID))

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	if limits.Timeout > 0 {
		var stopTimeout context.CancelFunc
		runCtx, stopTimeout = context.WithTimeoutCause(runCtx, limits.Timeout,
			&LimitError{Script: sess.Script, Kind: LimitTimeout, Limit: limits.Timeout})
		defer stopTimeout()
	}

	s := &Session{
		ID: sess.ID, Tenant: p.tenant, Script: sess.Script, Worker: w.id,
		Limits: limits, Started: time.Now(), cancel: cancel,
	}
	p.track(s)
	defer p.untrack(s)

	handles, err := p.channels.Open(runCtx, sess)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := channel.CloseAll(handles); err != nil {
			logger.Warn("closing channel handles", slog.String("error", err.Error()))
		}
	}()

	builtinOpts := p.cfg.Builtins
	rc := &sl.RunContext{
		Session:     sess,
		Handles:     p.cfg.Allow.wrap(handles),
		Args:        req.Args,
		Params:      req.Params,
		Entities:    req.Entities,
		Credentials: req.Credentials,
		Tokens:      req.Tokens,
		PageMode:    req.PageMode,
		Builtins:    builtinOpts,
	}
	globals, ctxDict, err := rc.Globals()
	if err != nil {
		return nil, fmt.Errorf("bind run context: %w", err)
	}
	p.cfg.Allow.restrict(globals, sl.Builtins(builtinOpts))

	thread, stop := sl.NewThread(runCtx, sl.ThreadOptions{Name: sess.Script, Logger: logger, MaxSteps: limits.MaxSteps})
	defer stop()
	s.mu.Lock()
	s.thread = thread
	s.mu.Unlock()

	stopWatch := watchMemory(runCtx, cancel, sess.Script, limits.MemoryBytes)
	logger.Debug("run started", slog.String("worker", w.id))
	out, runErr := prog.Init(thread, globals)
	stopWatch()

	res := &Result{
		SessionID: sess.ID,
		Tokens:    sl.Tokens(ctxDict),
		Steps:     thread.ExecutionSteps(),
		Duration:  time.Since(s.Started),
	}

	if runErr != nil && errors.Is(runErr, sl.ErrExit) {
		res.Exited = true
		runErr = nil
	}
	if runErr != nil {
		runErr = classify(runCtx, thread, limits, req.Program, prog.Filename(), runErr)
		logger.Info("run failed", slog.String("kind", Kind(runErr)), slog.String("error", runErr.Error()),
			slog.Duration("duration", res.Duration))
		return res, runErr
	}

	if v, ok := out[ResultName]; ok {
		if res.Value, err = sl.ToGo(v); err != nil {
			logger.Warn("result is not convertible", slog.String("error", err.Error()))
		}
	}
	logger.Debug("run finished", slog.Uint64("steps", res.Steps), slog.Duration("duration", res.Duration))
	return res, nil
}

// classify turns an evaluation error into a LimitError when the sandbox
// stopped the thread, and into a ScriptError otherwise.
func classify(ctx context.Context, thread *starlark.Thread, limits Limits, cp *compiler.Program, filename string, err error) error {
	var limitErr *LimitError
	if cause := context.Cause(ctx); cause != nil {
		if errors.As(cause, &limitErr) {
			return limitErr
		}
		return cause
	}
	if limits.MaxSteps > 0 && thread.ExecutionSteps() >= limits.MaxSteps {
		return &LimitError{Script: cp.Name, Kind: LimitSteps, Limit: limits.MaxSteps}
	}
	return newScriptError(cp.Name, filename, cp.SourceLine, err)
}

func (p *Pool) track(s *Session) {
	p.mu.Lock()
	p.sessions[s.ID] = s
	p.mu.Unlock()
}

func (p *Pool) untrack(s *Session) {
	p.mu.Lock()
	delete(p.sessions, s.ID)
	p.mu.Unlock()
}
