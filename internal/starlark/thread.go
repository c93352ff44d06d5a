package starlark

import (
	"context"
	"log/slog"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// FileOptions is the dialect generated modules are written in: top-level
// loops and ifs, while loops, sets, reassignable globals and recursive
// FUNCTIONs.
var FileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// Compile parses and resolves a generated module. Every free name must be a
// predeclared one or a Starlark universal.
func Compile(filename string, src []byte) (*starlark.Program, error) {
	_, prog, err := starlark.SourceProgramOptions(FileOptions, filename, src, IsPredeclared)
	if err != nil {
		return nil, err
	}
	return prog, nil
}

var predeclared = func() map[string]bool {
	names := make(map[string]bool)
	for name := range Builtins(BuiltinOptions{}) {
		names[name] = true
	}
	for _, name := range contextNames {
		names[name] = true
	}
	return names
}()

// IsPredeclared reports whether name is bound by the sandbox.
func IsPredeclared(name string) bool {
	return predeclared[name]
}

// ThreadOptions configures a run thread.
type ThreadOptions struct {
	Name   string
	Logger *slog.Logger
	// MaxSteps bounds executed instructions. Zero means unbounded.
	MaxSteps uint64
}

// NewThread returns a thread bound to ctx: cancelling ctx cancels the
// thread. The returned stop func releases the binding and must be called
// once the thread is done.
func NewThread(ctx context.Context, opts ThreadOptions) (*starlark.Thread, func()) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	thread := &starlark.Thread{
		Name: opts.Name,
		Print: func(t *starlark.Thread, msg string) {
			logger.Debug("script print", slog.String("thread", t.Name), slog.String("msg", msg))
		},
	}
	thread.SetLocal(localContext, ctx)
	thread.SetLocal(localLogger, logger)
	if opts.MaxSteps > 0 {
		thread.SetMaxExecutionSteps(opts.MaxSteps)
	}
	stop := context.AfterFunc(ctx, func() {
		thread.Cancel(context.Cause(ctx).Error())
	})
	return thread, func() { stop() }
}

// Logger returns the run logger stored on thread.
func Logger(thread *starlark.Thread) *slog.Logger {
	if thread != nil {
		if l, ok := thread.Local(localLogger).(*slog.Logger); ok {
			return l
		}
	}
	return slog.New(slog.DiscardHandler)
}
