package sandbox

import (
	"errors"
	"fmt"
	"strings"

	"go.starlark.net/starlark"

	"github.com/GeneralBots/BotServer-sub001/internal/channel"
)

// LimitKind names the resource a run exhausted.
type LimitKind string

// Limit kinds.
const (
	LimitSteps   LimitKind = "steps"
	LimitMemory  LimitKind = "memory"
	LimitTimeout LimitKind = "timeout"
	// LimitKilled is reported for runs cancelled through the debug endpoint.
	LimitKilled LimitKind = "killed"
)

// LimitError reports a run terminated by the sandbox rather than by the
// script itself.
type LimitError struct {
	Script string
	Kind   LimitKind
	// Limit is the configured bound: steps, bytes or a duration.
	Limit any
}

func (e *LimitError) Error() string {
	if e.Limit == nil {
		return fmt.Sprintf("%s: sandbox limit exceeded: %s", e.Script, e.Kind)
	}
	return fmt.Sprintf("%s: sandbox limit exceeded: %s (limit %v)", e.Script, e.Kind, e.Limit)
}

// Frame is one entry of a script backtrace.
type Frame struct {
	Function      string `json:"function"`
	Line          int    `json:"line"`
	GeneratedLine int    `json:"generatedLine"`
}

// ScriptError is an uncaught error raised by a running script. Line is the
// script line of the innermost module frame, 0 when it falls in the
// preamble.
type ScriptError struct {
	Script        string
	Line          int
	GeneratedLine int
	Message       string
	Frames        []Frame
	Err           error
}

func (e *ScriptError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d: %s", e.Script, e.Line, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Script, e.Message)
}

func (e *ScriptError) Unwrap() error { return e.Err }

// Backtrace renders the frames innermost last, with script lines.
func (e *ScriptError) Backtrace() string {
	var b strings.Builder
	b.WriteString("Traceback (most recent call last):\n")
	for _, f := range e.Frames {
		fmt.Fprintf(&b, "  %s:%d: in %s\n", e.Script, f.Line, f.Function)
	}
	b.WriteString("Error: ")
	b.WriteString(e.Message)
	return b.String()
}

// newScriptError maps an evaluation error of the module filename back to
// script lines.
func newScriptError(script, filename string, sourceLine func(int) int, err error) *ScriptError {
	se := &ScriptError{Script: script, Message: err.Error(), Err: err}

	var evalErr *starlark.EvalError
	if !errors.As(err, &evalErr) {
		return se
	}
	se.Message = evalErr.Msg
	for _, fr := range evalErr.CallStack {
		if fr.Pos.Filename() != filename {
			continue
		}
		gen := int(fr.Pos.Line)
		se.Frames = append(se.Frames, Frame{Function: fr.Name, Line: sourceLine(gen), GeneratedLine: gen})
	}
	if n := len(se.Frames); n > 0 {
		se.Line = se.Frames[n-1].Line
		se.GeneratedLine = se.Frames[n-1].GeneratedLine
	}
	return se
}

// Kind classifies a run error for run records: the limit kind, "capability",
// "script" or "internal". A channel failure surfacing through a script
// frame is still "capability"; the ScriptError only carries its line.
func Kind(err error) string {
	var limitErr *LimitError
	if errors.As(err, &limitErr) {
		return string(limitErr.Kind)
	}
	var callErr *channel.CallError
	if errors.As(err, &callErr) {
		return "capability"
	}
	var scriptErr *ScriptError
	if errors.As(err, &scriptErr) {
		return "script"
	}
	return "internal"
}
