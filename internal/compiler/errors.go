package compiler

import (
	"errors"
	"fmt"

	"github.com/GeneralBots/BotServer-sub001/internal/macro"
	"github.com/GeneralBots/BotServer-sub001/pkg/parser"
)

// IOError is a script that could not be read.
type IOError struct {
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// CheckError is generated code that does not resolve, usually a name used
// before it is ever assigned. Line is the script line it came from, or 0
// when the fault is in the preamble.
type CheckError struct {
	Line          int
	GeneratedLine int
	Message       string
}

func (e *CheckError) Error() string {
	if e.Line == 0 {
		return fmt.Sprintf("generated code line %d: %s", e.GeneratedLine, e.Message)
	}
	return fmt.Sprintf("line %d: %s", e.Line, e.Message)
}

// Describe classifies a compile error and returns the script line it
// points at, 0 when unknown.
func Describe(err error) (kind string, line int) {
	var (
		lexErr     *parser.LexError
		parseErr   *parser.ParseError
		rewriteErr *macro.RewriteError
		checkErr   *CheckError
		ioErr      *IOError
	)
	switch {
	case errors.As(err, &lexErr):
		return "lex", lexErr.Pos.Line
	case errors.As(err, &parseErr):
		return "parse", parseErr.Pos.Line
	case errors.As(err, &rewriteErr):
		return "rewrite", rewriteErr.Line
	case errors.As(err, &checkErr):
		return "check", checkErr.Line
	case errors.As(err, &ioErr):
		return "io", 0
	default:
		return "internal", 0
	}
}
