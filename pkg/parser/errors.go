package parser

import (
	"fmt"

	"github.com/GeneralBots/BotServer-sub001/pkg/token"
)

// Position is a location in script source.
type Position = token.Position

// ParseError represents a parsing error with position information.
type ParseError struct {
	Pos     Position
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error at line %d, column %d: %s", e.Pos.Line, e.Pos.Column, e.Message)
}

// LexError represents a lexical analysis error.
type LexError struct {
	Pos     Position
	Message string
}

func (e *LexError) Error() string {
	return fmt.Sprintf("lexer error at line %d, column %d: %s", e.Pos.Line, e.Pos.Column, e.Message)
}

// Common error messages
const (
	ErrUnexpectedToken    = "unexpected %s, expected %s"
	ErrUnterminatedString = "unterminated string literal"
	ErrUnterminatedBlock  = "missing %s for %s opened at line %d"
	ErrUnknownFieldType   = "unknown field type %q"
	ErrReservedName       = "cannot assign to reserved name %q"
)
