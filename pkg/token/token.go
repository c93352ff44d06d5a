// Package token defines the lexical tokens of the dialog script language.
//
// The language is line oriented: statements end at NEWLINE, keywords are
// plain WORD tokens matched case-insensitively by the parser, and numbers are
// words too. Only operators and punctuation get dedicated token types.
package token

import (
	"fmt"
	"strings"
)

// TokenType represents the type of a lexical token.
//
//nolint:revive // token.TokenType mirrors the naming used across the parser
type TokenType int32

const (
	// Special tokens
	EOF TokenType = iota
	ILLEGAL
	NEWLINE

	// Literals
	WORD   // identifiers, keywords, numbers
	STRING // "text", 'text', `text`

	// Operators
	PLUS      // +
	MINUS     // -
	STAR      // *
	SLASH     // /
	PERCENT   // %
	EQ        // =
	EQEQ      // ==
	NE        // != or <>
	LT        // <
	GT        // >
	LE        // <=
	GE        // >=
	ANDAND    // &&
	OROR      // ||
	BANG      // !
	AMP       // &
	PIPE      // |
	LPAREN    // (
	RPAREN    // )
	LBRACKET  // [
	RBRACKET  // ]
	LBRACE    // {
	RBRACE    // }
	COMMA     // ,
	DOT       // .
	COLON     // :
	SEMICOLON // ;
	HASH      // #
)

var tokenNames = map[TokenType]string{
	EOF:     "EOF",
	ILLEGAL: "ILLEGAL",
	NEWLINE: "NEWLINE",
	WORD:    "WORD",
	STRING:  "STRING",

	PLUS:      "+",
	MINUS:     "-",
	STAR:      "*",
	SLASH:     "/",
	PERCENT:   "%",
	EQ:        "=",
	EQEQ:      "==",
	NE:        "!=",
	LT:        "<",
	GT:        ">",
	LE:        "<=",
	GE:        ">=",
	ANDAND:    "&&",
	OROR:      "||",
	BANG:      "!",
	AMP:       "&",
	PIPE:      "|",
	LPAREN:    "(",
	RPAREN:    ")",
	LBRACKET:  "[",
	RBRACKET:  "]",
	LBRACE:    "{",
	RBRACE:    "}",
	COMMA:     ",",
	DOT:       ".",
	COLON:     ":",
	SEMICOLON: ";",
	HASH:      "#",
}

// String returns a human-readable representation of the token type.
func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TOKEN(%d)", t)
}

// twoCharOperators are checked before single characters so "==" never lexes
// as two "=" tokens.
var twoCharOperators = map[string]TokenType{
	"==": EQEQ,
	"!=": NE,
	"<>": NE,
	">=": GE,
	"<=": LE,
	"&&": ANDAND,
	"||": OROR,
}

var oneCharOperators = map[byte]TokenType{
	'+': PLUS,
	'-': MINUS,
	'*': STAR,
	'/': SLASH,
	'%': PERCENT,
	'=': EQ,
	'<': LT,
	'>': GT,
	'!': BANG,
	'&': AMP,
	'|': PIPE,
	'(': LPAREN,
	')': RPAREN,
	'[': LBRACKET,
	']': RBRACKET,
	'{': LBRACE,
	'}': RBRACE,
	',': COMMA,
	'.': DOT,
	':': COLON,
	';': SEMICOLON,
	'#': HASH,
}

// LookupOperator returns the operator starting at s, preferring two-character
// operators. The returned width is 0 when s does not start with an operator.
func LookupOperator(s string) (TokenType, int) {
	if len(s) >= 2 {
		if t, ok := twoCharOperators[s[:2]]; ok {
			return t, 2
		}
	}
	if len(s) >= 1 {
		if t, ok := oneCharOperators[s[0]]; ok {
			return t, 1
		}
	}
	return ILLEGAL, 0
}

// IsOperatorChar reports whether c can start an operator.
func IsOperatorChar(c byte) bool {
	_, ok := oneCharOperators[c]
	return ok
}

// IsQuote reports whether c opens a string literal.
func IsQuote(c byte) bool {
	return c == '"' || c == '\'' || c == '`'
}

// Token represents a lexical token with position information.
type Token struct {
	Type  TokenType
	Value string
	Quote byte // opening quote of a STRING token
	Pos   Position
}

// Is reports whether the token is the WORD kw, compared case-insensitively.
func (t Token) Is(kw string) bool {
	return t.Type == WORD && strings.EqualFold(t.Value, kw)
}

func (t Token) String() string {
	switch t.Type {
	case WORD:
		return t.Value
	case STRING:
		return fmt.Sprintf("%c%s%c", t.Quote, t.Value, t.Quote)
	case NEWLINE:
		return "end of line"
	case EOF:
		return "end of input"
	}
	return t.Type.String()
}
