package parser

import (
	"strings"

	"github.com/GeneralBots/BotServer-sub001/pkg/token"
)

// Lexer tokenizes dialog script source on demand.
//
// Besides NextToken it can hand the remainder of the current line to the
// parser verbatim (RawLine), which is how capture blocks such as BEGIN TALK
// keep their prose untouched.
type Lexer struct {
	input string
	pos   int // offset of the next unread byte
	line  int // current line number (1-based)
	col   int // column of the next unread byte (1-based)
}

// lexState is a lexer snapshot used for lookahead.
type lexState struct {
	pos, line, col int
}

// NewLexer creates a new Lexer for the given input.
func NewLexer(input string) *Lexer {
	return &Lexer{input: input, line: 1, col: 1}
}

// Tokenize lexes the whole input, ending with an EOF token.
func Tokenize(input string) ([]token.Token, error) {
	l := NewLexer(input)
	var tokens []token.Token
	for {
		tok, err := l.NextToken()
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, tok)
		if tok.Type == token.EOF {
			return tokens, nil
		}
	}
}

func (l *Lexer) save() lexState {
	return lexState{pos: l.pos, line: l.line, col: l.col}
}

func (l *Lexer) restore(s lexState) {
	l.pos, l.line, l.col = s.pos, s.line, s.col
}

func (l *Lexer) currentPos() Position {
	return Position{Line: l.line, Column: l.col, Offset: l.pos}
}

// advance consumes one byte, tracking line and column.
func (l *Lexer) advance() byte {
	c := l.input[l.pos]
	l.pos++
	if c == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return c
}

func (l *Lexer) peek() byte {
	if l.pos >= len(l.input) {
		return 0
	}
	return l.input[l.pos]
}

func (l *Lexer) peekAt(n int) byte {
	if l.pos+n >= len(l.input) {
		return 0
	}
	return l.input[l.pos+n]
}

// NextToken returns the next token.
func (l *Lexer) NextToken() (token.Token, error) {
	l.skipSpace()
	pos := l.currentPos()

	if l.pos >= len(l.input) {
		return token.Token{Type: token.EOF, Pos: pos}, nil
	}

	c := l.peek()
	switch {
	case c == '\n':
		l.advance()
		return token.Token{Type: token.NEWLINE, Value: "\n", Pos: pos}, nil
	case token.IsQuote(c):
		return l.readString(pos)
	}

	if t, width := token.LookupOperator(l.input[l.pos:]); width > 0 {
		for i := 0; i < width; i++ {
			l.advance()
		}
		return token.Token{Type: t, Value: l.input[pos.Offset:l.pos], Pos: pos}, nil
	}

	return l.readWord(pos), nil
}

// skipSpace skips blanks but not newlines, which are significant.
func (l *Lexer) skipSpace() {
	for l.pos < len(l.input) {
		switch l.input[l.pos] {
		case ' ', '\t', '\r', '\f', '\v':
			l.advance()
		default:
			return
		}
	}
}

// readString reads a quoted literal. Backslash escapes \n \t \r \\ and the
// three quote characters; any other escaped character is kept together with
// its backslash.
func (l *Lexer) readString(pos Position) (token.Token, error) {
	quote := l.advance()
	var sb strings.Builder
	for {
		if l.pos >= len(l.input) {
			return token.Token{}, &LexError{Pos: pos, Message: ErrUnterminatedString}
		}
		c := l.advance()
		switch {
		case c == quote:
			return token.Token{Type: token.STRING, Value: sb.String(), Quote: quote, Pos: pos}, nil
		case c == '\\' && l.pos < len(l.input):
			next := l.advance()
			switch next {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			case '\\', '"', '\'', '`':
				sb.WriteByte(next)
			default:
				sb.WriteByte('\\')
				sb.WriteByte(next)
			}
		default:
			sb.WriteByte(c)
		}
	}
}

// readWord reads everything up to the next blank, quote or operator. A dot
// between digits stays inside the word so 3.14 is one token.
func (l *Lexer) readWord(pos Position) token.Token {
	start := l.pos
	for l.pos < len(l.input) {
		c := l.peek()
		if c == '.' && isDigits(l.input[start:l.pos]) && isDigit(l.peekAt(1)) {
			l.advance()
			continue
		}
		if isBlank(c) || c == '\n' || token.IsQuote(c) || token.IsOperatorChar(c) {
			break
		}
		l.advance()
	}
	return token.Token{Type: token.WORD, Value: l.input[start:l.pos], Pos: pos}
}

// RawLine returns the rest of the current line verbatim and consumes it
// together with its newline. ok is false when the input is exhausted.
func (l *Lexer) RawLine() (text string, pos Position, ok bool) {
	pos = l.currentPos()
	if l.pos >= len(l.input) {
		return "", pos, false
	}
	end := strings.IndexByte(l.input[l.pos:], '\n')
	if end < 0 {
		text = l.input[l.pos:]
		for l.pos < len(l.input) {
			l.advance()
		}
		return strings.TrimRight(text, "\r"), pos, true
	}
	text = l.input[l.pos : l.pos+end]
	for i := 0; i <= end; i++ {
		l.advance()
	}
	return strings.TrimRight(text, "\r"), pos, true
}

// LineRemainder returns the source text from offset to the end of its line.
func (l *Lexer) LineRemainder(offset int) string {
	if offset >= len(l.input) {
		return ""
	}
	rest := l.input[offset:]
	if end := strings.IndexByte(rest, '\n'); end >= 0 {
		rest = rest[:end]
	}
	return strings.TrimRight(rest, "\r")
}

func isBlank(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\f' || c == '\v'
}

func isDigit(c byte) bool {
	return c >= '0' && c <= '9'
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isDigit(s[i]) {
			return false
		}
	}
	return true
}
