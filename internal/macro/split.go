package macro

import (
	"strings"

	"github.com/GeneralBots/BotServer-sub001/pkg/token"
)

// segment is a run of text that is either inside or outside a quoted literal.
type segment struct {
	text   string
	quoted bool
}

// segments splits s into quoted and unquoted runs. A quoted run includes its
// delimiters. An unterminated quote runs to the end of s.
func segments(s string) []segment {
	var out []segment
	start := 0
	var quote byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			if c == '\\' {
				i++
				continue
			}
			if c == quote {
				out = append(out, segment{text: s[start : i+1], quoted: true})
				start = i + 1
				quote = 0
			}
			continue
		}
		if token.IsQuote(c) {
			if i > start {
				out = append(out, segment{text: s[start:i]})
			}
			start = i
			quote = c
		}
	}
	if start < len(s) {
		out = append(out, segment{text: s[start:], quoted: quote != 0})
	}
	return out
}

// outsideQuotes applies fn to every unquoted run of s.
func outsideQuotes(s string, fn func(string) string) string {
	var b strings.Builder
	for _, seg := range segments(s) {
		if seg.quoted {
			b.WriteString(seg.text)
			continue
		}
		b.WriteString(fn(seg.text))
	}
	return b.String()
}

// SplitArgs splits a free-form argument list on top-level commas. Commas
// inside quoted literals or inside (), [] and {} belong to the argument.
// Arguments are trimmed; an empty list yields nil.
func SplitArgs(s string) []string {
	var (
		args  []string
		cur   strings.Builder
		quote byte
		depth int
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			cur.WriteByte(c)
			if c == '\\' && i+1 < len(s) {
				i++
				cur.WriteByte(s[i])
				continue
			}
			if c == quote {
				quote = 0
			}
		case token.IsQuote(c):
			quote = c
			cur.WriteByte(c)
		case c == '(' || c == '[' || c == '{':
			depth++
			cur.WriteByte(c)
		case c == ')' || c == ']' || c == '}':
			if depth > 0 {
				depth--
			}
			cur.WriteByte(c)
		case c == ',' && depth == 0:
			args = append(args, strings.TrimSpace(cur.String()))
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	if last := strings.TrimSpace(cur.String()); last != "" || len(args) > 0 {
		args = append(args, last)
	}
	return args
}

// isQuoted reports whether s is exactly one quoted literal.
func isQuoted(s string) bool {
	segs := segments(s)
	return len(segs) == 1 && segs[0].quoted && len(s) >= 2 && s[len(s)-1] == s[0]
}

// unquote strips the delimiters of a single quoted literal.
func unquote(s string) string {
	if isQuoted(s) {
		return s[1 : len(s)-1]
	}
	return s
}

// stripParens removes one pair of enclosing parentheses around a whole
// argument list: "(a, b)" becomes "a, b" but "(a) + (b)" is kept.
func stripParens(s string) string {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '(' || s[len(s)-1] != ')' {
		return s
	}
	depth, offset := 0, 0
	for _, seg := range segments(s) {
		if !seg.quoted {
			for i := 0; i < len(seg.text); i++ {
				switch seg.text[i] {
				case '(':
					depth++
				case ')':
					depth--
				}
				if depth == 0 && offset+i < len(s)-1 {
					return s
				}
			}
		}
		offset += len(seg.text)
	}
	return strings.TrimSpace(s[1 : len(s)-1])
}
