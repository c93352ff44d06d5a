// Package macro rewrites dialog script lines with an ordered keyword rule
// table.
//
// Every line is fed through the entire table in order; each rule consumes
// the current line set and produces the next one, so a later rule sees what
// earlier rules generated. The output is flat Starlark: a line ending in ":"
// opens a block, "#end" closes one, and "else:"/"elif ...:" close and reopen.
// Layout turns flat lines into indented source.
//
// The rewriter serves two callers: the parser delegates domain statements
// (GET, SAVE, FIND, ...) one line at a time through RewriteLine, and the
// legacy compile mode rewrites a whole script with Rewrite.
package macro

import (
	"errors"
	"regexp"
	"strings"
)

// Line is one generated line and the source line it came from.
type Line struct {
	Text   string
	Source int
}

// Rewriter applies a rule table. It is not safe for concurrent use; create
// one per compile.
type Rewriter struct {
	rules []Rule
	st    *State
	claim *regexp.Regexp
}

// New creates a rewriter over the default rule table. A nil state starts a
// fresh one.
func New(st *State) *Rewriter {
	if st == nil {
		st = NewState()
	}
	return &Rewriter{
		rules: DefaultRules(),
		st:    st,
		claim: regexp.MustCompile(`(?i)^\s*(?:[\w.\[\]]+\s*=\s*)?(?:GET|POST|PUT|SET|` + keywordAlternation() + `)(?:\s+[^=\s]|\s*\(|\s*$)`),
	}
}

// State returns the rewriter state shared with the code generator.
func (r *Rewriter) State() *State {
	return r.st
}

// Claims reports whether line is a domain statement handled by the table.
func (r *Rewriter) Claims(line string) bool {
	return r.claim.MatchString(line)
}

// RewriteLine rewrites a single line. lineNo is used for error reporting.
func (r *Rewriter) RewriteLine(line string, lineNo int) ([]string, error) {
	return r.apply(line, lineNo)
}

// Rewrite rewrites a whole script. Backtick literals may span lines; the
// joined line keeps the number of the line it started on.
func (r *Rewriter) Rewrite(src string) ([]Line, error) {
	raw := strings.Split(strings.ReplaceAll(src, "\r\n", "\n"), "\n")
	var out []Line
	for i := 0; i < len(raw); i++ {
		lineNo := i + 1
		text := raw[i]
		if !r.st.capturing() && openBacktick(text) {
			for openBacktick(text) && i+1 < len(raw) {
				i++
				text += "\n" + raw[i]
			}
			text = joinBackticks(text)
		}
		lines, err := r.apply(text, lineNo)
		if err != nil {
			return nil, err
		}
		for _, l := range lines {
			out = append(out, Line{Text: l, Source: lineNo})
		}
	}
	if err := r.st.unclosed(); err != nil {
		return nil, err
	}
	return out, nil
}

// apply runs one line through the whole table.
func (r *Rewriter) apply(line string, lineNo int) ([]string, error) {
	r.st.Line = lineNo
	set := []string{line}
	if !r.st.capturing() {
		set[0] = strings.TrimSpace(line)
		if set[0] == "" {
			return nil, nil
		}
	}

	for _, rule := range r.rules {
		if rule.Active != nil && !rule.Active(r.st) {
			continue
		}
		next := make([]string, 0, len(set))
		for _, l := range set {
			m := rule.Pattern.FindStringSubmatch(l)
			if m == nil {
				next = append(next, l)
				continue
			}
			out, err := rule.Rewrite(m, r.st)
			if err != nil {
				var rwErr *RewriteError
				if errors.As(err, &rwErr) {
					return nil, err
				}
				return nil, &RewriteError{Line: lineNo, Rule: rule.Name, Message: err.Error()}
			}
			next = append(next, out...)
		}
		set = next
		if len(set) == 0 {
			return nil, nil
		}
	}

	out := set[:0]
	for _, l := range set {
		if strings.TrimSpace(l) != "" {
			out = append(out, l)
		}
	}
	return out, nil
}

// joinBackticks turns backtick literals into single-line Starlark strings.
func joinBackticks(s string) string {
	var b strings.Builder
	for _, seg := range segments(s) {
		if seg.quoted && seg.text[0] == '`' {
			b.WriteString(StringLiteral(seg.text))
			continue
		}
		b.WriteString(seg.text)
	}
	return b.String()
}

// openBacktick reports whether s ends inside a backtick literal.
func openBacktick(s string) bool {
	segs := segments(s)
	if len(segs) == 0 {
		return false
	}
	last := segs[len(segs)-1]
	if !last.quoted || last.text[0] != '`' {
		return false
	}
	return len(last.text) == 1 || last.text[len(last.text)-1] != '`'
}
