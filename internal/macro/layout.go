package macro

import (
	"strings"
)

// BlockEnd is the flat-line marker that closes the innermost block.
const BlockEnd = "#end"

// Layout indents flat lines. Empty blocks get a "pass" statement so the
// result always parses. Comment lines are kept but do not count as block
// bodies. Source numbers are carried through unchanged.
func Layout(lines []Line, indent string) ([]Line, error) {
	out := make([]Line, 0, len(lines))
	// filled[d] reports whether the block at depth d has a statement.
	filled := []bool{false}
	opened := []int{0}
	depth := 0

	emit := func(text string, source int) {
		out = append(out, Line{Text: strings.Repeat(indent, depth) + text, Source: source})
	}
	closeBody := func(source int) {
		if !filled[depth] {
			emit("pass", source)
		}
	}

	for _, l := range lines {
		text := strings.TrimSpace(l.Text)
		switch {
		case text == "":
			continue

		case text == BlockEnd:
			if depth == 0 {
				return nil, &RewriteError{Line: l.Source, Rule: "layout", Message: "block end without open block"}
			}
			closeBody(l.Source)
			depth--
			filled = filled[:depth+1]
			opened = opened[:depth+1]

		case text == "else:" || strings.HasPrefix(text, "elif "):
			if depth == 0 {
				return nil, &RewriteError{Line: l.Source, Rule: "layout", Message: text + " without open block"}
			}
			closeBody(l.Source)
			depth--
			emit(text, l.Source)
			depth++
			filled[depth] = false

		case strings.HasPrefix(text, "#"):
			emit(text, l.Source)

		default:
			emit(text, l.Source)
			filled[depth] = true
			if strings.HasSuffix(text, ":") {
				depth++
				filled = append(filled, false)
				opened = append(opened, l.Source)
			}
		}
	}
	if depth != 0 {
		return nil, &RewriteError{Line: opened[depth], Rule: "layout", Message: "block opened here is never closed"}
	}
	return out, nil
}
