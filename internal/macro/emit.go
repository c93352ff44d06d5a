package macro

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/GeneralBots/BotServer-sub001/pkg/parser"
	"github.com/GeneralBots/BotServer-sub001/pkg/token"
	"go.starlark.net/syntax"
)

// Emitters shared by the rule table and the AST code generator. Both paths
// produce the same flat lines for the same construct.

// RetryAttempts is the attempt budget of every generated HTTP block.
const RetryAttempts = 5

// RetryStatuses are the transient statuses retried with backoff, as a
// Starlark tuple.
const RetryStatuses = "(401, 429, 503)"

var (
	identPattern       = regexp.MustCompile(`^[A-Za-z_]\w*$`)
	placeholderPattern = regexp.MustCompile(`\$\{([^}]*)\}`)
	urlPattern         = regexp.MustCompile(`(?i)^https?://`)
)

// Quote renders s as a Starlark string literal.
func Quote(s string) string {
	return syntax.Quote(s, false)
}

// StringLiteral converts a quoted DSL literal (any quote character, DSL
// escapes) into a Starlark string literal. Other text is returned unchanged.
func StringLiteral(lit string) string {
	if !isQuoted(lit) {
		return lit
	}
	toks, err := parser.Tokenize(lit)
	if err != nil || len(toks) != 2 || toks[0].Type != token.STRING {
		return lit
	}
	return Quote(toks[0].Value)
}

// TalkCall wraps a rendered expression in a dialog talk call.
func TalkCall(expr string) string {
	return "dialog.talk(" + expr + ")"
}

// TalkArg renders the raw text after TALK: unquoted prose becomes a string
// literal, anything else is kept as an expression.
func TalkArg(text string) string {
	text = strings.TrimSpace(text)
	if parser.IsProse(text) {
		return Quote(text)
	}
	return text
}

// Interpolate renders one line of a BEGIN TALK block as a Starlark string
// expression. ${expr} placeholders become str(expr) terms; render converts
// the placeholder source into Starlark.
func Interpolate(line string, render func(string) string) string {
	locs := placeholderPattern.FindAllStringSubmatchIndex(line, -1)
	if len(locs) == 0 {
		return Quote(line)
	}
	var parts []string
	last := 0
	for _, loc := range locs {
		if loc[0] > last {
			parts = append(parts, Quote(line[last:loc[0]]))
		}
		expr := strings.TrimSpace(line[loc[2]:loc[3]])
		if render != nil {
			expr = render(expr)
		}
		parts = append(parts, "str("+expr+")")
		last = loc[1]
	}
	if last < len(line) {
		parts = append(parts, Quote(line[last:]))
	}
	return strings.Join(parts, " + ")
}

// EmitTalkBlock renders the captured lines of BEGIN TALK ... END TALK.
func EmitTalkBlock(lines []string, render func(string) string) []string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		out = append(out, TalkCall(Interpolate(l, render)))
	}
	return out
}

// EmitSystemPrompt records the prompt as a dialog option.
func EmitSystemPrompt(text string) string {
	return `dialog.set_option("system_prompt", ` + Quote(text) + ")"
}

// EmitHear renders HEAR. An empty kind is free text; options become a list.
func EmitHear(target, kind string, options []string) string {
	if kind == "" {
		kind = "text"
	}
	call := "dialog.hear(" + Quote(kind)
	if len(options) > 0 {
		call += ", [" + strings.Join(options, ", ") + "]"
	}
	return target + " = " + call + ")"
}

var httpMethods = map[string]string{
	"GET":  "get_http",
	"POST": "post_http",
	"PUT":  "put_http",
}

// EmitHTTP renders GET/POST/PUT. Remote calls become a bounded retry block
// that refreshes tokens before each attempt and backs off on transient
// statuses. GET also covers page selectors and rooted file reads.
func EmitHTTP(st *State, target, verb string, args []string) ([]string, error) {
	verb = strings.ToUpper(verb)
	method, ok := httpMethods[verb]
	if !ok {
		return nil, fmt.Errorf("unknown HTTP verb %s", verb)
	}
	if len(args) == 0 || args[0] == "" {
		return nil, fmt.Errorf("%s requires a url", verb)
	}
	assign := ""
	if target != "" {
		assign = target + " = "
	}

	if verb == "GET" {
		if len(args) == 2 && identPattern.MatchString(args[0]) && st.HandleKind(args[0]) != "sheet" {
			return []string{assign + "wa.get_by_selector(" + args[0] + ", " + args[1] + ")"}, nil
		}
		if isQuoted(args[0]) && !urlPattern.MatchString(unquote(args[0])) {
			return []string{assign + "sys.get(" + strings.Join(args, ", ") + ")"}, nil
		}
	}

	n := st.Next()
	resp := fmt.Sprintf("_r%d", n)
	attempt := fmt.Sprintf("_attempt%d", n)
	lines := []string{
		fmt.Sprintf("for %s in range(%d):", attempt, RetryAttempts),
		"_ensure_tokens()",
		fmt.Sprintf("%s = sys.%s(%s)", resp, method, strings.Join(args, ", ")),
		fmt.Sprintf("if %s.status in %s and %s < %d:", resp, RetryStatuses, attempt, RetryAttempts-1),
		fmt.Sprintf("sleep(backoff(%s.status))", resp),
		"continue",
		"#end",
		fmt.Sprintf("if %s.status >= 400:", resp),
		fmt.Sprintf("_capability_error(%s, %s, %s.status)", Quote(verb), args[0], resp),
		"#end",
	}
	if target != "" {
		lines = append(lines, fmt.Sprintf("%s%s.data", assign, resp))
	}
	return append(lines, "break", "#end"), nil
}

// EmitOpen renders OPEN. A url or credentials open a web page session;
// anything else opens a spreadsheet export handle.
func EmitOpen(st *State, handle, path, mode, user, pass string) string {
	assign := ""
	if handle != "" {
		assign = handle + " = "
	}
	if user != "" || (mode == "" && urlPattern.MatchString(unquote(path))) {
		if handle != "" {
			st.SetHandle(handle, "web")
		}
		args := []string{path}
		if user != "" {
			args = append(args, user, pass)
		}
		return assign + "wa.open_page(" + strings.Join(args, ", ") + ")"
	}
	if handle != "" {
		st.SetHandle(handle, "sheet")
	}
	if mode == "" {
		mode = "output"
	}
	return assign + "sys.open_sheet(" + path + ", " + Quote(strings.ToLower(mode)) + ")"
}

// EmitClose renders CLOSE for a handle opened earlier.
func EmitClose(st *State, handle string) string {
	if st.HandleKind(handle) == "web" {
		return "wa.close_page(" + handle + ")"
	}
	return "sys.close_handle(" + handle + ")"
}

// EmitSelect runs a query against the dataset bound to the table variable.
func EmitSelect(target, table, sql string) string {
	call := "sys.execute_sql(" + Quote(table) + ", " + table + ", " + Quote(sql) + ")"
	if target == "" {
		return call
	}
	return target + " = " + call
}

// ForEachHeader opens a paginated FOR EACH loop. The page value tracks the
// items, cursor, total, page mode and continuation token; a follow-up fetch
// happens only when the page reports more results.
func ForEachHeader(st *State, variable, collection string) []string {
	n := st.Next()
	page := fmt.Sprintf("_page%d", n)
	index := fmt.Sprintf("_index%d", n)
	return []string{
		fmt.Sprintf("%s = paginate(%s, page_mode)", page, collection),
		fmt.Sprintf("%s = 0", index),
		"while True:",
		fmt.Sprintf("if %s >= len(%s.items):", index, page),
		fmt.Sprintf("if not %s.more:", page),
		"break",
		"#end",
		fmt.Sprintf("%s = _refetch(%s)", page, page),
		fmt.Sprintf("%s = 0", index),
		fmt.Sprintf("if len(%s.items) == 0:", page),
		"break",
		"#end",
		"#end",
		fmt.Sprintf("%s = %s.items[%s]", variable, page, index),
		fmt.Sprintf("%s += 1", index),
	}
}

// ForEachFooter closes a loop opened by ForEachHeader.
func ForEachFooter() []string {
	return []string{"#end"}
}

var atomPattern = regexp.MustCompile(`^[\w.]+$`)

// atom parenthesizes s unless it is a single name or number.
func atom(s string) string {
	if atomPattern.MatchString(s) {
		return s
	}
	return "(" + s + ")"
}

// RangeHeader opens a counted FOR loop. Bounds are inclusive.
func RangeHeader(variable, from, to, step string) string {
	if step == "" {
		return fmt.Sprintf("for %s in range(%s, %s + 1):", variable, from, atom(to))
	}
	return fmt.Sprintf("for %s in _range(%s, %s, %s):", variable, from, to, step)
}
