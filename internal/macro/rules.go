package macro

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/GeneralBots/BotServer-sub001/pkg/parser"
)

// Kind classifies a rule.
type Kind int

const (
	// Structural rules handle blocks, captures and control flow.
	Structural Kind = iota
	// Domain rules turn keyword statements into capability calls.
	Domain
	// Normalize rules rewrite operators and literals in generated lines.
	Normalize
)

func (k Kind) String() string {
	switch k {
	case Structural:
		return "structural"
	case Domain:
		return "domain"
	case Normalize:
		return "normalize"
	}
	return "unknown"
}

// Rule is one entry of the ordered rule table. Pattern is matched against
// each line of the current line set; on a match Rewrite replaces that line
// with zero or more lines.
type Rule struct {
	Name    string
	Kind    Kind
	Pattern *regexp.Regexp
	Rewrite func(m []string, st *State) ([]string, error)
	// Active, when set, gates the rule on rewriter state.
	Active func(st *State) bool
}

func one(s string) []string { return []string{s} }

var spaces = regexp.MustCompile(`\s+`)

// normalize upper-cases s and collapses whitespace.
func normalize(s string) string {
	return strings.ToUpper(spaces.ReplaceAllString(strings.TrimSpace(s), " "))
}

// ---------- Structural ----------

var captureTerminators = map[captureMode]string{
	captureTalk:   "END TALK",
	capturePrompt: "END SYSTEM PROMPT",
	captureTable:  "END TABLE",
}

func rewriteCapture(m []string, st *State) ([]string, error) {
	if normalize(m[0]) != captureTerminators[st.capture] {
		st.captured = append(st.captured, m[0])
		return nil, nil
	}
	mode, lines := st.capture, st.captured
	st.capture, st.captured = captureNone, nil
	switch mode {
	case captureTalk:
		return EmitTalkBlock(lines, nil), nil
	case capturePrompt:
		st.SystemPrompt = strings.TrimSpace(strings.Join(lines, "\n"))
		return one(EmitSystemPrompt(st.SystemPrompt)), nil
	}
	// TABLE blocks are declarations only.
	return nil, nil
}

func startCapture(mode captureMode) func([]string, *State) ([]string, error) {
	return func(_ []string, st *State) ([]string, error) {
		st.startCapture(mode)
		return nil, nil
	}
}

func rewriteDeclaration(m []string, st *State) ([]string, error) {
	if strings.EqualFold(m[1], "DESCRIPTION") {
		st.Description = unquote(strings.TrimSpace(m[2]))
	}
	return nil, nil
}

func rewriteInlineIf(m []string, _ *State) ([]string, error) {
	rest := m[2]
	out := []string{"if " + m[1] + ":"}
	if i := parser.FindKeyword(rest, "ELSE"); i >= 0 {
		return append(out, strings.TrimSpace(rest[:i]), "else:", strings.TrimSpace(rest[i+len("ELSE"):]), "#end"), nil
	}
	return append(out, strings.TrimSpace(rest), "#end"), nil
}

func rewriteIf(m []string, st *State) ([]string, error) {
	st.push(blockIf)
	return one("if " + m[1] + ":"), nil
}

func rewriteElseIf(m []string, st *State) ([]string, error) {
	if err := st.expectTop("ELSEIF", blockIf); err != nil {
		return nil, err
	}
	return one("elif " + m[1] + ":"), nil
}

func rewriteElse(_ []string, st *State) ([]string, error) {
	if err := st.expectTop("ELSE", blockIf); err != nil {
		return nil, err
	}
	return one("else:"), nil
}

func closeBlock(closer string, kinds ...string) func([]string, *State) ([]string, error) {
	return func(_ []string, st *State) ([]string, error) {
		if _, err := st.pop(closer, kinds...); err != nil {
			return nil, err
		}
		return one("#end"), nil
	}
}

func rewriteForEach(m []string, st *State) ([]string, error) {
	st.push(blockForEach)
	return ForEachHeader(st, m[1], m[2]), nil
}

func rewriteFor(m []string, st *State) ([]string, error) {
	st.push(blockFor)
	return one(RangeHeader(m[1], m[2], m[3], m[4])), nil
}

func rewriteDoWhile(m []string, st *State) ([]string, error) {
	st.push(blockDo)
	return one("while " + m[1] + ":"), nil
}

func rewriteExit(m []string, st *State) ([]string, error) {
	switch strings.ToUpper(m[1]) {
	case "FOR":
		if !st.inside(blockFor) && !st.inside(blockForEach) {
			return nil, errors.New("EXIT FOR outside FOR")
		}
		return one("break"), nil
	case "DO":
		if !st.inside(blockDo) {
			return nil, errors.New("EXIT DO outside DO WHILE")
		}
		return one("break"), nil
	case "FUNCTION":
		if !st.inside(blockFunction) {
			return nil, errors.New("EXIT FUNCTION outside FUNCTION")
		}
		return one("return"), nil
	}
	return one("exit()"), nil
}

func rewriteFunction(m []string, st *State) ([]string, error) {
	st.push(blockFunction)
	var params []string
	for _, p := range SplitArgs(m[2]) {
		if fields := strings.Fields(p); len(fields) > 0 {
			params = append(params, fields[0])
		}
	}
	return one("def " + m[1] + "(" + strings.Join(params, ", ") + "):"), nil
}

func rewriteReturn(m []string, _ *State) ([]string, error) {
	if m[1] == "" {
		return one("return"), nil
	}
	return one("return " + m[1]), nil
}

// ---------- Dialog ----------

func rewritePrint(m []string, _ *State) ([]string, error) {
	args := SplitArgs(outsideQuotes(m[1], func(s string) string {
		return strings.ReplaceAll(s, ";", ",")
	}))
	return one("print(" + strings.Join(args, ", ") + ")"), nil
}

func rewriteInput(m []string, _ *State) ([]string, error) {
	var out []string
	if m[1] != "" {
		out = append(out, TalkCall(m[1]))
	}
	return append(out, EmitHear(m[2], "text", nil)), nil
}

func rewriteTalk(m []string, _ *State) ([]string, error) {
	return one(TalkCall(TalkArg(m[1]))), nil
}

func rewriteHear(m []string, _ *State) ([]string, error) {
	target, clause := m[1], strings.TrimSpace(m[2])
	if clause == "" {
		return one(EmitHear(target, "text", nil)), nil
	}
	fields := strings.Fields(clause)
	if kind := strings.ToLower(fields[0]); parser.HearKinds[kind] {
		rest := strings.TrimSpace(clause[len(fields[0]):])
		return one(EmitHear(target, kind, SplitArgs(rest))), nil
	}
	return one(EmitHear(target, "menu", SplitArgs(clause))), nil
}

// ---------- Options ----------

func rewriteSchedule(_ []string, _ *State) ([]string, error) {
	return nil, errors.New(`SET SCHEDULE requires a quoted cron expression: SET SCHEDULE "<cron>"`)
}

func rewritePageMode(m []string, _ *State) ([]string, error) {
	return []string{"page_mode = " + m[1], "dialog.set_page_mode(page_mode)"}, nil
}

func dialogSetter(method string) func([]string, *State) ([]string, error) {
	return func(m []string, _ *State) ([]string, error) {
		return one("dialog." + method + "(" + m[1] + ")"), nil
	}
}

func rewriteSetOption(m []string, _ *State) ([]string, error) {
	return one("dialog.set_option(" + Quote(strings.ToLower(m[1])) + ", " + m[2] + ")"), nil
}

// ---------- Data ----------

var fromTable = regexp.MustCompile(`(?i)\bFROM\s+([A-Za-z_]\w*)`)

func rewriteSelect(m []string, _ *State) ([]string, error) {
	sql := strings.TrimSpace(m[2])
	t := fromTable.FindStringSubmatch(sql)
	if t == nil {
		return nil, errors.New("SELECT requires a FROM clause")
	}
	return one(EmitSelect(m[1], t[1], sql)), nil
}

func rewriteOpen(m []string, st *State) ([]string, error) {
	rest := m[1]
	// the AS/WITH clause may precede or follow the credentials
	var handle string
	for _, kw := range []string{"AS", "WITH"} {
		if i := parser.FindKeyword(rest, kw); i >= 0 {
			after := strings.TrimSpace(rest[i+len(kw):])
			name, tail, _ := strings.Cut(after, ",")
			handle = strings.TrimPrefix(strings.TrimSpace(name), "#")
			rest = strings.TrimSpace(rest[:i])
			if tail != "" {
				rest += "," + tail
			}
			break
		}
	}
	var user, pass string
	if args := SplitArgs(rest); len(args) > 1 {
		if len(args) != 3 {
			return nil, errors.New("OPEN with credentials requires url, username and password")
		}
		rest, user, pass = args[0], args[1], args[2]
	}
	var mode string
	if i := parser.FindKeyword(rest, "FOR"); i >= 0 {
		mode = strings.TrimSpace(rest[i+len("FOR"):])
		rest = rest[:i]
	}
	path := strings.TrimSpace(rest)
	if path == "" {
		return nil, errors.New("OPEN requires a path or url")
	}
	return one(EmitOpen(st, handle, path, mode, user, pass)), nil
}

func rewriteClose(m []string, st *State) ([]string, error) {
	return one(EmitClose(st, m[1])), nil
}

func rewriteHTTP(m []string, st *State) ([]string, error) {
	return EmitHTTP(st, m[1], m[2], SplitArgs(stripParens(m[3])))
}

// call maps a keyword statement onto one capability method. Params name the
// positional arguments; the first required of them must be present.
type call struct {
	recv     string
	method   string
	params   []string
	required int
	variadic bool
}

var calls = map[string]call{
	"DATEDIFF":      {recv: "sys", method: "date_diff", params: []string{"date1", "date2", "mode"}, required: 3},
	"DATEADD":       {recv: "sys", method: "date_add", params: []string{"date", "mode", "units"}, required: 3},
	"CREATE DEAL":   {recv: "sys", method: "create_deal", params: []string{"company", "contact", "value"}, required: 1},
	"CREATE FOLDER": {recv: "sys", method: "create_folder", params: []string{"path"}, required: 1},
	"FIND":          {recv: "sys", method: "find", params: []string{"file", "filter"}, required: 1},
	"MERGE":         {recv: "sys", method: "merge", params: []string{"file", "data", "key"}, required: 3},
	"SAVE":          {recv: "sys", method: "save", params: []string{"file"}, required: 2, variadic: true},
	"UPLOAD":        {recv: "sys", method: "upload", params: []string{"file", "folder"}, required: 1},
	"DIR":           {recv: "sys", method: "dir_folder", params: []string{"path"}, required: 1},
	"DELETE":        {recv: "sys", method: "delete_file", params: []string{"file"}, required: 1},
	"PAY":           {recv: "sys", method: "pay", params: []string{"order_id", "customer", "amount"}, required: 3},
	"SEND MAIL":     {recv: "sys", method: "send_mail", params: []string{"to", "subject", "body"}, required: 3},
	"BLUR":          {recv: "img", method: "blur", params: []string{"file"}, required: 1},
	"SHARPEN":       {recv: "img", method: "sharpen", params: []string{"file"}, required: 1},
	"CARD":          {recv: "img", method: "card", params: []string{"doc", "prompt", "count"}, required: 1},
	"IMAGE":         {recv: "img", method: "generate", params: []string{"prompt"}, required: 1},
	"CLICK":         {recv: "wa", method: "click", params: []string{"page", "selector"}, required: 2},
	"SCREENSHOT":    {recv: "wa", method: "screenshot", params: []string{"page", "selector"}, required: 1},
	"TRANSFER":      {recv: "dialog", method: "transfer_to", params: []string{"to"}},
	"WAIT":          {method: "sleep", params: []string{"seconds"}, required: 1},
}

// constructors are keyword forms that build an empty value.
var constructors = map[string]string{
	"NEW OBJECT": "{}",
	"NEW ARRAY":  "[]",
}

func keywordAlternation() string {
	var kws []string
	for kw := range calls {
		kws = append(kws, kw)
	}
	for kw := range constructors {
		kws = append(kws, kw)
	}
	// Longest first so CREATE DEAL wins over a shorter prefix.
	sort.Slice(kws, func(i, j int) bool {
		if len(kws[i]) != len(kws[j]) {
			return len(kws[i]) > len(kws[j])
		}
		return kws[i] < kws[j]
	})
	for i, kw := range kws {
		kws[i] = strings.ReplaceAll(kw, " ", `\s+`)
	}
	return strings.Join(kws, "|")
}

func rewriteCall(m []string, _ *State) ([]string, error) {
	target, kw := m[1], normalize(m[2])
	assign := ""
	if target != "" {
		assign = target + " = "
	}
	if v, ok := constructors[kw]; ok {
		if target == "" {
			return nil, fmt.Errorf("%s must be assigned to a variable", kw)
		}
		return one(assign + v), nil
	}

	c := calls[kw]
	args := SplitArgs(stripParens(m[3]))
	if len(args) < c.required {
		return nil, fmt.Errorf("%s requires %d parameter(s) (%s), got %d",
			kw, c.required, strings.Join(c.params, ", "), len(args))
	}
	if !c.variadic && len(args) > len(c.params) {
		return nil, fmt.Errorf("%s takes at most %d parameter(s) (%s), got %d",
			kw, len(c.params), strings.Join(c.params, ", "), len(args))
	}

	rendered := make([]string, len(args))
	for i, a := range args {
		if c.variadic {
			rendered[i] = a
			continue
		}
		rendered[i] = c.params[i] + "=" + a
	}
	fn := c.method
	if c.recv != "" {
		fn = c.recv + "." + c.method
	}
	return one(assign + fn + "(" + strings.Join(rendered, ", ") + ")"), nil
}

// ---------- Normalization ----------

// standaloneEq matches "=" that is not part of ==, !=, <=, >= or an
// augmented assignment.
var standaloneEq = regexp.MustCompile(`(^|[^=!<>+\-*/%])=([^=]|$)`)

func rewriteCondition(m []string, _ *State) ([]string, error) {
	cond := outsideQuotes(m[2], func(s string) string {
		return standaloneEq.ReplaceAllString(s, "$1==$2")
	})
	return one(m[1] + " " + cond + ":"), nil
}

var (
	wordOperators = regexp.MustCompile(`(?i)\b(AND|OR|NOT|TRUE|FALSE|NULL|NOTHING|MOD)\b`)
	andOperator   = regexp.MustCompile(`\s*&&\s*`)
	orOperator    = regexp.MustCompile(`\s*\|\|\s*`)
	bangOperator  = regexp.MustCompile(`!([^=]|$)`)
	dollarIdent   = regexp.MustCompile(`(\w)\$`)
	utilityCall   = regexp.MustCompile(`(?i)\b(` + strings.Join(utilityList(), "|") + `)\s*\(`)
)

var wordReplacements = map[string]string{
	"AND": "and", "OR": "or", "NOT": "not", "TRUE": "True", "FALSE": "False",
	"NULL": "None", "NOTHING": "None", "MOD": "%",
}

// UtilityNames maps BASIC utility functions onto the names bound by the
// module preamble.
var UtilityNames = map[string]string{
	"UBOUND": "ubound", "ISARRAY": "isarray", "UUID": "uuid", "DATE": "date",
	"HOUR": "hour", "BASE64": "base64", "CI": "ci", "YAML": "yaml",
	"LEN": "len", "STR": "str", "INT": "int", "UCASE": "upper", "LCASE": "lower",
	"TRIM": "trim", "VAL": "val", "ROUND": "round", "FORMAT": "format",
}

func utilityList() []string {
	names := make([]string, 0, len(UtilityNames))
	for n := range UtilityNames {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NormalizeOperators rewrites BASIC operators and literals in unquoted text.
func NormalizeOperators(s string) string {
	return outsideQuotes(s, func(seg string) string {
		seg = strings.ReplaceAll(seg, "<>", "!=")
		seg = andOperator.ReplaceAllString(seg, " and ")
		seg = orOperator.ReplaceAllString(seg, " or ")
		seg = strings.ReplaceAll(seg, "&", "+")
		seg = bangOperator.ReplaceAllString(seg, "not $1")
		seg = wordOperators.ReplaceAllStringFunc(seg, func(w string) string {
			return wordReplacements[strings.ToUpper(w)]
		})
		seg = dollarIdent.ReplaceAllString(seg, "${1}_s")
		return utilityCall.ReplaceAllStringFunc(seg, func(call string) string {
			name := strings.TrimSpace(strings.TrimSuffix(call, "("))
			return UtilityNames[strings.ToUpper(name)] + "("
		})
	})
}

func rewriteOperators(m []string, _ *State) ([]string, error) {
	return one(NormalizeOperators(m[0])), nil
}

// rewriteLiterals converts single-quoted and backtick literals into Starlark
// double-quoted strings; double-quoted literals already are.
func rewriteLiterals(m []string, _ *State) ([]string, error) {
	var b strings.Builder
	for _, seg := range segments(m[0]) {
		if seg.quoted && seg.text[0] != '"' {
			b.WriteString(StringLiteral(seg.text))
			continue
		}
		b.WriteString(seg.text)
	}
	return one(b.String()), nil
}

// DefaultRules returns the rule table in application order. Order matters:
// WRITE becomes PRINT before PRINT becomes print(), IF rules emit "if x = y:"
// before the condition rule turns "=" into "==", and normalization runs last.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "capture", Kind: Structural, Pattern: regexp.MustCompile(`^.*$`), Rewrite: rewriteCapture,
			Active: func(st *State) bool { return st.capturing() }},
		{Name: "begin talk", Kind: Structural, Pattern: regexp.MustCompile(`(?i)^BEGIN\s+TALK$`), Rewrite: startCapture(captureTalk)},
		{Name: "begin system prompt", Kind: Structural, Pattern: regexp.MustCompile(`(?i)^BEGIN\s+SYSTEM\s+PROMPT$`), Rewrite: startCapture(capturePrompt)},
		{Name: "table", Kind: Structural, Pattern: regexp.MustCompile(`(?i)^TABLE\s+\w+(?:\s+ON\s+\w+)?$`), Rewrite: startCapture(captureTable)},
		{Name: "rem", Kind: Structural, Pattern: regexp.MustCompile(`(?i)^REM\b\s*(.*)$`),
			Rewrite: func(m []string, _ *State) ([]string, error) { return one("# " + m[1]), nil }},
		{Name: "declaration", Kind: Structural, Pattern: regexp.MustCompile(`(?i)^(PARAM|DESCRIPTION)\b(.*)$`), Rewrite: rewriteDeclaration},

		{Name: "inline if", Kind: Structural, Pattern: regexp.MustCompile(`(?i)^IF\s+(.+?)\s+THEN\s+(\S.*)$`), Rewrite: rewriteInlineIf},
		{Name: "if", Kind: Structural, Pattern: regexp.MustCompile(`(?i)^IF\s+(.+?)\s+THEN$`), Rewrite: rewriteIf},
		{Name: "elseif", Kind: Structural, Pattern: regexp.MustCompile(`(?i)^ELSE\s*IF\s+(.+?)\s+THEN$`), Rewrite: rewriteElseIf},
		{Name: "else", Kind: Structural, Pattern: regexp.MustCompile(`(?i)^ELSE$`), Rewrite: rewriteElse},
		{Name: "end if", Kind: Structural, Pattern: regexp.MustCompile(`(?i)^END\s*IF$`), Rewrite: closeBlock("END IF", blockIf)},

		{Name: "for each", Kind: Structural, Pattern: regexp.MustCompile(`(?i)^FOR\s+EACH\s+(\w+)\s+IN\s+(.+)$`), Rewrite: rewriteForEach},
		{Name: "for", Kind: Structural, Pattern: regexp.MustCompile(`(?i)^FOR\s+(\w+)\s*=\s*(.+?)\s+TO\s+(.+?)(?:\s+STEP\s+(.+))?$`), Rewrite: rewriteFor},
		{Name: "next", Kind: Structural, Pattern: regexp.MustCompile(`(?i)^NEXT(?:\s+\w+)?$`), Rewrite: closeBlock("NEXT", blockFor, blockForEach)},
		{Name: "do while", Kind: Structural, Pattern: regexp.MustCompile(`(?i)^DO\s+WHILE\s+(.+)$`), Rewrite: rewriteDoWhile},
		{Name: "loop", Kind: Structural, Pattern: regexp.MustCompile(`(?i)^LOOP$`), Rewrite: closeBlock("LOOP", blockDo)},
		{Name: "exit", Kind: Structural, Pattern: regexp.MustCompile(`(?i)^EXIT(?:\s+(FOR|DO|FUNCTION))?$`), Rewrite: rewriteExit},
		{Name: "function", Kind: Structural, Pattern: regexp.MustCompile(`(?i)^FUNCTION\s+(\w+)\s*(?:\((.*)\))?$`), Rewrite: rewriteFunction},
		{Name: "end function", Kind: Structural, Pattern: regexp.MustCompile(`(?i)^END\s*FUNCTION$`), Rewrite: closeBlock("END FUNCTION", blockFunction)},
		{Name: "return", Kind: Structural, Pattern: regexp.MustCompile(`(?i)^RETURN(?:\s+(.+))?$`), Rewrite: rewriteReturn},

		{Name: "write", Kind: Domain, Pattern: regexp.MustCompile(`(?i)^WRITE\b\s*(.*)$`),
			Rewrite: func(m []string, _ *State) ([]string, error) { return one("PRINT " + m[1]), nil }},
		{Name: "print", Kind: Domain, Pattern: regexp.MustCompile(`(?i)^PRINT\b\s*(.*)$`), Rewrite: rewritePrint},
		{Name: "input", Kind: Domain, Pattern: regexp.MustCompile(`(?i)^INPUT\s+(?:(.+?)\s*[;,]\s*)?(\w+)$`), Rewrite: rewriteInput},
		{Name: "talk", Kind: Domain, Pattern: regexp.MustCompile(`(?i)^TALK\s+(.+)$`), Rewrite: rewriteTalk},
		{Name: "hear", Kind: Domain, Pattern: regexp.MustCompile(`(?i)^HEAR\s+(\w+)(?:\s+AS\s+(.+))?$`), Rewrite: rewriteHear},

		{Name: "set schedule", Kind: Domain, Pattern: regexp.MustCompile(`(?i)^SET\s+SCHEDULE\b`), Rewrite: rewriteSchedule},
		{Name: "set page mode", Kind: Domain, Pattern: regexp.MustCompile(`(?i)^SET\s+PAGE\s+MODE\s+(?:TO\s+|=\s*)?(.+)$`), Rewrite: rewritePageMode},
		{Name: "set language", Kind: Domain, Pattern: regexp.MustCompile(`(?i)^SET\s+LANGUAGE\s+(?:TO\s+|=\s*)?(.+)$`), Rewrite: dialogSetter("set_language")},
		{Name: "set filter", Kind: Domain, Pattern: regexp.MustCompile(`(?i)^SET\s+FILTER\s+(?:TO\s+|=\s*)?(.+)$`), Rewrite: dialogSetter("set_filter")},
		{Name: "set option", Kind: Domain, Pattern: regexp.MustCompile(`(?i)^SET\s+(\w+)\s*(?:=\s*|\s+TO\s+|\s+)(.+)$`), Rewrite: rewriteSetOption},

		{Name: "select", Kind: Domain, Pattern: regexp.MustCompile(`(?i)^(?:(\w+)\s*=\s*)?(SELECT\s+.+)$`), Rewrite: rewriteSelect},
		{Name: "open", Kind: Domain, Pattern: regexp.MustCompile(`(?i)^OPEN\s+(.+)$`), Rewrite: rewriteOpen},
		{Name: "close", Kind: Domain, Pattern: regexp.MustCompile(`(?i)^CLOSE\s+#?(\w+)$`), Rewrite: rewriteClose},
		{Name: "http", Kind: Domain, Pattern: regexp.MustCompile(`(?i)^(?:([\w.\[\]]+)\s*=\s*)?(GET|POST|PUT)\s+(.+)$`), Rewrite: rewriteHTTP},
		{Name: "call", Kind: Domain, Pattern: regexp.MustCompile(`(?i)^(?:([\w.\[\]]+)\s*=\s*)?(` + keywordAlternation() + `)\b\s*(.*)$`), Rewrite: rewriteCall},

		{Name: "let", Kind: Normalize, Pattern: regexp.MustCompile(`(?i)^LET\s+(.+)$`),
			Rewrite: func(m []string, _ *State) ([]string, error) { return one(m[1]), nil }},
		{Name: "condition", Kind: Normalize, Pattern: regexp.MustCompile(`^(if|elif|while)\s+(.+):$`), Rewrite: rewriteCondition},
		{Name: "operators", Kind: Normalize, Pattern: regexp.MustCompile(`^[^#].*$`), Rewrite: rewriteOperators},
		{Name: "literals", Kind: Normalize, Pattern: regexp.MustCompile("^[^#].*['`].*$"), Rewrite: rewriteLiterals},
	}
}
