package codegen

import (
	"fmt"
	"strings"

	"github.com/GeneralBots/BotServer-sub001/internal/macro"
	"github.com/GeneralBots/BotServer-sub001/pkg/parser"
)

// Predeclared names the sandbox binds before the module runs.
const (
	ChannelsName    = "_channels"
	ContextName     = "_context"
	ParamsName      = "_params"
	ArgsName        = "_args"
	EntitiesName    = "_entities"
	CredentialsName = "_credentials"
)

// TokenRefreshWindow is how close to expiry, in seconds, a cached token is
// refreshed.
const TokenRefreshWindow = 600

// Module is an assembled program. LineMap[i] is the source line of
// generated line i+1; preamble lines map to 0.
type Module struct {
	Code    string
	LineMap []int
}

// handles binds the reserved capability names to the per-run channels.
var handles = []string{
	"dialog = " + ChannelsName + ".dialog",
	"sys = " + ChannelsName + ".system",
	"wa = " + ChannelsName + ".web",
	"img = " + ChannelsName + ".image",
}

// hydration exposes the implicit run context.
var hydration = []string{
	`pid = ` + ContextName + `.get("pid", "")`,
	`user = ` + ContextName + `.get("user", "")`,
	`channel = ` + ContextName + `.get("channel", "")`,
	`locale = ` + ContextName + `.get("locale", "en")`,
	`now = ` + ContextName + `.get("now", "")`,
	`today = ` + ContextName + `.get("today", "")`,
	`NEW_LINE = "\n"`,
	`page_mode = ` + ContextName + `.get("page_mode", "none")`,
	`params = ci(` + ParamsName + `)`,
	`entities = ci(` + EntitiesName + `)`,
}

// utilities are defined in the module itself; everything else the
// generated code calls is a sandbox builtin.
var utilities = fmt.Sprintf(`
def isarray(value):
    return type(value) in ("list", "tuple", "ci_list")

def ubound(value):
    if value == None:
        return 0
    if isarray(value) and len(value) > 0 and value[0] == "__offset__":
        return len(value) - 1
    return len(value)

def date(*args):
    return sys.date(*args)

def hour(*args):
    return sys.hour(*args)

def base64(value):
    return sys.base64(value)

def _range(start, stop, step):
    if step == 0:
        fail("FOR STEP must not be 0")
    if step > 0:
        return range(start, stop + 1, step)
    return range(start, stop - 1, step)

def _ensure_tokens():
    for name in %[1]s:
        key = "token_" + name
        expiry = %[2]s.get(key + "_expiry", 0)
        if key in %[2]s and expiry - _clock() > %[3]d:
            continue
        token = sys.refresh_token(name)
        %[2]s[key] = token.token
        %[2]s[key + "_expiry"] = token.expiry

def _refetch(page):
    for attempt in range(%[4]d):
        _ensure_tokens()
        resp = sys.get_http(page.next)
        if resp.status in %[5]s and attempt < %[6]d:
            sleep(backoff(resp.status))
            continue
        if resp.status >= 400:
            _capability_error("GET", page.next, resp.status)
        return paginate(resp.data, page.mode, url = page.next)
    return paginate([], page.mode)
`, CredentialsName, ContextName, TokenRefreshWindow, macro.RetryAttempts, macro.RetryStatuses, macro.RetryAttempts-1)

// Preamble returns the lines prepended to every module. PARAM declarations
// are hydrated from the caller arguments, falling back to bot config.
func Preamble(params []*parser.ParamStmt) []string {
	lines := append([]string{}, handles...)
	lines = append(lines, hydration...)
	for _, p := range params {
		name := Ident(p.Name)
		lines = append(lines, fmt.Sprintf("%s = %s.get(%s, %s.get(%s))",
			name, ArgsName, macro.Quote(p.Name), ParamsName, macro.Quote(p.Name)))
	}
	lines = append(lines, strings.Split(strings.TrimSpace(utilities), "\n")...)
	return append(lines, "", "_ensure_tokens()", "")
}

// Assemble joins the preamble and laid-out body lines into one module.
func Assemble(body []macro.Line, params []*parser.ParamStmt) *Module {
	pre := Preamble(params)
	m := &Module{LineMap: make([]int, 0, len(pre)+len(body))}

	var b strings.Builder
	for _, l := range pre {
		b.WriteString(l)
		b.WriteByte('\n')
		m.LineMap = append(m.LineMap, 0)
	}
	for _, l := range body {
		b.WriteString(l.Text)
		b.WriteByte('\n')
		m.LineMap = append(m.LineMap, l.Source)
	}
	m.Code = b.String()
	return m
}

// SourceLine maps a generated line (1-based) back to the script.
func (m *Module) SourceLine(generated int) int {
	if generated < 1 || generated > len(m.LineMap) {
		return 0
	}
	return m.LineMap[generated-1]
}
