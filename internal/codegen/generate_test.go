package codegen

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeneralBots/BotServer-sub001/internal/macro"
	"github.com/GeneralBots/BotServer-sub001/pkg/parser"
)

func generate(t *testing.T, src string) []macro.Line {
	t.Helper()
	rw := macro.New(nil)
	prog, err := parser.Parse(src, parser.WithRewriter(rw))
	require.NoError(t, err)
	lines, err := Generate(prog, rw.State())
	require.NoError(t, err)
	return lines
}

func texts(lines []macro.Line) []string {
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = l.Text
	}
	return out
}

func TestExpr(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{`"Hello, " & name`, `"Hello, " + name`},
		{`a = 1 AND NOT b`, `a == 1 and not b`},
		{`(a + b) * c`, `(a + b) * c`},
		{`a - (b - c)`, `a - (b - c)`},
		{`a < b = c`, `(a < b) == c`},
		{`a = NOT b`, `a == (not b)`},
		{`NOT a = b`, `not a == b`},
		{`UCASE(name$)`, `upper(name_s)`},
		{`x MOD 2 <> 0`, `x % 2 != 0`},
		{`-a * b`, `-a * b`},
		{`obj.items[0].name`, `obj.items[0].name`},
		{`[1, 'two', TRUE, NULL]`, `[1, "two", True, None]`},
		{`pass + 1`, `pass_ + 1`},
		{`a OR b AND c`, `a or b and c`},
		{`len(list) > 0 || done`, `len(list) > 0 or done`},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			x, err := parser.ParseExpression(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, Expr(x))
		})
	}
}

func TestGenerate_Statements(t *testing.T) {
	src := `REM greeting
TALK "Hello, " + name
TALK Hello there friend
INPUT "Age?"; age
HEAR answer AS "yes", "no"
PRINT a; b
counter = counter + 1
SendReport counter`

	assert.Equal(t, []string{
		"# greeting",
		`dialog.talk("Hello, " + name)`,
		`dialog.talk("Hello there friend")`,
		`dialog.talk("Age?")`,
		`age = dialog.hear("text")`,
		`answer = dialog.hear("menu", ["yes", "no"])`,
		"print(a, b)",
		"counter = counter + 1",
		"SendReport(counter)",
	}, texts(generate(t, src)))
}

func TestGenerate_Blocks(t *testing.T) {
	src := `FUNCTION Double(n)
  RETURN n * 2
END FUNCTION
FOR i = 1 TO 3
  IF i = 2 THEN
    EXIT FOR
  ELSEIF i > 2 THEN
    TALK Double(i)
  ELSE
    x = 0
  END IF
NEXT
DO WHILE x < 10
  x = x + 1
LOOP`

	lines := generate(t, src)
	assert.Equal(t, []string{
		"def Double(n):",
		"    return n * 2",
		"for i in range(1, 3 + 1):",
		"    if i == 2:",
		"        break",
		"    elif i > 2:",
		"        dialog.talk(Double(i))",
		"    else:",
		"        x = 0",
		"while x < 10:",
		"    x = x + 1",
	}, texts(lines))

	sources := make([]int, len(lines))
	for i, l := range lines {
		sources[i] = l.Source
	}
	assert.Equal(t, []int{1, 2, 4, 5, 6, 7, 8, 10, 10, 13, 14}, sources)
}

func TestGenerate_Step(t *testing.T) {
	lines := generate(t, "FOR i = 10 TO 1 STEP -2\nNEXT")
	assert.Equal(t, []string{"for i in _range(10, 1, -2):", "    pass"}, texts(lines))
}

func TestGenerate_DelegatedLines(t *testing.T) {
	src := `data = GET "https://api.example.com/items"
FOR EACH row IN data
  SAVE "rows.csv", row.id, row.name
NEXT`

	code := strings.Join(texts(generate(t, src)), "\n")
	assert.Contains(t, code, "for _attempt1 in range(5):")
	assert.Contains(t, code, `    _r1 = sys.get_http("https://api.example.com/items")`)
	assert.Contains(t, code, "_page2 = paginate(data, page_mode)")
	assert.Contains(t, code, `    sys.save("rows.csv", row.id, row.name)`)
}

func TestGenerate_CaptureBlocks(t *testing.T) {
	src := "BEGIN TALK\nHi ${name}!\nBye\nEND TALK\nBEGIN SYSTEM PROMPT\nBe brief.\nEND SYSTEM PROMPT"
	lines := generate(t, src)
	assert.Equal(t, []string{
		`dialog.talk("Hi " + str(name) + "!")`,
		`dialog.talk("Bye")`,
		`dialog.set_option("system_prompt", "Be brief.")`,
	}, texts(lines))
	assert.Equal(t, 2, lines[0].Source)
	assert.Equal(t, 3, lines[1].Source)
}

func TestGenerate_OpenClose(t *testing.T) {
	src := `OPEN "report.xlsx" FOR OUTPUT AS #out
CLOSE #out
OPEN "https://example.com", "bot", secret AS #page
CLOSE #page
OPEN "https://example.com" WITH #site, "bot", secret
CLOSE #site`
	assert.Equal(t, []string{
		`out = sys.open_sheet("report.xlsx", "output")`,
		"sys.close_handle(out)",
		`page = wa.open_page("https://example.com", "bot", secret)`,
		"wa.close_page(page)",
		`site = wa.open_page("https://example.com", "bot", secret)`,
		"wa.close_page(site)",
	}, texts(generate(t, src)))
}

func TestGenerate_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		line int
	}{
		{name: "exit for outside loop", src: "x = 1\nEXIT FOR", line: 2},
		{name: "exit do inside for", src: "FOR i = 1 TO 2\nEXIT DO\nNEXT", line: 2},
		{name: "return at top level", src: "RETURN 1", line: 1},
		{name: "exit for across function", src: "FOR i = 1 TO 2\nFUNCTION f()\nEXIT FOR\nEND FUNCTION\nNEXT", line: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog, err := parser.Parse(tt.src)
			require.NoError(t, err)
			_, err = Generate(prog, nil)
			var perr *parser.ParseError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.line, perr.Pos.Line)
		})
	}
}

func TestAssemble(t *testing.T) {
	src := "PARAM city AS string\nTALK \"Weather in \" + city\nx = GET \"https://api.example.com/w\""
	rw := macro.New(nil)
	prog, err := parser.Parse(src, parser.WithRewriter(rw))
	require.NoError(t, err)
	body, err := Generate(prog, rw.State())
	require.NoError(t, err)

	m := Assemble(body, prog.Params)
	assert.Contains(t, m.Code, "dialog = _channels.dialog\n")
	assert.Contains(t, m.Code, `city = _args.get("city", _params.get("city"))`)
	assert.Contains(t, m.Code, "def _ensure_tokens():")
	assert.Contains(t, m.Code, `dialog.talk("Weather in " + city)`)

	codeLines := strings.Split(strings.TrimSuffix(m.Code, "\n"), "\n")
	require.Len(t, m.LineMap, len(codeLines))
	for i := 1; i < len(m.LineMap); i++ {
		assert.GreaterOrEqual(t, m.LineMap[i], m.LineMap[i-1], "line map must not decrease at %d", i+1)
	}
	for i, l := range codeLines {
		if strings.HasPrefix(l, "dialog.talk(") {
			assert.Equal(t, 2, m.SourceLine(i+1))
		}
	}
	assert.Equal(t, 0, m.SourceLine(1))
	assert.Equal(t, 0, m.SourceLine(len(codeLines)+5))
}

func TestAssemble_Deterministic(t *testing.T) {
	src := "FOR EACH x IN items\nTALK x\nNEXT\ny = GET \"https://a.example.com\""
	a := Assemble(generate(t, src), nil)
	b := Assemble(generate(t, src), nil)
	assert.Equal(t, a.Code, b.Code)
	assert.Equal(t, a.LineMap, b.LineMap)
}
