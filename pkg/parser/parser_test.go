package parser

import (
	"errors"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Precedence(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "mul binds tighter", input: "x = 1 + 2 * 3", want: "(1 + (2 * 3))"},
		{name: "and binds tighter than or", input: "x = a OR b AND c", want: "(a or (b and c))"},
		{name: "equality in expression", input: "x = a = 1", want: "(a == 1)"},
		{name: "angle not equal", input: "x = a <> b", want: "(a != b)"},
		{name: "not wraps comparison", input: "x = NOT a = b", want: "not (a == b)"},
		{name: "symbolic logic", input: "x = a && b || c", want: "((a and b) or c)"},
		{name: "left assoc", input: "x = 10 - 4 - 3", want: "((10 - 4) - 3)"},
		{name: "mod keyword", input: "x = a MOD 2", want: "(a % 2)"},
		{name: "member call index", input: "x = obj.items(1)[0]", want: "obj.items(1)[0]"},
		{name: "ampersand concat", input: `x = "a" & b`, want: `("a" + b)`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog, err := Parse(tt.input)
			require.NoError(t, err)
			require.Len(t, prog.Statements, 1)
			assign, ok := prog.Statements[0].(*AssignStmt)
			require.True(t, ok, "expected assignment, got %T", prog.Statements[0])
			assert.Equal(t, tt.want, exprString(assign.Value))
		})
	}
}

func TestParse_Statements(t *testing.T) {
	src := `REM greeting script
INPUT "Your name"; name
PRINT name, 1
WRITE "done"
TALK "Hello, " + name
TALK Hello world, how are you
HEAR answer AS EMAIL
HEAR choice AS "Yes", "No"
HEAR free
OPEN "report.xlsx" FOR APPEND AS #rep
CLOSE #rep
rows = SELECT name FROM customers WHERE age > 30
Notify name, 2
`
	prog, err := Parse(src)
	require.NoError(t, err)
	require.Len(t, prog.Statements, 13)

	rem := prog.Statements[0].(*RemStmt)
	assert.Equal(t, "greeting script", rem.Text)

	input := prog.Statements[1].(*InputStmt)
	assert.Equal(t, "name", input.Target)
	assert.Equal(t, `"Your name"`, exprString(input.Prompt))

	printStmt := prog.Statements[2].(*PrintStmt)
	assert.Len(t, printStmt.Args, 2)

	talk := prog.Statements[4].(*TalkStmt)
	assert.Equal(t, `("Hello, " + name)`, exprString(talk.Value))

	prose := prog.Statements[5].(*TalkStmt)
	lit, ok := prose.Value.(*StringLit)
	require.True(t, ok)
	assert.Equal(t, "Hello world, how are you", lit.Value)

	email := prog.Statements[6].(*HearStmt)
	assert.Equal(t, "email", email.Kind)

	menu := prog.Statements[7].(*HearStmt)
	assert.Equal(t, "menu", menu.Kind)
	assert.Len(t, menu.Options, 2)

	free := prog.Statements[8].(*HearStmt)
	assert.Equal(t, "text", free.Kind)

	open := prog.Statements[9].(*OpenStmt)
	assert.Equal(t, "append", open.Mode)
	assert.Equal(t, "rep", open.Handle)

	closeStmt := prog.Statements[10].(*CloseStmt)
	assert.Equal(t, "rep", closeStmt.Handle)

	sel := prog.Statements[11].(*SelectStmt)
	assert.Equal(t, "rows", sel.Target)
	assert.Equal(t, "customers", sel.Table)
	assert.Equal(t, "SELECT name FROM customers WHERE age > 30", sel.SQL)

	call := prog.Statements[12].(*ExprStmt).X.(*CallExpr)
	assert.Equal(t, "Notify", exprString(call.Fn))
	assert.Len(t, call.Args, 2)
}

func TestParse_Blocks(t *testing.T) {
	src := `FUNCTION Greet(who AS STRING)
  IF who = "" THEN
    RETURN "nobody"
  ELSEIF who = "bot" THEN
    RETURN "me"
  ELSE
    RETURN "Hi " + who
  END IF
END FUNCTION

FOR i = 1 TO 10 STEP 2
  IF i > 5 THEN EXIT FOR
NEXT i

FOR EACH item IN items
  TALK item.name
NEXT

DO WHILE n < 3
  n = n + 1
LOOP
`
	prog, err := Parse(src)
	require.NoError(t, err)
	require.Len(t, prog.Statements, 4)

	fn := prog.Statements[0].(*FunctionStmt)
	assert.Equal(t, "Greet", fn.Name)
	assert.Equal(t, []string{"who"}, fn.Params)
	assert.Equal(t, 9, fn.End)

	ifStmt := fn.Body[0].(*IfStmt)
	require.Len(t, ifStmt.Else, 1)
	elseIf := ifStmt.Else[0].(*IfStmt)
	assert.True(t, elseIf.ElseIf)
	assert.Len(t, elseIf.Else, 1)
	assert.Equal(t, 8, ifStmt.End)

	forStmt := prog.Statements[1].(*ForStmt)
	assert.Equal(t, "i", forStmt.Var)
	assert.Equal(t, "2", exprString(forStmt.Step))
	inline := forStmt.Body[0].(*IfStmt)
	assert.True(t, inline.Inline)
	assert.Equal(t, "FOR", inline.Then[0].(*ExitStmt).Kind)
	assert.Equal(t, 13, forStmt.End)

	each := prog.Statements[2].(*ForEachStmt)
	assert.Equal(t, "item", each.Var)
	assert.Equal(t, "items", exprString(each.Collection))

	loop := prog.Statements[3].(*WhileStmt)
	assert.Equal(t, "(n < 3)", exprString(loop.Cond))
	assert.Equal(t, 21, loop.End)
}

func TestParse_InlineIfElse(t *testing.T) {
	prog, err := Parse(`IF ok THEN TALK "yes" ELSE TALK "no"`)
	require.NoError(t, err)

	stmt := prog.Statements[0].(*IfStmt)
	assert.True(t, stmt.Inline)
	require.Len(t, stmt.Then, 1)
	require.Len(t, stmt.Else, 1)
	assert.Equal(t, `"no"`, exprString(stmt.Else[0].(*TalkStmt).Value))
}

func TestParse_InlineIfProseTalk(t *testing.T) {
	tests := []struct {
		name     string
		src      string
		wantThen string
		wantElse string
	}{
		{
			name:     "prose in both branches",
			src:      `IF x = 1 THEN TALK hello there ELSE TALK bye now`,
			wantThen: "hello there",
			wantElse: "bye now",
		},
		{
			name:     "quoted else stays in prose",
			src:      `IF x = 1 THEN TALK say "else" twice ELSE TALK done here`,
			wantThen: `say "else" twice`,
			wantElse: "done here",
		},
		{
			name:     "no else",
			src:      `IF x = 1 THEN TALK elsewhere is fine`,
			wantThen: "elsewhere is fine",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog, err := Parse(tt.src)
			require.NoError(t, err)
			stmt := prog.Statements[0].(*IfStmt)
			require.Len(t, stmt.Then, 1)
			assert.Equal(t, tt.wantThen, stmt.Then[0].(*TalkStmt).Value.(*StringLit).Value)
			if tt.wantElse == "" {
				assert.Empty(t, stmt.Else)
				return
			}
			require.Len(t, stmt.Else, 1)
			assert.Equal(t, tt.wantElse, stmt.Else[0].(*TalkStmt).Value.(*StringLit).Value)
		})
	}
}

func TestFindKeyword(t *testing.T) {
	tests := []struct {
		s, kw string
		want  int
	}{
		{`TALK "else" ELSE x`, "ELSE", 12},
		{`TALK elsewhere`, "ELSE", -1},
		{`"a" as #h`, "AS", 4},
		{`a, b, c AS #page`, "as", 8},
		{`'it\'s' else`, "ELSE", 8},
		{`x_else else`, "ELSE", 7},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FindKeyword(tt.s, tt.kw), tt.s)
	}
}

func TestParse_CaptureBlocks(t *testing.T) {
	src := `BEGIN TALK
Welcome! Don't "worry", it's fine.
  Indented line
END TALK
BEGIN SYSTEM PROMPT
You are a helpful bot.
end   system   prompt
TALK "after"
`
	prog, err := Parse(src)
	require.NoError(t, err)
	require.Len(t, prog.Statements, 3)

	block := prog.Statements[0].(*TalkBlock)
	assert.Equal(t, []string{`Welcome! Don't "worry", it's fine.`, "  Indented line"}, block.Lines)
	assert.Equal(t, 4, block.End)

	prompt := prog.Statements[1].(*SystemPromptBlock)
	assert.Equal(t, "You are a helpful bot.", prompt.Text)
	assert.Equal(t, "You are a helpful bot.", prog.SystemPrompt)

	talk := prog.Statements[2].(*TalkStmt)
	assert.Equal(t, 8, talk.Pos().Line)
}

func TestParse_Table(t *testing.T) {
	src := `TABLE Customers ON crm
  ID STRING(30) UNIQUE
  Name AS string(100) *
  Amount number(10,2)
  Code KEY
  Seq integer AUTO
  Owner AS TABLE Users
END TABLE
`
	prog, err := Parse(src)
	require.NoError(t, err)
	require.Len(t, prog.Tables, 1)

	def := prog.Tables[0]
	assert.Equal(t, "Customers", def.Name)
	assert.Equal(t, "crm", def.Connection)
	assert.Equal(t, []string{"id", "name", "amount", "code", "seq", "owner"}, def.Order)

	id, ok := def.Field("id")
	require.True(t, ok)
	assert.Equal(t, &FieldDef{Name: "ID", Type: FieldString, Size: 30, Unique: true, AllowNull: true}, id)

	name, _ := def.Field("NAME")
	assert.False(t, name.AllowNull)

	amount, _ := def.Field("amount")
	assert.Equal(t, 10, amount.Size)
	assert.Equal(t, 2, amount.Scale)

	code, _ := def.Field("code")
	assert.True(t, code.PrimaryKey)
	assert.True(t, code.AutoIncrement)
	assert.False(t, code.AllowNull)

	seq, _ := def.Field("seq")
	assert.True(t, seq.AutoIncrement)
	assert.False(t, seq.PrimaryKey)

	owner, _ := def.Field("owner")
	assert.Equal(t, "TABLE", owner.Type)
	assert.Equal(t, "Users", owner.References)
}

func TestParse_ParamsAndDescription(t *testing.T) {
	src := `PARAM name AS STRING LIKE "Maria" DESCRIPTION "Customer name"
PARAM age AS INTEGER LIKE 30
DESCRIPTION "Greets a user"
TALK "Hello, " + name
`
	prog, err := Parse(src)
	require.NoError(t, err)

	require.Len(t, prog.Params, 2)
	assert.Equal(t, "name", prog.Params[0].Name)
	assert.Equal(t, "string", prog.Params[0].Type)
	assert.Equal(t, "Maria", prog.Params[0].Example)
	assert.Equal(t, "Customer name", prog.Params[0].Description)
	assert.Equal(t, "integer", prog.Params[1].Type)
	assert.Equal(t, "30", prog.Params[1].Example)
	assert.Equal(t, "Greets a user", prog.Description)
}

func TestParseDeclarations(t *testing.T) {
	src := `PARAM city AS STRING
x = GET "https://api.example.com" ' not grammar
DESCRIPTION "Weather"
TABLE Cities ON main
  Name AS STRING
END TABLE
BEGIN SYSTEM PROMPT
Be brief.
END SYSTEM PROMPT
CREATE DRAFT to, subject, body
`
	prog, err := ParseDeclarations(src)
	require.NoError(t, err)
	assert.Len(t, prog.Statements, 4)
	require.Len(t, prog.Params, 1)
	assert.Equal(t, "city", prog.Params[0].Name)
	assert.Equal(t, "Weather", prog.Description)
	assert.Equal(t, "Be brief.", prog.SystemPrompt)
	require.Len(t, prog.Tables, 1)
	assert.Equal(t, 4, prog.Tables[0].Line)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		line    int
		message string
	}{
		{name: "missing end if", input: "IF a THEN\n  TALK a\n", line: 1, message: "missing END IF"},
		{name: "missing next", input: "FOR i = 1 TO 3\n", line: 1, message: "missing NEXT"},
		{name: "missing loop", input: "DO WHILE x\n", line: 1, message: "missing LOOP"},
		{name: "stray end if", input: "TALK 1\nEND IF\n", line: 2, message: "without matching block"},
		{name: "missing then", input: "IF a TALK b\n", line: 1, message: "expected THEN"},
		{name: "unterminated talk block", input: "BEGIN TALK\nhello\n", line: 1, message: "missing END TALK"},
		{name: "unknown field type", input: "TABLE t\n  a AS blob\nEND TABLE\n", line: 2, message: `unknown field type "blob"`},
		{name: "reserved handle", input: "dialog = 1\n", line: 1, message: "reserved name"},
		{name: "select without from", input: "x = SELECT 1\n", line: 1, message: "FROM"},
		{name: "dangling operator", input: "x = 1 +\n", line: 1, message: "expected expression"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.input)
			require.Error(t, err)

			var parseErr *ParseError
			require.True(t, errors.As(err, &parseErr), "expected ParseError, got %T", err)
			assert.Equal(t, tt.line, parseErr.Pos.Line)
			assert.Contains(t, parseErr.Message, tt.message)
		})
	}
}

func TestParse_LexErrorSurfaces(t *testing.T) {
	_, err := Parse("TALK 'oops\n")
	var lexErr *LexError
	require.True(t, errors.As(err, &lexErr))
}

// stubRewriter claims GET lines and emits a marker call.
type stubRewriter struct {
	seen []int
}

var stubPattern = regexp.MustCompile(`(?i)^\s*(?:\w+\s*=\s*)?GET\s+`)

func (s *stubRewriter) Claims(line string) bool {
	return stubPattern.MatchString(line)
}

func (s *stubRewriter) RewriteLine(line string, lineNo int) ([]string, error) {
	s.seen = append(s.seen, lineNo)
	return []string{"# " + strings.TrimSpace(line)}, nil
}

func TestParse_DelegatesDomainLines(t *testing.T) {
	rw := &stubRewriter{}
	src := "x = GET \"https://api/items\"\nIF x THEN\n  GET 'it''s'\nEND IF\n"
	prog, err := Parse(src, WithRewriter(rw))
	require.NoError(t, err)

	assert.Equal(t, []int{1, 3}, rw.seen)
	macro := prog.Statements[0].(*MacroStmt)
	assert.Equal(t, []string{`# x = GET "https://api/items"`}, macro.Lines)

	inner := prog.Statements[1].(*IfStmt).Then[0].(*MacroStmt)
	assert.Equal(t, 3, inner.Pos().Line)
}

func TestIsProse(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"Hello world", true},
		{`"Hello, world"`, false},
		{"name", false},
		{`"Hi " + name`, false},
		{"a + b", false},
		{"it's late", true},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsProse(tt.text), tt.text)
	}
}

// exprString renders an expression for assertions.
func exprString(e Expr) string {
	switch x := e.(type) {
	case *Ident:
		return x.Name
	case *StringLit:
		return `"` + x.Value + `"`
	case *NumberLit:
		return x.Raw
	case *BoolLit:
		if x.Value {
			return "True"
		}
		return "False"
	case *NullLit:
		return "None"
	case *BinaryExpr:
		return "(" + exprString(x.Left) + " " + x.Op + " " + exprString(x.Right) + ")"
	case *UnaryExpr:
		if x.Op == "not" {
			return "not " + exprString(x.X)
		}
		return "-" + exprString(x.X)
	case *ParenExpr:
		return exprString(x.X)
	case *MemberExpr:
		return exprString(x.X) + "." + x.Name
	case *IndexExpr:
		return exprString(x.X) + "[" + exprString(x.Index) + "]"
	case *CallExpr:
		args := make([]string, len(x.Args))
		for i, a := range x.Args {
			args[i] = exprString(a)
		}
		return exprString(x.Fn) + "(" + strings.Join(args, ", ") + ")"
	case *ListLit:
		elems := make([]string, len(x.Elems))
		for i, a := range x.Elems {
			elems[i] = exprString(a)
		}
		return "[" + strings.Join(elems, ", ") + "]"
	}
	return "?"
}
