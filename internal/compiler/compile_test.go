package compiler

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeneralBots/BotServer-sub001/internal/macro"
	"github.com/GeneralBots/BotServer-sub001/internal/schema"
	"github.com/GeneralBots/BotServer-sub001/pkg/parser"
)

const greet = `PARAM name AS STRING LIKE "Maria"
DESCRIPTION Greets a user
TALK "Hello, " + name
HEAR answer
SET SCHEDULE "0 0 * * * *"
`

func TestCompile_EndToEnd(t *testing.T) {
	prog, err := Compile(greet, Options{Name: "greet"})
	require.NoError(t, err)

	assert.Contains(t, prog.Code, `dialog.talk("Hello, " + name)`)
	assert.Contains(t, prog.Code, `answer = dialog.hear("text")`)
	assert.NotContains(t, prog.Code, "0 0 * * * *")
	assert.NotContains(t, strings.ToUpper(prog.Code), "SCHEDULE")

	assert.Equal(t, Metadata{
		Name:        "greet",
		Description: "Greets a user",
		Parameters:  []Parameter{{Name: "name", Type: "string", Example: "Maria"}},
	}, prog.Metadata)

	require.Len(t, prog.Schedules, 1)
	assert.Equal(t, "0 0 * * * *", prog.Schedules[0].Cron)
	assert.Equal(t, "greet#1", prog.Schedules[0].ID())
	assert.Equal(t, Hash(greet), prog.SourceHash)

	sp, err := prog.Starlark()
	require.NoError(t, err)
	assert.NotNil(t, sp)
}

func TestCompile_LineMap(t *testing.T) {
	prog, err := Compile(greet, Options{Name: "greet"})
	require.NoError(t, err)

	codeLines := strings.Split(strings.TrimSuffix(prog.Code, "\n"), "\n")
	require.Len(t, prog.LineMap, len(codeLines))
	for i := 1; i < len(prog.LineMap); i++ {
		assert.GreaterOrEqual(t, prog.LineMap[i], prog.LineMap[i-1], "line map must not decrease")
	}
	for i, l := range codeLines {
		if strings.HasPrefix(l, "dialog.talk(") {
			assert.Equal(t, 3, prog.SourceLine(i+1))
		}
		if strings.HasPrefix(l, "answer = ") {
			assert.Equal(t, 4, prog.SourceLine(i+1))
		}
	}
	assert.Equal(t, 0, prog.SourceLine(1), "preamble maps to 0")
	assert.Equal(t, 0, prog.SourceLine(len(codeLines)+5))
}

func TestCompile_FiveSchedules(t *testing.T) {
	src := strings.Repeat("SET SCHEDULE \"*/5 * * * *\"\nTALK \"tick\"\n", 5)
	prog, err := Compile(src, Options{Name: "ticker"})
	require.NoError(t, err)
	require.Len(t, prog.Schedules, 5)
	for i, d := range prog.Schedules {
		assert.Equal(t, i+1, d.Seq)
		assert.Equal(t, 2*i+1, d.Line)
	}
	assert.Equal(t, 5, strings.Count(prog.Code, `dialog.talk("tick")`))
}

func TestCompile_Tables(t *testing.T) {
	src := `TABLE Leads ON crm
  Name AS STRING(60) *
  Email AS STRING(120) UNIQUE
END TABLE
TALK "ok"
`
	prog, err := Compile(src, Options{Name: "crm"})
	require.NoError(t, err)
	require.Len(t, prog.Tasks, 1)
	assert.Equal(t, schema.KindWriteTableDefinition, prog.Tasks[0].Kind)
	assert.Equal(t, "crm.tables.yaml", prog.Tasks[0].TargetFile)
	tables := prog.Tables()
	require.Len(t, tables, 1)
	assert.Equal(t, "Leads", tables[0].Name)
	assert.Equal(t, "crm", tables[0].Connection)
	assert.NotContains(t, prog.Code, "Leads")
}

func TestCompile_SystemPrompt(t *testing.T) {
	src := "BEGIN SYSTEM PROMPT\nYou are a helpful clerk.\nEND SYSTEM PROMPT\nTALK \"hi\"\n"
	prog, err := Compile(src, Options{Name: "clerk"})
	require.NoError(t, err)
	assert.Contains(t, prog.SystemPrompt, "You are a helpful clerk.")
}

func TestCompile_Legacy(t *testing.T) {
	src := `PARAM city AS STRING
DESCRIPTION Weather report
TABLE Cities ON main
  Name AS STRING
END TABLE
IF city = "" THEN
  TALK "Which city?"
  HEAR city
END IF
TALK "Weather in " + city
BEGIN SYSTEM PROMPT
Answer in one line.
END SYSTEM PROMPT
SET SCHEDULE "@daily"
`
	prog, err := Compile(src, Options{Name: "weather", Legacy: true})
	require.NoError(t, err)
	assert.True(t, prog.Legacy)
	assert.Contains(t, prog.Code, `dialog.talk("Weather in " + city)`)
	assert.Contains(t, prog.Code, "if city == \"\":\n")
	assert.Equal(t, "Weather report", prog.Metadata.Description)
	require.Len(t, prog.Metadata.Parameters, 1)
	assert.Equal(t, "city", prog.Metadata.Parameters[0].Name)
	require.Len(t, prog.Tables(), 1)
	assert.Equal(t, 3, prog.Tables()[0].Line)
	assert.Equal(t, "Answer in one line.", prog.SystemPrompt)
	require.Len(t, prog.Schedules, 1)
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name   string
		src    string
		legacy bool
		check  func(t *testing.T, err error)
	}{
		{
			name: "unterminated block",
			src:  "IF a THEN\nTALK a\n",
			check: func(t *testing.T, err error) {
				var pe *parser.ParseError
				require.ErrorAs(t, err, &pe)
			},
		},
		{
			name: "unterminated string",
			src:  "TALK \"oops\n",
			check: func(t *testing.T, err error) {
				var le *parser.LexError
				require.ErrorAs(t, err, &le)
			},
		},
		{
			name: "bad cron",
			src:  "SET SCHEDULE \"every monday\"\n",
			check: func(t *testing.T, err error) {
				var re *macro.RewriteError
				require.ErrorAs(t, err, &re)
				assert.Equal(t, 1, re.Line)
			},
		},
		{
			name: "unquoted cron",
			src:  "TALK \"a\"\nSET SCHEDULE 0 * * * *\n",
			check: func(t *testing.T, err error) {
				var re *macro.RewriteError
				require.ErrorAs(t, err, &re)
			},
		},
		{
			name: "undefined name",
			src:  "TALK \"a\"\nx = missing + 1\n",
			check: func(t *testing.T, err error) {
				var ce *CheckError
				require.ErrorAs(t, err, &ce)
				assert.Equal(t, 2, ce.Line)
				assert.Contains(t, ce.Message, "missing")
			},
		},
		{
			name:   "legacy unclosed block",
			src:    "FOR i = 1 TO 3\nTALK i\n",
			legacy: true,
			check: func(t *testing.T, err error) {
				var re *macro.RewriteError
				require.ErrorAs(t, err, &re)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prog, err := Compile(tt.src, Options{Name: "bad", Legacy: tt.legacy})
			require.Error(t, err)
			assert.Nil(t, prog)
			tt.check(t, err)
		})
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		src      string
		wantKind string
		wantLine int
	}{
		{src: "TALK \"a\"\nIF a THEN\nTALK a\n", wantKind: "parse"},
		{src: "TALK \"a\"\nTALK \"oops\n", wantKind: "lex", wantLine: 2},
		{src: "SET SCHEDULE \"every monday\"\n", wantKind: "rewrite", wantLine: 1},
		{src: "TALK \"a\"\nx = missing + 1\n", wantKind: "check", wantLine: 2},
	}

	for _, tt := range tests {
		t.Run(tt.wantKind, func(t *testing.T) {
			_, err := Compile(tt.src, Options{Name: "bad"})
			require.Error(t, err)
			kind, line := Describe(err)
			assert.Equal(t, tt.wantKind, kind)
			if tt.wantLine > 0 {
				assert.Equal(t, tt.wantLine, line)
			}
		})
	}

	_, err := CompileFile(filepath.Join(t.TempDir(), "missing.bas"), Options{})
	kind, _ := Describe(err)
	assert.Equal(t, "io", kind)
}

func TestCompileFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "welcome.bas")
	require.NoError(t, os.WriteFile(path, []byte("TALK \"welcome\"\r\n"), 0o644))
	mtime := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, os.Chtimes(path, mtime, mtime))

	prog, err := CompileFile(path, Options{})
	require.NoError(t, err)
	assert.Equal(t, "welcome", prog.Name)
	assert.Equal(t, path, prog.Path)
	assert.True(t, prog.ModTime.Equal(mtime))

	_, err = CompileFile(filepath.Join(dir, "missing.bas"), Options{})
	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.True(t, os.IsNotExist(ioErr.Err))
}
