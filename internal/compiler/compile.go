// Package compiler turns dialog scripts into Starlark programs.
//
// Compile runs the schedule pre-pass, parses the remaining source with the
// keyword rewriter handling domain statements, generates and assembles the
// module, and resolves it with the Starlark compiler so unknown names fail
// before anything is published.
package compiler

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.starlark.net/resolve"
	starlarklib "go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/GeneralBots/BotServer-sub001/internal/codegen"
	"github.com/GeneralBots/BotServer-sub001/internal/macro"
	"github.com/GeneralBots/BotServer-sub001/internal/schedule"
	"github.com/GeneralBots/BotServer-sub001/internal/schema"
	"github.com/GeneralBots/BotServer-sub001/internal/starlark"
	"github.com/GeneralBots/BotServer-sub001/pkg/parser"
)

// Options control one compile.
type Options struct {
	// Name is the script identity. Defaults to the file name without
	// extension.
	Name string
	// Path is recorded on the program; CompileFile sets it.
	Path string
	// Legacy sends the whole source through the keyword rewriter instead
	// of the parser.
	Legacy  bool
	ModTime time.Time
}

// Parameter is one PARAM declaration.
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Example     string `json:"example,omitempty"`
	Description string `json:"description,omitempty"`
}

// Metadata describes the script as a callable function.
type Metadata struct {
	Name        string      `json:"name"`
	Description string      `json:"description,omitempty"`
	Parameters  []Parameter `json:"parameters"`
}

// Program is a compiled script.
type Program struct {
	Name         string               `json:"name"`
	Path         string               `json:"path,omitempty"`
	Source       string               `json:"-"`
	Code         string               `json:"-"`
	LineMap      []int                `json:"-"`
	Metadata     Metadata             `json:"metadata"`
	Tasks        []schema.Task        `json:"tasks,omitempty"`
	Schedules    []schedule.Directive `json:"schedules,omitempty"`
	SystemPrompt string               `json:"systemPrompt,omitempty"`
	ModTime      time.Time            `json:"modTime"`
	SourceHash   string               `json:"sourceHash"`
	Legacy       bool                 `json:"legacy,omitempty"`

	once    sync.Once
	program *starlarklib.Program
	err     error
}

// SourceLine maps a generated line (1-based) to its script line, 0 for
// preamble lines.
func (p *Program) SourceLine(generated int) int {
	if generated < 1 || generated > len(p.LineMap) {
		return 0
	}
	return p.LineMap[generated-1]
}

// Tables returns the table definitions of every task.
func (p *Program) Tables() []*parser.TableDef {
	var out []*parser.TableDef
	for _, t := range p.Tasks {
		out = append(out, t.Tables...)
	}
	return out
}

// Starlark returns the resolved Starlark program, compiling it on first use.
// Programs loaded from the state store are compiled lazily this way.
func (p *Program) Starlark() (*starlarklib.Program, error) {
	p.once.Do(func() {
		if p.program != nil {
			return
		}
		p.program, p.err = check(p.Name, p.Code, p.LineMap)
	})
	return p.program, p.err
}

// ScriptName derives a script identity from a file path.
func ScriptName(path string) string {
	return strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
}

// CompileFile reads and compiles a script.
func CompileFile(path string, opts Options) (*Program, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, &IOError{Path: path, Err: err}
	}
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, &IOError{Path: path, Err: err}
	}
	opts.Path = path
	if opts.Name == "" {
		opts.Name = ScriptName(path)
	}
	if opts.ModTime.IsZero() {
		opts.ModTime = info.ModTime()
	}
	return Compile(string(src), opts)
}

// Compile compiles script source. Nothing is returned on error, so a
// failed compile can never be cached or published.
func Compile(src string, opts Options) (*Program, error) {
	src = strings.ReplaceAll(src, "\r\n", "\n")
	name := opts.Name
	if name == "" {
		name = ScriptName(opts.Path)
	}

	schedules, body, err := schedule.Extract(src, name)
	if err != nil {
		return nil, err
	}

	st := macro.NewState()
	var (
		lines []macro.Line
		decl  *parser.Program
	)
	if opts.Legacy {
		lines, decl, err = compileLegacy(body, st)
	} else {
		decl, err = parser.Parse(body, parser.WithRewriter(macro.New(st)))
		if err == nil {
			lines, err = codegen.Generate(decl, st)
		}
	}
	if err != nil {
		return nil, err
	}
	prompt := decl.SystemPrompt
	if prompt == "" {
		prompt = st.SystemPrompt
	}
	description := decl.Description
	if description == "" {
		description = st.Description
	}

	mod := codegen.Assemble(lines, decl.Params)
	prog := &Program{
		Name:         name,
		Path:         opts.Path,
		Source:       src,
		Code:         mod.Code,
		LineMap:      mod.LineMap,
		Metadata:     Metadata{Name: name, Description: description, Parameters: parameters(decl.Params)},
		Tasks:        schema.TasksFor(name, decl.Tables),
		Schedules:    schedules,
		SystemPrompt: prompt,
		ModTime:      opts.ModTime,
		SourceHash:   Hash(src),
		Legacy:       opts.Legacy,
	}
	if _, err := prog.Starlark(); err != nil {
		return nil, err
	}
	return prog, nil
}

// Hash is the content hash recorded for a source.
func Hash(src string) string {
	sum := sha256.Sum256([]byte(src))
	return hex.EncodeToString(sum[:])
}

func parameters(params []*parser.ParamStmt) []Parameter {
	out := make([]Parameter, 0, len(params))
	for _, p := range params {
		out = append(out, Parameter{Name: p.Name, Type: strings.ToLower(p.Type), Example: p.Example, Description: p.Description})
	}
	return out
}

// compileLegacy rewrites the whole source with the keyword table. PARAM,
// DESCRIPTION, TABLE and system prompt declarations are still read by the
// parser.
func compileLegacy(src string, st *macro.State) ([]macro.Line, *parser.Program, error) {
	flat, err := macro.New(st).Rewrite(src)
	if err != nil {
		return nil, nil, err
	}
	lines, err := macro.Layout(flat, codegen.Indent)
	if err != nil {
		return nil, nil, err
	}
	decl, err := parser.ParseDeclarations(src)
	if err != nil {
		return nil, nil, err
	}
	return lines, decl, nil
}

// check resolves generated code and maps resolve errors back to the script.
func check(name, code string, lineMap []int) (*starlarklib.Program, error) {
	prog, err := starlark.Compile(name+".star", []byte(code))
	if err == nil {
		return prog, nil
	}
	sourceLine := func(generated int) int {
		if generated < 1 || generated > len(lineMap) {
			return 0
		}
		return lineMap[generated-1]
	}

	var list resolve.ErrorList
	if errors.As(err, &list) && len(list) > 0 {
		first := list[0]
		return nil, &CheckError{Line: sourceLine(int(first.Pos.Line)), GeneratedLine: int(first.Pos.Line), Message: first.Msg}
	}
	var syn syntax.Error
	if errors.As(err, &syn) {
		return nil, &CheckError{Line: sourceLine(int(syn.Pos.Line)), GeneratedLine: int(syn.Pos.Line), Message: syn.Msg}
	}
	return nil, err
}
