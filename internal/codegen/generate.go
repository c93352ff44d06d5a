// Package codegen turns a parsed dialog script into a Starlark module.
//
// Generate walks the AST in source order and emits flat lines through the
// same emitters the keyword rewriter uses, so a statement produces identical
// code whichever path handled it. Layout indents the result and Assemble
// prepends the preamble that binds capability handles, hydrates the run
// context and defines the script utilities.
package codegen

import (
	"strings"

	"github.com/GeneralBots/BotServer-sub001/internal/macro"
	"github.com/GeneralBots/BotServer-sub001/pkg/parser"
)

// Indent is the indentation unit of generated code.
const Indent = "    "

// generator is the per-compile walk state.
type generator struct {
	st    *macro.State
	lines []macro.Line
	loops []string // enclosing FOR / DO / FUNCTION, innermost last
	err   error
}

// Generate renders prog as laid-out Starlark body lines. st must be the
// rewriter state the parser delegated domain lines through, so temporary
// names and handle kinds stay consistent.
func Generate(prog *parser.Program, st *macro.State) ([]macro.Line, error) {
	if st == nil {
		st = macro.NewState()
	}
	g := &generator{st: st}
	g.block(prog.Statements)
	if g.err != nil {
		return nil, g.err
	}
	return macro.Layout(g.lines, Indent)
}

func (g *generator) emit(line int, text ...string) {
	for _, t := range text {
		g.lines = append(g.lines, macro.Line{Text: t, Source: line})
	}
}

func (g *generator) fail(pos parser.Position, msg string) {
	if g.err == nil {
		g.err = &parser.ParseError{Pos: pos, Message: msg}
	}
}

func (g *generator) block(stmts []parser.Stmt) {
	for _, s := range stmts {
		if g.err != nil {
			return
		}
		g.stmt(s)
	}
}

// inside reports whether the innermost enclosing loop or function is kind.
func (g *generator) inside(kind string) bool {
	return len(g.loops) > 0 && g.loops[len(g.loops)-1] == kind
}

func (g *generator) enter(kind string, body []parser.Stmt) {
	g.loops = append(g.loops, kind)
	g.block(body)
	g.loops = g.loops[:len(g.loops)-1]
}

func (g *generator) stmt(s parser.Stmt) {
	line := s.Pos().Line
	switch s := s.(type) {
	case *parser.RemStmt:
		g.emit(line, strings.TrimSpace("# "+s.Text))

	case *parser.PrintStmt:
		g.emit(line, "print("+exprList(s.Args)+")")

	case *parser.InputStmt:
		if s.Prompt != nil {
			g.emit(line, macro.TalkCall(Expr(s.Prompt)))
		}
		g.emit(line, macro.EmitHear(Ident(s.Target), "text", nil))

	case *parser.TalkStmt:
		g.emit(line, macro.TalkCall(Expr(s.Value)))

	case *parser.TalkBlock:
		for i, text := range macro.EmitTalkBlock(s.Lines, Placeholder) {
			g.emit(line+1+i, text)
		}

	case *parser.SystemPromptBlock:
		g.emit(line, macro.EmitSystemPrompt(s.Text))

	case *parser.HearStmt:
		opts := make([]string, len(s.Options))
		for i, o := range s.Options {
			opts[i] = Expr(o)
		}
		g.emit(line, macro.EmitHear(Ident(s.Target), s.Kind, opts))

	case *parser.AssignStmt:
		g.emit(line, Expr(s.Target)+" = "+Expr(s.Value))

	case *parser.ExprStmt:
		g.emit(line, Expr(s.X))

	case *parser.IfStmt:
		g.ifStmt(s, "if ")
		g.emit(s.End, macro.BlockEnd)

	case *parser.ForStmt:
		step := ""
		if s.Step != nil {
			step = Expr(s.Step)
		}
		g.emit(line, macro.RangeHeader(Ident(s.Var), Expr(s.From), Expr(s.To), step))
		g.enter("FOR", s.Body)
		g.emit(s.End, macro.BlockEnd)

	case *parser.ForEachStmt:
		g.emit(line, macro.ForEachHeader(g.st, Ident(s.Var), Expr(s.Collection))...)
		g.enter("FOR", s.Body)
		g.emit(s.End, macro.ForEachFooter()...)

	case *parser.WhileStmt:
		g.emit(line, "while "+Expr(s.Cond)+":")
		g.enter("DO", s.Body)
		g.emit(s.End, macro.BlockEnd)

	case *parser.FunctionStmt:
		params := make([]string, len(s.Params))
		for i, p := range s.Params {
			params[i] = Ident(p)
		}
		g.emit(line, "def "+Ident(s.Name)+"("+strings.Join(params, ", ")+"):")
		g.enter("FUNCTION", s.Body)
		g.emit(s.End, macro.BlockEnd)

	case *parser.ReturnStmt:
		if !g.insideFunction() {
			g.fail(s.Pos(), "RETURN outside FUNCTION")
			return
		}
		if s.Value == nil {
			g.emit(line, "return")
			return
		}
		g.emit(line, "return "+Expr(s.Value))

	case *parser.ExitStmt:
		g.exit(s)

	case *parser.OpenStmt:
		var user, pass string
		if s.Username != nil {
			user = Expr(s.Username)
		}
		if s.Password != nil {
			pass = Expr(s.Password)
		}
		g.emit(line, macro.EmitOpen(g.st, Ident(s.Handle), Expr(s.Path), s.Mode, user, pass))

	case *parser.CloseStmt:
		g.emit(line, macro.EmitClose(g.st, Ident(s.Handle)))

	case *parser.SelectStmt:
		target := ""
		if s.Target != "" {
			target = Ident(s.Target)
		}
		g.emit(line, macro.EmitSelect(target, s.Table, s.SQL))

	case *parser.MacroStmt:
		g.emit(line, s.Lines...)

	case *parser.TableStmt, *parser.ParamStmt, *parser.DescriptionStmt:
		// Declarations feed metadata and sidecars, not code.
	}
}

// ifStmt emits an IF and its ELSEIF chain. The caller closes the block.
func (g *generator) ifStmt(s *parser.IfStmt, keyword string) {
	g.emit(s.Pos().Line, keyword+Expr(s.Cond)+":")
	g.block(s.Then)
	if len(s.Else) == 0 {
		return
	}
	if nested, ok := s.Else[0].(*parser.IfStmt); ok && nested.ElseIf {
		g.ifStmt(nested, "elif ")
		return
	}
	g.emit(s.Else[0].Pos().Line, "else:")
	g.block(s.Else)
}

func (g *generator) insideFunction() bool {
	for _, k := range g.loops {
		if k == "FUNCTION" {
			return true
		}
	}
	return false
}

func (g *generator) exit(s *parser.ExitStmt) {
	line := s.Pos().Line
	switch s.Kind {
	case "FOR":
		if !g.inside("FOR") {
			g.fail(s.Pos(), "EXIT FOR outside FOR")
			return
		}
		g.emit(line, "break")
	case "DO":
		if !g.inside("DO") {
			g.fail(s.Pos(), "EXIT DO outside DO WHILE")
			return
		}
		g.emit(line, "break")
	case "FUNCTION":
		if !g.insideFunction() {
			g.fail(s.Pos(), "EXIT FUNCTION outside FUNCTION")
			return
		}
		g.emit(line, "return")
	default:
		g.emit(line, "exit()")
	}
}
