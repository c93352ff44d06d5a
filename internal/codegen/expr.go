package codegen

import (
	"strings"

	"github.com/GeneralBots/BotServer-sub001/internal/macro"
	"github.com/GeneralBots/BotServer-sub001/pkg/parser"
)

// Starlark binding strength, loosest first. Comparisons do not chain in
// Starlark, so an operand of a comparison must bind tighter than one.
const (
	precOr = iota + 1
	precAnd
	precNot
	precCompare
	precAdd
	precMul
	precUnary
	precPrimary
)

var binaryPrec = map[string]int{
	"or": precOr, "and": precAnd,
	"==": precCompare, "!=": precCompare, "<": precCompare, ">": precCompare, "<=": precCompare, ">=": precCompare,
	"+": precAdd, "-": precAdd,
	"*": precMul, "/": precMul, "%": precMul,
}

var starlarkKeywords = map[string]bool{
	"and": true, "break": true, "continue": true, "def": true, "elif": true,
	"else": true, "for": true, "if": true, "in": true, "lambda": true,
	"load": true, "not": true, "or": true, "pass": true, "return": true,
	"while": true, "None": true, "True": true, "False": true,
	// reserved by the Starlark grammar
	"as": true, "assert": true, "class": true, "del": true, "except": true,
	"finally": true, "from": true, "global": true, "import": true, "is": true,
	"nonlocal": true, "raise": true, "try": true, "with": true, "yield": true,
}

// Ident maps a script name onto a valid Starlark identifier. String-typed
// BASIC names (name$) become name_s, keywords get a trailing underscore.
func Ident(name string) string {
	name = strings.ReplaceAll(name, "$", "_s")
	if starlarkKeywords[name] {
		return name + "_"
	}
	return name
}

// Expr renders an expression as Starlark source.
func Expr(x parser.Expr) string {
	s, _ := render(x)
	return s
}

// render returns the source and its binding strength.
func render(x parser.Expr) (string, int) {
	switch x := x.(type) {
	case *parser.Ident:
		return Ident(x.Name), precPrimary
	case *parser.StringLit:
		return macro.Quote(x.Value), precPrimary
	case *parser.NumberLit:
		return x.Raw, precPrimary
	case *parser.BoolLit:
		if x.Value {
			return "True", precPrimary
		}
		return "False", precPrimary
	case *parser.NullLit:
		return "None", precPrimary
	case *parser.ParenExpr:
		return "(" + Expr(x.X) + ")", precPrimary
	case *parser.ListLit:
		return "[" + exprList(x.Elems) + "]", precPrimary
	case *parser.MemberExpr:
		return operand(x.X, precPrimary) + "." + Ident(x.Name), precPrimary
	case *parser.IndexExpr:
		return operand(x.X, precPrimary) + "[" + Expr(x.Index) + "]", precPrimary
	case *parser.CallExpr:
		return callee(x.Fn) + "(" + exprList(x.Args) + ")", precPrimary
	case *parser.UnaryExpr:
		if x.Op == "not" {
			return "not " + operand(x.X, precNot), precNot
		}
		return x.Op + operand(x.X, precUnary), precUnary
	case *parser.BinaryExpr:
		prec := binaryPrec[x.Op]
		left, right := prec, prec+1
		if prec == precCompare {
			left = prec + 1
		}
		return operand(x.Left, left) + " " + x.Op + " " + operand(x.Right, right), prec
	}
	return "None", precPrimary
}

// operand renders x, parenthesized when it binds looser than min.
func operand(x parser.Expr, min int) string {
	s, prec := render(x)
	if prec < min {
		return "(" + s + ")"
	}
	return s
}

// callee renders the function position of a call. BASIC utilities map onto
// the names bound by the module preamble.
func callee(fn parser.Expr) string {
	if id, ok := fn.(*parser.Ident); ok {
		if name, ok := macro.UtilityNames[strings.ToUpper(id.Name)]; ok {
			return name
		}
	}
	return operand(fn, precPrimary)
}

func exprList(list []parser.Expr) string {
	parts := make([]string, len(list))
	for i, x := range list {
		parts[i] = Expr(x)
	}
	return strings.Join(parts, ", ")
}

// Placeholder renders the source of a ${...} placeholder. Text that does
// not parse as an expression falls back to operator normalization.
func Placeholder(src string) string {
	x, err := parser.ParseExpression(src)
	if err != nil {
		return macro.NormalizeOperators(src)
	}
	return Expr(x)
}
