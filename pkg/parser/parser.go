// Package parser turns dialog script source into an AST.
//
// # Usage
//
//	prog, err := parser.Parse(src, parser.WithRewriter(rw))
//	if err != nil {
//	    // *LexError or *ParseError, both carry a position
//	}
//
// # Grammar Overview
//
// The language is line oriented. A statement starts with a keyword (matched
// case-insensitively) or is a bare assignment/call:
//
//	statement  → INPUT | PRINT | WRITE | REM | OPEN | CLOSE | SELECT
//	           | IF cond THEN (stmt [ELSE stmt] | NEWLINE block [ELSEIF|ELSE] END IF)
//	           | FUNCTION name(params) block END FUNCTION | RETURN [expr]
//	           | FOR var = a TO b [STEP s] block NEXT | FOR EACH v IN expr block NEXT
//	           | DO WHILE cond block LOOP | EXIT [FOR|DO|FUNCTION]
//	           | TALK expr | HEAR var [AS kind|options]
//	           | BEGIN TALK ... END TALK | BEGIN SYSTEM PROMPT ... END SYSTEM PROMPT
//	           | TABLE name [ON conn] fields END TABLE
//	           | PARAM name AS type [LIKE example] [DESCRIPTION text]
//	           | DESCRIPTION text
//	           | target = expr | call
//
// Domain statements (GET, SAVE, FIND, ...) are not part of this grammar: a
// LineRewriter claims those lines and the parser records its output as a
// MacroStmt. Parsing is fail-fast; the first error aborts.
package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/GeneralBots/BotServer-sub001/pkg/token"
)

// LineRewriter rewrites single domain-statement lines into generated code.
type LineRewriter interface {
	// Claims reports whether the line is a domain statement it handles.
	Claims(line string) bool
	// RewriteLine rewrites the line into flat generated lines.
	RewriteLine(line string, lineNo int) ([]string, error)
}

// ReservedNames are the capability handle names bound by the module preamble.
var ReservedNames = map[string]bool{
	"dialog": true,
	"sys":    true,
	"wa":     true,
	"img":    true,
}

// HearKinds are the input kinds HEAR ... AS <kind> understands.
var HearKinds = map[string]bool{
	"text": true, "sheet": true, "login": true, "email": true,
	"integer": true, "number": true, "file": true, "boolean": true,
	"date": true, "name": true, "zipcode": true, "money": true,
	"mobile": true, "hour": true, "qrcode": true, "language": true,
	"cnpj": true, "cpf": true,
}

var fromClause = regexp.MustCompile(`(?i)\bFROM\s+([A-Za-z_][\w]*)`)

// Option configures a Parser.
type Option func(*Parser)

// WithRewriter delegates domain statements to r.
func WithRewriter(r LineRewriter) Option {
	return func(p *Parser) { p.rewriter = r }
}

// Parser is the per-compile parser state. It is not safe for concurrent use.
type Parser struct {
	lexer    *Lexer
	token    token.Token // current token
	err      error       // first error; parsing stops once set
	rewriter LineRewriter
	prog     *Program
	// inlineThen is set while parsing the THEN branch of a one-line IF.
	inlineThen int
}

// New creates a parser for src.
func New(src string, opts ...Option) *Parser {
	p := &Parser{
		lexer: NewLexer(src),
		prog:  &Program{},
	}
	for _, opt := range opts {
		opt(p)
	}
	p.nextToken()
	return p
}

// Parse parses src into a Program.
func Parse(src string, opts ...Option) (*Program, error) {
	return New(src, opts...).Parse()
}

// Parse parses the whole input.
func (p *Parser) Parse() (*Program, error) {
	p.prog.Statements = p.parseStatements(nil)
	if p.err != nil {
		return nil, p.err
	}
	return p.prog, nil
}

// ---------- Token Helpers ----------

// nextToken advances to the next token.
func (p *Parser) nextToken() {
	if p.err != nil {
		p.token = token.Token{Type: token.EOF, Pos: p.token.Pos}
		return
	}
	tok, err := p.lexer.NextToken()
	if err != nil {
		p.err = err
		p.token = token.Token{Type: token.EOF, Pos: p.token.Pos}
		return
	}
	p.token = tok
}

// peekToken returns the token after the current one without consuming it.
func (p *Parser) peekToken() token.Token {
	saved := p.lexer.save()
	defer p.lexer.restore(saved)
	tok, err := p.lexer.NextToken()
	if err != nil {
		return token.Token{Type: token.ILLEGAL}
	}
	return tok
}

// dropLine discards the rest of the current line. The current token becomes a
// synthetic NEWLINE so the statement loop sees a terminated statement.
func (p *Parser) dropLine() {
	pos := p.token.Pos
	if p.token.Type != token.NEWLINE && p.token.Type != token.EOF {
		p.lexer.RawLine()
	}
	p.token = token.Token{Type: token.NEWLINE, Value: "\n", Pos: pos}
}

func (p *Parser) check(t token.TokenType) bool {
	return p.token.Type == t
}

func (p *Parser) match(t token.TokenType) bool {
	if p.check(t) {
		p.nextToken()
		return true
	}
	return false
}

func (p *Parser) matchKeyword(kw string) bool {
	if p.token.Is(kw) {
		p.nextToken()
		return true
	}
	return false
}

func (p *Parser) expect(t token.TokenType) bool {
	if p.check(t) {
		p.nextToken()
		return true
	}
	p.failf(p.token.Pos, ErrUnexpectedToken, p.token, t)
	return false
}

func (p *Parser) expectKeyword(kw string) bool {
	if p.matchKeyword(kw) {
		return true
	}
	p.failf(p.token.Pos, ErrUnexpectedToken, p.token, kw)
	return false
}

// expectWord consumes a WORD token and returns its text.
func (p *Parser) expectWord(what string) string {
	if p.token.Type != token.WORD || isReservedWord(p.token.Value) {
		p.failf(p.token.Pos, ErrUnexpectedToken, p.token, what)
		return ""
	}
	v := p.token.Value
	p.nextToken()
	return v
}

func (p *Parser) atEOL() bool {
	return p.token.Type == token.NEWLINE || p.token.Type == token.EOF
}

func (p *Parser) expectEOL() {
	if p.err != nil {
		return
	}
	switch p.token.Type {
	case token.NEWLINE:
		p.nextToken()
	case token.EOF:
	default:
		p.failf(p.token.Pos, ErrUnexpectedToken, p.token, "end of line")
	}
}

func (p *Parser) skipNewlines() {
	for p.err == nil && p.token.Type == token.NEWLINE {
		p.nextToken()
	}
}

func (p *Parser) failf(pos Position, format string, args ...any) {
	if p.err == nil {
		p.err = &ParseError{Pos: pos, Message: fmt.Sprintf(format, args...)}
	}
}

// atEndOf reports whether the current line is "END <kw>" (or "END<kw>").
func (p *Parser) atEndOf(kw string) bool {
	if p.token.Is("END" + kw) {
		return true
	}
	return p.token.Is("END") && p.peekToken().Is(kw)
}

// expectEnd consumes "END <kw>" and returns its line. opened is the position
// of the block opener, used for the unterminated-block message.
func (p *Parser) expectEnd(kw string, opened Position) int {
	if p.err != nil {
		return 0
	}
	line := p.token.Pos.Line
	switch {
	case p.token.Is("END" + kw):
		p.nextToken()
	case p.token.Is("END") && p.peekToken().Is(kw):
		p.nextToken()
		p.nextToken()
	case p.token.Type == token.EOF:
		p.failf(opened, ErrUnterminatedBlock, "END "+kw, kw, opened.Line)
		return 0
	default:
		p.failf(p.token.Pos, ErrUnexpectedToken, p.token, "END "+kw)
		return 0
	}
	return line
}

// ---------- Statements ----------

// parseStatements parses statements until EOF or until stop reports true at
// the start of a line.
func (p *Parser) parseStatements(stop func() bool) []Stmt {
	var stmts []Stmt
	for p.err == nil {
		p.skipNewlines()
		if p.check(token.EOF) || (stop != nil && stop()) {
			break
		}
		stmt := p.parseStatement()
		if p.err != nil {
			break
		}
		if stmt != nil {
			stmts = append(stmts, stmt)
		}
		p.expectEOL()
	}
	return stmts
}

// parseStatement parses one statement and leaves the current token at its
// end (NEWLINE, EOF or, for inline IF branches, ELSE).
func (p *Parser) parseStatement() Stmt {
	if p.token.Type == token.WORD {
		switch strings.ToUpper(p.token.Value) {
		case "REM":
			return p.parseRem()
		case "PRINT", "WRITE":
			return p.parsePrint()
		case "INPUT":
			return p.parseInput()
		case "TALK":
			return p.parseTalk()
		case "HEAR":
			return p.parseHear()
		case "IF":
			return p.parseIf()
		case "FOR":
			return p.parseFor()
		case "DO":
			return p.parseDoWhile()
		case "FUNCTION":
			return p.parseFunction()
		case "RETURN":
			return p.parseReturn()
		case "EXIT":
			return p.parseExit()
		case "OPEN":
			return p.parseOpen()
		case "CLOSE":
			return p.parseClose()
		case "SELECT":
			return p.parseSelect("")
		case "BEGIN":
			return p.parseBegin()
		case "TABLE":
			if p.peekToken().Type == token.WORD {
				return p.parseTable()
			}
		case "PARAM":
			return p.parseParam()
		case "DESCRIPTION":
			return p.parseDescription()
		case "END", "ELSE", "ELSEIF", "NEXT", "LOOP", "ENDIF":
			p.failf(p.token.Pos, "unexpected %s without matching block", strings.ToUpper(p.token.Value))
			return nil
		}
	}

	if p.rewriter != nil {
		line := p.lexer.LineRemainder(p.token.Pos.Offset)
		if p.rewriter.Claims(line) {
			return p.parseMacro(line)
		}
	}
	return p.parseAssignOrCall()
}

func (p *Parser) parseMacro(line string) Stmt {
	pos := p.token.Pos
	lines, err := p.rewriter.RewriteLine(line, pos.Line)
	if err != nil {
		if p.err == nil {
			p.err = err
		}
		return nil
	}
	p.dropLine()
	return &MacroStmt{base: base{pos}, Source: strings.TrimSpace(line), Lines: lines}
}

func (p *Parser) parseRem() Stmt {
	pos := p.token.Pos
	text, _, _ := p.lexer.RawLine()
	p.token = token.Token{Type: token.NEWLINE, Value: "\n", Pos: pos}
	return &RemStmt{base: base{pos}, Text: strings.TrimSpace(text)}
}

func (p *Parser) parsePrint() Stmt {
	stmt := &PrintStmt{base: base{p.token.Pos}}
	p.nextToken()
	for p.err == nil && !p.atEOL() && !p.token.Is("ELSE") {
		stmt.Args = append(stmt.Args, p.parseExpression())
		if !p.match(token.COMMA) && !p.match(token.SEMICOLON) {
			break
		}
	}
	return stmt
}

func (p *Parser) parseInput() Stmt {
	stmt := &InputStmt{base: base{p.token.Pos}}
	p.nextToken()
	if p.check(token.STRING) {
		stmt.Prompt = p.parseExpression()
		if !p.match(token.SEMICOLON) && !p.match(token.COMMA) {
			p.failf(p.token.Pos, ErrUnexpectedToken, p.token, "; after INPUT prompt")
			return nil
		}
	}
	stmt.Target = p.expectWord("variable name")
	p.checkAssignable(stmt.Target, stmt.Position)
	return stmt
}

// parseTalk parses TALK. A remainder that is unquoted prose rather than an
// expression is sent as literal text.
func (p *Parser) parseTalk() Stmt {
	stmt := &TalkStmt{base: base{p.token.Pos}}
	p.nextToken()
	if p.atEOL() {
		p.failf(p.token.Pos, ErrUnexpectedToken, p.token, "text after TALK")
		return nil
	}
	rest := p.lexer.LineRemainder(p.token.Pos.Offset)
	if p.inlineThen > 0 {
		if i := FindKeyword(rest, "ELSE"); i > 0 && IsProse(rest[:i]) {
			stmt.Value = &StringLit{base: base{p.token.Pos}, Value: strings.TrimSpace(rest[:i])}
			for !p.atEOL() && !p.token.Is("ELSE") {
				p.nextToken()
			}
			return stmt
		}
	}
	if IsProse(rest) {
		stmt.Value = &StringLit{base: base{p.token.Pos}, Value: strings.TrimSpace(rest)}
		p.dropLine()
		return stmt
	}
	stmt.Value = p.parseExpression()
	return stmt
}

func (p *Parser) parseHear() Stmt {
	stmt := &HearStmt{base: base{p.token.Pos}, Kind: "text"}
	p.nextToken()
	stmt.Target = p.expectWord("variable name")
	p.checkAssignable(stmt.Target, stmt.Position)
	if !p.matchKeyword("AS") {
		return stmt
	}
	if p.token.Type == token.WORD && HearKinds[strings.ToLower(p.token.Value)] {
		stmt.Kind = strings.ToLower(p.token.Value)
		p.nextToken()
		if !p.atEOL() {
			stmt.Options = p.parseExprList()
		}
		return stmt
	}
	stmt.Kind = "menu"
	stmt.Options = p.parseExprList()
	return stmt
}

func (p *Parser) parseIf() Stmt {
	pos := p.token.Pos
	p.nextToken()
	cond := p.parseExpression()
	if !p.expectKeyword("THEN") {
		return nil
	}
	stmt := &IfStmt{base: base{pos}, Cond: cond}

	if !p.atEOL() {
		stmt.Inline = true
		stmt.End = pos.Line
		p.inlineThen++
		then := p.parseStatement()
		p.inlineThen--
		if then != nil {
			stmt.Then = []Stmt{then}
		}
		if p.matchKeyword("ELSE") {
			if els := p.parseStatement(); els != nil {
				stmt.Else = []Stmt{els}
			}
		}
		return stmt
	}

	p.expectEOL()
	stmt.Then = p.parseStatements(p.atIfBranchEnd)
	p.finishIf(stmt, pos)
	return stmt
}

func (p *Parser) atIfBranchEnd() bool {
	return p.token.Is("ELSE") || p.token.Is("ELSEIF") || p.atEndOf("IF")
}

// finishIf parses the ELSEIF/ELSE tail of a block IF and its END IF.
func (p *Parser) finishIf(stmt *IfStmt, opened Position) {
	if p.err != nil {
		return
	}
	switch {
	case p.token.Is("ELSEIF") || (p.token.Is("ELSE") && p.peekToken().Is("IF")):
		pos := p.token.Pos
		if p.token.Is("ELSE") {
			p.nextToken()
		}
		p.nextToken()
		nested := &IfStmt{base: base{pos}, ElseIf: true}
		nested.Cond = p.parseExpression()
		if !p.expectKeyword("THEN") {
			return
		}
		p.expectEOL()
		nested.Then = p.parseStatements(p.atIfBranchEnd)
		p.finishIf(nested, opened)
		stmt.Else = []Stmt{nested}
		stmt.End = nested.End
	case p.token.Is("ELSE"):
		p.nextToken()
		p.expectEOL()
		stmt.Else = p.parseStatements(func() bool { return p.atEndOf("IF") })
		stmt.End = p.expectEnd("IF", opened)
	default:
		stmt.End = p.expectEnd("IF", opened)
	}
}

func (p *Parser) parseFor() Stmt {
	pos := p.token.Pos
	p.nextToken()

	if p.matchKeyword("EACH") {
		stmt := &ForEachStmt{base: base{pos}}
		stmt.Var = p.expectWord("loop variable")
		p.checkAssignable(stmt.Var, pos)
		if !p.expectKeyword("IN") {
			return nil
		}
		stmt.Collection = p.parseExpression()
		p.expectEOL()
		stmt.Body = p.parseStatements(p.atNext)
		stmt.End = p.expectNext(pos)
		return stmt
	}

	stmt := &ForStmt{base: base{pos}}
	stmt.Var = p.expectWord("loop variable")
	p.checkAssignable(stmt.Var, pos)
	if !p.expect(token.EQ) {
		return nil
	}
	stmt.From = p.parseExpression()
	if !p.expectKeyword("TO") {
		return nil
	}
	stmt.To = p.parseExpression()
	if p.matchKeyword("STEP") {
		stmt.Step = p.parseExpression()
	}
	p.expectEOL()
	stmt.Body = p.parseStatements(p.atNext)
	stmt.End = p.expectNext(pos)
	return stmt
}

func (p *Parser) atNext() bool {
	return p.token.Is("NEXT")
}

func (p *Parser) expectNext(opened Position) int {
	if p.err != nil {
		return 0
	}
	if p.check(token.EOF) {
		p.failf(opened, ErrUnterminatedBlock, "NEXT", "FOR", opened.Line)
		return 0
	}
	line := p.token.Pos.Line
	if !p.expectKeyword("NEXT") {
		return 0
	}
	if p.token.Type == token.WORD {
		p.nextToken()
	}
	return line
}

func (p *Parser) parseDoWhile() Stmt {
	pos := p.token.Pos
	p.nextToken()
	if !p.expectKeyword("WHILE") {
		return nil
	}
	stmt := &WhileStmt{base: base{pos}}
	stmt.Cond = p.parseExpression()
	p.expectEOL()
	stmt.Body = p.parseStatements(func() bool { return p.token.Is("LOOP") })
	if p.err != nil {
		return nil
	}
	if p.check(token.EOF) {
		p.failf(pos, ErrUnterminatedBlock, "LOOP", "DO WHILE", pos.Line)
		return nil
	}
	stmt.End = p.token.Pos.Line
	p.nextToken()
	return stmt
}

func (p *Parser) parseFunction() Stmt {
	pos := p.token.Pos
	p.nextToken()
	stmt := &FunctionStmt{base: base{pos}}
	stmt.Name = p.expectWord("function name")
	if p.match(token.LPAREN) {
		for p.err == nil && !p.check(token.RPAREN) {
			stmt.Params = append(stmt.Params, p.expectWord("parameter name"))
			if p.matchKeyword("AS") {
				p.expectWord("parameter type")
			}
			if !p.match(token.COMMA) {
				break
			}
		}
		p.expect(token.RPAREN)
	}
	p.expectEOL()
	stmt.Body = p.parseStatements(func() bool { return p.atEndOf("FUNCTION") })
	stmt.End = p.expectEnd("FUNCTION", pos)
	return stmt
}

func (p *Parser) parseReturn() Stmt {
	stmt := &ReturnStmt{base: base{p.token.Pos}}
	p.nextToken()
	if !p.atEOL() && !p.token.Is("ELSE") {
		stmt.Value = p.parseExpression()
	}
	return stmt
}

func (p *Parser) parseExit() Stmt {
	stmt := &ExitStmt{base: base{p.token.Pos}}
	p.nextToken()
	if p.token.Type == token.WORD && !p.token.Is("ELSE") {
		stmt.Kind = strings.ToUpper(p.token.Value)
		switch stmt.Kind {
		case "FOR", "DO", "FUNCTION":
		default:
			p.failf(p.token.Pos, ErrUnexpectedToken, p.token, "FOR, DO or FUNCTION")
			return nil
		}
		p.nextToken()
	}
	return stmt
}

func (p *Parser) parseOpen() Stmt {
	stmt := &OpenStmt{base: base{p.token.Pos}}
	p.nextToken()
	stmt.Path = p.parseExpression()
	if p.matchKeyword("FOR") {
		stmt.Mode = strings.ToLower(p.expectWord("file mode"))
	}
	p.parseOpenHandle(stmt)
	if p.match(token.COMMA) {
		stmt.Username = p.parseExpression()
		if p.expect(token.COMMA) {
			stmt.Password = p.parseExpression()
		}
		// OPEN url, user, pass AS #name
		if stmt.Handle == "" {
			p.parseOpenHandle(stmt)
		}
	}
	if stmt.Handle != "" {
		p.checkAssignable(stmt.Handle, stmt.Position)
	}
	return stmt
}

func (p *Parser) parseOpenHandle(stmt *OpenStmt) {
	if p.matchKeyword("AS") || p.matchKeyword("WITH") {
		p.match(token.HASH)
		stmt.Handle = p.expectWord("handle name")
	}
}

func (p *Parser) parseClose() Stmt {
	stmt := &CloseStmt{base: base{p.token.Pos}}
	p.nextToken()
	p.match(token.HASH)
	stmt.Handle = p.expectWord("handle name")
	return stmt
}

// parseSelect captures a SELECT query verbatim; the current token is SELECT.
func (p *Parser) parseSelect(target string) Stmt {
	pos := p.token.Pos
	sql := strings.TrimSpace(p.lexer.LineRemainder(pos.Offset))
	m := fromClause.FindStringSubmatch(sql)
	if m == nil {
		p.failf(pos, "SELECT requires a FROM clause")
		return nil
	}
	p.dropLine()
	return &SelectStmt{base: base{pos}, Target: target, Table: m[1], SQL: sql}
}

func (p *Parser) parseParam() Stmt {
	stmt := &ParamStmt{base: base{p.token.Pos}, Type: "string"}
	p.nextToken()
	stmt.Name = p.expectWord("parameter name")
	if p.matchKeyword("AS") {
		stmt.Type = strings.ToLower(p.expectWord("parameter type"))
	}
	if p.matchKeyword("LIKE") {
		stmt.Example = p.literalText()
	}
	if p.matchKeyword("DESCRIPTION") {
		stmt.Description = p.literalText()
	}
	if p.err == nil {
		p.prog.Params = append(p.prog.Params, stmt)
	}
	return stmt
}

// literalText consumes one literal token and returns its text.
func (p *Parser) literalText() string {
	switch p.token.Type {
	case token.STRING, token.WORD:
		v := p.token.Value
		p.nextToken()
		return v
	}
	p.failf(p.token.Pos, ErrUnexpectedToken, p.token, "literal")
	return ""
}

func (p *Parser) parseDescription() Stmt {
	pos := p.token.Pos
	text, _, _ := p.lexer.RawLine()
	p.token = token.Token{Type: token.NEWLINE, Value: "\n", Pos: pos}
	text = unquote(strings.TrimSpace(text))
	p.prog.Description = text
	return &DescriptionStmt{base: base{pos}, Text: text}
}

func (p *Parser) parseAssignOrCall() Stmt {
	pos := p.token.Pos
	target := p.parsePostfix()
	if p.err != nil {
		return nil
	}

	if p.match(token.EQ) {
		switch target.(type) {
		case *Ident, *MemberExpr, *IndexExpr:
		default:
			p.failf(pos, "invalid assignment target")
			return nil
		}
		if id, ok := target.(*Ident); ok {
			p.checkAssignable(id.Name, pos)
		}
		if p.token.Is("SELECT") {
			id, ok := target.(*Ident)
			if !ok {
				p.failf(pos, "SELECT result must be assigned to a variable")
				return nil
			}
			return p.parseSelect(id.Name)
		}
		return &AssignStmt{base: base{pos}, Target: target, Value: p.parseExpression()}
	}

	// BASIC-style call without parentheses: Name [arg, ...]
	if id, ok := target.(*Ident); ok {
		call := &CallExpr{base: base{pos}, Fn: id}
		if !p.atEOL() && !p.token.Is("ELSE") {
			call.Args = p.parseExprList()
		}
		return &ExprStmt{base: base{pos}, X: call}
	}
	if _, ok := target.(*CallExpr); !ok {
		p.failf(pos, "expression statement must be a call or assignment")
		return nil
	}
	return &ExprStmt{base: base{pos}, X: target}
}

func (p *Parser) checkAssignable(name string, pos Position) {
	if ReservedNames[name] {
		p.failf(pos, ErrReservedName, name)
	}
}

// unquote strips one pair of matching quotes.
func unquote(s string) string {
	if len(s) >= 2 && token.IsQuote(s[0]) && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}
