package parser

import (
	"regexp"
	"strings"

	"github.com/GeneralBots/BotServer-sub001/pkg/token"
)

// Expression parsing uses precedence climbing.
//
// Precedence levels (lowest to highest):
//
//	precOr             OR ||
//	precAnd            AND &&
//	precNot            NOT !      (prefix, binds looser than comparisons)
//	precEquality       = == != <>
//	precRelational     < > <= >=
//	precAdditive       + - &
//	precMultiplicative * / % MOD
//	precUnary          -          (prefix)
//
// "=" is equality inside expressions; assignment is recognised only at the
// start of a statement.
const (
	precNone = iota
	precOr
	precAnd
	precNot
	precEquality
	precRelational
	precAdditive
	precMultiplicative
	precUnary
)

var numberPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// reservedWords terminate expressions and cannot name variables.
var reservedWords = map[string]bool{
	"THEN": true, "ELSE": true, "ELSEIF": true, "END": true, "TO": true,
	"STEP": true, "IN": true, "NEXT": true, "LOOP": true, "AND": true,
	"OR": true, "NOT": true, "MOD": true, "IF": true, "EACH": true,
	"WHILE": true, "REM": true, "FUNCTION": true,
}

func isReservedWord(s string) bool {
	return reservedWords[strings.ToUpper(s)]
}

// parseExpression parses an expression using precedence climbing.
func (p *Parser) parseExpression() Expr {
	return p.parseBinary(precNone + 1)
}

func (p *Parser) parseBinary(minPrec int) Expr {
	left := p.parsePrefix()
	for p.err == nil {
		op, prec := p.infixOperator()
		if prec == precNone || prec < minPrec {
			break
		}
		pos := p.token.Pos
		p.nextToken()
		right := p.parseBinary(prec + 1)
		if p.err != nil {
			return nil
		}
		left = &BinaryExpr{base: base{pos}, Op: op, Left: left, Right: right}
	}
	if p.err != nil {
		return nil
	}
	return left
}

// infixOperator returns the normalized operator and precedence of the
// current token, or precNone.
func (p *Parser) infixOperator() (string, int) {
	switch p.token.Type {
	case token.OROR:
		return "or", precOr
	case token.ANDAND:
		return "and", precAnd
	case token.EQ, token.EQEQ:
		return "==", precEquality
	case token.NE:
		return "!=", precEquality
	case token.LT:
		return "<", precRelational
	case token.GT:
		return ">", precRelational
	case token.LE:
		return "<=", precRelational
	case token.GE:
		return ">=", precRelational
	case token.PLUS, token.AMP:
		return "+", precAdditive
	case token.MINUS:
		return "-", precAdditive
	case token.STAR:
		return "*", precMultiplicative
	case token.SLASH:
		return "/", precMultiplicative
	case token.PERCENT:
		return "%", precMultiplicative
	case token.WORD:
		switch strings.ToUpper(p.token.Value) {
		case "OR":
			return "or", precOr
		case "AND":
			return "and", precAnd
		case "MOD":
			return "%", precMultiplicative
		}
	}
	return "", precNone
}

func (p *Parser) parsePrefix() Expr {
	pos := p.token.Pos
	switch {
	case p.token.Is("NOT") || p.check(token.BANG):
		p.nextToken()
		x := p.parseBinary(precEquality)
		return &UnaryExpr{base: base{pos}, Op: "not", X: x}
	case p.check(token.MINUS):
		p.nextToken()
		x := p.parsePrefix()
		return &UnaryExpr{base: base{pos}, Op: "-", X: x}
	}
	return p.parsePostfix()
}

// parsePostfix parses a primary followed by member, call and index suffixes.
func (p *Parser) parsePostfix() Expr {
	x := p.parsePrimary()
	for p.err == nil {
		pos := p.token.Pos
		switch p.token.Type {
		case token.DOT:
			p.nextToken()
			if p.token.Type != token.WORD {
				p.failf(p.token.Pos, ErrUnexpectedToken, p.token, "member name")
				return nil
			}
			x = &MemberExpr{base: base{pos}, X: x, Name: p.token.Value}
			p.nextToken()
		case token.LPAREN:
			p.nextToken()
			call := &CallExpr{base: base{x.Pos()}, Fn: x}
			if !p.check(token.RPAREN) {
				call.Args = p.parseExprList()
			}
			p.expect(token.RPAREN)
			x = call
		case token.LBRACKET:
			p.nextToken()
			idx := p.parseExpression()
			p.expect(token.RBRACKET)
			x = &IndexExpr{base: base{pos}, X: x, Index: idx}
		default:
			return x
		}
	}
	return nil
}

func (p *Parser) parsePrimary() Expr {
	tok := p.token
	pos := tok.Pos
	switch tok.Type {
	case token.STRING:
		p.nextToken()
		return &StringLit{base: base{pos}, Value: tok.Value}
	case token.LPAREN:
		p.nextToken()
		x := p.parseExpression()
		p.expect(token.RPAREN)
		return &ParenExpr{base: base{pos}, X: x}
	case token.LBRACKET:
		p.nextToken()
		list := &ListLit{base: base{pos}}
		if !p.check(token.RBRACKET) {
			list.Elems = p.parseExprList()
		}
		p.expect(token.RBRACKET)
		return list
	case token.WORD:
		p.nextToken()
		switch upper := strings.ToUpper(tok.Value); {
		case upper == "TRUE":
			return &BoolLit{base: base{pos}, Value: true}
		case upper == "FALSE":
			return &BoolLit{base: base{pos}, Value: false}
		case upper == "NULL" || upper == "NOTHING":
			return &NullLit{base: base{pos}}
		case numberPattern.MatchString(tok.Value):
			return &NumberLit{base: base{pos}, Raw: tok.Value}
		case reservedWords[upper]:
			p.failf(pos, ErrUnexpectedToken, tok, "expression")
			return nil
		}
		return &Ident{base: base{pos}, Name: tok.Value}
	}
	p.failf(pos, ErrUnexpectedToken, tok, "expression")
	return nil
}

// parseExprList parses a comma-separated expression list.
func (p *Parser) parseExprList() []Expr {
	var list []Expr
	for p.err == nil {
		list = append(list, p.parseExpression())
		if !p.match(token.COMMA) {
			break
		}
	}
	return list
}

// ParseExpression parses src as a single expression.
func ParseExpression(src string) (Expr, error) {
	p := New(src)
	x := p.parseExpression()
	if p.err != nil {
		return nil, p.err
	}
	if !p.atEOL() {
		return nil, &ParseError{Pos: p.token.Pos, Message: "unexpected " + p.token.String() + " after expression"}
	}
	return x, nil
}

// IsProse reports whether the text after TALK is unquoted prose: it contains
// whitespace, does not start with a quote and is not a valid expression.
func IsProse(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" || token.IsQuote(text[0]) || !strings.ContainsAny(text, " \t") {
		return false
	}
	_, err := ParseExpression(text)
	return err != nil
}
