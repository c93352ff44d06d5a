package parser

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/GeneralBots/BotServer-sub001/pkg/token"
)

// Capture blocks keep their interior lines verbatim; the only thing looked at
// is the terminator line.

var spaceRun = regexp.MustCompile(`\s+`)

// normalizeLine upper-cases a line and collapses whitespace for terminator
// matching ("end   talk" == "END TALK").
func normalizeLine(s string) string {
	return strings.ToUpper(spaceRun.ReplaceAllString(strings.TrimSpace(s), " "))
}

func (p *Parser) parseBegin() Stmt {
	pos := p.token.Pos
	p.nextToken()
	switch {
	case p.token.Is("TALK"):
		lines, end := p.capture(pos, "END TALK")
		if p.err != nil {
			return nil
		}
		return &TalkBlock{base: base{pos}, Lines: lines, End: end}
	case p.token.Is("SYSTEM"):
		p.nextToken()
		if !p.token.Is("PROMPT") {
			p.failf(p.token.Pos, ErrUnexpectedToken, p.token, "PROMPT")
			return nil
		}
		lines, end := p.capture(pos, "END SYSTEM PROMPT")
		if p.err != nil {
			return nil
		}
		text := strings.TrimSpace(strings.Join(lines, "\n"))
		p.prog.SystemPrompt = text
		return &SystemPromptBlock{base: base{pos}, Text: text, End: end}
	}
	p.failf(p.token.Pos, ErrUnexpectedToken, p.token, "TALK or SYSTEM PROMPT")
	return nil
}

// capture reads raw lines up to terminator. The current token is the last
// word of the opener; anything after it on the opener line is ignored.
func (p *Parser) capture(opened Position, terminator string) ([]string, int) {
	p.lexer.RawLine()
	var lines []string
	for {
		text, pos, ok := p.lexer.RawLine()
		if !ok {
			p.failf(opened, ErrUnterminatedBlock, terminator, strings.TrimPrefix(terminator, "END "), opened.Line)
			return nil, 0
		}
		if normalizeLine(text) == terminator {
			p.token = token.Token{Type: token.NEWLINE, Value: "\n", Pos: pos}
			return lines, pos.Line
		}
		lines = append(lines, text)
	}
}

// parseTable parses TABLE name [ON connection] ... END TABLE.
func (p *Parser) parseTable() Stmt {
	pos := p.token.Pos
	p.nextToken()
	name := p.expectWord("table name")
	conn := "default"
	if p.matchKeyword("ON") {
		conn = p.expectWord("connection name")
	}
	p.expectEOL()
	if p.err != nil {
		return nil
	}

	def := NewTableDef(name, conn)
	def.Line = pos.Line
	for p.err == nil {
		p.skipNewlines()
		if p.check(token.EOF) {
			p.failf(pos, ErrUnterminatedBlock, "END TABLE", "TABLE", pos.Line)
			return nil
		}
		if p.atEndOf("TABLE") {
			p.expectEnd("TABLE", pos)
			break
		}
		if p.token.Is("REM") {
			p.parseRem()
			p.expectEOL()
			continue
		}
		if f := p.parseField(); f != nil {
			def.Add(f)
		}
		p.expectEOL()
	}
	if p.err != nil {
		return nil
	}
	p.prog.Tables = append(p.prog.Tables, def)
	return &TableStmt{base: base{pos}, Def: def}
}

// parseField parses name [AS] type[(size[,scale])] [UNIQUE] [KEY] [AUTO] [*]
// or name [AS] TABLE other.
func (p *Parser) parseField() *FieldDef {
	var name string
	switch p.token.Type {
	case token.WORD, token.STRING:
		name = p.token.Value
		p.nextToken()
	default:
		p.failf(p.token.Pos, ErrUnexpectedToken, p.token, "field name")
		return nil
	}
	p.matchKeyword("AS")

	typePos := p.token.Pos
	raw := p.expectWord("field type")
	typ := strings.ToUpper(raw)
	if p.err != nil {
		return nil
	}
	f := &FieldDef{Name: name, Type: typ, AllowNull: true}

	if typ == FieldTable {
		f.References = p.expectWord("referenced table")
		return f
	}
	if !fieldTypes[typ] {
		p.failf(typePos, ErrUnknownFieldType, raw)
		return nil
	}

	if p.match(token.LPAREN) {
		f.Size = p.expectInt("field size")
		if p.match(token.COMMA) {
			f.Scale = p.expectInt("field scale")
		}
		p.expect(token.RPAREN)
	}

	if typ == FieldKey {
		markKey(f)
	}
	for p.err == nil && !p.atEOL() {
		switch {
		case p.matchKeyword("UNIQUE"):
			f.Unique = true
		case p.matchKeyword("KEY"):
			markKey(f)
		case p.matchKeyword("AUTO"):
			f.AutoIncrement = true
		case p.match(token.STAR):
			f.AllowNull = false
		default:
			p.failf(p.token.Pos, ErrUnexpectedToken, p.token, "UNIQUE, KEY, AUTO or *")
			return nil
		}
	}
	return f
}

// markKey applies the KEY modifier: primary key, auto-increment, unique and
// required.
func markKey(f *FieldDef) {
	f.PrimaryKey = true
	f.AutoIncrement = true
	f.Unique = true
	f.AllowNull = false
}

func (p *Parser) expectInt(what string) int {
	if p.token.Type == token.WORD {
		if n, err := strconv.Atoi(p.token.Value); err == nil {
			p.nextToken()
			return n
		}
	}
	p.failf(p.token.Pos, ErrUnexpectedToken, p.token, what)
	return 0
}

var declarationLine = regexp.MustCompile(`(?i)^\s*(PARAM|DESCRIPTION)\b`)
var tableOpener = regexp.MustCompile(`(?i)^\s*TABLE\s+\w+`)
var promptOpener = regexp.MustCompile(`(?i)^\s*BEGIN\s+SYSTEM\s+PROMPT\b`)

// ParseDeclarations parses only the declarative parts of a script: TABLE
// blocks, PARAM, DESCRIPTION and BEGIN SYSTEM PROMPT. Every other line is
// blanked so reported line numbers still match the source.
func ParseDeclarations(src string) (*Program, error) {
	lines := strings.Split(src, "\n")
	kept := make([]string, len(lines))
	var closing string
	for i, line := range lines {
		switch {
		case closing != "":
			kept[i] = line
			if normalizeLine(line) == closing {
				closing = ""
			}
		case tableOpener.MatchString(line):
			kept[i] = line
			closing = "END TABLE"
		case promptOpener.MatchString(line):
			kept[i] = line
			closing = "END SYSTEM PROMPT"
		case declarationLine.MatchString(line):
			kept[i] = line
		}
	}
	return Parse(strings.Join(kept, "\n"))
}
