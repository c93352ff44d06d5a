package adapter

import (
	"fmt"
	"strings"

	"github.com/GeneralBots/BotServer-sub001/pkg/parser"
)

// Dialect is what schema sync and the table store need to know about a
// backend's SQL.
type Dialect struct {
	Name          string
	DefaultSchema string
	// Placeholder formats the n-th (1-based) bind parameter.
	Placeholder func(n int) string
	// Types maps TABLE field types to column types. Sized types are
	// written with %d verbs for size and scale.
	Types map[string]string
	// Sized maps a field type to the column type used when a size is given.
	Sized map[string]string
	// Serial renders an auto-increment primary key column plus any
	// statements that must run before the table is created.
	Serial func(table, column string) (string, []string)
}

// QuestionPlaceholder is the "?" bind style.
func QuestionPlaceholder(int) string { return "?" }

// DollarPlaceholder is the "$n" bind style.
func DollarPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

// FormatPlaceholder formats the n-th bind parameter.
func (d *Dialect) FormatPlaceholder(n int) string {
	if d.Placeholder == nil {
		return "?"
	}
	return d.Placeholder(n)
}

// QuoteIdent quotes an identifier with double quotes.
func (d *Dialect) QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// ColumnType returns the column type for a field. The field type is matched
// case-insensitively so hand-edited sidecars still map.
func (d *Dialect) ColumnType(f *parser.FieldDef) string {
	typ := strings.ToUpper(f.Type)
	if typ == parser.FieldTable {
		typ = parser.FieldInteger
	}
	if f.Size > 0 {
		if tmpl, ok := d.Sized[typ]; ok {
			if strings.Count(tmpl, "%d") == 2 {
				return fmt.Sprintf(tmpl, f.Size, f.Scale)
			}
			return fmt.Sprintf(tmpl, f.Size)
		}
	}
	if t, ok := d.Types[typ]; ok {
		return t
	}
	return d.Types[parser.FieldString]
}

// ColumnDef renders the column clause of CREATE TABLE. It returns the
// statements that must run first, if any.
func (d *Dialect) ColumnDef(table string, f *parser.FieldDef) (string, []string) {
	name := d.QuoteIdent(f.Name)
	if f.AutoIncrement && d.Serial != nil {
		def, pre := d.Serial(table, f.Name)
		return name + " " + def, pre
	}

	var b strings.Builder
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(d.ColumnType(f))
	if f.PrimaryKey {
		b.WriteString(" PRIMARY KEY")
	} else {
		if !f.AllowNull {
			b.WriteString(" NOT NULL")
		}
		if f.Unique {
			b.WriteString(" UNIQUE")
		}
	}
	if f.References != "" {
		b.WriteString(" REFERENCES ")
		b.WriteString(d.QuoteIdent(f.References))
	}
	return b.String(), nil
}

// CreateTable renders the statements that create a table.
func (d *Dialect) CreateTable(t *parser.TableDef) []string {
	var pre, cols []string
	for _, f := range t.OrderedFields() {
		def, before := d.ColumnDef(t.Name, f)
		pre = append(pre, before...)
		cols = append(cols, def)
	}
	return append(pre, fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", d.QuoteIdent(t.Name), strings.Join(cols, ", ")))
}

// AddColumn renders ALTER TABLE ADD COLUMN. Added columns are always
// nullable and unconstrained since the table may already hold rows.
func (d *Dialect) AddColumn(table string, f *parser.FieldDef) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", d.QuoteIdent(table), d.QuoteIdent(f.Name), d.ColumnType(f))
}
