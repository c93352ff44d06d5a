package parser

import "strings"

// Field types accepted in TABLE blocks. FieldDef.Type holds them in this
// canonical upper-case form.
const (
	FieldString  = "STRING"
	FieldGUID    = "GUID"
	FieldKey     = "KEY"
	FieldNumber  = "NUMBER"
	FieldInteger = "INTEGER"
	FieldDouble  = "DOUBLE"
	FieldFloat   = "FLOAT"
	FieldDate    = "DATE"
	FieldBoolean = "BOOLEAN"
	FieldTable   = "TABLE"
)

var fieldTypes = map[string]bool{
	FieldString:  true,
	FieldGUID:    true,
	FieldKey:     true,
	FieldNumber:  true,
	FieldInteger: true,
	FieldDouble:  true,
	FieldFloat:   true,
	FieldDate:    true,
	FieldBoolean: true,
}

// TableDef is a storage table declared with TABLE name ON connection.
type TableDef struct {
	Name       string               `json:"name" yaml:"name"`
	Connection string               `json:"connection" yaml:"connection"`
	Fields     map[string]*FieldDef `json:"fields" yaml:"fields"`
	Order      []string             `json:"order" yaml:"order"`
	Line       int                  `json:"line" yaml:"line"`
}

// FieldDef is one column of a TableDef.
type FieldDef struct {
	Name          string `json:"name" yaml:"name"`
	Type          string `json:"type" yaml:"type"`
	Size          int    `json:"size,omitempty" yaml:"size,omitempty"`
	Scale         int    `json:"scale,omitempty" yaml:"scale,omitempty"`
	AllowNull     bool   `json:"allowNull" yaml:"allowNull"`
	Unique        bool   `json:"unique,omitempty" yaml:"unique,omitempty"`
	PrimaryKey    bool   `json:"primaryKey,omitempty" yaml:"primaryKey,omitempty"`
	AutoIncrement bool   `json:"autoIncrement,omitempty" yaml:"autoIncrement,omitempty"`
	References    string `json:"references,omitempty" yaml:"references,omitempty"`
}

// NewTableDef returns an empty table definition.
func NewTableDef(name, connection string) *TableDef {
	return &TableDef{
		Name:       name,
		Connection: connection,
		Fields:     make(map[string]*FieldDef),
	}
}

// Add appends a field. Keys are case-normalized; redeclaring a field
// replaces it in place.
func (t *TableDef) Add(f *FieldDef) {
	key := strings.ToLower(f.Name)
	if _, exists := t.Fields[key]; !exists {
		t.Order = append(t.Order, key)
	}
	t.Fields[key] = f
}

// Field looks a field up case-insensitively.
func (t *TableDef) Field(name string) (*FieldDef, bool) {
	f, ok := t.Fields[strings.ToLower(name)]
	return f, ok
}

// OrderedFields returns fields in declaration order.
func (t *TableDef) OrderedFields() []*FieldDef {
	out := make([]*FieldDef, 0, len(t.Order))
	for _, key := range t.Order {
		out = append(out, t.Fields[key])
	}
	return out
}
