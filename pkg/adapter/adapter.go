// Package adapter defines the storage connections TABLE blocks are
// synchronized to and FIND/SAVE statements read and write.
//
// Concrete adapters live in pkg/adapters/ and register themselves by name
// from their init functions.
package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Config is one named storage connection.
type Config struct {
	Type     string            `koanf:"type" yaml:"type"`
	Path     string            `koanf:"path" yaml:"path,omitempty"`
	Host     string            `koanf:"host" yaml:"host,omitempty"`
	Port     int               `koanf:"port" yaml:"port,omitempty"`
	Database string            `koanf:"database" yaml:"database,omitempty"`
	Username string            `koanf:"username" yaml:"username,omitempty"`
	Password string            `koanf:"password" yaml:"password,omitempty"`
	Schema   string            `koanf:"schema" yaml:"schema,omitempty"`
	Options  map[string]string `koanf:"options" yaml:"options,omitempty"`
	// Params holds adapter-specific settings decoded by each adapter.
	Params map[string]any `koanf:"params" yaml:"params,omitempty"`
}

// Column is a live table column.
type Column struct {
	Name     string
	Type     string
	Nullable bool
	Position int
}

// Metadata describes a live table.
type Metadata struct {
	Schema  string
	Name    string
	Columns []Column
}

// HasColumn reports whether the table has a column, ignoring case.
func (m *Metadata) HasColumn(name string) bool {
	for _, c := range m.Columns {
		if strings.EqualFold(c.Name, name) {
			return true
		}
	}
	return false
}

// Adapter is a connection to one storage backend.
type Adapter interface {
	// Connect opens the connection described by cfg.
	Connect(ctx context.Context, cfg Config) error

	// Close releases the connection.
	Close() error

	// Exec runs a statement that returns no rows.
	Exec(ctx context.Context, query string, args ...any) error

	// Query runs a statement that returns rows. The caller closes them.
	Query(ctx context.Context, query string, args ...any) (*sql.Rows, error)

	// GetTableMetadata describes a table. A missing table yields a
	// *TableNotFoundError.
	GetTableMetadata(ctx context.Context, table string) (*Metadata, error)

	// Dialect returns the SQL flavour of the backend.
	Dialect() *Dialect
}

// TableNotFoundError is returned by GetTableMetadata for a missing table.
type TableNotFoundError struct {
	Table string
}

func (e *TableNotFoundError) Error() string {
	return fmt.Sprintf("table %s not found", e.Table)
}
