// Package sqlite provides the SQLite storage adapter on the pure-Go
// modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sort"

	"github.com/go-viper/mapstructure/v2"
	_ "modernc.org/sqlite" // sqlite driver

	"github.com/GeneralBots/BotServer-sub001/pkg/adapter"
	"github.com/GeneralBots/BotServer-sub001/pkg/parser"
)

var dialect = &adapter.Dialect{
	Name:        "sqlite",
	Placeholder: adapter.QuestionPlaceholder,
	Types: map[string]string{
		parser.FieldString:  "TEXT",
		parser.FieldGUID:    "TEXT",
		parser.FieldKey:     "INTEGER",
		parser.FieldInteger: "INTEGER",
		parser.FieldNumber:  "NUMERIC",
		parser.FieldDouble:  "REAL",
		parser.FieldFloat:   "REAL",
		parser.FieldDate:    "TIMESTAMP",
		parser.FieldBoolean: "BOOLEAN",
	},
	Sized: map[string]string{
		parser.FieldString: "VARCHAR(%d)",
		parser.FieldNumber: "NUMERIC(%d,%d)",
	},
	Serial: func(string, string) (string, []string) {
		return "INTEGER PRIMARY KEY AUTOINCREMENT", nil
	},
}

// Params holds pragmas applied on connect, e.g. journal_mode: wal.
type Params struct {
	Pragmas map[string]string `mapstructure:"pragmas"`
}

// Adapter implements adapter.Adapter for SQLite.
type Adapter struct {
	adapter.BaseSQLAdapter
}

// New creates a new SQLite adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{BaseSQLAdapter: adapter.BaseSQLAdapter{Logger: logger}}
}

// Dialect returns the SQLite dialect.
func (a *Adapter) Dialect() *adapter.Dialect {
	return dialect
}

// Connect opens the database at cfg.Path. An empty path opens a private
// in-memory database held on a single connection.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	var params Params
	if err := mapstructure.WeakDecode(cfg.Params, &params); err != nil {
		return fmt.Errorf("invalid sqlite params: %w", err)
	}

	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite: %w", err)
	}

	pragmas := map[string]string{"foreign_keys": "on", "busy_timeout": "5000"}
	for k, v := range params.Pragmas {
		pragmas[k] = v
	}
	keys := make([]string, 0, len(pragmas))
	for k := range pragmas {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA %s = %s", k, pragmas[k])); err != nil {
			_ = db.Close()
			return fmt.Errorf("pragma %s: %w", k, err)
		}
	}

	a.DB = db
	a.Cfg = cfg
	return nil
}

// GetTableMetadata reads columns with pragma_table_info.
func (a *Adapter) GetTableMetadata(ctx context.Context, table string) (*adapter.Metadata, error) {
	if a.DB == nil {
		return nil, fmt.Errorf("database connection not established")
	}

	var name string
	err := a.DB.QueryRowContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND lower(name) = lower(?)`, table).Scan(&name)
	if err == sql.ErrNoRows {
		return nil, &adapter.TableNotFoundError{Table: table}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up table: %w", err)
	}

	rows, err := a.DB.QueryContext(ctx, `SELECT cid, name, type, "notnull", pk FROM pragma_table_info(?)`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query column metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()

	meta := &adapter.Metadata{Schema: "main", Name: name}
	for rows.Next() {
		var col adapter.Column
		var notNull, pk int
		if err := rows.Scan(&col.Position, &col.Name, &col.Type, &notNull, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column metadata: %w", err)
		}
		col.Position++
		col.Nullable = notNull == 0 && pk == 0
		meta.Columns = append(meta.Columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating column metadata: %w", err)
	}
	return meta, nil
}

// Ensure Adapter implements adapter.Adapter interface
var _ adapter.Adapter = (*Adapter)(nil)
