// Package duckdb provides the DuckDB storage adapter.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/GeneralBots/BotServer-sub001/pkg/adapter"
	"github.com/GeneralBots/BotServer-sub001/pkg/parser"

	_ "github.com/marcboeker/go-duckdb" // duckdb driver
)

var dialect = &adapter.Dialect{
	Name:          "duckdb",
	DefaultSchema: "main",
	Placeholder:   adapter.QuestionPlaceholder,
	Types: map[string]string{
		parser.FieldString:  "VARCHAR",
		parser.FieldGUID:    "UUID",
		parser.FieldKey:     "BIGINT",
		parser.FieldInteger: "BIGINT",
		parser.FieldNumber:  "DECIMAL(18,4)",
		parser.FieldDouble:  "DOUBLE",
		parser.FieldFloat:   "FLOAT",
		parser.FieldDate:    "TIMESTAMP",
		parser.FieldBoolean: "BOOLEAN",
	},
	Sized: map[string]string{
		parser.FieldString: "VARCHAR(%d)",
		parser.FieldNumber: "DECIMAL(%d,%d)",
	},
	Serial: func(table, column string) (string, []string) {
		seq := sequenceName(table, column)
		return fmt.Sprintf("BIGINT PRIMARY KEY DEFAULT nextval('%s')", seq),
			[]string{"CREATE SEQUENCE IF NOT EXISTS " + seq}
	},
}

var nonWord = regexp.MustCompile(`\W+`)

func sequenceName(table, column string) string {
	return strings.ToLower(nonWord.ReplaceAllString(table+"_"+column, "_")) + "_seq"
}

// Adapter implements adapter.Adapter for DuckDB.
type Adapter struct {
	adapter.BaseSQLAdapter
}

// New creates a new DuckDB adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{BaseSQLAdapter: adapter.BaseSQLAdapter{Logger: logger}}
}

// Dialect returns the DuckDB dialect.
func (a *Adapter) Dialect() *adapter.Dialect {
	return dialect
}

// Connect opens the database at cfg.Path, or an in-memory one, then loads
// extensions and applies settings from cfg.Params.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	params, err := ParseParams(cfg.Params)
	if err != nil {
		return err
	}

	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return fmt.Errorf("failed to open duckdb connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping duckdb: %w", err)
	}

	a.DB = db
	a.Cfg = cfg

	for _, ext := range params.Extensions {
		a.Logger.Debug("loading duckdb extension", slog.String("extension", ext))
		if err := a.Exec(ctx, fmt.Sprintf("INSTALL %s; LOAD %s;", ext, ext)); err != nil {
			_ = a.Close()
			return fmt.Errorf("load extension %s: %w", ext, err)
		}
	}
	for key, value := range params.Settings {
		if err := a.Exec(ctx, fmt.Sprintf("SET %s = '%s'", key, strings.ReplaceAll(value, "'", "''"))); err != nil {
			_ = a.Close()
			return fmt.Errorf("apply setting %s: %w", key, err)
		}
	}
	return nil
}

// GetTableMetadata retrieves metadata for a specified table.
func (a *Adapter) GetTableMetadata(ctx context.Context, table string) (*adapter.Metadata, error) {
	return a.GetTableMetadataCommon(ctx, table, dialect)
}

// Ensure Adapter implements adapter.Adapter interface
var _ adapter.Adapter = (*Adapter)(nil)
