// Package postgres provides the PostgreSQL storage adapter.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/go-viper/mapstructure/v2"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver

	"github.com/GeneralBots/BotServer-sub001/pkg/adapter"
	"github.com/GeneralBots/BotServer-sub001/pkg/parser"
)

var dialect = &adapter.Dialect{
	Name:          "postgres",
	DefaultSchema: "public",
	Placeholder:   adapter.DollarPlaceholder,
	Types: map[string]string{
		parser.FieldString:  "TEXT",
		parser.FieldGUID:    "UUID",
		parser.FieldKey:     "BIGINT",
		parser.FieldInteger: "BIGINT",
		parser.FieldNumber:  "NUMERIC",
		parser.FieldDouble:  "DOUBLE PRECISION",
		parser.FieldFloat:   "REAL",
		parser.FieldDate:    "TIMESTAMP",
		parser.FieldBoolean: "BOOLEAN",
	},
	Sized: map[string]string{
		parser.FieldString: "VARCHAR(%d)",
		parser.FieldNumber: "NUMERIC(%d,%d)",
	},
	Serial: func(string, string) (string, []string) {
		return "BIGSERIAL PRIMARY KEY", nil
	},
}

// Params holds pool settings decoded from adapter.Config.Params.
type Params struct {
	MaxOpenConns int `mapstructure:"max_open_conns"`
	MaxIdleConns int `mapstructure:"max_idle_conns"`
}

// Adapter implements adapter.Adapter for PostgreSQL.
type Adapter struct {
	adapter.BaseSQLAdapter
}

// New creates a new PostgreSQL adapter instance.
// If logger is nil, a discard logger is used.
func New(logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Adapter{
		BaseSQLAdapter: adapter.BaseSQLAdapter{Logger: logger},
	}
}

// Dialect returns the PostgreSQL dialect.
func (a *Adapter) Dialect() *adapter.Dialect {
	return dialect
}

// Connect establishes a connection to PostgreSQL.
func (a *Adapter) Connect(ctx context.Context, cfg adapter.Config) error {
	var params Params
	if err := mapstructure.WeakDecode(cfg.Params, &params); err != nil {
		return fmt.Errorf("invalid postgres params: %w", err)
	}

	a.Logger.Debug("connecting to postgres", slog.String("host", cfg.Host), slog.String("database", cfg.Database))

	db, err := sql.Open("pgx", buildPostgresDSN(cfg))
	if err != nil {
		return fmt.Errorf("failed to open postgres connection: %w", err)
	}
	if params.MaxOpenConns > 0 {
		db.SetMaxOpenConns(params.MaxOpenConns)
	}
	if params.MaxIdleConns > 0 {
		db.SetMaxIdleConns(params.MaxIdleConns)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping postgres: %w", err)
	}

	a.DB = db
	a.Cfg = cfg
	return nil
}

// buildPostgresDSN constructs a PostgreSQL connection string.
func buildPostgresDSN(cfg adapter.Config) string {
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}

	port := cfg.Port
	if port == 0 {
		port = 5432
	}

	sslmode := "disable"
	if mode, ok := cfg.Options["sslmode"]; ok {
		sslmode = mode
	}

	dsn := fmt.Sprintf("host=%s port=%d dbname=%s sslmode=%s",
		host, port, cfg.Database, sslmode)

	if cfg.Username != "" {
		dsn += fmt.Sprintf(" user=%s", cfg.Username)
	}
	if cfg.Password != "" {
		dsn += fmt.Sprintf(" password=%s", cfg.Password)
	}
	if cfg.Schema != "" {
		dsn += fmt.Sprintf(" search_path=%s", cfg.Schema)
	}

	return dsn
}

// GetTableMetadata retrieves metadata for a specified table.
func (a *Adapter) GetTableMetadata(ctx context.Context, table string) (*adapter.Metadata, error) {
	d := *dialect
	if a.Cfg.Schema != "" {
		d.DefaultSchema = a.Cfg.Schema
	}
	return a.GetTableMetadataCommon(ctx, table, &d)
}

// Ensure Adapter implements adapter.Adapter interface
var _ adapter.Adapter = (*Adapter)(nil)
