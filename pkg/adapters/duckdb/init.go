// Package duckdb connects TABLE blocks and FIND/SAVE to a DuckDB file or an
// in-memory DuckDB database. Import it to register the "duckdb" type.
package duckdb

import (
	"log/slog"

	"github.com/GeneralBots/BotServer-sub001/pkg/adapter"
)

func init() {
	adapter.Register("duckdb", func(logger *slog.Logger) adapter.Adapter { return New(logger) })
}
