// Package postgres connects TABLE blocks and FIND/SAVE to PostgreSQL via pgx.
// Import it for its side effect of registering the "postgres" connection
// type (aliases "postgresql" and "pg").
package postgres

import (
	"log/slog"

	"github.com/GeneralBots/BotServer-sub001/pkg/adapter"
)

func init() {
	adapter.Register("postgres", func(logger *slog.Logger) adapter.Adapter { return New(logger) }, "postgresql", "pg")
}
