package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GeneralBots/BotServer-sub001/internal/engine"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize TABLE definitions with their connections",
		Long: `Create missing tables and add missing columns for every TABLE block of
the published scripts. Synchronization is additive: columns are never
dropped or retyped, and type drift is only reported.`,
		Example: `  # Show what would change
  gbasic sync --dry-run

  # Apply
  gbasic sync`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup, err := NewCommandContext(cmd, nil)
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := cmd.Context()
			programs, _, err := cc.Engine.Restore(ctx)
			if err != nil {
				return err
			}
			if programs == 0 {
				result, err := cc.Engine.Discover(ctx, engine.DiscoveryOptions{})
				if err != nil {
					return err
				}
				cc.Logger.Info("discovered scripts", "summary", result.Summary())
			}

			changes, err := cc.Engine.SyncSchema(ctx, dryRun)
			if err != nil {
				return err
			}

			rows := make([][]any, 0, len(changes))
			for _, c := range changes {
				rows = append(rows, []any{c.Connection, c.Table, c.Column, c.Kind, strings.Join(c.Statements, ";\n")})
			}
			if err := renderRows(cmd.OutOrStdout(), cc.Cfg.OutputFormat,
				[]string{"connection", "table", "column", "change", "sql"}, rows); err != nil {
				return err
			}
			if dryRun && len(changes) > 0 {
				_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "Dry run: nothing was applied")
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Plan changes without applying them")
	return cmd
}
