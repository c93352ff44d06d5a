package commands

import (
	"github.com/spf13/cobra"
)

// NewSchedulesCommand creates the schedules command.
func NewSchedulesCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "schedules",
		Aliases: []string{"jobs"},
		Short:   "List SET SCHEDULE jobs",
		Long:    `List the cron jobs registered by published scripts, one per SET SCHEDULE directive.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup, err := NewCommandContext(cmd, nil)
			if err != nil {
				return err
			}
			defer cleanup()

			if _, _, err := cc.Engine.Restore(cmd.Context()); err != nil {
				return err
			}

			jobs := cc.Engine.Scheduler().Jobs()
			rows := make([][]any, 0, len(jobs))
			for _, j := range jobs {
				rows = append(rows, []any{j.ID(), j.Cron, j.Owner, j.Line, j.Next})
			}
			return renderRows(cmd.OutOrStdout(), cc.Cfg.OutputFormat,
				[]string{"id", "cron", "script", "line", "next"}, rows)
		},
	}
}

// NewRunsCommand creates the runs command.
func NewRunsCommand() *cobra.Command {
	var (
		script string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Show run history",
		Long:  `Show recorded runs, newest first, with their trigger, status and error kind.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cc, cleanup, err := NewCommandContext(cmd, nil)
			if err != nil {
				return err
			}
			defer cleanup()

			runs, err := cc.Engine.Store().ListRuns(cmd.Context(), script, limit)
			if err != nil {
				return err
			}
			rows := make([][]any, 0, len(runs))
			for _, r := range runs {
				rows = append(rows, []any{r.ID, r.Script, r.Tenant, r.Trigger, string(r.Status), r.ErrorKind, r.StartedAt, r.CompletedAt})
			}
			return renderRows(cmd.OutOrStdout(), cc.Cfg.OutputFormat,
				[]string{"id", "script", "tenant", "trigger", "status", "error", "started", "completed"}, rows)
		},
	}

	cmd.Flags().StringVar(&script, "script", "", "Only runs of this script")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs (0 for all)")
	return cmd
}
