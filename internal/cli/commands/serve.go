package commands

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/GeneralBots/BotServer-sub001/internal/server"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	var (
		addr    string
		noWatch bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run scheduled scripts and the HTTP API",
		Long: `Start gbasic as a service.

Published scripts are restored from the state store and the scripts
directory is compiled. SET SCHEDULE jobs fire on their cron expressions,
edited scripts are recompiled as they change, and an HTTP API accepts
compile and run requests:

  POST /compile          compile and publish a script
  POST /run/{script}     run a published script
  GET  /scripts          published scripts
  GET  /schedules        cron jobs
  GET  /runs             run history
  GET  /debug/sessions/  runs in flight (DELETE /debug/sessions/{id} cancels one)`,
		Example: `  # Serve on the configured address
  gbasic serve

  # Serve on another port without the file watcher
  gbasic serve --addr :9000 --no-watch`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := getConfig(cmd).ValidateDirectories(); err != nil {
				return err
			}
			transcripts := server.NewTranscripts()
			cc, cleanup, err := NewCommandContext(cmd, transcripts)
			if err != nil {
				return err
			}
			defer cleanup()

			if addr == "" {
				addr = cc.Cfg.Serve.Addr
			}
			srv := server.New(server.Config{
				Engine:      cc.Engine,
				Transcripts: transcripts,
				Addr:        addr,
				Watch:       cc.Cfg.Serve.Watch && !noWatch,
				Logger:      cc.Logger,
			})
			if err := srv.Serve(cmd.Context()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from serve.addr)")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "Do not recompile scripts when files change")
	return cmd
}
