package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GeneralBots/BotServer-sub001/internal/channel"
	"github.com/GeneralBots/BotServer-sub001/internal/cli/config"
	"github.com/GeneralBots/BotServer-sub001/internal/engine"
	"github.com/GeneralBots/BotServer-sub001/internal/sandbox"
)

// RunOptions holds options for the run command.
type RunOptions struct {
	Args     []string
	Entities []string
	Answers  []string
	User     string
	Locale   string
	PageMode string
	NoColor  bool
	JSON     bool
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run <script>",
		Short: "Run a dialog script in the sandbox",
		Long: `Run a published script, or compile and run a script file, with the
terminal as the dialog channel. TALK prints to the terminal and HEAR reads
the reply, re-asking until it is valid for the requested kind.`,
		Example: `  # Run a published script by name
  gbasic run leads

  # Run a file with arguments and scripted replies
  gbasic run dialogs/greet.bas --arg name=Ana --answer yes

  # Print the script result as JSON
  gbasic run report --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringArrayVar(&opts.Args, "arg", nil, "Script argument as key=value (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Entities, "entity", nil, "Recognized entity as key=value (repeatable)")
	cmd.Flags().StringArrayVar(&opts.Answers, "answer", nil, "Scripted reply to HEAR instead of reading stdin (repeatable)")
	cmd.Flags().StringVar(&opts.User, "user", os.Getenv("USER"), "User name seen by the script")
	cmd.Flags().StringVar(&opts.Locale, "locale", "", "Session locale")
	cmd.Flags().StringVar(&opts.PageMode, "page-mode", "", "Pagination mode (auto|none)")
	cmd.Flags().BoolVar(&opts.NoColor, "no-color", false, "Disable styled output")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Print the run result as JSON")

	return cmd
}

func runRun(cmd *cobra.Command, name string, opts *RunOptions) error {
	cfg := getConfig(cmd)
	args, err := parseKeyValues(opts.Args)
	if err != nil {
		return fmt.Errorf("--arg: %w", err)
	}
	entities, err := parseKeyValues(opts.Entities)
	if err != nil {
		return fmt.Errorf("--entity: %w", err)
	}

	console := channel.NewConsole(channel.ConsoleOptions{
		In:      cmd.InOrStdin(),
		Out:     cmd.OutOrStdout(),
		Answers: answers(opts.Answers),
		Color:   cfg.Channels.Color && !opts.NoColor && !opts.JSON,
		Logger:  config.GetLogger(cmd.Context()),
	})

	cc, cleanup, err := NewCommandContext(cmd, console)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	if _, _, err := cc.Engine.Restore(ctx); err != nil {
		return err
	}

	res, err := cc.Engine.Run(ctx, resolveScript(cc.Engine, cc.Cfg.ScriptsDir, name), engine.RunOptions{
		Trigger:  engine.TriggerManual,
		Session:  channel.Session{User: opts.User, Channel: "console", Locale: opts.Locale},
		Args:     args,
		Entities: entities,
		PageMode: opts.PageMode,
	})
	if err != nil {
		var se *sandbox.ScriptError
		if errors.As(err, &se) && len(se.Frames) > 0 {
			_, _ = fmt.Fprintln(cmd.ErrOrStderr(), se.Backtrace())
		}
		return err
	}

	if opts.JSON {
		return renderJSON(cmd.OutOrStdout(), map[string]any{
			"session":  res.SessionID,
			"result":   res.Value,
			"exited":   res.Exited,
			"steps":    res.Steps,
			"duration": res.Duration.String(),
		})
	}
	if res.Value != nil {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), formatValue(res.Value))
	}
	cc.Logger.Debug("run finished", "session", res.SessionID, "steps", res.Steps, "duration", res.Duration)
	return nil
}

// resolveScript maps a bare name that is not published to a file in the
// scripts directory.
func resolveScript(eng *engine.Engine, scriptsDir, name string) string {
	if _, ok := eng.Program(name); ok || engine.IsScript(name) {
		return name
	}
	for _, ext := range engine.Extensions {
		candidate := filepath.Join(scriptsDir, name+ext)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return name
}

func parseKeyValues(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("expected key=value, got %q", pair)
		}
		out[strings.TrimSpace(key)] = value
	}
	return out, nil
}

func answers(list []string) []string {
	if len(list) == 0 {
		return nil
	}
	return list
}
