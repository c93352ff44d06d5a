package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/GeneralBots/BotServer-sub001/internal/cli/config"
	"github.com/GeneralBots/BotServer-sub001/internal/compiler"
	"github.com/GeneralBots/BotServer-sub001/internal/engine"
)

// CompileOptions holds options for the compile command.
type CompileOptions struct {
	Legacy bool
	Force  bool
	Print  bool
}

// NewCompileCommand creates the compile command.
func NewCompileCommand() *cobra.Command {
	opts := &CompileOptions{}

	cmd := &cobra.Command{
		Use:   "compile [path...]",
		Short: "Compile and publish dialog scripts",
		Long: `Compile .bas dialog scripts to Starlark and publish them.

Publishing writes the generated module and its sidecars to the output
directory, registers SET SCHEDULE jobs and synchronizes TABLE definitions.
Without arguments every script under the scripts directory is compiled;
unchanged scripts are served from the compile cache.`,
		Example: `  # Compile every script in the scripts directory
  gbasic compile

  # Compile one script and print the generated module
  gbasic compile dialogs/leads.bas --print

  # Recompile everything through the keyword rewriter only
  gbasic compile --legacy --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(cmd, args, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Legacy, "legacy", false, "Compile through the keyword rewriter instead of the parser")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "Ignore the compile cache")
	cmd.Flags().BoolVar(&opts.Print, "print", false, "Print the generated module instead of publishing")

	return cmd
}

func runCompile(cmd *cobra.Command, args []string, opts *CompileOptions) error {
	cfg := getConfig(cmd)
	legacy := cfg.Legacy || opts.Legacy

	if opts.Print {
		if len(args) != 1 {
			return fmt.Errorf("--print needs exactly one script")
		}
		p, err := compiler.CompileFile(args[0], compiler.Options{Legacy: legacy})
		if err != nil {
			return err
		}
		_, _ = fmt.Fprint(cmd.OutOrStdout(), p.Code)
		return nil
	}

	if opts.Legacy {
		c := *cfg
		c.Legacy = true
		cmd.SetContext(config.WithConfig(cmd.Context(), &c))
	}

	cc, cleanup, err := NewCommandContext(cmd, nil)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := cmd.Context()
	if len(args) == 0 {
		if err := cc.Cfg.ValidateDirectories(); err != nil {
			return err
		}
		args = []string{cc.Cfg.ScriptsDir}
	}

	var failed []string
	for _, path := range args {
		info, err := os.Stat(path)
		if err != nil {
			return err
		}
		if info.IsDir() {
			result, err := cc.Engine.Discover(ctx, engine.DiscoveryOptions{ScriptsDir: path, ForceFullRefresh: opts.Force})
			if err != nil {
				return err
			}
			for _, e := range result.Errors {
				failed = append(failed, e.Error())
			}
			_, _ = fmt.Fprintln(cmd.ErrOrStderr(), result.Summary())
			continue
		}
		if opts.Force {
			cc.Engine.Invalidate(path)
		}
		if _, err := cc.Engine.Compile(ctx, path); err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", path, err))
		}
	}

	if err := renderPrograms(cmd, cc.Engine.Registry().List()); err != nil {
		return err
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d script(s) failed to compile:\n  %s", len(failed), strings.Join(failed, "\n  "))
	}
	return nil
}

func renderPrograms(cmd *cobra.Command, programs []*compiler.Program) error {
	rows := make([][]any, 0, len(programs))
	for _, p := range programs {
		tables := make([]string, 0)
		for _, t := range p.Tables() {
			tables = append(tables, t.Name)
		}
		params := make([]string, 0, len(p.Metadata.Parameters))
		for _, param := range p.Metadata.Parameters {
			params = append(params, param.Name)
		}
		rows = append(rows, []any{p.Name, p.Path, len(p.Schedules), strings.Join(tables, ","), strings.Join(params, ",")})
	}
	return renderRows(cmd.OutOrStdout(), getConfig(cmd).OutputFormat,
		[]string{"script", "path", "schedules", "tables", "params"}, rows)
}
