package commands

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/GeneralBots/BotServer-sub001/internal/channel"
	"github.com/GeneralBots/BotServer-sub001/internal/cli/config"
	"github.com/GeneralBots/BotServer-sub001/internal/engine"
	"github.com/GeneralBots/BotServer-sub001/internal/schema"
	sl "github.com/GeneralBots/BotServer-sub001/internal/starlark"
)

// CommandContext holds common dependencies for CLI commands.
type CommandContext struct {
	Cfg    *config.Config
	Logger *slog.Logger
	Engine *engine.Engine
}

// NewCommandContext creates a CommandContext with an engine. dialog serves
// the dialog channel unless a remote dialog is configured; nil leaves it
// unavailable. The returned cleanup must be called (typically via defer).
func NewCommandContext(cmd *cobra.Command, dialog channel.Channel) (*CommandContext, func(), error) {
	cfg := getConfig(cmd)
	logger := config.GetLogger(cmd.Context())

	eng, err := createEngine(cfg, logger, dialog)
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {
		if err := eng.Close(); err != nil {
			logger.Warn("closing engine failed", "error", err)
		}
	}

	return &CommandContext{Cfg: cfg, Logger: logger, Engine: eng}, cleanup, nil
}

// getConfig returns the configuration loaded by the root command.
func getConfig(cmd *cobra.Command) *config.Config {
	if cfg := config.FromContext(cmd.Context()); cfg != nil {
		return cfg
	}
	return &config.Config{
		ScriptsDir: config.DefaultScriptsDir,
		OutputDir:  config.DefaultOutputDir,
		StatePath:  config.DefaultStateFile,
		Tenant:     config.DefaultTenant,
		Schema:     config.SchemaConfig{Sync: true},
		Channels:   config.ChannelsConfig{WorkDir: config.DefaultWorkDir},
	}
}

func createEngine(cfg *config.Config, logger *slog.Logger, dialog channel.Channel) (*engine.Engine, error) {
	stateDir := filepath.Dir(cfg.StatePath)
	if cfg.StatePath != ":memory:" && stateDir != "." && stateDir != "" {
		if err := os.MkdirAll(stateDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	pool := cfg.Sandbox
	pool.Builtins = sl.BuiltinOptions{
		Backoff:  cfg.Retry.Backoff(),
		MaxSleep: cfg.Retry.MaxSleep,
	}

	credentials := make([]string, 0, len(cfg.Credentials))
	for name := range cfg.Credentials {
		credentials = append(credentials, name)
	}
	sort.Strings(credentials)

	return engine.New(engine.Config{
		ScriptsDir:   cfg.ScriptsDir,
		OutputDir:    cfg.OutputDir,
		StatePath:    cfg.StatePath,
		Legacy:       cfg.Legacy,
		AgeThreshold: cfg.Cache.AgeThreshold,
		SchemaSync:   cfg.Schema.Sync,
		Connections:  schema.NewConnections(cfg.Connections, logger),
		Channels:     channelFactory(cfg, logger, dialog),
		Pool:         pool,
		Tenant:       cfg.Tenant,
		Params:       cfg.Params,
		Credentials:  credentials,
		Logger:       logger,
	})
}

// channelFactory builds a tenant's channels. Every tenant gets its own
// keep-alive transport, shared by its HTTP-backed channels.
func channelFactory(cfg *config.Config, logger *slog.Logger, dialog channel.Channel) engine.ChannelFactory {
	return func(tenant string, tables channel.TableStore) (channel.Set, error) {
		client := &http.Client{Transport: channel.NewTransport()}
		tlog := logger.With("tenant", tenant)

		remote := make(map[string]channel.Channel, len(cfg.Channels.Remote))
		for name, rc := range cfg.Channels.Remote {
			ch, err := channel.NewRemote(name, channel.RemoteOptions{
				Endpoint: rc.Endpoint,
				Headers:  rc.Headers,
				Timeout:  rc.Timeout,
				Logger:   tlog,
			})
			if err != nil {
				return nil, err
			}
			remote[name] = ch
		}

		system, err := channel.NewSystem(channel.SystemOptions{
			WorkDir:       filepath.Join(cfg.Channels.WorkDir, tenant),
			Tables:        tables,
			Credentials:   cfg.Credentials,
			Forward:       remote[channel.System],
			Client:        client,
			TokenAttempts: cfg.Retry.TokenAttempts,
			Logger:        tlog,
		})
		if err != nil {
			return nil, err
		}

		set := channel.Set{
			channel.System: system,
			channel.Web:    channel.NewWeb(channel.WebOptions{Client: client, UserAgent: cfg.Channels.UserAgent, Logger: tlog}),
		}
		if dialog != nil {
			set[channel.Dialog] = dialog
		}
		for _, name := range []string{channel.Dialog, channel.Web, channel.Image} {
			if ch, ok := remote[name]; ok {
				set[name] = ch
			}
		}
		return set, nil
	}
}
