package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/GeneralBots/BotServer-sub001/internal/channel"
	"github.com/GeneralBots/BotServer-sub001/pkg/adapter"
)

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.ScriptsDir == "" {
		return fmt.Errorf("scripts_dir is required")
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log_format %q (want text or json)", c.LogFormat)
	}
	switch c.OutputFormat {
	case "", "text", "json", "markdown":
	default:
		return fmt.Errorf("invalid output %q (want text, json or markdown)", c.OutputFormat)
	}
	for name, conn := range c.Connections {
		if conn.Type == "" {
			return fmt.Errorf("connection %q: type is required", name)
		}
		if !adapter.IsRegistered(strings.ToLower(conn.Type)) {
			return fmt.Errorf("connection %q: %w", name, &adapter.UnknownAdapterError{Type: conn.Type, Available: adapter.ListAdapters()})
		}
	}
	for name, r := range c.Channels.Remote {
		if !channelName(name) {
			return fmt.Errorf("channels.remote: unknown channel %q", name)
		}
		if r.Endpoint == "" {
			return fmt.Errorf("channels.remote.%s: endpoint is required", name)
		}
	}
	if c.Sandbox.MaxWorkers < 0 || c.Sandbox.MinIdle < 0 {
		return fmt.Errorf("sandbox: worker counts must not be negative")
	}
	return nil
}

func channelName(name string) bool {
	for _, n := range channel.Names {
		if n == name {
			return true
		}
	}
	return false
}

// ValidateDirectories checks if required directories exist.
func (c *Config) ValidateDirectories() error {
	if _, err := os.Stat(c.ScriptsDir); os.IsNotExist(err) {
		return fmt.Errorf("scripts directory does not exist: %s\nHint: Create the directory or use --scripts-dir to specify a different path", c.ScriptsDir)
	}
	return nil
}

// ParseLevel maps a log_level value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log_level %q: %w", s, err)
	}
	return level, nil
}
