// Package config provides configuration management for the gbasic CLI.
//
// Configuration is layered: built-in defaults, then gbasic.yaml, then
// GBASIC_ environment variables, then explicitly set command-line flags.
package config

import (
	"time"

	"github.com/GeneralBots/BotServer-sub001/internal/channel"
	"github.com/GeneralBots/BotServer-sub001/internal/sandbox"
	"github.com/GeneralBots/BotServer-sub001/pkg/adapter"
)

// Config holds all CLI configuration options.
type Config struct {
	ScriptsDir   string `koanf:"scripts_dir"`
	OutputDir    string `koanf:"output_dir"`
	StatePath    string `koanf:"state_path"`
	Legacy       bool   `koanf:"legacy"`
	Tenant       string `koanf:"tenant"`
	Environment  string `koanf:"environment"`
	Verbose      bool   `koanf:"verbose"`
	LogLevel     string `koanf:"log_level"`
	LogFormat    string `koanf:"log_format"`
	OutputFormat string `koanf:"output"` // text, json or markdown

	Cache       CacheConfig                   `koanf:"cache"`
	Schema      SchemaConfig                  `koanf:"schema"`
	Connections map[string]adapter.Config     `koanf:"connections"`
	Sandbox     sandbox.PoolConfig            `koanf:"sandbox"`
	Retry       RetryConfig                   `koanf:"retry"`
	Channels    ChannelsConfig                `koanf:"channels"`
	Credentials map[string]channel.Credential `koanf:"credentials"`
	Params      map[string]any                `koanf:"params"`
	Serve       ServeConfig                   `koanf:"serve"`

	Environments map[string]EnvConfig `koanf:"environments"`

	// ProjectRoot is the directory relative paths are resolved against.
	ProjectRoot string `koanf:"-"`
}

// CacheConfig tunes the compile cache.
type CacheConfig struct {
	AgeThreshold time.Duration `koanf:"age_threshold"`
}

// SchemaConfig controls TABLE synchronization.
type SchemaConfig struct {
	Sync bool `koanf:"sync"`
}

// RetryConfig tunes generated HTTP retries and token refresh.
type RetryConfig struct {
	Short    time.Duration `koanf:"short"`
	Long     time.Duration `koanf:"long"`
	VeryLong time.Duration `koanf:"very_long"`
	// TokenAttempts bounds refresh_token retries.
	TokenAttempts uint64 `koanf:"token_attempts"`
	// MaxSleep caps WAIT. Zero means no cap.
	MaxSleep time.Duration `koanf:"max_sleep"`
}

// Backoff returns the per-status waits for generated retries.
func (r RetryConfig) Backoff() map[int]time.Duration {
	return map[int]time.Duration{401: r.Short, 429: r.Long, 503: r.VeryLong}
}

// ChannelsConfig configures the capability channels of every tenant.
type ChannelsConfig struct {
	// WorkDir roots the files scripts read and write.
	WorkDir   string `koanf:"work_dir"`
	UserAgent string `koanf:"user_agent"`
	Color     bool   `koanf:"color"`
	// Remote serves a channel over HTTP. A "system" entry receives the
	// business methods the local system channel does not implement.
	Remote map[string]RemoteConfig `koanf:"remote"`
}

// RemoteConfig is one HTTP-served channel.
type RemoteConfig struct {
	Endpoint string            `koanf:"endpoint"`
	Headers  map[string]string `koanf:"headers"`
	Timeout  time.Duration     `koanf:"timeout"`
}

// ServeConfig holds configuration for `gbasic serve`.
type ServeConfig struct {
	Addr  string `koanf:"addr"`
	Watch bool   `koanf:"watch"`
}

// EnvConfig holds environment-specific overrides.
type EnvConfig struct {
	ScriptsDir  string                    `koanf:"scripts_dir"`
	StatePath   string                    `koanf:"state_path"`
	Tenant      string                    `koanf:"tenant"`
	Connections map[string]adapter.Config `koanf:"connections"`
	Params      map[string]any            `koanf:"params"`
}

// Default configuration values.
const (
	DefaultScriptsDir = "dialogs"
	DefaultOutputDir  = ".gbasic/out"
	DefaultStateFile  = ".gbasic/state.db"
	DefaultWorkDir    = "data"
	DefaultEnv        = "dev"
	DefaultTenant     = "default"
	DefaultLogLevel   = "info"
	DefaultLogFormat  = "text"
	DefaultServeAddr  = ":8765"
	DefaultOutput     = "text"
)
