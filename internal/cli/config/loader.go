package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/GeneralBots/BotServer-sub001/internal/sandbox"
	"github.com/GeneralBots/BotServer-sub001/pkg/adapter"
)

// loggerKey is used to store logger in context.
type loggerKey struct{}

// configKey is used to store the loaded config in context.
type configKey struct{}

// maxUpwardSearchLevels limits how far up the directory tree to search for config files.
const maxUpwardSearchLevels = 10

// EnvPrefix prefixes every environment variable the loader reads.
const EnvPrefix = "GBASIC_"

var configNames = []string{"gbasic.yaml", "gbasic.yml"}

// Package-level koanf instance and config file tracking
var (
	k              = koanf.New(".")
	configFileUsed string
)

// configExistsIn returns the config file in dir, if any.
func configExistsIn(dir string) string {
	for _, name := range configNames {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// findProjectRootUpward searches upward from startDir for a gbasic config file.
func findProjectRootUpward(startDir string) string {
	dir := startDir
	for i := 0; i < maxUpwardSearchLevels; i++ {
		if configExistsIn(dir) != "" {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// inferProjectRoot determines the project root.
// Priority:
//  1. Directory of an explicit --config file
//  2. Search upward from CWD for gbasic.yaml
//  3. Current working directory
func inferProjectRoot(cfgFile string) string {
	if cfgFile != "" {
		if abs, err := filepath.Abs(cfgFile); err == nil {
			return filepath.Dir(abs)
		}
	}
	cwd, err := os.Getwd()
	if err != nil || cwd == "" {
		return "."
	}
	if root := findProjectRootUpward(cwd); root != "" {
		return root
	}
	return cwd
}

// resolvePathRelativeTo resolves a path relative to baseDir if it's not absolute.
func resolvePathRelativeTo(path, baseDir string) string {
	if path == "" || path == ":memory:" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// ResetConfig resets the koanf instance. Used for testing.
func ResetConfig() {
	k = koanf.New(".")
	configFileUsed = ""
}

func defaults() map[string]any {
	return map[string]any{
		"scripts_dir":                 DefaultScriptsDir,
		"output_dir":                  DefaultOutputDir,
		"state_path":                  DefaultStateFile,
		"tenant":                      DefaultTenant,
		"environment":                 DefaultEnv,
		"log_level":                   DefaultLogLevel,
		"log_format":                  DefaultLogFormat,
		"output":                      DefaultOutput,
		"cache.age_threshold":         time.Second,
		"schema.sync":                 true,
		"sandbox.max_workers":         4,
		"sandbox.min_idle":            0,
		"sandbox.idle_timeout":        time.Minute,
		"sandbox.limits.max_steps":    sandbox.DefaultLimits.MaxSteps,
		"sandbox.limits.memory_bytes": sandbox.DefaultLimits.MemoryBytes,
		"sandbox.limits.timeout":      sandbox.DefaultLimits.Timeout,
		"retry.short":                 time.Second,
		"retry.long":                  10 * time.Second,
		"retry.very_long":             30 * time.Second,
		"retry.token_attempts":        5,
		"channels.work_dir":           DefaultWorkDir,
		"channels.color":              true,
		"serve.addr":                  DefaultServeAddr,
		"serve.watch":                 true,
	}
}

// LoadConfig loads configuration from defaults, file, environment variables
// and flags. Precedence (highest to lowest): flags > env vars > config file > defaults
func LoadConfig(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k = koanf.New(".")

	projectRoot := inferProjectRoot(cfgFile)

	// flag paths are relative to CWD, not the project root
	flagPaths := make(map[string]string)
	if flags != nil {
		for _, name := range []string{"scripts-dir", "output-dir", "state"} {
			if !flags.Changed(name) {
				continue
			}
			if v, _ := flags.GetString(name); v != "" && v != ":memory:" {
				flagPaths[name], _ = filepath.Abs(v)
			}
		}
	}

	// 1. Load defaults
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Find and load config file
	if cfgFile == "" {
		cfgFile = configExistsIn(projectRoot)
	}
	configFileUsed = cfgFile
	if configFileUsed != "" {
		if err := k.Load(file.Provider(configFileUsed), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", configFileUsed, err)
		}
	}

	// 3. Load environment variables
	// Transform: GBASIC_SANDBOX__MAX_WORKERS -> sandbox.max_workers
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Load flags (highest priority - overrides env vars and config file)
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			key := strings.ReplaceAll(f.Name, "-", "_")
			switch key {
			case "state":
				key = "state_path"
			case "env":
				key = "environment"
			case "config":
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// 5. Unmarshal into Config struct
	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.ProjectRoot = projectRoot

	applyEnvironment(&cfg)

	cfg.ScriptsDir = pick(flagPaths["scripts-dir"], resolvePathRelativeTo(cfg.ScriptsDir, projectRoot))
	cfg.OutputDir = pick(flagPaths["output-dir"], resolvePathRelativeTo(cfg.OutputDir, projectRoot))
	cfg.StatePath = pick(flagPaths["state"], resolvePathRelativeTo(cfg.StatePath, projectRoot))
	cfg.Channels.WorkDir = resolvePathRelativeTo(cfg.Channels.WorkDir, projectRoot)

	expandSecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func pick(override, fallback string) string {
	if override != "" {
		return override
	}
	return fallback
}

// applyEnvironment merges the selected environment's overrides.
func applyEnvironment(cfg *Config) {
	envCfg, ok := cfg.Environments[cfg.Environment]
	if !ok {
		return
	}
	if envCfg.ScriptsDir != "" {
		cfg.ScriptsDir = envCfg.ScriptsDir
	}
	if envCfg.StatePath != "" {
		cfg.StatePath = envCfg.StatePath
	}
	if envCfg.Tenant != "" {
		cfg.Tenant = envCfg.Tenant
	}
	if len(envCfg.Connections) > 0 && cfg.Connections == nil {
		cfg.Connections = make(map[string]adapter.Config)
	}
	for name, c := range envCfg.Connections {
		cfg.Connections[name] = MergeConnection(cfg.Connections[name], c)
	}
	if len(envCfg.Params) > 0 && cfg.Params == nil {
		cfg.Params = make(map[string]any)
	}
	for key, v := range envCfg.Params {
		cfg.Params[key] = v
	}
}

// MergeConnection merges two connection configs, with override taking precedence.
func MergeConnection(base, override adapter.Config) adapter.Config {
	merged := base
	merged.Options = make(map[string]string)
	merged.Params = make(map[string]any)
	for k, v := range base.Options {
		merged.Options[k] = v
	}
	for k, v := range base.Params {
		merged.Params[k] = v
	}

	if override.Type != "" {
		merged.Type = override.Type
	}
	if override.Path != "" {
		merged.Path = override.Path
	}
	if override.Host != "" {
		merged.Host = override.Host
	}
	if override.Port != 0 {
		merged.Port = override.Port
	}
	if override.Database != "" {
		merged.Database = override.Database
	}
	if override.Username != "" {
		merged.Username = override.Username
	}
	if override.Password != "" {
		merged.Password = override.Password
	}
	if override.Schema != "" {
		merged.Schema = override.Schema
	}
	for k, v := range override.Options {
		merged.Options[k] = v
	}
	for k, v := range override.Params {
		merged.Params[k] = v
	}
	return merged
}

// GetConfigFileUsed returns the path to the config file being used, if any.
func GetConfigFileUsed() string {
	return configFileUsed
}

// LoggerKey returns the context key used for storing the logger.
func LoggerKey() interface{} {
	return loggerKey{}
}

// WithConfig returns ctx carrying cfg.
func WithConfig(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, configKey{}, cfg)
}

// FromContext returns the config stored by WithConfig, or nil.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(configKey{}).(*Config)
	return cfg
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.New(slog.DiscardHandler)
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns in a string with environment variable values.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val := os.Getenv(varName); val != "" {
			return val
		}
		return match
	})
}

// expandSecrets expands environment variables in connection, credential
// and remote channel settings.
func expandSecrets(cfg *Config) {
	for name, c := range cfg.Connections {
		c.Password = expandEnvVars(c.Password)
		c.Username = expandEnvVars(c.Username)
		c.Host = expandEnvVars(c.Host)
		c.Database = expandEnvVars(c.Database)
		c.Path = expandEnvVars(c.Path)
		cfg.Connections[name] = c
	}
	for name, c := range cfg.Credentials {
		c.ClientID = expandEnvVars(c.ClientID)
		c.ClientSecret = expandEnvVars(c.ClientSecret)
		c.TokenURL = expandEnvVars(c.TokenURL)
		cfg.Credentials[name] = c
	}
	for name, r := range cfg.Channels.Remote {
		r.Endpoint = expandEnvVars(r.Endpoint)
		for h, v := range r.Headers {
			r.Headers[h] = expandEnvVars(v)
		}
		cfg.Channels.Remote[name] = r
	}
}
