package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GeneralBots/BotServer-sub001/pkg/adapter"

	// Import adapter packages to ensure adapters are registered via init()
	_ "github.com/GeneralBots/BotServer-sub001/pkg/adapters/postgres"
	_ "github.com/GeneralBots/BotServer-sub001/pkg/adapters/sqlite"
)

const projectYAML = `
scripts_dir: bots
state_path: state/gbasic.db
log_level: debug
cache:
  age_threshold: 3s
sandbox:
  max_workers: 2
  allow: [upper, "system.*"]
  limits:
    timeout: 10s
connections:
  crm:
    type: postgres
    host: localhost
    password: ${GBASIC_TEST_PASSWORD}
credentials:
  erp:
    token_url: https://auth.example.com/token
    client_id: bot
environments:
  prod:
    tenant: acme
    connections:
      crm:
        host: db.internal
        schema: sales
`

func writeProject(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "gbasic.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	ResetConfig()
	dir := t.TempDir()
	path := filepath.Join(dir, "gbasic.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o600))

	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, DefaultScriptsDir), cfg.ScriptsDir)
	assert.Equal(t, filepath.Join(dir, DefaultStateFile), cfg.StatePath)
	assert.Equal(t, DefaultTenant, cfg.Tenant)
	assert.Equal(t, time.Second, cfg.Cache.AgeThreshold)
	assert.True(t, cfg.Schema.Sync)
	assert.Equal(t, 4, cfg.Sandbox.MaxWorkers)
	assert.Equal(t, 2*time.Minute, cfg.Sandbox.Limits.Timeout)
	assert.Equal(t, 30*time.Second, cfg.Retry.Backoff()[503])
	assert.EqualValues(t, 5, cfg.Retry.TokenAttempts)
	assert.Equal(t, DefaultServeAddr, cfg.Serve.Addr)
	assert.Equal(t, path, GetConfigFileUsed())
}

func TestLoadConfig_File(t *testing.T) {
	ResetConfig()
	t.Setenv("GBASIC_TEST_PASSWORD", "s3cret")
	path := writeProject(t, projectYAML)
	root := filepath.Dir(path)

	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "bots"), cfg.ScriptsDir)
	assert.Equal(t, filepath.Join(root, "state", "gbasic.db"), cfg.StatePath)
	assert.Equal(t, 3*time.Second, cfg.Cache.AgeThreshold)
	assert.Equal(t, 2, cfg.Sandbox.MaxWorkers)
	assert.Equal(t, 10*time.Second, cfg.Sandbox.Limits.Timeout)
	assert.Equal(t, []string{"upper", "system.*"}, []string(cfg.Sandbox.Allow))
	assert.Equal(t, "s3cret", cfg.Connections["crm"].Password)
	assert.Equal(t, "localhost", cfg.Connections["crm"].Host)
	assert.Equal(t, "bot", cfg.Credentials["erp"].ClientID)
}

func TestLoadConfig_Environment(t *testing.T) {
	ResetConfig()
	path := writeProject(t, projectYAML+"environment: prod\n")

	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)
	assert.Equal(t, "acme", cfg.Tenant)
	assert.Equal(t, "db.internal", cfg.Connections["crm"].Host)
	assert.Equal(t, "sales", cfg.Connections["crm"].Schema)
	assert.Equal(t, "postgres", cfg.Connections["crm"].Type, "base fields survive the merge")
}

func TestLoadConfig_Precedence(t *testing.T) {
	ResetConfig()
	path := writeProject(t, projectYAML)
	t.Setenv("GBASIC_TENANT", "from-env")
	t.Setenv("GBASIC_SANDBOX__MAX_WORKERS", "7")
	t.Setenv("GBASIC_LOG_LEVEL", "warn")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("log-level", "", "")
	flags.String("state", "", "")
	flags.String("tenant", "", "")
	require.NoError(t, flags.Parse([]string{"--log-level", "error", "--state", ":memory:"}))

	cfg, err := LoadConfig(path, flags)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Tenant, "env beats file and unset flags")
	assert.Equal(t, 7, cfg.Sandbox.MaxWorkers)
	assert.Equal(t, "error", cfg.LogLevel, "flags beat env")
	assert.Equal(t, ":memory:", cfg.StatePath)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name      string
		yaml      string
		errSubstr string
	}{
		{name: "unknown adapter", yaml: "connections:\n  x:\n    type: mysql\n", errSubstr: "unknown adapter type"},
		{name: "missing type", yaml: "connections:\n  x:\n    host: h\n", errSubstr: "type is required"},
		{name: "bad level", yaml: "log_level: loud\n", errSubstr: "invalid log_level"},
		{name: "bad format", yaml: "log_format: xml\n", errSubstr: "invalid log_format"},
		{name: "unknown remote", yaml: "channels:\n  remote:\n    fax:\n      endpoint: http://x\n", errSubstr: "unknown channel"},
		{name: "remote without endpoint", yaml: "channels:\n  remote:\n    image: {}\n", errSubstr: "endpoint is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ResetConfig()
			_, err := LoadConfig(writeProject(t, tt.yaml), nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSubstr)
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("GBASIC_X", "value")
	tests := []struct {
		in   string
		want string
	}{
		{"${GBASIC_X}", "value"},
		{"pre-${GBASIC_X}-post", "pre-value-post"},
		{"${GBASIC_MISSING}", "${GBASIC_MISSING}"},
		{"plain", "plain"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, expandEnvVars(tt.in), tt.in)
	}
}

func TestMergeConnection(t *testing.T) {
	base := adapter.Config{Type: "postgres", Host: "a", Port: 5432, Options: map[string]string{"sslmode": "disable"}}
	got := MergeConnection(base, adapter.Config{Host: "b", Options: map[string]string{"x": "1"}})

	assert.Equal(t, "postgres", got.Type)
	assert.Equal(t, "b", got.Host)
	assert.Equal(t, 5432, got.Port)
	assert.Equal(t, map[string]string{"sslmode": "disable", "x": "1"}, got.Options)
	assert.Equal(t, map[string]string{"sslmode": "disable"}, base.Options, "base is not mutated")
}

func TestParseLevel(t *testing.T) {
	level, err := ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", level.String())

	_, err = ParseLevel("chatty")
	require.Error(t, err)
}
