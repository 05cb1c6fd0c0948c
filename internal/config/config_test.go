// ABOUTME: Tests for YAML config loading, env expansion, defaults, and validation.
// ABOUTME: Writes config files into temp dirs; no global state beyond env vars.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

const minimalConfig = `
server:
  http_addr: "localhost:8080"
database:
  path: ":memory:"
`

func TestLoad_Minimal(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "localhost:8080", cfg.Server.HTTPAddr)
	assert.Equal(t, ":memory:", cfg.Database.Path)

	// Defaults.
	assert.Equal(t, "none", cfg.Auth.Mode)
	assert.Equal(t, DefaultMaxNodes, cfg.Nodes.MaxNodes)
	assert.Equal(t, DefaultPingInterval, cfg.Nodes.PingInterval)
	assert.Equal(t, DefaultPingTimeout, cfg.Nodes.PingTimeout)
	assert.Equal(t, DefaultMetricsPath, cfg.Metrics.Path)
}

func TestLoad_Full(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
server:
  http_addr: "0.0.0.0:9090"
auth:
  mode: "token"
  tokens: ["tok-a", "tok-b"]
  token_secret: "sekrit"
nodes:
  max_nodes: 10
  ping_interval: "5s"
  ping_timeout: "12s"
database:
  path: "/tmp/gw.db"
agents:
  roster_path: "/etc/hive/agents.toml"
logging:
  level: "debug"
  format: "json"
metrics:
  enabled: true
  path: "/m"
`))
	require.NoError(t, err)

	assert.Equal(t, "token", cfg.Auth.Mode)
	assert.Equal(t, []string{"tok-a", "tok-b"}, cfg.Auth.Tokens)
	assert.Equal(t, "sekrit", cfg.Auth.TokenSecret)
	assert.Equal(t, 10, cfg.Nodes.MaxNodes)
	assert.Equal(t, 5*time.Second, cfg.Nodes.PingInterval)
	assert.Equal(t, 12*time.Second, cfg.Nodes.PingTimeout)
	assert.Equal(t, "/etc/hive/agents.toml", cfg.Agents.RosterPath)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "/m", cfg.Metrics.Path)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("HIVE_TEST_ADDR", "localhost:7777")
	t.Setenv("HIVE_TEST_TOKEN", "tok-env")

	cfg, err := Load(writeConfig(t, `
server:
  http_addr: "${HIVE_TEST_ADDR}"
auth:
  mode: "token"
  tokens: ["${HIVE_TEST_TOKEN}"]
database:
  path: ":memory:"
`))
	require.NoError(t, err)

	assert.Equal(t, "localhost:7777", cfg.Server.HTTPAddr)
	assert.Equal(t, []string{"tok-env"}, cfg.Auth.Tokens)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoad_InvalidDuration(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
nodes:
  ping_interval: "soon"
`))
	assert.ErrorContains(t, err, "ping_interval")
}

func TestValidate_Failures(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			"missing addr",
			func(c *Config) { c.Server.HTTPAddr = "" },
			"http_addr",
		},
		{
			"missing database path",
			func(c *Config) { c.Database.Path = "" },
			"database.path",
		},
		{
			"bad auth mode",
			func(c *Config) { c.Auth.Mode = "maybe" },
			"auth.mode",
		},
		{
			"password mode without password",
			func(c *Config) { c.Auth.Mode = "password" },
			"auth.password",
		},
		{
			"timeout not beyond interval",
			func(c *Config) {
				c.Nodes.PingInterval = 30 * time.Second
				c.Nodes.PingTimeout = 30 * time.Second
			},
			"ping_timeout",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, minimalConfig))
			require.NoError(t, err)
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.wantErr)
		})
	}
}
