package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "ollama", cfg.Backend.Engine)
	assert.Equal(t, "cogito:8b", cfg.Backend.Model)
	assert.Equal(t, 8640, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Library.TopK)
	assert.False(t, cfg.Scheduler.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "whetstone.yaml")
	data := `
backend:
  engine: llamaserver
  base_url: http://127.0.0.1:8080
  timeout: 60s
library:
  dir: /srv/texts
  top_k: 5
scheduler:
  enabled: true
  interval: 10m
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, "llamaserver", cfg.Backend.Engine)
	assert.Equal(t, "http://127.0.0.1:8080", cfg.Backend.BaseURL)
	assert.Equal(t, 60*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, "/srv/texts", cfg.Library.Dir)
	assert.Equal(t, 5, cfg.Library.TopK)
	assert.True(t, cfg.Scheduler.Enabled)
	assert.Equal(t, 10*time.Minute, cfg.Scheduler.Interval)
	// Untouched sections keep their defaults.
	assert.Equal(t, "cogito:8b", cfg.Backend.Model)
}

func TestMissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/whetstone.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, "ollama", cfg.Backend.Engine)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WHETSTONE_BACKEND_MODEL", "llama3:8b")
	t.Setenv("WHETSTONE_SERVER_PORT", "9000")
	t.Setenv("WHETSTONE_BACKEND_TIMEOUT", "90s")
	t.Setenv("WHETSTONE_LOG_OUTPUT_PATHS", "stdout, /var/log/whetstone.log")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "llama3:8b", cfg.Backend.Model)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 90*time.Second, cfg.Backend.Timeout)
	assert.Equal(t, []string{"stdout", "/var/log/whetstone.log"}, cfg.Log.OutputPaths)
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "whetstone.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend:\n  model: from-file\n"), 0o644))
	t.Setenv("WHETSTONE_BACKEND_MODEL", "from-env")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Backend.Model)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = -1 }},
		{"unknown engine", func(c *Config) { c.Backend.Engine = "gpt4all" }},
		{"temperature out of range", func(c *Config) { c.Backend.Temperature = 3 }},
		{"negative top_k", func(c *Config) { c.Library.TopK = -1 }},
		{"enabled scheduler without interval", func(c *Config) {
			c.Scheduler.Enabled = true
			c.Scheduler.Interval = 0
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
