package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Harvest.Concurrency)
	assert.Equal(t, "domestic", cfg.Harvest.SearchType)
	assert.Equal(t, 1, cfg.Harvest.StartPage)
	assert.Equal(t, 0, cfg.Harvest.EndPage)
	assert.Equal(t, 50, cfg.Harvest.BatchSize)
	assert.Equal(t, "output/data", cfg.Harvest.OutputDir)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2.0, cfg.Retry.BackoffFactor)
	assert.Equal(t, 1000, cfg.Pacing.MinMs)
	assert.Equal(t, 3000, cfg.Pacing.MaxMs)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 30, cfg.Browser.NavTimeoutSeconds)
	assert.False(t, cfg.Server.Enabled)
}

func TestLoadWithFileOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
server:
  enabled: true
  port: 9090
harvest:
  concurrency: 5
  search_type: overseas
  start_page: 2
  end_page: 8
  batch_size: 25
  output_dir: /tmp/artifacts
retry:
  max_attempts: 4
  backoff_factor: 1.5
pacing:
  min_ms: 500
  max_ms: 1500
  rps: 2
  burst: 1
browser:
  headless: false
  nav_timeout_seconds: 45
  user_agents_file: ua.txt
source:
  base_url: https://registry.example.com
  timeout_seconds: 20
db:
  dsn: postgres://localhost/harvester
pubsub:
  project_id: proj
  topic_name: runs
logging:
  development: true
`
	require.NoError(t, os.WriteFile(path, []byte(configYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.Server.Enabled)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Harvest.Concurrency)
	assert.Equal(t, "overseas", cfg.Harvest.SearchType)
	assert.Equal(t, 2, cfg.Harvest.StartPage)
	assert.Equal(t, 8, cfg.Harvest.EndPage)
	assert.Equal(t, 25, cfg.Harvest.BatchSize)
	assert.Equal(t, "/tmp/artifacts", cfg.Harvest.OutputDir)
	assert.Equal(t, 4, cfg.Retry.MaxAttempts)
	assert.Equal(t, 1.5, cfg.Retry.BackoffFactor)
	assert.Equal(t, 2.0, cfg.Pacing.RPS)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, "ua.txt", cfg.Browser.UserAgentsFile)
	assert.Equal(t, "https://registry.example.com", cfg.Source.BaseURL)
	assert.Equal(t, "postgres://localhost/harvester", cfg.DB.DSN)
	assert.Equal(t, "runs", cfg.PubSub.TopicName)
	assert.True(t, cfg.Logging.Development)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("HARVESTER_HARVEST_CONCURRENCY", "7")
	t.Setenv("HARVESTER_DB_DSN", "postgres://env/harvester")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Harvest.Concurrency)
	assert.Equal(t, "postgres://env/harvester", cfg.DB.DSN)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{"zero concurrency", func(c *Config) { c.Harvest.Concurrency = 0 }, "concurrency"},
		{"zero batch size", func(c *Config) { c.Harvest.BatchSize = 0 }, "batch_size"},
		{"start page zero", func(c *Config) { c.Harvest.StartPage = 0 }, "start_page"},
		{"end before start", func(c *Config) { c.Harvest.StartPage = 5; c.Harvest.EndPage = 2 }, "end_page"},
		{"zero attempts", func(c *Config) { c.Retry.MaxAttempts = 0 }, "max_attempts"},
		{"sub-unit backoff", func(c *Config) { c.Retry.BackoffFactor = 0.5 }, "backoff_factor"},
		{"inverted pacing", func(c *Config) { c.Pacing.MinMs = 2000; c.Pacing.MaxMs = 100 }, "pacing"},
		{"bad port", func(c *Config) { c.Server.Enabled = true; c.Server.Port = 0 }, "port"},
		{"topic missing", func(c *Config) { c.PubSub.ProjectID = "p" }, "topic_name"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)
			tc.mutate(&cfg)

			err = cfg.Validate()
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tc.wantMsg),
				"error %q should mention %q", err, tc.wantMsg)
		})
	}
}
