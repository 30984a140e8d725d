// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Harvest  HarvestConfig  `mapstructure:"harvest"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Pacing   PacingConfig   `mapstructure:"pacing"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Source   SourceConfig   `mapstructure:"source"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls the status HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// HarvestConfig governs the run itself.
type HarvestConfig struct {
	Concurrency int    `mapstructure:"concurrency"`
	SearchType  string `mapstructure:"search_type"`
	StartPage   int    `mapstructure:"start_page"`
	EndPage     int    `mapstructure:"end_page"`
	BatchSize   int    `mapstructure:"batch_size"`
	OutputDir   string `mapstructure:"output_dir"`
}

// RetryConfig shapes the retry policy.
type RetryConfig struct {
	MaxAttempts   int     `mapstructure:"max_attempts"`
	BackoffFactor float64 `mapstructure:"backoff_factor"`
}

// PacingConfig bounds the randomized delay between pages and terms.
type PacingConfig struct {
	MinMs int     `mapstructure:"min_ms"`
	MaxMs int     `mapstructure:"max_ms"`
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

// BrowserConfig configures the shared render resource.
type BrowserConfig struct {
	Headless          bool   `mapstructure:"headless"`
	NavTimeoutSeconds int    `mapstructure:"nav_timeout_seconds"`
	UserAgentsFile    string `mapstructure:"user_agents_file"`
	StealthFile       string `mapstructure:"stealth_file"`
}

// SourceConfig points the static adapter at a registry.
type SourceConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	SearchPath     string `mapstructure:"search_path"`
	UserAgent      string `mapstructure:"user_agent"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// DBConfig controls the optional run-history store.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for run-completion events.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment. Environment variables use
// the HARVESTER_ prefix with dots replaced by underscores, e.g.
// HARVESTER_DB_DSN.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.port", 8080)
	v.SetDefault("harvest.concurrency", 3)
	v.SetDefault("harvest.search_type", "domestic")
	v.SetDefault("harvest.start_page", 1)
	v.SetDefault("harvest.end_page", 0)
	v.SetDefault("harvest.batch_size", 50)
	v.SetDefault("harvest.output_dir", "output/data")
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.backoff_factor", 2.0)
	v.SetDefault("pacing.min_ms", 1000)
	v.SetDefault("pacing.max_ms", 3000)
	v.SetDefault("pacing.rps", 0)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.nav_timeout_seconds", 30)
	v.SetDefault("browser.user_agents_file", "")
	v.SetDefault("browser.stealth_file", "")
	v.SetDefault("source.base_url", "")
	v.SetDefault("source.search_path", "")
	v.SetDefault("source.user_agent", "")
	v.SetDefault("source.timeout_seconds", 15)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("logging.development", false)
}

// Validate rejects configurations the run loop cannot honor.
func (c Config) Validate() error {
	if c.Harvest.Concurrency <= 0 {
		return fmt.Errorf("harvest.concurrency must be positive, got %d", c.Harvest.Concurrency)
	}
	if c.Harvest.BatchSize <= 0 {
		return fmt.Errorf("harvest.batch_size must be positive, got %d", c.Harvest.BatchSize)
	}
	if c.Harvest.StartPage < 1 {
		return fmt.Errorf("harvest.start_page must be at least 1, got %d", c.Harvest.StartPage)
	}
	if c.Harvest.EndPage != 0 && c.Harvest.EndPage < c.Harvest.StartPage {
		return fmt.Errorf("harvest.end_page %d precedes start_page %d", c.Harvest.EndPage, c.Harvest.StartPage)
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be positive, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BackoffFactor < 1 {
		return fmt.Errorf("retry.backoff_factor must be at least 1, got %g", c.Retry.BackoffFactor)
	}
	if c.Pacing.MinMs < 0 || c.Pacing.MaxMs < c.Pacing.MinMs {
		return fmt.Errorf("pacing range [%d, %d] is invalid", c.Pacing.MinMs, c.Pacing.MaxMs)
	}
	if c.Server.Enabled && (c.Server.Port < 1 || c.Server.Port > 65535) {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	if c.PubSub.ProjectID != "" && c.PubSub.TopicName == "" {
		return fmt.Errorf("pubsub.topic_name is required when pubsub.project_id is set")
	}
	return nil
}
