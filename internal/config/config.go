// Package config loads HELIX's runtime configuration (§6.6) as an immutable
// struct built once at startup via functional options, the way the teacher's
// own config loader composes env and file sources.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds every recognized option from §6.6. It is built once via Load
// and passed by reference; nothing mutates it afterward.
type Config struct {
	MaxRetries               int           `mapstructure:"max_retries"`
	RetryDelaySeconds         int           `mapstructure:"retry_delay_seconds"`
	TimeoutSeconds            int           `mapstructure:"timeout_seconds"`
	HeartbeatIntervalSeconds  int           `mapstructure:"heartbeat_interval_seconds"`
	ZombieThresholdSeconds    int           `mapstructure:"zombie_threshold_seconds"`
	JanitorIntervalSeconds    int           `mapstructure:"janitor_interval_seconds"`
	EvolutionAttemptsPerJob   int           `mapstructure:"evolution_attempts_per_job"`
	PromptRetentionVersions   int           `mapstructure:"prompt_retention_versions"`
	EventRetentionSeconds     int           `mapstructure:"event_retention_seconds"`
	DatabaseURL               string        `mapstructure:"database_url"`
	WorkflowPath              string        `mapstructure:"workflow_path"`
	SchemaDir                 string        `mapstructure:"schema_dir"`
	PromptBaselineDir         string        `mapstructure:"prompt_baseline_dir"`
	MetricsAddr               string        `mapstructure:"metrics_addr"`
	OTLPEndpoint              string        `mapstructure:"otlp_endpoint"`
}

// RetryDelay returns RetryDelaySeconds as a time.Duration.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

// Timeout returns TimeoutSeconds as a time.Duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// HeartbeatInterval returns HeartbeatIntervalSeconds as a time.Duration.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSeconds) * time.Second
}

// ZombieThreshold returns ZombieThresholdSeconds as a time.Duration.
func (c *Config) ZombieThreshold() time.Duration {
	return time.Duration(c.ZombieThresholdSeconds) * time.Second
}

// JanitorInterval returns JanitorIntervalSeconds as a time.Duration.
func (c *Config) JanitorInterval() time.Duration {
	return time.Duration(c.JanitorIntervalSeconds) * time.Second
}

// EventRetention returns EventRetentionSeconds as a time.Duration.
func (c *Config) EventRetention() time.Duration {
	return time.Duration(c.EventRetentionSeconds) * time.Second
}

func defaults() *Config {
	return &Config{
		MaxRetries:              3,
		RetryDelaySeconds:       30,
		TimeoutSeconds:          300,
		HeartbeatIntervalSeconds: 10,
		ZombieThresholdSeconds:  60,
		JanitorIntervalSeconds:  30,
		EvolutionAttemptsPerJob: 1,
		PromptRetentionVersions: 5,
		EventRetentionSeconds:   7 * 24 * 60 * 60,
		WorkflowPath:            "workflow.yaml",
		SchemaDir:               "schemas",
		PromptBaselineDir:       "prompts/v0",
		MetricsAddr:             ":9090",
	}
}

// Option customizes the Viper-backed loader before Load finalizes the Config.
type Option func(*viper.Viper)

// WithEnv binds every field to an environment variable with the HELIX_
// prefix, e.g. HELIX_MAX_RETRIES.
func WithEnv() Option {
	return func(v *viper.Viper) {
		v.SetEnvPrefix("helix")
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.AutomaticEnv()
	}
}

// WithFile loads configuration from the given file path (YAML, JSON, or TOML
// by extension). Missing files are not an error — defaults and env still
// apply.
func WithFile(path string) Option {
	return func(v *viper.Viper) {
		v.SetConfigFile(path)
	}
}

// Load builds the final Config by layering defaults, then file, then env
// (later layers win), validating cross-field invariants before returning.
func Load(opts ...Option) (*Config, error) {
	v := viper.New()
	cfg := defaults()

	v.SetDefault("max_retries", cfg.MaxRetries)
	v.SetDefault("retry_delay_seconds", cfg.RetryDelaySeconds)
	v.SetDefault("timeout_seconds", cfg.TimeoutSeconds)
	v.SetDefault("heartbeat_interval_seconds", cfg.HeartbeatIntervalSeconds)
	v.SetDefault("zombie_threshold_seconds", cfg.ZombieThresholdSeconds)
	v.SetDefault("janitor_interval_seconds", cfg.JanitorIntervalSeconds)
	v.SetDefault("evolution_attempts_per_job", cfg.EvolutionAttemptsPerJob)
	v.SetDefault("prompt_retention_versions", cfg.PromptRetentionVersions)
	v.SetDefault("event_retention_seconds", cfg.EventRetentionSeconds)
	v.SetDefault("workflow_path", cfg.WorkflowPath)
	v.SetDefault("schema_dir", cfg.SchemaDir)
	v.SetDefault("prompt_baseline_dir", cfg.PromptBaselineDir)
	v.SetDefault("metrics_addr", cfg.MetricsAddr)
	v.SetDefault("otlp_endpoint", cfg.OTLPEndpoint)

	var fileRequested bool
	for _, opt := range opts {
		opt(v)
		if v.ConfigFileUsed() != "" {
			fileRequested = true
		}
	}

	if fileRequested {
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0, got %d", c.MaxRetries)
	}
	if c.RetryDelaySeconds < 0 {
		return fmt.Errorf("retry_delay_seconds must be >= 0, got %d", c.RetryDelaySeconds)
	}
	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout_seconds must be > 0, got %d", c.TimeoutSeconds)
	}
	if c.HeartbeatIntervalSeconds <= 0 {
		return fmt.Errorf("heartbeat_interval_seconds must be > 0, got %d", c.HeartbeatIntervalSeconds)
	}
	if c.ZombieThresholdSeconds < 2*c.HeartbeatIntervalSeconds {
		return fmt.Errorf("zombie_threshold_seconds (%d) must be >= 2x heartbeat_interval_seconds (%d)",
			c.ZombieThresholdSeconds, c.HeartbeatIntervalSeconds)
	}
	if c.JanitorIntervalSeconds <= 0 {
		return fmt.Errorf("janitor_interval_seconds must be > 0, got %d", c.JanitorIntervalSeconds)
	}
	if c.EvolutionAttemptsPerJob < 0 {
		return fmt.Errorf("evolution_attempts_per_job must be >= 0, got %d", c.EvolutionAttemptsPerJob)
	}
	if c.PromptRetentionVersions < 1 {
		return fmt.Errorf("prompt_retention_versions must be >= 1, got %d", c.PromptRetentionVersions)
	}
	if c.EventRetentionSeconds <= 0 {
		return fmt.Errorf("event_retention_seconds must be > 0, got %d", c.EventRetentionSeconds)
	}
	return nil
}

// SafeSummary renders the config for startup logging with DatabaseURL's
// userinfo redacted, so a pasted log line never leaks credentials.
func (c *Config) SafeSummary() string {
	redactedURL := redactURLCredentials(c.DatabaseURL)
	return fmt.Sprintf(
		"max_retries=%d retry_delay_seconds=%d timeout_seconds=%d heartbeat_interval_seconds=%d "+
			"zombie_threshold_seconds=%d janitor_interval_seconds=%d evolution_attempts_per_job=%d "+
			"prompt_retention_versions=%d event_retention_seconds=%d database_url=%s workflow_path=%s "+
			"schema_dir=%s metrics_addr=%s",
		c.MaxRetries, c.RetryDelaySeconds, c.TimeoutSeconds, c.HeartbeatIntervalSeconds,
		c.ZombieThresholdSeconds, c.JanitorIntervalSeconds, c.EvolutionAttemptsPerJob,
		c.PromptRetentionVersions, c.EventRetentionSeconds, redactedURL, c.WorkflowPath,
		c.SchemaDir, c.MetricsAddr,
	)
}

func redactURLCredentials(raw string) string {
	if raw == "" {
		return ""
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed.User == nil {
		return raw
	}
	parsed.User = url.UserPassword("***", "***")
	return parsed.String()
}
