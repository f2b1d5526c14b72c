// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	DB      DBConfig      `mapstructure:"db"`
	Feed    FeedConfig    `mapstructure:"feed"`
	OpenAI  OpenAIConfig  `mapstructure:"openai"`
	Eval    EvalConfig    `mapstructure:"eval"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// DBConfig controls access to the relational database. An empty DSN selects
// the in-memory store (development mode).
type DBConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxConns     int32  `mapstructure:"max_conns"`
	MinConns     int32  `mapstructure:"min_conns"`
	EnsureSchema bool   `mapstructure:"ensure_schema"`
}

// FeedConfig governs the daily-papers gateway.
type FeedConfig struct {
	BaseURL         string `mapstructure:"base_url"`
	UserAgent       string `mapstructure:"user_agent"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
	MaxFallbackDays int    `mapstructure:"max_fallback_days"`
	CacheTTLHours   int    `mapstructure:"cache_ttl_hours"`
	RefreshSchedule string `mapstructure:"refresh_schedule"`
}

// OpenAIConfig configures the evaluation model client.
type OpenAIConfig struct {
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	BaseURL        string `mapstructure:"base_url"`
	MaxTokens      int    `mapstructure:"max_tokens"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// EvalConfig tunes the dispatcher.
type EvalConfig struct {
	Version           string `mapstructure:"version"`
	StaleAfterMinutes int    `mapstructure:"stale_after_minutes"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PAPERLENS")
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
	v.SetDefault("server.port", 7860)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.ensure_schema", true)
	v.SetDefault("feed.base_url", "https://huggingface.co/papers/date")
	v.SetDefault("feed.user_agent", "paperlens/1.0 (+https://github.com/paperlens/paperlens)")
	v.SetDefault("feed.timeout_seconds", 20)
	v.SetDefault("feed.max_fallback_days", 30)
	v.SetDefault("feed.cache_ttl_hours", 24)
	// empty disables the scheduled refresh
	v.SetDefault("feed.refresh_schedule", "0 6 * * *")
	v.SetDefault("openai.model", "gpt-4o")
	v.SetDefault("openai.max_tokens", 4000)
	v.SetDefault("openai.timeout_seconds", 180)
	v.SetDefault("eval.version", "1.0")
	v.SetDefault("eval.stale_after_minutes", 30)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Feed.TimeoutSeconds <= 0 {
		return fmt.Errorf("feed.timeout_seconds must be > 0")
	}
	if c.Feed.MaxFallbackDays <= 0 {
		return fmt.Errorf("feed.max_fallback_days must be > 0")
	}
	if c.OpenAI.TimeoutSeconds <= 0 {
		return fmt.Errorf("openai.timeout_seconds must be > 0")
	}
	if c.Eval.StaleAfterMinutes <= 0 {
		return fmt.Errorf("eval.stale_after_minutes must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// FeedTimeout converts the feed timeout config into a duration.
func (c Config) FeedTimeout() time.Duration {
	return time.Duration(c.Feed.TimeoutSeconds) * time.Second
}

// EvalTimeout bounds one external model call.
func (c Config) EvalTimeout() time.Duration {
	return time.Duration(c.OpenAI.TimeoutSeconds) * time.Second
}

// CacheTTL is the daily-cache freshness window.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Feed.CacheTTLHours) * time.Hour
}

// StaleAfter is the reconciliation threshold for stuck evaluating rows.
func (c Config) StaleAfter() time.Duration {
	return time.Duration(c.Eval.StaleAfterMinutes) * time.Minute
}
