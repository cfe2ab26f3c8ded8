// Package config loads and writes the daemon's TOML configuration.
package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/applockd/applockd/internal/logger"
	"github.com/applockd/applockd/internal/policy"
	"github.com/applockd/applockd/internal/watcher"
)

// Config represents the top-level TOML structure.
type Config struct {
	Policy   PolicyConfig   `toml:"policy" mapstructure:"policy"`
	Verifier VerifierConfig `toml:"verifier" mapstructure:"verifier"`
	Watcher  WatcherConfig  `toml:"watcher" mapstructure:"watcher"`
	Server   ServerConfig   `toml:"server" mapstructure:"server"`
	Metrics  MetricsConfig  `toml:"metrics" mapstructure:"metrics"`
	Audit    AuditConfig    `toml:"audit" mapstructure:"audit"`
	Log      LogConfig      `toml:"log" mapstructure:"log"`
}

type PolicyConfig struct {
	// Keywords keep their configured order; matching is first match wins.
	Keywords    []string      `toml:"keywords" mapstructure:"keywords"`
	GracePeriod time.Duration `toml:"grace_period" mapstructure:"grace_period"`
	MaxAttempts int           `toml:"max_attempts" mapstructure:"max_attempts"`
}

type VerifierConfig struct {
	Type          string        `toml:"type" mapstructure:"type"` // password or command
	PasswordHash  string        `toml:"password_hash" mapstructure:"password_hash"`
	Command       []string      `toml:"command" mapstructure:"command"`
	VerifyTimeout time.Duration `toml:"verify_timeout" mapstructure:"verify_timeout"`
}

type WatcherConfig struct {
	Interval time.Duration `toml:"interval" mapstructure:"interval"`
}

type ServerConfig struct {
	Listen   string `toml:"listen" mapstructure:"listen"`
	BasePath string `toml:"base_path" mapstructure:"base_path"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Listen  string `toml:"listen" mapstructure:"listen"`
}

type AuditConfig struct {
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	Color      bool   `toml:"color" mapstructure:"color"`
	Dir        string `toml:"dir" mapstructure:"dir"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// Default returns a config with all defaults filled and no keywords.
func Default() Config {
	return Config{
		Policy: PolicyConfig{
			GracePeriod: policy.DefaultGracePeriod,
			MaxAttempts: policy.DefaultMaxAttempts,
		},
		Verifier: VerifierConfig{
			Type:          "password",
			VerifyTimeout: 60 * time.Second,
		},
		Watcher: WatcherConfig{Interval: watcher.DefaultInterval},
		Server:  ServerConfig{Listen: "127.0.0.1:8220", BasePath: "/api"},
		Log:     LogConfig{Level: "info", Format: "text", Color: true},
	}
}

// Load reads path as TOML and fills defaults for omitted values.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.fillDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadOrFailSafe loads the config and, when it cannot be read or parsed,
// returns the defaults with an empty keyword set instead of failing: a broken
// config must not leave the daemon prompting for every process on the host.
func LoadOrFailSafe(path string) Config {
	cfg, err := Load(path)
	if err != nil {
		slog.Error("config unusable, running with empty policy", "path", path, "err", err)
		return Default()
	}
	return cfg
}

func (c *Config) fillDefaults() {
	if c.Policy.GracePeriod <= 0 {
		c.Policy.GracePeriod = policy.DefaultGracePeriod
	}
	if c.Policy.MaxAttempts < 1 {
		c.Policy.MaxAttempts = policy.DefaultMaxAttempts
	}
	if c.Verifier.Type == "" {
		c.Verifier.Type = "password"
	}
	if c.Verifier.VerifyTimeout <= 0 {
		c.Verifier.VerifyTimeout = 60 * time.Second
	}
	if c.Watcher.Interval <= 0 {
		c.Watcher.Interval = watcher.DefaultInterval
	}
	if c.Server.Listen == "" {
		c.Server.Listen = "127.0.0.1:8220"
	}
	if c.Server.BasePath == "" {
		c.Server.BasePath = "/api"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Validate rejects combinations the daemon cannot run with.
func (c *Config) Validate() error {
	switch c.Verifier.Type {
	case "password", "command":
	default:
		return fmt.Errorf("verifier type must be password or command, got %q", c.Verifier.Type)
	}
	if c.Verifier.Type == "command" && len(c.Verifier.Command) == 0 {
		return fmt.Errorf("verifier type command requires a command")
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// PolicySnapshot converts the policy section into an immutable snapshot.
func (c *Config) PolicySnapshot() policy.Policy {
	return policy.New(c.Policy.Keywords, c.Policy.GracePeriod, c.Policy.MaxAttempts)
}

// LoggerConfig maps the log section onto the logger package.
func (c *Config) LoggerConfig() logger.Config {
	lc := logger.Config{Level: c.Log.Level, Format: c.Log.Format, Color: c.Log.Color}
	if c.Log.Dir != "" {
		lc.File = logger.FileConfig{
			Path:       filepath.Join(c.Log.Dir, "applockd.log"),
			MaxSizeMB:  c.Log.MaxSizeMB,
			MaxBackups: c.Log.MaxBackups,
			MaxAgeDays: c.Log.MaxAgeDays,
			Compress:   c.Log.Compress,
		}
	}
	return lc
}

// Save writes the config back to path in the same schema Load reads.
// Keyword order is preserved, so load-save round trips are stable.
func (c *Config) Save(path string) error {
	v := viper.New()
	v.SetConfigType("toml")
	keywords := c.Policy.Keywords
	if keywords == nil {
		keywords = []string{}
	}
	v.Set("policy.keywords", keywords)
	v.Set("policy.grace_period", c.Policy.GracePeriod.String())
	v.Set("policy.max_attempts", c.Policy.MaxAttempts)
	v.Set("verifier.type", c.Verifier.Type)
	v.Set("verifier.password_hash", c.Verifier.PasswordHash)
	v.Set("verifier.command", c.Verifier.Command)
	v.Set("verifier.verify_timeout", c.Verifier.VerifyTimeout.String())
	v.Set("watcher.interval", c.Watcher.Interval.String())
	v.Set("server.listen", c.Server.Listen)
	v.Set("server.base_path", c.Server.BasePath)
	v.Set("metrics.enabled", c.Metrics.Enabled)
	v.Set("metrics.listen", c.Metrics.Listen)
	v.Set("audit.dsn", c.Audit.DSN)
	v.Set("log.level", c.Log.Level)
	v.Set("log.format", c.Log.Format)
	v.Set("log.color", c.Log.Color)
	v.Set("log.dir", c.Log.Dir)
	v.Set("log.max_size_mb", c.Log.MaxSizeMB)
	v.Set("log.max_backups", c.Log.MaxBackups)
	v.Set("log.max_age_days", c.Log.MaxAgeDays)
	v.Set("log.compress", c.Log.Compress)
	return v.WriteConfigAs(path)
}
