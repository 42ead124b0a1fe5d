// Package config holds the agent's configuration: which site it tracks,
// where the backend lives, and how identity is persisted. Values come from
// a YAML config file, environment variables, and defaults, in that order of
// precedence.
package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultBackendURL = "https://api.tracking.example"

	defaultProfilePath = ".tracking/profile.json"
	defaultKeyPrefix   = "tracking"

	defaultRequestTimeout = 10 * time.Second
	defaultWatchTimeout   = 3 * time.Minute
	defaultPollInterval   = 500 * time.Millisecond
	defaultVerifyInterval = 15 * time.Minute

	defaultLoggingLevel = "info"
)

// Config holds the application configuration.
type Config struct {
	Site    SiteConfig    `mapstructure:"site"`
	Backend BackendConfig `mapstructure:"backend"`
	Storage StorageConfig `mapstructure:"storage"`
	Watcher WatcherConfig `mapstructure:"watcher"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// SiteConfig identifies the site the agent is installed on.
type SiteConfig struct {
	ID      string `mapstructure:"id"`
	Version string `mapstructure:"version"`
}

// BackendConfig holds the tracking backend endpoint settings.
type BackendConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	VerifyInterval time.Duration `mapstructure:"verify_interval"`
}

// StorageConfig selects where the durable identity tier lives. Redis is
// used when an address is set, the file profile otherwise; the in-memory
// session tier is always present.
type StorageConfig struct {
	ProfilePath string `mapstructure:"profile_path"`
	RedisAddr   string `mapstructure:"redis_addr"`
	RedisDB     int    `mapstructure:"redis_db"`
	KeyPrefix   string `mapstructure:"key_prefix"`
}

// WatcherConfig tunes the purchase confirmation watcher.
type WatcherConfig struct {
	Timeout      time.Duration `mapstructure:"timeout"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// Load reads configuration from viper's current state. Callers are expected
// to have pointed viper at a config file and bound environment variables
// first (the root command does this).
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	setDefaults(&cfg)
	return &cfg, nil
}

// setDefaults applies default values to the config.
func setDefaults(cfg *Config) {
	if cfg.Backend.BaseURL == "" {
		cfg.Backend.BaseURL = defaultBackendURL
	}
	if cfg.Backend.RequestTimeout == 0 {
		cfg.Backend.RequestTimeout = defaultRequestTimeout
	}
	if cfg.Backend.VerifyInterval == 0 {
		cfg.Backend.VerifyInterval = defaultVerifyInterval
	}
	if cfg.Storage.ProfilePath == "" {
		cfg.Storage.ProfilePath = defaultProfilePath
	}
	if cfg.Storage.KeyPrefix == "" {
		cfg.Storage.KeyPrefix = defaultKeyPrefix
	}
	if cfg.Watcher.Timeout == 0 {
		cfg.Watcher.Timeout = defaultWatchTimeout
	}
	if cfg.Watcher.PollInterval == 0 {
		cfg.Watcher.PollInterval = defaultPollInterval
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaultLoggingLevel
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Site.ID) == "" {
		return fmt.Errorf("site.id is required")
	}
	u, err := url.Parse(c.Backend.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("backend.base_url %q is not a valid URL", c.Backend.BaseURL)
	}
	if c.Watcher.PollInterval > c.Watcher.Timeout {
		return fmt.Errorf("watcher.poll_interval exceeds watcher.timeout")
	}
	return nil
}
