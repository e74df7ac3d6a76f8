// Package config loads the sync core configuration.
//
// Config is read from a YAML file (see Path) and falls back to defaults for
// every missing field. A handful of environment variables override the file
// so the host app can point the core at a different backend without
// rewriting it.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/kimhsiao/campaignsync/internal/errors"
)

const (
	EnvBaseURL  = "CAMPAIGNSYNC_BASE_URL"
	EnvDBPath   = "CAMPAIGNSYNC_DB_PATH"
	EnvLogLevel = "CAMPAIGNSYNC_LOG_LEVEL"
	EnvConfig   = "CAMPAIGNSYNC_CONFIG"
)

// Config is the root configuration document.
type Config struct {
	Remote      RemoteConfig      `yaml:"remote"`
	Queue       QueueConfig       `yaml:"queue"`
	Cache       CacheConfig       `yaml:"cache"`
	Interaction InteractionConfig `yaml:"interaction"`
	Reconcile   ReconcileConfig   `yaml:"reconcile"`
	Store       StoreConfig       `yaml:"store"`
	Log         LogConfig         `yaml:"log"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

type RemoteConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type QueueConfig struct {
	MaxRetries  int           `yaml:"max_retries"`
	BaseBackoff time.Duration `yaml:"base_backoff"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
	MaxAge      time.Duration `yaml:"max_age"`
	Batching    *bool         `yaml:"batching"`
}

// BatchingEnabled reports whether like/unlike batching is on. Defaults to true.
func (q QueueConfig) BatchingEnabled() bool {
	return q.Batching == nil || *q.Batching
}

type CacheConfig struct {
	Freshness time.Duration `yaml:"freshness"`
}

type InteractionConfig struct {
	StaleAfter time.Duration `yaml:"stale_after"`
}

type ReconcileConfig struct {
	// Interval enables a periodic drain while connected. Zero disables it.
	Interval time.Duration `yaml:"interval"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type TelemetryConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Remote: RemoteConfig{
			BaseURL: "http://localhost:8080/api",
			Timeout: 10 * time.Second,
		},
		Queue: QueueConfig{
			MaxRetries:  3,
			BaseBackoff: time.Second,
			MaxBackoff:  60 * time.Second,
			MaxAge:      7 * 24 * time.Hour,
		},
		Cache:       CacheConfig{Freshness: 5 * time.Minute},
		Interaction: InteractionConfig{StaleAfter: 5 * time.Minute},
		Store:       StoreConfig{Path: "./data"},
		Log:         LogConfig{Level: "info"},
	}
}

// Path returns the config file location. CAMPAIGNSYNC_CONFIG wins, then
// $XDG_CONFIG_HOME/campaignsync/config.yaml, then ~/.config/campaignsync/config.yaml.
func Path() string {
	if p := os.Getenv(EnvConfig); p != "" {
		return p
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return filepath.Join(".config", "campaignsync", "config.yaml")
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "campaignsync", "config.yaml")
}

// Load reads the config file at Path. A missing file yields defaults.
func Load() (*Config, error) {
	return LoadFile(Path())
}

// LoadFile reads the config at path, layering it over Default and applying
// environment overrides.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrConfigInvalid, "parse config", err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML bytes over Default without touching the environment.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConfigInvalid, "parse config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvBaseURL); v != "" {
		c.Remote.BaseURL = v
	}
	if v := os.Getenv(EnvDBPath); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
}

// Validate rejects values the core cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Remote.BaseURL == "":
		return apperrors.New(apperrors.ErrConfigInvalid, "remote.base_url is required")
	case c.Remote.Timeout <= 0:
		return apperrors.New(apperrors.ErrConfigInvalid, "remote.timeout must be positive")
	case c.Queue.MaxRetries <= 0:
		return apperrors.New(apperrors.ErrConfigInvalid, "queue.max_retries must be positive")
	case c.Queue.BaseBackoff <= 0 || c.Queue.MaxBackoff < c.Queue.BaseBackoff:
		return apperrors.New(apperrors.ErrConfigInvalid, "queue backoff bounds are invalid")
	case c.Queue.MaxAge <= 0:
		return apperrors.New(apperrors.ErrConfigInvalid, "queue.max_age must be positive")
	case c.Reconcile.Interval < 0:
		return apperrors.New(apperrors.ErrConfigInvalid, "reconcile.interval must not be negative")
	}
	return nil
}

// Save writes the config to path, creating directories as needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
