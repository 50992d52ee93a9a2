// Package config loads the sync daemon configuration from a YAML file with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/obradiario/backend/internal/errors"
)

// Duration wraps time.Duration so YAML accepts "2m" style values.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String implements fmt.Stringer.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// Config holds the sync daemon configuration.
type Config struct {
	// DataDir is where the local SQLite database lives.
	DataDir string `yaml:"data_dir"`

	// ListenAddr is the HTTP/WebSocket bind address for the UI surface.
	ListenAddr string `yaml:"listen_addr"`

	API struct {
		// BaseURL of the remote Obra Diário API.
		BaseURL string `yaml:"base_url"`

		// Token is the bearer token for the remote API. Usually supplied
		// via OBRADIARIO_API_TOKEN rather than the file.
		Token string `yaml:"token"`
	} `yaml:"api"`

	Sync struct {
		// Interval between periodic dispatch passes while online.
		Interval Duration `yaml:"interval"`

		// ProbeInterval between connectivity health probes.
		ProbeInterval Duration `yaml:"probe_interval"`

		// Retention is the age threshold for purging resolved items.
		Retention Duration `yaml:"retention"`

		// CleanupInterval is the retention sweep cadence.
		CleanupInterval Duration `yaml:"cleanup_interval"`
	} `yaml:"sync"`
}

const (
	defaultDataDir         = "./data"
	defaultListenAddr      = "127.0.0.1:8790"
	defaultSyncInterval    = 2 * time.Minute
	defaultProbeInterval   = 30 * time.Second
	defaultRetention       = 7 * 24 * time.Hour
	defaultCleanupInterval = 24 * time.Hour
)

// Load reads the configuration. A missing file is not an error: defaults
// plus environment variables apply. A .env file in the working directory is
// honored when present.
func Load(path string) (*Config, error) {
	// Best effort: the daemon usually runs without a .env in production.
	_ = godotenv.Load()

	cfg := &Config{
		DataDir:    defaultDataDir,
		ListenAddr: defaultListenAddr,
	}
	cfg.Sync.Interval = Duration(defaultSyncInterval)
	cfg.Sync.ProbeInterval = Duration(defaultProbeInterval)
	cfg.Sync.Retention = Duration(defaultRetention)
	cfg.Sync.CleanupInterval = Duration(defaultCleanupInterval)

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, errors.Wrap(errors.ErrConfig, "failed to read config file", err)
			}
		} else if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, errors.Wrap(errors.ErrConfig, "failed to parse config file", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides file values with OBRADIARIO_* environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("OBRADIARIO_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("OBRADIARIO_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("OBRADIARIO_API_URL"); v != "" {
		cfg.API.BaseURL = v
	}
	if v := os.Getenv("OBRADIARIO_API_TOKEN"); v != "" {
		cfg.API.Token = v
	}
	if v := os.Getenv("OBRADIARIO_SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.Interval = Duration(d)
		}
	}
}

func (cfg *Config) validate() error {
	if strings.TrimSpace(cfg.API.BaseURL) == "" {
		return errors.New(errors.ErrConfig, "api.base_url is required (or set OBRADIARIO_API_URL)")
	}
	if cfg.Sync.Interval <= 0 {
		return errors.New(errors.ErrConfig, fmt.Sprintf("sync.interval must be positive, got %s", cfg.Sync.Interval))
	}
	if cfg.Sync.Retention <= 0 {
		return errors.New(errors.ErrConfig, fmt.Sprintf("sync.retention must be positive, got %s", cfg.Sync.Retention))
	}
	return nil
}
