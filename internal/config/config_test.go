package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/obradiario/backend/internal/errors"
)

func TestLoadDefaultsWithEnvURL(t *testing.T) {
	t.Setenv("OBRADIARIO_API_URL", "https://api.obradiario.com.br")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.API.BaseURL != "https://api.obradiario.com.br" {
		t.Errorf("BaseURL = %s", cfg.API.BaseURL)
	}
	if cfg.Sync.Interval.Std() != 2*time.Minute {
		t.Errorf("Interval = %s, want 2m", cfg.Sync.Interval)
	}
	if cfg.Sync.Retention.Std() != 7*24*time.Hour {
		t.Errorf("Retention = %s, want 168h", cfg.Sync.Retention)
	}
	if cfg.ListenAddr == "" {
		t.Error("expected default listen address")
	}
}

func TestLoadMissingBaseURL(t *testing.T) {
	_, err := Load("")
	if err == nil {
		t.Fatal("expected error without api.base_url")
	}
	if !errors.Is(err, errors.ErrConfig) {
		t.Errorf("expected CONFIG_ERROR code, got %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
data_dir: /var/lib/obradiario
listen_addr: 0.0.0.0:9000
api:
  base_url: https://staging.obradiario.com.br
sync:
  interval: 45s
  retention: 72h
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DataDir != "/var/lib/obradiario" {
		t.Errorf("DataDir = %s", cfg.DataDir)
	}
	if cfg.ListenAddr != "0.0.0.0:9000" {
		t.Errorf("ListenAddr = %s", cfg.ListenAddr)
	}
	if cfg.Sync.Interval.Std() != 45*time.Second {
		t.Errorf("Interval = %s, want 45s", cfg.Sync.Interval)
	}
	if cfg.Sync.Retention.Std() != 72*time.Hour {
		t.Errorf("Retention = %s, want 72h", cfg.Sync.Retention)
	}
	// Defaults fill fields the file omits.
	if cfg.Sync.CleanupInterval.Std() != 24*time.Hour {
		t.Errorf("CleanupInterval = %s, want 24h", cfg.Sync.CleanupInterval)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
api:
  base_url: https://file.example.com
sync:
  interval: 10m
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("OBRADIARIO_API_URL", "https://env.example.com")
	t.Setenv("OBRADIARIO_SYNC_INTERVAL", "30s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.API.BaseURL != "https://env.example.com" {
		t.Errorf("BaseURL = %s, want env override", cfg.API.BaseURL)
	}
	if cfg.Sync.Interval.Std() != 30*time.Second {
		t.Errorf("Interval = %s, want 30s", cfg.Sync.Interval)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("OBRADIARIO_API_URL", "https://api.obradiario.com.br")

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.DataDir != "./data" {
		t.Errorf("DataDir = %s, want default", cfg.DataDir)
	}
}
