package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  format: console
admin:
  port: 9000
  api_key: secret
database:
  url: postgres://localhost:5432/jobs
  max_conns: 20
redis:
  url: localhost:6379
stream:
  watermark: 128
jobs:
  owner_quota: 8
  idle_timeout: 60s
`)

	cfg, err := LoadConfig(path, true)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "console" {
		t.Errorf("log = %+v, want debug/console", cfg.Log)
	}
	if cfg.Admin.Port != 9000 || cfg.Admin.APIKey != "secret" {
		t.Errorf("admin = %+v", cfg.Admin)
	}
	if cfg.Stream.Watermark != 128 {
		t.Errorf("watermark = %d, want 128", cfg.Stream.Watermark)
	}
	if cfg.Jobs.OwnerQuota != 8 || cfg.Jobs.IdleTimeout != time.Minute {
		t.Errorf("jobs = %+v", cfg.Jobs)
	}
	if !cfg.Runtime.Dev {
		t.Error("Runtime.Dev = false, want true")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  url: postgres://localhost:5432/jobs
redis:
  url: localhost:6379
`)

	cfg, err := LoadConfig(path, false)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Stream.Watermark != 64 {
		t.Errorf("default watermark = %d, want 64", cfg.Stream.Watermark)
	}
	if cfg.Bus.RetryBase != 200*time.Millisecond || cfg.Bus.MaxAttempts != 5 {
		t.Errorf("bus defaults = %+v", cfg.Bus)
	}
	if cfg.Jobs.IdleTimeout != 120*time.Second || cfg.Jobs.RetentionTTL != 24*time.Hour {
		t.Errorf("jobs defaults = %+v", cfg.Jobs)
	}
	if cfg.Gateway.IdleTimeout != 5*time.Minute {
		t.Errorf("gateway default = %v, want 5m", cfg.Gateway.IdleTimeout)
	}
}

func TestLoadConfigMissingRequired(t *testing.T) {
	path := writeConfig(t, "log:\n  level: info\n")
	if _, err := LoadConfig(path, false); err == nil {
		t.Error("expected an error for missing database/redis urls")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"), false); err == nil {
		t.Error("expected an error for a missing file")
	}
}
