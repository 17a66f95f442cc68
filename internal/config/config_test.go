package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"PRIORITIZER_PORT", "PRIORITIZER_METRICS_PORT", "PRIORITIZER_ADMIN_TOKEN",
		"PRIORITIZER_DATABASE_URL", "PRIORITIZER_EVENTS_URL", "PRIORITIZER_ANALYSIS_URL",
		"PRIORITIZER_ANALYSIS_ENABLED", "PRIORITIZER_MAX_WORKFLOWS",
		"PRIORITIZER_ALERT_WEBHOOK_URL", "PRIORITIZER_LOG_LEVEL",
	}
	for _, k := range envVars {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.Port != 8700 {
		t.Errorf("expected port 8700, got %d", cfg.Server.Port)
	}
	if cfg.Server.MetricsPort != 8701 {
		t.Errorf("expected metrics port 8701, got %d", cfg.Server.MetricsPort)
	}
	if cfg.Events.URL != "nats://localhost:4222" {
		t.Errorf("expected nats URL, got %s", cfg.Events.URL)
	}
	if !cfg.Analysis.Enabled {
		t.Error("expected analysis enabled by default")
	}
	if cfg.Engine.BatchSize != 500 {
		t.Errorf("expected batch size 500, got %d", cfg.Engine.BatchSize)
	}
	if cfg.Engine.MaxConcurrentWorkflows != 8 {
		t.Errorf("expected 8 max workflows, got %d", cfg.Engine.MaxConcurrentWorkflows)
	}
	if cfg.Scheduler.MaxCPUPercent != 85.0 {
		t.Errorf("expected cpu threshold 85, got %f", cfg.Scheduler.MaxCPUPercent)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("unexpected logging defaults: %+v", cfg.Logging)
	}
	if cfg.DispatchTick() != time.Second {
		t.Errorf("expected 1s dispatch tick, got %v", cfg.DispatchTick())
	}
	if cfg.MetricRetention() != 24*time.Hour {
		t.Errorf("expected 24h metric retention, got %v", cfg.MetricRetention())
	}
}

func TestLoadFromFile(t *testing.T) {
	clearEnv(t)

	content := `
server:
  port: 9100
  admin_token: filetoken
database:
  url: postgres://localhost/prio_test
engine:
  batch_size: 50
  max_concurrent_workflows: 2
analysis:
  enabled: false
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("expected port 9100, got %d", cfg.Server.Port)
	}
	if cfg.Server.AdminToken != "filetoken" {
		t.Errorf("expected admin token from file, got %q", cfg.Server.AdminToken)
	}
	if cfg.Engine.BatchSize != 50 {
		t.Errorf("expected batch size 50, got %d", cfg.Engine.BatchSize)
	}
	if cfg.Analysis.Enabled {
		t.Error("expected analysis disabled by file")
	}
	// Untouched sections keep their defaults.
	if cfg.Server.MetricsPort != 8701 {
		t.Errorf("expected default metrics port, got %d", cfg.Server.MetricsPort)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("PRIORITIZER_PORT", "9999")
	t.Setenv("PRIORITIZER_ANALYSIS_ENABLED", "false")
	t.Setenv("PRIORITIZER_MAX_WORKFLOWS", "3")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("expected env port 9999, got %d", cfg.Server.Port)
	}
	if cfg.Analysis.Enabled {
		t.Error("expected env to disable analysis")
	}
	if cfg.Engine.MaxConcurrentWorkflows != 3 {
		t.Errorf("expected 3 max workflows, got %d", cfg.Engine.MaxConcurrentWorkflows)
	}
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	if _, err := Load("/does/not/exist.yaml"); err == nil {
		t.Error("expected error for missing config file")
	}
}
