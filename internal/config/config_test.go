package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":8080")
	}
	if cfg.MetricsNamespace != "mnemo" {
		t.Fatalf("MetricsNamespace = %q, want %q", cfg.MetricsNamespace, "mnemo")
	}
	if cfg.BrainMode != "auto" || cfg.BrainHTTPURL != "" {
		t.Fatalf("brain config = %q/%q, want auto with empty url", cfg.BrainMode, cfg.BrainHTTPURL)
	}
	if cfg.DatabaseURL != "" {
		t.Fatalf("DatabaseURL = %q, want empty default", cfg.DatabaseURL)
	}
	if cfg.EventMemoryTTL != 24*time.Hour {
		t.Fatalf("EventMemoryTTL = %v, want 24h", cfg.EventMemoryTTL)
	}
	if cfg.MemoryPurgeInterval != 5*time.Minute {
		t.Fatalf("MemoryPurgeInterval = %v, want 5m", cfg.MemoryPurgeInterval)
	}
}

func TestLoadOverrides(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_BIND_ADDR", ":9090")
	t.Setenv("APP_SHUTDOWN_TIMEOUT", "30s")
	t.Setenv("MEMORY_EVENT_TTL", "2h")
	t.Setenv("APP_ALLOW_ANY_ORIGIN", "yes")
	t.Setenv("DATABASE_URL", " postgres://localhost/mnemo ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9090" {
		t.Fatalf("BindAddr = %q, want %q", cfg.BindAddr, ":9090")
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Fatalf("ShutdownTimeout = %v, want 30s", cfg.ShutdownTimeout)
	}
	if cfg.EventMemoryTTL != 2*time.Hour {
		t.Fatalf("EventMemoryTTL = %v, want 2h", cfg.EventMemoryTTL)
	}
	if !cfg.AllowAnyOrigin {
		t.Fatalf("AllowAnyOrigin = false, want true")
	}
	if cfg.DatabaseURL != "postgres://localhost/mnemo" {
		t.Fatalf("DatabaseURL = %q, want trimmed value", cfg.DatabaseURL)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("APP_SHUTDOWN_TIMEOUT", "soon")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() expected error for unparsable duration")
	}

	setCoreEnvEmpty(t)
	t.Setenv("MEMORY_EVENT_TTL", "-1h")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() expected error for non-positive event ttl")
	}

	setCoreEnvEmpty(t)
	t.Setenv("MEMORY_PURGE_INTERVAL", "100ms")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() expected error for sub-second purge interval")
	}

	setCoreEnvEmpty(t)
	t.Setenv("APP_ALLOW_ANY_ORIGIN", "maybe")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() expected error for unparsable bool")
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"APP_AGENT_NAME",
		"DATABASE_URL",
		"BRAIN_MODE",
		"BRAIN_HTTP_URL",
		"MEMORY_EVENT_TTL",
		"MEMORY_PURGE_INTERVAL",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}
