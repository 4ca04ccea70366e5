package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config contains all runtime settings for the session and memory service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	DatabaseURL string
	AgentName   string

	BrainMode    string
	BrainHTTPURL string

	EventMemoryTTL      time.Duration
	MemoryPurgeInterval time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:            envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:    envOrDefault("APP_METRICS_NAMESPACE", "mnemo"),
		AllowAnyOrigin:      false,
		DatabaseURL:         stringsTrimSpace("DATABASE_URL"),
		AgentName:           envOrDefault("APP_AGENT_NAME", "assistant"),
		BrainMode:           envOrDefault("BRAIN_MODE", "auto"),
		BrainHTTPURL:        stringsTrimSpace("BRAIN_HTTP_URL"),
		ShutdownTimeout:     15 * time.Second,
		EventMemoryTTL:      24 * time.Hour,
		MemoryPurgeInterval: 5 * time.Minute,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.EventMemoryTTL, err = durationFromEnv("MEMORY_EVENT_TTL", cfg.EventMemoryTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.MemoryPurgeInterval, err = durationFromEnv("MEMORY_PURGE_INTERVAL", cfg.MemoryPurgeInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if strings.TrimSpace(cfg.AgentName) == "" {
		return Config{}, fmt.Errorf("APP_AGENT_NAME must not be blank")
	}
	if cfg.EventMemoryTTL <= 0 {
		return Config{}, fmt.Errorf("MEMORY_EVENT_TTL must be positive")
	}
	if cfg.MemoryPurgeInterval < time.Second {
		return Config{}, fmt.Errorf("MEMORY_PURGE_INTERVAL must be at least 1s")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
