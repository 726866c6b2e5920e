// Package config loads configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds boardfs defaults that flags may override.
type Config struct {
	// Device
	Port string
	Baud int
	Wait time.Duration

	// Logging
	LogLevel  string
	LogFormat string

	// Metrics. Empty disables the metrics listener.
	MetricsAddr string

	// Protocol
	ReadTimeout time.Duration
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:        envOr("BOARDFS_PORT", ""),
		Baud:        envInt("BOARDFS_BAUD", 115200),
		Wait:        envDuration("BOARDFS_WAIT", 0),
		LogLevel:    envOr("LOG_LEVEL", "info"),
		LogFormat:   envOr("LOG_FORMAT", "console"),
		MetricsAddr: envOr("METRICS_ADDR", ""),
		ReadTimeout: envDuration("BOARDFS_READ_TIMEOUT", 10*time.Second),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
