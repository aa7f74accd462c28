// utils/env.go
package utils

import (
	"log"
	"os"
	"strconv"
	"time"
)

// GetEnv returns the variable's value or fallback when unset/empty.
func GetEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// GetEnvInt parses an integer env var, logging and falling back on junk.
func GetEnvInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("⚠️ Invalid integer for %s=%q, using default %d", key, raw, fallback)
		return fallback
	}
	return v
}

// GetEnvInt64 parses an int64 env var, logging and falling back on junk.
func GetEnvInt64(key string, fallback int64) int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("⚠️ Invalid integer for %s=%q, using default %d", key, raw, fallback)
		return fallback
	}
	return v
}

// GetEnvDuration parses a Go duration env var (e.g. "90s", "15m").
func GetEnvDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("⚠️ Invalid duration for %s=%q, using default %s", key, raw, fallback)
		return fallback
	}
	return v
}
