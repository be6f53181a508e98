package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	ListenAddr          string
	DataDir             string
	LogLevel            string
	WorkerPollInterval  time.Duration
	JobRetentionDays    int
	ValidateEveryDays   int
	ValidateFilesPerSec float64
}

func Load() *Config {
	return &Config{
		ListenAddr:          envOr("LISTEN_ADDR", "127.0.0.1:7420"),
		DataDir:             envOr("FIELDVAULT_DATA_DIR", "./data"),
		LogLevel:            envOr("LOG_LEVEL", "info"),
		WorkerPollInterval:  time.Duration(envIntOr("WORKER_POLL_MS", 2000)) * time.Millisecond,
		JobRetentionDays:    envIntOr("JOB_RETENTION_DAYS", 14),
		ValidateEveryDays:   envIntOr("VALIDATE_EVERY_DAYS", 7),
		ValidateFilesPerSec: envFloatOr("VALIDATE_FILES_PER_SEC", 20),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return fallback
}
