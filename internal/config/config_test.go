package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.ListenAddr != "127.0.0.1:7420" {
		t.Errorf("ListenAddr = %s", cfg.ListenAddr)
	}
	if cfg.WorkerPollInterval != 2*time.Second {
		t.Errorf("WorkerPollInterval = %s", cfg.WorkerPollInterval)
	}
	if cfg.JobRetentionDays != 14 {
		t.Errorf("JobRetentionDays = %d", cfg.JobRetentionDays)
	}
	if cfg.ValidateEveryDays != 7 {
		t.Errorf("ValidateEveryDays = %d", cfg.ValidateEveryDays)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("LISTEN_ADDR", "0.0.0.0:9000")
	t.Setenv("WORKER_POLL_MS", "250")
	t.Setenv("VALIDATE_FILES_PER_SEC", "5.5")
	t.Setenv("JOB_RETENTION_DAYS", "bogus")

	cfg := Load()
	if cfg.ListenAddr != "0.0.0.0:9000" {
		t.Errorf("ListenAddr = %s", cfg.ListenAddr)
	}
	if cfg.WorkerPollInterval != 250*time.Millisecond {
		t.Errorf("WorkerPollInterval = %s", cfg.WorkerPollInterval)
	}
	if cfg.ValidateFilesPerSec != 5.5 {
		t.Errorf("ValidateFilesPerSec = %f", cfg.ValidateFilesPerSec)
	}
	if cfg.JobRetentionDays != 14 {
		t.Errorf("unparseable env should fall back, got %d", cfg.JobRetentionDays)
	}
}
