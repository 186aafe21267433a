package infra

import (
	"testing"
	"time"
)

func TestLoadConfigRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected error without DATABASE_URL")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/batchgen")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("Port = %q", cfg.Port)
	}
	if cfg.ChunkMaxBytes != 18*1024*1024 {
		t.Fatalf("ChunkMaxBytes = %d", cfg.ChunkMaxBytes)
	}
	if cfg.UploadConcurrency != 10 || cfg.ExportConcurrency != 6 {
		t.Fatalf("concurrency defaults = %d/%d", cfg.UploadConcurrency, cfg.ExportConcurrency)
	}
	if cfg.ReconcilePollInterval != 30*time.Second {
		t.Fatalf("ReconcilePollInterval = %s", cfg.ReconcilePollInterval)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/batchgen")
	t.Setenv("PORT", "9090")
	t.Setenv("BATCH_CHUNK_MAX_BYTES", "1048576")
	t.Setenv("RECONCILE_POLL_SECONDS", "5")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.Port != "9090" || cfg.ChunkMaxBytes != 1048576 || cfg.ReconcilePollInterval != 5*time.Second {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}
