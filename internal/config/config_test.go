package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("S3_BUCKET", "sensorvault")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.DatabaseBackend != BackendSQLite {
		t.Errorf("DatabaseBackend = %q, want %q", cfg.DatabaseBackend, BackendSQLite)
	}
	if cfg.MaxChunkSize != 32*1024*1024 {
		t.Errorf("MaxChunkSize = %d, want 32MB", cfg.MaxChunkSize)
	}
	if cfg.StartQuota.Count != 20 || cfg.StartQuota.Window != time.Hour {
		t.Errorf("StartQuota = %+v, want {20 1h}", cfg.StartQuota)
	}
	if cfg.ChunkQuota.Count != 600 || cfg.ChunkQuota.Window != time.Hour {
		t.Errorf("ChunkQuota = %+v, want {600 1h}", cfg.ChunkQuota)
	}
	if cfg.ReaperInterval != 5*time.Minute {
		t.Errorf("ReaperInterval = %s, want 5m", cfg.ReaperInterval)
	}
	if cfg.StaleThreshold != time.Hour {
		t.Errorf("StaleThreshold = %s, want 1h", cfg.StaleThreshold)
	}
	if cfg.OperationTimeout != 30*time.Second {
		t.Errorf("OperationTimeout = %s, want 30s", cfg.OperationTimeout)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("S3_BUCKET", "readings")
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/sensorvault")
	t.Setenv("MAX_CHUNK_SIZE", "1048576")
	t.Setenv("RATE_LIMIT_START", "5")
	t.Setenv("RATE_LIMIT_START_WINDOW", "30s")
	t.Setenv("STALE_THRESHOLD", "2h")
	t.Setenv("S3_PATH_STYLE", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("Port = %q, want 9090", cfg.Port)
	}
	if cfg.DatabaseBackend != BackendPostgres {
		t.Errorf("DatabaseBackend = %q, want %q", cfg.DatabaseBackend, BackendPostgres)
	}
	if cfg.MaxChunkSize != 1048576 {
		t.Errorf("MaxChunkSize = %d, want 1048576", cfg.MaxChunkSize)
	}
	if cfg.StartQuota.Count != 5 || cfg.StartQuota.Window != 30*time.Second {
		t.Errorf("StartQuota = %+v, want {5 30s}", cfg.StartQuota)
	}
	if cfg.StaleThreshold != 2*time.Hour {
		t.Errorf("StaleThreshold = %s, want 2h", cfg.StaleThreshold)
	}
	if !cfg.S3PathStyle {
		t.Error("S3PathStyle = false, want true")
	}
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"missing bucket", map[string]string{}},
		{"unknown backend", map[string]string{
			"S3_BUCKET":        "b",
			"DATABASE_BACKEND": "mysql",
		}},
		{"postgres without url", map[string]string{
			"S3_BUCKET":        "b",
			"DATABASE_BACKEND": "postgres",
		}},
		{"negative quota", map[string]string{
			"S3_BUCKET":        "b",
			"RATE_LIMIT_START": "-1",
		}},
		{"zero start window with quota", map[string]string{
			"S3_BUCKET":               "b",
			"RATE_LIMIT_START_WINDOW": "0s",
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Error("Load() succeeded, want validation error")
			}
		})
	}
}

func TestZeroQuotaIsUnrestricted(t *testing.T) {
	t.Setenv("S3_BUCKET", "b")
	t.Setenv("RATE_LIMIT_START", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.StartQuota.Count != 0 {
		t.Errorf("StartQuota.Count = %d, want 0", cfg.StartQuota.Count)
	}
}
