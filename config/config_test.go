package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	t.Setenv("SERVICE_PASSWORD", "")
	t.Setenv("SVCTRUST_DRIVER", "")
	t.Setenv("SVCTRUST_KEY_ROTATION_PERIOD", "")
	t.Setenv("SVCTRUST_MUTEX_TIMEOUT", "")
	t.Setenv("SVCTRUST_PAR_DEFAULT_DURATION", "")
	t.Setenv("SVCTRUST_BUCKET_NAME", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Driver != DriverMem {
		t.Fatalf("expected default driver %q, got %q", DriverMem, cfg.Driver)
	}
	if cfg.MutexTimeout != 10*time.Second {
		t.Fatalf("unexpected default mutex timeout: %v", cfg.MutexTimeout)
	}
	if err := cfg.RequirePassword(); err == nil {
		t.Fatal("expected RequirePassword to fail when SERVICE_PASSWORD is unset")
	}
}

func TestLoadYAMLThenEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "svctrust.yaml")
	yamlBody := "driver: s3\nbucket_name: svc-bucket\nkey_rotation_period: 24h\n"
	if err := os.WriteFile(path, []byte(yamlBody), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("SERVICE_PASSWORD", "hunter2")
	t.Setenv("SVCTRUST_MUTEX_TIMEOUT", "5s")
	t.Setenv("SVCTRUST_DRIVER", "")
	t.Setenv("SVCTRUST_KEY_ROTATION_PERIOD", "")
	t.Setenv("SVCTRUST_PAR_DEFAULT_DURATION", "")
	t.Setenv("SVCTRUST_BUCKET_NAME", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Driver != DriverS3 {
		t.Fatalf("expected driver from YAML file, got %q", cfg.Driver)
	}
	if cfg.BucketName != "svc-bucket" {
		t.Fatalf("expected bucket_name from YAML file, got %q", cfg.BucketName)
	}
	if cfg.KeyRotationPeriod != 24*time.Hour {
		t.Fatalf("expected key_rotation_period from YAML file, got %v", cfg.KeyRotationPeriod)
	}
	if cfg.MutexTimeout != 5*time.Second {
		t.Fatalf("expected env override of mutex_timeout, got %v", cfg.MutexTimeout)
	}
	if err := cfg.RequirePassword(); err != nil {
		t.Fatalf("expected RequirePassword to succeed: %v", err)
	}
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	t.Setenv("SERVICE_PASSWORD", "")
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("a missing config file should fall back to defaults: %v", err)
	}
	if cfg.Driver != DriverMem {
		t.Fatalf("expected default driver, got %q", cfg.Driver)
	}
}
