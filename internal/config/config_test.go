package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("RECORDINGS_DIR", filepath.Join(dir, "recordings"))
	// Run away from any .env in the working tree.
	t.Setenv("ENV_PATH", filepath.Join(dir, ".env"))
	if err := os.WriteFile(filepath.Join(dir, ".env"), nil, 0644); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	return dir
}

func TestLoadDefaults(t *testing.T) {
	setupEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.ScriberrURL != "" {
		t.Errorf("Expected no remote by default, got %q", cfg.ScriberrURL)
	}
	if cfg.HTTPAddr == "" {
		t.Error("Expected default HTTP address")
	}
	if cfg.SyncInterval != 5*time.Minute {
		t.Errorf("Expected 5m sync interval, got %v", cfg.SyncInterval)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected info log level, got %q", cfg.LogLevel)
	}
}

func TestLoadCreatesDirectories(t *testing.T) {
	setupEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	for _, dir := range []string{cfg.DataDir, cfg.RecordingsDir} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Errorf("Expected directory %s to exist: %v", dir, err)
		}
	}
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	setupEnv(t)
	t.Setenv("SCRIBERR_URL", "https://scriberr.example.com")
	t.Setenv("SYNC_INTERVAL", "30s")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ScriberrURL != "https://scriberr.example.com" {
		t.Errorf("Expected override, got %q", cfg.ScriberrURL)
	}
	if cfg.SyncInterval != 30*time.Second {
		t.Errorf("Expected 30s interval, got %v", cfg.SyncInterval)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("Expected debug, got %q", cfg.LogLevel)
	}
}

func TestLoadRejectsBadURL(t *testing.T) {
	setupEnv(t)
	t.Setenv("SCRIBERR_URL", "not a url")

	if _, err := Load(); err == nil {
		t.Error("Expected validation error for malformed URL")
	}
}

func TestPinnedDir(t *testing.T) {
	cfg := &Config{DataDir: "/data"}
	if got := cfg.PinnedDir(); got != filepath.Join("/data", "pinned") {
		t.Errorf("Unexpected pinned dir %q", got)
	}
}
