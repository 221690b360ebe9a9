package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_defaults(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("POSSYNC_DATA_DIR", t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.HTTPAddr != "127.0.0.1:8090" {
		t.Errorf("HTTPAddr = %q, want 127.0.0.1:8090", cfg.HTTPAddr)
	}
	if cfg.MinCallInterval != 500*time.Millisecond {
		t.Errorf("MinCallInterval = %v, want 500ms", cfg.MinCallInterval)
	}
	if cfg.MaxThrottleAttempts != 3 {
		t.Errorf("MaxThrottleAttempts = %d, want 3", cfg.MaxThrottleAttempts)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want info", cfg.LogLevel)
	}
}

func TestLoad_envOverrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("POSSYNC_DATA_DIR", t.TempDir())
	t.Setenv("POSSYNC_GOOGLE_CLIENT_ID", "env-client")
	t.Setenv("POSSYNC_GOOGLE_SPREADSHEET_ID", "env-sheet")
	t.Setenv("POSSYNC_SYNC_MIN_CALL_INTERVAL", "2s")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Google.ClientID != "env-client" {
		t.Errorf("ClientID = %q, want env-client", cfg.Google.ClientID)
	}
	if cfg.MinCallInterval != 2*time.Second {
		t.Errorf("MinCallInterval = %v, want 2s", cfg.MinCallInterval)
	}

	seed := cfg.SettingsSeed()
	if seed.ClientID != "env-client" || seed.SpreadsheetID != "env-sheet" {
		t.Errorf("SettingsSeed() = %+v", seed)
	}
	if rl := cfg.RateLimit(); rl.MinInterval != 2*time.Second || rl.MaxAttempts != 3 {
		t.Errorf("RateLimit() = %+v", rl)
	}
}

func TestLoad_file(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := filepath.Join(dir, "custom.yaml")
	content := "data_dir: " + dir + "\nhttp_addr: 127.0.0.1:9999\ngoogle:\n  spreadsheet_id: file-sheet\nsync:\n  max_throttle_attempts: 5\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.HTTPAddr != "127.0.0.1:9999" || cfg.Google.SpreadsheetID != "file-sheet" || cfg.MaxThrottleAttempts != 5 {
		t.Errorf("Load() = %+v", cfg)
	}
}

func TestLoad_invalid(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("POSSYNC_DATA_DIR", t.TempDir())
	t.Setenv("POSSYNC_SYNC_MAX_THROTTLE_ATTEMPTS", "0")

	if _, err := Load(""); err == nil {
		t.Error("Load() should reject zero throttle attempts")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() should fail for an explicit missing file")
	}
}
