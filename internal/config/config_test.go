package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.PollInterval != 500*time.Millisecond {
		t.Errorf("pollInterval = %v, want 500ms", cfg.PollInterval)
	}
	if cfg.CaptureLines != 200 {
		t.Errorf("captureLines = %d, want 200", cfg.CaptureLines)
	}
	if cfg.AutoApproveMode != "off" {
		t.Errorf("autoApproveMode = %q, want off", cfg.AutoApproveMode)
	}
	if !cfg.ExfilEnabled {
		t.Error("exfil should be enabled by default")
	}
}

func TestLoadFromNonExistent(t *testing.T) {
	cfg, err := LoadFrom("/nonexistent/path/daemon.json")
	if err != nil {
		t.Errorf("should not error on missing file: %v", err)
	}
	if cfg == nil || cfg.CaptureLines != 200 {
		t.Error("should return defaults")
	}
}

func TestLoadFromValidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.json")
	content := []byte(`{
		"pollInterval": "1s",
		"captureLines": 500,
		"autoApproveMode": "hybrid",
		"exfilEnabled": false
	}`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if cfg.PollInterval != time.Second {
		t.Errorf("pollInterval = %v, want 1s", cfg.PollInterval)
	}
	if cfg.CaptureLines != 500 {
		t.Errorf("captureLines = %d", cfg.CaptureLines)
	}
	if cfg.AutoApproveMode != "hybrid" {
		t.Errorf("autoApproveMode = %q", cfg.AutoApproveMode)
	}
	if cfg.ExfilEnabled {
		t.Error("exfil should be disabled")
	}
	// Unset fields keep their defaults.
	if cfg.AuditRotateBytes != 10*1024*1024 {
		t.Errorf("auditRotateBytes = %d, want default", cfg.AuditRotateBytes)
	}
}

func TestLoadFromInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.json")
	if err := os.WriteFile(path, []byte(`{invalid`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFrom(path)
	if err == nil {
		t.Error("malformed file should surface an error")
	}
	if cfg == nil || cfg.CaptureLines != 200 {
		t.Error("defaults should still be returned")
	}
}

func TestLoadFromBadDurationKeepsDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.json")
	if err := os.WriteFile(path, []byte(`{"pollInterval":"soon"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.PollInterval != 500*time.Millisecond {
		t.Errorf("pollInterval = %v, want default kept", cfg.PollInterval)
	}
}
