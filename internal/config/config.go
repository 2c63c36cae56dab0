// Package config parses the daemon's JSON configuration file, following
// the teacher's internal/config/loader.go raw-struct-then-merge idiom:
// defaults first, then a tolerant unmarshal of whatever the file provides.
package config

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

const (
	configDir  = ".config/sidecar"
	configFile = "daemon.json"
)

// Config is the resolved daemon configuration.
type Config struct {
	PollInterval     time.Duration
	CaptureLines     int
	StateDir         string // empty = resolve from the environment
	AutoApproveMode  string // off | rules | ai | hybrid
	AutoApproveModel string // model passed to the judgment CLI
	AutoApproveCommand string // override binary for the judgment CLI
	ExfilEnabled     bool
	AuditRotateBytes int64
	WebPort          int
}

// rawConfig is the JSON-unmarshaling intermediary. Pointer fields
// distinguish "absent" from zero values.
type rawConfig struct {
	PollInterval     string `json:"pollInterval"`
	CaptureLines     *int   `json:"captureLines"`
	StateDir         string `json:"stateDir"`
	AutoApproveMode  string `json:"autoApproveMode"`
	AutoApproveModel string `json:"autoApproveModel"`
	AutoApproveCommand string `json:"autoApproveCommand"`
	ExfilEnabled     *bool  `json:"exfilEnabled"`
	AuditRotateBytes *int64 `json:"auditRotateBytes"`
	WebPort          *int   `json:"webPort"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		PollInterval:     500 * time.Millisecond,
		CaptureLines:     200,
		AutoApproveMode:  "off",
		AutoApproveModel: "haiku",
		ExfilEnabled:     true,
		AuditRotateBytes: 10 * 1024 * 1024,
		WebPort:          0,
	}
}

// DefaultPath returns ~/.config/sidecar/daemon.json, or "" if the home
// directory cannot be resolved.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, configDir, configFile)
}

// Load reads the config from the default path.
func Load() (*Config, error) {
	return LoadFrom(DefaultPath())
}

// LoadFrom reads the config from path; a missing file yields the defaults
// without error, a malformed file yields the defaults plus the error.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}

	var raw rawConfig
	if err := json.Unmarshal(data, &raw); err != nil {
		slog.Warn("config: malformed file, using defaults", "path", path, "err", err)
		return cfg, err
	}

	if raw.PollInterval != "" {
		if d, err := time.ParseDuration(raw.PollInterval); err == nil && d > 0 {
			cfg.PollInterval = d
		} else {
			slog.Warn("config: invalid pollInterval, keeping default", "value", raw.PollInterval)
		}
	}
	if raw.CaptureLines != nil && *raw.CaptureLines > 0 {
		cfg.CaptureLines = *raw.CaptureLines
	}
	if raw.StateDir != "" {
		cfg.StateDir = raw.StateDir
	}
	if raw.AutoApproveMode != "" {
		cfg.AutoApproveMode = raw.AutoApproveMode
	}
	if raw.AutoApproveModel != "" {
		cfg.AutoApproveModel = raw.AutoApproveModel
	}
	if raw.AutoApproveCommand != "" {
		cfg.AutoApproveCommand = raw.AutoApproveCommand
	}
	if raw.ExfilEnabled != nil {
		cfg.ExfilEnabled = *raw.ExfilEnabled
	}
	if raw.AuditRotateBytes != nil && *raw.AuditRotateBytes > 0 {
		cfg.AuditRotateBytes = *raw.AuditRotateBytes
	}
	if raw.WebPort != nil && *raw.WebPort > 0 {
		cfg.WebPort = *raw.WebPort
	}
	return cfg, nil
}
