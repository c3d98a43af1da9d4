package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestLoadTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
version = 1

[server]
listen_addr = "0.0.0.0:9000"
session_secret = "test-secret"
session_ttl_min = 30

[behaviour]
threshold = 80.0
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ListenAddr != "0.0.0.0:9000" {
		t.Errorf("listen_addr = %q, want 0.0.0.0:9000", cfg.Server.ListenAddr)
	}
	if cfg.Behaviour.Threshold != 80.0 {
		t.Errorf("threshold = %v, want 80", cfg.Behaviour.Threshold)
	}
	// Untouched sections keep their defaults.
	if cfg.Behaviour.TempoRatioMax != 1.6 {
		t.Errorf("tempo_ratio_max = %v, want default 1.6", cfg.Behaviour.TempoRatioMax)
	}
	if cfg.Security.LoginBurst != 5 {
		t.Errorf("login_burst = %v, want default 5", cfg.Security.LoginBurst)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
version: 1
server:
  listen_addr: "127.0.0.1:9100"
behaviour:
  threshold: 68.5
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ListenAddr != "127.0.0.1:9100" {
		t.Errorf("listen_addr = %q, want 127.0.0.1:9100", cfg.Server.ListenAddr)
	}
	if cfg.Behaviour.Threshold != 68.5 {
		t.Errorf("threshold = %v, want 68.5", cfg.Behaviour.Threshold)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[behaviour]
threshold = 250.0
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Load accepted a threshold outside [0,100]")
	}
}

func TestLoadRejectsBadWeights(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[behaviour.weights_precise]
dwell = 0.9
flight = 0.9
total = 0.1
speed = 0.1
length = 0.1
error = 0.1
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Load accepted weights that do not sum to 1")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TYPESHIELD_LISTEN_ADDR", "10.0.0.1:80")
	t.Setenv("TYPESHIELD_BEHAVIOUR_THRESHOLD", "82.5")
	t.Setenv("TYPESHIELD_LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.ListenAddr != "10.0.0.1:80" {
		t.Errorf("listen_addr = %q, want env override", cfg.Server.ListenAddr)
	}
	if cfg.Behaviour.Threshold != 82.5 {
		t.Errorf("threshold = %v, want env override 82.5", cfg.Behaviour.Threshold)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Error("Load succeeded on a missing file")
	}
}
