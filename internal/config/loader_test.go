package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestLoaderReloadAppliesChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeConfig(t, path, "[behaviour]\nthreshold = 70.0\n")

	l := NewLoader(path)
	defer l.Close()
	if _, err := l.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	var got *Config
	l.OnChange(func(cfg *Config) { got = cfg })

	writeConfig(t, path, "[behaviour]\nthreshold = 85.0\n")
	l.reload()

	if got == nil {
		t.Fatal("change callback not invoked")
	}
	if got.Behaviour.Threshold != 85.0 {
		t.Errorf("threshold = %v, want 85", got.Behaviour.Threshold)
	}
	if l.Config().Behaviour.Threshold != 85.0 {
		t.Errorf("Config() threshold = %v, want 85", l.Config().Behaviour.Threshold)
	}
}

func TestLoaderReloadRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeConfig(t, path, "[behaviour]\nthreshold = 70.0\n")

	l := NewLoader(path)
	defer l.Close()
	if _, err := l.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	changed := false
	var reloadErr error
	l.OnChange(func(*Config) { changed = true })
	l.OnError(func(err error) { reloadErr = err })

	// Out-of-range threshold fails validation.
	writeConfig(t, path, "[behaviour]\nthreshold = 250.0\n")
	l.reload()

	if changed {
		t.Error("change callback invoked for a rejected reload")
	}
	if reloadErr == nil {
		t.Fatal("error callback not invoked for a rejected reload")
	}
	if l.Config().Behaviour.Threshold != 70.0 {
		t.Errorf("threshold = %v, previous config should remain in effect", l.Config().Behaviour.Threshold)
	}
}

func TestLoaderReloadRejectsUnparseableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeConfig(t, path, "[behaviour]\nthreshold = 70.0\n")

	l := NewLoader(path)
	defer l.Close()
	if _, err := l.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	var reloadErr error
	l.OnError(func(err error) { reloadErr = err })

	writeConfig(t, path, "not = [valid toml\n")
	l.reload()

	if reloadErr == nil {
		t.Fatal("error callback not invoked for an unparseable file")
	}
	if l.Config().Behaviour.Threshold != 70.0 {
		t.Errorf("threshold = %v, previous config should remain in effect", l.Config().Behaviour.Threshold)
	}
}
