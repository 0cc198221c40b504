package config

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadSettings_Missing(t *testing.T) {
	s, err := LoadSettings(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("missing file should not be an error: %v", err)
	}
	if s != nil {
		t.Errorf("missing file returned %+v, want nil", s)
	}
}

func TestLoadSettings_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	if err := os.WriteFile(path, []byte("port = [unterminated"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadSettings(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestSaveLoadSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "settings.toml")
	want := &Settings{
		ModelPath:  "/models/13B/q4.bin",
		GPULayers:  40,
		Threads:    8,
		CtxSize:    4096,
		BatchSize:  256,
		MLock:      true,
		LoraPath:   "/lora/adapter.bin",
		Host:       "0.0.0.0",
		Port:       8081,
		OAIEnabled: true,
		OAIPort:    9001,
	}

	if err := SaveSettings(path, want); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `model_path = "/models/13B/q4.bin"`) {
		t.Errorf("unexpected file contents:\n%s", data)
	}

	got, err := LoadSettings(path)
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if *got != *want {
		t.Errorf("round trip = %+v, want %+v", got, want)
	}

	// No temp files left behind
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("directory has %d entries, want 1", len(entries))
	}
}

func TestSettingsApplyTo(t *testing.T) {
	s := &Settings{
		ModelPath:  "stored.bin",
		GPULayers:  0,
		Threads:    0, // zero keeps the default
		CtxSize:    1024,
		Port:       9090,
		OAIEnabled: true,
		OAIPort:    9091,
	}

	cfg := DefaultConfig()
	cfg.GPULayers = 12
	cfg.Port = 7000
	defaultThreads := cfg.Threads

	s.ApplyTo(cfg, map[string]bool{"port": true})

	if cfg.ModelPath != "stored.bin" {
		t.Errorf("ModelPath = %q", cfg.ModelPath)
	}
	if cfg.GPULayers != 0 {
		t.Errorf("GPULayers = %d, stored zero layers should apply", cfg.GPULayers)
	}
	if cfg.Threads != defaultThreads {
		t.Errorf("Threads = %d, want default %d", cfg.Threads, defaultThreads)
	}
	if cfg.CtxSize != 1024 {
		t.Errorf("CtxSize = %d, want 1024", cfg.CtxSize)
	}
	if cfg.Port != 7000 {
		t.Errorf("Port = %d, explicit flag must win", cfg.Port)
	}
	if !cfg.OAIEnabled || cfg.OAIPort != 9091 {
		t.Errorf("wrapper = %v/%d", cfg.OAIEnabled, cfg.OAIPort)
	}

	var nilSettings *Settings
	nilSettings.ApplyTo(cfg, nil) // must not panic
}

func TestParseArgs_StoredSettings(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	stored := SettingsFromConfig(DefaultConfig())
	stored.ModelPath = "stored.bin"
	stored.GPULayers = 33
	stored.Port = 8181
	if err := SaveSettings(path, stored); err != nil {
		t.Fatal(err)
	}

	p, err := ParseArgs([]string{"-settings", path, "-port", "8282"}, io.Discard)
	if err != nil {
		t.Fatalf("ParseArgs: %v", err)
	}
	if !p.SettingsLoaded {
		t.Error("SettingsLoaded = false")
	}
	if p.Config.ModelPath != "stored.bin" || p.Config.GPULayers != 33 {
		t.Errorf("stored values not applied: %+v", p.Config)
	}
	if p.Config.Port != 8282 {
		t.Errorf("Port = %d, command line must win", p.Config.Port)
	}

	p, err = ParseArgs([]string{"-settings", path, "other.bin"}, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if p.Config.ModelPath != "other.bin" {
		t.Errorf("positional model must win, got %q", p.Config.ModelPath)
	}
}

func TestSettingsFromConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModelPath = "m.bin"
	cfg.LowVRAM = true
	cfg.LoraBasePath = "base.bin"

	s := SettingsFromConfig(cfg)
	if s.ModelPath != "m.bin" || !s.LowVRAM || s.LoraBasePath != "base.bin" || s.Port != cfg.Port {
		t.Errorf("SettingsFromConfig = %+v", s)
	}
}
