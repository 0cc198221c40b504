package config

import (
	"errors"
	"flag"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// parseNoSettings parses args with a settings path that does not exist.
func parseNoSettings(t *testing.T, args ...string) *Parsed {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.toml")
	p, err := ParseArgs(append([]string{"-settings", path}, args...), io.Discard)
	if err != nil {
		t.Fatalf("ParseArgs(%v) error: %v", args, err)
	}
	return p
}

func TestArgList(t *testing.T) {
	var a argList
	if a.String() != "" {
		t.Errorf("empty String() = %q", a.String())
	}
	_ = a.Set("--no-mmap")
	_ = a.Set("--numa")
	if len(a) != 2 || a[1] != "--numa" {
		t.Errorf("after Set: %v", a)
	}
	if a.String() != "--no-mmap --numa" {
		t.Errorf("String() = %q", a.String())
	}
}

func TestFlagType(t *testing.T) {
	testCases := []struct {
		name     string
		defValue string
		expected string
	}{
		{"bool true", "true", ""},
		{"bool false", "false", ""},
		{"int", "42", "int"},
		{"string", "hello", "string"},
		{"duration seconds", "5s", "duration"},
		{"duration minutes", "5m", "duration"},
		{"duration hours", "1h", "duration"},
		{"float", "3.14", "int"}, // Sscanf parses "3" then stops at decimal
		{"empty", "", "string"},
		{"zero", "0", "int"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := &flag.Flag{DefValue: tc.defValue}
			if got := flagType(f); got != tc.expected {
				t.Errorf("flagType(%q) = %q, want %q", tc.defValue, got, tc.expected)
			}
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Host != "localhost" || cfg.Port != 8080 {
		t.Errorf("listen = %s:%d, want localhost:8080", cfg.Host, cfg.Port)
	}
	if cfg.OAIPort != 8089 {
		t.Errorf("OAIPort = %d, want 8089", cfg.OAIPort)
	}
	if cfg.OAIEnabled {
		t.Error("wrapper should be off by default")
	}
	if cfg.GracePeriod != 10*time.Second {
		t.Errorf("GracePeriod = %v, want 10s", cfg.GracePeriod)
	}
	if cfg.StopTimeout != 10*time.Second {
		t.Errorf("StopTimeout = %v, want 10s", cfg.StopTimeout)
	}
	if cfg.CtxSize != 2048 || cfg.BatchSize != 512 {
		t.Errorf("ctx/batch = %d/%d, want 2048/512", cfg.CtxSize, cfg.BatchSize)
	}
	if cfg.Threads < 1 {
		t.Errorf("Threads = %d, want >= 1", cfg.Threads)
	}
	if !cfg.TUIEnabled {
		t.Error("TUIEnabled should be true by default")
	}
	if cfg.MetricsAddr != "127.0.0.1:17092" {
		t.Errorf("MetricsAddr = %q", cfg.MetricsAddr)
	}
	if cfg.ServerPath == "" || cfg.Python == "" {
		t.Error("binary defaults must not be empty")
	}
}

func TestParseArgs_PositionalModel(t *testing.T) {
	p := parseNoSettings(t, "-ngl", "35", "models/7B/q4.bin")

	if p.Config.ModelPath != "models/7B/q4.bin" {
		t.Errorf("ModelPath = %q", p.Config.ModelPath)
	}
	if p.Config.GPULayers != 35 {
		t.Errorf("GPULayers = %d, want 35", p.Config.GPULayers)
	}
	if !p.Explicit["model"] || !p.Explicit["ngl"] {
		t.Errorf("Explicit = %v, want model and ngl", p.Explicit)
	}
	if p.Explicit["port"] {
		t.Error("port was not given")
	}
	if p.SettingsLoaded {
		t.Error("no settings file exists")
	}
}

func TestParseArgs_ExtraPositional(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	_, err := ParseArgs([]string{"-settings", path, "a.bin", "b.bin"}, io.Discard)
	if err == nil {
		t.Fatal("expected error for two positional arguments")
	}
}

func TestParseArgs_ServerArgsRepeat(t *testing.T) {
	p := parseNoSettings(t, "-server-arg", "--no-mmap", "-server-arg", "--numa", "-model", "m.bin")

	got := p.Config.ServerArgs
	if len(got) != 2 || got[0] != "--no-mmap" || got[1] != "--numa" {
		t.Errorf("ServerArgs = %v", got)
	}
}

func TestParseArgs_UnknownFlag(t *testing.T) {
	_, err := ParseArgs([]string{"-no-such-flag"}, io.Discard)
	if err == nil {
		t.Fatal("expected error for unknown flag")
	}
}

func TestParseArgs_Help(t *testing.T) {
	var out strings.Builder
	_, err := ParseArgs([]string{"-h"}, &out)
	if !errors.Is(err, flag.ErrHelp) {
		t.Fatalf("err = %v, want flag.ErrHelp", err)
	}
	for _, want := range []string{"Server Flags:", "-ngl", "OpenAI-compatible Wrapper:", "-stop-timeout"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("usage missing %q", want)
		}
	}
	if strings.Contains(out.String(), "output-drop-threshold") {
		t.Error("hidden flag shown in usage")
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModelPath = "models/7B/q4.bin"

	if err := Validate(cfg); err != nil {
		t.Errorf("Valid config returned error: %v", err)
	}
}

func TestValidate_Fields(t *testing.T) {
	testCases := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"missing model", func(c *Config) { c.ModelPath = "" }, "model_path"},
		{"zero threads", func(c *Config) { c.Threads = 0 }, "threads"},
		{"zero ctx", func(c *Config) { c.CtxSize = 0 }, "ctx_size"},
		{"zero batch", func(c *Config) { c.BatchSize = 0 }, "batch_size"},
		{"negative ngl", func(c *Config) { c.GPULayers = -1 }, "gpu_layers"},
		{"lora base without lora", func(c *Config) { c.LoraBasePath = "base.bin" }, "lora_base_path"},
		{"port zero", func(c *Config) { c.Port = 0 }, "port"},
		{"port too high", func(c *Config) { c.Port = 70000 }, "port"},
		{"oai port clash", func(c *Config) { c.OAIEnabled = true; c.OAIPort = c.Port }, "oai_port"},
		{"oai port invalid", func(c *Config) { c.OAIEnabled = true; c.OAIPort = -1 }, "oai_port"},
		{"zero grace", func(c *Config) { c.GracePeriod = 0 }, "grace_period"},
		{"negative stop timeout", func(c *Config) { c.StopTimeout = -time.Second }, "stop_timeout"},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }, "log_format"},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"zero output buffer", func(c *Config) { c.OutputBufferSize = 0 }, "output_buffer_size"},
		{"drop threshold above one", func(c *Config) { c.OutputDropThreshold = 1.5 }, "output_drop_threshold"},
		{"window too small", func(c *Config) { c.ServerMetricsWindow = 5 * time.Second }, "server_metrics_window"},
		{"window too large", func(c *Config) { c.ServerMetricsWindow = 10 * time.Minute }, "server_metrics_window"},
		{"window under twice interval", func(c *Config) {
			c.ServerMetricsInterval = 10 * time.Second
			c.ServerMetricsWindow = 15 * time.Second
		}, "server_metrics_window"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.ModelPath = "m.bin"
			tc.modify(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.field) {
				t.Errorf("error %q does not name %q", err, tc.field)
			}
		})
	}
}

func TestValidate_WrapperPortIgnoredWhenDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModelPath = "m.bin"
	cfg.OAIPort = cfg.Port

	if err := Validate(cfg); err != nil {
		t.Errorf("disabled wrapper should not be validated: %v", err)
	}
}

func TestValidate_ServerMetricsDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModelPath = "m.bin"
	cfg.ServerMetrics = false
	cfg.ServerMetricsWindow = time.Second

	if err := Validate(cfg); err != nil {
		t.Errorf("window should not be checked with scraping off: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModelPath = ""
	cfg.Threads = 0
	cfg.LogFormat = "invalid"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected errors")
	}

	var ve ValidationError
	if !errors.As(err, &ve) {
		t.Errorf("joined error should contain a ValidationError: %v", err)
	}
	for _, field := range []string{"model_path", "threads", "log_format"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error missing %q: %v", field, err)
		}
	}
}

func TestLlamaServerConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ModelPath = "m.bin"
	cfg.GPULayers = 20
	cfg.ServerArgs = []string{"--numa"}

	sc := cfg.LlamaServerConfig()
	if sc.ModelPath != "m.bin" || sc.GPULayers != 20 || sc.Port != cfg.Port {
		t.Errorf("LlamaServerConfig = %+v", sc)
	}

	sc.ExtraArgs[0] = "changed"
	if cfg.ServerArgs[0] != "--numa" {
		t.Error("ExtraArgs must not alias Config.ServerArgs")
	}
}

func TestOAIWrapperConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.OAIWrapperConfig() != nil {
		t.Error("disabled wrapper should return nil")
	}

	cfg.OAIEnabled = true
	cfg.OAIPort = 9000
	cfg.Python = "python3.11"
	w := cfg.OAIWrapperConfig()
	if w == nil {
		t.Fatal("enabled wrapper returned nil")
	}
	if w.Port != 9000 || w.Interpreter != "python3.11" || w.Script != cfg.OAIScript {
		t.Errorf("OAIWrapperConfig = %+v", w)
	}
}

func TestApplyCheckMode(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Verbose = false

	ApplyCheckMode(cfg)

	if !cfg.Verbose {
		t.Error("Check mode should enable verbose")
	}
	if cfg.Duration != 30*time.Second {
		t.Errorf("Check mode should set duration=30s, got %v", cfg.Duration)
	}
	if cfg.TUIEnabled {
		t.Error("Check mode should disable the dashboard")
	}
	if !cfg.NoSaveSettings {
		t.Error("Check mode should not save settings")
	}
}

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{
		Field:   "test_field",
		Message: "test message",
	}

	errStr := err.Error()
	if errStr != "test_field: test message" {
		t.Errorf("Error string = %q, want %q", errStr, "test_field: test message")
	}
}
