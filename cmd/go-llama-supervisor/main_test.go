package main

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/randomizedcoder/go-llama-supervisor/internal/config"
)

func TestPrintCommands(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ServerPath = "/opt/llama/server"
	cfg.ModelPath = "models/7B/ggml-model-q4_0.bin"
	cfg.OAIEnabled = true

	var buf bytes.Buffer
	if err := printCommands(&buf, cfg); err != nil {
		t.Fatalf("printCommands() error = %v", err)
	}

	out := buf.String()
	for _, want := range []string{
		"/opt/llama/server --model models/7B/ggml-model-q4_0.bin",
		"api_like_OAI.py --host localhost --port 8089 --llama-api http://localhost:8080",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintCommands_ServerOnly(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ModelPath = "m.gguf"

	var buf bytes.Buffer
	if err := printCommands(&buf, cfg); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "wrapper") {
		t.Errorf("wrapper printed while disabled:\n%s", buf.String())
	}
}

func TestPrintCommands_NoModel(t *testing.T) {
	var buf bytes.Buffer
	if err := printCommands(&buf, config.DefaultConfig()); err == nil {
		t.Error("printCommands() without a model should fail")
	}
}

func TestNewLogger(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.LogFile = filepath.Join(t.TempDir(), "supervisor.log")

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("hello_file")
	closeLog()

	cfg.LogFile = filepath.Join(t.TempDir(), "missing-dir", "x", "supervisor.log")
	if _, _, err := newLogger(cfg); err == nil {
		t.Error("newLogger() should fail for an unwritable log file")
	}

	cfg.LogFile = ""
	cfg.TUIEnabled = true
	logger, _, err = newLogger(cfg)
	if err != nil || logger.Enabled(t.Context(), slog.LevelError) {
		t.Error("dashboard mode without a log file should discard everything")
	}
}

func TestPrintBanner(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ModelPath = "m.gguf"
	cfg.OAIEnabled = true

	var buf bytes.Buffer
	printBanner(&buf, cfg)
	for _, want := range []string{"go-llama-supervisor", "m.gguf", "http://localhost:8080", "Wrapper:", "/metrics"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("banner missing %q", want)
		}
	}
}
