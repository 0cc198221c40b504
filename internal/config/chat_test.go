package config

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/randomizedcoder/go-llama-supervisor/internal/completion"
)

func TestParseChatArgs_Defaults(t *testing.T) {
	cfg, err := ParseChatArgs(nil, func(string) string { return "" }, io.Discard)
	if err != nil {
		t.Fatalf("ParseChatArgs: %v", err)
	}
	if cfg.BaseURL != "http://localhost:8089" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.Model != completion.DefaultModel {
		t.Errorf("Model = %q", cfg.Model)
	}
	if cfg.Budget != completion.DefaultRetryBudget() {
		t.Errorf("Budget = %+v", cfg.Budget)
	}
	if cfg.BackoffConfig() != nil {
		t.Error("backoff should be off by default")
	}
}

func TestParseChatArgs_APIKey(t *testing.T) {
	env := func(k string) string {
		if k == APIKeyEnv {
			return "sk-env"
		}
		return ""
	}

	cfg, err := ParseChatArgs(nil, env, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.APIKey != "sk-env" {
		t.Errorf("APIKey = %q, want key from environment", cfg.APIKey)
	}

	cfg, err = ParseChatArgs([]string{"-api-key", "sk-flag"}, env, io.Discard)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.APIKey != "sk-flag" {
		t.Errorf("APIKey = %q, flag must win", cfg.APIKey)
	}
}

func TestParseChatArgs_Flags(t *testing.T) {
	args := []string{
		"-url", "http://gpu-box:9000",
		"-endpoint", "completions",
		"-attempts", "5",
		"-call-timeout", "2s",
		"-deadline", "8s",
		"-backoff",
		"-system", "Be brief.",
	}
	cfg, err := ParseChatArgs(args, nil, io.Discard)
	if err != nil {
		t.Fatalf("ParseChatArgs: %v", err)
	}

	want := completion.RetryBudget{MaxAttempts: 5, PerCallTimeout: 2 * time.Second, OverallDeadline: 8 * time.Second}
	if cfg.Budget != want {
		t.Errorf("Budget = %+v, want %+v", cfg.Budget, want)
	}
	if cfg.Endpoint != completion.EndpointCompletions {
		t.Errorf("Endpoint = %q", cfg.Endpoint)
	}
	if cfg.BackoffConfig() == nil {
		t.Error("-backoff should enable backoff")
	}
	if cfg.SystemPrompt != "Be brief." || cfg.BaseURL != "http://gpu-box:9000" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestParseChatArgs_Invalid(t *testing.T) {
	testCases := []struct {
		name string
		args []string
		want string
	}{
		{"zero attempts", []string{"-attempts", "0"}, "budget"},
		{"bad endpoint", []string{"-endpoint", "embeddings"}, "endpoint"},
		{"bad level", []string{"-log-level", "chatty"}, "log_level"},
		{"empty url", []string{"-url", ""}, "base_url"},
		{"positional", []string{"hello"}, "unexpected"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseChatArgs(tc.args, nil, io.Discard)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}
