package config

import (
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/randomizedcoder/go-llama-supervisor/internal/completion"
	"github.com/randomizedcoder/go-llama-supervisor/internal/logging"
)

// APIKeyEnv names the environment variable holding the API key for the chat CLI.
const APIKeyEnv = "OPENAI_API_KEY"

// ChatConfig holds the options of the chat front end.
type ChatConfig struct {
	BaseURL      string                 `json:"base_url"`
	APIKey       string                 `json:"-"`
	Model        string                 `json:"model"`
	Endpoint     completion.Endpoint    `json:"endpoint"`
	Budget       completion.RetryBudget `json:"budget"`
	Backoff      bool                   `json:"backoff"`
	SystemPrompt string                 `json:"system_prompt"`
	LogFormat    string                 `json:"log_format"`
	LogLevel     string                 `json:"log_level"`
	Verbose      bool                   `json:"verbose"`
}

// DefaultChatConfig points at the wrapper's default address.
func DefaultChatConfig() *ChatConfig {
	return &ChatConfig{
		BaseURL:   "http://localhost:8089",
		Model:     completion.DefaultModel,
		Endpoint:  completion.EndpointChat,
		Budget:    completion.DefaultRetryBudget(),
		LogFormat: "text",
		LogLevel:  "warn",
	}
}

// ParseChatArgs parses the chat CLI's arguments. getenv supplies the API key
// when -api-key is not given; pass os.Getenv.
func ParseChatArgs(args []string, getenv func(string) string, output io.Writer) (*ChatConfig, error) {
	cfg := DefaultChatConfig()
	fs := flag.NewFlagSet("go-llama-chat", flag.ContinueOnError)
	fs.SetOutput(output)

	var endpoint string
	fs.StringVar(&cfg.BaseURL, "url", cfg.BaseURL, "Base URL of the OpenAI-compatible endpoint")
	fs.StringVar(&cfg.APIKey, "api-key", "", "API key (default $"+APIKeyEnv+")")
	fs.StringVar(&cfg.Model, "model", cfg.Model, "Model name sent with each request")
	fs.StringVar(&endpoint, "endpoint", string(cfg.Endpoint), `"chat" (/v1/chat/completions) or "completions" (/v1/completions)`)
	fs.IntVar(&cfg.Budget.MaxAttempts, "attempts", cfg.Budget.MaxAttempts, "Attempts per message")
	fs.DurationVar(&cfg.Budget.PerCallTimeout, "call-timeout", cfg.Budget.PerCallTimeout, "Timeout of a single attempt")
	fs.DurationVar(&cfg.Budget.OverallDeadline, "deadline", cfg.Budget.OverallDeadline, "Total time allowed per message, retries included")
	fs.BoolVar(&cfg.Backoff, "backoff", cfg.Backoff, "Wait with exponential backoff between attempts")
	fs.StringVar(&cfg.SystemPrompt, "system", cfg.SystemPrompt, "System prompt opening the conversation")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, `Log level: "debug", "info", "warn", "error"`)
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose logging")

	fs.Usage = func() {
		fmt.Fprintf(output, "go-llama-chat - chat with an OpenAI-compatible endpoint\n\nUsage:\n  go-llama-chat [flags]\n\nFlags:\n")
		printFlagCategory(fs, output, []string{"url", "api-key", "model", "endpoint", "system"})
		fmt.Fprintf(output, "\nRetries:\n")
		printFlagCategory(fs, output, []string{"attempts", "call-timeout", "deadline", "backoff"})
		fmt.Fprintf(output, "\nLogging:\n")
		printFlagCategory(fs, output, []string{"log-format", "log-level", "v"})
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %q", fs.Args())
	}

	cfg.Endpoint = completion.Endpoint(endpoint)
	if cfg.APIKey == "" && getenv != nil {
		cfg.APIKey = getenv(APIKeyEnv)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the chat configuration.
func (c *ChatConfig) Validate() error {
	var errs []error
	if c.BaseURL == "" {
		errs = append(errs, ValidationError{Field: "base_url", Message: "must not be empty"})
	}
	if c.Model == "" {
		errs = append(errs, ValidationError{Field: "model", Message: "must not be empty"})
	}
	switch c.Endpoint {
	case completion.EndpointChat, completion.EndpointCompletions:
	default:
		errs = append(errs, ValidationError{Field: "endpoint", Message: fmt.Sprintf("must be 'chat' or 'completions' (got %q)", c.Endpoint)})
	}
	if err := c.Budget.Validate(); err != nil {
		errs = append(errs, ValidationError{Field: "budget", Message: err.Error()})
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		errs = append(errs, ValidationError{Field: "log_format", Message: fmt.Sprintf("must be 'json' or 'text' (got %q)", c.LogFormat)})
	}
	if !logging.ValidLevel(c.LogLevel) {
		errs = append(errs, ValidationError{Field: "log_level", Message: fmt.Sprintf("unknown level %q", c.LogLevel)})
	}
	return errors.Join(errs...)
}

// BackoffConfig returns the backoff to use between attempts, nil when disabled.
func (c *ChatConfig) BackoffConfig() *completion.BackoffConfig {
	if !c.Backoff {
		return nil
	}
	b := completion.DefaultBackoffConfig()
	return &b
}
