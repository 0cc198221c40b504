// Package config provides configuration management for go-llama-supervisor.
package config

import (
	"runtime"
	"time"

	"github.com/randomizedcoder/go-llama-supervisor/internal/process"
)

// Config holds all configuration options for the orchestrator.
type Config struct {
	// llama.cpp server
	ServerPath   string   `json:"server_path"`
	ModelPath    string   `json:"model_path"`
	GPULayers    int      `json:"gpu_layers"`
	Threads      int      `json:"threads"`
	CtxSize      int      `json:"ctx_size"`
	BatchSize    int      `json:"batch_size"`
	MLock        bool     `json:"mlock"`
	LowVRAM      bool     `json:"low_vram"`
	LoraPath     string   `json:"lora_path"`
	LoraBasePath string   `json:"lora_base_path"`
	Host         string   `json:"host"`
	Port         int      `json:"port"`
	PublicPath   string   `json:"public_path"`
	ServerArgs   []string `json:"server_args"`

	// OpenAI-compatible wrapper
	OAIEnabled bool   `json:"oai_enabled"`
	OAIPort    int    `json:"oai_port"`
	OAIScript  string `json:"oai_script"`
	Python     string `json:"python"`

	// Supervision
	GracePeriod time.Duration `json:"grace_period"`
	Probe       bool          `json:"probe"`
	StopTimeout time.Duration `json:"stop_timeout"` // 0 = wait forever
	Duration    time.Duration `json:"duration"`     // 0 = until interrupted

	// Observability
	MetricsAddr           string        `json:"metrics_addr"`
	Verbose               bool          `json:"verbose"`
	LogFormat             string        `json:"log_format"` // json, text
	LogLevel              string        `json:"log_level"`
	LogFile               string        `json:"log_file"`
	TUIEnabled            bool          `json:"tui_enabled"`
	ServerMetrics         bool          `json:"server_metrics"`
	ServerMetricsInterval time.Duration `json:"server_metrics_interval"`
	ServerMetricsWindow   time.Duration `json:"server_metrics_window"`
	OutputBufferSize      int           `json:"output_buffer_size"`
	OutputDropThreshold   float64       `json:"output_drop_threshold"`

	// Diagnostic modes
	PrintCmd      bool `json:"print_cmd"`
	Check         bool `json:"check"`
	SkipPreflight bool `json:"skip_preflight"`

	// Persisted settings
	SettingsPath   string `json:"settings_path"`
	NoSaveSettings bool   `json:"no_save_settings"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		// llama.cpp server
		ServerPath: process.DefaultServerBinary(),
		GPULayers:  0,
		Threads:    runtime.NumCPU(),
		CtxSize:    2048,
		BatchSize:  512,
		Host:       "localhost",
		Port:       8080,
		PublicPath: "./public",

		// Wrapper
		OAIEnabled: false,
		OAIPort:    8089,
		OAIScript:  "api_like_OAI.py",
		Python:     process.DefaultPython(),

		// Supervision
		GracePeriod: 10 * time.Second,
		Probe:       false,
		StopTimeout: 10 * time.Second,

		// Observability
		MetricsAddr:           "127.0.0.1:17092",
		LogFormat:             "json",
		LogLevel:              "info",
		TUIEnabled:            true,
		ServerMetrics:         true,
		ServerMetricsInterval: 2 * time.Second,
		ServerMetricsWindow:   30 * time.Second,
		OutputBufferSize:      1000,
		OutputDropThreshold:   0.01,
	}
}

// LlamaServerConfig returns the launch settings for the llama.cpp server.
func (c *Config) LlamaServerConfig() *process.LlamaServerConfig {
	return &process.LlamaServerConfig{
		BinaryPath:   c.ServerPath,
		ModelPath:    c.ModelPath,
		GPULayers:    c.GPULayers,
		Threads:      c.Threads,
		CtxSize:      c.CtxSize,
		BatchSize:    c.BatchSize,
		Host:         c.Host,
		Port:         c.Port,
		MLock:        c.MLock,
		LowVRAM:      c.LowVRAM,
		LoraPath:     c.LoraPath,
		LoraBasePath: c.LoraBasePath,
		PublicPath:   c.PublicPath,
		Metrics:      c.ServerMetrics,
		ExtraArgs:    append([]string(nil), c.ServerArgs...),
	}
}

// OAIWrapperConfig returns the launch settings for the wrapper, or nil when
// the wrapper is disabled.
func (c *Config) OAIWrapperConfig() *process.OAIWrapperConfig {
	if !c.OAIEnabled {
		return nil
	}
	w := process.DefaultOAIWrapperConfig(c.Host, c.Port)
	w.Interpreter = c.Python
	w.Script = c.OAIScript
	w.Port = c.OAIPort
	return w
}

// ApplyCheckMode modifies config for --check mode: a short verbose run
// without the dashboard that leaves stored settings untouched.
func ApplyCheckMode(cfg *Config) {
	cfg.Duration = 30 * time.Second
	cfg.Verbose = true
	cfg.TUIEnabled = false
	cfg.NoSaveSettings = true
}
