package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/randomizedcoder/go-llama-supervisor/internal/logging"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or an error describing every problem found.
func Validate(cfg *Config) error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if cfg.ModelPath == "" {
		add("model_path", "a model file is required (positional argument or -model)")
	}
	if cfg.ServerPath == "" {
		add("server_path", "must not be empty")
	}

	if cfg.Threads < 1 {
		add("threads", "must be at least 1")
	}
	if cfg.CtxSize < 1 {
		add("ctx_size", "must be at least 1")
	}
	if cfg.BatchSize < 1 {
		add("batch_size", "must be at least 1")
	}
	if cfg.GPULayers < 0 {
		add("gpu_layers", "must not be negative")
	}
	if cfg.LoraBasePath != "" && cfg.LoraPath == "" {
		add("lora_base_path", "requires -lora")
	}

	if cfg.Host == "" {
		add("host", "must not be empty")
	}
	if err := validatePort(cfg.Port); err != nil {
		add("port", "%v", err)
	}
	if cfg.OAIEnabled {
		if err := validatePort(cfg.OAIPort); err != nil {
			add("oai_port", "%v", err)
		} else if cfg.OAIPort == cfg.Port {
			add("oai_port", "must differ from the server port (%d)", cfg.Port)
		}
		if cfg.OAIScript == "" {
			add("oai_script", "must not be empty")
		}
		if cfg.Python == "" {
			add("python", "must not be empty")
		}
	}

	if cfg.GracePeriod <= 0 {
		add("grace_period", "must be positive")
	}
	if cfg.StopTimeout < 0 {
		add("stop_timeout", "must not be negative")
	}
	if cfg.Duration < 0 {
		add("duration", "must not be negative")
	}

	// Log format must be valid
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		add("log_format", "must be 'json' or 'text' (got %q)", cfg.LogFormat)
	}
	if !logging.ValidLevel(cfg.LogLevel) {
		add("log_level", "must be debug, info, warn or error (got %q)", cfg.LogLevel)
	}

	if cfg.OutputBufferSize < 1 {
		add("output_buffer_size", "must be at least 1")
	}
	if cfg.OutputDropThreshold <= 0 || cfg.OutputDropThreshold > 1 {
		add("output_drop_threshold", "must be in (0, 1] (got %v)", cfg.OutputDropThreshold)
	}

	// Server metrics window validation (if server metrics are enabled)
	if cfg.ServerMetrics {
		const minWindow = 10 * time.Second
		const maxWindow = 300 * time.Second
		if cfg.ServerMetricsInterval <= 0 {
			add("server_metrics_interval", "must be positive")
		}
		if cfg.ServerMetricsWindow < minWindow {
			add("server_metrics_window", "must be at least %v (got %v)", minWindow, cfg.ServerMetricsWindow)
		}
		if cfg.ServerMetricsWindow > maxWindow {
			add("server_metrics_window", "must be at most %v (got %v)", maxWindow, cfg.ServerMetricsWindow)
		}
		// Window should be at least 2× the scrape interval for meaningful percentiles
		if cfg.ServerMetricsWindow < 2*cfg.ServerMetricsInterval {
			add("server_metrics_window", "must be at least 2× scrape interval (%v), got %v", 2*cfg.ServerMetricsInterval, cfg.ServerMetricsWindow)
		}
	}

	// Return combined errors
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("must be between 1 and 65535 (got %d)", port)
	}
	return nil
}
