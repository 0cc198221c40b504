// Package main provides the go-llama-supervisor CLI entry point.
//
// go-llama-supervisor launches a llama.cpp HTTP server, optionally followed
// by an OpenAI-compatible wrapper script once the server is up, supervises
// both and shuts them down cleanly (wrapper first) on exit.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/randomizedcoder/go-llama-supervisor/internal/config"
	"github.com/randomizedcoder/go-llama-supervisor/internal/logging"
	"github.com/randomizedcoder/go-llama-supervisor/internal/orchestrator"
	"github.com/randomizedcoder/go-llama-supervisor/internal/process"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/go-llama-supervisor
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// Handle version flag early (before flag parsing)
	if len(os.Args) > 1 {
		arg := os.Args[1]
		if arg == "-version" || arg == "--version" || arg == "version" {
			fmt.Printf("go-llama-supervisor %s\n", version)
			return 0
		}
	}

	parsed, err := config.ParseFlags()
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		return 1
	}
	cfg := parsed.Config

	// Validate configuration
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error:\n%v\n", err)
		return 1
	}

	// Apply -check mode modifications
	if cfg.Check {
		config.ApplyCheckMode(cfg)
	}

	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening log file: %v\n", err)
		return 1
	}
	defer closeLog()
	logging.SetDefault(logger)

	if parsed.SettingsLoaded {
		logger.Debug("settings_loaded", "path", cfg.SettingsPath)
	}
	if cfg.Check {
		logger.Info("check_mode_enabled", "duration", cfg.Duration.String(), "wrapper", cfg.OAIEnabled)
	}

	// Handle -print-cmd mode
	if cfg.PrintCmd {
		if err := printCommands(os.Stdout, cfg); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	logger.Info("starting",
		"version", version,
		"server", cfg.ServerPath,
		"model", cfg.ModelPath,
		"addr", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		"wrapper", cfg.OAIEnabled,
		"metrics_addr", cfg.MetricsAddr,
	)

	if !cfg.TUIEnabled {
		printBanner(os.Stdout, cfg)
	}

	orch, err := orchestrator.New(cfg, orchestrator.Options{
		Version: version,
		Logger:  logger,
		Out:     os.Stdout,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	if err := orch.Run(context.Background()); err != nil {
		logger.Error("orchestrator_failed", "error", err)
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	return 0
}

// newLogger builds the process logger: -log-file when given, otherwise
// stderr. With the dashboard on and no log file, logs are dropped so they
// cannot corrupt the screen.
func newLogger(cfg *config.Config) (*slog.Logger, func(), error) {
	noop := func() {}
	if cfg.LogFile == "" {
		if cfg.TUIEnabled {
			return logging.Discard(), noop, nil
		}
		return logging.NewLogger(cfg.LogFormat, cfg.LogLevel, cfg.Verbose), noop, nil
	}

	f, err := logging.OpenLogFile(cfg.LogFile)
	if err != nil {
		return nil, noop, err
	}
	level := cfg.LogLevel
	if cfg.Verbose {
		level = "debug"
	}
	return logging.NewLoggerWithWriter(f, cfg.LogFormat, level), func() { f.Close() }, nil
}

// printBanner prints the startup banner.
func printBanner(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w)
	fmt.Fprintln(w, "╔═══════════════════════════════════════════════════════════════════╗")
	fmt.Fprintln(w, "║                       go-llama-supervisor                         ║")
	fmt.Fprintln(w, "║        llama.cpp server and OpenAI-compatible wrapper             ║")
	fmt.Fprintln(w, "╚═══════════════════════════════════════════════════════════════════╝")
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Model:       %s\n", cfg.ModelPath)
	fmt.Fprintf(w, "  Server:      http://%s:%d\n", cfg.Host, cfg.Port)
	if cfg.OAIEnabled {
		fmt.Fprintf(w, "  Wrapper:     http://%s:%d (after %s)\n", cfg.Host, cfg.OAIPort, cfg.GracePeriod)
	}
	if cfg.MetricsAddr != "" {
		fmt.Fprintf(w, "  Metrics:     http://%s/metrics\n", cfg.MetricsAddr)
	}
	if cfg.Duration > 0 {
		fmt.Fprintf(w, "  Duration:    %s\n", cfg.Duration)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Press Ctrl+C to stop.")
	fmt.Fprintln(w)
}

// printCommands prints the command lines that would be run.
func printCommands(w io.Writer, cfg *config.Config) error {
	server := process.NewLlamaServer(cfg.LlamaServerConfig())
	if _, err := server.BuildSpec(); err != nil {
		return err
	}
	fmt.Fprintln(w, "# llama.cpp server:")
	fmt.Fprintln(w, server.CommandString())

	if wcfg := cfg.OAIWrapperConfig(); wcfg != nil {
		spec, err := process.NewOAIWrapper(wcfg).BuildSpec()
		if err != nil {
			return err
		}
		fmt.Fprintln(w)
		fmt.Fprintf(w, "# OpenAI-compatible wrapper (started %s after the server):\n", cfg.GracePeriod)
		fmt.Fprintln(w, spec.String())
	}
	return nil
}
