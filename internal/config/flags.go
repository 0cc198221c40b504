package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

// argList is a custom flag type for repeatable -server-arg flags.
type argList []string

func (a *argList) String() string {
	return strings.Join(*a, " ")
}

func (a *argList) Set(value string) error {
	*a = append(*a, value)
	return nil
}

// Parsed is the result of ParseArgs.
type Parsed struct {
	Config *Config

	// Explicit holds the names of flags given on the command line.
	Explicit map[string]bool

	// SettingsLoaded reports whether stored settings were applied.
	SettingsLoaded bool
}

// ParseFlags parses os.Args and loads stored settings.
func ParseFlags() (*Parsed, error) {
	return ParseArgs(os.Args[1:], os.Stderr)
}

// ParseArgs parses command-line arguments into a Config and merges in the
// stored settings: a flag given explicitly always wins over the stored value.
// A positional argument is taken as the model path.
func ParseArgs(args []string, output io.Writer) (*Parsed, error) {
	cfg := DefaultConfig()
	fs := flag.NewFlagSet("go-llama-supervisor", flag.ContinueOnError)
	fs.SetOutput(output)
	var serverArgs argList

	fs.Usage = func() { printUsage(fs, output) }

	// llama.cpp server
	fs.StringVar(&cfg.ServerPath, "server", cfg.ServerPath, "Path to the llama.cpp server binary")
	fs.StringVar(&cfg.ModelPath, "model", cfg.ModelPath, "Model file (also accepted as the positional argument)")
	fs.IntVar(&cfg.GPULayers, "ngl", cfg.GPULayers, "Layers to offload to the GPU")
	fs.IntVar(&cfg.Threads, "threads", cfg.Threads, "CPU threads")
	fs.IntVar(&cfg.CtxSize, "ctx-size", cfg.CtxSize, "Prompt context size in tokens")
	fs.IntVar(&cfg.BatchSize, "batch-size", cfg.BatchSize, "Prompt processing batch size")
	fs.BoolVar(&cfg.MLock, "mlock", cfg.MLock, "Keep the model resident in RAM")
	fs.BoolVar(&cfg.LowVRAM, "low-vram", cfg.LowVRAM, "Do not allocate a VRAM scratch buffer")
	fs.StringVar(&cfg.LoraPath, "lora", cfg.LoraPath, "LoRA adapter to apply")
	fs.StringVar(&cfg.LoraBasePath, "lora-base", cfg.LoraBasePath, "Base model for the LoRA adapter (only used with -lora)")
	fs.StringVar(&cfg.Host, "host", cfg.Host, "Listen host for the server and wrapper")
	fs.IntVar(&cfg.Port, "port", cfg.Port, "Server listen port")
	fs.StringVar(&cfg.PublicPath, "path", cfg.PublicPath, `Static web UI directory ("" to omit)`)
	fs.Var(&serverArgs, "server-arg", "Extra argument passed to the server (can repeat)")

	// Wrapper
	fs.BoolVar(&cfg.OAIEnabled, "oai", cfg.OAIEnabled, "Also run the OpenAI-compatible wrapper")
	fs.IntVar(&cfg.OAIPort, "oai-port", cfg.OAIPort, "Wrapper listen port")
	fs.StringVar(&cfg.OAIScript, "oai-script", cfg.OAIScript, "Wrapper script")
	fs.StringVar(&cfg.Python, "python", cfg.Python, "Interpreter for the wrapper script")

	// Supervision
	fs.DurationVar(&cfg.GracePeriod, "grace", cfg.GracePeriod, "Delay before starting the wrapper (upper bound with -probe)")
	fs.BoolVar(&cfg.Probe, "probe", cfg.Probe, "Start the wrapper as soon as the server port accepts connections")
	fs.DurationVar(&cfg.StopTimeout, "stop-timeout", cfg.StopTimeout, "Kill a process that ignores SIGTERM for this long (0 = wait forever)")
	fs.DurationVar(&cfg.Duration, "duration", cfg.Duration, "Stop after this long (0 = until interrupted)")

	// Observability
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, `Prometheus metrics address ("" to disable)`)
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose logging (includes all server output)")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, `Log level: "debug", "info", "warn", "error"`)
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Write logs here while the dashboard is shown")
	fs.BoolVar(&cfg.TUIEnabled, "tui", cfg.TUIEnabled, "Live terminal dashboard (use -tui=false to disable)")
	fs.BoolVar(&cfg.ServerMetrics, "server-metrics", cfg.ServerMetrics, "Enable and scrape the server's own /metrics")
	fs.DurationVar(&cfg.ServerMetricsInterval, "server-metrics-interval", cfg.ServerMetricsInterval, "Scrape interval for server metrics")
	fs.DurationVar(&cfg.ServerMetricsWindow, "server-metrics-window", cfg.ServerMetricsWindow, "Rolling window for throughput percentiles (10s-300s)")
	fs.IntVar(&cfg.OutputBufferSize, "output-buffer", cfg.OutputBufferSize, "Output lines buffered per consumer (increase if seeing drops)")
	// Hidden advanced flag
	fs.Float64Var(&cfg.OutputDropThreshold, "output-drop-threshold", cfg.OutputDropThreshold, "")

	// Diagnostics
	fs.BoolVar(&cfg.PrintCmd, "print-cmd", cfg.PrintCmd, "Print the commands and exit")
	fs.BoolVar(&cfg.Check, "check", cfg.Check, "Validate, run preflight and supervise for 30 seconds")
	fs.BoolVar(&cfg.SkipPreflight, "skip-preflight", cfg.SkipPreflight, "Skip preflight checks")

	// Settings
	fs.StringVar(&cfg.SettingsPath, "settings", cfg.SettingsPath, "Settings file (default: user config dir)")
	fs.BoolVar(&cfg.NoSaveSettings, "no-save-settings", cfg.NoSaveSettings, "Do not remember these options for the next run")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.ServerArgs = serverArgs

	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	// Positional argument: model path
	if rest := fs.Args(); len(rest) >= 1 {
		if len(rest) > 1 {
			return nil, fmt.Errorf("unexpected arguments after model path: %q", rest[1:])
		}
		cfg.ModelPath = rest[0]
		explicit["model"] = true
	}

	parsed := &Parsed{Config: cfg, Explicit: explicit}

	if cfg.SettingsPath == "" {
		path, err := DefaultSettingsPath()
		if err != nil {
			// No home or config dir: run without persisted settings.
			cfg.NoSaveSettings = true
			return parsed, nil
		}
		cfg.SettingsPath = path
	}

	stored, err := LoadSettings(cfg.SettingsPath)
	if err != nil {
		return nil, err
	}
	if stored != nil {
		stored.ApplyTo(cfg, explicit)
		parsed.SettingsLoaded = true
	}

	return parsed, nil
}

func printUsage(fs *flag.FlagSet, w io.Writer) {
	fmt.Fprintf(w, `go-llama-supervisor - run and supervise a llama.cpp server and its OpenAI-compatible wrapper

Usage:
  go-llama-supervisor [flags] [MODEL_PATH]

Server Flags:
`)
	printFlagCategory(fs, w, []string{"server", "model", "ngl", "threads", "ctx-size", "batch-size", "mlock", "low-vram", "path", "server-arg"})

	fmt.Fprintf(w, "\nLoRA:\n")
	printFlagCategory(fs, w, []string{"lora", "lora-base"})

	fmt.Fprintf(w, "\nNetwork:\n")
	printFlagCategory(fs, w, []string{"host", "port"})

	fmt.Fprintf(w, "\nOpenAI-compatible Wrapper:\n")
	printFlagCategory(fs, w, []string{"oai", "oai-port", "oai-script", "python"})

	fmt.Fprintf(w, "\nSupervision:\n")
	printFlagCategory(fs, w, []string{"grace", "probe", "stop-timeout", "duration"})

	fmt.Fprintf(w, "\nObservability:\n")
	printFlagCategory(fs, w, []string{"metrics", "v", "log-format", "log-level", "log-file", "server-metrics", "server-metrics-interval", "server-metrics-window", "output-buffer"})

	fmt.Fprintf(w, "\nDashboard:\n")
	printFlagCategory(fs, w, []string{"tui"})

	fmt.Fprintf(w, "\nDiagnostics:\n")
	printFlagCategory(fs, w, []string{"print-cmd", "check", "skip-preflight"})

	fmt.Fprintf(w, "\nSettings:\n")
	printFlagCategory(fs, w, []string{"settings", "no-save-settings"})

	fmt.Fprintf(w, `
Model, tuning numbers, host/port and wrapper options are remembered after
each successful start. Flags given on the command line override them.

Examples:
  # Serve a model on the default port
  go-llama-supervisor models/7B/ggml-model-q4_0.bin

  # Offload 35 layers and add the OpenAI-compatible wrapper
  go-llama-supervisor -ngl 35 -oai -oai-port 8089 models/13B/ggml-model-q4_0.bin

  # Show what would be run
  go-llama-supervisor -print-cmd -oai models/7B/ggml-model-q4_0.bin

`)
}

// printFlagCategory prints flags matching the given names (helper for usage).
func printFlagCategory(fs *flag.FlagSet, w io.Writer, names []string) {
	for _, name := range names {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		fmt.Fprintf(w, "  -%s %s\n    \t%s", f.Name, flagType(f), f.Usage)
		if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "0s" {
			fmt.Fprintf(w, " (default %s)", f.DefValue)
		}
		fmt.Fprintln(w)
	}
}

// flagType returns a type hint for the flag value.
func flagType(f *flag.Flag) string {
	switch f.DefValue {
	case "true", "false":
		return ""
	}

	// Check if it looks like a duration
	if strings.HasSuffix(f.DefValue, "s") || strings.HasSuffix(f.DefValue, "m") || strings.HasSuffix(f.DefValue, "h") {
		return "duration"
	}

	// Check if numeric
	if _, err := fmt.Sscanf(f.DefValue, "%d", new(int)); err == nil {
		return "int"
	}

	return "string"
}
