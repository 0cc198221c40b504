// Package orchestrator runs a supervised llama.cpp session: the server, the
// optional OpenAI-compatible wrapper, their output pipelines, the metrics
// endpoint and the dashboard.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/randomizedcoder/go-llama-supervisor/internal/config"
	"github.com/randomizedcoder/go-llama-supervisor/internal/coordinator"
	"github.com/randomizedcoder/go-llama-supervisor/internal/metrics"
	"github.com/randomizedcoder/go-llama-supervisor/internal/preflight"
	"github.com/randomizedcoder/go-llama-supervisor/internal/process"
	"github.com/randomizedcoder/go-llama-supervisor/internal/supervisor"
	"github.com/randomizedcoder/go-llama-supervisor/internal/tui"
)

var (
	// ErrPreflightFailed is returned by Run when a required check fails.
	ErrPreflightFailed = errors.New("preflight checks failed (use -skip-preflight to override)")

	// ErrServerExited is returned by Run when llama-server exits on its own.
	ErrServerExited = errors.New("llama-server exited")

	// ErrCheckIncomplete is returned in check mode when the run ended before
	// the wrapper answered a completion.
	ErrCheckIncomplete = errors.New("check: wrapper completion did not finish")
)

const (
	shutdownTimeout = 10 * time.Second
	statsInterval   = time.Second
	probeInterval   = 250 * time.Millisecond
)

// Options are the runtime dependencies of an Orchestrator.
type Options struct {
	Version string
	Logger  *slog.Logger

	// Out receives preflight results and the exit summary. Defaults to os.Stdout.
	Out io.Writer
}

// Orchestrator coordinates all components for one supervised session.
type Orchestrator struct {
	config    *config.Config
	logger    *slog.Logger
	out       io.Writer
	sessionID string

	server     *process.LlamaServer
	serverSpec process.Spec
	wrapper    *process.OAIWrapper

	coord         *coordinator.Coordinator
	streams       map[string]*outputStream
	recent        *recentLines
	registry      *prometheus.Registry
	metrics       *metrics.Collector
	metricsServer *metrics.Server
	scraper       *metrics.ServerScraper

	parsersWg sync.WaitGroup
	closeOnce sync.Once

	startTime time.Time
}

// New builds the process specs and wires every component. Nothing is started.
func New(cfg *config.Config, opts Options) (*Orchestrator, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	o := &Orchestrator{
		config:    cfg,
		logger:    logger,
		out:       out,
		sessionID: uuid.NewString(),
		streams:   make(map[string]*outputStream),
		recent:    newRecentLines(recentCapacity),
		registry:  prometheus.NewRegistry(),
	}

	o.server = process.NewLlamaServer(cfg.LlamaServerConfig())
	spec, err := o.server.BuildSpec()
	if err != nil {
		return nil, err
	}
	o.serverSpec = spec

	var wrapperSpec process.Spec
	if wcfg := cfg.OAIWrapperConfig(); wcfg != nil {
		o.wrapper = process.NewOAIWrapper(wcfg)
		if wrapperSpec, err = o.wrapper.BuildSpec(); err != nil {
			return nil, err
		}
	}

	o.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	o.metrics = metrics.NewCollectorWithRegistry(metrics.CollectorConfig{
		Version:   opts.Version,
		Model:     cfg.ModelPath,
		SessionID: o.sessionID,
	}, o.registry)

	o.addStream(coordinator.PrimaryName, o.server.Name())
	if o.wrapper != nil {
		o.addStream(coordinator.SecondaryName, o.wrapper.Name())
	}

	ccfg := coordinator.Config{
		Logger:      logger,
		Secondary:   wrapperSpec,
		GracePeriod: cfg.GracePeriod,
		StopTimeout: cfg.StopTimeout,
		Callbacks:   o.metrics.Callbacks(supervisor.Callbacks{OnExit: o.onExit}),
		Observers:   []supervisor.Observer{o.metrics, supervisor.ObserverFunc(o.onEvent)},
	}
	if cfg.Probe {
		ccfg.ProbeAddr = o.server.Address()
		ccfg.ProbeInterval = probeInterval
	}
	o.coord = coordinator.New(ccfg)

	if cfg.MetricsAddr != "" {
		o.metricsServer = metrics.NewServer(metrics.ServerConfig{
			Addr:     cfg.MetricsAddr,
			Logger:   logger,
			Gatherer: o.registry,
			Ready:    o.ready,
		})
	}

	if cfg.ServerMetrics {
		o.scraper = metrics.NewServerScraper(metrics.ServerScraperConfig{
			URL:        "http://" + o.server.Address() + "/metrics",
			Interval:   cfg.ServerMetricsInterval,
			WindowSize: cfg.ServerMetricsWindow,
			Logger:     logger,
			OnScrape:   o.metrics.RecordServerMetrics,
		})
	}

	return o, nil
}

// Run supervises the session. It blocks until a signal, the configured
// duration, the dashboard closing, or llama-server exiting.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.startTime = time.Now()

	if !o.config.SkipPreflight {
		result := preflight.RunAll(o.preflightOptions())
		preflight.PrintResults(o.out, result)
		if !result.Passed {
			return ErrPreflightFailed
		}
	}

	if o.metricsServer != nil {
		if err := o.metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	o.startParsers()

	o.logger.Info("session_starting",
		"session", o.sessionID,
		"model", o.config.ModelPath,
		"server", o.server.Address(),
		"wrapper", o.wrapper != nil,
	)

	if err := o.coord.Start(o.serverSpec); err != nil {
		o.shutdown()
		return fmt.Errorf("start %s: %w", o.server.Name(), err)
	}
	o.saveSettings()

	var bg sync.WaitGroup
	bg.Add(1)
	go func() {
		defer bg.Done()
		o.statsLoop(ctx)
	}()
	if o.scraper != nil {
		bg.Add(1)
		go func() {
			defer bg.Done()
			o.scraper.Run(ctx)
		}()
	}

	var smokeDone chan error
	if o.config.Check && o.wrapper != nil {
		smokeDone = make(chan error, 1)
		go func() {
			smokeDone <- o.smokeTest(ctx, o.wrapper.BaseURL(), o.wrapper.Address())
		}()
	}

	var program *tea.Program
	var tuiDone chan struct{}
	if o.config.TUIEnabled {
		program = tea.NewProgram(
			tui.New(tui.Config{Source: o, MetricsAddr: o.config.MetricsAddr}),
			tea.WithAltScreen(),
		)
		tuiDone = make(chan struct{})
		go func() {
			defer close(tuiDone)
			if _, err := program.Run(); err != nil {
				o.logger.Warn("dashboard_error", "error", err)
			}
		}()
	}

	var durationTimer <-chan time.Time
	if o.config.Duration > 0 {
		durationTimer = time.After(o.config.Duration)
	}

	var runErr error
	smokeFinished := false
	select {
	case sig := <-sigCh:
		o.logger.Info("received_signal", "signal", sig.String())
	case <-durationTimer:
		o.logger.Info("duration_elapsed", "duration", o.config.Duration.String())
	case <-tuiDone:
		o.logger.Info("dashboard_closed")
	case err := <-smokeDone:
		smokeFinished = true
		runErr = err
	case <-o.coord.Done():
		status, _ := o.coord.Primary().ExitStatus()
		runErr = fmt.Errorf("%w: %s", ErrServerExited, status)
	case <-ctx.Done():
		o.logger.Info("context_cancelled")
	}

	if program != nil {
		tui.SendQuit(program)
		<-tuiDone
	}

	cancel()
	if smokeDone != nil && !smokeFinished {
		switch err := <-smokeDone; {
		case err == nil:
		case errors.Is(err, context.Canceled):
			runErr = errors.Join(runErr, ErrCheckIncomplete)
		default:
			runErr = errors.Join(runErr, err)
		}
	}

	if err := o.shutdown(); err != nil {
		o.logger.Warn("shutdown_incomplete", "error", err)
	}
	bg.Wait()

	o.printExitSummary(runErr != nil)
	return runErr
}

// shutdown stops both processes (secondary first), drains the output
// pipelines and stops the metrics server.
func (o *Orchestrator) shutdown() error {
	err := o.coord.Stop()
	o.closeStreams()
	o.recordPipelineStats()

	if o.metricsServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if serr := o.metricsServer.Shutdown(ctx); serr != nil {
			o.logger.Warn("metrics_server_shutdown_error", "error", serr)
		}
	}
	return err
}

func (o *Orchestrator) preflightOptions() preflight.Options {
	opts := preflight.Options{
		ServerPath: o.config.ServerPath,
		ModelPath:  o.config.ModelPath,
		Ports:      []preflight.Port{{Name: "server_port", Addr: o.server.Address()}},
	}
	if o.wrapper != nil {
		opts.WrapperScript = o.config.OAIScript
		opts.Python = o.config.Python
		opts.Ports = append(opts.Ports, preflight.Port{Name: "wrapper_port", Addr: o.wrapper.Address()})
	}
	if o.config.MetricsAddr != "" {
		opts.Ports = append(opts.Ports, preflight.Port{Name: "metrics_port", Addr: o.config.MetricsAddr})
	}
	return opts
}

// saveSettings remembers the launch options for the next run.
func (o *Orchestrator) saveSettings() {
	if o.config.NoSaveSettings {
		return
	}
	path := o.config.SettingsPath
	if path == "" {
		var err error
		if path, err = config.DefaultSettingsPath(); err != nil {
			o.logger.Debug("settings_not_saved", "error", err)
			return
		}
	}
	if err := config.SaveSettings(path, config.SettingsFromConfig(o.config)); err != nil {
		o.logger.Warn("settings_save_failed", "path", path, "error", err)
		return
	}
	o.logger.Debug("settings_saved", "path", path)
}

// statsLoop periodically publishes pipeline drop statistics.
func (o *Orchestrator) statsLoop(ctx context.Context) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.recordPipelineStats()
		}
	}
}

// Callback handlers

func (o *Orchestrator) onEvent(e supervisor.Event) {
	switch e.Kind {
	case supervisor.EventLineReceived:
		if s := o.streams[e.Source]; s != nil {
			s.rate.Add(1)
			s.pipeline.FeedLine(e.Line)
		}
	case supervisor.EventWarning:
		o.logger.Warn("process_warning", "process", o.label(e.Source), "error", e.Err)
		o.recent.Add(fmt.Sprintf("[%s] warning: %v", o.label(e.Source), e.Err))
	case supervisor.EventStoppedUnexpectedly:
		o.logger.Warn("process_exited_unexpectedly",
			"process", o.label(e.Source),
			"status", e.Status.String(),
		)
	}
}

func (o *Orchestrator) onExit(name string, status process.ExitStatus, uptime time.Duration, unexpected bool) {
	msg := fmt.Sprintf("[%s] exited: %s after %s", o.label(name), describeExit(status), formatDuration(uptime))
	if unexpected {
		msg += " (unexpected)"
	}
	o.recent.Add(msg)
}

// label maps a supervisor name to the program it runs.
func (o *Orchestrator) label(name string) string {
	if s := o.streams[name]; s != nil {
		return s.label
	}
	return name
}

// SessionID returns the id of this session.
func (o *Orchestrator) SessionID() string {
	return o.sessionID
}

// Coordinator returns the process coordinator for external access.
func (o *Orchestrator) Coordinator() *coordinator.Coordinator {
	return o.coord
}

// Metrics returns the metrics collector for external access.
func (o *Orchestrator) Metrics() *metrics.Collector {
	return o.metrics
}

// Registry returns the Prometheus registry the collector is registered on.
func (o *Orchestrator) Registry() *prometheus.Registry {
	return o.registry
}
