// Package metrics provides Prometheus metrics for go-llama-supervisor.
//
// Metrics are organized into three groups:
//   - Process: lifecycle and output counters per supervised process
//   - Completion: attempt and request outcomes of the completion client
//   - Server: gauges mirrored from llama-server's own /metrics (see ServerScraper)
package metrics

import (
	"slices"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/randomizedcoder/go-llama-supervisor/internal/process"
	"github.com/randomizedcoder/go-llama-supervisor/internal/supervisor"
)

// allStates is every supervisor state, for the one-hot state gauge.
var allStates = []supervisor.State{
	supervisor.StateIdle,
	supervisor.StateStarting,
	supervisor.StateRunning,
	supervisor.StateStopping,
	supervisor.StateStopped,
}

// Collector manages all Prometheus metrics for one supervised session.
//
// It is a supervisor.Observer, provides supervisor callbacks through
// Callbacks, and implements completion.Recorder.
type Collector struct {
	info *prometheus.GaugeVec

	// Process
	processState     *prometheus.GaugeVec
	processStarts    *prometheus.CounterVec
	processExits     *prometheus.CounterVec
	unexpectedExits  *prometheus.CounterVec
	processUptime    *prometheus.HistogramVec
	outputLines      *prometheus.CounterVec
	warnings         *prometheus.CounterVec
	processReady     *prometheus.GaugeVec
	pipelineDropped  *prometheus.CounterVec
	pipelineDropRate *prometheus.GaugeVec

	// Completion
	completionAttempts        *prometheus.CounterVec
	completionAttemptDuration *prometheus.HistogramVec
	completionRequests        *prometheus.CounterVec
	completionDuration        prometheus.Histogram
	completionAttemptsPerReq  prometheus.Histogram

	// Server
	serverPromptTokensPerSec    prometheus.Gauge
	serverPredictedTokensPerSec prometheus.Gauge
	serverPredictedP50          prometheus.Gauge
	serverPromptTokensTotal     prometheus.Gauge
	serverPredictedTokensTotal  prometheus.Gauge
	serverRequestsProcessing    prometheus.Gauge
	serverRequestsDeferred      prometheus.Gauge
	serverKVCacheUsage          prometheus.Gauge
	serverScrapeHealthy         prometheus.Gauge

	startTime time.Time

	// Internal tracking for delta calculations and the summary
	mu             sync.Mutex
	prevDropped    map[string]int64
	starts         map[string]int64
	unexpected     map[string]int64
	lastExit       map[string]process.ExitStatus
	uptimes        []time.Duration
	completions    map[string]int64
	completionTime []time.Duration
}

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	Version   string
	Model     string
	SessionID string
}

// NewCollector creates a new metrics collector on the default registry.
func NewCollector(cfg CollectorConfig) *Collector {
	return NewCollectorWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector with a custom registry.
// Useful for testing.
func NewCollectorWithRegistry(cfg CollectorConfig, registry prometheus.Registerer) *Collector {
	c := &Collector{
		info: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "llama_supervisor_info",
			Help: "Information about the supervised session (value always 1)",
		}, []string{"version", "model", "session"}),

		// --- Process ---
		processState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "llama_supervisor_process_state",
			Help: "Current supervisor state per process (1 for the active state)",
		}, []string{"process", "state"}),
		processStarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llama_supervisor_process_starts_total",
			Help: "Processes successfully spawned",
		}, []string{"process"}),
		processExits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llama_supervisor_process_exits_total",
			Help: "Process exits by category (success, error, signal)",
		}, []string{"process", "category"}),
		unexpectedExits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llama_supervisor_unexpected_exits_total",
			Help: "Process exits not requested by Stop",
		}, []string{"process"}),
		processUptime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llama_supervisor_process_uptime_seconds",
			Help:    "Process uptime at exit",
			Buckets: []float64{1, 5, 10, 30, 60, 300, 900, 3600, 14400, 86400},
		}, []string{"process"}),
		outputLines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llama_supervisor_output_lines_total",
			Help: "Sanitized output lines received",
		}, []string{"process"}),
		warnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llama_supervisor_warnings_total",
			Help: "Non-fatal warnings (e.g. secondary failed to spawn)",
		}, []string{"process"}),
		processReady: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "llama_supervisor_process_ready",
			Help: "1 once a readiness marker was seen in the process output",
		}, []string{"process"}),
		pipelineDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llama_supervisor_pipeline_lines_dropped_total",
			Help: "Output lines dropped by a slow consumer pipeline",
		}, []string{"pipeline"}),
		pipelineDropRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "llama_supervisor_pipeline_drop_rate",
			Help: "Fraction of output lines dropped by a pipeline (0.0 to 1.0)",
		}, []string{"pipeline"}),

		// --- Completion ---
		completionAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llama_completion_attempts_total",
			Help: "Completion HTTP attempts by outcome",
		}, []string{"outcome"}),
		completionAttemptDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "llama_completion_attempt_duration_seconds",
			Help:    "Duration of a single completion attempt",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"outcome"}),
		completionRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llama_completion_requests_total",
			Help: "Completion calls by final outcome",
		}, []string{"outcome"}),
		completionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "llama_completion_duration_seconds",
			Help:    "Wall time of a completion call including retries",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		completionAttemptsPerReq: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "llama_completion_attempts_per_request",
			Help:    "Attempts used per completion call",
			Buckets: []float64{1, 2, 3, 5, 8},
		}),

		// --- Server ---
		serverPromptTokensPerSec: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "llama_server_prompt_tokens_per_second",
			Help: "Prompt processing throughput reported by llama-server",
		}),
		serverPredictedTokensPerSec: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "llama_server_predicted_tokens_per_second",
			Help: "Generation throughput reported by llama-server",
		}),
		serverPredictedP50: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "llama_server_predicted_tokens_per_second_p50",
			Help: "Median generation throughput over the scraper's rolling window",
		}),
		serverPromptTokensTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "llama_server_prompt_tokens",
			Help: "Prompt tokens processed by llama-server since it started",
		}),
		serverPredictedTokensTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "llama_server_predicted_tokens",
			Help: "Tokens generated by llama-server since it started",
		}),
		serverRequestsProcessing: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "llama_server_requests_processing",
			Help: "Requests currently being processed by llama-server",
		}),
		serverRequestsDeferred: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "llama_server_requests_deferred",
			Help: "Requests deferred by llama-server",
		}),
		serverKVCacheUsage: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "llama_server_kv_cache_usage_ratio",
			Help: "KV cache usage reported by llama-server (0.0 to 1.0)",
		}),
		serverScrapeHealthy: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "llama_server_scrape_healthy",
			Help: "1 if the last scrape of llama-server /metrics succeeded",
		}),

		startTime:   time.Now(),
		prevDropped: make(map[string]int64),
		starts:      make(map[string]int64),
		unexpected:  make(map[string]int64),
		lastExit:    make(map[string]process.ExitStatus),
		completions: make(map[string]int64),
	}

	registry.MustRegister(
		c.info,

		c.processState,
		c.processStarts,
		c.processExits,
		c.unexpectedExits,
		c.processUptime,
		c.outputLines,
		c.warnings,
		c.processReady,
		c.pipelineDropped,
		c.pipelineDropRate,

		c.completionAttempts,
		c.completionAttemptDuration,
		c.completionRequests,
		c.completionDuration,
		c.completionAttemptsPerReq,

		c.serverPromptTokensPerSec,
		c.serverPredictedTokensPerSec,
		c.serverPredictedP50,
		c.serverPromptTokensTotal,
		c.serverPredictedTokensTotal,
		c.serverRequestsProcessing,
		c.serverRequestsDeferred,
		c.serverKVCacheUsage,
		c.serverScrapeHealthy,
	)

	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	c.info.WithLabelValues(version, cfg.Model, cfg.SessionID).Set(1)

	return c
}

// =============================================================================
// Supervisor Hooks
// =============================================================================

// OnEvent implements supervisor.Observer.
func (c *Collector) OnEvent(e supervisor.Event) {
	switch e.Kind {
	case supervisor.EventLineReceived:
		c.outputLines.WithLabelValues(e.Source).Inc()
	case supervisor.EventWarning:
		c.warnings.WithLabelValues(e.Source).Inc()
	case supervisor.EventStoppedUnexpectedly:
		c.unexpectedExits.WithLabelValues(e.Source).Inc()
		c.mu.Lock()
		c.unexpected[e.Source]++
		c.mu.Unlock()
	}
}

// Callbacks returns supervisor callbacks feeding this collector, chained
// in front of next.
func (c *Collector) Callbacks(next supervisor.Callbacks) supervisor.Callbacks {
	return supervisor.Callbacks{
		OnStateChange: func(name string, oldState, newState supervisor.State) {
			c.RecordState(name, newState)
			if next.OnStateChange != nil {
				next.OnStateChange(name, oldState, newState)
			}
		},
		OnStart: func(name string, pid int) {
			c.ProcessStarted(name)
			if next.OnStart != nil {
				next.OnStart(name, pid)
			}
		},
		OnExit: func(name string, status process.ExitStatus, uptime time.Duration, unexpected bool) {
			c.RecordExit(name, status, uptime)
			if next.OnExit != nil {
				next.OnExit(name, status, uptime, unexpected)
			}
		},
	}
}

// RecordState sets the one-hot state gauge for a process.
func (c *Collector) RecordState(name string, state supervisor.State) {
	for _, s := range allStates {
		v := 0.0
		if s == state {
			v = 1
		}
		c.processState.WithLabelValues(name, s.String()).Set(v)
	}
}

// ProcessStarted records a successful spawn.
func (c *Collector) ProcessStarted(name string) {
	c.processStarts.WithLabelValues(name).Inc()

	c.mu.Lock()
	c.starts[name]++
	c.mu.Unlock()
}

// RecordExit records a process exit.
func (c *Collector) RecordExit(name string, status process.ExitStatus, uptime time.Duration) {
	c.processExits.WithLabelValues(name, exitCategory(status)).Inc()
	c.processUptime.WithLabelValues(name).Observe(uptime.Seconds())
	c.processReady.WithLabelValues(name).Set(0)

	c.mu.Lock()
	c.lastExit[name] = status
	c.uptimes = append(c.uptimes, uptime)
	c.mu.Unlock()
}

// SetReady records whether a readiness marker has been seen.
func (c *Collector) SetReady(name string, ready bool) {
	v := 0.0
	if ready {
		v = 1
	}
	c.processReady.WithLabelValues(name).Set(v)
}

// RecordPipelineStats records the cumulative drop count of a pipeline.
// Only the increase since the previous call is added to the counter.
func (c *Collector) RecordPipelineStats(pipeline string, dropped int64, dropRate float64) {
	c.mu.Lock()
	delta := dropped - c.prevDropped[pipeline]
	if delta > 0 {
		c.prevDropped[pipeline] = dropped
	}
	c.mu.Unlock()

	if delta > 0 {
		c.pipelineDropped.WithLabelValues(pipeline).Add(float64(delta))
	}
	c.pipelineDropRate.WithLabelValues(pipeline).Set(dropRate)
}

func exitCategory(status process.ExitStatus) string {
	switch {
	case status.Success():
		return "success"
	case status.Signaled():
		return "signal"
	default:
		return "error"
	}
}

// =============================================================================
// Completion Recorder
// =============================================================================

// RecordCompletionAttempt records one HTTP attempt.
func (c *Collector) RecordCompletionAttempt(outcome string, duration time.Duration) {
	c.completionAttempts.WithLabelValues(outcome).Inc()
	c.completionAttemptDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordCompletion records the final outcome of a completion call.
func (c *Collector) RecordCompletion(outcome string, attempts int, duration time.Duration) {
	c.completionRequests.WithLabelValues(outcome).Inc()
	c.completionDuration.Observe(duration.Seconds())
	c.completionAttemptsPerReq.Observe(float64(attempts))

	c.mu.Lock()
	c.completions[outcome]++
	c.completionTime = append(c.completionTime, duration)
	c.mu.Unlock()
}

// =============================================================================
// Server Metrics
// =============================================================================

// RecordServerMetrics mirrors a ServerScraper snapshot into gauges.
func (c *Collector) RecordServerMetrics(m *ServerMetrics) {
	if m == nil {
		return
	}
	if !m.Healthy {
		c.serverScrapeHealthy.Set(0)
		return
	}
	c.serverScrapeHealthy.Set(1)
	c.serverPromptTokensPerSec.Set(m.PromptTokensPerSec)
	c.serverPredictedTokensPerSec.Set(m.PredictedTokensPerSec)
	c.serverPredictedP50.Set(m.PredictedP50)
	c.serverPromptTokensTotal.Set(m.PromptTokensTotal)
	c.serverPredictedTokensTotal.Set(m.PredictedTokensTotal)
	c.serverRequestsProcessing.Set(m.RequestsProcessing)
	c.serverRequestsDeferred.Set(m.RequestsDeferred)
	c.serverKVCacheUsage.Set(m.KVCacheUsage)
}

// =============================================================================
// Summary Generation
// =============================================================================

// Summary holds the data for generating an exit summary.
type Summary struct {
	Duration        time.Duration
	Starts          map[string]int64
	UnexpectedExits map[string]int64
	LastExit        map[string]process.ExitStatus
	UptimeP50       time.Duration
	UptimeMax       time.Duration

	Completions     map[string]int64
	CompletionP50   time.Duration
	CompletionP95   time.Duration
	CompletionCalls int
}

// GenerateSummary creates a summary of the session.
func (c *Collector) GenerateSummary() *Summary {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &Summary{
		Duration:        time.Since(c.startTime),
		Starts:          copyCounts(c.starts),
		UnexpectedExits: copyCounts(c.unexpected),
		LastExit:        make(map[string]process.ExitStatus, len(c.lastExit)),
		Completions:     copyCounts(c.completions),
		CompletionCalls: len(c.completionTime),
	}
	for name, status := range c.lastExit {
		s.LastExit[name] = status
	}

	if len(c.uptimes) > 0 {
		sorted := slices.Clone(c.uptimes)
		slices.Sort(sorted)
		s.UptimeP50 = percentile(sorted, 0.50)
		s.UptimeMax = sorted[len(sorted)-1]
	}
	if len(c.completionTime) > 0 {
		sorted := slices.Clone(c.completionTime)
		slices.Sort(sorted)
		s.CompletionP50 = percentile(sorted, 0.50)
		s.CompletionP95 = percentile(sorted, 0.95)
	}

	return s
}

// TotalStarts returns the number of spawns across all processes.
func (c *Collector) TotalStarts() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int64
	for _, v := range c.starts {
		n += v
	}
	return n
}

// =============================================================================
// Helper Functions
// =============================================================================

func copyCounts(m map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// percentile returns the value at the given percentile (0.0-1.0).
func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// Ensure Collector implements supervisor.Observer
var _ supervisor.Observer = (*Collector)(nil)
