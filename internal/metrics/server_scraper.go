package metrics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/influxdata/tdigest"
	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// llama-server exports these when started with --metrics.
const (
	metricPromptTokensTotal    = "llamacpp:prompt_tokens_total"
	metricPredictedTokensTotal = "llamacpp:tokens_predicted_total"
	metricPromptTokensSeconds  = "llamacpp:prompt_tokens_seconds"
	metricPredictedSeconds     = "llamacpp:predicted_tokens_seconds"
	metricRequestsProcessing   = "llamacpp:requests_processing"
	metricRequestsDeferred     = "llamacpp:requests_deferred"
	metricKVCacheUsage         = "llamacpp:kv_cache_usage_ratio"
)

// ServerMetrics contains metrics scraped from llama-server.
type ServerMetrics struct {
	PromptTokensTotal    float64
	PredictedTokensTotal float64

	// Rates between the last two scrapes (tokens/sec).
	PromptTokensPerSec    float64
	PredictedTokensPerSec float64

	// Average throughput as reported by the server itself.
	AvgPromptTokensPerSec    float64
	AvgPredictedTokensPerSec float64

	// Rolling window over PredictedTokensPerSec, only while generating.
	PredictedP50  float64
	PredictedMax  float64
	WindowSeconds int

	RequestsProcessing float64
	RequestsDeferred   float64
	KVCacheUsage       float64

	// Metadata
	LastUpdate time.Time
	Healthy    bool
	Error      string
}

// ServerScraper polls llama-server's Prometheus endpoint.
// Uses atomic.Value for lock-free metric reads.
type ServerScraper struct {
	url        string
	interval   time.Duration
	logger     *slog.Logger
	httpClient *http.Client
	onScrape   func(*ServerMetrics)

	// Atomic storage (lock-free reads)
	metrics atomic.Value // *ServerMetrics

	// Rate calculation state, only touched by the scrape goroutine
	lastPrompt    float64
	lastPredicted float64
	lastTime      time.Time

	// Rolling window for generation throughput (using T-Digest)
	digest     *tdigest.TDigest
	samples    []rateSample
	digestMu   sync.Mutex
	windowSize time.Duration
}

// rateSample is a single throughput sample with timestamp.
type rateSample struct {
	value float64
	time  time.Time
}

// ServerScraperConfig holds configuration for a ServerScraper.
type ServerScraperConfig struct {
	// URL of llama-server's /metrics endpoint. Empty disables scraping.
	URL        string
	Interval   time.Duration
	WindowSize time.Duration
	Logger     *slog.Logger

	// OnScrape, if set, receives every new snapshot (e.g. Collector.RecordServerMetrics).
	OnScrape func(*ServerMetrics)
}

// NewServerScraper creates a new llama-server metrics scraper.
// Returns nil if the URL is empty (feature disabled).
func NewServerScraper(cfg ServerScraperConfig) *ServerScraper {
	if cfg.URL == "" {
		return nil
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	windowSize := cfg.WindowSize
	if windowSize < 10*time.Second {
		windowSize = 10 * time.Second
	}
	if windowSize > 300*time.Second {
		windowSize = 300 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &ServerScraper{
		url:      cfg.URL,
		interval: interval,
		logger:   logger,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		onScrape:   cfg.OnScrape,
		digest:     tdigest.NewWithCompression(100),
		windowSize: windowSize,
	}

	s.metrics.Store(&ServerMetrics{
		Healthy: false,
		Error:   "Not yet scraped",
	})

	return s
}

// Run scrapes until ctx is cancelled.
func (s *ServerScraper) Run(ctx context.Context) {
	if s == nil {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Scrape(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Scrape(ctx)
		}
	}
}

// Scrape performs one scrape and stores the result. The returned error is
// also recorded in the snapshot.
func (s *ServerScraper) Scrape(ctx context.Context) error {
	now := time.Now()
	next, err := s.scrape(ctx, now)
	if err != nil {
		prev := s.GetMetrics()
		next = &ServerMetrics{}
		if prev != nil {
			*next = *prev
		}
		next.Healthy = false
		next.Error = err.Error()
		next.LastUpdate = now
		s.logger.Debug("server_metrics_scrape_error", "url", s.url, "error", err)
	}

	s.metrics.Store(next)
	if s.onScrape != nil {
		s.onScrape(next)
	}
	return err
}

func (s *ServerScraper) scrape(ctx context.Context, now time.Time) (*ServerMetrics, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("http status %d", resp.StatusCode)
	}

	families, err := decodeFamilies(resp.Body)
	if err != nil {
		return nil, err
	}

	m := &ServerMetrics{
		PromptTokensTotal:        firstValue(families[metricPromptTokensTotal]),
		PredictedTokensTotal:     firstValue(families[metricPredictedTokensTotal]),
		AvgPromptTokensPerSec:    firstValue(families[metricPromptTokensSeconds]),
		AvgPredictedTokensPerSec: firstValue(families[metricPredictedSeconds]),
		RequestsProcessing:       firstValue(families[metricRequestsProcessing]),
		RequestsDeferred:         firstValue(families[metricRequestsDeferred]),
		KVCacheUsage:             firstValue(families[metricKVCacheUsage]),
		WindowSeconds:            int(s.windowSize.Seconds()),
		LastUpdate:               now,
		Healthy:                  true,
	}

	if !s.lastTime.IsZero() {
		if dt := now.Sub(s.lastTime).Seconds(); dt > 0 {
			// Counters reset when the server restarts.
			if d := m.PromptTokensTotal - s.lastPrompt; d >= 0 {
				m.PromptTokensPerSec = d / dt
			}
			if d := m.PredictedTokensTotal - s.lastPredicted; d >= 0 {
				m.PredictedTokensPerSec = d / dt
			}
		}
	}
	s.lastPrompt = m.PromptTokensTotal
	s.lastPredicted = m.PredictedTokensTotal
	s.lastTime = now

	s.digestMu.Lock()
	if m.PredictedTokensPerSec > 0 {
		s.digest.Add(m.PredictedTokensPerSec, 1)
		s.samples = append(s.samples, rateSample{value: m.PredictedTokensPerSec, time: now})
	}
	s.cleanupWindow(now)
	m.PredictedP50, m.PredictedMax = s.windowStats()
	s.digestMu.Unlock()

	return m, nil
}

// decodeFamilies parses Prometheus text format.
func decodeFamilies(r io.Reader) (map[string]*dto.MetricFamily, error) {
	decoder := expfmt.NewDecoder(r, expfmt.FmtText)
	families := make(map[string]*dto.MetricFamily)

	for {
		var mf dto.MetricFamily
		if err := decoder.Decode(&mf); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("decode error: %w", err)
		}
		families[mf.GetName()] = &mf
	}
	return families, nil
}

// firstValue returns the value of the family's first sample, whatever its type.
func firstValue(mf *dto.MetricFamily) float64 {
	if mf == nil || len(mf.GetMetric()) == 0 {
		return 0
	}
	m := mf.GetMetric()[0]
	switch {
	case m.GetCounter() != nil:
		return m.GetCounter().GetValue()
	case m.GetGauge() != nil:
		return m.GetGauge().GetValue()
	case m.GetUntyped() != nil:
		return m.GetUntyped().GetValue()
	default:
		return 0
	}
}

// cleanupWindow removes samples older than the window and rebuilds the
// T-Digest when any expired. Caller holds digestMu.
func (s *ServerScraper) cleanupWindow(now time.Time) {
	cutoff := now.Add(-s.windowSize)

	valid := s.samples[:0]
	expired := 0
	for _, sample := range s.samples {
		if sample.time.After(cutoff) {
			valid = append(valid, sample)
		} else {
			expired++
		}
	}
	s.samples = valid

	if expired > 0 {
		s.digest = tdigest.NewWithCompression(100)
		for _, sample := range valid {
			s.digest.Add(sample.value, 1)
		}
	}
}

// windowStats returns the median and max of the window. Caller holds digestMu.
func (s *ServerScraper) windowStats() (p50, maxRate float64) {
	if len(s.samples) == 0 {
		return 0, 0
	}
	p50 = s.digest.Quantile(0.50)
	maxRate = math.Inf(-1)
	for _, sample := range s.samples {
		maxRate = math.Max(maxRate, sample.value)
	}
	return p50, maxRate
}

// GetMetrics returns the latest snapshot (thread-safe, lock-free).
func (s *ServerScraper) GetMetrics() *ServerMetrics {
	if s == nil {
		return nil
	}
	ptr, _ := s.metrics.Load().(*ServerMetrics)
	return ptr
}

// URL returns the scraped endpoint.
func (s *ServerScraper) URL() string {
	if s == nil {
		return ""
	}
	return s.url
}
