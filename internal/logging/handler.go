package logging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

const (
	// MaxLineLength is the maximum length of a single output line before truncation.
	MaxLineLength = 4096

	// MaxBufferedLines is the number of recent lines kept per process.
	MaxBufferedLines = 100
)

// errorMarkers classify a line as an error.
var errorMarkers = []string{
	"error:",
	"[error]",
	"failed to load model",
	"out of memory",
	"cuda error",
	"segmentation fault",
	"address already in use",
	"traceback (most recent call last)",
	"exception:",
}

// warningMarkers classify a line as a warning.
var warningMarkers = []string{
	"warning:",
	"[warning]",
	"warn:",
	"deprecated",
	"connection refused",
}

// infoMarkers are milestones worth an info line even when not verbose.
var infoMarkers = []string{
	"http server listening",
	"server is listening on",
	"model loaded",
	"all slots are idle",
	"running on http",
	"uvicorn running on",
}

// ErrorPatterns are counted across all lines for the exit summary.
var ErrorPatterns = []string{
	"failed to load model",
	"out of memory",
	"CUDA error",
	"address already in use",
	"No such file or directory",
	"Connection refused",
	"Traceback",
	"timeout",
}

// OutputHandler handles sanitized output lines from one supervised process.
// It logs them at a level derived from their content, buffers recent lines
// for the dashboard and exit summary, and counts error patterns.
//
// OutputHandler implements parser.LineParser so it can sit behind a Pipeline.
type OutputHandler struct {
	source  string
	logger  *slog.Logger
	verbose bool

	// Circular buffer for recent lines
	buffer []string
	bufIdx int
	count  int
	mu     sync.Mutex

	errorCounts map[string]int
	levelCounts map[slog.Level]int64
}

// NewOutputHandler creates a handler for the named process.
func NewOutputHandler(source string, logger *slog.Logger, verbose bool) *OutputHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &OutputHandler{
		source:      source,
		logger:      logger,
		verbose:     verbose,
		buffer:      make([]string, MaxBufferedLines),
		errorCounts: make(map[string]int),
		levelCounts: make(map[slog.Level]int64),
	}
}

// ParseLine implements parser.LineParser.
func (h *OutputHandler) ParseLine(line string) {
	h.HandleLine(line)
}

// HandleLine processes a single line of output.
func (h *OutputHandler) HandleLine(line string) {
	if len(line) > MaxLineLength {
		line = line[:MaxLineLength] + "...(truncated)"
	}
	level := ClassifyLine(line)

	h.mu.Lock()
	h.buffer[h.bufIdx] = line
	h.bufIdx = (h.bufIdx + 1) % MaxBufferedLines
	if h.count < MaxBufferedLines {
		h.count++
	}
	h.levelCounts[level]++
	for _, pattern := range ErrorPatterns {
		if strings.Contains(line, pattern) {
			h.errorCounts[pattern]++
		}
	}
	h.mu.Unlock()

	// In non-verbose mode, chatter stays out of the log.
	if !h.verbose && level == slog.LevelDebug {
		return
	}
	h.logger.Log(context.Background(), level, "process_output",
		"process", h.source,
		"line", line,
	)
}

// ClassifyLine determines the log level for a line based on content.
func ClassifyLine(line string) slog.Level {
	lower := strings.ToLower(line)

	switch {
	case containsAny(lower, errorMarkers):
		return slog.LevelError
	case containsAny(lower, warningMarkers):
		return slog.LevelWarn
	case containsAny(lower, infoMarkers):
		return slog.LevelInfo
	default:
		// Model loading, tensor dumps, slot chatter, request logs
		return slog.LevelDebug
	}
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// RecentLines returns up to n of the most recent lines, oldest first.
func (h *OutputHandler) RecentLines(n int) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	if n > h.count {
		n = h.count
	}
	if n <= 0 {
		return nil
	}

	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		idx := (h.bufIdx - n + i + MaxBufferedLines) % MaxBufferedLines
		lines = append(lines, h.buffer[idx])
	}
	return lines
}

// CountErrors returns how often each ErrorPattern was seen.
func (h *OutputHandler) CountErrors() map[string]int {
	h.mu.Lock()
	defer h.mu.Unlock()

	counts := make(map[string]int, len(h.errorCounts))
	for k, v := range h.errorCounts {
		counts[k] = v
	}
	return counts
}

// Counts returns the number of lines seen at warn and error level.
func (h *OutputHandler) Counts() (warnings, errors int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.levelCounts[slog.LevelWarn], h.levelCounts[slog.LevelError]
}

// Source returns the process name.
func (h *OutputHandler) Source() string {
	return h.source
}
