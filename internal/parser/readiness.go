package parser

import (
	"strings"
	"sync"
	"time"
)

// DefaultReadyPatterns are substrings that llama.cpp's server and the
// OpenAI-compatible wrapper print once they accept connections.
var DefaultReadyPatterns = []string{
	"HTTP server listening",
	"server is listening on",
	"all slots are idle",
	"Running on http",
	"Uvicorn running on",
}

// ReadinessParser watches output lines for a readiness marker.
//
// Readiness is inferred heuristically; a server that never prints one of
// the patterns is simply never reported ready.
type ReadinessParser struct {
	patterns []string

	once    sync.Once
	ready   chan struct{}
	mu      sync.Mutex
	line    string
	readyAt time.Time
}

// NewReadinessParser creates a parser matching the given patterns
// (case-insensitive). With no patterns, DefaultReadyPatterns is used.
func NewReadinessParser(patterns ...string) *ReadinessParser {
	if len(patterns) == 0 {
		patterns = DefaultReadyPatterns
	}
	lowered := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			lowered = append(lowered, p)
		}
	}
	return &ReadinessParser{
		patterns: lowered,
		ready:    make(chan struct{}),
	}
}

// ParseLine implements LineParser.
func (r *ReadinessParser) ParseLine(line string) {
	if r.IsReady() {
		return
	}
	lower := strings.ToLower(line)
	for _, p := range r.patterns {
		if strings.Contains(lower, p) {
			r.markReady(line)
			return
		}
	}
}

func (r *ReadinessParser) markReady(line string) {
	r.once.Do(func() {
		r.mu.Lock()
		r.line = line
		r.readyAt = time.Now()
		r.mu.Unlock()
		close(r.ready)
	})
}

// Ready returns a channel closed when a readiness marker has been seen.
func (r *ReadinessParser) Ready() <-chan struct{} {
	return r.ready
}

// IsReady reports whether a readiness marker has been seen.
func (r *ReadinessParser) IsReady() bool {
	select {
	case <-r.ready:
		return true
	default:
		return false
	}
}

// Marker returns the line that signalled readiness and when it was seen.
func (r *ReadinessParser) Marker() (string, time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.line, r.readyAt
}

// Ensure ReadinessParser implements LineParser
var _ LineParser = (*ReadinessParser)(nil)
