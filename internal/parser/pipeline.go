// Package parser provides the line handling used between a supervised
// process and its consumers.
//
// The supervisor's pump delivers every sanitized line to its observers in
// order. Consumers that may be slow (log handler, readiness detection,
// dashboard) sit behind a Pipeline so they can never stall the child's
// output stream:
//
//	Layer 1 (Feed):   FeedLine queues a line, drops if the channel is full - never blocks
//	Layer 2 (Parser): RunParser consumes from the channel at its own pace
package parser

import (
	"sync"
	"sync/atomic"
)

// LineParser is implemented by every line consumer (ReadinessParser,
// logging.OutputHandler, MultiParser).
type LineParser interface {
	ParseLine(line string)
}

// Pipeline is a bounded, lossy line queue.
//
// If the parser cannot keep up, lines are dropped rather than blocking the
// pump that feeds it.
type Pipeline struct {
	source     string
	bufferSize int

	lineChan  chan string
	closeOnce sync.Once

	// Pipeline health metrics (atomic for concurrent access)
	linesRead    int64
	linesDropped int64
	linesParsed  int64

	dropThreshold float64
}

// NewPipeline creates a lossy parsing pipeline.
//
// Parameters:
//   - source: name of the feeding stream, for identification
//   - bufferSize: channel buffer size (lines)
//   - dropThreshold: fraction (0.0-1.0) above which the pipeline is degraded
func NewPipeline(source string, bufferSize int, dropThreshold float64) *Pipeline {
	if bufferSize < 1 {
		bufferSize = 1000
	}
	if dropThreshold <= 0 {
		dropThreshold = 0.01
	}

	return &Pipeline{
		source:        source,
		bufferSize:    bufferSize,
		lineChan:      make(chan string, bufferSize),
		dropThreshold: dropThreshold,
	}
}

// FeedLine adds a line to the pipeline.
// Returns true if queued, false if dropped (channel full).
func (p *Pipeline) FeedLine(line string) bool {
	atomic.AddInt64(&p.linesRead, 1)

	select {
	case p.lineChan <- line:
		return true
	default:
		atomic.AddInt64(&p.linesDropped, 1)
		return false
	}
}

// CloseChannel closes the line channel, signaling the parser to stop once
// the queued lines are consumed. FeedLine must not be called afterwards.
//
// Safe to call multiple times.
func (p *Pipeline) CloseChannel() {
	p.closeOnce.Do(func() {
		close(p.lineChan)
	})
}

// RunParser consumes lines at its own pace.
//
// MUST run in a dedicated goroutine. Blocks until the channel is closed and drained.
func (p *Pipeline) RunParser(parser LineParser) {
	for line := range p.lineChan {
		parser.ParseLine(line)
		atomic.AddInt64(&p.linesParsed, 1)
	}
}

// Stats returns pipeline health metrics.
//
// Returns:
//   - read: total lines fed
//   - dropped: lines dropped due to a full channel
//   - parsed: lines handed to the parser
func (p *Pipeline) Stats() (read, dropped, parsed int64) {
	return atomic.LoadInt64(&p.linesRead),
		atomic.LoadInt64(&p.linesDropped),
		atomic.LoadInt64(&p.linesParsed)
}

// DropRate returns the current drop rate as a fraction (0.0 to 1.0).
func (p *Pipeline) DropRate() float64 {
	read := atomic.LoadInt64(&p.linesRead)
	if read == 0 {
		return 0
	}
	dropped := atomic.LoadInt64(&p.linesDropped)
	return float64(dropped) / float64(read)
}

// IsDegraded returns true if the drop rate exceeds the configured threshold.
func (p *Pipeline) IsDegraded() bool {
	return p.DropRate() > p.dropThreshold
}

// Source returns the name given at construction.
func (p *Pipeline) Source() string {
	return p.source
}

// MultiParser fans a line out to several parsers in order.
type MultiParser []LineParser

// ParseLine hands the line to every parser.
func (m MultiParser) ParseLine(line string) {
	for _, p := range m {
		p.ParseLine(line)
	}
}

// ParserFunc adapts a function to LineParser.
type ParserFunc func(line string)

// ParseLine calls f(line).
func (f ParserFunc) ParseLine(line string) {
	f(line)
}

// NoopParser is a parser that does nothing (for testing/placeholder use).
type NoopParser struct{}

// ParseLine does nothing.
func (NoopParser) ParseLine(string) {}
