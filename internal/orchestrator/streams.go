package orchestrator

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/randomizedcoder/go-llama-supervisor/internal/logging"
	"github.com/randomizedcoder/go-llama-supervisor/internal/parser"
	"github.com/randomizedcoder/go-llama-supervisor/internal/timeseries"
)

// recentCapacity is how many output lines the dashboard can show.
const recentCapacity = 200

// outputStream carries one supervisor's output lines off its pump goroutine.
//
//	supervisor pump -> Pipeline (lossy) -> OutputHandler
//	                                    -> ReadinessParser
//	                                    -> recent lines
type outputStream struct {
	name  string // supervisor name
	label string // program, e.g. "llama-server"

	pipeline *parser.Pipeline
	handler  *logging.OutputHandler
	ready    *parser.ReadinessParser
	rate     *timeseries.RateTracker

	// done is closed once the parser goroutine has drained the pipeline.
	done chan struct{}

	degraded atomic.Bool
}

func (o *Orchestrator) addStream(name, label string) {
	s := &outputStream{
		name:     name,
		label:    label,
		pipeline: parser.NewPipeline(label, o.config.OutputBufferSize, o.config.OutputDropThreshold),
		handler:  logging.NewOutputHandler(label, o.logger, o.config.Verbose),
		ready:    parser.NewReadinessParser(),
		rate:     timeseries.NewRateTracker(),
		done:     make(chan struct{}),
	}
	o.streams[name] = s
}

// startParsers launches one parser goroutine and one readiness watcher per stream.
func (o *Orchestrator) startParsers() {
	for _, s := range o.streams {
		prefix := "[" + s.label + "] "
		chain := parser.MultiParser{
			s.handler,
			s.ready,
			parser.ParserFunc(func(line string) { o.recent.Add(prefix + line) }),
		}

		o.parsersWg.Add(1)
		go func() {
			defer o.parsersWg.Done()
			defer close(s.done)
			s.pipeline.RunParser(chain)
		}()

		go o.watchReady(s)
	}
}

func (o *Orchestrator) watchReady(s *outputStream) {
	select {
	case <-s.ready.Ready():
		marker, at := s.ready.Marker()
		o.metrics.SetReady(s.name, true)
		o.logger.Info("process_ready",
			"process", s.label,
			"marker", marker,
			"after", at.Sub(o.startTime).Round(time.Millisecond).String(),
		)
	case <-s.done:
	}
}

// closeStreams closes every pipeline and waits for the parsers to drain.
// Only call it once no supervisor can emit lines any more.
func (o *Orchestrator) closeStreams() {
	o.closeOnce.Do(func() {
		for _, s := range o.streams {
			s.pipeline.CloseChannel()
		}
		o.parsersWg.Wait()
	})
}

func (o *Orchestrator) recordPipelineStats() {
	for _, s := range o.streams {
		s.rate.Sample()
		_, dropped, _ := s.pipeline.Stats()
		o.metrics.RecordPipelineStats(s.label, dropped, s.pipeline.DropRate())
		if s.pipeline.IsDegraded() && s.degraded.CompareAndSwap(false, true) {
			o.logger.Warn("output_pipeline_degraded",
				"process", s.label,
				"dropped", dropped,
				"drop_rate", s.pipeline.DropRate(),
			)
		}
	}
}

// recentLines is a fixed-size ring of output lines shared by all streams.
type recentLines struct {
	mu    sync.Mutex
	lines []string
	next  int
	full  bool
}

func newRecentLines(size int) *recentLines {
	return &recentLines{lines: make([]string, size)}
}

// Add appends a line, overwriting the oldest once full.
func (r *recentLines) Add(line string) {
	r.mu.Lock()
	r.lines[r.next] = line
	r.next = (r.next + 1) % len(r.lines)
	if r.next == 0 {
		r.full = true
	}
	r.mu.Unlock()
}

// Lines returns the buffered lines, oldest first.
func (r *recentLines) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		return append([]string(nil), r.lines[:r.next]...)
	}
	out := make([]string, 0, len(r.lines))
	out = append(out, r.lines[r.next:]...)
	return append(out, r.lines[:r.next]...)
}
