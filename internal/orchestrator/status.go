package orchestrator

import (
	"path/filepath"

	"github.com/randomizedcoder/go-llama-supervisor/internal/coordinator"
	"github.com/randomizedcoder/go-llama-supervisor/internal/supervisor"
	"github.com/randomizedcoder/go-llama-supervisor/internal/tui"
)

// Snapshot implements tui.StatusSource.
func (o *Orchestrator) Snapshot() tui.Snapshot {
	snap := tui.Snapshot{
		SessionID: o.sessionID,
		Model:     filepath.Base(o.config.ModelPath),
		ServerURL: "http://" + o.server.Address(),
		Recent:    o.recent.Lines(),
	}
	if o.wrapper != nil {
		snap.WrapperURL = o.wrapper.BaseURL()
	}

	for _, sup := range []*supervisor.Supervisor{o.coord.Primary(), o.coord.Secondary()} {
		if sup == nil {
			continue
		}
		s := o.streams[sup.Name()]
		status := tui.ProcessStatus{
			Name:   sup.Name(),
			Label:  s.label,
			State:  sup.State().String(),
			Pid:    sup.Pid(),
			Uptime: sup.Uptime(),
			Lines:  sup.LinesRead(),
			Ready:  s.ready.IsReady(),
		}
		status.LineRate = s.rate.Stats().Rate10s
		_, status.Dropped, _ = s.pipeline.Stats()
		status.Warnings, status.Errors = s.handler.Counts()
		if exit, ok := sup.ExitStatus(); ok {
			status.Exit = describeExit(exit)
			if sup.ForceKilled() {
				status.Exit += " (killed)"
			}
		}
		if rate := s.pipeline.DropRate(); rate > snap.DropRate {
			snap.DropRate = rate
		}
		snap.Processes = append(snap.Processes, status)
	}

	if o.scraper != nil {
		snap.Server = o.scraper.GetMetrics()
	}
	return snap
}

// ready backs the metrics server's /ready endpoint: llama-server is running
// and has printed a readiness marker.
func (o *Orchestrator) ready() (bool, string) {
	primary := o.coord.Primary()
	if state := primary.State(); state != supervisor.StateRunning {
		return false, o.server.Name() + " is " + state.String()
	}
	if !o.streams[coordinator.PrimaryName].ready.IsReady() {
		return false, o.server.Name() + " has not reported ready"
	}
	return true, ""
}

var _ tui.StatusSource = (*Orchestrator)(nil)
