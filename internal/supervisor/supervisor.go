package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/randomizedcoder/go-llama-supervisor/internal/parser"
	"github.com/randomizedcoder/go-llama-supervisor/internal/process"
)

// Callbacks contains optional callback functions for supervisor events.
// They run synchronously on the goroutine that caused the transition.
type Callbacks struct {
	// OnStateChange is called on every state transition.
	OnStateChange func(name string, oldState, newState State)

	// OnStart is called when the process has been spawned.
	OnStart func(name string, pid int)

	// OnExit is called when the process has exited and its output drained.
	OnExit func(name string, status process.ExitStatus, uptime time.Duration, unexpected bool)
}

// Config holds configuration for creating a new Supervisor.
type Config struct {
	// Name identifies the supervisor in logs and events (e.g. "primary").
	Name string

	Logger    *slog.Logger
	Callbacks Callbacks

	// Observers are subscribed before Start.
	Observers []Observer

	// StopTimeout bounds how long Stop waits after the terminate request
	// before killing the process group. 0 waits indefinitely.
	StopTimeout time.Duration
}

// Supervisor manages the lifecycle of a single process run.
// It spawns the process, pumps its sanitized output to observers and
// stops it on request. A Supervisor is not restartable: once Stopped,
// build a new one.
type Supervisor struct {
	name        string
	logger      *slog.Logger
	callbacks   Callbacks
	stopTimeout time.Duration

	// startMu serializes Start and Stop so Stop never observes Starting.
	startMu sync.Mutex

	// State management
	state   State
	stateMu sync.RWMutex

	handle    *process.Handle
	startTime time.Time

	observers   []Observer
	observersMu sync.RWMutex

	linesRead   atomic.Int64
	forceKilled atomic.Bool

	// done is closed by the pump once Stopped has been emitted.
	done   chan struct{}
	status process.ExitStatus
}

// New creates a new Supervisor with the given configuration.
func New(cfg Config) *Supervisor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	name := cfg.Name
	if name == "" {
		name = "process"
	}

	return &Supervisor{
		name:        name,
		logger:      logger,
		callbacks:   cfg.Callbacks,
		stopTimeout: cfg.StopTimeout,
		state:       StateIdle,
		observers:   append([]Observer(nil), cfg.Observers...),
		done:        make(chan struct{}),
	}
}

// Subscribe registers an observer. Observers added after Start miss the
// events already emitted.
func (s *Supervisor) Subscribe(o Observer) {
	s.observersMu.Lock()
	s.observers = append(s.observers, o)
	s.observersMu.Unlock()
}

// Start spawns the process described by spec and starts pumping its output.
//
// Start fails with *AlreadyRunningError unless the supervisor is Idle, and
// with *process.SpawnError if the process cannot be launched, in which case
// the supervisor returns to Idle.
func (s *Supervisor) Start(spec process.Spec) error {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	if !s.transition(StateIdle, StateStarting) {
		return &AlreadyRunningError{Name: s.name, State: s.State()}
	}

	s.logger.Debug("process_starting", "name", s.name, "command", spec.String())

	h, err := process.Spawn(spec)
	if err != nil {
		s.logger.Error("failed_to_start_process",
			"name", s.name,
			"program", spec.Program(),
			"error", err,
		)
		s.transition(StateStarting, StateIdle)
		return err
	}

	s.stateMu.Lock()
	s.handle = h
	s.startTime = h.StartTime()
	s.stateMu.Unlock()

	s.transition(StateStarting, StateRunning)

	s.logger.Info("process_started",
		"name", s.name,
		"pid", h.Pid(),
		"program", spec.Program(),
	)

	if s.callbacks.OnStart != nil {
		s.callbacks.OnStart(s.name, h.Pid())
	}

	go s.pump(h)

	return nil
}

// pump forwards output until the stream ends, then waits for the process
// and finishes the state machine.
func (s *Supervisor) pump(h *process.Handle) {
	defer close(s.done)

	pid := h.Pid()
	s.emit(Event{Kind: EventStarted, Pid: pid})

	for raw := range h.Lines() {
		s.linesRead.Add(1)
		s.emit(Event{Kind: EventLineReceived, Pid: pid, Line: parser.Sanitize(raw)})
	}
	if err := h.Err(); err != nil {
		s.logger.Warn("output_stream_error", "name", s.name, "pid", pid, "error", err)
	}

	status := h.Wait()
	uptime := time.Since(h.StartTime())

	// Stop moves Running to Stopping first; if it has not, the exit was ours to discover.
	unexpected := s.transition(StateRunning, StateStopping)

	s.stateMu.Lock()
	s.status = status
	s.stateMu.Unlock()

	logLevel := slog.LevelInfo
	if unexpected {
		logLevel = slog.LevelWarn
	}
	s.logger.Log(context.Background(), logLevel, "process_exited",
		"name", s.name,
		"pid", pid,
		"exit", status.String(),
		"exit_code", status.Code,
		"uptime", uptime.String(),
		"lines", s.linesRead.Load(),
		"unexpected", unexpected,
	)

	if unexpected {
		s.emit(Event{Kind: EventStoppedUnexpectedly, Pid: pid, Status: status})
	}
	s.transition(StateStopping, StateStopped)
	s.emit(Event{Kind: EventStopped, Pid: pid, Status: status})

	if s.callbacks.OnExit != nil {
		s.callbacks.OnExit(s.name, status, uptime, unexpected)
	}
}

// Stop terminates the process and blocks until it has exited and its
// output has been drained. Stop on an Idle or Stopped supervisor is a no-op.
// Concurrent calls all wait for the same exit.
//
// With StopTimeout set, a process still alive after the timeout is killed
// and Stop returns ErrForceKilled.
func (s *Supervisor) Stop() error {
	s.startMu.Lock()
	switch s.State() {
	case StateIdle, StateStopped:
		s.startMu.Unlock()
		return nil
	}
	requested := s.transition(StateRunning, StateStopping)
	h := s.handle
	s.startMu.Unlock()

	if requested {
		s.logger.Info("stopping_process", "name", s.name, "pid", h.Pid())
	}
	h.Terminate()

	if s.stopTimeout <= 0 {
		<-s.done
		return nil
	}

	timer := time.NewTimer(s.stopTimeout)
	defer timer.Stop()

	select {
	case <-s.done:
		return nil
	case <-timer.C:
		s.logger.Warn("force_killing_process",
			"name", s.name,
			"pid", h.Pid(),
			"timeout", s.stopTimeout.String(),
		)
		s.forceKilled.Store(true)
		h.Kill()
		<-s.done
		return ErrForceKilled
	}
}

// transition moves from one state to another if the current state matches.
func (s *Supervisor) transition(from, to State) bool {
	s.stateMu.Lock()
	if s.state != from {
		s.stateMu.Unlock()
		return false
	}
	s.state = to
	s.stateMu.Unlock()

	s.logger.Debug("state_change", "name", s.name, "from", from.String(), "to", to.String())
	if s.callbacks.OnStateChange != nil {
		s.callbacks.OnStateChange(s.name, from, to)
	}
	return true
}

func (s *Supervisor) emit(e Event) {
	e.Source = s.name
	e.Time = time.Now()

	s.observersMu.RLock()
	observers := s.observers
	s.observersMu.RUnlock()

	for _, o := range observers {
		o.OnEvent(e)
	}
}

// State returns the current state of the supervisor.
func (s *Supervisor) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Name returns the supervisor's name.
func (s *Supervisor) Name() string {
	return s.name
}

// Pid returns the process id, or 0 before a successful Start.
func (s *Supervisor) Pid() int {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	if s.handle == nil {
		return 0
	}
	return s.handle.Pid()
}

// Uptime returns the current uptime if running, or 0 if not.
func (s *Supervisor) Uptime() time.Duration {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	if s.state != StateRunning {
		return 0
	}
	return time.Since(s.startTime)
}

// LinesRead returns the number of output lines pumped so far.
func (s *Supervisor) LinesRead() int64 {
	return s.linesRead.Load()
}

// ExitStatus returns the exit status once Stopped.
func (s *Supervisor) ExitStatus() (process.ExitStatus, bool) {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.status, s.state == StateStopped
}

// ForceKilled reports whether Stop had to kill the process.
func (s *Supervisor) ForceKilled() bool {
	return s.forceKilled.Load()
}

// Done returns a channel closed once the supervisor is Stopped.
// It never closes if Start never succeeded.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}
