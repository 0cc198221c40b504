package supervisor

import (
	"time"

	"github.com/randomizedcoder/go-llama-supervisor/internal/process"
)

// EventKind identifies a lifecycle or output event.
type EventKind int

const (
	// EventStarted is emitted once, when the output pump begins.
	EventStarted EventKind = iota

	// EventLineReceived carries one sanitized output line.
	EventLineReceived

	// EventStoppedUnexpectedly precedes EventStopped when the process
	// exited without Stop being called.
	EventStoppedUnexpectedly

	// EventStopped is emitted once the process has exited and its output drained.
	EventStopped

	// EventWarning reports a non-fatal problem (e.g. a dependent process
	// that failed to spawn).
	EventWarning
)

// String returns a human-readable name for the event kind.
func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventLineReceived:
		return "line"
	case EventStoppedUnexpectedly:
		return "stopped_unexpectedly"
	case EventStopped:
		return "stopped"
	case EventWarning:
		return "warning"
	default:
		return "unknown"
	}
}

// Event is delivered to observers.
type Event struct {
	Kind EventKind

	// Source is the name of the supervisor (or component) that emitted it.
	Source string

	// Line is set for EventLineReceived.
	Line string

	// Pid is the process id, when one exists.
	Pid int

	// Status is set for EventStoppedUnexpectedly and EventStopped.
	Status process.ExitStatus

	// Err is set for EventWarning.
	Err error

	Time time.Time
}

// Observer receives events.
//
// OnEvent runs on the emitting supervisor's pump goroutine: events from one
// supervisor arrive strictly in order, and a slow observer delays the pump.
// Observers that touch shared state must re-dispatch to their own goroutine
// (see parser.Pipeline).
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// OnEvent calls f(e).
func (f ObserverFunc) OnEvent(e Event) {
	f(e)
}
