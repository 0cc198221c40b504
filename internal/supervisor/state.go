// Package supervisor runs one external process per instance, publishing its
// lifecycle and sanitized output to observers.
package supervisor

// State represents the lifecycle state of a Supervisor.
//
//	Idle -> Starting -> Running -> Stopping -> Stopped
//
// A failed spawn returns Starting to Idle. Stopped is terminal.
type State int

const (
	// StateIdle is the initial state before Start.
	StateIdle State = iota

	// StateStarting indicates the process is being spawned.
	StateStarting

	// StateRunning indicates the process is running and its output is pumped.
	StateRunning

	// StateStopping indicates a stop was requested or the process exited,
	// and the supervisor is waiting for the exit and the output to drain.
	StateStopping

	// StateStopped indicates the process has been waited on. Terminal.
	StateStopped
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// IsActive returns true if a process exists or is being created.
func (s State) IsActive() bool {
	return s == StateStarting || s == StateRunning || s == StateStopping
}

// IsTerminal returns true if the state is a terminal state (stopped).
func (s State) IsTerminal() bool {
	return s == StateStopped
}
