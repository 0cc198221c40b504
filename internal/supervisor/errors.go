package supervisor

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyRunning matches AlreadyRunningError via errors.Is.
	ErrAlreadyRunning = errors.New("supervisor is not idle")

	// ErrForceKilled is returned by Stop when the process ignored the
	// terminate request for StopTimeout and was killed.
	ErrForceKilled = errors.New("process did not exit gracefully")
)

// AlreadyRunningError is returned by Start when the supervisor is not Idle.
// No process is spawned and the state is unchanged.
type AlreadyRunningError struct {
	Name  string
	State State
}

func (e *AlreadyRunningError) Error() string {
	return fmt.Sprintf("supervisor %s: cannot start in state %s", e.Name, e.State)
}

// Is reports whether target is ErrAlreadyRunning.
func (e *AlreadyRunningError) Is(target error) bool {
	return target == ErrAlreadyRunning
}
