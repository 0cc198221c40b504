package process

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"
)

// ExitStatus describes how a child process ended.
type ExitStatus struct {
	// Code is the exit code. Signalled exits use 128 + signal number.
	Code int

	// Signal is the terminating signal, or 0 for a normal exit.
	Signal syscall.Signal

	// Err is the error returned by the OS wait, if any.
	Err error
}

// Success returns true for a clean zero exit.
func (s ExitStatus) Success() bool {
	return s.Code == 0 && s.Signal == 0
}

// Signaled returns true if the process was ended by a signal.
func (s ExitStatus) Signaled() bool {
	return s.Signal != 0
}

// String returns a short label such as "exit 0" or "signal terminated".
func (s ExitStatus) String() string {
	if s.Signaled() {
		return fmt.Sprintf("signal %s", s.Signal)
	}
	return fmt.Sprintf("exit %d", s.Code)
}

// exitStatusFrom extracts the status from a Wait() error.
func exitStatusFrom(err error) ExitStatus {
	if err == nil {
		return ExitStatus{}
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			if ws.Signaled() {
				// Signal exit: 128 + signal number
				return ExitStatus{Code: 128 + int(ws.Signal()), Signal: ws.Signal(), Err: err}
			}
			return ExitStatus{Code: ws.ExitStatus(), Err: err}
		}
		return ExitStatus{Code: exitErr.ExitCode(), Err: err}
	}

	// Unknown error, assume exit code 1
	return ExitStatus{Code: 1, Err: err}
}
