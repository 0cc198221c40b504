//go:build !windows

package process

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// setProcessGroup puts the child in a new process group (pgid == pid).
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

func terminateGroup(p *os.Process) {
	signalGroup(p, unix.SIGTERM)
}

func killGroup(p *os.Process) {
	signalGroup(p, unix.SIGKILL)
}

// signalGroup signals the leader first; if it is already gone the group is
// left alone, otherwise the whole group gets the signal.
func signalGroup(p *os.Process, sig unix.Signal) {
	if err := p.Signal(sig); errors.Is(err, os.ErrProcessDone) {
		return
	}
	if pgid, err := unix.Getpgid(p.Pid); err == nil && pgid == p.Pid {
		_ = unix.Kill(-pgid, sig)
	}
}
