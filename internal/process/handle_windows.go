//go:build windows

package process

import (
	"os"
	"os/exec"
	"syscall"
)

// setProcessGroup starts the child in its own console process group.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

// terminateGroup has no graceful equivalent for detached console children,
// so it ends the process like Kill.
func terminateGroup(p *os.Process) {
	_ = p.Kill()
}

func killGroup(p *os.Process) {
	_ = p.Kill()
}
