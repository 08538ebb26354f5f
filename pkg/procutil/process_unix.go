//go:build !windows

package procutil

import (
	"os"
	"os/exec"
	"syscall"
)

// TerminateByPID sends SIGTERM to the process identified by pid.
func TerminateByPID(pid int) error {
	return syscall.Kill(pid, syscall.SIGTERM)
}

// KillByPID sends SIGKILL to the process identified by pid.
func KillByPID(pid int) error {
	return syscall.Kill(pid, syscall.SIGKILL)
}

// IsProcessAlive checks whether a process with the given pid is still running.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// Detach starts cmd in its own session so it survives the parent exiting
// and does not receive the terminal's signals.
func Detach(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setsid = true
}
