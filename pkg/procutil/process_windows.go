//go:build windows

package procutil

import (
	"os"
	"os/exec"
	"syscall"
)

// TerminateByPID kills the process identified by pid. Windows has no SIGTERM.
func TerminateByPID(pid int) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return process.Kill()
}

// KillByPID kills the process identified by pid.
func KillByPID(pid int) error {
	return TerminateByPID(pid)
}

// IsProcessAlive checks whether a process with the given pid is still running.
// On Windows os.FindProcess opens a handle and fails for exited processes.
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	process.Release()
	return true
}

// Detach starts cmd in a new process group.
func Detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}
