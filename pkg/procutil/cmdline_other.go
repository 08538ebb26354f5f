//go:build !linux

package procutil

import "errors"

// ErrCmdlineUnsupported is returned where process command lines cannot be read.
var ErrCmdlineUnsupported = errors.New("process command line inspection is not supported on this platform")

// Cmdline is unavailable outside linux; callers fall back to a pid-only check.
func Cmdline(pid int) (string, error) {
	return "", ErrCmdlineUnsupported
}
