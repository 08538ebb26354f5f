//go:build linux

package procutil

import (
	"fmt"
	"os"
	"strings"
)

// Cmdline returns the command line of pid with arguments joined by spaces.
func Cmdline(pid int) (string, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/cmdline", pid))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(strings.ReplaceAll(string(data), "\x00", " ")), nil
}
