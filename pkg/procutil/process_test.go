package procutil

import (
	"os"
	"runtime"
	"testing"
)

func TestIsProcessAlive(t *testing.T) {
	if !IsProcessAlive(os.Getpid()) {
		t.Error("current process should be alive")
	}
	if IsProcessAlive(0) {
		t.Error("pid 0 should not be reported alive")
	}
	if IsProcessAlive(-5) {
		t.Error("negative pid should not be reported alive")
	}
}

func TestCmdlineCurrentProcess(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("cmdline inspection is linux-only")
	}

	cmdline, err := Cmdline(os.Getpid())
	if err != nil {
		t.Fatalf("Cmdline() error = %v", err)
	}
	if cmdline == "" {
		t.Error("Cmdline() returned empty string for the running test binary")
	}
}
