package daemon

import (
	"os"
	"path/filepath"
)

// SocketEnv overrides the daemon socket path.
const SocketEnv = "PW_DAEMON_SOCKET"

const socketName = "pw-daemon.sock"

// SocketPath returns the daemon socket: $PW_DAEMON_SOCKET, else
// $XDG_RUNTIME_DIR/pw-daemon.sock, else the same name under the temp dir.
func SocketPath() string {
	if p := os.Getenv(SocketEnv); p != "" {
		return p
	}
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, socketName)
	}
	return filepath.Join(os.TempDir(), socketName)
}

// DataRoot is where pooled browsers keep their user data directories.
func DataRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "pw-daemon")
	}
	return filepath.Join(home, ".pw", "daemon")
}
