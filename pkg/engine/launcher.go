package engine

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/entrhq/pw/pkg/logging"
	"github.com/entrhq/pw/pkg/procutil"
	"github.com/entrhq/pw/pkg/types"
)

const (
	// DefaultReadyTimeout bounds how long a launched chromium may take to
	// expose its debugging endpoint.
	DefaultReadyTimeout = 15 * time.Second

	// DefaultReadyInterval is the readiness probe interval.
	DefaultReadyInterval = 100 * time.Millisecond
)

// LaunchSpec describes a chromium process started with a remote debugging port.
type LaunchSpec struct {
	Headless    bool
	Port        int
	UserDataDir string
}

// Process is a running chromium that accepts reconnects at Endpoint.
type Process struct {
	PID      int
	Port     int
	Endpoint string
}

// Launcher starts reconnectable chromium processes.
type Launcher interface {
	Launch(ctx context.Context, spec LaunchSpec) (*Process, error)
}

// ChromiumLauncher runs the chromium binary directly with a remote
// debugging port, detached from the calling process so it outlives it.
type ChromiumLauncher struct {
	executable    func() (string, error)
	readyTimeout  time.Duration
	readyInterval time.Duration
	client        *http.Client
	logger        *logging.Logger
}

// LauncherOption configures a ChromiumLauncher.
type LauncherOption func(*ChromiumLauncher)

// WithReadyTimeout overrides DefaultReadyTimeout.
func WithReadyTimeout(d time.Duration) LauncherOption {
	return func(l *ChromiumLauncher) {
		l.readyTimeout = d
	}
}

// WithLauncherLogger sets the logger.
func WithLauncherLogger(logger *logging.Logger) LauncherOption {
	return func(l *ChromiumLauncher) {
		l.logger = logger
	}
}

// NewChromiumLauncher creates a launcher. executable resolves the chromium
// binary, typically (*Playwright).ChromiumExecutable.
func NewChromiumLauncher(executable func() (string, error), opts ...LauncherOption) *ChromiumLauncher {
	l := &ChromiumLauncher{
		executable:    executable,
		readyTimeout:  DefaultReadyTimeout,
		readyInterval: DefaultReadyInterval,
		client:        &http.Client{Timeout: time.Second},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ChromiumArgs returns the command line flags for spec.
func ChromiumArgs(spec LaunchSpec) []string {
	args := []string{
		"--remote-debugging-port=" + strconv.Itoa(spec.Port),
		"--remote-debugging-address=127.0.0.1",
		"--user-data-dir=" + spec.UserDataDir,
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-background-networking",
	}
	if spec.Headless {
		args = append(args, "--headless=new")
	}
	return append(args, "about:blank")
}

// Launch starts chromium and waits, bounded, until its debugging endpoint
// answers. On timeout the process is killed.
func (l *ChromiumLauncher) Launch(ctx context.Context, spec LaunchSpec) (*Process, error) {
	path, err := l.executable()
	if err != nil {
		return nil, types.WrapError(types.CodeBrowserLaunchFailed, err, "failed to locate chromium")
	}

	if spec.Port == 0 {
		port, err := FreeLoopbackPort()
		if err != nil {
			return nil, types.WrapError(types.CodeBrowserLaunchFailed, err, "failed to pick a debugging port")
		}
		spec.Port = port
	}
	if spec.UserDataDir == "" {
		dir, err := os.MkdirTemp("", "pw-chromium-*")
		if err != nil {
			return nil, types.WrapError(types.CodeIOError, err, "failed to create user data dir")
		}
		spec.UserDataDir = dir
	} else if err := os.MkdirAll(spec.UserDataDir, 0750); err != nil {
		return nil, types.WrapError(types.CodeIOError, err, "failed to create user data dir")
	}

	// Not CommandContext: the browser must outlive this invocation.
	cmd := exec.Command(path, ChromiumArgs(spec)...)
	procutil.Detach(cmd)
	if err := cmd.Start(); err != nil {
		return nil, types.WrapError(types.CodeBrowserLaunchFailed, err, "failed to start chromium")
	}

	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
	}()

	endpoint := fmt.Sprintf("http://127.0.0.1:%d", spec.Port)
	l.logger.Infof("launched chromium pid=%d endpoint=%s headless=%v", cmd.Process.Pid, endpoint, spec.Headless)

	err = Poll(ctx, PollOptions{
		Interval: l.readyInterval,
		Timeout:  l.readyTimeout,
		What:     "chromium debugging endpoint " + endpoint,
	}, func(ctx context.Context) (bool, error) {
		select {
		case waitErr := <-exited:
			if waitErr == nil {
				return false, types.NewError(types.CodeBrowserLaunchFailed, "chromium exited before %s became ready", endpoint)
			}
			return false, types.WrapError(types.CodeBrowserLaunchFailed, waitErr, "chromium exited before %s became ready", endpoint)
		default:
		}
		return l.ready(ctx, endpoint), nil
	})
	if err != nil {
		_ = cmd.Process.Kill()
		return nil, err
	}

	return &Process{PID: cmd.Process.Pid, Port: spec.Port, Endpoint: endpoint}, nil
}

func (l *ChromiumLauncher) ready(ctx context.Context, endpoint string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/json/version", nil)
	if err != nil {
		return false
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// FreeLoopbackPort asks the kernel for an unused loopback TCP port.
func FreeLoopbackPort() (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port, nil
}

// PortAvailable reports whether port can currently be bound on loopback.
func PortAvailable(port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}
