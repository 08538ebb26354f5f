package session

import (
	"context"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/entrhq/pw/pkg/procutil"
	"github.com/entrhq/pw/pkg/types"
)

// ProcessProbe answers the two liveness questions asked about a descriptor.
type ProcessProbe interface {
	// Alive reports whether pid runs and looks like a browser of kind.
	Alive(pid int, kind types.BrowserKind) bool
	// Connectable reports whether the reconnect endpoint accepts TCP connections.
	Connectable(ctx context.Context, endpoint string) bool
}

// OSProbe inspects real processes and sockets.
type OSProbe struct {
	DialTimeout time.Duration
}

// NewOSProbe returns a probe with a 500ms dial timeout.
func NewOSProbe() *OSProbe {
	return &OSProbe{DialTimeout: 500 * time.Millisecond}
}

// Alive implements ProcessProbe. Where command lines cannot be inspected
// only the pid is checked.
func (p *OSProbe) Alive(pid int, kind types.BrowserKind) bool {
	if !procutil.IsProcessAlive(pid) {
		return false
	}
	cmdline, err := procutil.Cmdline(pid)
	if err != nil {
		return true
	}
	return looksLikeBrowser(cmdline, kind)
}

func looksLikeBrowser(cmdline string, kind types.BrowserKind) bool {
	cmdline = strings.ToLower(cmdline)
	switch kind {
	case types.BrowserChromium:
		return strings.Contains(cmdline, "chrom") || strings.Contains(cmdline, "headless_shell")
	case types.BrowserFirefox:
		return strings.Contains(cmdline, "firefox")
	case types.BrowserWebKit:
		return strings.Contains(cmdline, "webkit") || strings.Contains(cmdline, "minibrowser")
	}
	return false
}

// Connectable implements ProcessProbe.
func (p *OSProbe) Connectable(ctx context.Context, endpoint string) bool {
	host, err := endpointHost(endpoint)
	if err != nil {
		return false
	}

	dialer := net.Dialer{Timeout: p.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", host)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func endpointHost(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", types.NewError(types.CodeInvalidInput, "endpoint %q has no host", endpoint)
	}
	if u.Port() != "" {
		return u.Host, nil
	}
	switch u.Scheme {
	case "https", "wss":
		return net.JoinHostPort(u.Hostname(), "443"), nil
	}
	return net.JoinHostPort(u.Hostname(), "80"), nil
}
