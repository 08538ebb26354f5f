package daemon

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/pw/pkg/engine"
	"github.com/entrhq/pw/pkg/types"
)

const (
	// PingTimeout bounds the reachability check.
	PingTimeout = 2 * time.Second
	dialTimeout = time.Second
)

// Client talks to a daemon over its unix socket, one connection per call.
type Client struct {
	socket string
}

// NewClient creates a client for the socket at path.
func NewClient(path string) *Client {
	return &Client{socket: path}
}

// Socket returns the socket path.
func (c *Client) Socket() string {
	return c.socket
}

// Call sends one request and decodes the response data into out.
func (c *Client) Call(ctx context.Context, method string, out interface{}, params ...interface{}) error {
	req := Request{ID: uuid.NewString(), Method: method}
	for _, p := range params {
		raw, err := json.Marshal(p)
		if err != nil {
			return types.WrapError(types.CodeInvalidInput, err, "%s: failed to encode parameter", method)
		}
		req.Params = append(req.Params, raw)
	}

	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socket)
	if err != nil {
		return types.WrapError(types.CodeDaemonUnavailable, err, "daemon not reachable at %s", c.socket)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return types.WrapError(types.CodeDaemonUnavailable, err, "failed to send %s request", method)
	}

	var resp Response
	if err := json.NewDecoder(bufio.NewReader(conn)).Decode(&resp); err != nil {
		if ctx.Err() != nil {
			return types.WrapError(types.CodeTimeout, ctx.Err(), "%s request to daemon", method)
		}
		return types.WrapError(types.CodeDaemonUnavailable, err, "failed to read %s response", method)
	}

	if resp.ID != req.ID {
		return types.NewError(types.CodeInternal, "daemon answered request %s with %s", req.ID, resp.ID)
	}
	if !resp.OK {
		if resp.Error == nil {
			return types.NewError(types.CodeInternal, "%s failed without an error", method)
		}
		return types.NewError(resp.Error.Code, "%s", resp.Error.Message)
	}
	if out != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return types.WrapError(types.CodeInternal, err, "failed to decode %s result", method)
		}
	}
	return nil
}

// Ping checks that a daemon answers within PingTimeout.
func (c *Client) Ping(ctx context.Context) (PingResult, error) {
	ctx, cancel := context.WithTimeout(ctx, PingTimeout)
	defer cancel()

	var result PingResult
	err := c.Call(ctx, MethodPing, &result)
	return result, err
}

// Reachable reports whether a daemon answers ping.
func (c *Client) Reachable(ctx context.Context) bool {
	_, err := c.Ping(ctx)
	return err == nil
}

// SpawnOnPort asks the daemon for a browser; port 0 picks the lowest free port.
func (c *Client) SpawnOnPort(ctx context.Context, kind types.BrowserKind, headless bool, port int) (BrowserInfo, error) {
	var info BrowserInfo
	err := c.Call(ctx, MethodSpawn, &info, kind.String(), headless, port)
	return info, err
}

// Spawn asks the daemon for a browser on any free port.
func (c *Client) Spawn(ctx context.Context, kind types.BrowserKind, headless bool) (*engine.Process, error) {
	info, err := c.SpawnOnPort(ctx, kind, headless, 0)
	if err != nil {
		return nil, err
	}
	return &engine.Process{PID: info.PID, Port: info.Port, Endpoint: info.Endpoint}, nil
}

// List returns the pooled browsers.
func (c *Client) List(ctx context.Context) ([]BrowserInfo, error) {
	var infos []BrowserInfo
	err := c.Call(ctx, MethodList, &infos)
	return infos, err
}

// Kill closes the pooled browser on port.
func (c *Client) Kill(ctx context.Context, port int) error {
	return c.Call(ctx, MethodKill, nil, port)
}

// Shutdown asks the daemon to close every browser and exit.
func (c *Client) Shutdown(ctx context.Context) error {
	return c.Call(ctx, MethodShutdown, nil)
}

// Status summarizes a running daemon.
type Status struct {
	Running   bool          `json:"running"`
	Socket    string        `json:"socket"`
	PID       int           `json:"pid,omitempty"`
	Version   string        `json:"version,omitempty"`
	StartedAt time.Time     `json:"startedAt,omitzero"`
	Browsers  []BrowserInfo `json:"browsers,omitempty"`
}

// Status pings the daemon and lists its browsers.
func (c *Client) Status(ctx context.Context) (Status, error) {
	status := Status{Socket: c.socket}

	ping, err := c.Ping(ctx)
	if err != nil {
		return status, err
	}
	browsers, err := c.List(ctx)
	if err != nil {
		return status, err
	}

	status.Running = true
	status.PID = ping.PID
	status.Version = ping.Version
	status.StartedAt = ping.StartedAt
	status.Browsers = browsers
	return status, nil
}
