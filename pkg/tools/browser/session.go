package browser

import (
	"context"

	"github.com/entrhq/pw/pkg/tools"
	"github.com/entrhq/pw/pkg/types"
)

func sessions(inv *tools.Invocation) (tools.SessionSource, error) {
	if inv.Services == nil || inv.Services.Sessions == nil {
		return nil, types.NewError(types.CodeInternal, "no session source configured")
	}
	return inv.Services.Sessions, nil
}

// SessionStatusOperation reports whether the profile has a reusable browser.
type SessionStatusOperation struct{}

// NewSessionStatusOperation creates the session.status operation.
func NewSessionStatusOperation() *SessionStatusOperation {
	return &SessionStatusOperation{}
}

func (o *SessionStatusOperation) Name() string { return "session.status" }

func (o *SessionStatusOperation) Description() string {
	return "Show the profile's session descriptor and whether its browser is still alive"
}

// Execute inspects the descriptor. It never launches or connects.
func (o *SessionStatusOperation) Execute(ctx context.Context, inv *tools.Invocation) (*tools.Result, error) {
	src, err := sessions(inv)
	if err != nil {
		return nil, err
	}
	status, err := src.Status(ctx, inv.Runtime.Profile)
	if err != nil {
		return nil, err
	}
	return &tools.Result{Data: status}, nil
}

// SessionClearOperation forgets the profile's descriptor without stopping
// the browser.
type SessionClearOperation struct{}

// NewSessionClearOperation creates the session.clear operation.
func NewSessionClearOperation() *SessionClearOperation {
	return &SessionClearOperation{}
}

func (o *SessionClearOperation) Name() string { return "session.clear" }

func (o *SessionClearOperation) Description() string {
	return "Forget the profile's session descriptor; the next command starts cold"
}

// Execute removes the descriptor.
func (o *SessionClearOperation) Execute(ctx context.Context, inv *tools.Invocation) (*tools.Result, error) {
	src, err := sessions(inv)
	if err != nil {
		return nil, err
	}
	removed, err := src.Clear(inv.Runtime.Profile)
	if err != nil {
		return nil, err
	}
	return &tools.Result{Data: map[string]bool{"cleared": removed}}, nil
}

// SessionStopOperation stops the profile's browser and removes its descriptor.
type SessionStopOperation struct{}

// NewSessionStopOperation creates the session.stop operation.
func NewSessionStopOperation() *SessionStopOperation {
	return &SessionStopOperation{}
}

func (o *SessionStopOperation) Name() string        { return "session.stop" }
func (o *SessionStopOperation) Description() string { return "Stop the profile's browser" }

// Execute stops the browser.
func (o *SessionStopOperation) Execute(ctx context.Context, inv *tools.Invocation) (*tools.Result, error) {
	src, err := sessions(inv)
	if err != nil {
		return nil, err
	}
	stopped, err := src.Stop(ctx, inv.Runtime.Profile)
	if err != nil {
		return nil, err
	}
	return &tools.Result{Data: map[string]bool{"stopped": stopped}}, nil
}

// DaemonStatusOperation reports whether the browser pool daemon is running.
type DaemonStatusOperation struct{}

// NewDaemonStatusOperation creates the daemon.status operation.
func NewDaemonStatusOperation() *DaemonStatusOperation {
	return &DaemonStatusOperation{}
}

func (o *DaemonStatusOperation) Name() string        { return "daemon.status" }
func (o *DaemonStatusOperation) Description() string { return "Report the daemon and its pooled browsers" }

// Execute queries the daemon. An unreachable daemon is a normal answer,
// not an error.
func (o *DaemonStatusOperation) Execute(ctx context.Context, inv *tools.Invocation) (*tools.Result, error) {
	if inv.Services == nil || inv.Services.Daemon == nil {
		return &tools.Result{Data: map[string]bool{"running": false}}, nil
	}

	status, err := inv.Services.Daemon.Status(ctx)
	if err != nil {
		if types.CodeOf(err) == types.CodeDaemonUnavailable {
			res := &tools.Result{Data: status}
			res.Warn("daemon", "%v", err)
			return res, nil
		}
		return nil, err
	}
	return &tools.Result{Data: status}, nil
}
