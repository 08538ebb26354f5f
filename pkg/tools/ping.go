package tools

import (
	"context"

	"github.com/entrhq/pw/pkg/version"
)

// PingOperation answers liveness checks without touching any state.
type PingOperation struct{}

// NewPingOperation creates the ping operation.
func NewPingOperation() *PingOperation {
	return &PingOperation{}
}

func (o *PingOperation) Name() string        { return "ping" }
func (o *PingOperation) Description() string { return "Check that the dispatcher is alive" }

func (o *PingOperation) NeedsRuntime() bool { return false }

// Execute implements Operation.
func (o *PingOperation) Execute(ctx context.Context, inv *Invocation) (*Result, error) {
	return &Result{Data: map[string]string{
		"version":     version.Version,
		"fingerprint": version.Fingerprint(),
	}}, nil
}
