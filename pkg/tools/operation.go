// Package tools defines the operations a request envelope can name and the
// closed registry that maps canonical operation ids to them.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/entrhq/pw/pkg/config"
	"github.com/entrhq/pw/pkg/contextstore"
	"github.com/entrhq/pw/pkg/daemon"
	"github.com/entrhq/pw/pkg/engine"
	"github.com/entrhq/pw/pkg/logging"
	"github.com/entrhq/pw/pkg/session"
	"github.com/entrhq/pw/pkg/types"
	"github.com/entrhq/pw/pkg/workspace"
)

// Operation is a single request handler.
type Operation interface {
	// Name returns the canonical operation id (e.g. "nav", "page.text").
	Name() string

	// Description returns a one-line summary for help output.
	Description() string

	// Execute runs the operation. Errors should be *types.Error so the
	// dispatcher can report a stable code; anything else is INTERNAL_ERROR.
	Execute(ctx context.Context, inv *Invocation) (*Result, error)
}

// RuntimeOptional is implemented by operations that only touch stored
// state. They still run when the profile's stored config is unusable.
type RuntimeOptional interface {
	NeedsRuntime() bool
}

// NeedsRuntime reports whether op requires the profile's stored config to
// resolve cleanly.
func NeedsRuntime(op Operation) bool {
	if o, ok := op.(RuntimeOptional); ok {
		return o.NeedsRuntime()
	}
	return true
}

// SessionSource hands out browser pages and manages profile sessions.
type SessionSource interface {
	Page(ctx context.Context, rt config.EffectiveRuntime) (engine.Page, error)
	Browser(ctx context.Context, rt config.EffectiveRuntime) (engine.Browser, error)
	Status(ctx context.Context, profile string) (session.Classification, error)
	Clear(profile string) (bool, error)
	Stop(ctx context.Context, profile string) (bool, error)
}

// DaemonStatus reports on the browser pool daemon.
type DaemonStatus interface {
	Status(ctx context.Context) (daemon.Status, error)
}

// Services are the long-lived collaborators operations draw on.
type Services struct {
	Workspace *workspace.Workspace
	Profiles  *config.ProfileStore
	Context   *contextstore.Store
	Sessions  SessionSource
	Daemon    DaemonStatus
	Logger    *logging.Logger
	// ArtifactsDir receives failure screenshots and HTML. Empty disables
	// failure capture.
	ArtifactsDir string
}

// Invocation is one call of an operation.
type Invocation struct {
	Input    json.RawMessage
	Runtime  config.EffectiveRuntime
	Context  contextstore.Record
	Services *Services

	// Page is the page the operation acted on, set once it is opened.
	Page engine.Page
}

// Decode unmarshals the invocation input into v. Absent input leaves v at
// its zero value; unknown fields are rejected.
func (inv *Invocation) Decode(v interface{}) error {
	raw := bytes.TrimSpace(inv.Input)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return types.WrapError(types.CodeInvalidInput, err, "invalid input")
	}
	return nil
}

// Artifact is a file an operation produced.
type Artifact struct {
	Kind string `json:"kind"`
	Path string `json:"path"`
}

// DiagnosticLevel grades a diagnostic.
type DiagnosticLevel string

const (
	DiagnosticInfo    DiagnosticLevel = "info"
	DiagnosticWarning DiagnosticLevel = "warning"
	DiagnosticError   DiagnosticLevel = "error"
)

// Diagnostic is a non-fatal note attached to a response.
type Diagnostic struct {
	Level   DiagnosticLevel `json:"level"`
	Message string          `json:"message"`
	Source  string          `json:"source,omitempty"`
}

// Result is what a successful operation returns.
type Result struct {
	// Inputs echoes the effective inputs after context inheritance.
	Inputs      interface{}
	Data        interface{}
	Artifacts   []Artifact
	Diagnostics []Diagnostic
	Delta       contextstore.Delta
}

// Warn appends a warning diagnostic.
func (r *Result) Warn(source, format string, args ...interface{}) {
	r.Diagnostics = append(r.Diagnostics, Diagnostic{
		Level:   DiagnosticWarning,
		Message: fmt.Sprintf(format, args...),
		Source:  source,
	})
}
