package protocol

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/entrhq/pw/pkg/config"
	"github.com/entrhq/pw/pkg/contextstore"
	"github.com/entrhq/pw/pkg/logging"
	"github.com/entrhq/pw/pkg/tools"
	"github.com/entrhq/pw/pkg/tools/browser"
	"github.com/entrhq/pw/pkg/tools/profile"
	"github.com/entrhq/pw/pkg/types"
)

// Releaser is implemented by session sources that hold browser connections.
type Releaser interface {
	ReleaseAll() error
}

// Dispatcher routes envelopes to operations.
type Dispatcher struct {
	registry       *tools.Registry
	services       *tools.Services
	defaultProfile string
	baseOverrides  config.Overrides
	contextTTL     time.Duration
	logger         *logging.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithDefaultProfile sets the profile used when a request names none.
func WithDefaultProfile(name string) Option {
	return func(d *Dispatcher) { d.defaultProfile = name }
}

// WithBaseOverrides sets invocation-wide overrides; request overrides win.
func WithBaseOverrides(o config.Overrides) Option {
	return func(d *Dispatcher) { d.baseOverrides = o }
}

// WithContextTTL bounds how old an inherited context record may be.
func WithContextTTL(ttl time.Duration) Option {
	return func(d *Dispatcher) { d.contextTTL = ttl }
}

// WithLogger sets the dispatcher logger.
func WithLogger(l *logging.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// DefaultRegistry holds every operation.
func DefaultRegistry() *tools.Registry {
	ops := []tools.Operation{tools.NewPingOperation()}
	ops = append(ops, browser.Operations()...)
	ops = append(ops, profile.Operations()...)
	return tools.MustRegistry(ops...)
}

// NewDispatcher creates a dispatcher over registry and services.
func NewDispatcher(registry *tools.Registry, services *tools.Services, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry:   registry,
		services:   services,
		contextTTL: contextstore.DefaultTTL,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Registry returns the operation registry.
func (d *Dispatcher) Registry() *tools.Registry {
	return d.registry
}

// Dispatch runs one request. It never panics and always returns a response
// carrying the effective runtime.
func (d *Dispatcher) Dispatch(ctx context.Context, req RequestEnvelope) (resp ResponseEnvelope) {
	start := time.Now()
	resp = ResponseEnvelope{SchemaVersion: SchemaVersion, RequestID: req.RequestID, Op: req.Op}

	defer func() {
		if r := recover(); r != nil {
			d.logger.Errorf("panic in %s: %v\n%s", req.Op, r, debug.Stack())
			resp.fail(types.NewError(types.CodeInternal, "internal error in %s: %v", req.Op, r))
		}
		resp.DurationMs = time.Since(start).Milliseconds()
	}()

	rt, resolveErr := d.resolve(req)
	resp.EffectiveRuntime = rt

	if req.SchemaVersion != SchemaVersion {
		resp.fail(types.NewError(types.CodeInvalidInput,
			"unsupported schema version %d (expected %d)", req.SchemaVersion, SchemaVersion))
		return resp
	}
	op, ok := d.registry.Lookup(req.Op)
	if !ok {
		resp.fail(types.NewError(types.CodeInvalidInput, "unknown operation %s", req.Op))
		return resp
	}
	var degraded []tools.Diagnostic
	if resolveErr != nil {
		if tools.NeedsRuntime(op) {
			resp.fail(resolveErr)
			return resp
		}
		// Stored state can still be inspected and repaired
		fallback, err := d.resolveWithoutStore(req)
		if err != nil {
			resp.fail(resolveErr)
			return resp
		}
		d.logger.Warnf("%s runs without stored config of %s: %v", req.Op, fallback.Profile, resolveErr)
		rt = fallback
		resp.EffectiveRuntime = rt
		degraded = []tools.Diagnostic{{
			Level:   tools.DiagnosticWarning,
			Message: fmt.Sprintf("stored profile config ignored: %v", resolveErr),
			Source:  "profile",
		}}
	}

	inv := &tools.Invocation{Input: req.Input, Runtime: rt, Services: d.services}
	inv.Context, resp.Diagnostics = d.inherit(rt.Profile)
	resp.Diagnostics = append(degraded, resp.Diagnostics...)

	d.logger.Debugf("dispatch %s profile=%s browser=%s", req.Op, rt.Profile, rt.Browser)

	result, err := op.Execute(ctx, inv)
	if err != nil {
		d.logger.Warnf("%s failed: %v", req.Op, err)
		resp.fail(err)
		resp.Artifacts = d.captureFailure(ctx, req.Op, inv)
		return resp
	}
	if result == nil {
		result = &tools.Result{}
	}

	resp.OK = true
	resp.Inputs = result.Inputs
	resp.Data = result.Data
	resp.Artifacts = result.Artifacts
	resp.Diagnostics = append(resp.Diagnostics, result.Diagnostics...)

	if !result.Delta.IsEmpty() {
		delta := result.Delta
		resp.ContextDelta = &delta
		if d.services != nil && d.services.Context != nil {
			if _, err := d.services.Context.Set(rt.Profile, delta); err != nil {
				d.logger.Warnf("failed to persist context for %s: %v", rt.Profile, err)
				resp.Diagnostics = append(resp.Diagnostics, tools.Diagnostic{
					Level:   tools.DiagnosticWarning,
					Message: fmt.Sprintf("context not saved: %v", err),
					Source:  "context",
				})
			}
		}
	}
	return resp
}

// resolve layers the request over the invocation defaults and the stored
// profile. It only reads state. On failure it still returns the runtime
// that would have been used.
func (d *Dispatcher) resolve(req RequestEnvelope) (config.EffectiveRuntime, error) {
	name, overrides := d.selection(req)

	var cfg config.ProfileConfig
	var loadErr error
	if d.services != nil && d.services.Profiles != nil {
		cfg, _, loadErr = d.services.Profiles.Load(name)
	}

	rt, err := config.Resolve(name, cfg, overrides)
	if loadErr != nil {
		return rt, loadErr
	}
	return rt, err
}

// resolveWithoutStore resolves req as if its profile had no stored config.
func (d *Dispatcher) resolveWithoutStore(req RequestEnvelope) (config.EffectiveRuntime, error) {
	name, overrides := d.selection(req)
	return config.Resolve(name, config.ProfileConfig{}, overrides)
}

func (d *Dispatcher) selection(req RequestEnvelope) (string, config.Overrides) {
	var sel RuntimeSelector
	if req.Runtime != nil {
		sel = *req.Runtime
	}
	return config.ResolveProfileName(sel.Profile, d.defaultProfile), sel.Overrides.Over(d.baseOverrides)
}

// captureFailure saves the state of the page a failed operation acted on.
func (d *Dispatcher) captureFailure(ctx context.Context, op string, inv *tools.Invocation) []tools.Artifact {
	if inv.Page == nil || d.services == nil || d.services.ArtifactsDir == "" {
		return nil
	}
	dir := d.services.ArtifactsDir
	if d.services.Workspace != nil {
		resolved, err := d.services.Workspace.ResolvePath(dir)
		if err != nil {
			d.logger.Warnf("invalid artifacts dir %s: %v", dir, err)
			return nil
		}
		dir = resolved
	}
	return browser.CaptureFailure(ctx, inv.Page, dir, op, d.logger)
}

// inherit loads the context record operations may draw on. A missing or
// unreadable record degrades to an empty one.
func (d *Dispatcher) inherit(profile string) (contextstore.Record, []tools.Diagnostic) {
	if d.services == nil || d.services.Context == nil {
		return contextstore.Record{}, nil
	}

	store := d.services.Context
	record, err := store.Get(profile)
	if err != nil {
		d.logger.Warnf("ignoring context for %s: %v", profile, err)
		return contextstore.Record{}, []tools.Diagnostic{{
			Level:   tools.DiagnosticWarning,
			Message: fmt.Sprintf("cached context ignored: %v", err),
			Source:  "context",
		}}
	}
	if record.Stale(store.Now(), d.contextTTL) {
		d.logger.Debugf("context for %s is older than %s, not inherited", profile, d.contextTTL)
		return contextstore.Record{}, []tools.Diagnostic{{
			Level:   tools.DiagnosticInfo,
			Message: fmt.Sprintf("cached context older than %s was not inherited", d.contextTTL),
			Source:  "context",
		}}
	}
	return record, nil
}

// Close releases browser connections held for this dispatcher.
func (d *Dispatcher) Close() error {
	if d.services == nil {
		return nil
	}
	if r, ok := d.services.Sessions.(Releaser); ok {
		return r.ReleaseAll()
	}
	return nil
}
