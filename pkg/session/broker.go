// Package session decides, per (workspace, profile), whether a browser left
// running by an earlier invocation can be reused, and otherwise starts one.
//
// A profile is in one of four states:
//
//	Cold            no usable descriptor
//	Warm-candidate  a descriptor matching the request exists, liveness unknown
//	Warm            the candidate's process is alive and its endpoint accepts connections
//	Stale           the descriptor is unusable and is deleted before a cold start
//
// Only chromium exposes a reconnect endpoint; other kinds always start cold
// and never leave a descriptor behind.
package session

import (
	"context"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/entrhq/pw/pkg/config"
	"github.com/entrhq/pw/pkg/engine"
	"github.com/entrhq/pw/pkg/logging"
	"github.com/entrhq/pw/pkg/procutil"
	"github.com/entrhq/pw/pkg/types"
	"github.com/entrhq/pw/pkg/version"
	"github.com/entrhq/pw/pkg/workspace"
)

// State is a profile's position in the reuse state machine.
type State string

const (
	StateCold          State = "cold"
	StateWarmCandidate State = "warm-candidate"
	StateWarm          State = "warm"
	StateStale         State = "stale"
)

const userDataDirName = "user-data"

// Request describes the browser an operation needs.
type Request struct {
	Profile     string
	Browser     types.BrowserKind
	Headless    bool
	CDPEndpoint string
	UseDaemon   bool
	TimeoutMs   int
}

// RequestFromRuntime builds a Request from a resolved runtime.
func RequestFromRuntime(rt config.EffectiveRuntime) Request {
	return Request{
		Profile:     rt.Profile,
		Browser:     rt.Browser,
		Headless:    rt.Headless,
		CDPEndpoint: rt.CDPEndpoint,
		UseDaemon:   rt.UseDaemon,
		TimeoutMs:   rt.TimeoutMs,
	}
}

// Classification is the result of inspecting a profile's descriptor.
type Classification struct {
	State      State       `json:"state"`
	Descriptor *Descriptor `json:"descriptor,omitempty"`
	Reason     string      `json:"reason,omitempty"`
}

// Spawner asks a browser pool (the daemon) for a chromium process.
type Spawner interface {
	Spawn(ctx context.Context, kind types.BrowserKind, headless bool) (*engine.Process, error)
	Kill(ctx context.Context, port int) error
}

// Broker implements the reuse state machine.
type Broker struct {
	ws          *workspace.Workspace
	descriptors *DescriptorStore
	engine      engine.Engine
	launcher    engine.Launcher
	probe       ProcessProbe
	spawner     Spawner
	fingerprint string
	terminate   func(pid int) error
	now         func() time.Time
	logger      *logging.Logger
}

// BrokerOption configures a Broker.
type BrokerOption func(*Broker)

// WithLauncher sets the direct chromium launcher.
func WithLauncher(l engine.Launcher) BrokerOption {
	return func(b *Broker) { b.launcher = l }
}

// WithProbe replaces the OS process probe.
func WithProbe(p ProcessProbe) BrokerOption {
	return func(b *Broker) { b.probe = p }
}

// WithSpawner enables cold starts through a daemon pool.
func WithSpawner(s Spawner) BrokerOption {
	return func(b *Broker) { b.spawner = s }
}

// WithFingerprint overrides the build fingerprint stored in descriptors.
func WithFingerprint(fp string) BrokerOption {
	return func(b *Broker) { b.fingerprint = fp }
}

// WithTerminate replaces the function used to stop browser processes.
func WithTerminate(fn func(pid int) error) BrokerOption {
	return func(b *Broker) { b.terminate = fn }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) BrokerOption {
	return func(b *Broker) { b.logger = l }
}

// NewBroker creates a broker for a workspace.
func NewBroker(ws *workspace.Workspace, eng engine.Engine, opts ...BrokerOption) *Broker {
	b := &Broker{
		ws:          ws,
		descriptors: NewDescriptorStore(ws),
		engine:      eng,
		probe:       NewOSProbe(),
		fingerprint: version.Fingerprint(),
		terminate:   procutil.TerminateByPID,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Classify inspects the descriptor for req without changing anything.
// Calling it repeatedly on an unchanged descriptor yields the same state.
func (b *Broker) Classify(ctx context.Context, req Request) (Classification, error) {
	desc, err := b.descriptors.Load(req.Profile)
	if err != nil {
		return Classification{}, err
	}
	if desc == nil {
		return Classification{State: StateCold}, nil
	}

	if reason := desc.Mismatch(req, b.fingerprint); reason != "" {
		return Classification{State: StateStale, Descriptor: desc, Reason: reason}, nil
	}
	b.logger.Debugf("profile %s: %s pid=%d endpoint=%s", req.Profile, StateWarmCandidate, desc.PID, desc.Endpoint)
	return b.checkLiveness(ctx, desc), nil
}

// Inspect reports the liveness of whatever descriptor the profile has,
// regardless of what a request would ask for.
func (b *Broker) Inspect(ctx context.Context, profile string) (Classification, error) {
	desc, err := b.descriptors.Load(profile)
	if err != nil {
		return Classification{}, err
	}
	if desc == nil {
		return Classification{State: StateCold}, nil
	}
	if desc.Legacy() {
		return Classification{State: StateStale, Descriptor: desc, Reason: "descriptor has no schema version"}, nil
	}
	return b.checkLiveness(ctx, desc), nil
}

// checkLiveness runs the two-stage check on a warm candidate.
func (b *Broker) checkLiveness(ctx context.Context, desc *Descriptor) Classification {
	if !b.probe.Alive(desc.PID, desc.Browser) {
		return Classification{State: StateStale, Descriptor: desc, Reason: "browser process is not running"}
	}
	if !b.probe.Connectable(ctx, desc.Endpoint) {
		return Classification{State: StateStale, Descriptor: desc, Reason: "endpoint " + desc.Endpoint + " refused the connection"}
	}
	return Classification{State: StateWarm, Descriptor: desc}
}

// Acquire returns a session for req. A connection-refused failure triggers
// exactly one self-heal: the descriptor and the engine connection are
// discarded and acquisition runs once more.
func (b *Broker) Acquire(ctx context.Context, req Request) (*Session, error) {
	if err := req.Browser.Validate(); err != nil {
		return nil, err
	}

	s, err := b.acquire(ctx, req)
	if err == nil || !types.IsConnectionRefused(err) {
		return s, err
	}

	b.logger.Warnf("profile %s: %v; clearing session state and retrying once", req.Profile, err)
	if _, delErr := b.descriptors.Delete(req.Profile); delErr != nil {
		return nil, delErr
	}
	if resetErr := b.engine.Reset(); resetErr != nil {
		b.logger.Warnf("engine reset failed: %v", resetErr)
	}

	s, err = b.acquire(ctx, req)
	if err != nil && types.IsConnectionRefused(err) {
		return nil, types.WrapError(types.CodeSessionError, err, "browser session unrecoverable after retry")
	}
	return s, err
}

func (b *Broker) acquire(ctx context.Context, req Request) (*Session, error) {
	if req.CDPEndpoint != "" {
		browser, err := b.engine.Connect(ctx, req.CDPEndpoint, 0)
		if err != nil {
			return nil, err
		}
		return &Session{Profile: req.Profile, Browser: browser, State: StateWarm, Source: SourceEndpoint, keepAlive: true}, nil
	}

	if !req.Browser.SupportsReconnect() {
		browser, err := b.engine.Launch(ctx, engine.LaunchOptions{Kind: req.Browser, Headless: req.Headless, TimeoutMs: req.TimeoutMs})
		if err != nil {
			return nil, err
		}
		return &Session{Profile: req.Profile, Browser: browser, State: StateCold, Source: SourceEngine}, nil
	}

	cls, err := b.Classify(ctx, req)
	if err != nil {
		return nil, err
	}

	switch cls.State {
	case StateWarm:
		desc := cls.Descriptor
		browser, err := b.engine.Connect(ctx, desc.Endpoint, desc.PID)
		if err != nil {
			return nil, err
		}
		b.logger.Infof("profile %s: reusing %s pid=%d at %s", req.Profile, desc.Browser, desc.PID, desc.Endpoint)
		return &Session{Profile: req.Profile, Browser: browser, Descriptor: desc, State: StateWarm, Source: desc.Source, keepAlive: true}, nil
	case StateStale:
		b.logger.Infof("profile %s: discarding stale session (%s)", req.Profile, cls.Reason)
		b.stopStale(ctx, cls.Descriptor)
		if _, err := b.descriptors.Delete(req.Profile); err != nil {
			return nil, err
		}
	}

	return b.cold(ctx, req)
}

func (b *Broker) cold(ctx context.Context, req Request) (*Session, error) {
	var (
		proc   *engine.Process
		source Source
	)

	if req.UseDaemon && b.spawner != nil {
		spawned, err := b.spawner.Spawn(ctx, req.Browser, req.Headless)
		switch {
		case err == nil:
			proc, source = spawned, SourceDaemon
		case types.CodeOf(err) == types.CodeDaemonUnavailable:
			b.logger.Debugf("daemon unavailable, launching directly: %v", err)
		default:
			return nil, err
		}
	}

	if proc == nil {
		if b.launcher == nil {
			return nil, types.NewError(types.CodeBrowserLaunchFailed, "no chromium launcher configured")
		}
		dir, err := b.ws.ProfileDir(req.Profile)
		if err != nil {
			return nil, types.WrapError(types.CodeInvalidInput, err, "invalid profile")
		}
		launched, err := b.launcher.Launch(ctx, engine.LaunchSpec{
			Headless:    req.Headless,
			UserDataDir: filepath.Join(dir, userDataDirName),
		})
		if err != nil {
			return nil, err
		}
		proc, source = launched, SourceLaunch
	}

	browser, err := b.engine.Connect(ctx, proc.Endpoint, proc.PID)
	if err != nil {
		if source == SourceLaunch {
			_ = b.terminate(proc.PID)
		}
		return nil, err
	}

	desc := &Descriptor{
		SchemaVersion: DescriptorSchemaVersion,
		PID:           proc.PID,
		Browser:       req.Browser,
		Headless:      req.Headless,
		Endpoint:      proc.Endpoint,
		Port:          proc.Port,
		Fingerprint:   b.fingerprint,
		SessionKey:    b.ws.ID() + ":" + req.Profile + ":" + uuid.NewString(),
		Source:        source,
		CreatedAt:     b.now().UTC(),
	}
	if err := b.descriptors.Save(req.Profile, desc); err != nil {
		_ = browser.Disconnect()
		return nil, err
	}

	b.logger.Infof("profile %s: started %s pid=%d via %s at %s", req.Profile, req.Browser, proc.PID, source, proc.Endpoint)
	return &Session{Profile: req.Profile, Browser: browser, Descriptor: desc, State: StateCold, Source: source, keepAlive: true}, nil
}

// stopStale stops a browser that is still running under a descriptor that no
// longer matches, so the relaunch does not collide with it on the profile
// directory or the daemon port. Failures are logged.
func (b *Broker) stopStale(ctx context.Context, desc *Descriptor) {
	if desc == nil {
		return
	}
	switch desc.Source {
	case SourceDaemon:
		if b.spawner == nil || desc.Port <= 0 {
			return
		}
		if err := b.spawner.Kill(ctx, desc.Port); err != nil {
			b.logger.Warnf("daemon kill of stale browser on port %d failed: %v", desc.Port, err)
		}
	case SourceLaunch:
		if desc.PID <= 0 || !b.probe.Alive(desc.PID, desc.Browser) {
			return
		}
		if err := b.terminate(desc.PID); err != nil {
			b.logger.Warnf("failed to stop stale browser pid %d: %v", desc.PID, err)
		}
	}
}

// Clear forgets the profile's descriptor without stopping the browser.
func (b *Broker) Clear(profile string) (bool, error) {
	return b.descriptors.Delete(profile)
}

// Stop terminates the profile's recorded browser and removes its descriptor.
// Daemon-owned browsers are returned to the pool through the daemon.
func (b *Broker) Stop(ctx context.Context, profile string) (bool, error) {
	desc, err := b.descriptors.Load(profile)
	if err != nil {
		return false, err
	}
	if desc == nil {
		return false, nil
	}

	stopped := false
	if desc.Source == SourceDaemon && b.spawner != nil && desc.Port > 0 {
		if err := b.spawner.Kill(ctx, desc.Port); err == nil {
			stopped = true
		} else {
			b.logger.Warnf("daemon kill of port %d failed: %v", desc.Port, err)
		}
	}
	if !stopped && desc.PID > 0 && b.probe.Alive(desc.PID, desc.Browser) {
		if err := b.terminate(desc.PID); err != nil {
			return false, types.WrapError(types.CodeSessionError, err, "failed to stop browser pid %d", desc.PID)
		}
		stopped = true
	}

	if _, err := b.descriptors.Delete(profile); err != nil {
		return stopped, err
	}
	return stopped, nil
}
