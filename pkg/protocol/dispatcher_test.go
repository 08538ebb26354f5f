package protocol

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/pw/pkg/config"
	"github.com/entrhq/pw/pkg/contextstore"
	"github.com/entrhq/pw/pkg/engine/enginetest"
	"github.com/entrhq/pw/pkg/session"
	"github.com/entrhq/pw/pkg/tools"
	"github.com/entrhq/pw/pkg/tools/browser"
	"github.com/entrhq/pw/pkg/types"
	"github.com/entrhq/pw/pkg/workspace"
)

type liveProbe struct{}

func (liveProbe) Alive(pid int, kind types.BrowserKind) bool           { return pid > 0 }
func (liveProbe) Connectable(ctx context.Context, endpoint string) bool { return true }

type env struct {
	ws           *workspace.Workspace
	engine       *enginetest.Engine
	launcher     *enginetest.Launcher
	artifactsDir string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ws, err := workspace.New(t.TempDir())
	require.NoError(t, err)
	eng := enginetest.NewEngine()
	eng.Pages["https://example.com"] = "Example Domain"
	return &env{ws: ws, engine: eng, launcher: &enginetest.Launcher{}}
}

// dispatcher builds what one invocation of the binary would build.
func (e *env) dispatcher(t *testing.T, registry *tools.Registry) *Dispatcher {
	t.Helper()
	broker := session.NewBroker(e.ws, e.engine,
		session.WithLauncher(e.launcher),
		session.WithProbe(liveProbe{}),
		session.WithFingerprint("pw/test"),
		session.WithTerminate(func(int) error { return nil }),
	)
	if registry == nil {
		registry = DefaultRegistry()
	}
	d := NewDispatcher(registry, &tools.Services{
		Workspace: e.ws,
		Profiles:  config.NewProfileStore(e.ws),
		Context:   contextstore.NewStore(e.ws),
		Sessions:  session.NewManager(broker),

		ArtifactsDir: e.artifactsDir,
	})
	t.Cleanup(func() { _ = d.Close() })
	return d
}

func request(op string, input string) RequestEnvelope {
	req := RequestEnvelope{SchemaVersion: SchemaVersion, Op: op}
	if input != "" {
		req.Input = json.RawMessage(input)
	}
	return req
}

func TestPingScenario(t *testing.T) {
	e := newEnv(t)
	d := e.dispatcher(t, nil)

	resp := d.Dispatch(context.Background(), RequestEnvelope{SchemaVersion: 5, Op: "ping"})
	assert.True(t, resp.OK)
	assert.Equal(t, 5, resp.SchemaVersion)
	assert.Equal(t, "ping", resp.Op)
	assert.Nil(t, resp.Error)
	assert.Equal(t, types.BrowserChromium, resp.EffectiveRuntime.Browser)
	assert.Equal(t, "default", resp.EffectiveRuntime.Profile)
	assert.Zero(t, e.launcher.Count())
}

func TestNavThenInheritedURL(t *testing.T) {
	e := newEnv(t)
	chromium := "chromium"

	first := request("nav", `{"url":"https://example.com"}`)
	first.Runtime = &RuntimeSelector{Overrides: config.Overrides{Browser: &chromium}}

	resp := e.dispatcher(t, nil).Dispatch(context.Background(), first)
	require.True(t, resp.OK, "%+v", resp.Error)
	assert.Equal(t, types.BrowserChromium, resp.EffectiveRuntime.Browser)
	require.NotNil(t, resp.ContextDelta)
	assert.Equal(t, "https://example.com", resp.ContextDelta.URL)

	// A later invocation, same profile, no url.
	resp = e.dispatcher(t, nil).Dispatch(context.Background(), request("nav", ""))
	require.True(t, resp.OK, "%+v", resp.Error)
	assert.Equal(t, "https://example.com", resp.Inputs.(browser.NavigateInput).URL)
	assert.Equal(t, "https://example.com", resp.ContextDelta.URL)

	assert.Equal(t, 1, e.launcher.Count(), "second invocation reuses the warm browser")
	assert.Len(t, e.engine.Connects, 2)
}

func TestBadSchemaHasNoSideEffects(t *testing.T) {
	for _, version := range []int{0, 4, 6} {
		e := newEnv(t)
		d := e.dispatcher(t, nil)

		req := request("nav", `{"url":"https://example.com"}`)
		req.SchemaVersion = version
		resp := d.Dispatch(context.Background(), req)

		assert.False(t, resp.OK)
		require.NotNil(t, resp.Error)
		assert.Equal(t, types.CodeInvalidInput, resp.Error.Code)
		assert.Contains(t, resp.Error.Message, "unsupported schema version")
		assert.Equal(t, types.BrowserChromium, resp.EffectiveRuntime.Browser)
		assert.Zero(t, e.launcher.Count())

		_, err := os.Stat(e.ws.StateDir())
		assert.True(t, os.IsNotExist(err), "state dir must not be created")
	}
}

func TestUnknownOperation(t *testing.T) {
	e := newEnv(t)
	resp := e.dispatcher(t, nil).Dispatch(context.Background(), request("navigate", `{"url":"https://example.com"}`))

	assert.False(t, resp.OK)
	assert.Equal(t, types.CodeInvalidInput, resp.Error.Code)
	assert.Equal(t, "unknown operation navigate", resp.Error.Message)
	_, err := os.Stat(e.ws.StateDir())
	assert.True(t, os.IsNotExist(err))
}

func TestInvalidOverrideStillReportsRuntime(t *testing.T) {
	e := newEnv(t)
	bad := "netscape"
	req := request("ping", "")
	req.Runtime = &RuntimeSelector{Profile: "work", Overrides: config.Overrides{Browser: &bad}}

	resp := e.dispatcher(t, nil).Dispatch(context.Background(), req)
	assert.False(t, resp.OK)
	assert.Equal(t, types.CodeInvalidInput, resp.Error.Code)
	assert.Equal(t, "work", resp.EffectiveRuntime.Profile)
	assert.Equal(t, config.DefaultTimeoutMs, resp.EffectiveRuntime.TimeoutMs)
}

func TestFailureWritesNoContext(t *testing.T) {
	e := newEnv(t)
	d := e.dispatcher(t, nil)

	resp := d.Dispatch(context.Background(), request("click", `{"url":"https://example.com","selector":"#missing"}`))
	assert.False(t, resp.OK)
	assert.Equal(t, types.CodeSelectorNotFound, resp.Error.Code)
	assert.Nil(t, resp.ContextDelta)

	rec, err := contextstore.NewStore(e.ws).Get("default")
	require.NoError(t, err)
	assert.Equal(t, contextstore.Record{}, rec)
}

func TestStaleContextNotInherited(t *testing.T) {
	e := newEnv(t)
	_, err := e.ws.EnsureProfileDir("default")
	require.NoError(t, err)
	path, err := e.ws.ProfileFile("default", "cache.json")
	require.NoError(t, err)
	old := contextstore.Record{LastURL: "https://example.com", LastUsedAt: time.Now().Add(-2 * time.Hour)}
	data, err := json.Marshal(old)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	resp := e.dispatcher(t, nil).Dispatch(context.Background(), request("nav", ""))
	assert.False(t, resp.OK)
	assert.Equal(t, types.CodeInvalidInput, resp.Error.Code)
	require.Len(t, resp.Diagnostics, 1)
	assert.Equal(t, tools.DiagnosticInfo, resp.Diagnostics[0].Level)
}

type panicOp struct{}

func (panicOp) Name() string        { return "boom" }
func (panicOp) Description() string { return "panics" }
func (panicOp) Execute(ctx context.Context, inv *tools.Invocation) (*tools.Result, error) {
	panic("kaboom")
}

func TestDispatchNeverFaults(t *testing.T) {
	e := newEnv(t)
	d := e.dispatcher(t, tools.MustRegistry(panicOp{}, tools.NewPingOperation()))

	resp := d.Dispatch(context.Background(), request("boom", ""))
	assert.False(t, resp.OK)
	assert.Equal(t, types.CodeInternal, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, "kaboom")

	full := e.dispatcher(t, nil)
	inputs := []RequestEnvelope{
		{},
		{SchemaVersion: 5},
		{SchemaVersion: 5, Op: "nav", Input: json.RawMessage(`[1,2,3]`)},
		{SchemaVersion: 5, Op: "page.eval", Input: json.RawMessage(`{"expression":42}`)},
		{SchemaVersion: 5, Op: "profile.set", Input: json.RawMessage(`{"timeoutMs":"soon"}`)},
		{SchemaVersion: 5, Op: "wait", Input: json.RawMessage(`{"url":"https://example.com","selector":"x","timeoutMs":-5}`)},
		{SchemaVersion: 5, Op: "screenshot", Runtime: &RuntimeSelector{Profile: "../../etc"}},
	}
	for _, req := range inputs {
		assert.NotPanics(t, func() {
			resp := full.Dispatch(context.Background(), req)
			assert.False(t, resp.OK, "%+v", req)
			assert.NotNil(t, resp.Error)
		})
	}
}

func TestServe(t *testing.T) {
	e := newEnv(t)
	d := e.dispatcher(t, nil)

	in := strings.Join([]string{
		``,
		`ping`,
		`{not json`,
		`{"schemaVersion":5,"requestId":"a","op":"nav","input":{"url":"https://example.com"}}`,
		`   `,
		`{"schemaVersion":5,"requestId":"b","op":"page.text","input":{"selector":"h1"}}`,
		`{"schemaVersion":5,"requestId":"c","op":"ping"}`,
		`{"schemaVersion":5,"requestId":"d","op":"quit"}`,
		`{"schemaVersion":5,"requestId":"e","op":"nav"}`,
	}, "\n")

	var out bytes.Buffer
	require.NoError(t, d.Serve(context.Background(), strings.NewReader(in), &out))

	var responses []ResponseEnvelope
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		var resp ResponseEnvelope
		require.NoError(t, json.Unmarshal([]byte(line), &resp), line)
		responses = append(responses, resp)
	}
	require.Len(t, responses, 6)

	assert.True(t, responses[0].OK)
	assert.Equal(t, "ping", responses[0].Op)

	assert.False(t, responses[1].OK)
	assert.Equal(t, types.CodeInvalidInput, responses[1].Error.Code)

	assert.True(t, responses[2].OK)
	assert.Equal(t, "a", responses[2].RequestID)

	// page.text inherits the url from the previous line; the fake page has no h1.
	assert.Equal(t, "b", responses[3].RequestID)
	assert.Equal(t, types.CodeSelectorNotFound, responses[3].Error.Code)

	assert.Equal(t, "c", responses[4].RequestID)
	assert.True(t, responses[4].OK)

	assert.Equal(t, "quit", responses[5].Op)
	assert.True(t, responses[5].OK)

	assert.Equal(t, 1, e.launcher.Count())
}

func TestServeStopsOnCancel(t *testing.T) {
	e := newEnv(t)
	d := e.dispatcher(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	err := d.Serve(ctx, strings.NewReader("ping\n"), &out)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, out.String())
}

func TestProfileResolutionReadsStore(t *testing.T) {
	e := newEnv(t)
	d := e.dispatcher(t, nil)

	set := request("profile.set", `{"browser":"firefox","baseUrl":"https://example.com"}`)
	set.Runtime = &RuntimeSelector{Profile: "ff"}
	resp := d.Dispatch(context.Background(), set)
	require.True(t, resp.OK, "%+v", resp.Error)

	show := request("profile.show", "")
	show.Runtime = &RuntimeSelector{Profile: "ff"}
	resp = d.Dispatch(context.Background(), show)
	require.True(t, resp.OK)
	assert.Equal(t, types.BrowserFirefox, resp.EffectiveRuntime.Browser)
	assert.Equal(t, "https://example.com", resp.EffectiveRuntime.BaseURL)

	assert.FileExists(t, filepath.Join(e.ws.StateDir(), "profiles", "ff", "config.yaml"))
}

func TestDefaultProfileAndBaseOverrides(t *testing.T) {
	e := newEnv(t)
	off := false
	d := NewDispatcher(DefaultRegistry(), &tools.Services{Profiles: config.NewProfileStore(e.ws)},
		WithDefaultProfile("ci"),
		WithBaseOverrides(config.Overrides{UseDaemon: &off}),
	)

	resp := d.Dispatch(context.Background(), request("ping", ""))
	assert.Equal(t, "ci", resp.EffectiveRuntime.Profile)
	assert.False(t, resp.EffectiveRuntime.UseDaemon)

	on := true
	req := request("ping", "")
	req.Runtime = &RuntimeSelector{Overrides: config.Overrides{UseDaemon: &on}}
	resp = d.Dispatch(context.Background(), req)
	assert.True(t, resp.EffectiveRuntime.UseDaemon)
}

func TestDispatchRaw(t *testing.T) {
	e := newEnv(t)
	d := e.dispatcher(t, nil)

	resp := d.DispatchRaw(context.Background(), []byte("{\n  \"schemaVersion\": 5,\n  \"op\": \"ping\"\n}\n"))
	assert.True(t, resp.OK)
	assert.Equal(t, "ping", resp.Op)

	resp = d.DispatchRaw(context.Background(), []byte("nope"))
	assert.False(t, resp.OK)
	assert.Equal(t, types.CodeInvalidInput, resp.Error.Code)
	assert.Equal(t, "default", resp.EffectiveRuntime.Profile)
}

func writeProfileConfig(t *testing.T, e *env, profile, contents string) {
	t.Helper()
	dir, err := e.ws.EnsureProfileDir(profile)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(contents), 0600))
}

func TestUnusableProfileConfig(t *testing.T) {
	tests := []struct {
		name     string
		contents string
		code     types.ErrorCode
	}{
		{"undecodable", "browser: [unclosed", types.CodeIOError},
		{"invalid browser", "browser: netscape\n", types.CodeInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			d := e.dispatcher(t, nil)
			writeProfileConfig(t, e, "default", tt.contents)

			resp := d.Dispatch(context.Background(), request("nav", `{"url":"https://example.com"}`))
			assert.False(t, resp.OK)
			assert.Equal(t, tt.code, resp.Error.Code)
			assert.Zero(t, e.launcher.Count())

			resp = d.Dispatch(context.Background(), request("ping", ""))
			require.True(t, resp.OK, "%+v", resp.Error)
			require.NotEmpty(t, resp.Diagnostics)
			assert.Equal(t, tools.DiagnosticWarning, resp.Diagnostics[0].Level)
			assert.Equal(t, "profile", resp.Diagnostics[0].Source)
			assert.Equal(t, types.BrowserChromium, resp.EffectiveRuntime.Browser)

			resp = d.Dispatch(context.Background(), request("profile.delete", ""))
			require.True(t, resp.OK, "%+v", resp.Error)
			assert.Equal(t, true, resp.Data.(map[string]interface{})["deleted"])
			assert.NoFileExists(t, filepath.Join(e.ws.StateDir(), "profiles", "default", "config.yaml"))

			resp = d.Dispatch(context.Background(), request("nav", `{"url":"https://example.com"}`))
			assert.True(t, resp.OK, "%+v", resp.Error)
		})
	}
}

func TestProfileSetRepairsUnusableConfig(t *testing.T) {
	e := newEnv(t)
	d := e.dispatcher(t, nil)
	writeProfileConfig(t, e, "default", "browser: netscape\n")

	resp := d.Dispatch(context.Background(), request("profile.set", `{"browser":"firefox"}`))
	require.True(t, resp.OK, "%+v", resp.Error)
	require.NotEmpty(t, resp.Diagnostics)
	assert.Equal(t, "profile", resp.Diagnostics[0].Source)

	resp = d.Dispatch(context.Background(), request("profile.show", ""))
	require.True(t, resp.OK, "%+v", resp.Error)
	assert.Empty(t, resp.Diagnostics)
	assert.Equal(t, types.BrowserFirefox, resp.EffectiveRuntime.Browser)
}

func TestProfileSetNullClearsField(t *testing.T) {
	e := newEnv(t)
	d := e.dispatcher(t, nil)

	resp := d.Dispatch(context.Background(), request("profile.set", `{"baseUrl":"https://example.com","timeoutMs":5000}`))
	require.True(t, resp.OK, "%+v", resp.Error)

	resp = d.Dispatch(context.Background(), request("profile.set", `{"baseUrl":null}`))
	require.True(t, resp.OK, "%+v", resp.Error)

	resp = d.Dispatch(context.Background(), request("ping", ""))
	assert.Empty(t, resp.EffectiveRuntime.BaseURL)
	assert.Equal(t, 5000, resp.EffectiveRuntime.TimeoutMs)

	resp = d.Dispatch(context.Background(), request("profile.set", `{"schema":null}`))
	assert.False(t, resp.OK)
	assert.Equal(t, types.CodeInvalidInput, resp.Error.Code)
}

func TestFailureCapturesArtifacts(t *testing.T) {
	e := newEnv(t)
	e.artifactsDir = "artifacts"
	d := e.dispatcher(t, nil)

	resp := d.Dispatch(context.Background(), request("click", `{"url":"https://example.com","selector":"#missing"}`))
	assert.False(t, resp.OK)
	assert.Equal(t, types.CodeSelectorNotFound, resp.Error.Code)
	require.NotEmpty(t, resp.Artifacts)
	assert.Equal(t, "screenshot", resp.Artifacts[0].Kind)
	assert.Equal(t, filepath.Join(e.ws.Root(), "artifacts"), filepath.Dir(resp.Artifacts[0].Path))

	// Failures before a page is opened have nothing to capture
	resp = d.Dispatch(context.Background(), request("click", `{"selector":"#missing"}`))
	assert.False(t, resp.OK)
	assert.Empty(t, resp.Artifacts)
}

func TestParseRequestRejectsUnknownOverride(t *testing.T) {
	req, err := ParseRequest([]byte(`{"schemaVersion":5,"op":"ping","runtime":{"overrides":{"headless":false}}}`))
	require.NoError(t, err)
	require.NotNil(t, req.Runtime)
	assert.False(t, *req.Runtime.Overrides.Headless)

	_, err = ParseRequest([]byte(`{"schemaVersion":5,"op":"ping","runtime":{"overrides":{"headles":false}}}`))
	require.Error(t, err)
	assert.Equal(t, types.CodeInvalidInput, types.CodeOf(err))
	assert.Contains(t, err.Error(), "headles")

	resp := newEnv(t).dispatcher(t, nil).DispatchRaw(context.Background(),
		[]byte(`{"schemaVersion":5,"op":"ping","runtime":{"overrides":{"browsr":"firefox"}}}`))
	assert.False(t, resp.OK)
	assert.Equal(t, types.CodeInvalidInput, resp.Error.Code)
}
