package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/pw/pkg/protocol"
)

// isolate points every state root at temp directories and clears the
// variables the CLI reads.
func isolate(t *testing.T) string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("PW_DAEMON_SOCKET", filepath.Join(t.TempDir(), "none.sock"))
	for _, key := range []string{envProfile, envWorkspace, envNoDaemon, envArtifacts} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}
	return t.TempDir()
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func decodeResponse(t *testing.T, out string) protocol.ResponseEnvelope {
	t.Helper()
	var resp protocol.ResponseEnvelope
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(out)), &resp), out)
	return resp
}

func TestExecPing(t *testing.T) {
	ws := isolate(t)

	out, err := runCLI(t, "exec", "ping", "--workspace", ws, "--format", "ndjson", "--request-id", "r1")
	require.NoError(t, err)

	resp := decodeResponse(t, out)
	assert.True(t, resp.OK)
	assert.Equal(t, "r1", resp.RequestID)
	assert.Equal(t, "default", resp.EffectiveRuntime.Profile)
}

func TestExecFailureExitsNonZero(t *testing.T) {
	ws := isolate(t)

	out, err := runCLI(t, "exec", "no.such.op", "--workspace", ws, "--format", "ndjson")
	var exit *exitError
	require.True(t, errors.As(err, &exit))
	assert.Equal(t, 1, exit.code)

	resp := decodeResponse(t, out)
	assert.False(t, resp.OK)
	assert.Equal(t, "INVALID_INPUT", string(resp.Error.Code))
}

func TestDotEnvSuppliesProfile(t *testing.T) {
	ws := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(ws, ".env"), []byte("PW_PROFILE=checkout\nPW_NO_DAEMON=true\n"), 0600))
	t.Cleanup(func() {
		os.Unsetenv(envProfile)
		os.Unsetenv(envNoDaemon)
	})

	out, err := runCLI(t, "exec", "ping", "--workspace", ws, "--format", "ndjson")
	require.NoError(t, err)

	resp := decodeResponse(t, out)
	assert.Equal(t, "checkout", resp.EffectiveRuntime.Profile)
	assert.False(t, resp.EffectiveRuntime.UseDaemon)
}

func TestProfileFlagBeatsEnvironment(t *testing.T) {
	ws := isolate(t)
	t.Setenv(envProfile, "from-env")

	out, err := runCLI(t, "exec", "ping", "--workspace", ws, "--profile", "from-flag", "--format", "ndjson")
	require.NoError(t, err)
	assert.Equal(t, "from-flag", decodeResponse(t, out).EffectiveRuntime.Profile)
}

func TestExecOverridesReachRuntime(t *testing.T) {
	ws := isolate(t)

	out, err := runCLI(t, "exec", "ping", "--workspace", ws, "--format", "ndjson",
		"--headed", "--timeout-ms", "5000", "--base-url", "https://example.com")
	require.NoError(t, err)

	rt := decodeResponse(t, out).EffectiveRuntime
	assert.False(t, rt.Headless)
	assert.Equal(t, 5000, rt.TimeoutMs)
	assert.Equal(t, "https://example.com", rt.BaseURL)
}

func TestExecRejectsInvalidInputJSON(t *testing.T) {
	ws := isolate(t)

	_, err := runCLI(t, "exec", "nav", "--workspace", ws, "--input", "{nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid JSON")
}

func TestRequestFromFile(t *testing.T) {
	ws := isolate(t)
	file := filepath.Join(ws, "req.json")
	require.NoError(t, os.WriteFile(file, []byte("{\n  \"schemaVersion\": 5,\n  \"requestId\": \"f1\",\n  \"op\": \"ping\"\n}\n"), 0600))

	out, err := runCLI(t, "request", "--file", file, "--workspace", ws)
	require.NoError(t, err)

	resp := decodeResponse(t, out)
	assert.True(t, resp.OK)
	assert.Equal(t, "f1", resp.RequestID)
}

func TestBadFormatFlag(t *testing.T) {
	ws := isolate(t)
	_, err := runCLI(t, "exec", "ping", "--workspace", ws, "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown output format")
}

func TestOpsListsRegistry(t *testing.T) {
	ws := isolate(t)

	out, err := runCLI(t, "ops", "--workspace", ws, "--format", "text")
	require.NoError(t, err)
	for _, name := range []string{"ping", "nav", "click", "session.status", "profile.set"} {
		assert.Contains(t, out, name)
	}
}

func TestDaemonStatusWhenStopped(t *testing.T) {
	ws := isolate(t)

	out, err := runCLI(t, "daemon", "status", "--workspace", ws, "--format", "ndjson")
	require.NoError(t, err)

	var status map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.Equal(t, false, status["running"])
}

func TestReadInput(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "in.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"url":"x"}`), 0600))

	data, err := readInput("@" + file)
	require.NoError(t, err)
	assert.JSONEq(t, `{"url":"x"}`, string(data))

	data, err = readInput(`{"a":1}`)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))

	data, err = readInput("")
	require.NoError(t, err)
	assert.Nil(t, data)

	_, err = readInput("@" + filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
