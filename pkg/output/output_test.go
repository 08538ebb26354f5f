package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/pw/pkg/config"
	"github.com/entrhq/pw/pkg/contextstore"
	"github.com/entrhq/pw/pkg/protocol"
	"github.com/entrhq/pw/pkg/tools"
	"github.com/entrhq/pw/pkg/types"
)

func okResponse() protocol.ResponseEnvelope {
	return protocol.ResponseEnvelope{
		SchemaVersion:    protocol.SchemaVersion,
		Op:               "nav",
		OK:               true,
		Data:             map[string]string{"url": "https://example.com"},
		Artifacts:        []tools.Artifact{{Kind: "screenshot", Path: "/tmp/shot.png"}},
		Diagnostics:      []tools.Diagnostic{{Level: tools.DiagnosticWarning, Message: "slow", Source: "context"}},
		ContextDelta:     &contextstore.Delta{URL: "https://example.com"},
		EffectiveRuntime: config.EffectiveRuntime{Profile: "default", Browser: types.BrowserChromium, Headless: true},
		DurationMs:       42,
	}
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, f)

	f, err = ParseFormat("NDJSON")
	require.NoError(t, err)
	assert.Equal(t, FormatNDJSON, f)

	_, err = ParseFormat("yaml")
	assert.Equal(t, types.CodeInvalidInput, types.CodeOf(err))
}

func TestParseColorMode(t *testing.T) {
	m, err := ParseColorMode("")
	require.NoError(t, err)
	assert.Equal(t, ColorAuto, m)

	_, err = ParseColorMode("sometimes")
	assert.Error(t, err)
}

func TestNDJSONIsOneLine(t *testing.T) {
	var buf bytes.Buffer
	p := NewPrinter(&buf, FormatNDJSON, ColorNever)
	require.NoError(t, p.Print(okResponse()))
	require.NoError(t, p.Print(okResponse()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &decoded))
	assert.Equal(t, "nav", decoded["op"])
	assert.EqualValues(t, 5, decoded["schemaVersion"])
}

func TestJSONIsIndented(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatJSON, ColorAlways).Print(okResponse()))

	assert.Contains(t, buf.String(), "\n  \"op\": \"nav\"")
	assert.NotContains(t, buf.String(), "\x1b[", "json output is never styled")
}

func TestTextSuccess(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatText, ColorNever).Print(okResponse()))

	out := buf.String()
	assert.Contains(t, out, "✓ nav")
	assert.Contains(t, out, "42ms · default · chromium · headless")
	assert.Contains(t, out, "warning [context] slow")
	assert.Contains(t, out, "screenshot /tmp/shot.png")
	assert.Contains(t, out, "context updated")
	assert.Contains(t, out, `"url": "https://example.com"`)
	assert.NotContains(t, out, "\x1b[")
}

func TestTextFailure(t *testing.T) {
	resp := okResponse()
	resp.OK = false
	resp.Data = nil
	resp.ContextDelta = nil
	resp.Error = &protocol.ErrorBody{
		Code:    types.CodeSelectorNotFound,
		Message: "no element matches #go",
		Details: map[string]interface{}{"selector": "#go"},
	}

	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatText, ColorNever).Print(resp))

	out := buf.String()
	assert.Contains(t, out, "✗ nav")
	assert.Contains(t, out, "SELECTOR_NOT_FOUND no element matches #go")
	assert.Contains(t, out, "selector: #go")
	assert.NotContains(t, out, "context updated")
}

func TestTextColorAlwaysStyles(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatText, ColorAlways).Print(okResponse()))
	assert.Contains(t, buf.String(), "\x1b[")
}

func TestPrintValue(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewPrinter(&buf, FormatNDJSON, ColorNever).PrintValue([]int{9222, 9223}))
	assert.Equal(t, "[9222,9223]\n", buf.String())
}
