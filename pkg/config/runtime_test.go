package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/pw/pkg/types"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }

func TestResolveProfileName(t *testing.T) {
	tests := []struct {
		name      string
		requested string
		fallback  string
		want      string
	}{
		{"request wins", "qa", "ci", "qa"},
		{"fallback used", "", "ci", "ci"},
		{"default", "", "", "default"},
		{"normalized", "my profile", "", "my_profile"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ResolveProfileName(tt.requested, tt.fallback))
		})
	}
}

func TestResolve_Fallbacks(t *testing.T) {
	rt, err := Resolve("default", ProfileConfig{}, Overrides{})
	require.NoError(t, err)

	assert.Equal(t, "default", rt.Profile)
	assert.Equal(t, types.BrowserChromium, rt.Browser)
	assert.True(t, rt.Headless)
	assert.Equal(t, 30000, rt.TimeoutMs)
	assert.True(t, rt.UseDaemon)
	assert.Empty(t, rt.BaseURL)
	assert.Empty(t, rt.CDPEndpoint)
	assert.Equal(t, 30*time.Second, rt.Timeout())
}

func TestResolve_Precedence(t *testing.T) {
	cfg := ProfileConfig{
		Browser:   "firefox",
		Headless:  Bool(false),
		BaseURL:   "https://profile.example",
		TimeoutMs: 1000,
		UseDaemon: Bool(false),
	}

	t.Run("profile over fallback", func(t *testing.T) {
		rt, err := Resolve("qa", cfg, Overrides{})
		require.NoError(t, err)
		assert.Equal(t, types.BrowserFirefox, rt.Browser)
		assert.False(t, rt.Headless)
		assert.Equal(t, "https://profile.example", rt.BaseURL)
		assert.Equal(t, 1000, rt.TimeoutMs)
		assert.False(t, rt.UseDaemon)
	})

	t.Run("override over profile", func(t *testing.T) {
		rt, err := Resolve("qa", cfg, Overrides{
			Browser:   strPtr("chromium"),
			Headless:  Bool(true),
			BaseURL:   strPtr("https://override.example"),
			TimeoutMs: intPtr(250),
			UseDaemon: Bool(true),
		})
		require.NoError(t, err)
		assert.Equal(t, types.BrowserChromium, rt.Browser)
		assert.True(t, rt.Headless)
		assert.Equal(t, "https://override.example", rt.BaseURL)
		assert.Equal(t, 250, rt.TimeoutMs)
		assert.True(t, rt.UseDaemon)
	})
}

func TestResolve_InvalidBrowserStillReturnsRuntime(t *testing.T) {
	rt, err := Resolve("default", ProfileConfig{}, Overrides{Browser: strPtr("opera")})
	require.Error(t, err)
	assert.Equal(t, types.CodeInvalidInput, types.CodeOf(err))
	assert.Equal(t, types.BrowserChromium, rt.Browser)
	assert.Equal(t, "default", rt.Profile)
}

func TestEffectiveRuntime_ResolveURL(t *testing.T) {
	withBase := EffectiveRuntime{BaseURL: "https://example.com/app/"}
	noBase := EffectiveRuntime{Profile: "default"}

	tests := []struct {
		name     string
		rt       EffectiveRuntime
		raw      string
		want     string
		wantCode types.ErrorCode
	}{
		{name: "absolute kept", rt: noBase, raw: "https://other.example/x", want: "https://other.example/x"},
		{name: "relative joined", rt: withBase, raw: "login", want: "https://example.com/app/login"},
		{name: "root relative", rt: withBase, raw: "/health", want: "https://example.com/health"},
		{name: "localhost shorthand", rt: noBase, raw: "localhost:3000/a", want: "http://localhost:3000/a"},
		{name: "relative without base", rt: noBase, raw: "login", wantCode: types.CodeMissingConfiguration},
		{name: "empty", rt: withBase, raw: "  ", wantCode: types.CodeInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.rt.ResolveURL(tt.raw)
			if tt.wantCode != "" {
				require.Error(t, err)
				assert.Equal(t, tt.wantCode, types.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOverridesOver(t *testing.T) {
	noDaemon := false
	base := Overrides{UseDaemon: &noDaemon, BaseURL: strPtr("https://base.example.com")}
	req := Overrides{BaseURL: strPtr("https://req.example.com"), TimeoutMs: intPtr(100)}

	merged := req.Over(base)
	require.NotNil(t, merged.UseDaemon)
	assert.False(t, *merged.UseDaemon)
	assert.Equal(t, "https://req.example.com", *merged.BaseURL)
	assert.Equal(t, 100, *merged.TimeoutMs)
	assert.Nil(t, merged.Browser)
}

func TestOverridesRejectUnknownKeys(t *testing.T) {
	var o Overrides
	require.NoError(t, json.Unmarshal([]byte(`{"browser":"firefox","timeoutMs":100}`), &o))
	assert.Equal(t, "firefox", *o.Browser)
	assert.Equal(t, 100, *o.TimeoutMs)

	err := json.Unmarshal([]byte(`{"browsr":"firefox"}`), &o)
	require.Error(t, err)
	assert.Equal(t, types.CodeInvalidInput, types.CodeOf(err))
	assert.Contains(t, err.Error(), "browsr")
}
