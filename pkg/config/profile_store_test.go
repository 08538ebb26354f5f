package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/pw/pkg/types"
	"github.com/entrhq/pw/pkg/workspace"
)

func newTestWorkspace(t *testing.T) *workspace.Workspace {
	t.Helper()
	ws, err := workspace.New(t.TempDir())
	require.NoError(t, err)
	return ws
}

func TestProfileStore_LoadMissingDoesNotCreate(t *testing.T) {
	ws := newTestWorkspace(t)
	store := NewProfileStore(ws)

	cfg, exists, err := store.Load("default")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.Equal(t, ProfileSchemaVersion, cfg.Schema)

	_, statErr := os.Stat(ws.StateDir())
	assert.True(t, os.IsNotExist(statErr), "reading a profile must not create state")
}

func TestProfileStore_SaveLoadRoundTrip(t *testing.T) {
	ws := newTestWorkspace(t)
	store := NewProfileStore(ws)

	cfg := ProfileConfig{
		Browser:       "chromium",
		Headless:      Bool(false),
		BaseURL:       "https://example.com",
		TimeoutMs:     5000,
		BlockPatterns: []string{"*.png", "*://ads.*/*"},
		UseDaemon:     Bool(false),
	}
	require.NoError(t, store.Save("qa", cfg))

	loaded, exists, err := store.Load("qa")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, "chromium", loaded.Browser)
	assert.Equal(t, false, *loaded.Headless)
	assert.Equal(t, "https://example.com", loaded.BaseURL)
	assert.Equal(t, 5000, loaded.TimeoutMs)
	assert.Equal(t, []string{"*.png", "*://ads.*/*"}, loaded.BlockPatterns)

	path := filepath.Join(ws.StateDir(), "profiles", "qa", "config.yaml")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "baseUrl: https://example.com")
}

func TestProfileStore_UpdateCreatesOnFirstUse(t *testing.T) {
	store := NewProfileStore(newTestWorkspace(t))

	cfg, err := store.Update("new profile", ProfileConfig{BaseURL: "http://localhost:3000"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:3000", cfg.BaseURL)

	cfg, err = store.Update("new profile", ProfileConfig{Browser: "firefox"})
	require.NoError(t, err)
	assert.Equal(t, "firefox", cfg.Browser)
	assert.Equal(t, "http://localhost:3000", cfg.BaseURL, "update must keep fields it does not set")

	names, err := store.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"new_profile"}, names)
}

func TestProfileStore_SaveRejectsInvalid(t *testing.T) {
	store := NewProfileStore(newTestWorkspace(t))

	tests := []struct {
		name string
		cfg  ProfileConfig
	}{
		{"unknown browser", ProfileConfig{Browser: "lynx"}},
		{"negative timeout", ProfileConfig{TimeoutMs: -1}},
		{"schemeless base url", ProfileConfig{BaseURL: "example.com"}},
		{"bad glob", ProfileConfig{BlockPatterns: []string{"[unterminated"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.Save("default", tt.cfg)
			require.Error(t, err)
			assert.Equal(t, types.CodeInvalidInput, types.CodeOf(err))
		})
	}
}

func TestProfileStore_Delete(t *testing.T) {
	ws := newTestWorkspace(t)
	store := NewProfileStore(ws)

	removed, err := store.Delete("default")
	require.NoError(t, err)
	assert.False(t, removed)

	require.NoError(t, store.Save("default", ProfileConfig{Browser: "webkit"}))
	removed, err = store.Delete("default")
	require.NoError(t, err)
	assert.True(t, removed)

	_, exists, err := store.Load("default")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestProfileStore_LoadCorruptFile(t *testing.T) {
	ws := newTestWorkspace(t)
	store := NewProfileStore(ws)

	dir, err := ws.EnsureProfileDir("default")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("browser: [oops"), 0600))

	_, _, err = store.Load("default")
	require.Error(t, err)
	assert.Equal(t, types.CodeIOError, types.CodeOf(err))
	assert.True(t, errors.Is(err, ErrUnusableConfig))
}

func TestProfileStore_UpdateRepairsUnusableConfig(t *testing.T) {
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
			ws := newTestWorkspace(t)
			store := NewProfileStore(ws)

			dir, err := ws.EnsureProfileDir("default")
			require.NoError(t, err)
			require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(tt.contents), 0600))

			_, _, err = store.Load("default")
			assert.Equal(t, tt.code, types.CodeOf(err))
			assert.True(t, errors.Is(err, ErrUnusableConfig))

			cfg, err := store.Update("default", ProfileConfig{Browser: "firefox"})
			require.NoError(t, err)
			assert.Equal(t, "firefox", cfg.Browser)

			loaded, exists, err := store.Load("default")
			require.NoError(t, err)
			assert.True(t, exists)
			assert.Equal(t, "firefox", loaded.Browser)
		})
	}
}

func TestProfileStore_UpdateUnsetsFields(t *testing.T) {
	store := NewProfileStore(newTestWorkspace(t))

	_, err := store.Update("default", ProfileConfig{
		BaseURL:   "http://localhost:3000",
		Headless:  Bool(false),
		TimeoutMs: 5000,
	})
	require.NoError(t, err)

	cfg, err := store.Update("default", ProfileConfig{TimeoutMs: 9000}, "baseUrl", "headless")
	require.NoError(t, err)
	assert.Empty(t, cfg.BaseURL)
	assert.Nil(t, cfg.Headless)
	assert.Equal(t, 9000, cfg.TimeoutMs)

	loaded, _, err := store.Load("default")
	require.NoError(t, err)
	assert.Empty(t, loaded.BaseURL)
	assert.Nil(t, loaded.Headless)

	_, err = store.Update("default", ProfileConfig{}, "schema")
	assert.Equal(t, types.CodeInvalidInput, types.CodeOf(err))
}
