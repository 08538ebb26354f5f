package profile

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/pw/pkg/config"
	"github.com/entrhq/pw/pkg/contextstore"
	"github.com/entrhq/pw/pkg/tools"
	"github.com/entrhq/pw/pkg/types"
	"github.com/entrhq/pw/pkg/workspace"
)

func newServices(t *testing.T) *tools.Services {
	t.Helper()
	ws, err := workspace.New(t.TempDir())
	require.NoError(t, err)
	return &tools.Services{
		Workspace: ws,
		Profiles:  config.NewProfileStore(ws),
		Context:   contextstore.NewStore(ws),
	}
}

func run(t *testing.T, svc *tools.Services, op tools.Operation, profile, input string) (*tools.Result, error) {
	t.Helper()
	return op.Execute(context.Background(), &tools.Invocation{
		Input:    json.RawMessage(input),
		Runtime:  config.EffectiveRuntime{Profile: profile},
		Services: svc,
	})
}

func TestShowNeverCreatesFiles(t *testing.T) {
	svc := newServices(t)

	res, err := run(t, svc, &ShowOperation{}, "fresh", "")
	require.NoError(t, err)
	data := res.Data.(ShowData)
	assert.False(t, data.Exists)
	assert.Equal(t, "fresh", data.Profile)

	_, err = os.Stat(svc.Workspace.StateDir())
	assert.True(t, os.IsNotExist(err))
}

func TestSetCreatesThenUpdates(t *testing.T) {
	svc := newServices(t)

	_, err := run(t, svc, &SetOperation{}, "work", `{"baseUrl":"https://example.com","timeoutMs":5000}`)
	require.NoError(t, err)

	res, err := run(t, svc, &SetOperation{}, "work", `{"headless":false}`)
	require.NoError(t, err)
	cfg := res.Data.(ShowData).Config
	assert.Equal(t, "https://example.com", cfg.BaseURL)
	assert.Equal(t, 5000, cfg.TimeoutMs)
	require.NotNil(t, cfg.Headless)
	assert.False(t, *cfg.Headless)

	res, err = run(t, svc, &ShowOperation{}, "work", "")
	require.NoError(t, err)
	assert.True(t, res.Data.(ShowData).Exists)
	assert.FileExists(t, filepath.Join(svc.Workspace.StateDir(), "profiles", "work", "config.yaml"))
}

func TestSetRejectsInvalidConfig(t *testing.T) {
	svc := newServices(t)

	tests := []string{
		`{"browser":"netscape"}`,
		`{"timeoutMs":-1}`,
		`{"baseUrl":"example.com"}`,
		`{"colour":"blue"}`,
	}
	for _, input := range tests {
		_, err := run(t, svc, &SetOperation{}, "work", input)
		require.Error(t, err, input)
		assert.Equal(t, types.CodeInvalidInput, types.CodeOf(err), input)
	}

	res, err := run(t, svc, &ShowOperation{}, "work", "")
	require.NoError(t, err)
	assert.False(t, res.Data.(ShowData).Exists)
}

func TestDelete(t *testing.T) {
	svc := newServices(t)

	_, err := run(t, svc, &SetOperation{}, "work", `{"browser":"firefox"}`)
	require.NoError(t, err)
	_, err = svc.Context.Set("work", contextstore.Delta{URL: "https://example.com"})
	require.NoError(t, err)

	res, err := run(t, svc, &DeleteOperation{}, "work", "")
	require.NoError(t, err)
	assert.Equal(t, true, res.Data.(map[string]interface{})["deleted"])

	rec, err := svc.Context.Get("work")
	require.NoError(t, err)
	assert.Empty(t, rec.LastURL)

	res, err = run(t, svc, &DeleteOperation{}, "work", "")
	require.NoError(t, err)
	assert.Equal(t, false, res.Data.(map[string]interface{})["deleted"])
}

func TestContextShowAndClear(t *testing.T) {
	svc := newServices(t)

	_, err := svc.Context.Set("default", contextstore.Delta{URL: "https://example.com", Selector: "#a"})
	require.NoError(t, err)

	res, err := run(t, svc, &ContextShowOperation{}, "default", "")
	require.NoError(t, err)
	data := res.Data.(ContextData)
	assert.Equal(t, "https://example.com", data.Record.LastURL)
	assert.False(t, data.Stale)

	res, err = run(t, svc, &ContextClearOperation{}, "default", "")
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"cleared": true}, res.Data)

	res, err = run(t, svc, &ContextShowOperation{}, "default", "")
	require.NoError(t, err)
	assert.Empty(t, res.Data.(ContextData).Record.LastURL)
}

func TestOperationsRegister(t *testing.T) {
	r, err := tools.NewRegistry(Operations()...)
	require.NoError(t, err)
	assert.Equal(t, []string{"context.clear", "context.show", "profile.delete", "profile.set", "profile.show"}, r.Names())
}
