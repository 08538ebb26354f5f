// Package profile implements the operations that read and edit a profile's
// stored configuration and context record.
package profile

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"

	"github.com/entrhq/pw/pkg/config"
	"github.com/entrhq/pw/pkg/contextstore"
	"github.com/entrhq/pw/pkg/tools"
	"github.com/entrhq/pw/pkg/types"
)

// Operations returns every profile operation.
func Operations() []tools.Operation {
	return []tools.Operation{
		&ShowOperation{},
		&SetOperation{},
		&DeleteOperation{},
		&ContextShowOperation{},
		&ContextClearOperation{},
	}
}

func profiles(inv *tools.Invocation) (*config.ProfileStore, error) {
	if inv.Services == nil || inv.Services.Profiles == nil {
		return nil, types.NewError(types.CodeInternal, "no profile store configured")
	}
	return inv.Services.Profiles, nil
}

func contexts(inv *tools.Invocation) (*contextstore.Store, error) {
	if inv.Services == nil || inv.Services.Context == nil {
		return nil, types.NewError(types.CodeInternal, "no context store configured")
	}
	return inv.Services.Context, nil
}

// ShowData is the profile.show result.
type ShowData struct {
	Profile string               `json:"profile"`
	Exists  bool                 `json:"exists"`
	Config  config.ProfileConfig `json:"config"`
}

// ShowOperation prints the stored profile config. It never creates files.
type ShowOperation struct{}

func (o *ShowOperation) Name() string        { return "profile.show" }
func (o *ShowOperation) Description() string { return "Show the profile's stored configuration" }

func (o *ShowOperation) NeedsRuntime() bool { return false }

// Execute loads the profile.
func (o *ShowOperation) Execute(ctx context.Context, inv *tools.Invocation) (*tools.Result, error) {
	store, err := profiles(inv)
	if err != nil {
		return nil, err
	}
	cfg, exists, err := store.Load(inv.Runtime.Profile)
	if err != nil {
		return nil, err
	}
	return &tools.Result{Data: ShowData{Profile: inv.Runtime.Profile, Exists: exists, Config: cfg}}, nil
}

// SetOperation merges the given fields into the profile, creating it on
// first use.
type SetOperation struct{}

func (o *SetOperation) Name() string { return "profile.set" }

func (o *SetOperation) Description() string {
	return "Set profile defaults (browser, headless, baseUrl, timeoutMs, patterns, ...); null clears a field"
}

func (o *SetOperation) NeedsRuntime() bool { return false }

// Execute updates the profile.
func (o *SetOperation) Execute(ctx context.Context, inv *tools.Invocation) (*tools.Result, error) {
	store, err := profiles(inv)
	if err != nil {
		return nil, err
	}

	var patch config.ProfileConfig
	if err := inv.Decode(&patch); err != nil {
		return nil, err
	}
	unset, err := nullFields(inv.Input)
	if err != nil {
		return nil, err
	}

	cfg, err := store.Update(inv.Runtime.Profile, patch, unset...)
	if err != nil {
		return nil, err
	}
	return &tools.Result{
		Inputs: SetInput{ProfileConfig: patch, Unset: unset},
		Data:   ShowData{Profile: inv.Runtime.Profile, Exists: true, Config: cfg},
	}, nil
}

// SetInput echoes a profile.set patch. Unset lists the fields given as
// null, which are cleared from the stored config.
type SetInput struct {
	config.ProfileConfig
	Unset []string `json:"unset,omitempty"`
}

// nullFields returns the top-level keys of input whose value is null.
func nullFields(input json.RawMessage) ([]string, error) {
	raw := bytes.TrimSpace(input)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, types.WrapError(types.CodeInvalidInput, err, "invalid input")
	}
	var unset []string
	for key, value := range fields {
		if bytes.Equal(bytes.TrimSpace(value), []byte("null")) {
			unset = append(unset, key)
		}
	}
	sort.Strings(unset)
	return unset, nil
}

// DeleteOperation removes the profile with its cache and descriptor.
type DeleteOperation struct{}

func (o *DeleteOperation) Name() string { return "profile.delete" }

func (o *DeleteOperation) Description() string {
	return "Delete the profile, its context record and its session descriptor"
}

func (o *DeleteOperation) NeedsRuntime() bool { return false }

// Execute stops nothing; a browser recorded in the descriptor keeps
// running until session.stop or the daemon reclaims it.
func (o *DeleteOperation) Execute(ctx context.Context, inv *tools.Invocation) (*tools.Result, error) {
	store, err := profiles(inv)
	if err != nil {
		return nil, err
	}
	removed, err := store.Delete(inv.Runtime.Profile)
	if err != nil {
		return nil, err
	}
	return &tools.Result{Data: map[string]interface{}{"profile": inv.Runtime.Profile, "deleted": removed}}, nil
}

// ContextShowOperation prints the stored context record.
type ContextShowOperation struct{}

func (o *ContextShowOperation) Name() string { return "context.show" }

func (o *ContextShowOperation) Description() string {
	return "Show the cached url, selector and output inherited by the next command"
}

// ContextData is the context.show result.
type ContextData struct {
	Profile string              `json:"profile"`
	Record  contextstore.Record `json:"record"`
	// Stale records are kept on disk but not inherited.
	Stale bool `json:"stale"`
}

func (o *ContextShowOperation) NeedsRuntime() bool { return false }

// Execute loads the record.
func (o *ContextShowOperation) Execute(ctx context.Context, inv *tools.Invocation) (*tools.Result, error) {
	store, err := contexts(inv)
	if err != nil {
		return nil, err
	}
	record, err := store.Get(inv.Runtime.Profile)
	if err != nil {
		return nil, err
	}
	return &tools.Result{Data: ContextData{
		Profile: inv.Runtime.Profile,
		Record:  record,
		Stale:   record.Stale(store.Now(), contextstore.DefaultTTL),
	}}, nil
}

// ContextClearOperation removes the stored context record.
type ContextClearOperation struct{}

func (o *ContextClearOperation) Name() string        { return "context.clear" }
func (o *ContextClearOperation) Description() string { return "Forget the cached url, selector and output" }

func (o *ContextClearOperation) NeedsRuntime() bool { return false }

// Execute clears the record.
func (o *ContextClearOperation) Execute(ctx context.Context, inv *tools.Invocation) (*tools.Result, error) {
	store, err := contexts(inv)
	if err != nil {
		return nil, err
	}
	removed, err := store.Clear(inv.Runtime.Profile)
	if err != nil {
		return nil, err
	}
	return &tools.Result{Data: map[string]bool{"cleared": removed}}, nil
}
