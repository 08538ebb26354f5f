package config

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/entrhq/pw/pkg/types"
	"github.com/entrhq/pw/pkg/workspace"
)

const profileFileName = "config.yaml"

// ErrUnusableConfig marks a config.yaml that exists but cannot be decoded
// or fails validation.
var ErrUnusableConfig = errors.New("stored profile config is unusable")

// ProfileStore persists ProfileConfig values as YAML, one file per
// (workspace, profile). Reads never create files; the first Save creates
// the profile directory.
type ProfileStore struct {
	ws *workspace.Workspace
	mu sync.Mutex
}

// NewProfileStore creates a store rooted at the workspace state directory.
func NewProfileStore(ws *workspace.Workspace) *ProfileStore {
	return &ProfileStore{ws: ws}
}

// Load returns the stored config and whether it exists.
func (s *ProfileStore) Load(profile string) (ProfileConfig, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(profile)
}

func (s *ProfileStore) load(profile string) (ProfileConfig, bool, error) {
	path, err := s.ws.ProfileFile(profile, profileFileName)
	if err != nil {
		return ProfileConfig{}, false, types.WrapError(types.CodeInvalidInput, err, "invalid profile")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ProfileConfig{Schema: ProfileSchemaVersion}, false, nil
		}
		return ProfileConfig{}, false, types.WrapError(types.CodeIOError, err, "failed to read profile config")
	}

	var cfg ProfileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return ProfileConfig{}, false, types.WrapError(types.CodeIOError,
			fmt.Errorf("%w: %w", ErrUnusableConfig, err), "failed to decode %s", path)
	}
	if cfg.Schema == 0 {
		cfg.Schema = ProfileSchemaVersion
	}
	if err := cfg.Validate(); err != nil {
		return ProfileConfig{}, false, fmt.Errorf("profile %s: %w: %w", profile, ErrUnusableConfig, err)
	}
	return cfg, true, nil
}

// Save validates and writes cfg, creating the profile on first use.
func (s *ProfileStore) Save(profile string, cfg ProfileConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(profile, cfg)
}

func (s *ProfileStore) save(profile string, cfg ProfileConfig) error {
	cfg.Schema = ProfileSchemaVersion
	if err := cfg.Validate(); err != nil {
		return err
	}

	if _, err := s.ws.EnsureProfileDir(profile); err != nil {
		return types.WrapError(types.CodeIOError, err, "failed to create profile")
	}
	path, err := s.ws.ProfileFile(profile, profileFileName)
	if err != nil {
		return types.WrapError(types.CodeInvalidInput, err, "invalid profile")
	}

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return types.WrapError(types.CodeInternal, err, "failed to encode profile config")
	}
	if err := workspace.WriteFileAtomic(path, data); err != nil {
		return types.WrapError(types.CodeIOError, err, "failed to write profile config")
	}
	return nil
}

// Update merges patch into the stored config (or an empty one), clears the
// unset fields and saves the result. An unusable stored config is replaced
// rather than merged, so a broken profile can be repaired.
func (s *ProfileStore) Update(profile string, patch ProfileConfig, unset ...string) (ProfileConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, _, err := s.load(profile)
	switch {
	case errors.Is(err, ErrUnusableConfig):
		current = ProfileConfig{Schema: ProfileSchemaVersion}
	case err != nil:
		return ProfileConfig{}, err
	}
	merged, err := current.Merge(patch).Unset(unset...)
	if err != nil {
		return ProfileConfig{}, err
	}
	if err := s.save(profile, merged); err != nil {
		return ProfileConfig{}, err
	}
	merged.Schema = ProfileSchemaVersion
	return merged, nil
}

// Delete removes the profile directory with all of its state. It reports
// whether anything existed.
func (s *ProfileStore) Delete(profile string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir, err := s.ws.ProfileDir(profile)
	if err != nil {
		return false, types.WrapError(types.CodeInvalidInput, err, "invalid profile")
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return false, nil
	}
	if err := os.RemoveAll(dir); err != nil {
		return false, types.WrapError(types.CodeIOError, err, "failed to delete profile")
	}
	return true, nil
}

// List returns the profiles with state in this workspace.
func (s *ProfileStore) List() ([]string, error) {
	return s.ws.Profiles()
}
