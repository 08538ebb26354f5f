// Package contextstore persists the per-(workspace, profile) context record
// that lets a command omit its url, selector or output path and inherit
// them from the previous command.
package contextstore

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"github.com/entrhq/pw/pkg/types"
	"github.com/entrhq/pw/pkg/workspace"
)

const (
	cacheFileName = "cache.json"

	// DefaultTTL bounds how long cached values are inherited.
	DefaultTTL = time.Hour
)

// Record is the last-known state of a profile.
type Record struct {
	LastURL      string    `json:"lastUrl,omitempty"`
	LastSelector string    `json:"lastSelector,omitempty"`
	LastOutput   string    `json:"lastOutput,omitempty"`
	LastUsedAt   time.Time `json:"lastUsedAt,omitzero"`
}

// Delta is a partial update. Empty fields leave the record untouched, so a
// command that produced no URL can never erase the cached one.
type Delta struct {
	URL      string `json:"url,omitempty"`
	Selector string `json:"selector,omitempty"`
	Output   string `json:"output,omitempty"`
}

// IsEmpty reports whether the delta carries no values.
func (d Delta) IsEmpty() bool {
	return d.URL == "" && d.Selector == "" && d.Output == ""
}

// Apply merges d into r and returns the result.
func (r Record) Apply(d Delta) Record {
	if d.URL != "" {
		r.LastURL = d.URL
	}
	if d.Selector != "" {
		r.LastSelector = d.Selector
	}
	if d.Output != "" {
		r.LastOutput = d.Output
	}
	return r
}

// Stale reports whether the record is older than ttl. Records without a
// timestamp are never stale.
func (r Record) Stale(now time.Time, ttl time.Duration) bool {
	if r.LastUsedAt.IsZero() || ttl <= 0 {
		return false
	}
	return now.Sub(r.LastUsedAt) > ttl
}

// Store reads and writes context records as JSON under the workspace state
// directory.
type Store struct {
	ws  *workspace.Workspace
	mu  sync.Mutex
	now func() time.Time
}

// NewStore creates a context store for a workspace.
func NewStore(ws *workspace.Workspace) *Store {
	return &Store{ws: ws, now: time.Now}
}

// Now reads the store's clock.
func (s *Store) Now() time.Time {
	return s.now()
}

// Get returns the record for profile, or an empty record when none exists.
func (s *Store) Get(profile string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.get(profile)
}

func (s *Store) get(profile string) (Record, error) {
	path, err := s.ws.ProfileFile(profile, cacheFileName)
	if err != nil {
		return Record{}, types.WrapError(types.CodeInvalidInput, err, "invalid profile")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, nil
		}
		return Record{}, types.WrapError(types.CodeIOError, err, "failed to read context cache")
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, types.WrapError(types.CodeIOError, err, "failed to decode context cache %s", path)
	}
	return rec, nil
}

// Set merges delta into the stored record, stamps it and persists it.
func (s *Store) Set(profile string, delta Delta) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.get(profile)
	if err != nil {
		return Record{}, err
	}
	rec = rec.Apply(delta)
	rec.LastUsedAt = s.now().UTC()

	if _, err := s.ws.EnsureProfileDir(profile); err != nil {
		return Record{}, types.WrapError(types.CodeIOError, err, "failed to create profile")
	}
	path, err := s.ws.ProfileFile(profile, cacheFileName)
	if err != nil {
		return Record{}, types.WrapError(types.CodeInvalidInput, err, "invalid profile")
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return Record{}, types.WrapError(types.CodeInternal, err, "failed to encode context cache")
	}
	if err := workspace.WriteFileAtomic(path, data); err != nil {
		return Record{}, types.WrapError(types.CodeIOError, err, "failed to write context cache")
	}
	return rec, nil
}

// Clear removes the record for profile.
func (s *Store) Clear(profile string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	path, err := s.ws.ProfileFile(profile, cacheFileName)
	if err != nil {
		return false, types.WrapError(types.CodeInvalidInput, err, "invalid profile")
	}
	removed, err := workspace.RemoveFile(path)
	if err != nil {
		return false, types.WrapError(types.CodeIOError, err, "failed to clear context cache")
	}
	return removed, nil
}
