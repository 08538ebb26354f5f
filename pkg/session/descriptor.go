package session

import (
	"encoding/json"
	"os"
	"time"

	"github.com/entrhq/pw/pkg/types"
	"github.com/entrhq/pw/pkg/workspace"
)

const (
	// DescriptorSchemaVersion is the current session.json schema.
	DescriptorSchemaVersion = 1

	descriptorFileName = "session.json"
)

// Source records who started the browser behind a descriptor.
type Source string

const (
	SourceLaunch   Source = "launch"   // SourceLaunch is a browser started directly by an invocation.
	SourceDaemon   Source = "daemon"   // SourceDaemon is a browser owned by the daemon pool.
	SourceEndpoint Source = "endpoint" // SourceEndpoint is a user-supplied reconnect endpoint.
	SourceEngine   Source = "engine"   // SourceEngine is an engine-owned, non-reusable browser.
)

// Descriptor is the persisted record of a reusable browser for one
// (workspace, profile).
type Descriptor struct {
	SchemaVersion int               `json:"schemaVersion"`
	PID           int               `json:"pid"`
	Browser       types.BrowserKind `json:"browser"`
	Headless      bool              `json:"headless"`
	Endpoint      string            `json:"endpoint,omitempty"`
	Port          int               `json:"port,omitempty"`
	Fingerprint   string            `json:"fingerprint"`
	SessionKey    string            `json:"sessionKey"`
	Source        Source            `json:"source"`
	CreatedAt     time.Time         `json:"createdAt"`
}

// Legacy reports whether the descriptor predates schema versioning.
func (d *Descriptor) Legacy() bool {
	return d.SchemaVersion == 0
}

// Mismatch returns a reason why the descriptor cannot serve req, or "".
func (d *Descriptor) Mismatch(req Request, fingerprint string) string {
	switch {
	case d.Legacy():
		return "descriptor has no schema version"
	case d.Browser != req.Browser:
		return "browser kind changed from " + string(d.Browser) + " to " + string(req.Browser)
	case d.Headless != req.Headless:
		return "headless mode changed"
	case d.Endpoint == "":
		return "descriptor has no reconnect endpoint"
	case d.Fingerprint != fingerprint:
		return "created by a different build (" + d.Fingerprint + ")"
	}
	return ""
}

// DescriptorStore reads and writes session.json files.
type DescriptorStore struct {
	ws *workspace.Workspace
}

// NewDescriptorStore creates a store for a workspace.
func NewDescriptorStore(ws *workspace.Workspace) *DescriptorStore {
	return &DescriptorStore{ws: ws}
}

// Load returns the descriptor for profile, or nil when none exists.
// Legacy descriptors are returned as-is; an unknown newer schema is an error.
func (s *DescriptorStore) Load(profile string) (*Descriptor, error) {
	path, err := s.ws.ProfileFile(profile, descriptorFileName)
	if err != nil {
		return nil, types.WrapError(types.CodeInvalidInput, err, "invalid profile")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, types.WrapError(types.CodeIOError, err, "failed to read session descriptor")
	}

	var desc Descriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		// Unparseable descriptors are treated like legacy ones and replaced
		return &Descriptor{}, nil
	}
	if desc.SchemaVersion > DescriptorSchemaVersion {
		return nil, types.NewError(types.CodeSessionError,
			"session descriptor schema %d is newer than supported schema %d", desc.SchemaVersion, DescriptorSchemaVersion)
	}
	return &desc, nil
}

// Save writes desc atomically.
func (s *DescriptorStore) Save(profile string, desc *Descriptor) error {
	if _, err := s.ws.EnsureProfileDir(profile); err != nil {
		return types.WrapError(types.CodeIOError, err, "failed to create profile")
	}
	path, err := s.ws.ProfileFile(profile, descriptorFileName)
	if err != nil {
		return types.WrapError(types.CodeInvalidInput, err, "invalid profile")
	}

	data, err := json.MarshalIndent(desc, "", "  ")
	if err != nil {
		return types.WrapError(types.CodeInternal, err, "failed to encode session descriptor")
	}
	if err := workspace.WriteFileAtomic(path, data); err != nil {
		return types.WrapError(types.CodeIOError, err, "failed to write session descriptor")
	}
	return nil
}

// Delete removes the descriptor, reporting whether one existed.
func (s *DescriptorStore) Delete(profile string) (bool, error) {
	path, err := s.ws.ProfileFile(profile, descriptorFileName)
	if err != nil {
		return false, types.WrapError(types.CodeInvalidInput, err, "invalid profile")
	}
	removed, err := workspace.RemoveFile(path)
	if err != nil {
		return false, types.WrapError(types.CodeIOError, err, "failed to remove session descriptor")
	}
	return removed, nil
}
