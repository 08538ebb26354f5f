// Package workspace maps a workspace directory and profile names onto the
// on-disk state layout used by the stores:
//
//	<workspace>/.pw/profiles/<profile>/config.yaml
//	<workspace>/.pw/profiles/<profile>/cache.json
//	<workspace>/.pw/profiles/<profile>/session.json
//
// Profile names are normalized to a safe path segment and every derived path
// is checked to stay inside the workspace state directory.
package workspace

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	// StateDirName is the per-workspace state directory.
	StateDirName = ".pw"

	// DefaultProfile is used when no profile is requested anywhere.
	DefaultProfile = "default"

	profilesDirName = "profiles"
)

// Workspace is an absolute, symlink-resolved workspace root.
type Workspace struct {
	root string
}

// New resolves dir (the current directory when empty) into a Workspace.
// The path is converted to an absolute path, cleaned, and symlinks are evaluated.
func New(dir string) (*Workspace, error) {
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to get working directory: %w", err)
		}
		dir = wd
	}

	absPath, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace directory: %w", err)
	}

	evalPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate workspace directory symlinks: %w", err)
	}

	info, err := os.Stat(evalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat workspace directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("workspace %q is not a directory", evalPath)
	}

	return &Workspace{root: evalPath}, nil
}

// Root returns the workspace directory.
func (w *Workspace) Root() string {
	return w.root
}

// ID returns a short stable identifier for the workspace root.
func (w *Workspace) ID() string {
	sum := sha256.Sum256([]byte(w.root))
	return hex.EncodeToString(sum[:])[:12]
}

// StateDir returns <workspace>/.pw.
func (w *Workspace) StateDir() string {
	return filepath.Join(w.root, StateDirName)
}

// ProfileDir returns the state directory for a profile. The name is
// normalized first, so callers may pass raw user input.
func (w *Workspace) ProfileDir(profile string) (string, error) {
	base := filepath.Join(w.StateDir(), profilesDirName)
	dir := filepath.Join(base, NormalizeProfileName(profile))
	if !isWithin(base, dir) {
		return "", fmt.Errorf("profile %q resolves outside %s", profile, base)
	}
	return dir, nil
}

// ProfileFile returns the path of a named file inside a profile directory.
func (w *Workspace) ProfileFile(profile, name string) (string, error) {
	dir, err := w.ProfileDir(profile)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

// Profiles lists the profiles that have a state directory, sorted.
func (w *Workspace) Profiles() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(w.StateDir(), profilesDirName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// EnsureProfileDir creates the profile directory and the state directory's
// .gitignore on first use.
func (w *Workspace) EnsureProfileDir(profile string) (string, error) {
	dir, err := w.ProfileDir(profile)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return "", fmt.Errorf("failed to create profile directory: %w", err)
	}

	ignorePath := filepath.Join(w.StateDir(), ".gitignore")
	if _, err := os.Stat(ignorePath); os.IsNotExist(err) {
		if err := os.WriteFile(ignorePath, []byte("*\n"), 0600); err != nil {
			return "", fmt.Errorf("failed to write %s: %w", ignorePath, err)
		}
	}
	return dir, nil
}

// ResolvePath resolves a user supplied path against the workspace root.
// Absolute paths are kept; ~/ is expanded to the home directory.
func (w *Workspace) ResolvePath(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path cannot be empty")
	}

	if path == "~" || strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to expand ~: %w", err)
		}
		path = filepath.Join(homeDir, strings.TrimPrefix(path, "~"))
	}

	path = filepath.Clean(path)
	if filepath.IsAbs(path) {
		return path, nil
	}
	return filepath.Join(w.root, path), nil
}

// NormalizeProfileName maps a profile name onto a safe path segment.
// Characters outside [A-Za-z0-9._-] become '_'. Empty names map to the
// default profile and dot-only names are rewritten so they cannot escape
// the profiles directory.
func NormalizeProfileName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultProfile
	}

	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	normalized := b.String()
	if strings.Trim(normalized, ".") == "" {
		normalized = strings.Repeat("_", len(normalized))
	}
	return normalized
}

func isWithin(base, path string) bool {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return false
	}
	return rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
