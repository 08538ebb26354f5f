package config

import (
	"strings"

	"github.com/gobwas/glob"

	"github.com/entrhq/pw/pkg/types"
)

// ProfileSchemaVersion is the current config.yaml schema.
const ProfileSchemaVersion = 1

// ProfileConfig holds the persisted defaults of a named profile.
// Unset fields fall through to the hardcoded fallbacks at resolution time.
type ProfileConfig struct {
	Schema        int      `yaml:"schema" json:"schema"`
	Browser       string   `yaml:"browser,omitempty" json:"browser,omitempty"`
	Headless      *bool    `yaml:"headless,omitempty" json:"headless,omitempty"`
	BaseURL       string   `yaml:"baseUrl,omitempty" json:"baseUrl,omitempty"`
	CDPEndpoint   string   `yaml:"cdpEndpoint,omitempty" json:"cdpEndpoint,omitempty"`
	TimeoutMs     int      `yaml:"timeoutMs,omitempty" json:"timeoutMs,omitempty"`
	BlockPatterns []string `yaml:"blockPatterns,omitempty" json:"blockPatterns,omitempty"`
	AllowPatterns []string `yaml:"allowPatterns,omitempty" json:"allowPatterns,omitempty"`
	DownloadsDir  string   `yaml:"downloadsDir,omitempty" json:"downloadsDir,omitempty"`
	UseDaemon     *bool    `yaml:"useDaemon,omitempty" json:"useDaemon,omitempty"`
	ProtectedURLs []string `yaml:"protectedUrls,omitempty" json:"protectedUrls,omitempty"`
}

// Validate checks field values without touching disk.
func (c *ProfileConfig) Validate() error {
	if c.Schema > ProfileSchemaVersion {
		return types.NewError(types.CodeInvalidInput, "profile schema %d is newer than supported schema %d", c.Schema, ProfileSchemaVersion)
	}
	if c.Browser != "" {
		if _, err := types.ParseBrowserKind(c.Browser); err != nil {
			return err
		}
	}
	if c.TimeoutMs < 0 {
		return types.NewError(types.CodeInvalidInput, "timeoutMs must be >= 0, got %d", c.TimeoutMs)
	}
	if c.BaseURL != "" && !strings.Contains(c.BaseURL, "://") {
		return types.NewError(types.CodeInvalidInput, "baseUrl %q must include a scheme", c.BaseURL)
	}
	if err := validatePatterns("blockPatterns", c.BlockPatterns); err != nil {
		return err
	}
	if err := validatePatterns("allowPatterns", c.AllowPatterns); err != nil {
		return err
	}
	return validatePatterns("protectedUrls", c.ProtectedURLs)
}

// Merge returns c with every field that is set in patch replaced.
func (c ProfileConfig) Merge(patch ProfileConfig) ProfileConfig {
	out := c
	if patch.Browser != "" {
		out.Browser = patch.Browser
	}
	if patch.Headless != nil {
		out.Headless = patch.Headless
	}
	if patch.BaseURL != "" {
		out.BaseURL = patch.BaseURL
	}
	if patch.CDPEndpoint != "" {
		out.CDPEndpoint = patch.CDPEndpoint
	}
	if patch.TimeoutMs != 0 {
		out.TimeoutMs = patch.TimeoutMs
	}
	if patch.BlockPatterns != nil {
		out.BlockPatterns = patch.BlockPatterns
	}
	if patch.AllowPatterns != nil {
		out.AllowPatterns = patch.AllowPatterns
	}
	if patch.DownloadsDir != "" {
		out.DownloadsDir = patch.DownloadsDir
	}
	if patch.UseDaemon != nil {
		out.UseDaemon = patch.UseDaemon
	}
	if patch.ProtectedURLs != nil {
		out.ProtectedURLs = patch.ProtectedURLs
	}
	return out
}

// Unset returns c with the named fields cleared. Fields are named by their
// JSON key.
func (c ProfileConfig) Unset(fields ...string) (ProfileConfig, error) {
	out := c
	for _, field := range fields {
		switch field {
		case "browser":
			out.Browser = ""
		case "headless":
			out.Headless = nil
		case "baseUrl":
			out.BaseURL = ""
		case "cdpEndpoint":
			out.CDPEndpoint = ""
		case "timeoutMs":
			out.TimeoutMs = 0
		case "blockPatterns":
			out.BlockPatterns = nil
		case "allowPatterns":
			out.AllowPatterns = nil
		case "downloadsDir":
			out.DownloadsDir = ""
		case "useDaemon":
			out.UseDaemon = nil
		case "protectedUrls":
			out.ProtectedURLs = nil
		default:
			return c, types.NewError(types.CodeInvalidInput, "cannot unset %q", field)
		}
	}
	return out, nil
}

func validatePatterns(field string, patterns []string) error {
	for _, p := range patterns {
		if _, err := glob.Compile(p); err != nil {
			return types.WrapError(types.CodeInvalidInput, err, "invalid %s pattern %q", field, p)
		}
	}
	return nil
}

// Bool returns a pointer to b, for building configs in code.
func Bool(b bool) *bool {
	return &b
}
