package config

import (
	"bytes"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/entrhq/pw/pkg/types"
	"github.com/entrhq/pw/pkg/workspace"
)

// Hardcoded fallbacks, used when neither the request nor the profile sets a field.
const (
	DefaultBrowser   = types.BrowserChromium
	DefaultHeadless  = true
	DefaultTimeoutMs = 30000
	DefaultUseDaemon = true
)

// Overrides are per-request runtime settings carried in the request envelope.
// A nil field means "not overridden".
type Overrides struct {
	Browser       *string  `json:"browser,omitempty"`
	Headless      *bool    `json:"headless,omitempty"`
	BaseURL       *string  `json:"baseUrl,omitempty"`
	CDPEndpoint   *string  `json:"cdpEndpoint,omitempty"`
	TimeoutMs     *int     `json:"timeoutMs,omitempty"`
	BlockPatterns []string `json:"blockPatterns,omitempty"`
	AllowPatterns []string `json:"allowPatterns,omitempty"`
	DownloadsDir  *string  `json:"downloadsDir,omitempty"`
	UseDaemon     *bool    `json:"useDaemon,omitempty"`
}

// UnmarshalJSON decodes overrides and rejects unknown keys, so a misspelled
// override fails instead of being ignored.
func (o *Overrides) UnmarshalJSON(data []byte) error {
	type plain Overrides
	var decoded plain

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&decoded); err != nil {
		return types.WrapError(types.CodeInvalidInput, err, "invalid runtime overrides")
	}
	*o = Overrides(decoded)
	return nil
}

// Over returns o layered over base: fields set in o win.
func (o Overrides) Over(base Overrides) Overrides {
	out := base
	if o.Browser != nil {
		out.Browser = o.Browser
	}
	if o.Headless != nil {
		out.Headless = o.Headless
	}
	if o.BaseURL != nil {
		out.BaseURL = o.BaseURL
	}
	if o.CDPEndpoint != nil {
		out.CDPEndpoint = o.CDPEndpoint
	}
	if o.TimeoutMs != nil {
		out.TimeoutMs = o.TimeoutMs
	}
	if o.BlockPatterns != nil {
		out.BlockPatterns = o.BlockPatterns
	}
	if o.AllowPatterns != nil {
		out.AllowPatterns = o.AllowPatterns
	}
	if o.DownloadsDir != nil {
		out.DownloadsDir = o.DownloadsDir
	}
	if o.UseDaemon != nil {
		out.UseDaemon = o.UseDaemon
	}
	return out
}

// EffectiveRuntime is the fully resolved configuration an operation runs with.
// It is echoed in every response envelope.
type EffectiveRuntime struct {
	Profile       string            `json:"profile"`
	Browser       types.BrowserKind `json:"browser"`
	Headless      bool              `json:"headless"`
	BaseURL       string            `json:"baseUrl,omitempty"`
	CDPEndpoint   string            `json:"cdpEndpoint,omitempty"`
	TimeoutMs     int               `json:"timeoutMs"`
	BlockPatterns []string          `json:"blockPatterns,omitempty"`
	AllowPatterns []string          `json:"allowPatterns,omitempty"`
	DownloadsDir  string            `json:"downloadsDir,omitempty"`
	UseDaemon     bool              `json:"useDaemon"`
	ProtectedURLs []string          `json:"protectedUrls,omitempty"`
}

// ResolveProfileName picks the profile for a request: the request's own
// profile, then the invocation fallback (CLI flag or environment), then
// "default". The result is normalized.
func ResolveProfileName(requested, fallback string) string {
	if strings.TrimSpace(requested) != "" {
		return workspace.NormalizeProfileName(requested)
	}
	if strings.TrimSpace(fallback) != "" {
		return workspace.NormalizeProfileName(fallback)
	}
	return workspace.DefaultProfile
}

// Resolve layers overrides over the profile config over the hardcoded
// fallbacks, field by field. On an invalid browser it still returns a
// usable runtime (with the fallback browser) alongside the error, so the
// caller can report what would have been used.
func Resolve(profile string, cfg ProfileConfig, overrides Overrides) (EffectiveRuntime, error) {
	rt := EffectiveRuntime{
		Profile:       profile,
		Browser:       DefaultBrowser,
		Headless:      DefaultHeadless,
		TimeoutMs:     DefaultTimeoutMs,
		UseDaemon:     DefaultUseDaemon,
		BaseURL:       cfg.BaseURL,
		CDPEndpoint:   cfg.CDPEndpoint,
		BlockPatterns: cfg.BlockPatterns,
		AllowPatterns: cfg.AllowPatterns,
		DownloadsDir:  cfg.DownloadsDir,
		ProtectedURLs: cfg.ProtectedURLs,
	}

	var resolveErr error
	browser := cfg.Browser
	if overrides.Browser != nil {
		browser = *overrides.Browser
	}
	if browser != "" {
		kind, err := types.ParseBrowserKind(browser)
		if err != nil {
			resolveErr = err
		} else {
			rt.Browser = kind
		}
	}

	if cfg.Headless != nil {
		rt.Headless = *cfg.Headless
	}
	if overrides.Headless != nil {
		rt.Headless = *overrides.Headless
	}

	if cfg.TimeoutMs > 0 {
		rt.TimeoutMs = cfg.TimeoutMs
	}
	if overrides.TimeoutMs != nil {
		if *overrides.TimeoutMs <= 0 {
			resolveErr = types.NewError(types.CodeInvalidInput, "timeoutMs override must be > 0, got %d", *overrides.TimeoutMs)
		} else {
			rt.TimeoutMs = *overrides.TimeoutMs
		}
	}

	if cfg.UseDaemon != nil {
		rt.UseDaemon = *cfg.UseDaemon
	}
	if overrides.UseDaemon != nil {
		rt.UseDaemon = *overrides.UseDaemon
	}

	if overrides.BaseURL != nil {
		rt.BaseURL = *overrides.BaseURL
	}
	if overrides.CDPEndpoint != nil {
		rt.CDPEndpoint = *overrides.CDPEndpoint
	}
	if overrides.BlockPatterns != nil {
		rt.BlockPatterns = overrides.BlockPatterns
	}
	if overrides.AllowPatterns != nil {
		rt.AllowPatterns = overrides.AllowPatterns
	}
	if overrides.DownloadsDir != nil {
		rt.DownloadsDir = *overrides.DownloadsDir
	}

	if resolveErr == nil {
		resolveErr = validatePatterns("blockPatterns", rt.BlockPatterns)
	}
	if resolveErr == nil {
		resolveErr = validatePatterns("allowPatterns", rt.AllowPatterns)
	}
	return rt, resolveErr
}

// Timeout returns the operation timeout as a duration.
func (r EffectiveRuntime) Timeout() time.Duration {
	return time.Duration(r.TimeoutMs) * time.Millisecond
}

// ResolveURL makes raw absolute. Absolute URLs are returned as-is;
// relative ones are joined to baseUrl, which must then be configured.
func (r EffectiveRuntime) ResolveURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", types.NewError(types.CodeInvalidInput, "url is required")
	}

	if strings.HasPrefix(raw, "localhost") || strings.HasPrefix(raw, "127.0.0.1") {
		return "http://" + raw, nil
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", types.WrapError(types.CodeInvalidInput, err, "invalid url %q", raw)
	}
	if parsed.IsAbs() {
		return raw, nil
	}

	if r.BaseURL == "" {
		return "", types.NewError(types.CodeMissingConfiguration,
			"relative url %q needs baseUrl; set it with profile.set or a runtime override", raw)
	}
	base, err := url.Parse(r.BaseURL)
	if err != nil {
		return "", types.WrapError(types.CodeInvalidInput, err, "invalid baseUrl %q", r.BaseURL)
	}
	return base.ResolveReference(parsed).String(), nil
}
