package types

import "strings"

// BrowserKind identifies an automation engine browser.
type BrowserKind string

const (
	BrowserChromium BrowserKind = "chromium"
	BrowserFirefox  BrowserKind = "firefox"
	BrowserWebKit   BrowserKind = "webkit"
)

// ParseBrowserKind accepts the canonical names plus a few common aliases.
func ParseBrowserKind(s string) (BrowserKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "chromium", "chrome":
		return BrowserChromium, nil
	case "firefox":
		return BrowserFirefox, nil
	case "webkit", "safari":
		return BrowserWebKit, nil
	}
	return "", NewError(CodeInvalidInput, "unsupported browser %q (expected chromium, firefox or webkit)", s)
}

// SupportsReconnect reports whether sessions of this kind can be reused
// across invocations. Only chromium exposes a reconnect endpoint.
func (k BrowserKind) SupportsReconnect() bool {
	return k == BrowserChromium
}

func (k BrowserKind) String() string {
	return string(k)
}

// Validate returns an INVALID_INPUT error for unknown kinds.
func (k BrowserKind) Validate() error {
	switch k {
	case BrowserChromium, BrowserFirefox, BrowserWebKit:
		return nil
	}
	return NewError(CodeInvalidInput, "unsupported browser %q", string(k))
}
