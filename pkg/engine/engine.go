// Package engine adapts the Playwright automation engine to the small surface
// the session broker and operations need: launching or reconnecting to a
// browser, picking a page, and a handful of page actions with classified
// errors.
package engine

import (
	"context"

	"github.com/entrhq/pw/pkg/types"
)

// Engine starts browsers or attaches to running ones.
type Engine interface {
	// Launch starts a browser owned by the engine connection. Such browsers
	// die with the connection and cannot be reused by later invocations.
	Launch(ctx context.Context, opts LaunchOptions) (Browser, error)

	// Connect attaches to a chromium reconnect endpoint. pid is the browser
	// process when known (0 otherwise); Close on the returned Browser
	// terminates it.
	Connect(ctx context.Context, endpoint string, pid int) (Browser, error)

	// Reset drops the cached engine connection so the next call starts a
	// fresh one.
	Reset() error

	// Close shuts the engine down.
	Close() error
}

// LaunchOptions configures an engine-managed launch.
type LaunchOptions struct {
	Kind      types.BrowserKind
	Headless  bool
	TimeoutMs int
}

// Browser is a launched or attached browser.
type Browser interface {
	Kind() types.BrowserKind
	// Endpoint is the reconnect endpoint, empty for non-reusable browsers.
	Endpoint() string
	PID() int
	// Page returns the active page, creating one if the browser has none.
	Page(ctx context.Context, opts PageOptions) (Page, error)
	// Tabs lists the open pages of the default context in creation order.
	Tabs(ctx context.Context) ([]Page, error)
	// NewTab opens a page in the default context and makes it active.
	NewTab(ctx context.Context, opts PageOptions) (Page, error)
	// Disconnect detaches without stopping the browser process.
	Disconnect() error
	// Close stops the browser.
	Close() error
}

// PageOptions are applied to the page returned by Browser.Page.
type PageOptions struct {
	TimeoutMs     int
	BlockPatterns []string
	AllowPatterns []string
	DownloadsDir  string
}

// ClickOptions tune a click.
type ClickOptions struct {
	Button     string
	ClickCount int
	TimeoutMs  int
}

// ElementState is a point-in-time snapshot of a selector's matches.
type ElementState struct {
	Count   int  `json:"count"`
	Visible bool `json:"visible"`
}

// Page is the set of page actions operations use.
type Page interface {
	// Goto navigates and returns the final URL after redirects.
	Goto(ctx context.Context, url, waitUntil string) (string, error)
	URL() string
	Title() (string, error)
	Click(ctx context.Context, selector string, opts ClickOptions) error
	Fill(ctx context.Context, selector, value string) error
	// Text returns the text content of selector, or of the body when empty.
	Text(ctx context.Context, selector string) (string, error)
	// HTML returns the inner HTML of selector, or the whole document when empty.
	HTML(ctx context.Context, selector string) (string, error)
	Evaluate(ctx context.Context, expression string) (interface{}, error)
	Screenshot(ctx context.Context, path string, fullPage bool) error
	ElementState(ctx context.Context, selector string) (ElementState, error)
	// Snapshot returns the YAML accessibility tree of selector, or of the
	// body when empty.
	Snapshot(ctx context.Context, selector string) (string, error)
	// BringToFront makes the page the browser's active page.
	BringToFront(ctx context.Context) error
	// Close closes the page. Other pages of the browser stay open.
	Close(ctx context.Context) error
}
