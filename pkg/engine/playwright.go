package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/playwright-community/playwright-go"
	"golang.org/x/sync/singleflight"

	"github.com/entrhq/pw/pkg/logging"
	"github.com/entrhq/pw/pkg/procutil"
	"github.com/entrhq/pw/pkg/types"
)

// Playwright is the production Engine. The driver is started lazily on
// first use and shared by every browser it hands out.
type Playwright struct {
	mu      sync.Mutex
	pw      *playwright.Playwright
	starts  singleflight.Group
	install bool
	logger  *logging.Logger
}

// PlaywrightOption configures the engine.
type PlaywrightOption func(*Playwright)

// WithInstall makes the first start download the driver and browsers if missing.
func WithInstall(install bool) PlaywrightOption {
	return func(p *Playwright) {
		p.install = install
	}
}

// WithEngineLogger sets the logger.
func WithEngineLogger(logger *logging.Logger) PlaywrightOption {
	return func(p *Playwright) {
		p.logger = logger
	}
}

// NewPlaywright creates an engine. Nothing is started until first use.
func NewPlaywright(opts ...PlaywrightOption) *Playwright {
	p := &Playwright{}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Playwright) runtime() (*playwright.Playwright, error) {
	p.mu.Lock()
	pw := p.pw
	p.mu.Unlock()
	if pw != nil {
		return pw, nil
	}

	v, err, _ := p.starts.Do("run", func() (interface{}, error) {
		// Discard driver output so stdout stays machine-readable
		opts := &playwright.RunOptions{
			Verbose: false,
			Stdout:  io.Discard,
			Stderr:  io.Discard,
		}

		if p.install {
			if err := playwright.Install(opts); err != nil {
				return nil, fmt.Errorf("failed to install playwright: %w", err)
			}
		}

		started, err := playwright.Run(opts)
		if err != nil {
			return nil, fmt.Errorf("failed to start playwright: %w", err)
		}

		p.mu.Lock()
		p.pw = started
		p.mu.Unlock()
		p.logger.Debugf("playwright driver started")
		return started, nil
	})
	if err != nil {
		return nil, types.WrapError(types.CodeBrowserLaunchFailed, err, "automation engine unavailable")
	}
	return v.(*playwright.Playwright), nil
}

func (p *Playwright) browserType(kind types.BrowserKind) (playwright.BrowserType, error) {
	pw, err := p.runtime()
	if err != nil {
		return nil, err
	}
	switch kind {
	case types.BrowserChromium:
		return pw.Chromium, nil
	case types.BrowserFirefox:
		return pw.Firefox, nil
	case types.BrowserWebKit:
		return pw.WebKit, nil
	}
	return nil, types.NewError(types.CodeInvalidInput, "unsupported browser %q", string(kind))
}

// ChromiumExecutable returns the path of the chromium binary bundled with
// the driver.
func (p *Playwright) ChromiumExecutable() (string, error) {
	bt, err := p.browserType(types.BrowserChromium)
	if err != nil {
		return "", err
	}
	path := bt.ExecutablePath()
	if path == "" {
		return "", types.NewError(types.CodeBrowserLaunchFailed, "chromium executable not found; run with --install")
	}
	return path, nil
}

// Launch implements Engine.
func (p *Playwright) Launch(ctx context.Context, opts LaunchOptions) (Browser, error) {
	bt, err := p.browserType(opts.Kind)
	if err != nil {
		return nil, err
	}

	launchOpts := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
	}
	if opts.TimeoutMs > 0 {
		launchOpts.Timeout = playwright.Float(float64(opts.TimeoutMs))
	}

	browser, err := bt.Launch(launchOpts)
	if err != nil {
		return nil, types.WrapError(types.CodeBrowserLaunchFailed, err, "failed to launch %s", opts.Kind)
	}
	p.logger.Infof("launched %s headless=%v (not reusable)", opts.Kind, opts.Headless)

	return &pwBrowser{browser: browser, kind: opts.Kind, logger: p.logger}, nil
}

// Connect implements Engine.
func (p *Playwright) Connect(ctx context.Context, endpoint string, pid int) (Browser, error) {
	bt, err := p.browserType(types.BrowserChromium)
	if err != nil {
		return nil, err
	}

	browser, err := bt.ConnectOverCDP(endpoint)
	if err != nil {
		return nil, types.WrapError(types.CodeSessionError, err, "failed to connect to %s", endpoint)
	}
	p.logger.Debugf("connected to %s", endpoint)

	return &pwBrowser{
		browser:  browser,
		kind:     types.BrowserChromium,
		endpoint: endpoint,
		pid:      pid,
		logger:   p.logger,
	}, nil
}

// Reset implements Engine.
func (p *Playwright) Reset() error {
	return p.Close()
}

// Close implements Engine.
func (p *Playwright) Close() error {
	p.mu.Lock()
	pw := p.pw
	p.pw = nil
	p.mu.Unlock()

	if pw == nil {
		return nil
	}
	if err := pw.Stop(); err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	return nil
}

type pwBrowser struct {
	browser  playwright.Browser
	kind     types.BrowserKind
	endpoint string
	pid      int
	logger   *logging.Logger
	once     sync.Once

	mu         sync.Mutex
	active     playwright.Page
	configured map[playwright.Page]bool
}

func (b *pwBrowser) Kind() types.BrowserKind { return b.kind }
func (b *pwBrowser) Endpoint() string        { return b.endpoint }
func (b *pwBrowser) PID() int                { return b.pid }

func (b *pwBrowser) defaultContext() (playwright.BrowserContext, error) {
	if contexts := b.browser.Contexts(); len(contexts) > 0 {
		return contexts[0], nil
	}
	created, err := b.browser.NewContext(playwright.BrowserNewContextOptions{
		AcceptDownloads: playwright.Bool(true),
	})
	if err != nil {
		return nil, classify(err, types.CodeSessionError, "failed to create browser context")
	}
	return created, nil
}

// Page reuses the default context and its most recent page so that state
// left by an earlier invocation on the same browser is visible. A page
// switched to in this process wins over the most recent one.
func (b *pwBrowser) Page(ctx context.Context, opts PageOptions) (Page, error) {
	bctx, err := b.defaultContext()
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	page := b.active
	b.mu.Unlock()

	if page == nil || page.IsClosed() {
		if pages := bctx.Pages(); len(pages) > 0 {
			page = pages[len(pages)-1]
		} else {
			created, err := bctx.NewPage()
			if err != nil {
				return nil, classify(err, types.CodeSessionError, "failed to open page")
			}
			page = created
		}
	}

	if err := b.configure(page, opts); err != nil {
		return nil, err
	}
	return &pwPage{page: page, owner: b}, nil
}

// Tabs implements Browser.
func (b *pwBrowser) Tabs(ctx context.Context) ([]Page, error) {
	contexts := b.browser.Contexts()
	if len(contexts) == 0 {
		return nil, nil
	}
	pages := contexts[0].Pages()
	tabs := make([]Page, 0, len(pages))
	for _, page := range pages {
		tabs = append(tabs, &pwPage{page: page, owner: b})
	}
	return tabs, nil
}

// NewTab implements Browser.
func (b *pwBrowser) NewTab(ctx context.Context, opts PageOptions) (Page, error) {
	bctx, err := b.defaultContext()
	if err != nil {
		return nil, err
	}
	page, err := bctx.NewPage()
	if err != nil {
		return nil, classify(err, types.CodeSessionError, "failed to open tab")
	}
	if err := b.configure(page, opts); err != nil {
		return nil, err
	}
	b.setActive(page)
	return &pwPage{page: page, owner: b}, nil
}

func (b *pwBrowser) setActive(page playwright.Page) {
	b.mu.Lock()
	b.active = page
	b.mu.Unlock()
}

func (b *pwBrowser) forgetPage(page playwright.Page) {
	b.mu.Lock()
	if b.active == page {
		b.active = nil
	}
	delete(b.configured, page)
	b.mu.Unlock()
}

// configure applies opts to page. Routes and download handlers are
// installed once per page.
func (b *pwBrowser) configure(page playwright.Page, opts PageOptions) error {
	if opts.TimeoutMs > 0 {
		page.SetDefaultTimeout(float64(opts.TimeoutMs))
		page.SetDefaultNavigationTimeout(float64(opts.TimeoutMs))
	}

	b.mu.Lock()
	done := b.configured[page]
	if b.configured == nil {
		b.configured = make(map[playwright.Page]bool)
	}
	b.configured[page] = true
	b.mu.Unlock()
	if done {
		return nil
	}

	policy, err := NewURLPolicy(opts.BlockPatterns, opts.AllowPatterns)
	if err != nil {
		return types.WrapError(types.CodeInvalidInput, err, "invalid network policy")
	}
	if policy.Active() {
		err := page.Route("**/*", func(route playwright.Route) {
			if policy.Allows(route.Request().URL()) {
				_ = route.Continue()
				return
			}
			b.logger.Debugf("blocked %s", route.Request().URL())
			_ = route.Abort("blockedbyclient")
		})
		if err != nil {
			return classify(err, types.CodeBrowserLaunchFailed, "route setup failed")
		}
	}

	if opts.DownloadsDir != "" {
		dir := opts.DownloadsDir
		page.OnDownload(func(download playwright.Download) {
			target := filepath.Join(dir, filepath.Base(download.SuggestedFilename()))
			if err := download.SaveAs(target); err != nil {
				b.logger.Warnf("failed to save download %s: %v", target, err)
				return
			}
			b.logger.Infof("saved download %s", target)
		})
	}
	return nil
}

// Disconnect closes the protocol connection only. For a browser attached
// over CDP this leaves the process and its default context running.
func (b *pwBrowser) Disconnect() error {
	var err error
	b.once.Do(func() {
		err = b.browser.Close()
	})
	return err
}

// Close stops the browser: the engine-owned process for launched browsers,
// or the recorded pid for attached ones.
func (b *pwBrowser) Close() error {
	err := b.Disconnect()
	if b.pid > 0 && procutil.IsProcessAlive(b.pid) {
		if termErr := procutil.TerminateByPID(b.pid); termErr != nil {
			return fmt.Errorf("failed to terminate browser pid %d: %w", b.pid, termErr)
		}
	}
	return err
}

type pwPage struct {
	page  playwright.Page
	owner *pwBrowser
}

func (p *pwPage) Goto(ctx context.Context, url, waitUntil string) (string, error) {
	opts := playwright.PageGotoOptions{}
	if waitUntil != "" {
		state := playwright.WaitUntilState(waitUntil)
		opts.WaitUntil = &state
	}

	if _, err := p.page.Goto(url, opts); err != nil {
		return "", classify(err, types.CodeNavigationFailed, "navigation to %s failed", url)
	}
	return p.page.URL(), nil
}

func (p *pwPage) URL() string {
	return p.page.URL()
}

func (p *pwPage) Title() (string, error) {
	title, err := p.page.Title()
	if err != nil {
		return "", classify(err, types.CodeSessionError, "failed to read title")
	}
	return title, nil
}

func (p *pwPage) Click(ctx context.Context, selector string, opts ClickOptions) error {
	clickOpts := playwright.PageClickOptions{}
	if opts.Button != "" {
		button := playwright.MouseButton(opts.Button)
		clickOpts.Button = &button
	}
	if opts.ClickCount > 0 {
		clickOpts.ClickCount = playwright.Int(opts.ClickCount)
	}
	if opts.TimeoutMs > 0 {
		clickOpts.Timeout = playwright.Float(float64(opts.TimeoutMs))
	}

	if err := p.page.Click(selector, clickOpts); err != nil {
		return classify(err, types.CodeSelectorNotFound, "click on %s failed", selector)
	}
	return nil
}

func (p *pwPage) Fill(ctx context.Context, selector, value string) error {
	if err := p.page.Fill(selector, value); err != nil {
		return classify(err, types.CodeSelectorNotFound, "fill of %s failed", selector)
	}
	return nil
}

func (p *pwPage) element(selector string) (playwright.ElementHandle, error) {
	element, err := p.page.QuerySelector(selector)
	if err != nil {
		return nil, classify(err, types.CodeInvalidInput, "selector query %s failed", selector)
	}
	if element == nil {
		return nil, types.NewError(types.CodeSelectorNotFound, "no element found matching selector: %s", selector)
	}
	return element, nil
}

func (p *pwPage) Text(ctx context.Context, selector string) (string, error) {
	if selector == "" {
		selector = "body"
	}
	element, err := p.element(selector)
	if err != nil {
		return "", err
	}
	text, err := element.TextContent()
	if err != nil {
		return "", classify(err, types.CodeSessionError, "text extraction failed")
	}
	return text, nil
}

func (p *pwPage) HTML(ctx context.Context, selector string) (string, error) {
	if selector == "" {
		html, err := p.page.Content()
		if err != nil {
			return "", classify(err, types.CodeSessionError, "failed to read page content")
		}
		return html, nil
	}

	element, err := p.element(selector)
	if err != nil {
		return "", err
	}
	html, err := element.InnerHTML()
	if err != nil {
		return "", classify(err, types.CodeSessionError, "html extraction failed")
	}
	return html, nil
}

func (p *pwPage) Snapshot(ctx context.Context, selector string) (string, error) {
	if selector == "" {
		selector = "body"
	}
	if _, err := p.element(selector); err != nil {
		return "", err
	}
	snapshot, err := p.page.Locator(selector).First().AriaSnapshot()
	if err != nil {
		return "", classify(err, types.CodeSessionError, "accessibility snapshot failed")
	}
	return snapshot, nil
}

func (p *pwPage) Evaluate(ctx context.Context, expression string) (interface{}, error) {
	result, err := p.page.Evaluate(expression)
	if err != nil {
		return nil, classify(err, types.CodeJSEvalFailed, "evaluation failed")
	}
	return result, nil
}

func (p *pwPage) Screenshot(ctx context.Context, path string, fullPage bool) error {
	_, err := p.page.Screenshot(playwright.PageScreenshotOptions{
		Path:     playwright.String(path),
		FullPage: playwright.Bool(fullPage),
	})
	if err != nil {
		return classify(err, types.CodeScreenshotFailed, "screenshot to %s failed", path)
	}
	return nil
}

func (p *pwPage) ElementState(ctx context.Context, selector string) (ElementState, error) {
	elements, err := p.page.QuerySelectorAll(selector)
	if err != nil {
		return ElementState{}, classify(err, types.CodeInvalidInput, "selector query %s failed", selector)
	}

	state := ElementState{Count: len(elements)}
	if len(elements) > 0 {
		visible, err := elements[0].IsVisible()
		if err != nil {
			return ElementState{}, classify(err, types.CodeSessionError, "visibility check failed")
		}
		state.Visible = visible
	}
	return state, nil
}

func (p *pwPage) BringToFront(ctx context.Context) error {
	if err := p.page.BringToFront(); err != nil {
		return classify(err, types.CodeSessionError, "failed to activate tab")
	}
	if p.owner != nil {
		p.owner.setActive(p.page)
	}
	return nil
}

func (p *pwPage) Close(ctx context.Context) error {
	if err := p.page.Close(); err != nil {
		return classify(err, types.CodeSessionError, "failed to close tab")
	}
	if p.owner != nil {
		p.owner.forgetPage(p.page)
	}
	return nil
}

// classify maps engine errors onto error codes: timeouts become TIMEOUT,
// dropped connections SESSION_ERROR, everything else fallback.
func classify(err error, fallback types.ErrorCode, format string, args ...interface{}) error {
	code := fallback
	switch {
	case errors.Is(err, playwright.ErrTimeout) || strings.Contains(err.Error(), "Timeout "):
		code = types.CodeTimeout
	case errors.Is(err, playwright.ErrTargetClosed) || types.IsConnectionRefused(err):
		code = types.CodeSessionError
	}
	return types.WrapError(code, err, format, args...)
}
