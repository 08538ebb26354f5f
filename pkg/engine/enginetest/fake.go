// Package enginetest provides in-memory engine fakes for tests.
package enginetest

import (
	"context"
	"fmt"
	"sync"

	"github.com/entrhq/pw/pkg/engine"
	"github.com/entrhq/pw/pkg/types"
)

// Engine records launches and connects and hands out fake browsers.
type Engine struct {
	mu sync.Mutex

	Launches []engine.LaunchOptions
	Connects []string
	Resets   int

	// ConnectErrs are returned by successive Connect calls before any succeed.
	ConnectErrs []error
	LaunchErr   error

	// Pages maps a URL to the title a fake page reports after navigating there.
	Pages map[string]string

	browsers []*Browser
}

// NewEngine creates an empty fake engine.
func NewEngine() *Engine {
	return &Engine{Pages: map[string]string{}}
}

// Launch implements engine.Engine.
func (e *Engine) Launch(ctx context.Context, opts engine.LaunchOptions) (engine.Browser, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.Launches = append(e.Launches, opts)
	if e.LaunchErr != nil {
		return nil, e.LaunchErr
	}
	b := newBrowser(opts.Kind, "", 0, e.Pages)
	e.browsers = append(e.browsers, b)
	return b, nil
}

// Connect implements engine.Engine.
func (e *Engine) Connect(ctx context.Context, endpoint string, pid int) (engine.Browser, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.Connects = append(e.Connects, endpoint)
	if len(e.ConnectErrs) > 0 {
		err := e.ConnectErrs[0]
		e.ConnectErrs = e.ConnectErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	b := newBrowser(types.BrowserChromium, endpoint, pid, e.Pages)
	e.browsers = append(e.browsers, b)
	return b, nil
}

// Reset implements engine.Engine.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Resets++
	return nil
}

// Close implements engine.Engine.
func (e *Engine) Close() error {
	return nil
}

// Browsers returns every browser handed out so far.
func (e *Engine) Browsers() []*Browser {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]*Browser(nil), e.browsers...)
}

// Browser is a fake engine.Browser. It starts with one page; NewTab adds
// more and the active page is the one Page returns.
type Browser struct {
	mu           sync.Mutex
	kind         types.BrowserKind
	endpoint     string
	pid          int
	titles       map[string]string
	pages        []*Page
	active       *Page
	Disconnected bool
	Closed       bool
	PageOptions  []engine.PageOptions
}

func newBrowser(kind types.BrowserKind, endpoint string, pid int, titles map[string]string) *Browser {
	b := &Browser{kind: kind, endpoint: endpoint, pid: pid, titles: titles}
	b.active = b.addPage()
	return b
}

// NewBrowser creates a standalone fake browser.
func NewBrowser(kind types.BrowserKind, endpoint string, pid int) *Browser {
	return newBrowser(kind, endpoint, pid, nil)
}

func (b *Browser) Kind() types.BrowserKind { return b.kind }
func (b *Browser) Endpoint() string        { return b.endpoint }
func (b *Browser) PID() int                { return b.pid }

// addPage must be called with b.mu held or before b is shared.
func (b *Browser) addPage() *Page {
	page := NewPage(b.titles)
	page.owner = b
	b.pages = append(b.pages, page)
	return page
}

func (b *Browser) usable() error {
	if b.Closed || b.Disconnected {
		return types.NewError(types.CodeSessionError, "browser has been closed")
	}
	return nil
}

// Page implements engine.Browser.
func (b *Browser) Page(ctx context.Context, opts engine.PageOptions) (engine.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.usable(); err != nil {
		return nil, err
	}
	b.PageOptions = append(b.PageOptions, opts)
	if b.active == nil {
		if len(b.pages) == 0 {
			b.addPage()
		}
		b.active = b.pages[len(b.pages)-1]
	}
	return b.active, nil
}

// Tabs implements engine.Browser.
func (b *Browser) Tabs(ctx context.Context) ([]engine.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.usable(); err != nil {
		return nil, err
	}
	tabs := make([]engine.Page, 0, len(b.pages))
	for _, page := range b.pages {
		tabs = append(tabs, page)
	}
	return tabs, nil
}

// NewTab implements engine.Browser.
func (b *Browser) NewTab(ctx context.Context, opts engine.PageOptions) (engine.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.usable(); err != nil {
		return nil, err
	}
	b.PageOptions = append(b.PageOptions, opts)
	b.active = b.addPage()
	return b.active, nil
}

// AddTab opens another page at url without making it active.
func (b *Browser) AddTab(url string) *Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	page := b.addPage()
	page.url = url
	return page
}

// FakePage returns the browser's first page for assertions.
func (b *Browser) FakePage() *Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pages) == 0 {
		return nil
	}
	return b.pages[0]
}

// Active returns the page Page would hand out.
func (b *Browser) Active() *Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

func (b *Browser) activate(page *Page) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.active = page
}

func (b *Browser) remove(page *Page) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, p := range b.pages {
		if p == page {
			b.pages = append(b.pages[:i], b.pages[i+1:]...)
			break
		}
	}
	if b.active == page {
		b.active = nil
	}
}

// Disconnect implements engine.Browser.
func (b *Browser) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Disconnected = true
	return nil
}

// Close implements engine.Browser.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Closed = true
	return nil
}

// Page is a scriptable fake engine.Page.
type Page struct {
	mu sync.Mutex

	url    string
	titles map[string]string
	owner  *Browser

	// Elements maps selectors to their state; missing selectors have none.
	Elements map[string]engine.ElementState
	// Texts maps selectors ("" for the body) to text content.
	Texts map[string]string
	// Snapshots maps selectors ("" for the body) to accessibility trees.
	Snapshots map[string]string
	// EvalResults maps expressions to results.
	EvalResults map[string]interface{}

	// Err, when set, is returned by every action.
	Err error

	Gotos       []string
	Clicks      []string
	Fills       map[string]string
	Screenshots []string
	Fronted     int
	Closed      bool
}

// NewPage creates a blank fake page.
func NewPage(titles map[string]string) *Page {
	if titles == nil {
		titles = map[string]string{}
	}
	return &Page{
		url:         "about:blank",
		titles:      titles,
		Elements:    map[string]engine.ElementState{},
		Texts:       map[string]string{},
		Snapshots:   map[string]string{},
		EvalResults: map[string]interface{}{},
		Fills:       map[string]string{},
	}
}

func (p *Page) Goto(ctx context.Context, url, waitUntil string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return "", p.Err
	}
	p.Gotos = append(p.Gotos, url)
	p.url = url
	return url, nil
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// SetURL moves the page without recording a navigation.
func (p *Page) SetURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
}

func (p *Page) Title() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.titles[p.url], nil
}

func (p *Page) lookup(selector string) error {
	if p.Err != nil {
		return p.Err
	}
	if state, ok := p.Elements[selector]; !ok || state.Count == 0 {
		return types.NewError(types.CodeSelectorNotFound, "no element found matching selector: %s", selector)
	}
	return nil
}

func (p *Page) Click(ctx context.Context, selector string, opts engine.ClickOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.lookup(selector); err != nil {
		return err
	}
	p.Clicks = append(p.Clicks, selector)
	return nil
}

func (p *Page) Fill(ctx context.Context, selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.lookup(selector); err != nil {
		return err
	}
	p.Fills[selector] = value
	return nil
}

func (p *Page) Text(ctx context.Context, selector string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return "", p.Err
	}
	text, ok := p.Texts[selector]
	if !ok {
		return "", types.NewError(types.CodeSelectorNotFound, "no element found matching selector: %s", selector)
	}
	return text, nil
}

func (p *Page) HTML(ctx context.Context, selector string) (string, error) {
	text, err := p.Text(ctx, selector)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("<div>%s</div>", text), nil
}

func (p *Page) Snapshot(ctx context.Context, selector string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return "", p.Err
	}
	snapshot, ok := p.Snapshots[selector]
	if !ok {
		return "", types.NewError(types.CodeSelectorNotFound, "no element found matching selector: %s", selector)
	}
	return snapshot, nil
}

func (p *Page) Evaluate(ctx context.Context, expression string) (interface{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return nil, p.Err
	}
	result, ok := p.EvalResults[expression]
	if !ok {
		return nil, types.NewError(types.CodeJSEvalFailed, "ReferenceError: %s is not defined", expression)
	}
	return result, nil
}

func (p *Page) Screenshot(ctx context.Context, path string, fullPage bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.Screenshots = append(p.Screenshots, path)
	return nil
}

func (p *Page) ElementState(ctx context.Context, selector string) (engine.ElementState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return engine.ElementState{}, p.Err
	}
	return p.Elements[selector], nil
}

// BringToFront implements engine.Page.
func (p *Page) BringToFront(ctx context.Context) error {
	p.mu.Lock()
	if p.Err != nil {
		defer p.mu.Unlock()
		return p.Err
	}
	p.Fronted++
	owner := p.owner
	p.mu.Unlock()

	if owner != nil {
		owner.activate(p)
	}
	return nil
}

// Close implements engine.Page.
func (p *Page) Close(ctx context.Context) error {
	p.mu.Lock()
	p.Closed = true
	owner := p.owner
	p.mu.Unlock()

	if owner != nil {
		owner.remove(p)
	}
	return nil
}

// SetTitle sets the title reported at url.
func (p *Page) SetTitle(url, title string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.titles[url] = title
}

// SetElement registers a selector's state.
func (p *Page) SetElement(selector string, state engine.ElementState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Elements[selector] = state
}

// Launcher is a fake engine.Launcher handing out sequential pids.
type Launcher struct {
	mu      sync.Mutex
	NextPID int
	Specs   []engine.LaunchSpec
	Err     error
}

// Launch implements engine.Launcher.
func (l *Launcher) Launch(ctx context.Context, spec engine.LaunchSpec) (*engine.Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return nil, l.Err
	}
	if l.NextPID == 0 {
		l.NextPID = 1000
	}
	if spec.Port == 0 {
		spec.Port = 9222 + len(l.Specs)
	}
	l.Specs = append(l.Specs, spec)
	pid := l.NextPID
	l.NextPID++
	return &engine.Process{PID: pid, Port: spec.Port, Endpoint: fmt.Sprintf("http://127.0.0.1:%d", spec.Port)}, nil
}

// Count returns the number of launches.
func (l *Launcher) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.Specs)
}
