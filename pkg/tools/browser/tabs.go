package browser

import (
	"context"
	"sort"
	"strconv"
	"strings"

	"github.com/entrhq/pw/pkg/contextstore"
	"github.com/entrhq/pw/pkg/engine"
	"github.com/entrhq/pw/pkg/session"
	"github.com/entrhq/pw/pkg/tools"
	"github.com/entrhq/pw/pkg/types"
)

// TabInfo describes an open tab. Tabs are indexed in URL order so an index
// means the same tab across invocations.
type TabInfo struct {
	Index     int    `json:"index"`
	Title     string `json:"title"`
	URL       string `json:"url"`
	Protected bool   `json:"protected,omitempty"`
}

// TabsData is the tabs.list result.
type TabsData struct {
	Tabs  []TabInfo `json:"tabs"`
	Count int       `json:"count"`
}

// TabData is the result of an action on one tab.
type TabData struct {
	TabInfo
	Created  bool `json:"created,omitempty"`
	Switched bool `json:"switched,omitempty"`
	Closed   bool `json:"closed,omitempty"`
}

// TabTargetInput names a tab by index or by a case-insensitive substring
// of its URL or title.
type TabTargetInput struct {
	Target string `json:"target"`
}

type tab struct {
	TabInfo
	page engine.Page
}

func listTabs(ctx context.Context, inv *tools.Invocation) (engine.Browser, []tab, error) {
	src, err := sessions(inv)
	if err != nil {
		return nil, nil, err
	}
	b, err := src.Browser(ctx, inv.Runtime)
	if err != nil {
		return nil, nil, err
	}
	pages, err := b.Tabs(ctx)
	if err != nil {
		return nil, nil, err
	}

	tabs := make([]tab, 0, len(pages))
	for _, page := range pages {
		title, err := page.Title()
		if err != nil {
			title = ""
		}
		url := page.URL()
		tabs = append(tabs, tab{
			TabInfo: TabInfo{Title: title, URL: url, Protected: engine.MatchAny(inv.Runtime.ProtectedURLs, url)},
			page:    page,
		})
	}
	sort.SliceStable(tabs, func(i, j int) bool { return tabs[i].URL < tabs[j].URL })
	for i := range tabs {
		tabs[i].Index = i
	}
	return b, tabs, nil
}

// findTab resolves target. Protected tabs are never returned.
func findTab(tabs []tab, target string) (tab, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return tab{}, types.NewError(types.CodeInvalidInput, "target is required")
	}

	if index, err := strconv.Atoi(target); err == nil {
		if index < 0 || index >= len(tabs) {
			return tab{}, types.NewError(types.CodeInvalidInput, "tab index %d out of range (%d open)", index, len(tabs))
		}
		t := tabs[index]
		if t.Protected {
			return tab{}, types.NewError(types.CodeInvalidInput, "tab %d is protected", index).
				WithDetail("url", t.URL)
		}
		return t, nil
	}

	needle := strings.ToLower(target)
	for _, t := range tabs {
		if t.Protected {
			continue
		}
		if strings.Contains(strings.ToLower(t.URL), needle) || strings.Contains(strings.ToLower(t.Title), needle) {
			return t, nil
		}
	}
	return tab{}, types.NewError(types.CodeInvalidInput, "no tab matches %q (protected tabs are excluded)", target)
}

func infos(tabs []tab) []TabInfo {
	out := make([]TabInfo, 0, len(tabs))
	for _, t := range tabs {
		out = append(out, t.TabInfo)
	}
	return out
}

// TabsListOperation lists the profile browser's open tabs.
type TabsListOperation struct{}

// NewTabsListOperation creates the tabs.list operation.
func NewTabsListOperation() *TabsListOperation {
	return &TabsListOperation{}
}

func (o *TabsListOperation) Name() string        { return "tabs.list" }
func (o *TabsListOperation) Description() string { return "List the open tabs of the profile's browser" }

// Execute lists the tabs.
func (o *TabsListOperation) Execute(ctx context.Context, inv *tools.Invocation) (*tools.Result, error) {
	if err := inv.Decode(&struct{}{}); err != nil {
		return nil, err
	}
	_, tabs, err := listTabs(ctx, inv)
	if err != nil {
		return nil, err
	}
	return &tools.Result{Data: TabsData{Tabs: infos(tabs), Count: len(tabs)}}, nil
}

// TabsNewOperation opens a tab, optionally at a URL, and makes it active.
type TabsNewOperation struct{}

// NewTabsNewOperation creates the tabs.new operation.
func NewTabsNewOperation() *TabsNewOperation {
	return &TabsNewOperation{}
}

func (o *TabsNewOperation) Name() string        { return "tabs.new" }
func (o *TabsNewOperation) Description() string { return "Open a new tab, optionally at a URL" }

// TabsNewInput are the tabs.new parameters. The cached URL is not
// inherited; without a URL the tab stays blank.
type TabsNewInput struct {
	URL       string `json:"url,omitempty"`
	WaitUntil string `json:"waitUntil,omitempty"`
}

// Execute opens the tab.
func (o *TabsNewOperation) Execute(ctx context.Context, inv *tools.Invocation) (*tools.Result, error) {
	var input TabsNewInput
	if err := inv.Decode(&input); err != nil {
		return nil, err
	}
	if input.WaitUntil == "" {
		input.WaitUntil = defaultWaitUntil
	}
	if !waitStates[input.WaitUntil] {
		return nil, types.NewError(types.CodeInvalidInput, "invalid waitUntil value: %s", input.WaitUntil)
	}
	if strings.TrimSpace(input.URL) != "" {
		url, err := inv.Runtime.ResolveURL(input.URL)
		if err != nil {
			return nil, err
		}
		if err := checkProtected(inv, url); err != nil {
			return nil, err
		}
		input.URL = url
	}

	src, err := sessions(inv)
	if err != nil {
		return nil, err
	}
	b, err := src.Browser(ctx, inv.Runtime)
	if err != nil {
		return nil, err
	}
	page, err := b.NewTab(ctx, session.PageOptions(inv.Runtime))
	if err != nil {
		return nil, err
	}
	inv.Page = page

	res := &tools.Result{Inputs: input}
	if input.URL != "" {
		if _, err := page.Goto(ctx, input.URL, input.WaitUntil); err != nil {
			return nil, err
		}
		res.Delta = contextstore.Delta{URL: page.URL()}
	}

	_, tabs, err := listTabs(ctx, inv)
	if err != nil {
		return nil, err
	}
	data := TabData{Created: true, TabInfo: TabInfo{URL: page.URL()}}
	// The stable sort keeps creation order among equal URLs, so the new
	// tab is the last one at its URL.
	for _, t := range tabs {
		if t.URL == data.URL {
			data.TabInfo = t.TabInfo
		}
	}
	res.Data = data
	return res, nil
}

// TabsSwitchOperation makes a tab the active one.
type TabsSwitchOperation struct{}

// NewTabsSwitchOperation creates the tabs.switch operation.
func NewTabsSwitchOperation() *TabsSwitchOperation {
	return &TabsSwitchOperation{}
}

func (o *TabsSwitchOperation) Name() string { return "tabs.switch" }

func (o *TabsSwitchOperation) Description() string {
	return "Activate a tab by index or by URL or title substring"
}

// Execute brings the tab to the front and caches its URL.
func (o *TabsSwitchOperation) Execute(ctx context.Context, inv *tools.Invocation) (*tools.Result, error) {
	var input TabTargetInput
	if err := inv.Decode(&input); err != nil {
		return nil, err
	}
	_, tabs, err := listTabs(ctx, inv)
	if err != nil {
		return nil, err
	}
	t, err := findTab(tabs, input.Target)
	if err != nil {
		return nil, err
	}
	if err := t.page.BringToFront(ctx); err != nil {
		return nil, err
	}
	inv.Page = t.page

	return &tools.Result{
		Inputs: input,
		Data:   TabData{TabInfo: t.TabInfo, Switched: true},
		Delta:  contextstore.Delta{URL: t.URL},
	}, nil
}

// TabsCloseOperation closes a tab.
type TabsCloseOperation struct{}

// NewTabsCloseOperation creates the tabs.close operation.
func NewTabsCloseOperation() *TabsCloseOperation {
	return &TabsCloseOperation{}
}

func (o *TabsCloseOperation) Name() string { return "tabs.close" }

func (o *TabsCloseOperation) Description() string {
	return "Close a tab by index or by URL or title substring"
}

// Execute closes the tab.
func (o *TabsCloseOperation) Execute(ctx context.Context, inv *tools.Invocation) (*tools.Result, error) {
	var input TabTargetInput
	if err := inv.Decode(&input); err != nil {
		return nil, err
	}
	_, tabs, err := listTabs(ctx, inv)
	if err != nil {
		return nil, err
	}
	t, err := findTab(tabs, input.Target)
	if err != nil {
		return nil, err
	}
	if err := t.page.Close(ctx); err != nil {
		return nil, err
	}

	return &tools.Result{
		Inputs: input,
		Data:   TabData{TabInfo: t.TabInfo, Closed: true},
	}, nil
}
