package browser

import (
	"context"
	"strings"

	"github.com/entrhq/pw/pkg/engine"
	"github.com/entrhq/pw/pkg/tools"
	"github.com/entrhq/pw/pkg/types"
)

// Valid waitUntil values for navigation.
var waitStates = map[string]bool{
	"load":             true,
	"domcontentloaded": true,
	"networkidle":      true,
	"commit":           true,
}

const defaultWaitUntil = "load"

// targetURL resolves the URL an operation works on.
func targetURL(inv *tools.Invocation, raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		raw = inv.Context.LastURL
	}
	if strings.TrimSpace(raw) == "" {
		return "", types.NewError(types.CodeInvalidInput, "url is required: none given and none cached for profile %s", inv.Runtime.Profile)
	}
	return inv.Runtime.ResolveURL(raw)
}

// targetSelector resolves the selector an operation works on.
func targetSelector(inv *tools.Invocation, raw string) (string, error) {
	if strings.TrimSpace(raw) != "" {
		return raw, nil
	}
	if inv.Context.LastSelector != "" {
		return inv.Context.LastSelector, nil
	}
	return "", types.NewError(types.CodeInvalidInput, "selector is required: none given and none cached for profile %s", inv.Runtime.Profile)
}

func checkProtected(inv *tools.Invocation, url string) error {
	if engine.MatchAny(inv.Runtime.ProtectedURLs, url) {
		return types.NewError(types.CodeInvalidInput, "url %s matches a protected pattern", url).
			WithDetail("url", url)
	}
	return nil
}

// sameURL compares page URLs ignoring trailing slashes.
func sameURL(current, target string) bool {
	return strings.TrimRight(current, "/") == strings.TrimRight(target, "/")
}

// openPage returns the profile's page positioned at url.
func openPage(ctx context.Context, inv *tools.Invocation, url, waitUntil string) (engine.Page, error) {
	if err := checkProtected(inv, url); err != nil {
		return nil, err
	}
	if inv.Services == nil || inv.Services.Sessions == nil {
		return nil, types.NewError(types.CodeInternal, "no session source configured")
	}

	page, err := inv.Services.Sessions.Page(ctx, inv.Runtime)
	if err != nil {
		return nil, err
	}
	inv.Page = page
	if sameURL(page.URL(), url) {
		return page, nil
	}

	if waitUntil == "" {
		waitUntil = defaultWaitUntil
	}
	if _, err := page.Goto(ctx, url, waitUntil); err != nil {
		return nil, err
	}
	return page, nil
}

// Operations returns every browser operation.
func Operations() []tools.Operation {
	return []tools.Operation{
		NewNavigateOperation(),
		NewClickOperation(),
		NewFillOperation(),
		NewWaitOperation(),
		NewTextOperation(),
		NewHTMLOperation(),
		NewEvaluateOperation(),
		NewScreenshotOperation(),
		NewSnapshotOperation(),
		NewElementsOperation(),
		NewTabsListOperation(),
		NewTabsNewOperation(),
		NewTabsSwitchOperation(),
		NewTabsCloseOperation(),
		NewSessionStatusOperation(),
		NewSessionClearOperation(),
		NewSessionStopOperation(),
		NewDaemonStatusOperation(),
	}
}
