package browser

import (
	"context"

	"github.com/entrhq/pw/pkg/contextstore"
	"github.com/entrhq/pw/pkg/tools"
	"github.com/entrhq/pw/pkg/types"
)

// NavigateOperation loads a URL in the profile's page.
type NavigateOperation struct{}

// NewNavigateOperation creates the nav operation.
func NewNavigateOperation() *NavigateOperation {
	return &NavigateOperation{}
}

// Name returns the operation id.
func (o *NavigateOperation) Name() string {
	return "nav"
}

// Description returns the operation description.
func (o *NavigateOperation) Description() string {
	return "Navigate to a URL and wait for it to load"
}

// NavigateInput are the nav parameters.
type NavigateInput struct {
	URL       string `json:"url,omitempty"`
	WaitUntil string `json:"waitUntil,omitempty"`
}

// NavigateData is the nav result.
type NavigateData struct {
	URL       string `json:"url"`
	ActualURL string `json:"actualUrl,omitempty"`
	Title     string `json:"title"`
}

// Execute navigates to the URL.
func (o *NavigateOperation) Execute(ctx context.Context, inv *tools.Invocation) (*tools.Result, error) {
	var input NavigateInput
	if err := inv.Decode(&input); err != nil {
		return nil, err
	}

	if input.WaitUntil == "" {
		input.WaitUntil = defaultWaitUntil
	}
	if !waitStates[input.WaitUntil] {
		return nil, types.NewError(types.CodeInvalidInput,
			"invalid waitUntil value: %s (must be 'load', 'domcontentloaded', 'networkidle' or 'commit')", input.WaitUntil)
	}

	url, err := targetURL(inv, input.URL)
	if err != nil {
		return nil, err
	}
	input.URL = url

	page, err := openPage(ctx, inv, url, input.WaitUntil)
	if err != nil {
		return nil, err
	}

	// Redirects land somewhere else; the cache records where we ended up.
	actual := page.URL()
	title, err := page.Title()
	if err != nil {
		title = ""
	}

	data := NavigateData{URL: url, Title: title}
	if actual != url {
		data.ActualURL = actual
	}

	return &tools.Result{
		Inputs: input,
		Data:   data,
		Delta:  contextstore.Delta{URL: actual},
	}, nil
}
