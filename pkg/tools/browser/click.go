package browser

import (
	"context"

	"github.com/entrhq/pw/pkg/contextstore"
	"github.com/entrhq/pw/pkg/engine"
	"github.com/entrhq/pw/pkg/tools"
	"github.com/entrhq/pw/pkg/types"
)

// ClickOperation clicks an element on the page.
type ClickOperation struct{}

// NewClickOperation creates the click operation.
func NewClickOperation() *ClickOperation {
	return &ClickOperation{}
}

func (o *ClickOperation) Name() string { return "click" }

func (o *ClickOperation) Description() string {
	return "Click an element and report the URL the page ends up on"
}

// ClickInput are the click parameters.
type ClickInput struct {
	URL        string `json:"url,omitempty"`
	Selector   string `json:"selector,omitempty"`
	Button     string `json:"button,omitempty"`
	ClickCount int    `json:"clickCount,omitempty"`
	// WaitMs pauses after the click so client-side navigation can settle.
	WaitMs int `json:"waitMs,omitempty"`
}

// ClickData is the click result.
type ClickData struct {
	Selector  string `json:"selector"`
	BeforeURL string `json:"beforeUrl"`
	AfterURL  string `json:"afterUrl"`
	Navigated bool   `json:"navigated"`
}

var clickButtons = map[string]bool{"": true, "left": true, "right": true, "middle": true}

// Execute clicks the element.
func (o *ClickOperation) Execute(ctx context.Context, inv *tools.Invocation) (*tools.Result, error) {
	var input ClickInput
	if err := inv.Decode(&input); err != nil {
		return nil, err
	}
	if !clickButtons[input.Button] {
		return nil, types.NewError(types.CodeInvalidInput, "invalid button: %s (must be 'left', 'right', or 'middle')", input.Button)
	}
	if input.ClickCount < 0 || input.WaitMs < 0 {
		return nil, types.NewError(types.CodeInvalidInput, "clickCount and waitMs must not be negative")
	}

	url, err := targetURL(inv, input.URL)
	if err != nil {
		return nil, err
	}
	selector, err := targetSelector(inv, input.Selector)
	if err != nil {
		return nil, err
	}
	input.URL, input.Selector = url, selector

	page, err := openPage(ctx, inv, url, "")
	if err != nil {
		return nil, err
	}

	before := page.URL()
	err = page.Click(ctx, selector, engine.ClickOptions{
		Button:     input.Button,
		ClickCount: input.ClickCount,
		TimeoutMs:  inv.Runtime.TimeoutMs,
	})
	if err != nil {
		return nil, err
	}
	if err := settle(ctx, input.WaitMs); err != nil {
		return nil, err
	}
	after := page.URL()

	return &tools.Result{
		Inputs: input,
		Data: ClickData{
			Selector:  selector,
			BeforeURL: before,
			AfterURL:  after,
			Navigated: before != after,
		},
		Delta: contextstore.Delta{URL: after, Selector: selector},
	}, nil
}
