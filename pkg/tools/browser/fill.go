package browser

import (
	"context"

	"github.com/entrhq/pw/pkg/contextstore"
	"github.com/entrhq/pw/pkg/tools"
	"github.com/entrhq/pw/pkg/types"
)

// FillOperation types a value into an input element.
type FillOperation struct{}

// NewFillOperation creates the fill operation.
func NewFillOperation() *FillOperation {
	return &FillOperation{}
}

func (o *FillOperation) Name() string        { return "fill" }
func (o *FillOperation) Description() string { return "Fill a form field with a value" }

// FillInput are the fill parameters. Value is required but may be empty,
// which clears the field.
type FillInput struct {
	URL      string  `json:"url,omitempty"`
	Selector string  `json:"selector,omitempty"`
	Value    *string `json:"value"`
}

// Execute fills the field.
func (o *FillOperation) Execute(ctx context.Context, inv *tools.Invocation) (*tools.Result, error) {
	var input FillInput
	if err := inv.Decode(&input); err != nil {
		return nil, err
	}
	if input.Value == nil {
		return nil, types.NewError(types.CodeInvalidInput, "value is required")
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
	if err := page.Fill(ctx, selector, *input.Value); err != nil {
		return nil, err
	}

	return &tools.Result{
		Inputs: input,
		Data: map[string]interface{}{
			"selector": selector,
			"length":   len(*input.Value),
		},
		Delta: contextstore.Delta{URL: page.URL(), Selector: selector},
	}, nil
}
