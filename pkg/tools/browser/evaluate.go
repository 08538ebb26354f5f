package browser

import (
	"context"
	"strings"

	"github.com/entrhq/pw/pkg/contextstore"
	"github.com/entrhq/pw/pkg/tools"
	"github.com/entrhq/pw/pkg/types"
)

// EvaluateOperation runs a JavaScript expression in the page.
type EvaluateOperation struct{}

// NewEvaluateOperation creates the page.eval operation.
func NewEvaluateOperation() *EvaluateOperation {
	return &EvaluateOperation{}
}

func (o *EvaluateOperation) Name() string { return "page.eval" }

func (o *EvaluateOperation) Description() string {
	return "Evaluate a JavaScript expression in the page and return its JSON value"
}

// EvaluateInput are the page.eval parameters.
type EvaluateInput struct {
	URL        string `json:"url,omitempty"`
	Expression string `json:"expression"`
}

// Execute evaluates the expression.
func (o *EvaluateOperation) Execute(ctx context.Context, inv *tools.Invocation) (*tools.Result, error) {
	var input EvaluateInput
	if err := inv.Decode(&input); err != nil {
		return nil, err
	}
	if strings.TrimSpace(input.Expression) == "" {
		return nil, types.NewError(types.CodeInvalidInput, "expression is required")
	}

	url, err := targetURL(inv, input.URL)
	if err != nil {
		return nil, err
	}
	input.URL = url

	page, err := openPage(ctx, inv, url, "")
	if err != nil {
		return nil, err
	}
	value, err := page.Evaluate(ctx, input.Expression)
	if err != nil {
		return nil, err
	}

	return &tools.Result{
		Inputs: input,
		Data:   map[string]interface{}{"result": value},
		Delta:  contextstore.Delta{URL: page.URL()},
	}, nil
}
