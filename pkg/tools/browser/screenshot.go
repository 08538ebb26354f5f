package browser

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/entrhq/pw/pkg/contextstore"
	"github.com/entrhq/pw/pkg/tools"
	"github.com/entrhq/pw/pkg/types"
)

// DefaultScreenshotPath is used when no output is given or cached.
const DefaultScreenshotPath = "screenshot.png"

// ScreenshotOperation captures the page as a PNG.
type ScreenshotOperation struct{}

// NewScreenshotOperation creates the screenshot operation.
func NewScreenshotOperation() *ScreenshotOperation {
	return &ScreenshotOperation{}
}

func (o *ScreenshotOperation) Name() string        { return "screenshot" }
func (o *ScreenshotOperation) Description() string { return "Save a PNG screenshot of the page" }

// ScreenshotInput are the screenshot parameters. A relative output path is
// resolved against the workspace root.
type ScreenshotInput struct {
	URL      string `json:"url,omitempty"`
	Output   string `json:"output,omitempty"`
	FullPage bool   `json:"fullPage,omitempty"`
}

// Execute captures the screenshot.
func (o *ScreenshotOperation) Execute(ctx context.Context, inv *tools.Invocation) (*tools.Result, error) {
	var input ScreenshotInput
	if err := inv.Decode(&input); err != nil {
		return nil, err
	}

	url, err := targetURL(inv, input.URL)
	if err != nil {
		return nil, err
	}
	output := strings.TrimSpace(input.Output)
	if output == "" {
		output = inv.Context.LastOutput
	}
	if output == "" {
		output = DefaultScreenshotPath
	}
	input.URL, input.Output = url, output

	path := output
	if inv.Services != nil && inv.Services.Workspace != nil {
		path, err = inv.Services.Workspace.ResolvePath(output)
		if err != nil {
			return nil, types.WrapError(types.CodeInvalidInput, err, "invalid output path %q", output)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, types.WrapError(types.CodeIOError, err, "failed to create directory for %s", path)
	}

	page, err := openPage(ctx, inv, url, "")
	if err != nil {
		return nil, err
	}
	if err := page.Screenshot(ctx, path, input.FullPage); err != nil {
		return nil, err
	}

	return &tools.Result{
		Inputs:    input,
		Data:      map[string]interface{}{"path": path, "fullPage": input.FullPage},
		Artifacts: []tools.Artifact{{Kind: "screenshot", Path: path}},
		Delta:     contextstore.Delta{URL: page.URL(), Output: output},
	}, nil
}
