package browser

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/entrhq/pw/pkg/contextstore"
	"github.com/entrhq/pw/pkg/tools"
	"github.com/entrhq/pw/pkg/types"
)

// TextOperation reads the text content of an element or the page body.
type TextOperation struct{}

// NewTextOperation creates the page.text operation.
func NewTextOperation() *TextOperation {
	return &TextOperation{}
}

func (o *TextOperation) Name() string        { return "page.text" }
func (o *TextOperation) Description() string { return "Read the text of an element, or of the whole page" }

// TextInput are the page.text parameters. An omitted selector reads the
// body; the cached selector is not inherited here because reading the
// whole page is the common case.
type TextInput struct {
	URL       string `json:"url,omitempty"`
	Selector  string `json:"selector,omitempty"`
	MaxLength int    `json:"maxLength,omitempty"`
}

// ContentData is the page.text and page.html result.
type ContentData struct {
	Selector  string `json:"selector,omitempty"`
	Content   string `json:"content"`
	Length    int    `json:"length"`
	Truncated bool   `json:"truncated,omitempty"`
	Title     string `json:"title,omitempty"`
}

// Execute reads the text.
func (o *TextOperation) Execute(ctx context.Context, inv *tools.Invocation) (*tools.Result, error) {
	var input TextInput
	if err := inv.Decode(&input); err != nil {
		return nil, err
	}
	if input.MaxLength < 0 {
		return nil, types.NewError(types.CodeInvalidInput, "maxLength must not be negative")
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
	text, err := page.Text(ctx, input.Selector)
	if err != nil {
		return nil, err
	}

	text = strings.TrimSpace(text)
	data := ContentData{Selector: input.Selector, Length: utf8.RuneCountInString(text)}
	data.Content, data.Truncated = truncate(text, input.MaxLength)

	return &tools.Result{
		Inputs: input,
		Data:   data,
		Delta:  contextstore.Delta{URL: page.URL(), Selector: input.Selector},
	}, nil
}

// HTMLOperation reads the markup of an element or the whole document.
type HTMLOperation struct{}

// NewHTMLOperation creates the page.html operation.
func NewHTMLOperation() *HTMLOperation {
	return &HTMLOperation{}
}

func (o *HTMLOperation) Name() string        { return "page.html" }
func (o *HTMLOperation) Description() string { return "Read the HTML of an element, or of the whole page" }

// HTMLInput are the page.html parameters. Clean strips scripts, styles and
// noise attributes, keeping the structure useful for picking selectors.
type HTMLInput struct {
	URL       string `json:"url,omitempty"`
	Selector  string `json:"selector,omitempty"`
	Clean     bool   `json:"clean,omitempty"`
	MaxLength int    `json:"maxLength,omitempty"`
}

// Execute reads the markup.
func (o *HTMLOperation) Execute(ctx context.Context, inv *tools.Invocation) (*tools.Result, error) {
	var input HTMLInput
	if err := inv.Decode(&input); err != nil {
		return nil, err
	}
	if input.MaxLength < 0 {
		return nil, types.NewError(types.CodeInvalidInput, "maxLength must not be negative")
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
	markup, err := page.HTML(ctx, input.Selector)
	if err != nil {
		return nil, err
	}

	data := ContentData{Selector: input.Selector}
	if input.Clean {
		cleaned, err := cleanHTML(markup, input.MaxLength)
		if err != nil {
			return nil, types.WrapError(types.CodeInternal, err, "failed to clean page html")
		}
		data.Content = cleaned.HTML
		data.Truncated = cleaned.Truncated
		data.Title = cleaned.Title
	} else {
		data.Content, data.Truncated = truncate(markup, input.MaxLength)
	}
	data.Length = utf8.RuneCountInString(data.Content)

	return &tools.Result{
		Inputs: input,
		Data:   data,
		Delta:  contextstore.Delta{URL: page.URL(), Selector: input.Selector},
	}, nil
}

// SnapshotOperation returns the accessibility tree of the page, a compact
// view of roles and names that is easier to act on than raw markup.
type SnapshotOperation struct{}

// NewSnapshotOperation creates the page.snapshot operation.
func NewSnapshotOperation() *SnapshotOperation {
	return &SnapshotOperation{}
}

func (o *SnapshotOperation) Name() string { return "page.snapshot" }

func (o *SnapshotOperation) Description() string {
	return "Capture the accessibility tree of an element, or of the whole page, as YAML"
}

// SnapshotInput are the page.snapshot parameters.
type SnapshotInput struct {
	URL       string `json:"url,omitempty"`
	Selector  string `json:"selector,omitempty"`
	MaxLength int    `json:"maxLength,omitempty"`
}

// Execute captures the snapshot.
func (o *SnapshotOperation) Execute(ctx context.Context, inv *tools.Invocation) (*tools.Result, error) {
	var input SnapshotInput
	if err := inv.Decode(&input); err != nil {
		return nil, err
	}
	if input.MaxLength < 0 {
		return nil, types.NewError(types.CodeInvalidInput, "maxLength must not be negative")
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
	snapshot, err := page.Snapshot(ctx, input.Selector)
	if err != nil {
		return nil, err
	}

	data := ContentData{Selector: input.Selector, Length: utf8.RuneCountInString(snapshot)}
	data.Content, data.Truncated = truncate(snapshot, input.MaxLength)

	return &tools.Result{
		Inputs: input,
		Data:   data,
		Delta:  contextstore.Delta{URL: page.URL(), Selector: input.Selector},
	}, nil
}

// truncate cuts s to max runes; max 0 means unlimited.
func truncate(s string, max int) (string, bool) {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s, false
	}
	runes := []rune(s)
	return string(runes[:max]), true
}
