package browser

import (
	"context"
	"encoding/json"
	"time"

	"github.com/entrhq/pw/pkg/contextstore"
	"github.com/entrhq/pw/pkg/engine"
	"github.com/entrhq/pw/pkg/tools"
	"github.com/entrhq/pw/pkg/types"
)

const (
	defaultElementsTimeoutMs = 10000
	elementsPollInterval     = 500 * time.Millisecond
)

// ElementsOperation lists the visible interactive elements of the page
// with selectors that click and fill accept.
type ElementsOperation struct{}

// NewElementsOperation creates the page.elements operation.
func NewElementsOperation() *ElementsOperation {
	return &ElementsOperation{}
}

func (o *ElementsOperation) Name() string { return "page.elements" }

func (o *ElementsOperation) Description() string {
	return "List buttons, links, inputs and other interactive elements with stable selectors"
}

// ElementsInput are the page.elements parameters. Wait polls until at
// least one element shows up or TimeoutMs passes.
type ElementsInput struct {
	URL       string `json:"url,omitempty"`
	Wait      bool   `json:"wait,omitempty"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
}

// Element is one interactive element. Extra carries the input type or the
// checked state of checkboxes and radios.
type Element struct {
	Tag      string `json:"tag"`
	Selector string `json:"selector"`
	Text     string `json:"text,omitempty"`
	Extra    string `json:"extra,omitempty"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// ElementsData is the page.elements result.
type ElementsData struct {
	Elements []Element `json:"elements"`
	Count    int       `json:"count"`
}

// Execute extracts the elements.
func (o *ElementsOperation) Execute(ctx context.Context, inv *tools.Invocation) (*tools.Result, error) {
	var input ElementsInput
	if err := inv.Decode(&input); err != nil {
		return nil, err
	}
	if input.TimeoutMs < 0 {
		return nil, types.NewError(types.CodeInvalidInput, "timeoutMs must be >= 0, got %d", input.TimeoutMs)
	}
	if input.TimeoutMs == 0 {
		input.TimeoutMs = defaultElementsTimeoutMs
	}

	url, err := targetURL(inv, input.URL)
	if err != nil {
		return nil, err
	}
	input.URL = url

	page, err := openPage(ctx, inv, url, "networkidle")
	if err != nil {
		return nil, err
	}

	res := &tools.Result{Inputs: input, Delta: contextstore.Delta{URL: page.URL()}}

	elements, err := extractElements(ctx, page)
	if err != nil {
		return nil, err
	}
	if input.Wait && len(elements) == 0 {
		err := engine.Poll(ctx, engine.PollOptions{
			Interval: elementsPollInterval,
			Timeout:  time.Duration(input.TimeoutMs) * time.Millisecond,
			What:     "interactive elements",
		}, func(ctx context.Context) (bool, error) {
			var err error
			elements, err = extractElements(ctx, page)
			return len(elements) > 0, err
		})
		if types.CodeOf(err) == types.CodeTimeout {
			res.Warn("page.elements", "no interactive elements appeared within %dms", input.TimeoutMs)
		} else if err != nil {
			return nil, err
		}
	}

	if elements == nil {
		elements = []Element{}
	}
	res.Data = ElementsData{Elements: elements, Count: len(elements)}
	return res, nil
}

func extractElements(ctx context.Context, page engine.Page) ([]Element, error) {
	value, err := page.Evaluate(ctx, elementsExpression)
	if err != nil {
		return nil, err
	}
	encoded, ok := value.(string)
	if !ok {
		return nil, types.NewError(types.CodeJSEvalFailed, "element listing returned %T, expected a JSON string", value)
	}
	var elements []Element
	if err := json.Unmarshal([]byte(encoded), &elements); err != nil {
		return nil, types.WrapError(types.CodeJSEvalFailed, err, "element listing returned malformed JSON")
	}
	return elements, nil
}

// elementsExpression collects visible interactive elements. Selectors
// prefer id, then a unique name, visible text, aria-label, a unique class
// pair, and finally nth-of-type.
const elementsExpression = `JSON.stringify((() => {
  const out = [];
  const seen = new Set();
  const unique = (sel) => document.querySelectorAll(sel).length === 1;
  const clean = (s) => (s || '').replace(/\s+/g, ' ').trim().substring(0, 40);

  function selectorFor(el) {
    const tag = el.tagName.toLowerCase();
    if (el.id) return '#' + CSS.escape(el.id);
    if (el.name && ['INPUT', 'SELECT', 'TEXTAREA'].includes(el.tagName)) {
      const sel = tag + '[name="' + el.name + '"]';
      if (unique(sel)) return sel;
    }
    if (['BUTTON', 'A'].includes(el.tagName) || el.getAttribute('role') === 'button') {
      const text = clean((el.textContent || '').split('\n')[0]);
      if (text) return tag + ':has-text("' + text.replace(/"/g, '\\"') + '")';
    }
    const aria = el.getAttribute('aria-label');
    if (aria) {
      const sel = '[aria-label="' + aria.replace(/"/g, '\\"') + '"]';
      if (unique(sel)) return sel;
    }
    if (typeof el.className === 'string') {
      const classes = el.className.split(/\s+/).filter((c) => c && !/^(hover|active|focus|disabled)/.test(c));
      if (classes.length > 0 && classes.length <= 3) {
        const sel = tag + '.' + classes.slice(0, 2).join('.');
        if (unique(sel)) return sel;
      }
    }
    const parent = el.parentElement;
    if (parent) {
      const siblings = Array.from(parent.children).filter((c) => c.tagName === el.tagName);
      if (siblings.length > 1) return tag + ':nth-of-type(' + (siblings.indexOf(el) + 1) + ')';
    }
    return tag;
  }

  function labelFor(el) {
    if (el.id) {
      const label = document.querySelector('label[for="' + el.id + '"]');
      if (label) return clean(label.textContent);
    }
    for (const attr of ['aria-label', 'placeholder', 'title']) {
      const v = el.getAttribute(attr);
      if (v) return clean(v);
    }
    if (el.value && (el.type === 'submit' || el.type === 'button')) return clean(el.value);
    return clean(el.textContent);
  }

  function visible(el) {
    const r = el.getBoundingClientRect();
    if (r.width === 0 || r.height === 0) return false;
    const s = window.getComputedStyle(el);
    return s.display !== 'none' && s.visibility !== 'hidden' && s.opacity !== '0';
  }

  function add(el, tag, extra) {
    if (!visible(el)) return;
    const selector = selectorFor(el);
    const key = tag + ':' + selector;
    if (seen.has(key)) return;
    seen.add(key);
    const r = el.getBoundingClientRect();
    out.push({
      tag: tag,
      selector: selector,
      text: labelFor(el),
      extra: extra || '',
      x: Math.round(r.x),
      y: Math.round(r.y),
      width: Math.round(r.width),
      height: Math.round(r.height),
    });
  }

  document.querySelectorAll('button, [role="button"], input[type="submit"], input[type="button"]').forEach((el) => add(el, 'button'));
  document.querySelectorAll('a[href]').forEach((el) => {
    const href = el.getAttribute('href');
    if (href && !href.startsWith('javascript:') && !href.startsWith('#')) add(el, 'link');
  });
  document.querySelectorAll('input:not([type="hidden"]):not([type="submit"]):not([type="button"]):not([type="checkbox"]):not([type="radio"])')
    .forEach((el) => add(el, 'input', el.type || 'text'));
  document.querySelectorAll('textarea').forEach((el) => add(el, 'textarea'));
  document.querySelectorAll('select').forEach((el) => add(el, 'select'));
  document.querySelectorAll('input[type="checkbox"]').forEach((el) => add(el, 'checkbox', el.checked ? 'checked' : 'unchecked'));
  document.querySelectorAll('input[type="radio"]').forEach((el) => add(el, 'radio', el.checked ? 'checked' : 'unchecked'));
  return out;
})())`
