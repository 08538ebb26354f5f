package browser

import (
	"context"
	"time"

	"github.com/entrhq/pw/pkg/contextstore"
	"github.com/entrhq/pw/pkg/engine"
	"github.com/entrhq/pw/pkg/tools"
	"github.com/entrhq/pw/pkg/types"
)

const (
	maxWaitMs    = 300000
	waitInterval = 100 * time.Millisecond
)

// WaitOperation polls until an element reaches a state.
type WaitOperation struct{}

// NewWaitOperation creates the wait operation.
func NewWaitOperation() *WaitOperation {
	return &WaitOperation{}
}

func (o *WaitOperation) Name() string { return "wait" }

func (o *WaitOperation) Description() string {
	return "Wait for an element to be attached, detached, visible or hidden"
}

// WaitInput are the wait parameters. TimeoutMs defaults to the runtime timeout.
type WaitInput struct {
	URL       string `json:"url,omitempty"`
	Selector  string `json:"selector,omitempty"`
	State     string `json:"state,omitempty"`
	TimeoutMs int    `json:"timeoutMs,omitempty"`
}

// WaitData is the wait result.
type WaitData struct {
	Selector  string `json:"selector"`
	State     string `json:"state"`
	Count     int    `json:"count"`
	ElapsedMs int64  `json:"elapsedMs"`
}

var elementStates = map[string]func(engine.ElementState) bool{
	"attached": func(s engine.ElementState) bool { return s.Count > 0 },
	"detached": func(s engine.ElementState) bool { return s.Count == 0 },
	"visible":  func(s engine.ElementState) bool { return s.Visible },
	"hidden":   func(s engine.ElementState) bool { return !s.Visible },
}

// Execute waits for the element.
func (o *WaitOperation) Execute(ctx context.Context, inv *tools.Invocation) (*tools.Result, error) {
	var input WaitInput
	if err := inv.Decode(&input); err != nil {
		return nil, err
	}

	if input.State == "" {
		input.State = "visible"
	}
	reached, ok := elementStates[input.State]
	if !ok {
		return nil, types.NewError(types.CodeInvalidInput,
			"invalid state: %s (must be 'attached', 'detached', 'visible', or 'hidden')", input.State)
	}
	if input.TimeoutMs == 0 {
		input.TimeoutMs = inv.Runtime.TimeoutMs
	}
	if input.TimeoutMs < 0 || input.TimeoutMs > maxWaitMs {
		return nil, types.NewError(types.CodeInvalidInput, "timeoutMs must be between 1 and %d", maxWaitMs)
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

	start := time.Now()
	var last engine.ElementState
	err = engine.Poll(ctx, engine.PollOptions{
		Interval: waitInterval,
		Timeout:  time.Duration(input.TimeoutMs) * time.Millisecond,
		What:     "selector " + selector + " to be " + input.State,
	}, func(ctx context.Context) (bool, error) {
		state, err := page.ElementState(ctx, selector)
		if err != nil {
			return false, err
		}
		last = state
		return reached(state), nil
	})
	if err != nil {
		return nil, err
	}

	return &tools.Result{
		Inputs: input,
		Data: WaitData{
			Selector:  selector,
			State:     input.State,
			Count:     last.Count,
			ElapsedMs: time.Since(start).Milliseconds(),
		},
		Delta: contextstore.Delta{URL: page.URL(), Selector: selector},
	}, nil
}

// settle pauses for ms milliseconds unless ctx ends first.
func settle(ctx context.Context, ms int) error {
	if ms <= 0 {
		return nil
	}
	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return types.WrapError(types.CodeTimeout, ctx.Err(), "interrupted while waiting %dms", ms)
	}
}
