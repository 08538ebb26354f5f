package engine

import (
	"context"
	"time"

	"github.com/entrhq/pw/pkg/types"
)

// PollOptions bound a poll loop. Both fields are required.
type PollOptions struct {
	Interval time.Duration
	Timeout  time.Duration
	// What names the awaited condition in the timeout message.
	What string
}

// Poll calls fn every Interval until it reports done, returns an error, the
// context ends, or Timeout elapses. Expiry yields a TIMEOUT error naming
// the bound.
func Poll(ctx context.Context, opts PollOptions, fn func(ctx context.Context) (bool, error)) error {
	if opts.Interval <= 0 || opts.Timeout <= 0 {
		return types.NewError(types.CodeInternal, "poll for %s needs a positive interval and timeout", opts.What)
	}

	deadline := time.Now().Add(opts.Timeout)
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for {
		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if !time.Now().Before(deadline) {
			return types.NewError(types.CodeTimeout, "timed out after %s waiting for %s", opts.Timeout, opts.What).
				WithDetail("timeoutMs", opts.Timeout.Milliseconds())
		}

		select {
		case <-ctx.Done():
			return types.WrapError(types.CodeTimeout, ctx.Err(), "cancelled while waiting for %s", opts.What)
		case <-ticker.C:
		}
	}
}
