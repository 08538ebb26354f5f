package session

import (
	"context"
	"sync"

	"github.com/entrhq/pw/pkg/engine"
)

// Session is an acquired browser. Release it when the invocation is done.
type Session struct {
	Profile    string
	Browser    engine.Browser
	Descriptor *Descriptor
	// State is the state the profile was in when the session was acquired:
	// StateWarm for a reconnect, StateCold for a fresh start.
	State  State
	Source Source

	keepAlive bool
	once      sync.Once
}

// Reused reports whether the session reconnected to an existing browser.
func (s *Session) Reused() bool {
	return s.State == StateWarm
}

// Page returns the browser's active page.
func (s *Session) Page(ctx context.Context, opts engine.PageOptions) (engine.Page, error) {
	return s.Browser.Page(ctx, opts)
}

// Release detaches from reusable browsers, leaving them running for the
// next invocation, and closes the others.
func (s *Session) Release() error {
	var err error
	s.once.Do(func() {
		if s.keepAlive {
			err = s.Browser.Disconnect()
			return
		}
		err = s.Browser.Close()
	})
	return err
}
