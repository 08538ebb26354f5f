package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/entrhq/pw/pkg/config"
	"github.com/entrhq/pw/pkg/engine"
)

// Manager caches acquired sessions for the lifetime of one dispatcher, so a
// stream of requests on the same profile reuses one connection.
type Manager struct {
	broker *Broker

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager wraps a broker.
func NewManager(broker *Broker) *Manager {
	return &Manager{
		broker:   broker,
		sessions: make(map[string]*Session),
	}
}

// Broker returns the underlying broker.
func (m *Manager) Broker() *Broker {
	return m.broker
}

func sessionKey(req Request) string {
	return fmt.Sprintf("%s|%s|%v|%s", req.Profile, req.Browser, req.Headless, req.CDPEndpoint)
}

// Acquire returns the cached session for req or acquires a new one.
func (m *Manager) Acquire(ctx context.Context, req Request) (*Session, error) {
	key := sessionKey(req)

	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[key]; ok {
		return s, nil
	}

	s, err := m.broker.Acquire(ctx, req)
	if err != nil {
		return nil, err
	}
	m.sessions[key] = s
	return s, nil
}

// Page acquires a session for the runtime and returns its active page with
// the runtime's page options applied.
func (m *Manager) Page(ctx context.Context, rt config.EffectiveRuntime) (engine.Page, error) {
	var page engine.Page
	err := m.use(ctx, rt, func(s *Session) error {
		var err error
		page, err = s.Page(ctx, PageOptions(rt))
		return err
	})
	return page, err
}

// Browser acquires a session for the runtime and returns its browser. The
// active page is opened first so a dead connection is noticed here.
func (m *Manager) Browser(ctx context.Context, rt config.EffectiveRuntime) (engine.Browser, error) {
	var browser engine.Browser
	err := m.use(ctx, rt, func(s *Session) error {
		if _, err := s.Page(ctx, PageOptions(rt)); err != nil {
			return err
		}
		browser = s.Browser
		return nil
	})
	return browser, err
}

// PageOptions are the page settings the runtime asks for.
func PageOptions(rt config.EffectiveRuntime) engine.PageOptions {
	return engine.PageOptions{
		TimeoutMs:     rt.TimeoutMs,
		BlockPatterns: rt.BlockPatterns,
		AllowPatterns: rt.AllowPatterns,
		DownloadsDir:  rt.DownloadsDir,
	}
}

// use runs fn on the runtime's session. When fn fails on a cached session
// the session is dropped and fn retried once on a fresh one.
func (m *Manager) use(ctx context.Context, rt config.EffectiveRuntime, fn func(*Session) error) error {
	req := RequestFromRuntime(rt)

	m.mu.Lock()
	_, cached := m.sessions[sessionKey(req)]
	m.mu.Unlock()

	s, err := m.Acquire(ctx, req)
	if err != nil {
		return err
	}
	if err = fn(s); err == nil {
		return nil
	}

	// A dead cached session must not poison later requests
	m.forget(s)
	if !cached {
		return err
	}
	s, err = m.Acquire(ctx, req)
	if err != nil {
		return err
	}
	return fn(s)
}

// Status reports the profile's session state.
func (m *Manager) Status(ctx context.Context, profile string) (Classification, error) {
	return m.broker.Inspect(ctx, profile)
}

// Clear drops cached connections for profile and forgets its descriptor.
func (m *Manager) Clear(profile string) (bool, error) {
	m.releaseProfile(profile)
	return m.broker.Clear(profile)
}

// Stop drops cached connections for profile and stops its browser.
func (m *Manager) Stop(ctx context.Context, profile string) (bool, error) {
	m.releaseProfile(profile)
	return m.broker.Stop(ctx, profile)
}

// ReleaseAll releases every cached session.
func (m *Manager) ReleaseAll() error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.Release(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) forget(target *Session) {
	m.mu.Lock()
	for key, s := range m.sessions {
		if s == target {
			delete(m.sessions, key)
		}
	}
	m.mu.Unlock()
	_ = target.Release()
}

func (m *Manager) releaseProfile(profile string) {
	m.mu.Lock()
	var released []*Session
	for key, s := range m.sessions {
		if s.Profile == profile {
			released = append(released, s)
			delete(m.sessions, key)
		}
	}
	m.mu.Unlock()

	for _, s := range released {
		_ = s.Release()
	}
}
