package engine

import (
	"fmt"

	"github.com/gobwas/glob"
)

// URLPolicy decides which request URLs a page may load.
// Block patterns take precedence; when allow patterns are present a URL
// must also match one of them.
type URLPolicy struct {
	allowed []glob.Glob
	blocked []glob.Glob
}

// NewURLPolicy compiles block and allow glob patterns.
func NewURLPolicy(block, allow []string) (*URLPolicy, error) {
	p := &URLPolicy{}

	for _, pattern := range allow {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid allow pattern '%s': %w", pattern, err)
		}
		p.allowed = append(p.allowed, g)
	}

	for _, pattern := range block {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid block pattern '%s': %w", pattern, err)
		}
		p.blocked = append(p.blocked, g)
	}

	return p, nil
}

// Active reports whether the policy restricts anything.
func (p *URLPolicy) Active() bool {
	return len(p.allowed) > 0 || len(p.blocked) > 0
}

// Allows reports whether url may be loaded.
func (p *URLPolicy) Allows(url string) bool {
	for _, pattern := range p.blocked {
		if pattern.Match(url) {
			return false
		}
	}

	if len(p.allowed) == 0 {
		return true
	}

	for _, pattern := range p.allowed {
		if pattern.Match(url) {
			return true
		}
	}
	return false
}

// MatchAny reports whether url matches any of patterns. Invalid patterns
// never match.
func MatchAny(patterns []string, url string) bool {
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			continue
		}
		if g.Match(url) {
			return true
		}
	}
	return false
}
