package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/mattjoyce/switchboard/internal/endpoint"
	"github.com/mattjoyce/switchboard/internal/protocol"
)

// Policy restricts which endpoints a plugin may call. Patterns are
// "key/type", "key/*" or "*". A plugin without rules may call anything.
type Policy struct {
	mu    sync.RWMutex
	rules map[string][]endpoint.Key
}

// NewPolicy builds a policy from per-plugin allow lists.
func NewPolicy(allow map[string][]string) (*Policy, error) {
	p := &Policy{rules: make(map[string][]endpoint.Key, len(allow))}
	for title, patterns := range allow {
		if err := p.SetRules(title, patterns); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// ValidatePattern checks one allow-list entry.
func ValidatePattern(pattern string) error {
	if pattern == "*" {
		return nil
	}
	k, err := endpoint.ParseKey(pattern)
	if err != nil {
		return fmt.Errorf("invalid allow pattern %q: %w", pattern, err)
	}
	if k.Key == "*" {
		return fmt.Errorf("invalid allow pattern %q: key must not be a wildcard", pattern)
	}
	return nil
}

// SetRules replaces the allow list of one plugin. An empty list removes
// the restriction.
func (p *Policy) SetRules(title string, patterns []string) error {
	keys := make([]endpoint.Key, 0, len(patterns))
	for _, pat := range patterns {
		pat = strings.TrimSpace(pat)
		if err := ValidatePattern(pat); err != nil {
			return fmt.Errorf("plugin %q: %w", title, err)
		}
		if pat == "*" {
			keys = append(keys, endpoint.Key{Key: "*", Type: "*"})
			continue
		}
		k, _ := endpoint.ParseKey(pat)
		keys = append(keys, k)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(keys) == 0 {
		delete(p.rules, title)
		return nil
	}
	p.rules[title] = keys
	return nil
}

// Rules returns the allow list of one plugin as patterns.
func (p *Policy) Rules(title string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	keys := p.rules[title]
	if len(keys) == 0 {
		return nil
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k.Key == "*" {
			out = append(out, "*")
			continue
		}
		out = append(out, k.String())
	}
	return out
}

// Allowed reports whether title may call the endpoint at key.
func (p *Policy) Allowed(title string, key endpoint.Key) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	rules, ok := p.rules[title]
	if !ok {
		return true
	}
	for _, r := range rules {
		if r.Key == "*" {
			return true
		}
		if r.Key == key.Key && (r.Type == "*" || r.Type == key.Type) {
			return true
		}
	}
	return false
}

// Authorize satisfies the broker's authorization hook.
func (p *Policy) Authorize(_ context.Context, plugin string, spec endpoint.Spec) error {
	if p.Allowed(plugin, spec.Key) {
		return nil
	}
	return protocol.Errorf(protocol.CodeForbidden, "plugin %s is not allowed to call %s", plugin, spec.Key)
}
