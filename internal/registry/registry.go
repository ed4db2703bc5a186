// Package registry tracks the plugins the broker can talk to.
//
// It keeps two mappings, title to plugin and origin to title, and updates
// them together under one lock so that origins[o] == t exactly when the
// plugin registered as t is bound to origin o.
package registry

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mattjoyce/switchboard/internal/transport"
)

var (
	ErrEmptyTitle   = errors.New("plugin title is empty")
	ErrInvalidURL   = errors.New("plugin url is not a valid origin")
	ErrNilTransport = errors.New("plugin transport is nil")
)

// Descriptor identifies a plugin by title and the URL it is served from.
type Descriptor struct {
	Title string `yaml:"title" json:"title"`
	URL   string `yaml:"url" json:"url"`
}

// Entry is a registered plugin.
type Entry struct {
	Title        string
	Origin       string
	Transport    transport.Transport
	RegisteredAt time.Time
}

// Registry holds registered plugins indexed by title and by origin.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Entry
	origins map[string]string
	now     func() time.Time
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		plugins: make(map[string]Entry),
		origins: make(map[string]string),
		now:     time.Now,
	}
}

// NormalizeOrigin reduces a URL to scheme://host[:port], lower-cased.
func NormalizeOrigin(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), nil
}

// Register inserts or replaces the plugin under d.Title and binds its origin.
//
// Re-registering a title drops its previous origin binding. When another
// title already holds the origin, that title is displaced: the last
// registration wins and the displaced title is returned.
func (r *Registry) Register(d Descriptor, t transport.Transport) (displaced string, err error) {
	title := strings.TrimSpace(d.Title)
	if title == "" {
		return "", ErrEmptyTitle
	}
	if t == nil {
		return "", ErrNilTransport
	}
	origin, err := NormalizeOrigin(d.URL)
	if err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.plugins[title]; ok && r.origins[prev.Origin] == title {
		delete(r.origins, prev.Origin)
	}
	if other, ok := r.origins[origin]; ok && other != title {
		delete(r.plugins, other)
		displaced = other
	}

	r.plugins[title] = Entry{
		Title:        title,
		Origin:       origin,
		Transport:    t,
		RegisteredAt: r.now(),
	}
	r.origins[origin] = title
	return displaced, nil
}

// Unregister removes the plugin and its origin binding. Absent plugins are ignored.
func (r *Registry) Unregister(d Descriptor) bool {
	title := strings.TrimSpace(d.Title)

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.plugins[title]
	if !ok {
		return false
	}
	delete(r.plugins, title)
	if r.origins[entry.Origin] == title {
		delete(r.origins, entry.Origin)
	}
	return true
}

// Resolve authenticates an inbound origin, returning the bound title.
func (r *Registry) Resolve(origin string) (string, bool) {
	norm, err := NormalizeOrigin(origin)
	if err != nil {
		return "", false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	title, ok := r.origins[norm]
	return title, ok
}

// Lookup returns the registered plugin with the given title.
func (r *Registry) Lookup(title string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.plugins[title]
	return e, ok
}

// Has reports whether title is registered.
func (r *Registry) Has(title string) bool {
	_, ok := r.Lookup(title)
	return ok
}

// Snapshot returns all registered plugins sorted by title.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	out := make([]Entry, 0, len(r.plugins))
	for _, e := range r.plugins {
		out = append(out, e)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out
}

// Len returns the number of registered plugins.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}
