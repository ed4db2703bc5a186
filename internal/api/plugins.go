package api

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/mattjoyce/switchboard/internal/events"
	"github.com/mattjoyce/switchboard/internal/log"
	"github.com/mattjoyce/switchboard/internal/registry"
	"github.com/mattjoyce/switchboard/internal/transport"
)

// Registrar is the part of the broker that manages plugin membership.
type Registrar interface {
	Register(d registry.Descriptor, t transport.Transport) error
	Unregister(d registry.Descriptor)
	Plugins() []registry.Entry
	Resolve(origin string) (string, bool)
}

// AllowList stores per-plugin endpoint restrictions. *auth.Policy implements it.
type AllowList interface {
	SetRules(title string, patterns []string) error
	Rules(title string) []string
}

// Plugins attaches plugins to the broker, each with an Outbox that the
// plugin drains over GET /plugin/stream.
type Plugins struct {
	broker     Registrar
	allow      AllowList
	hub        *events.Hub
	outboxSize int
	logger     *slog.Logger

	mu       sync.Mutex
	outboxes map[string]*transport.Outbox
}

// NewPlugins creates a manager. allow and hub may be nil.
func NewPlugins(broker Registrar, allow AllowList, hub *events.Hub, outboxSize int) *Plugins {
	return &Plugins{
		broker:     broker,
		allow:      allow,
		hub:        hub,
		outboxSize: outboxSize,
		logger:     log.WithComponent("plugins"),
		outboxes:   make(map[string]*transport.Outbox),
	}
}

// Attach registers a plugin with a fresh outbox. Re-attaching a title
// closes its previous outbox; a plugin displaced by origin re-use is
// detached as well.
func (p *Plugins) Attach(title, url string, allow []string) (*transport.Outbox, error) {
	origin, err := registry.NormalizeOrigin(url)
	if err != nil {
		return nil, err
	}
	if p.allow != nil {
		if err := p.allow.SetRules(title, allow); err != nil {
			return nil, err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ob := transport.NewOutbox(origin, p.outboxSize)
	if err := p.broker.Register(registry.Descriptor{Title: title, URL: url}, ob); err != nil {
		ob.Close()
		return nil, fmt.Errorf("register %s: %w", title, err)
	}
	if prev, ok := p.outboxes[title]; ok {
		prev.Close()
	}
	p.outboxes[title] = ob
	p.reapLocked()

	p.publish(events.ActivityPluginRegistered, map[string]string{"title": title, "origin": origin})
	return ob, nil
}

// Detach unregisters a plugin and closes its outbox.
func (p *Plugins) Detach(title string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	known := false
	for _, e := range p.broker.Plugins() {
		if e.Title == title {
			known = true
			break
		}
	}
	if !known {
		return false
	}

	p.broker.Unregister(registry.Descriptor{Title: title})
	if ob, ok := p.outboxes[title]; ok {
		ob.Close()
		delete(p.outboxes, title)
	}
	if p.allow != nil {
		_ = p.allow.SetRules(title, nil)
	}
	p.publish(events.ActivityPluginUnregistered, map[string]string{"title": title})
	return true
}

// Outbox returns the outbox of the plugin bound to origin.
func (p *Plugins) Outbox(origin string) (*transport.Outbox, string, bool) {
	title, ok := p.broker.Resolve(origin)
	if !ok {
		return nil, "", false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	ob, ok := p.outboxes[title]
	return ob, title, ok
}

// Rules returns the allow list of title.
func (p *Plugins) Rules(title string) []string {
	if p.allow == nil {
		return nil
	}
	return p.allow.Rules(title)
}

// Streaming reports whether title has an attached outbox.
func (p *Plugins) Streaming(title string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.outboxes[title]
	return ok
}

// reapLocked closes outboxes of plugins the broker no longer knows.
func (p *Plugins) reapLocked() {
	live := make(map[string]bool)
	for _, e := range p.broker.Plugins() {
		live[e.Title] = true
	}
	for title, ob := range p.outboxes {
		if live[title] {
			continue
		}
		ob.Close()
		delete(p.outboxes, title)
		if p.allow != nil {
			_ = p.allow.SetRules(title, nil)
		}
		p.logger.Info("plugin outbox closed", "plugin", title)
		p.publish(events.ActivityPluginUnregistered, map[string]string{"title": title})
	}
}

func (p *Plugins) publish(activityType string, data any) {
	if p.hub != nil {
		p.hub.Publish(activityType, data)
	}
}
