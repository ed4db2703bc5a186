package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mattjoyce/switchboard/internal/broker"
	"github.com/mattjoyce/switchboard/internal/focus"
	"github.com/mattjoyce/switchboard/internal/log"
	"github.com/mattjoyce/switchboard/internal/protocol"
)

// Execution backends. Transactions are only forwarded on BackendVM.
const (
	BackendVM       = "vm"
	BackendInjected = "injected"
	BackendWeb3     = "web3"
)

// ValidBackend reports whether name is a known execution backend.
func ValidBackend(name string) bool {
	switch name {
	case BackendVM, BackendInjected, BackendWeb3:
		return true
	}
	return false
}

// Host event kinds.
const (
	KindFileChanged         = "fileChanged"
	KindCompilationFinished = "compilationFinished"
	KindNewTransaction      = "newTransaction"
	KindTabChanged          = "tabChanged"
	KindBackendChanged      = "backendChanged"
)

var (
	ErrUnknownKind  = errors.New("unknown host event kind")
	ErrInvalidEvent = errors.New("invalid host event")
)

// HostEvent is the wire form of a host application event.
type HostEvent struct {
	Kind            string          `json:"kind"`
	Path            string          `json:"path,omitempty"`
	File            string          `json:"file,omitempty"`
	Source          json.RawMessage `json:"source,omitempty"`
	LanguageVersion string          `json:"languageVersion,omitempty"`
	Data            json.RawMessage `json:"data,omitempty"`
	Tx              json.RawMessage `json:"tx,omitempty"`
	Title           string          `json:"title,omitempty"`
	Backend         string          `json:"backend,omitempty"`
}

// Compilation is the result of one finished compile.
type Compilation struct {
	File            string
	Source          protocol.Value
	LanguageVersion string
	Data            protocol.Value
}

// Router is the part of the broker the bus drives.
type Router interface {
	Broadcast(ctx context.Context, env *protocol.Envelope) int
	SetFocus(ctx context.Context, title string) focus.Transition
}

// Bus maps host events to broker calls.
type Bus struct {
	router  Router
	hub     *Hub
	logger  *slog.Logger
	backend atomic.Value

	mu        sync.Mutex
	observers []func(context.Context, Compilation)
}

// NewBus creates a bus driving router. hub may be nil.
func NewBus(router Router, hub *Hub, backend string) *Bus {
	b := &Bus{
		router: router,
		hub:    hub,
		logger: log.WithComponent("events"),
	}
	if backend == "" {
		backend = BackendVM
	}
	b.backend.Store(backend)
	return b
}

// OnCompilation registers fn to observe every finished compilation before
// it is broadcast.
func (b *Bus) OnCompilation(fn func(context.Context, Compilation)) {
	b.mu.Lock()
	b.observers = append(b.observers, fn)
	b.mu.Unlock()
}

// Backend returns the active execution backend.
func (b *Bus) Backend() string {
	return b.backend.Load().(string)
}

// SetBackend switches the active execution backend.
func (b *Bus) SetBackend(name string) error {
	if !ValidBackend(name) {
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidEvent, name)
	}
	if prev := b.backend.Swap(name).(string); prev != name {
		b.logger.Info("execution backend changed", "from", prev, "to", name)
		b.publish(ActivityBackendChanged, map[string]string{"from": prev, "to": name})
	}
	return nil
}

// FileChanged broadcasts the editor's new current file.
func (b *Bus) FileChanged(ctx context.Context, path string) int {
	n := b.router.Broadcast(ctx, broker.FileChangedNotification(path))
	b.publishBroadcast(broker.KeyEditor, broker.TypeCurrentFileChanged, n)
	return n
}

// CompilationFinished notifies observers, then broadcasts the result.
func (b *Bus) CompilationFinished(ctx context.Context, c Compilation) int {
	b.mu.Lock()
	observers := append(([]func(context.Context, Compilation))(nil), b.observers...)
	b.mu.Unlock()
	for _, fn := range observers {
		fn(ctx, c)
	}

	env := broker.CompilationFinishedNotification(
		protocol.String(c.File),
		c.Source,
		protocol.String(c.LanguageVersion),
		c.Data,
	)
	n := b.router.Broadcast(ctx, env)
	b.publishBroadcast(broker.KeyCompiler, broker.TypeCompilationFinished, n)
	return n
}

// NewTransaction broadcasts tx when the simulated backend is active.
// It returns the number of deliveries, 0 when filtered.
func (b *Bus) NewTransaction(ctx context.Context, tx protocol.Value) int {
	if backend := b.Backend(); backend != BackendVM {
		b.logger.Debug("transaction not forwarded", "backend", backend)
		return 0
	}
	n := b.router.Broadcast(ctx, broker.NewTransactionNotification(tx))
	b.publishBroadcast(broker.KeyTxListener, broker.TypeNewTransaction, n)
	return n
}

// TabChanged moves focus to the plugin shown in the new tab.
func (b *Bus) TabChanged(ctx context.Context, title string) focus.Transition {
	tr := b.router.SetFocus(ctx, title)
	if tr.Changed() {
		b.publish(ActivityFocusChanged, map[string]string{"from": tr.Unfocus, "to": tr.Focus})
	}
	return tr
}

// Dispatch validates a host event and routes it.
func (b *Bus) Dispatch(ctx context.Context, ev HostEvent) error {
	switch ev.Kind {
	case KindFileChanged:
		if ev.Path == "" {
			return fmt.Errorf("%w: %s requires path", ErrInvalidEvent, ev.Kind)
		}
		b.FileChanged(ctx, ev.Path)

	case KindCompilationFinished:
		if ev.File == "" {
			return fmt.Errorf("%w: %s requires file", ErrInvalidEvent, ev.Kind)
		}
		source, err := rawValue(ev.Source)
		if err != nil {
			return fmt.Errorf("%w: source: %v", ErrInvalidEvent, err)
		}
		data, err := rawValue(ev.Data)
		if err != nil {
			return fmt.Errorf("%w: data: %v", ErrInvalidEvent, err)
		}
		b.CompilationFinished(ctx, Compilation{
			File:            ev.File,
			Source:          source,
			LanguageVersion: ev.LanguageVersion,
			Data:            data,
		})

	case KindNewTransaction:
		tx, err := rawValue(ev.Tx)
		if err != nil {
			return fmt.Errorf("%w: tx: %v", ErrInvalidEvent, err)
		}
		b.NewTransaction(ctx, tx)

	case KindTabChanged:
		if ev.Title == "" {
			return fmt.Errorf("%w: %s requires title", ErrInvalidEvent, ev.Kind)
		}
		b.TabChanged(ctx, ev.Title)

	case KindBackendChanged:
		return b.SetBackend(ev.Backend)

	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, ev.Kind)
	}
	return nil
}

func rawValue(raw json.RawMessage) (protocol.Value, error) {
	if len(raw) == 0 {
		return protocol.Null(), nil
	}
	var v protocol.Value
	if err := json.Unmarshal(raw, &v); err != nil {
		return protocol.Value{}, err
	}
	return v, nil
}

func (b *Bus) publishBroadcast(key, typ string, delivered int) {
	b.publish(ActivityBroadcast, map[string]any{"key": key, "type": typ, "delivered": delivered})
}

func (b *Bus) publish(activityType string, data any) {
	if b.hub != nil {
		b.hub.Publish(activityType, data)
	}
}
