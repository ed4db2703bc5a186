// Package endpoint holds the host capability table the broker dispatches into.
//
// An endpoint is addressed by a (key, type) pair. Each registration declares
// the argument arity it accepts and an access class, and is validated when it
// is added so lookups never fail on a malformed entry.
package endpoint

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/mattjoyce/switchboard/internal/protocol"
)

var (
	// ErrDuplicate is returned when a (key, type) pair is registered twice.
	ErrDuplicate = errors.New("endpoint already registered")
	// ErrInvalid is returned for malformed registrations.
	ErrInvalid = errors.New("invalid endpoint")
)

// Key is the composite address of an endpoint.
type Key struct {
	Key  string
	Type string
}

func (k Key) String() string { return k.Key + "/" + k.Type }

// ParseKey splits "key/type".
func ParseKey(s string) (Key, error) {
	key, typ, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok || key == "" || typ == "" || strings.Contains(typ, "/") {
		return Key{}, fmt.Errorf("%w: %q is not key/type", ErrInvalid, s)
	}
	return Key{Key: key, Type: typ}, nil
}

// Access is a coarse permission hint for an endpoint, used by authorizers
// that separate read-only capabilities from mutating ones.
type Access string

const (
	AccessRead  Access = "read"
	AccessWrite Access = "write"
)

// Call is one invocation of an endpoint on behalf of a plugin.
type Call struct {
	// Plugin is the resolved title of the requesting plugin.
	Plugin   string
	Endpoint Key
	Args     []protocol.Value
	Done     *Completion
}

// Arg returns the i-th argument, or null when absent.
func (c *Call) Arg(i int) protocol.Value {
	if i < 0 || i >= len(c.Args) {
		return protocol.Null()
	}
	return c.Args[i]
}

// Handler serves endpoint calls. It must complete call.Done exactly once,
// either before returning or later from any goroutine.
type Handler interface {
	Serve(ctx context.Context, call *Call)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, call *Call)

func (f HandlerFunc) Serve(ctx context.Context, call *Call) { f(ctx, call) }

// Arity bounds the number of request arguments. Max < 0 means unbounded;
// the zero value accepts no arguments.
type Arity struct {
	Min int
	Max int
}

// Exactly accepts n arguments.
func Exactly(n int) Arity { return Arity{Min: n, Max: n} }

// AtLeast accepts n or more arguments.
func AtLeast(n int) Arity { return Arity{Min: n, Max: -1} }

// Between accepts min..max arguments inclusive.
func Between(min, max int) Arity { return Arity{Min: min, Max: max} }

// AnyArity accepts any number of arguments.
var AnyArity = Arity{Min: 0, Max: -1}

func (a Arity) valid() bool {
	return a.Min >= 0 && (a.Max < 0 || a.Max >= a.Min)
}

// Check reports whether n arguments satisfy the arity.
func (a Arity) Check(n int) error {
	if n < a.Min || (a.Max >= 0 && n > a.Max) {
		return fmt.Errorf("expected %s arguments, got %d", a, n)
	}
	return nil
}

func (a Arity) String() string {
	switch {
	case a.Max < 0:
		return fmt.Sprintf("at least %d", a.Min)
	case a.Min == a.Max:
		return fmt.Sprintf("%d", a.Min)
	default:
		return fmt.Sprintf("%d to %d", a.Min, a.Max)
	}
}

// Spec is one registered endpoint.
type Spec struct {
	Key         Key
	Arity       Arity
	Access      Access
	Description string
	Handler     Handler
}

// Table maps (key, type) to handlers. It is written during host setup and
// read by the broker for every request.
type Table struct {
	mu      sync.RWMutex
	entries map[Key]Spec
}

// NewTable creates an empty endpoint table.
func NewTable() *Table {
	return &Table{entries: make(map[Key]Spec)}
}

// Register validates and adds an endpoint.
func (t *Table) Register(spec Spec) error {
	if spec.Key.Key == "" || spec.Key.Type == "" {
		return fmt.Errorf("%w: key and type are required", ErrInvalid)
	}
	if strings.Contains(spec.Key.Key, "/") || strings.Contains(spec.Key.Type, "/") {
		return fmt.Errorf("%w: %s must not contain '/' in key or type", ErrInvalid, spec.Key)
	}
	if spec.Handler == nil {
		return fmt.Errorf("%w: %s has no handler", ErrInvalid, spec.Key)
	}
	if !spec.Arity.valid() {
		return fmt.Errorf("%w: %s has arity %d..%d", ErrInvalid, spec.Key, spec.Arity.Min, spec.Arity.Max)
	}
	if spec.Access == "" {
		spec.Access = AccessWrite
	}
	if spec.Access != AccessRead && spec.Access != AccessWrite {
		return fmt.Errorf("%w: %s has access %q", ErrInvalid, spec.Key, spec.Access)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[spec.Key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicate, spec.Key)
	}
	t.entries[spec.Key] = spec
	return nil
}

// Handle registers a handler function with the given arity and access.
func (t *Table) Handle(key, typ string, arity Arity, access Access, fn HandlerFunc) error {
	return t.Register(Spec{Key: Key{Key: key, Type: typ}, Arity: arity, Access: access, Handler: fn})
}

// Lookup returns the endpoint registered at (key, type).
func (t *Table) Lookup(key, typ string) (Spec, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	spec, ok := t.entries[Key{Key: key, Type: typ}]
	return spec, ok
}

// Keys returns every registered address, sorted.
func (t *Table) Keys() []Key {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Key, 0, len(t.entries))
	for k := range t.entries {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key != out[j].Key {
			return out[i].Key < out[j].Key
		}
		return out[i].Type < out[j].Type
	})
	return out
}

// Len returns the number of endpoints.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
