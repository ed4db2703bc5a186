package endpoint

import (
	"errors"
	"sync"

	"github.com/mattjoyce/switchboard/internal/protocol"
)

// ErrAlreadyCompleted is returned by a Completion that was already fulfilled.
var ErrAlreadyCompleted = errors.New("request already completed")

// Result is the outcome delivered through a Completion.
type Result struct {
	Value protocol.Value
	Err   *protocol.Error
}

// Completion is a one-shot handle through which a handler answers a call.
// Only the first Resolve or Reject takes effect.
type Completion struct {
	mu   sync.Mutex
	done bool
	fn   func(Result)
}

// NewCompletion returns a handle that passes its single result to fn.
func NewCompletion(fn func(Result)) *Completion {
	return &Completion{fn: fn}
}

// NewFuture returns a handle and a channel that receives its result once.
func NewFuture() (*Completion, <-chan Result) {
	ch := make(chan Result, 1)
	return NewCompletion(func(r Result) { ch <- r }), ch
}

// Resolve completes successfully with result, converted to a protocol value.
// A result that cannot be represented completes with an internal error instead.
func (c *Completion) Resolve(result any) error {
	v, err := protocol.ValueOf(result)
	if err != nil {
		return c.complete(Result{Err: protocol.Errorf(protocol.CodeInternal, "%v", err)})
	}
	return c.complete(Result{Value: v})
}

// Reject completes with an error. A *protocol.Error is passed through
// verbatim; any other error becomes an internal error carrying its message.
func (c *Completion) Reject(err error) error {
	if err == nil {
		return c.Resolve(nil)
	}
	var perr *protocol.Error
	if !errors.As(err, &perr) {
		perr = &protocol.Error{Code: protocol.CodeInternal, Msg: err.Error()}
	}
	return c.complete(Result{Err: perr})
}

// Done reports whether the handle was already fulfilled.
func (c *Completion) Done() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.done
}

func (c *Completion) complete(r Result) error {
	c.mu.Lock()
	if c.done {
		c.mu.Unlock()
		return ErrAlreadyCompleted
	}
	c.done = true
	c.mu.Unlock()

	if c.fn != nil {
		c.fn(r)
	}
	return nil
}
