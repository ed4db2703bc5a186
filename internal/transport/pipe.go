package transport

import (
	"context"
	"sync"
)

// Pipe is an in-process transport backed by a buffered channel. Hosts use
// it for plugins running in the same process.
type Pipe struct {
	origin string
	ch     chan []byte

	mu     sync.RWMutex
	closed bool
}

// NewPipe creates a pipe bound to origin with the given buffer size.
func NewPipe(origin string, buffer int) *Pipe {
	if buffer < 0 {
		buffer = 0
	}
	return &Pipe{origin: origin, ch: make(chan []byte, buffer)}
}

// Send blocks until the payload is buffered or ctx is done.
func (p *Pipe) Send(ctx context.Context, targetOrigin string, payload []byte) error {
	if !SameOrigin(p.origin, targetOrigin) {
		return ErrOriginMismatch
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrClosed
	}

	select {
	case p.ch <- append([]byte(nil), payload...):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Messages returns the receive side of the pipe. It is closed by Close.
func (p *Pipe) Messages() <-chan []byte { return p.ch }

// Close stops the pipe. Pending messages remain readable.
func (p *Pipe) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.ch)
}
