package transport

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Frame is one envelope queued for a plugin.
type Frame struct {
	ID      int64
	At      time.Time
	Payload []byte
}

// Outbox is a transport that buffers frames for a plugin reading over a
// long-lived stream. A small ring buffer lets a reconnecting reader resume
// after the last frame it saw. Slow subscribers never block Send.
type Outbox struct {
	origin string
	nextID atomic.Int64

	mu     sync.Mutex
	closed bool
	ring   []Frame
	start  int
	size   int

	subs      map[int]chan Frame
	nextSubID int
}

// NewOutbox creates an outbox bound to origin, retaining capacity frames.
func NewOutbox(origin string, capacity int) *Outbox {
	if capacity <= 0 {
		capacity = 100
	}
	return &Outbox{
		origin: origin,
		ring:   make([]Frame, capacity),
		subs:   make(map[int]chan Frame),
	}
}

// Origin returns the origin this outbox delivers to.
func (o *Outbox) Origin() string { return o.origin }

func (o *Outbox) Send(_ context.Context, targetOrigin string, payload []byte) error {
	if !SameOrigin(o.origin, targetOrigin) {
		return ErrOriginMismatch
	}

	fr := Frame{
		ID:      o.nextID.Add(1),
		At:      time.Now().UTC(),
		Payload: append([]byte(nil), payload...),
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	o.pushLocked(fr)
	for _, ch := range o.subs {
		select {
		case ch <- fr:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel of new frames and a cancel func.
func (o *Outbox) Subscribe() (<-chan Frame, func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	ch := make(chan Frame, 128)
	if o.closed {
		close(ch)
		return ch, func() {}
	}

	id := o.nextSubID
	o.nextSubID++
	o.subs[id] = ch

	cancel := func() {
		o.mu.Lock()
		if c, ok := o.subs[id]; ok {
			delete(o.subs, id)
			close(c)
		}
		o.mu.Unlock()
	}
	return ch, cancel
}

// LastID returns the id of the newest frame sent, or 0 if none.
func (o *Outbox) LastID() int64 { return o.nextID.Load() }

// Since returns buffered frames with ID > lastID, oldest first.
// A lastID of 0 returns the whole buffer.
func (o *Outbox) Since(lastID int64) []Frame {
	o.mu.Lock()
	defer o.mu.Unlock()

	out := make([]Frame, 0, o.size)
	for i := 0; i < o.size; i++ {
		fr := o.ring[(o.start+i)%len(o.ring)]
		if lastID == 0 || fr.ID > lastID {
			out = append(out, fr)
		}
	}
	return out
}

// Close rejects further sends and ends every subscription.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	for id, ch := range o.subs {
		delete(o.subs, id)
		close(ch)
	}
}

func (o *Outbox) pushLocked(fr Frame) {
	capacity := len(o.ring)
	if o.size < capacity {
		o.ring[(o.start+o.size)%capacity] = fr
		o.size++
		return
	}
	// Overwrite oldest.
	o.ring[o.start] = fr
	o.start = (o.start + 1) % capacity
}

// SameOrigin compares two origins ignoring case and a trailing slash.
func SameOrigin(a, b string) bool {
	return strings.EqualFold(strings.TrimSuffix(a, "/"), strings.TrimSuffix(b, "/"))
}
