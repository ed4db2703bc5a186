package events

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Activity types published on the hub.
const (
	ActivityPluginRegistered   = "plugin.registered"
	ActivityPluginUnregistered = "plugin.unregistered"
	ActivityFocusChanged       = "focus.changed"
	ActivityBroadcast          = "notification.broadcast"
	ActivityBackendChanged     = "backend.changed"
)

// Activity is one entry in the host activity feed.
type Activity struct {
	ID   int64           `json:"id"`
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data json.RawMessage `json:"data"`
}

// Hub is an in-memory pub/sub with a small ring buffer for late clients.
type Hub struct {
	nextID atomic.Int64

	mu    sync.Mutex
	ring  []Activity
	start int
	size  int

	subs      map[int]chan Activity
	nextSubID int
}

func NewHub(capacity int) *Hub {
	if capacity <= 0 {
		capacity = 100
	}
	return &Hub{
		ring: make([]Activity, capacity),
		subs: make(map[int]chan Activity),
	}
}

// Publish records an activity. data is JSON-encoded; encoding failures
// publish an empty object.
func (h *Hub) Publish(activityType string, data any) {
	payload := json.RawMessage("{}")
	if data != nil {
		if b, err := json.Marshal(data); err == nil {
			payload = b
		}
	}

	a := Activity{
		ID:   h.nextID.Add(1),
		Type: activityType,
		At:   time.Now().UTC(),
		Data: payload,
	}

	h.mu.Lock()
	h.pushLocked(a)
	for _, ch := range h.subs {
		// Don't let slow clients block producers.
		select {
		case ch <- a:
		default:
		}
	}
	h.mu.Unlock()
}

func (h *Hub) Subscribe() (<-chan Activity, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextSubID
	h.nextSubID++
	ch := make(chan Activity, 128)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		if c, ok := h.subs[id]; ok {
			delete(h.subs, id)
			close(c)
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// SnapshotSince returns buffered activity with ID > lastID, oldest first.
// If lastID is 0, the full ring buffer is returned.
func (h *Hub) SnapshotSince(lastID int64) []Activity {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Activity, 0, h.size)
	for i := 0; i < h.size; i++ {
		a := h.ring[(h.start+i)%len(h.ring)]
		if lastID == 0 || a.ID > lastID {
			out = append(out, a)
		}
	}
	return out
}

func (h *Hub) pushLocked(a Activity) {
	capacity := len(h.ring)
	if h.size < capacity {
		h.ring[(h.start+h.size)%capacity] = a
		h.size++
		return
	}
	// Overwrite oldest.
	h.ring[h.start] = a
	h.start = (h.start + 1) % capacity
}
