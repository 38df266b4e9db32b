package sink

import (
	crand "crypto/rand"
	"encoding/hex"
	"sync"
	"sync/atomic"

	"github.com/kerbside-data/passage.report/internal/fusion"
)

// DefaultHubBuffer is each subscriber's channel depth.
const DefaultHubBuffer = 16

// Hub fans consolidated events out to in-process subscribers, primarily the
// API's event stream. Each subscriber gets a buffered channel; one that
// falls behind misses events instead of slowing emission down.
type Hub struct {
	buffer int

	mu          sync.RWMutex
	subscribers map[string]chan fusion.ConsolidatedEvent

	skipped atomic.Uint64
}

// NewHub returns a hub whose subscriber channels hold buffer events each.
// buffer <= 0 uses DefaultHubBuffer.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultHubBuffer
	}
	return &Hub{
		buffer:      buffer,
		subscribers: make(map[string]chan fusion.ConsolidatedEvent),
	}
}

func subscriberID() string {
	b := make([]byte, 8)
	crand.Read(b)
	return hex.EncodeToString(b)
}

// Subscribe registers a new subscriber and returns its ID and channel. The
// channel closes on Unsubscribe.
func (h *Hub) Subscribe() (string, chan fusion.ConsolidatedEvent) {
	id := subscriberID()
	ch := make(chan fusion.ConsolidatedEvent, h.buffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subscribers[id] = ch
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if ch, ok := h.subscribers[id]; ok {
		close(ch)
		delete(h.subscribers, id)
	}
}

// Publish offers the event to every subscriber without waiting. Publish
// holds the read lock while sending and Unsubscribe closes under the write
// lock, so a send can never race a close.
func (h *Hub) Publish(event fusion.ConsolidatedEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subscribers {
		select {
		case ch <- event:
		default:
			h.skipped.Add(1)
		}
	}
}

// Subscribers reports how many subscribers are registered.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Skipped reports how many per-subscriber deliveries were dropped on a full
// channel.
func (h *Hub) Skipped() uint64 { return h.skipped.Load() }
