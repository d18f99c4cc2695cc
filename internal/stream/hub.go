// Package stream fans received Spike packets out to live gRPC subscribers.
package stream

import (
	"sync"
	"sync/atomic"

	"github.com/banshee-data/spikestream/internal/events/spike"
)

// DefaultSubscriberBuffer is the per-subscriber queue length.
const DefaultSubscriberBuffer = 64

// Hub broadcasts packet bytes to subscribers. A subscriber whose queue is
// full misses the packet; publishers never block.
type Hub struct {
	buffer int

	mu     sync.RWMutex
	subs   map[uint64]chan []byte
	nextID uint64
	closed bool

	published atomic.Uint64
	dropped   atomic.Uint64
}

// HubStats are the counters of a Hub.
type HubStats struct {
	Published   uint64
	Dropped     uint64
	Subscribers int
}

// NewHub returns a hub with the given per-subscriber queue length.
func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &Hub{buffer: buffer, subs: make(map[uint64]chan []byte)}
}

// HandlePacket publishes p, so a Hub can be used as a listener handler.
func (h *Hub) HandlePacket(p *spike.Packet) {
	h.Publish(p.Bytes())
}

// Publish sends a copy of wire to every subscriber.
func (h *Hub) Publish(wire []byte) {
	msg := append([]byte(nil), wire...)

	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	h.published.Add(1)
	for _, ch := range h.subs {
		select {
		case ch <- msg:
		default:
			h.dropped.Add(1)
		}
	}
}

// Subscribe registers a subscriber. The returned channel is closed by
// cancel or by Close; subscribers must treat received slices as read-only.
func (h *Hub) Subscribe() (<-chan []byte, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan []byte, h.buffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if c, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(c)
			}
		})
	}
}

// Close ends every subscription. Later publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}

// Stats returns the hub counters.
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	n := len(h.subs)
	h.mu.RUnlock()
	return HubStats{
		Published:   h.published.Load(),
		Dropped:     h.dropped.Load(),
		Subscribers: n,
	}
}
