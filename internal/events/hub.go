package events

import (
	"context"
	"sync"

	"feedline.org/internal/feed"
	"feedline.org/internal/obs"
)

const bufferSize = 16

// Hub fan-outs committed post changes to all active subscribers (SSE clients).
type Hub struct {
	mu   sync.RWMutex
	subs map[int]chan feed.Event
	next int
}

var _ feed.Publisher = (*Hub)(nil)

// New initialises an empty hub.
func New() *Hub {
	return &Hub{subs: make(map[int]chan feed.Event)}
}

// Subscribe registers a subscriber and returns a channel which will receive events.
// The channel is closed when the provided context ends.
func (h *Hub) Subscribe(ctx context.Context) <-chan feed.Event {
	ch := make(chan feed.Event, bufferSize)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// Publish never blocks: a subscriber whose buffer is full misses the event.
func (h *Hub) Publish(evt feed.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- evt:
		default:
			obs.EventDropped()
		}
	}
}

// Subscribers returns the number of active subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
