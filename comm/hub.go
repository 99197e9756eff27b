package comm

import (
	"sync"

	"go.uber.org/zap"
)

const hubBuffer = 64

// Hub fans Client events out to any number of subscribers. It is a Sink,
// so it can be handed straight to NewClient.
//
// Notify never blocks: it runs under the Client lock, so a subscriber whose
// buffer is full misses the event.
type Hub struct {
	log  *zap.Logger
	mu   sync.RWMutex
	subs map[uint64]chan Event
	next uint64
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{log: log, subs: make(map[uint64]chan Event)}
}

// Subscribe registers a new subscriber. The returned func unsubscribes and
// closes the channel; it may be called more than once.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, hubBuffer)
	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *Hub) Notify(e Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, ch := range h.subs {
		select {
		case ch <- e:
		default:
			h.log.Warn("comm: subscriber too slow, event dropped",
				zap.Uint64("subscriber", id), zap.Stringer("kind", e.Kind))
		}
	}
}

// Len returns the number of subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
