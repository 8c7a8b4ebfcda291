package events

import (
	"sync"
	"sync/atomic"
)

// subscriberBuffer is how many payloads a slow subscriber may fall behind
// before payloads are dropped for it.
const subscriberBuffer = 64

// Hub fans events out to in-process subscribers, such as websocket
// clients. Publishing never blocks: a subscriber whose buffer is full
// misses the payload.
type Hub struct {
	mu      sync.RWMutex
	subs    map[uint64]chan []byte
	nextID  uint64
	closed  bool
	dropped atomic.Uint64
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]chan []byte)}
}

// Subscribe returns a channel of JSON payloads and a function that
// unsubscribes and closes the channel. On a closed hub the channel is
// already closed.
func (h *Hub) Subscribe() (<-chan []byte, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan []byte, subscriberBuffer)
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

// Subscribers returns the number of active subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many payloads were dropped for slow subscribers.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

// PublishAllocation implements Publisher.
func (h *Hub) PublishAllocation(event AllocationEvent) error {
	payload, err := FormatAllocationPayload(event)
	if err != nil {
		return err
	}
	h.broadcast(payload)
	return nil
}

// PublishPayment implements Publisher.
func (h *Hub) PublishPayment(event PaymentEvent) error {
	payload, err := FormatPaymentPayload(event)
	if err != nil {
		return err
	}
	h.broadcast(payload)
	return nil
}

func (h *Hub) broadcast(payload []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- payload:
		default:
			h.dropped.Add(1)
		}
	}
}

// Close closes every subscriber channel.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
	return nil
}
