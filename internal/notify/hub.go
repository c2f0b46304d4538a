package notify

import (
	"context"
	"sync"
)

const subscriberBuffer = 16

// Hub is an in-process Broker. Publish never blocks: a subscriber whose
// buffer is full misses the message.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[chan Message]struct{}
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[chan Message]struct{})}
}

func (h *Hub) Publish(_ context.Context, eventID string, msg Message) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.topics[Topic(eventID)] {
		select {
		case ch <- msg:
		default:
		}
	}
	return nil
}

func (h *Hub) Subscribe(ctx context.Context, eventID string) (<-chan Message, func(), error) {
	topic := Topic(eventID)
	ch := make(chan Message, subscriberBuffer)

	h.mu.Lock()
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[chan Message]struct{})
	}
	h.topics[topic][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	done := make(chan struct{})
	cancel := func() {
		once.Do(func() {
			close(done)
			h.mu.Lock()
			delete(h.topics[topic], ch)
			if len(h.topics[topic]) == 0 {
				delete(h.topics, topic)
			}
			h.mu.Unlock()
			close(ch)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return ch, cancel, nil
}
