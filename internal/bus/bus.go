// Package bus fans channel events out to in-process subscribers and
// adapts host capabilities to the sink interface the channels consume.
package bus

import (
	"sync"

	"github.com/nextlevelbuilder/waclaw/internal/channels"
)

// EventHandler receives one broadcast event. Handlers must not block.
type EventHandler func(event channels.ChannelEvent)

// EventBus broadcasts channel events (pairing progress, OTP challenges,
// inbound notifications) to registered subscribers.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string]EventHandler
}

func New() *EventBus {
	return &EventBus{subscribers: make(map[string]EventHandler)}
}

// Subscribe registers a subscriber under id, replacing any previous
// registration with the same id.
func (b *EventBus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[id] = handler
}

// Unsubscribe removes a subscriber.
func (b *EventBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, id)
}

// Broadcast delivers event to every subscriber.
func (b *EventBus) Broadcast(event channels.ChannelEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, handler := range b.subscribers {
		handler(event)
	}
}
