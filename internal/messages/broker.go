package messages

import (
	"log/slog"
	"sync"

	"github.com/ashita-ai/agentrelay/internal/model"
)

// Event types published by the store.
const (
	EventSent          = "message.sent"
	EventStatusChanged = "message.status"
	EventDeleted       = "message.deleted"
)

// Event describes one committed change to the message store.
type Event struct {
	Type    string        `json:"type"`
	Message model.Message `json:"message"`
}

// Broker fans out store events to live subscribers (the SSE stream). Events
// are published only after the change is committed.
type Broker struct {
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
}

// NewBroker creates an empty broker.
func NewBroker(logger *slog.Logger) *Broker {
	return &Broker{
		logger:      logger,
		subscribers: make(map[chan Event]struct{}),
	}
}

// Subscribe returns a channel that receives events.
// The caller must call Unsubscribe when done.
func (b *Broker) Subscribe() chan Event {
	ch := make(chan Event, 64) // Buffer to avoid blocking publishers.
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (b *Broker) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	delete(b.subscribers, ch)
	b.mu.Unlock()
	close(ch)
}

// Publish sends an event to all subscribers. Slow subscribers that have a
// full buffer are skipped (their event is dropped) to prevent one slow
// client from blocking a write path.
func (b *Broker) Publish(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			b.logger.Debug("broker: subscriber buffer full, dropping event", "type", ev.Type, "message_id", ev.Message.ID)
		}
	}
}

// Len returns the number of live subscribers.
func (b *Broker) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
