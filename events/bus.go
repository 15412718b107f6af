// Package events is a small in-process publish/subscribe bus used to broadcast
// lifecycle signals (such as token expiry) between storefront components.
package events

import (
	"sync"
	"time"
)

// Topic names a class of events.
type Topic string

const (
	// TopicTokenExpired is published when the stored auth token expires, either
	// by its timer or on a read after the deadline.
	TopicTokenExpired Topic = "token.expired"

	// TopicSessionCleared is published after a logout has cleared all state.
	TopicSessionCleared Topic = "session.cleared"

	// TopicCurrencyChanged is published when the selected currency changes.
	TopicCurrencyChanged Topic = "currency.changed"
)

// Event is a single published occurrence of a topic.
type Event struct {
	Topic     Topic                  `json:"topic"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// NewEvent creates an event stamped with the current time.
func NewEvent(topic Topic, data map[string]interface{}) Event {
	return Event{Topic: topic, Timestamp: time.Now(), Data: data}
}

// GetString gets a string value from event data.
func (e Event) GetString(key string) string {
	if val, ok := e.Data[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// Handler receives events for a topic.
type Handler func(Event)

// Bus delivers events synchronously, in subscription order, on the
// publisher's goroutine. Handlers run without any bus lock held, so they may
// subscribe, unsubscribe or publish themselves.
type Bus struct {
	mu       sync.RWMutex
	next     uint64
	handlers map[Topic]map[uint64]Handler
	order    map[Topic][]uint64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[Topic]map[uint64]Handler),
		order:    make(map[Topic][]uint64),
	}
}

// Subscribe registers fn for topic and returns a function that removes it.
func (b *Bus) Subscribe(topic Topic, fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	if b.handlers[topic] == nil {
		b.handlers[topic] = make(map[uint64]Handler)
	}
	b.handlers[topic][id] = fn
	b.order[topic] = append(b.order[topic], id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()

			delete(b.handlers[topic], id)
			ids := b.order[topic]
			for i, v := range ids {
				if v == id {
					b.order[topic] = append(ids[:i:i], ids[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish delivers e to every handler subscribed to e.Topic.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.RLock()
	ids := b.order[e.Topic]
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		if h, ok := b.handlers[e.Topic][id]; ok {
			handlers = append(handlers, h)
		}
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}

// Subscribers returns the number of handlers registered for topic.
func (b *Bus) Subscribers(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[topic])
}
