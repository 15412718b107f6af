// Package storage provides the persistent key/value medium shared by the token,
// session and currency components, together with a change feed that lets other
// instances observe writes.
package storage

import (
	"context"
	"io"
	"sync"
	"time"
)

// Change describes a mutation of a single key.
type Change struct {
	Key     string    `json:"key"`
	Value   string    `json:"value,omitempty"`
	Deleted bool      `json:"deleted,omitempty"`
	At      time.Time `json:"at"`
}

// Store is a string key/value store with optional per-key TTL and a change feed.
//
// Implementations must be safe for concurrent use. Subscribers are called from a
// dedicated goroutine per subscription, in the order the changes were published.
// A subscriber may write to the store it is subscribed to.
type Store interface {
	io.Closer

	// Get returns the value of key. found is false when the key is absent or expired.
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// Set stores value under key. A ttl <= 0 means the key never expires.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Subscribe registers fn for every change and returns a function that removes it.
	Subscribe(fn func(Change)) (unsubscribe func())
}

// subscriber queues changes without bound so publish never blocks, even when
// called from inside a subscriber callback.
type subscriber struct {
	mu    sync.Mutex
	queue []Change
	wake  chan struct{}
	done  chan struct{}
	once  sync.Once
}

func (s *subscriber) push(c Change) {
	s.mu.Lock()
	s.queue = append(s.queue, c)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) drain() []Change {
	s.mu.Lock()
	defer s.mu.Unlock()

	q := s.queue
	s.queue = nil
	return q
}

// notifier fans changes out to subscribers, preserving order per subscriber.
type notifier struct {
	mu   sync.Mutex
	next uint64
	subs map[uint64]*subscriber
}

func (n *notifier) subscribe(fn func(Change)) func() {
	s := &subscriber{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}

	n.mu.Lock()
	if n.subs == nil {
		n.subs = make(map[uint64]*subscriber)
	}
	id := n.next
	n.next++
	n.subs[id] = s
	n.mu.Unlock()

	go func() {
		for {
			select {
			case <-s.wake:
				for _, c := range s.drain() {
					select {
					case <-s.done:
						return
					default:
					}
					fn(c)
				}
			case <-s.done:
				return
			}
		}
	}()

	return func() {
		n.mu.Lock()
		delete(n.subs, id)
		n.mu.Unlock()
		s.once.Do(func() { close(s.done) })
	}
}

func (n *notifier) publish(c Change) {
	if c.At.IsZero() {
		c.At = time.Now()
	}

	n.mu.Lock()
	subs := make([]*subscriber, 0, len(n.subs))
	for _, s := range n.subs {
		subs = append(subs, s)
	}
	n.mu.Unlock()

	for _, s := range subs {
		s.push(c)
	}
}

func (n *notifier) closeAll() {
	n.mu.Lock()
	subs := n.subs
	n.subs = nil
	n.mu.Unlock()

	for _, s := range subs {
		s.once.Do(func() { close(s.done) })
	}
}
