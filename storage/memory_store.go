package storage

import (
	"context"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// MemoryStore implements Store using ttlcache. Expired keys are evicted by the
// cache janitor and published as deletions.
type MemoryStore struct {
	cache    *ttlcache.Cache[string, string]
	notifier notifier
	stopOnce sync.Once
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an in-memory store with automatic expiry cleanup.
func NewMemoryStore() *MemoryStore {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, string](ttlcache.NoTTL),
		ttlcache.WithDisableTouchOnHit[string, string](),
	)

	s := &MemoryStore{cache: cache}

	cache.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, string]) {
		if reason == ttlcache.EvictionReasonExpired {
			s.notifier.publish(Change{Key: item.Key(), Deleted: true})
		}
	})

	// Start the cleanup process
	go cache.Start()

	return s
}

// Get implements Store.Get.
func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	item := s.cache.Get(key)
	if item == nil || item.IsExpired() {
		return "", false, nil
	}
	return item.Value(), true, nil
}

// Set implements Store.Set.
func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = ttlcache.NoTTL
	}
	s.cache.Set(key, value, ttl)
	s.notifier.publish(Change{Key: key, Value: value})

	return nil
}

// Delete implements Store.Delete.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.cache.Delete(key)
	s.notifier.publish(Change{Key: key, Deleted: true})

	return nil
}

// Subscribe implements Store.Subscribe.
func (s *MemoryStore) Subscribe(fn func(Change)) func() {
	return s.notifier.subscribe(fn)
}

// Len returns the number of keys currently held.
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}

// Close stops the cleanup goroutine and all subscriptions.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() {
		s.cache.Stop()
		s.notifier.closeAll()
	})

	return nil
}
