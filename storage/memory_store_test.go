package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects changes delivered to a subscriber.
type recorder struct {
	mu      sync.Mutex
	changes []Change
}

func (r *recorder) add(c Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, c)
}

func (r *recorder) snapshot() []Change {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Change(nil), r.changes...)
}

func TestMemoryStore_SetGetDelete(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	_, found, err := store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Set(ctx, "auth_token", "tok123", 0))
	val, found, err := store.Get(ctx, "auth_token")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "tok123", val)
	assert.Equal(t, 1, store.Len())

	require.NoError(t, store.Delete(ctx, "auth_token"))
	_, found, err = store.Get(ctx, "auth_token")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestMemoryStore_TTL(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	rec := &recorder{}
	unsubscribe := store.Subscribe(rec.add)
	defer unsubscribe()

	require.NoError(t, store.Set(ctx, "short", "lived", 30*time.Millisecond))

	assert.Eventually(t, func() bool {
		_, found, _ := store.Get(ctx, "short")
		return !found
	}, time.Second, 10*time.Millisecond)

	// The janitor publishes the expiry as a deletion.
	assert.Eventually(t, func() bool {
		for _, c := range rec.snapshot() {
			if c.Key == "short" && c.Deleted {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond)
}

func TestMemoryStore_SubscribeOrdering(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	rec := &recorder{}
	unsubscribe := store.Subscribe(rec.add)

	require.NoError(t, store.Set(ctx, "k", "1", 0))
	require.NoError(t, store.Set(ctx, "k", "2", 0))
	require.NoError(t, store.Delete(ctx, "k"))

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 3 }, time.Second, 5*time.Millisecond)
	got := rec.snapshot()
	assert.Equal(t, "1", got[0].Value)
	assert.Equal(t, "2", got[1].Value)
	assert.True(t, got[2].Deleted)
	assert.False(t, got[0].At.IsZero())

	unsubscribe()
	require.NoError(t, store.Set(ctx, "k", "3", 0))
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, rec.snapshot(), 3, "no delivery after unsubscribe")
}

func TestMemoryStore_SubscriberCanWriteBack(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	const writes = 600
	var mu sync.Mutex
	handled := 0
	defer store.Subscribe(func(c Change) {
		if c.Key != "in" {
			return
		}
		// Each write back publishes to this subscriber again.
		_ = store.Delete(ctx, "out")
		mu.Lock()
		handled++
		mu.Unlock()
	})()

	for i := 0; i < writes; i++ {
		require.NoError(t, store.Set(ctx, "in", "v", 0))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return handled == writes
	}, 5*time.Second, 5*time.Millisecond)
}
