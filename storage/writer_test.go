package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingStore records every Set it receives.
type countingStore struct {
	*MemoryStore
	mu   sync.Mutex
	sets []Change
}

func newCountingStore() *countingStore {
	return &countingStore{MemoryStore: NewMemoryStore()}
}

func (c *countingStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	c.sets = append(c.sets, Change{Key: key, Value: value})
	c.mu.Unlock()
	return c.MemoryStore.Set(ctx, key, value, ttl)
}

func (c *countingStore) setsFor(key string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, s := range c.sets {
		if s.Key == key {
			out = append(out, s.Value)
		}
	}
	return out
}

func TestWriter_DebounceCoalesces(t *testing.T) {
	store := newCountingStore()
	defer store.Close()
	w := NewWriter(store, nil)

	for _, v := range []string{"a", "b", "c", "d", "e"} {
		w.WriteDebounced("user_session", v, 0, 50*time.Millisecond)
	}
	assert.True(t, w.Pending("user_session"))
	assert.Empty(t, store.setsFor("user_session"), "nothing written inside the window")

	require.Eventually(t, func() bool { return len(store.setsFor("user_session")) == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(80 * time.Millisecond)

	assert.Equal(t, []string{"e"}, store.setsFor("user_session"), "exactly one write with the last value")
	assert.False(t, w.Pending("user_session"))
}

func TestWriter_ImmediateCancelsPending(t *testing.T) {
	store := newCountingStore()
	defer store.Close()
	w := NewWriter(store, nil)
	ctx := context.Background()

	w.WriteDebounced("user_session", "stale", 0, 30*time.Millisecond)
	require.NoError(t, w.WriteImmediate(ctx, "user_session", "fresh", 0))

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, []string{"fresh"}, store.setsFor("user_session"))

	val, found, err := store.Get(ctx, "user_session")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "fresh", val)
}

func TestWriter_DeleteCancelsPending(t *testing.T) {
	store := newCountingStore()
	defer store.Close()
	w := NewWriter(store, nil)
	ctx := context.Background()

	w.WriteDebounced("user_session", "pending", 0, 30*time.Millisecond)
	require.NoError(t, w.Delete(ctx, "user_session"))

	time.Sleep(60 * time.Millisecond)
	assert.Empty(t, store.setsFor("user_session"))
	_, found, _ := store.Get(ctx, "user_session")
	assert.False(t, found)
}

func TestWriter_Flush(t *testing.T) {
	store := newCountingStore()
	defer store.Close()
	w := NewWriter(store, nil)
	ctx := context.Background()

	w.WriteDebounced("a", "1", 0, time.Hour)
	w.WriteDebounced("b", "2", 0, time.Hour)
	require.NoError(t, w.Flush(ctx))

	assert.Equal(t, []string{"1"}, store.setsFor("a"))
	assert.Equal(t, []string{"2"}, store.setsFor("b"))
	assert.False(t, w.Pending("a"))
	assert.Same(t, Store(store), w.Store())
}

func TestWriter_DebouncedFuncEvaluatedWhenFired(t *testing.T) {
	store := newCountingStore()
	defer store.Close()
	w := NewWriter(store, nil)

	var mu sync.Mutex
	calls := 0
	w.WriteDebouncedFunc("user_session", func(ctx context.Context) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		// The store already holds the immediate write made inside the window.
		v, _, err := store.Get(ctx, "other")
		return "after-" + v, err
	}, 0, 30*time.Millisecond)

	mu.Lock()
	assert.Zero(t, calls, "value not produced when scheduled")
	mu.Unlock()
	require.NoError(t, w.WriteImmediate(context.Background(), "other", "x", 0))

	require.Eventually(t, func() bool { return len(store.setsFor("user_session")) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"after-x"}, store.setsFor("user_session"))
}

func TestWriter_SkipAndDiscard(t *testing.T) {
	store := newCountingStore()
	defer store.Close()
	w := NewWriter(store, nil)
	ctx := context.Background()

	skip := func(context.Context) (string, error) { return "", ErrSkipWrite }
	require.NoError(t, w.WriteImmediateFunc(ctx, "user_session", skip, 0))
	assert.Empty(t, store.setsFor("user_session"))

	w.WriteDebounced("user_session", "pending", 0, 20*time.Millisecond)
	assert.True(t, w.Discard("user_session"))
	assert.False(t, w.Discard("user_session"))

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, store.setsFor("user_session"))
	assert.False(t, w.Pending("user_session"))
}
