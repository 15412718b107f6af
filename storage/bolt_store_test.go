package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupBoltStore(t *testing.T, cleanupInterval time.Duration) (*BoltStore, string) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "state", "storefront.db")
	store, err := NewBoltStore(dbPath, cleanupInterval)
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, store.Close(), "Failed to close BoltStore")
	})

	return store, dbPath
}

func TestBoltStore_SetGetDelete(t *testing.T) {
	store, dbPath := setupBoltStore(t, 0)
	ctx := context.Background()

	assert.Equal(t, dbPath, store.Path())

	require.NoError(t, store.Set(ctx, "user_session", `{"user":{}}`, 0))

	val, found, err := store.Get(ctx, "user_session")
	require.NoError(t, err)
	require.True(t, found, "Value should be found")
	assert.Equal(t, `{"user":{}}`, val)

	_, found, err = store.Get(ctx, "nonexistent")
	require.NoError(t, err)
	assert.False(t, found, "Non-existent key should not be found")

	require.NoError(t, store.Delete(ctx, "user_session"))
	_, found, err = store.Get(ctx, "user_session")
	require.NoError(t, err)
	assert.False(t, found, "Value should not be found after delete")
}

func TestBoltStore_TTL(t *testing.T) {
	store, _ := setupBoltStore(t, 0)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "auth_token", "tok", 20*time.Millisecond))
	require.NoError(t, store.Set(ctx, "forever", "v", 0))

	time.Sleep(40 * time.Millisecond)

	_, found, err := store.Get(ctx, "auth_token")
	require.NoError(t, err)
	assert.False(t, found, "expired key should be reported absent")

	removed, err := store.DeleteExpired()
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, found, err = store.Get(ctx, "forever")
	require.NoError(t, err)
	assert.True(t, found)
}

func TestBoltStore_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "storefront.db")
	ctx := context.Background()

	store, err := NewBoltStore(dbPath, 0)
	require.NoError(t, err)
	require.NoError(t, store.Set(ctx, "selected_currency", "USD", 0))
	require.NoError(t, store.Close())

	reopened, err := NewBoltStore(dbPath, 0)
	require.NoError(t, err)
	defer reopened.Close()

	val, found, err := reopened.Get(ctx, "selected_currency")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "USD", val)
}

func TestBoltStore_CleanupRoutinePublishesDeletion(t *testing.T) {
	store, _ := setupBoltStore(t, 10*time.Millisecond)
	ctx := context.Background()

	rec := &recorder{}
	defer store.Subscribe(rec.add)()

	require.NoError(t, store.Set(ctx, "auth_token", "tok", 15*time.Millisecond))

	assert.Eventually(t, func() bool {
		for _, c := range rec.snapshot() {
			if c.Key == "auth_token" && c.Deleted {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}
