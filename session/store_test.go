package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pilab-dev/storefront/domain"
	"github.com/pilab-dev/storefront/storage"
)

func sampleUser() *domain.User {
	return &domain.User{
		ID:                          "user-1",
		Email:                       "ada@example.com",
		FirstName:                   "Ada",
		LastName:                    "Lovelace",
		Name:                        "Ada Lovelace",
		AvatarURL:                   "https://cdn.example.com/ada.png",
		Organization:                "Analytical Engines Ltd",
		OrganizationalEmail:         "ada@engines.co.tz",
		Position:                    "Engineer",
		Location:                    "Dar es Salaam",
		Bio:                         "First programmer",
		PhoneNumber:                 "+255700000000",
		Role:                        domain.RoleModerator,
		Roles:                       []string{"ROLE_USER", "ROLE_MODERATOR"},
		IsVerified:                  true,
		IsOrganizationEmailVerified: true,
		VerificationStatus:          domain.StateVerified,
		BackendVerificationStatus:   domain.StatePending,
		PassportVerificationStatus:  domain.StateRejected,
		AddressVerificationStatus:   domain.StateVerified,
		CreatedAt:                   time.Date(2024, 11, 5, 9, 30, 0, 0, time.UTC),
	}
}

func newTab(t *testing.T, mem storage.Store, opts ...Option) *Store {
	t.Helper()
	return NewStore(storage.NewWriter(mem, nil), opts...)
}

func newMemory(t *testing.T) *storage.MemoryStore {
	t.Helper()
	mem := storage.NewMemoryStore()
	t.Cleanup(func() { _ = mem.Close() })
	return mem
}

func TestStore_RoundTrip(t *testing.T) {
	s := newTab(t, newMemory(t))
	ctx := context.Background()

	user := sampleUser()
	s.Save(ctx, user, true)

	snap := s.Load(ctx)
	require.NotNil(t, snap)
	assert.Equal(t, user, snap.User)
	assert.Equal(t, s.InstanceID(), snap.Origin)
	assert.Equal(t, uint64(1), snap.Seq)
	assert.True(t, s.IsValid(snap))
}

func TestStore_LoadAbsentOrCorrupt(t *testing.T) {
	mem := newMemory(t)
	s := newTab(t, mem)
	ctx := context.Background()

	assert.Nil(t, s.Load(ctx))

	require.NoError(t, mem.Set(ctx, Key, "{not json", 0))
	assert.Nil(t, s.Load(ctx))
}

func TestStore_IsValid(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s := newTab(t, newMemory(t), WithClock(func() time.Time { return now }))

	tests := []struct {
		name string
		snap *Snapshot
		want bool
	}{
		{"nil", nil, false},
		{"fresh", &Snapshot{User: sampleUser(), Timestamp: now.Add(-time.Hour)}, true},
		{"just under ttl", &Snapshot{User: sampleUser(), Timestamp: now.Add(-DefaultTTL + time.Second)}, true},
		{"exactly ttl", &Snapshot{User: sampleUser(), Timestamp: now.Add(-DefaultTTL)}, false},
		{"stale", &Snapshot{User: sampleUser(), Timestamp: now.Add(-25 * time.Hour)}, false},
		{"no user", &Snapshot{Timestamp: now}, false},
		{"user without identity", &Snapshot{User: &domain.User{FirstName: "Ada"}, Timestamp: now}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.IsValid(tt.snap))
		})
	}
}

func TestStore_DebouncedSavesCoalesce(t *testing.T) {
	mem := newMemory(t)
	s := newTab(t, mem, WithDebounce(40*time.Millisecond))
	ctx := context.Background()

	var mu sync.Mutex
	writes := 0
	defer mem.Subscribe(func(c storage.Change) {
		if c.Key == Key && !c.Deleted {
			mu.Lock()
			writes++
			mu.Unlock()
		}
	})()

	user := sampleUser()
	for _, city := range []string{"Arusha", "Mwanza", "Dodoma", "Zanzibar"} {
		u := user.Clone()
		u.Location = city
		s.Save(ctx, u, false)
	}

	assert.Nil(t, s.Load(ctx), "nothing persisted inside the window")

	require.Eventually(t, func() bool { return s.Load(ctx) != nil }, time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)

	mu.Lock()
	assert.Equal(t, 1, writes, "exactly one storage write")
	mu.Unlock()
	assert.Equal(t, "Zanzibar", s.Load(ctx).User.Location, "the last save wins")
}

func TestStore_ClearAndFlush(t *testing.T) {
	s := newTab(t, newMemory(t), WithDebounce(time.Hour))
	ctx := context.Background()

	s.Save(ctx, sampleUser(), false)
	s.Flush(ctx)
	require.NotNil(t, s.Load(ctx))

	s.Save(ctx, sampleUser(), false)
	s.Clear(ctx)
	assert.Nil(t, s.Load(ctx), "clear also drops the pending save")
}

func TestStore_WatchIgnoresOwnWrites(t *testing.T) {
	mem := newMemory(t)
	tabA := newTab(t, mem)
	tabB := newTab(t, mem)
	ctx := context.Background()

	var mu sync.Mutex
	var seenA, seenB []Event
	defer tabA.Watch(func(e Event) { mu.Lock(); seenA = append(seenA, e); mu.Unlock() })()
	defer tabB.Watch(func(e Event) { mu.Lock(); seenB = append(seenB, e); mu.Unlock() })()

	tabA.Save(ctx, sampleUser(), true)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seenB) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Empty(t, seenA)
	assert.Equal(t, "user-1", seenB[0].Snapshot.User.ID)
	mu.Unlock()

	tabA.Clear(ctx)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seenB) == 2 && seenB[1].Deleted
	}, time.Second, 5*time.Millisecond)
}

func TestStore_WatchDropsStaleSequences(t *testing.T) {
	mem := newMemory(t)
	tabB := newTab(t, mem)
	ctx := context.Background()

	var mu sync.Mutex
	var seen []uint64
	defer tabB.Watch(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		if e.Snapshot != nil {
			seen = append(seen, e.Snapshot.Seq)
		}
	})()

	write := func(seq uint64) {
		snap := Snapshot{User: sampleUser(), Timestamp: time.Now(), Seq: seq, Origin: "tab-a"}
		raw, err := jsonString(snap)
		require.NoError(t, err)
		require.NoError(t, mem.Set(ctx, Key, raw, 0))
	}

	write(3)
	write(2)
	write(5)
	write(5)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	assert.Equal(t, []uint64{3, 5}, seen)
	mu.Unlock()
}

func TestStore_SequenceContinuesFromPersisted(t *testing.T) {
	mem := newMemory(t)
	tabA := newTab(t, mem)
	tabB := newTab(t, mem)
	ctx := context.Background()

	tabA.Save(ctx, sampleUser(), true)
	tabA.Save(ctx, sampleUser(), true)
	tabB.Save(ctx, sampleUser(), true)

	snap := tabB.Load(ctx)
	require.NotNil(t, snap)
	assert.Equal(t, uint64(3), snap.Seq)
}

func TestStore_DebouncedSaveRacingImmediateSaveConverges(t *testing.T) {
	mem := newMemory(t)
	tabA := newTab(t, mem, WithDebounce(50*time.Millisecond))
	tabB := newTab(t, mem)
	ctx := context.Background()

	var mu sync.Mutex
	var seenA, seenB []string
	defer tabA.Watch(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		if e.Snapshot != nil {
			seenA = append(seenA, e.Snapshot.User.Location)
		}
	})()
	defer tabB.Watch(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		if e.Snapshot != nil {
			seenB = append(seenB, e.Snapshot.User.Location)
		}
	})()

	fromA := sampleUser()
	fromA.Location = "from-A"
	tabA.Save(ctx, fromA, false)

	fromB := sampleUser()
	fromB.Location = "from-B"
	tabB.Save(ctx, fromB, true)

	time.Sleep(200 * time.Millisecond)

	snap := tabA.Load(ctx)
	require.NotNil(t, snap)
	assert.Equal(t, "from-B", snap.User.Location, "the later save wins")
	assert.Equal(t, tabB.InstanceID(), snap.Origin)
	assert.False(t, tabA.writer.Pending(Key), "the older pending save is discarded")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"from-B"}, seenA)
	assert.Empty(t, seenB)
}

func TestStore_PendingSaveNewerThanRemoteWins(t *testing.T) {
	mem := newMemory(t)
	tabA := newTab(t, mem, WithDebounce(50*time.Millisecond))
	tabB := newTab(t, mem)
	ctx := context.Background()

	var mu sync.Mutex
	var seenB []string
	record := func(seen *[]string) func(Event) {
		return func(e Event) {
			mu.Lock()
			defer mu.Unlock()
			if e.Snapshot != nil {
				*seen = append(*seen, e.Snapshot.User.Location)
			}
		}
	}
	defer tabB.Watch(record(&seenB))()

	fromB := sampleUser()
	fromB.Location = "from-B"
	tabB.Save(ctx, fromB, true)

	fromA := sampleUser()
	fromA.Location = "from-A"
	tabA.Save(ctx, fromA, false)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seenB) == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	snap := tabB.Load(ctx)
	require.NotNil(t, snap)
	assert.Equal(t, "from-A", snap.User.Location)
	assert.Equal(t, uint64(2), snap.Seq, "sequence assigned after the remote write landed")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"from-A"}, seenB)
}

func TestStore_WatchBreaksSequenceTiesByOrigin(t *testing.T) {
	mem := newMemory(t)
	tabB := newTab(t, mem, WithInstanceID("m-tab"))
	ctx := context.Background()

	var mu sync.Mutex
	var seen []string
	defer tabB.Watch(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		if e.Snapshot != nil {
			seen = append(seen, e.Snapshot.Origin)
		}
	})()

	tabB.Save(ctx, sampleUser(), true)

	write := func(origin string) {
		snap := Snapshot{User: sampleUser(), Timestamp: time.Now(), Seq: 1, Origin: origin}
		raw, err := jsonString(snap)
		require.NoError(t, err)
		require.NoError(t, mem.Set(ctx, Key, raw, 0))
	}
	write("a-tab")
	write("z-tab")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"z-tab"}, seen)
	mu.Unlock()
}

func TestStore_Discard(t *testing.T) {
	mem := newMemory(t)
	s := newTab(t, mem, WithDebounce(20*time.Millisecond))
	ctx := context.Background()

	s.Save(ctx, sampleUser(), false)
	s.Discard()

	time.Sleep(50 * time.Millisecond)
	assert.Nil(t, s.Load(ctx))
}
