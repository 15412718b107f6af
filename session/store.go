// Package session persists the snapshot of the logged in user and reconciles
// snapshots written by other instances sharing the same storage.
package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pilab-dev/storefront/domain"
	"github.com/pilab-dev/storefront/log"
	"github.com/pilab-dev/storefront/storage"
)

const (
	// Key is the storage key of the serialized snapshot.
	Key = "user_session"

	// DefaultTTL is how long a snapshot stays valid after it was written.
	DefaultTTL = 24 * time.Hour
	// DefaultDebounce is the coalescing window of non-immediate saves.
	DefaultDebounce = time.Second
)

// Snapshot is the persisted form of a session.
type Snapshot struct {
	User      *domain.User `json:"user"`
	Timestamp time.Time    `json:"timestamp"`
	// Seq orders writes across instances; a higher Seq is newer.
	Seq uint64 `json:"seq"`
	// Origin is the id of the instance that wrote the snapshot.
	Origin string `json:"origin,omitempty"`
}

// Event is a session change made by another instance.
type Event struct {
	Snapshot *Snapshot
	Deleted  bool
}

// Store reads and writes session snapshots. It is safe for concurrent use.
type Store struct {
	writer   *storage.Writer
	logger   log.Logger
	ttl      time.Duration
	debounce time.Duration
	now      func() time.Time
	id       string

	mu            sync.Mutex
	seq           uint64 // highest sequence written or observed
	applied       uint64 // highest sequence written or delivered to watchers
	appliedOrigin string
	pendingAt     time.Time // when the pending debounced save was requested
}

// Option configures a Store.
type Option func(*Store)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithDebounce overrides DefaultDebounce.
func WithDebounce(window time.Duration) Option {
	return func(s *Store) {
		if window > 0 {
			s.debounce = window
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithInstanceID sets the origin id stamped on written snapshots.
func WithInstanceID(id string) Option {
	return func(s *Store) {
		if id != "" {
			s.id = id
		}
	}
}

// NewStore creates a session store writing through writer.
func NewStore(writer *storage.Writer, opts ...Option) *Store {
	s := &Store{
		writer:   writer,
		logger:   log.Nop(),
		ttl:      DefaultTTL,
		debounce: DefaultDebounce,
		now:      time.Now,
		id:       uuid.NewString(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// InstanceID returns the origin id of this store.
func (s *Store) InstanceID() string {
	return s.id
}

// TTL returns the snapshot lifetime.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Save persists user. Immediate saves are written synchronously; others are
// coalesced over the debounce window. Seq and Timestamp are assigned when the
// snapshot reaches storage.
func (s *Store) Save(ctx context.Context, user *domain.User, immediate bool) {
	if immediate {
		s.resetPending()
		err := s.writer.WriteImmediateFunc(ctx, Key, func(ctx context.Context) (string, error) {
			return s.encode(ctx, user)
		}, 0)
		if err != nil {
			s.logger.Error(ctx, "failed to persist session snapshot", err)
		}
		return
	}

	requested := s.now()
	s.mu.Lock()
	s.pendingAt = requested
	s.mu.Unlock()

	s.writer.WriteDebouncedFunc(Key, func(ctx context.Context) (string, error) {
		s.mu.Lock()
		current := s.pendingAt.Equal(requested)
		if current {
			s.pendingAt = time.Time{}
		}
		s.mu.Unlock()
		if !current {
			return "", storage.ErrSkipWrite
		}
		return s.encode(ctx, user)
	}, 0, s.debounce)
}

func (s *Store) encode(ctx context.Context, user *domain.User) (string, error) {
	snap := &Snapshot{
		User:      user,
		Timestamp: s.now(),
		Seq:       s.nextSeq(ctx),
		Origin:    s.id,
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		s.logger.Error(ctx, "failed to encode session snapshot", err)
		return "", err
	}
	return string(raw), nil
}

// Load returns the persisted snapshot, or nil when it is absent or unreadable.
func (s *Store) Load(ctx context.Context) *Snapshot {
	raw, found, err := s.writer.Store().Get(ctx, Key)
	if err != nil {
		s.logger.Error(ctx, "failed to read session snapshot", err)
		return nil
	}
	if !found {
		return nil
	}

	snap, err := decode(raw)
	if err != nil {
		s.logger.Warn(ctx, "discarding unreadable session snapshot", log.Fields{"error": err.Error()})
		return nil
	}

	s.observe(snap.Seq)
	return snap
}

// IsValid reports whether snap carries a user identity and is younger than the TTL.
func (s *Store) IsValid(snap *Snapshot) bool {
	if snap == nil || !snap.User.HasIdentity() {
		return false
	}
	return s.now().Sub(snap.Timestamp) < s.ttl
}

// Clear removes the persisted snapshot and any pending debounced save.
func (s *Store) Clear(ctx context.Context) {
	s.resetPending()
	if err := s.writer.Delete(ctx, Key); err != nil {
		s.logger.Error(ctx, "failed to remove session snapshot", err)
	}
}

// Discard drops a pending debounced save without writing it.
func (s *Store) Discard() {
	s.resetPending()
	s.writer.Discard(Key)
}

// Flush writes a pending debounced save now.
func (s *Store) Flush(ctx context.Context) {
	if err := s.writer.Flush(ctx); err != nil {
		s.logger.Error(ctx, "failed to flush session snapshot", err)
	}
}

// Watch calls fn for every session change made by another instance. Updates
// are ordered by (Seq, Origin); one not newer than the last written or
// delivered is dropped. An update older than a pending local save is dropped
// too, and one newer than it discards that save. Deletions are dropped when a
// snapshot has been saved again since.
func (s *Store) Watch(fn func(Event)) (unsubscribe func()) {
	return s.writer.Store().Subscribe(func(c storage.Change) {
		if c.Key != Key {
			return
		}

		ctx := context.Background()
		if c.Deleted {
			// A deletion overtaken by a newer save is stale.
			if _, found, err := s.writer.Store().Get(ctx, Key); err == nil && found {
				return
			}
			fn(Event{Deleted: true})
			return
		}

		snap, err := decode(c.Value)
		if err != nil {
			s.logger.Warn(ctx, "ignoring unreadable session change", log.Fields{"error": err.Error()})
			return
		}
		if snap.Origin == s.id {
			return
		}
		if !s.accept(snap.Seq, snap.Origin) {
			s.logger.Debug(ctx, "dropping stale session change", log.Fields{
				"seq":    snap.Seq,
				"origin": snap.Origin,
			})
			return
		}
		if s.supersededByPending(snap.Timestamp) {
			s.logger.Debug(ctx, "dropping session change older than a pending save", log.Fields{
				"seq":    snap.Seq,
				"origin": snap.Origin,
			})
			return
		}

		fn(Event{Snapshot: snap})
	})
}

// nextSeq returns a sequence greater than any written or observed, including
// the one currently persisted by another instance. It runs while the writer
// holds its store lock, right before the snapshot is written.
func (s *Store) nextSeq(ctx context.Context) uint64 {
	var persisted uint64
	if raw, found, err := s.writer.Store().Get(ctx, Key); err == nil && found {
		if snap, err := decode(raw); err == nil {
			persisted = snap.Seq
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if persisted > s.seq {
		s.seq = persisted
	}
	s.seq++
	s.applied = s.seq
	s.appliedOrigin = s.id
	return s.seq
}

func (s *Store) observe(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq > s.seq {
		s.seq = seq
	}
}

func (s *Store) accept(seq uint64, origin string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq < s.applied || (seq == s.applied && origin <= s.appliedOrigin) {
		return false
	}
	s.applied = seq
	s.appliedOrigin = origin
	if seq > s.seq {
		s.seq = seq
	}
	return true
}

// supersededByPending reports whether a pending local save was requested at or
// after at. A pending save requested earlier is discarded.
func (s *Store) supersededByPending(at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pendingAt.IsZero() {
		return false
	}
	if !s.pendingAt.Before(at) {
		return true
	}
	s.pendingAt = time.Time{}
	s.writer.Discard(Key)
	return false
}

func (s *Store) resetPending() {
	s.mu.Lock()
	s.pendingAt = time.Time{}
	s.mu.Unlock()
}

func decode(raw string) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
