package storage

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.etcd.io/bbolt"
)

const (
	// DefaultBucketName holds the client state keys.
	DefaultBucketName = "storefront"
	metadataSuffix    = "_meta"
)

// storedItemMetadata holds metadata for a stored item, primarily its expiration time.
type storedItemMetadata struct {
	ExpiresAtUnixNano int64
}

// BoltStore is a file-backed Store on top of bbolt.
//
// bbolt takes an exclusive file lock, so a BoltStore is owned by one process; the
// change feed is local to that process. Use RedisStore to share state across processes.
type BoltStore struct {
	db              *bbolt.DB
	bucket          []byte
	metaBucket      []byte
	cleanupInterval time.Duration
	notifier        notifier
	stopCleanup     chan struct{}
	closeOnce       sync.Once
}

var _ Store = (*BoltStore)(nil)

// NewBoltStore opens (or creates) the database at dbPath and starts the expiry
// cleanup routine when cleanupInterval > 0.
func NewBoltStore(dbPath string, cleanupInterval time.Duration) (*BoltStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory %s: %w", dir, err)
	}

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db at %s: %w", dbPath, err)
	}

	store := &BoltStore{
		db:              db,
		bucket:          []byte(DefaultBucketName),
		metaBucket:      []byte(DefaultBucketName + metadataSuffix),
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
	}

	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}

	if cleanupInterval > 0 {
		go store.runCleanupLoop()
	}

	return store, nil
}

func (s *BoltStore) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(s.bucket); err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", s.bucket, err)
		}
		if _, err := tx.CreateBucketIfNotExists(s.metaBucket); err != nil {
			return fmt.Errorf("failed to create metadata bucket for %s: %w", s.bucket, err)
		}
		return nil
	})
}

// Get implements Store.Get.
func (s *BoltStore) Get(_ context.Context, key string) (string, bool, error) {
	var (
		value string
		found bool
	)

	err := s.db.View(func(tx *bbolt.Tx) error {
		metaBytes := tx.Bucket(s.metaBucket).Get([]byte(key))
		if metaBytes == nil {
			return nil
		}

		metadata, err := decodeMetadata(metaBytes)
		if err != nil {
			return fmt.Errorf("failed to decode metadata for key %s: %w", key, err)
		}
		if metadata.expired(time.Now()) {
			// The cleanup routine removes it; for Get it is simply absent.
			return nil
		}

		valBytes := tx.Bucket(s.bucket).Get([]byte(key))
		if valBytes == nil {
			return nil
		}

		// The slice is only valid during the transaction.
		value = string(valBytes)
		found = true
		return nil
	})
	if err != nil {
		return "", false, err
	}

	return value, found, nil
}

// Set implements Store.Set.
func (s *BoltStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	metadata := storedItemMetadata{}
	if ttl > 0 {
		metadata.ExpiresAtUnixNano = time.Now().Add(ttl).UnixNano()
	}

	var metaBuf bytes.Buffer
	if err := gob.NewEncoder(&metaBuf).Encode(metadata); err != nil {
		return fmt.Errorf("failed to encode metadata for key %s: %w", key, err)
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(s.bucket).Put([]byte(key), []byte(value)); err != nil {
			return fmt.Errorf("failed to put value for key %s: %w", key, err)
		}
		return tx.Bucket(s.metaBucket).Put([]byte(key), metaBuf.Bytes())
	})
	if err != nil {
		return err
	}

	s.notifier.publish(Change{Key: key, Value: value})
	return nil
}

// Delete implements Store.Delete.
func (s *BoltStore) Delete(_ context.Context, key string) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(s.bucket).Delete([]byte(key)); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", key, err)
		}
		return tx.Bucket(s.metaBucket).Delete([]byte(key))
	})
	if err != nil {
		return err
	}

	s.notifier.publish(Change{Key: key, Deleted: true})
	return nil
}

// Subscribe implements Store.Subscribe.
func (s *BoltStore) Subscribe(fn func(Change)) func() {
	return s.notifier.subscribe(fn)
}

// DeleteExpired removes expired keys and returns how many were removed.
func (s *BoltStore) DeleteExpired() (int, error) {
	now := time.Now()
	var removed []string

	err := s.db.Update(func(tx *bbolt.Tx) error {
		metaB := tx.Bucket(s.metaBucket)
		b := tx.Bucket(s.bucket)

		var expiredKeys [][]byte
		err := metaB.ForEach(func(k, v []byte) error {
			metadata, err := decodeMetadata(v)
			if err != nil || metadata.expired(now) {
				expiredKeys = append(expiredKeys, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		// Deleting inside ForEach invalidates the cursor, so collect first.
		for _, k := range expiredKeys {
			if err := b.Delete(k); err != nil {
				return err
			}
			if err := metaB.Delete(k); err != nil {
				return err
			}
			removed = append(removed, string(k))
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	for _, key := range removed {
		s.notifier.publish(Change{Key: key, Deleted: true})
	}
	return len(removed), nil
}

func (s *BoltStore) runCleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = s.DeleteExpired()
		case <-s.stopCleanup:
			return
		}
	}
}

// Path returns the database file path.
func (s *BoltStore) Path() string {
	return s.db.Path()
}

// Close stops the cleanup routine and closes the database.
func (s *BoltStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stopCleanup)
		s.notifier.closeAll()
		err = s.db.Close()
	})
	return err
}

func decodeMetadata(b []byte) (storedItemMetadata, error) {
	var metadata storedItemMetadata
	err := gob.NewDecoder(bytes.NewReader(b)).Decode(&metadata)
	return metadata, err
}

func (m storedItemMetadata) expired(now time.Time) bool {
	return m.ExpiresAtUnixNano != 0 && now.UnixNano() > m.ExpiresAtUnixNano
}
