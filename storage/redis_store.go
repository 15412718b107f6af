package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisStore implements Store on Redis. Every mutation is published on a pub/sub
// channel, so all processes sharing the same prefix observe each other's writes.
type RedisStore struct {
	client  redis.UniversalClient
	prefix  string
	channel string

	notifier notifier

	mu        sync.Mutex
	pubsub    *redis.PubSub
	cancel    context.CancelFunc
	closeOnce sync.Once
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a new RedisStore. The caller owns client.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "storefront"
	}
	return &RedisStore{
		client:  client,
		prefix:  prefix,
		channel: prefix + ":changes",
	}
}

// redisKey returns the Redis key for a store key.
func (r *RedisStore) redisKey(key string) string {
	return fmt.Sprintf("%s:kv:%s", r.prefix, key)
}

// Get implements Store.Get.
func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := r.client.Get(ctx, r.redisKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s from Redis: %w", key, err)
	}
	return val, true, nil
}

// Set implements Store.Set.
func (r *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	change, err := json.Marshal(Change{Key: key, Value: value, At: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to marshal change: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.redisKey(key), value, ttl)
		pipe.Publish(ctx, r.channel, change)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set %s in Redis: %w", key, err)
	}
	return nil
}

// Delete implements Store.Delete.
func (r *RedisStore) Delete(ctx context.Context, key string) error {
	change, err := json.Marshal(Change{Key: key, Deleted: true, At: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to marshal change: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, r.redisKey(key))
		pipe.Publish(ctx, r.channel, change)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s from Redis: %w", key, err)
	}
	return nil
}

// Subscribe implements Store.Subscribe. Changes made by this process are delivered
// through the same channel as everybody else's.
func (r *RedisStore) Subscribe(fn func(Change)) func() {
	if err := r.listen(); err != nil {
		log.Error().Err(err).Str("channel", r.channel).Msg("failed to subscribe to Redis change feed")
	}
	return r.notifier.subscribe(fn)
}

func (r *RedisStore) listen() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pubsub != nil {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	ps := r.client.Subscribe(ctx, r.channel)
	// Wait for the subscription confirmation so no change published after
	// Subscribe returns is missed.
	if _, err := ps.Receive(ctx); err != nil {
		cancel()
		_ = ps.Close()
		return err
	}

	r.pubsub = ps
	r.cancel = cancel

	go func() {
		for msg := range ps.Channel() {
			var c Change
			if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
				log.Warn().Err(err).Str("channel", r.channel).Msg("dropping malformed change message")
				continue
			}
			r.notifier.publish(c)
		}
	}()

	return nil
}

// Close stops the change feed. The Redis client is left open.
func (r *RedisStore) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.mu.Lock()
		if r.cancel != nil {
			r.cancel()
		}
		if r.pubsub != nil {
			err = r.pubsub.Close()
		}
		r.mu.Unlock()
		r.notifier.closeAll()
	})
	return err
}
