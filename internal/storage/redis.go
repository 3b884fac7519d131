package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hfi/token-broker/internal/clock"
)

// RedisCache is a Redis-backed implementation of Cache. Expiry is enforced by
// Redis key TTLs and re-checked against the clock on read.
type RedisCache struct {
	client *redis.Client
	clock  clock.Clock
	prefix string
}

// sizeScanTimeout bounds the keyspace scan in Size
const sizeScanTimeout = 2 * time.Second

// NewRedisCache connects to Redis and verifies the connection
func NewRedisCache(ctx context.Context, address, password string, db int, prefix string, c clock.Clock) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newRedisCache(client, prefix, c), nil
}

func newRedisCache(client *redis.Client, prefix string, c clock.Clock) *RedisCache {
	if c == nil {
		c = clock.New()
	}
	return &RedisCache{
		client: client,
		clock:  c,
		prefix: prefix,
	}
}

// Get retrieves a live entry
func (r *RedisCache) Get(ctx context.Context, key string) (*Entry, bool) {
	raw, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		// redis.Nil and transport errors both read as a miss
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		r.client.Del(ctx, r.prefix+key)
		return nil, false
	}

	if !r.clock.Now().Before(entry.ExpiresAt) {
		r.client.Del(ctx, r.prefix+key)
		return nil, false
	}

	return &entry, true
}

// Put stores payload with a Redis TTL
func (r *RedisCache) Put(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	raw, err := json.Marshal(&Entry{
		Key:       key,
		Payload:   payload,
		ExpiresAt: r.clock.Now().Add(ttl),
	})
	if err != nil {
		return err
	}

	return r.client.Set(ctx, r.prefix+key, raw, ttl).Err()
}

// Invalidate removes key
func (r *RedisCache) Invalidate(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}

// Cleanup is a no-op for Redis as TTL handles expiration
func (r *RedisCache) Cleanup() error {
	return nil
}

// Size returns the approximate number of stored entries. It scans the
// keyspace, so keep it off the request path.
func (r *RedisCache) Size() int {
	ctx, cancel := context.WithTimeout(context.Background(), sizeScanTimeout)
	defer cancel()

	var (
		cursor uint64
		count  int
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+"*", 100).Result()
		if err != nil {
			return count
		}
		count += len(keys)
		cursor = next
		if cursor == 0 {
			return count
		}
	}
}

// Ping checks the Redis connection
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (r *RedisCache) Close() error {
	return r.client.Close()
}
