package storage

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hfi/token-broker/internal/clock"
)

func TestMemoryCache_Interface(t *testing.T) {
	var _ Cache = (*MemoryCache)(nil)
}

func TestRedisCache_Interface(t *testing.T) {
	var _ Cache = (*RedisCache)(nil)
}

// unreachableRedis points at a closed port so every command fails fast
func unreachableRedis(t *testing.T) *RedisCache {
	t.Helper()
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	cache := newRedisCache(client, "test:", clock.NewManual(epoch))
	t.Cleanup(func() { cache.Close() })
	return cache
}

func TestRedisCache_UnreachableIsMiss(t *testing.T) {
	cache := unreachableRedis(t)
	ctx := context.Background()

	if _, found := cache.Get(ctx, "k"); found {
		t.Error("Get() against an unreachable server should be a miss")
	}
	if err := cache.Put(ctx, "k", []byte("v"), time.Minute); err == nil {
		t.Error("Put() against an unreachable server should fail")
	}
	if err := cache.Ping(ctx); err == nil {
		t.Error("Ping() against an unreachable server should fail")
	}
	if cache.Size() != 0 {
		t.Errorf("Size() = %d, want 0", cache.Size())
	}
}

func TestRedisCache_NonPositiveTTLSkipsWrite(t *testing.T) {
	cache := unreachableRedis(t)

	// no network call happens, so no error either
	if err := cache.Put(context.Background(), "k", []byte("v"), 0); err != nil {
		t.Errorf("Put() with zero ttl error = %v, want nil", err)
	}
}

func TestNewRedisCache_ConnectFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	if _, err := NewRedisCache(ctx, "127.0.0.1:1", "", 0, "test:", nil); err == nil {
		t.Error("NewRedisCache() should fail when Redis is unreachable")
	}
}
