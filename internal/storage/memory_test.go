package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/hfi/token-broker/internal/clock"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestMemoryCache_PutAndGet(t *testing.T) {
	clk := clock.NewManual(epoch)
	cache := NewMemoryCache(clk, 0)
	defer cache.Close()

	ctx := context.Background()
	if err := cache.Put(ctx, "10.0.0.1", []byte(`{"accessToken":"abc"}`), time.Minute); err != nil {
		t.Fatalf("Put() error: %v", err)
	}

	entry, found := cache.Get(ctx, "10.0.0.1")
	if !found {
		t.Fatal("Get() returned not found")
	}
	if string(entry.Payload) != `{"accessToken":"abc"}` {
		t.Errorf("Payload = %s", entry.Payload)
	}
	if !entry.ExpiresAt.Equal(epoch.Add(time.Minute)) {
		t.Errorf("ExpiresAt = %v, want %v", entry.ExpiresAt, epoch.Add(time.Minute))
	}
}

func TestMemoryCache_ExpiryBoundary(t *testing.T) {
	clk := clock.NewManual(epoch)
	cache := NewMemoryCache(clk, 0)
	defer cache.Close()

	ctx := context.Background()
	ttl := 30 * time.Second
	cache.Put(ctx, "k", []byte("v"), ttl)

	clk.Set(epoch.Add(ttl - time.Nanosecond))
	if _, found := cache.Get(ctx, "k"); !found {
		t.Fatal("entry should be retrievable just before ttl elapses")
	}

	clk.Set(epoch.Add(ttl))
	if _, found := cache.Get(ctx, "k"); found {
		t.Fatal("entry should be absent exactly at ttl")
	}
	// lazy eviction removed it
	if cache.Size() != 0 {
		t.Errorf("Size() = %d after expired lookup, want 0", cache.Size())
	}
}

func TestMemoryCache_NonPositiveTTL(t *testing.T) {
	cache := NewMemoryCache(clock.NewManual(epoch), 0)
	defer cache.Close()

	ctx := context.Background()
	cache.Put(ctx, "zero", []byte("v"), 0)
	cache.Put(ctx, "negative", []byte("v"), -time.Second)

	if cache.Size() != 0 {
		t.Errorf("Size() = %d, want 0", cache.Size())
	}
}

func TestMemoryCache_PayloadIsCopied(t *testing.T) {
	cache := NewMemoryCache(clock.NewManual(epoch), 0)
	defer cache.Close()

	ctx := context.Background()
	payload := []byte("original")
	cache.Put(ctx, "k", payload, time.Minute)
	copy(payload, "mutated!")

	entry, _ := cache.Get(ctx, "k")
	if string(entry.Payload) != "original" {
		t.Errorf("Payload = %q, want original", entry.Payload)
	}
}

func TestMemoryCache_Invalidate(t *testing.T) {
	cache := NewMemoryCache(clock.NewManual(epoch), 0)
	defer cache.Close()

	ctx := context.Background()
	cache.Put(ctx, "k", []byte("v"), time.Minute)
	if err := cache.Invalidate(ctx, "k"); err != nil {
		t.Fatalf("Invalidate() error: %v", err)
	}
	if _, found := cache.Get(ctx, "k"); found {
		t.Error("entry should be gone after Invalidate")
	}
}

func TestMemoryCache_Cleanup(t *testing.T) {
	clk := clock.NewManual(epoch)
	cache := NewMemoryCache(clk, 0)
	defer cache.Close()

	ctx := context.Background()
	cache.Put(ctx, "short", []byte("v"), time.Second)
	cache.Put(ctx, "long", []byte("v"), time.Hour)

	clk.Advance(time.Minute)
	cache.Cleanup()

	if cache.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", cache.Size())
	}
	if _, found := cache.Get(ctx, "long"); !found {
		t.Error("long-lived entry should survive cleanup")
	}
}

func TestMemoryCache_AutoCleanup(t *testing.T) {
	cache := NewMemoryCache(clock.New(), 20*time.Millisecond)
	defer cache.Close()

	cache.Put(context.Background(), "k", []byte("v"), 30*time.Millisecond)

	time.Sleep(120 * time.Millisecond)

	if cache.Size() != 0 {
		t.Errorf("Size() = %d after sweep, want 0", cache.Size())
	}
}

func TestMemoryCache_Remaining(t *testing.T) {
	entry := &Entry{ExpiresAt: epoch.Add(90 * time.Second)}

	if got := entry.Remaining(epoch); got != 90*time.Second {
		t.Errorf("Remaining() = %v, want 90s", got)
	}
	if got := entry.Remaining(epoch.Add(time.Hour)); got != 0 {
		t.Errorf("Remaining() after expiry = %v, want 0", got)
	}
}

func TestMemoryCache_CloseTwice(t *testing.T) {
	cache := NewMemoryCache(clock.New(), time.Minute)
	cache.Close()
	cache.Close()
}

func TestMemoryCache_Concurrency(t *testing.T) {
	cache := NewMemoryCache(clock.New(), 0)
	defer cache.Close()

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			key := fmt.Sprintf("client-%d", id%10)
			cache.Put(ctx, key, []byte(key), time.Minute)
			cache.Get(ctx, key)
			if id%7 == 0 {
				cache.Invalidate(ctx, key)
			}
			cache.Size()
		}(i)
	}
	wg.Wait()
}

func BenchmarkMemoryCache_Get(b *testing.B) {
	cache := NewMemoryCache(clock.New(), 0)
	defer cache.Close()

	ctx := context.Background()
	cache.Put(ctx, "k", []byte("v"), time.Hour)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cache.Get(ctx, "k")
	}
}
