package storage

import (
	"context"
	"sync"
	"time"

	"github.com/hfi/token-broker/internal/clock"
)

// MemoryCache is an in-process implementation of Cache
type MemoryCache struct {
	mu              sync.RWMutex
	entries         map[string]*Entry
	clock           clock.Clock
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// NewMemoryCache creates an in-memory cache with a background sweep every cleanupInterval.
// A non-positive interval disables the sweep; expired entries are still dropped on lookup.
func NewMemoryCache(c clock.Clock, cleanupInterval time.Duration) *MemoryCache {
	if c == nil {
		c = clock.New()
	}

	cache := &MemoryCache{
		entries:         make(map[string]*Entry),
		clock:           c,
		cleanupInterval: cleanupInterval,
		stopCleanup:     make(chan struct{}),
	}

	if cleanupInterval > 0 {
		go cache.cleanupLoop()
	}

	return cache
}

// Get returns the entry for key if it has not expired
func (m *MemoryCache) Get(_ context.Context, key string) (*Entry, bool) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()

	if !ok {
		return nil, false
	}

	if !m.clock.Now().Before(entry.ExpiresAt) {
		m.mu.Lock()
		// another writer may have replaced it meanwhile
		if current, ok := m.entries[key]; ok && current == entry {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, false
	}

	return entry, true
}

// Put stores payload for ttl
func (m *MemoryCache) Put(_ context.Context, key string, payload []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	entry := &Entry{
		Key:       key,
		Payload:   append([]byte(nil), payload...),
		ExpiresAt: m.clock.Now().Add(ttl),
	}

	m.mu.Lock()
	m.entries[key] = entry
	m.mu.Unlock()

	return nil
}

// Invalidate removes key
func (m *MemoryCache) Invalidate(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Cleanup removes expired entries
func (m *MemoryCache) Cleanup() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	for key, entry := range m.entries {
		if !now.Before(entry.ExpiresAt) {
			delete(m.entries, key)
		}
	}

	return nil
}

// Size returns the number of stored entries, expired or not
func (m *MemoryCache) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Ping always succeeds for the in-memory backend
func (m *MemoryCache) Ping(context.Context) error {
	return nil
}

// Close stops the cleanup goroutine
func (m *MemoryCache) Close() error {
	m.stopOnce.Do(func() { close(m.stopCleanup) })
	return nil
}

func (m *MemoryCache) cleanupLoop() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Cleanup()
		case <-m.stopCleanup:
			return
		}
	}
}
