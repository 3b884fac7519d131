// Package storage holds the response cache used to avoid re-minting
// credentials for the same caller within their validity window.
package storage

import (
	"context"
	"time"
)

// Entry is an immutable cached payload. Entries are replaced whole, never edited.
type Entry struct {
	Key       string    `json:"key"`
	Payload   []byte    `json:"payload"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Remaining returns the time left before expiry at now, never negative
func (e *Entry) Remaining(now time.Time) time.Duration {
	d := e.ExpiresAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// Cache defines the response cache contract
type Cache interface {
	// Get returns the live entry for key. Expired entries are dropped and reported as a miss.
	Get(ctx context.Context, key string) (*Entry, bool)

	// Put stores payload under key for ttl. A non-positive ttl stores nothing.
	Put(ctx context.Context, key string, payload []byte, ttl time.Duration) error

	// Invalidate removes key
	Invalidate(ctx context.Context, key string) error

	// Cleanup removes all expired entries
	Cleanup() error

	// Size returns the number of stored entries
	Size() int

	// Ping reports whether the backend is reachable
	Ping(ctx context.Context) error

	// Close releases any resources
	Close() error
}
