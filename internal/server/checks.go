package server

import (
	"context"

	"github.com/hfi/token-broker/internal/secret"
)

// SecretSnapshotter exposes the stored secret without triggering a refresh
type SecretSnapshotter interface {
	Snapshot() (*secret.Record, bool)
}

// Pinger reports backend reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// SecretCheck fails while only the embedded secret is available
func SecretCheck(s SecretSnapshotter) HealthChecker {
	return func(context.Context) (bool, string) {
		if _, ok := s.Snapshot(); !ok {
			return false, "serving embedded fallback secret"
		}
		return true, ""
	}
}

// PingCheck fails when p cannot be reached
func PingCheck(p Pinger) HealthChecker {
	return func(ctx context.Context) (bool, string) {
		if err := p.Ping(ctx); err != nil {
			return false, err.Error()
		}
		return true, ""
	}
}

// SessionCheck fails when the challenge flow has no session secret
func SessionCheck(configured bool) HealthChecker {
	return func(context.Context) (bool, string) {
		if !configured {
			return false, "session secret not configured"
		}
		return true, ""
	}
}
