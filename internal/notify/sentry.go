package notify

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/hfi/token-broker/internal/secret"
)

const sentryFlushTimeout = 2 * time.Second

// SentryNotifier reports to Sentry through its own hub
type SentryNotifier struct {
	hub *sentry.Hub
}

// NewSentryNotifier returns nil without error when opts.Dsn is empty
func NewSentryNotifier(opts sentry.ClientOptions) (*SentryNotifier, error) {
	if opts.Dsn == "" {
		return nil, nil
	}

	client, err := sentry.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize sentry: %w", err)
	}

	return &SentryNotifier{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

// NotifyRotation records the new secret version
func (s *SentryNotifier) NotifyRotation(record *secret.Record) {
	if s == nil || record == nil {
		return
	}
	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelInfo)
		scope.SetTag("secret_version", record.Version)
		s.hub.CaptureMessage(fmt.Sprintf("challenge secret rotated to version %s", record.Version))
	})
	s.hub.Flush(sentryFlushTimeout)
}

// NotifyError reports a refresh failure
func (s *SentryNotifier) NotifyError(err error) {
	if s == nil || err == nil {
		return
	}
	s.hub.CaptureException(err)
	s.hub.Flush(sentryFlushTimeout)
}
