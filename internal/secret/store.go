package secret

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"go.uber.org/atomic"
	"golang.org/x/sync/singleflight"

	"github.com/hfi/token-broker/internal/clock"
	"github.com/hfi/token-broker/internal/metrics"
)

// ErrCoolingDown is attached to stale or default results served without a
// fetch attempt because a recent refresh failed
var ErrCoolingDown = errors.New("secret refresh cooling down after failure")

// Notifier is told about secret rotations and fallback to the embedded secret
type Notifier interface {
	NotifyRotation(record *Record)
	NotifyError(err error)
}

// Options configures a Store
type Options struct {
	// RefreshInterval is how long a fetched record is served without refetching
	RefreshInterval time.Duration
	// Timeout bounds one refresh including retries
	Timeout time.Duration
	// FetchRetries is the number of retries after the first attempt
	FetchRetries uint64
	// RetryBaseDelay is the first exponential backoff step
	RetryBaseDelay time.Duration
	// FailureCooldown suppresses fetch attempts after a failed refresh
	FailureCooldown time.Duration

	Clock    clock.Clock
	Notifier Notifier
	Logger   zerolog.Logger
}

// DefaultOptions returns the production defaults
func DefaultOptions() Options {
	return Options{
		RefreshInterval: time.Hour,
		Timeout:         10 * time.Second,
		FetchRetries:    2,
		RetryBaseDelay:  200 * time.Millisecond,
		FailureCooldown: time.Minute,
		Logger:          zerolog.Nop(),
	}
}

// Store serves the current secret record. It never fails: callers always get
// a usable record tagged with its source.
type Store struct {
	fetcher     Fetcher
	opts        Options
	clock       clock.Clock
	current     *atomic.Pointer[Record]
	lastFailure *atomic.Time
	group       singleflight.Group
	notify      *dispatcher
	logger      zerolog.Logger
}

// NewStore creates a store backed by fetcher
func NewStore(fetcher Fetcher, opts Options) *Store {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = time.Hour
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 200 * time.Millisecond
	}

	s := &Store{
		fetcher:     fetcher,
		opts:        opts,
		clock:       opts.Clock,
		current:     atomic.NewPointer[Record](nil),
		lastFailure: atomic.NewTime(time.Time{}),
		logger:      opts.Logger.With().Str("component", "secret_store").Logger(),
	}
	if opts.Notifier != nil {
		s.notify = newDispatcher(opts.Notifier, s.logger)
	}
	return s
}

// Close flushes pending notifications. The store keeps serving records afterwards
// but no longer notifies.
func (s *Store) Close() {
	if s.notify != nil {
		s.notify.close()
	}
}

// Current returns the secret record to use now
func (s *Store) Current(ctx context.Context) Resolution {
	res := s.resolve(ctx)
	metrics.RecordSecretSource(string(res.Source))
	return res
}

// Snapshot returns the last fetched record without triggering a refresh
func (s *Store) Snapshot() (*Record, bool) {
	rec := s.current.Load()
	return rec, rec != nil
}

// Invalidate forces the next Current call to refetch, keeping the old record as a stale fallback
func (s *Store) Invalidate() {
	rec := s.current.Load()
	if rec == nil {
		return
	}
	expired := *rec
	expired.FetchedAt = time.Time{}
	s.current.CompareAndSwap(rec, &expired)
	s.lastFailure.Store(time.Time{})
}

func (s *Store) resolve(ctx context.Context) Resolution {
	now := s.clock.Now()
	rec := s.current.Load()
	if s.fresh(rec, now) {
		return Resolution{Record: rec, Source: SourceCached}
	}

	if last := s.lastFailure.Load(); !last.IsZero() && now.Sub(last) < s.opts.FailureCooldown {
		return degrade(rec, ErrCoolingDown)
	}

	v, _, _ := s.group.Do("refresh", func() (any, error) {
		return s.refresh(ctx), nil
	})
	return v.(Resolution)
}

func (s *Store) fresh(rec *Record, now time.Time) bool {
	return rec != nil && !rec.FetchedAt.IsZero() && now.Sub(rec.FetchedAt) < s.opts.RefreshInterval
}

func (s *Store) refresh(ctx context.Context) Resolution {
	prev := s.current.Load()
	if s.fresh(prev, s.clock.Now()) {
		return Resolution{Record: prev, Source: SourceCached}
	}

	// shared by all waiters, detached from the caller that started it
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.Timeout)
	defer cancel()

	start := time.Now()
	next, err := s.fetch(fetchCtx)
	metrics.RecordUpstreamDuration("secrets", time.Since(start).Seconds())

	if err != nil {
		s.lastFailure.Store(s.clock.Now())
		res := degrade(prev, err)

		s.logger.Warn().Err(err).
			Str("source", string(res.Source)).
			Str("version", res.Record.Version).
			Msg("secret refresh failed, serving fallback")

		if res.Source == SourceDefault && s.notify != nil {
			s.notify.enqueue(notification{
				err: fmt.Errorf("secret refresh failed, embedded secret version %s in use: %w", res.Record.Version, err),
			})
		}
		return res
	}

	s.lastFailure.Store(time.Time{})
	s.current.Store(next)

	if prev == nil || prev.Version != next.Version {
		s.logger.Info().Str("version", next.Version).Msg("secret version updated")
		if s.notify != nil {
			s.notify.enqueue(notification{record: next})
		}
	}

	return Resolution{Record: next, Source: SourceFresh}
}

func (s *Store) fetch(ctx context.Context) (*Record, error) {
	backoff := retry.WithMaxRetries(s.opts.FetchRetries, retry.NewExponential(s.opts.RetryBaseDelay))

	var dict Dictionary
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		d, err := s.fetcher.Fetch(ctx)
		if err != nil {
			if retryable(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		dict = d
		return nil
	})
	if err != nil {
		return nil, err
	}

	return Derive(dict, s.clock.Now())
}

// retryable reports whether a fetch error is worth another attempt
func retryable(err error) bool {
	var malformed *MalformedError
	if errors.As(err, &malformed) {
		return false
	}
	var status *StatusError
	if errors.As(err, &status) {
		return status.Temporary()
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// degrade picks the stale record if one exists, else the embedded one
func degrade(prev *Record, cause error) Resolution {
	if prev != nil {
		return Resolution{Record: prev, Source: SourceStale, Err: cause}
	}
	return Resolution{Record: Fallback(), Source: SourceDefault, Err: cause}
}
