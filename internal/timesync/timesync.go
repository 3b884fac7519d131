// Package timesync reads authoritative time from the upstream so one-time
// codes can be computed against the server's clock rather than ours.
package timesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/hfi/token-broker/internal/clock"
	"github.com/hfi/token-broker/internal/metrics"
)

// Result is the outcome of one synchronization
type Result struct {
	// EpochSeconds is remote time when Remote is true, else local time
	EpochSeconds int64
	// Remote reports whether the value came from the upstream
	Remote bool
	// Offset is remote minus local at the moment of synchronization; zero on fallback
	Offset time.Duration
	// Err is the cause of falling back to the local clock
	Err error
}

// Synchronizer fetches remote time with a single bounded attempt
type Synchronizer struct {
	client     *http.Client
	url        string
	cookieName string
	timeout    time.Duration
	userAgent  string
	clock      clock.Clock
	logger     zerolog.Logger
}

// Options configures a Synchronizer
type Options struct {
	URL        string
	CookieName string
	UserAgent  string
	Timeout    time.Duration
	Client     *http.Client
	Clock      clock.Clock
	Logger     zerolog.Logger
}

// New creates a Synchronizer
func New(opts Options) *Synchronizer {
	if opts.Client == nil {
		opts.Client = http.DefaultClient
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &Synchronizer{
		client:     opts.Client,
		url:        opts.URL,
		cookieName: opts.CookieName,
		timeout:    opts.Timeout,
		userAgent:  opts.UserAgent,
		clock:      opts.Clock,
		logger:     opts.Logger.With().Str("component", "timesync").Logger(),
	}
}

type serverTimeResponse struct {
	ServerTime *int64 `json:"serverTime"`
}

// Sync returns remote epoch seconds, or local epoch seconds on any failure.
// It never returns an error; the cause of a fallback is carried in Result.Err.
func (s *Synchronizer) Sync(ctx context.Context, session string) Result {
	local := s.clock.Now()

	remoteMs, err := s.fetch(ctx, session)
	if err != nil {
		metrics.TimeSyncFallbacksTotal.Inc()
		s.logger.Warn().Err(err).Msg("time sync failed, using local clock")
		return Result{EpochSeconds: local.Unix(), Err: err}
	}

	remote := time.UnixMilli(remoteMs)
	return Result{
		EpochSeconds: remote.Unix(),
		Remote:       true,
		Offset:       remote.Sub(local),
	}
}

// EpochSeconds is Sync reduced to the timestamp
func (s *Synchronizer) EpochSeconds(ctx context.Context, session string) int64 {
	return s.Sync(ctx, session).EpochSeconds
}

func (s *Synchronizer) fetch(ctx context.Context, session string) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return 0, fmt.Errorf("build time request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if s.userAgent != "" {
		req.Header.Set("User-Agent", s.userAgent)
	}
	if session != "" {
		req.AddCookie(&http.Cookie{Name: s.cookieName, Value: session})
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	metrics.RecordUpstreamDuration("time", time.Since(start).Seconds())
	if err != nil {
		return 0, fmt.Errorf("fetch server time: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("server time returned status %d", resp.StatusCode)
	}

	var body serverTimeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode server time: %w", err)
	}
	if body.ServerTime == nil {
		return 0, errors.New("server time response missing serverTime")
	}
	if *body.ServerTime <= 0 {
		return 0, fmt.Errorf("server time out of range: %d", *body.ServerTime)
	}

	return *body.ServerTime, nil
}
