// Package api is the public HTTP surface of the broker
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/hfi/token-broker/internal/audit"
	"github.com/hfi/token-broker/internal/broker"
	"github.com/hfi/token-broker/internal/clock"
	"github.com/hfi/token-broker/internal/metrics"
	"github.com/hfi/token-broker/internal/storage"
)

// Route paths
const (
	PathToken      = "/api/token"
	PathProxyToken = "/api/proxy/token"
)

// Minter obtains credentials
type Minter interface {
	Mint(ctx context.Context, req broker.Request) (*broker.Result, error)
}

// Options configures the API
type Options struct {
	Minter  Minter
	Cache   storage.Cache
	Clock   clock.Clock
	Auditor audit.Auditor
	Logger  zerolog.Logger

	// DefaultTTL applies when a credential declares no expiry
	DefaultTTL time.Duration
	// SafetyMargin is subtracted from a declared expiry
	SafetyMargin time.Duration
}

// API serves credential requests
type API struct {
	minter       Minter
	cache        storage.Cache
	clock        clock.Clock
	auditor      audit.Auditor
	logger       zerolog.Logger
	defaultTTL   time.Duration
	safetyMargin time.Duration
	handler      http.Handler
}

// New builds the API and its routes
func New(opts Options) *API {
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Auditor == nil {
		opts.Auditor = audit.NewNopLogger()
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 5 * time.Minute
	}

	a := &API{
		minter:       opts.Minter,
		cache:        opts.Cache,
		clock:        opts.Clock,
		auditor:      opts.Auditor,
		logger:       opts.Logger.With().Str("component", "api").Logger(),
		defaultTTL:   opts.DefaultTTL,
		safetyMargin: opts.SafetyMargin,
	}

	hr := &httprouter.Router{
		RedirectTrailingSlash:  true,
		RedirectFixedPath:      true,
		HandleMethodNotAllowed: true,
		HandleOPTIONS:          true,
		NotFound: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			writeFailure(w, http.StatusNotFound, "Not Found")
		}),
		MethodNotAllowed: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			writeFailure(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		}),
		GlobalOPTIONS: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}),
	}
	hr.GET(PathToken, a.handleToken)
	hr.GET(PathProxyToken, a.handleProxyToken)

	withCORS := cors.New(cors.Options{
		AllowedOrigins:       []string{"*"},
		AllowedMethods:       []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders:       []string{"Content-Type", "Authorization"},
		ExposedHeaders:       []string{HeaderRequestID},
		OptionsSuccessStatus: http.StatusOK,
	}).Handler(hr)

	a.handler = Chain(withCORS,
		middlewareNoStore,
		middlewareRequestID,
		middlewareRecoverer(a.logger),
		middlewareIP,
	)

	return a
}

// ServeHTTP implements http.Handler
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.handler.ServeHTTP(w, r)
}

// handleToken serves the challenge flow through the response cache
func (a *API) handleToken(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx := r.Context()
	reqID := RequestID(ctx)
	key := r.RemoteAddr
	query := r.URL.Query()

	if query.Get("refresh") == "true" {
		if err := a.cache.Invalidate(ctx, key); err != nil {
			a.logger.Warn().Err(err).Msg("cache invalidate failed")
		}
	} else if entry, ok := a.cache.Get(ctx, key); ok {
		metrics.RecordCacheLookup(true)
		a.auditor.LogCacheHit(reqID, key)

		remaining := entry.Remaining(a.clock.Now())
		body := annotate(entry.Payload, map[string]any{
			"source":             "cache",
			"expires_in_seconds": int64(remaining / time.Second),
		})
		writeRaw(w, http.StatusOK, "application/json", body)
		return
	} else {
		metrics.RecordCacheLookup(false)
	}
	query.Del("refresh")

	start := time.Now()
	res, err := a.minter.Mint(ctx, broker.Request{
		Flow:      broker.FlowChallenge,
		Query:     query,
		RequestID: reqID,
	})
	if err != nil {
		a.writeMintError(w, err)
		return
	}

	if err := a.cache.Put(ctx, key, res.Body, a.ttl(res)); err != nil {
		a.logger.Warn().Err(err).Msg("cache put failed")
	}

	a.auditor.LogMinted(reqID, string(res.Flow), key, res.SecretVersion, string(res.SecretSource),
		float64(time.Since(start).Milliseconds()))

	writeRaw(w, res.Status, "application/json", annotate(res.Body, map[string]any{"source": "live"}))
}

// handleProxyToken serves the direct-proxy flow. Results are never cached.
func (a *API) handleProxyToken(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	reqID := RequestID(r.Context())

	start := time.Now()
	res, err := a.minter.Mint(r.Context(), broker.Request{
		Flow:          broker.FlowProxy,
		Query:         r.URL.Query(),
		Authorization: r.Header.Get("Authorization"),
		RequestID:     reqID,
	})
	if err != nil {
		a.writeMintError(w, err)
		return
	}

	if res.Status >= 200 && res.Status <= 299 {
		a.auditor.LogMinted(reqID, string(res.Flow), r.RemoteAddr, "", "",
			float64(time.Since(start).Milliseconds()))
	}

	writeRaw(w, res.Status, res.ContentType, res.Body)
}

// ttl derives the cache lifetime of a challenge result
func (a *API) ttl(res *broker.Result) time.Duration {
	if res.Credential == nil || res.Credential.ExpiresAt.IsZero() {
		return a.defaultTTL
	}
	return res.Credential.ExpiresAt.Sub(a.clock.Now()) - a.safetyMargin
}

func (a *API) writeMintError(w http.ResponseWriter, err error) {
	e := broker.AsError(err)
	if e.Kind == broker.KindRejected {
		writeRaw(w, e.StatusCode(), e.ContentType, e.Body)
		return
	}
	writeFailure(w, e.StatusCode(), e.Error())
}
