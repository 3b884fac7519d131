// Package broker mints upstream credentials, either by solving the time-based
// challenge or by forwarding the caller's request to a token proxy.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hfi/token-broker/internal/audit"
	"github.com/hfi/token-broker/internal/clock"
	"github.com/hfi/token-broker/internal/metrics"
	"github.com/hfi/token-broker/internal/secret"
	"github.com/hfi/token-broker/internal/timesync"
	"github.com/hfi/token-broker/internal/totp"
)

// maxBodySize caps upstream bodies read into memory
const maxBodySize = 1 << 20

// Flow selects how a credential is obtained
type Flow string

const (
	// FlowChallenge solves the one-time code challenge against the token endpoint
	FlowChallenge Flow = "challenge"
	// FlowProxy forwards the caller's query to the proxy endpoint
	FlowProxy Flow = "proxy"
)

// Default challenge parameters, overridable per request
const (
	DefaultReason      = "transport"
	DefaultProductType = "web-player"
)

// SecretSource resolves the current challenge secret
type SecretSource interface {
	Current(ctx context.Context) secret.Resolution
}

// TimeSource reads authoritative time for the session
type TimeSource interface {
	Sync(ctx context.Context, session string) timesync.Result
}

// Request is one mint request
type Request struct {
	Flow Flow
	// Query holds the caller's query parameters
	Query url.Values
	// Authorization is forwarded by the proxy flow when set
	Authorization string
	// RequestID correlates audit events
	RequestID string
}

// Credential is the token issued by the challenge flow
type Credential struct {
	AccessToken string
	// ExpiresAt is zero when the upstream did not declare an expiry
	ExpiresAt time.Time
}

// Result is a completed upstream exchange. Body is the upstream body as received.
type Result struct {
	Flow        Flow
	Status      int
	ContentType string
	Body        []byte

	// Challenge flow only
	Credential    *Credential
	SecretVersion string
	SecretSource  secret.Source
	RemoteTime    bool
}

// Options configures a Client
type Options struct {
	TokenURL      string
	ProxyURL      string
	CookieName    string
	SessionSecret string
	UserAgent     string
	TokenTimeout  time.Duration
	ProxyTimeout  time.Duration

	HTTPClient *http.Client
	Clock      clock.Clock
	Auditor    audit.Auditor
	Logger     zerolog.Logger
}

// Client is the credential client
type Client struct {
	opts    Options
	secrets SecretSource
	times   TimeSource
	http    *http.Client
	clock   clock.Clock
	auditor audit.Auditor
	logger  zerolog.Logger
}

// NewClient creates a Client
func NewClient(secrets SecretSource, ts TimeSource, opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Auditor == nil {
		opts.Auditor = audit.NewNopLogger()
	}
	if opts.CookieName == "" {
		opts.CookieName = "sp_dc"
	}
	if opts.TokenTimeout <= 0 {
		opts.TokenTimeout = 15 * time.Second
	}
	if opts.ProxyTimeout <= 0 {
		opts.ProxyTimeout = 15 * time.Second
	}

	return &Client{
		opts:    opts,
		secrets: secrets,
		times:   ts,
		http:    opts.HTTPClient,
		clock:   opts.Clock,
		auditor: opts.Auditor,
		logger:  opts.Logger.With().Str("component", "broker").Logger(),
	}
}

// Mint obtains a credential using req.Flow. Failures are returned as *Error.
func (c *Client) Mint(ctx context.Context, req Request) (*Result, error) {
	var (
		res *Result
		err error
	)

	switch req.Flow {
	case FlowProxy:
		res, err = c.proxy(ctx, req)
	case FlowChallenge, "":
		req.Flow = FlowChallenge
		res, err = c.challenge(ctx, req)
	default:
		err = configError(fmt.Errorf("unknown flow %q", req.Flow))
	}

	c.observe(req, res, err)
	return res, err
}

func (c *Client) observe(req Request, res *Result, err error) {
	flow := string(req.Flow)

	if err != nil {
		e := AsError(err)
		metrics.RecordMint(flow, e.Kind.String())

		eventType := audit.EventUpstreamError
		if e.Kind == KindConfig {
			eventType = audit.EventConfigError
		}
		c.auditor.LogError(eventType, req.RequestID, flow, e.StatusCode(), e.Error())
		c.logger.Warn().Err(err).Str("flow", flow).Str("kind", e.Kind.String()).Int("status", e.StatusCode()).Msg("mint failed")
		return
	}

	if res.Status < 200 || res.Status > 299 {
		metrics.RecordMint(flow, KindRejected.String())
		c.auditor.LogError(audit.EventUpstreamError, req.RequestID, flow, res.Status, "upstream returned non-success status")
		return
	}
	metrics.RecordMint(flow, "ok")
}

func (c *Client) challenge(ctx context.Context, req Request) (*Result, error) {
	if c.opts.SessionSecret == "" {
		return nil, configError(ErrMissingSessionSecret)
	}

	resolution := c.secrets.Current(ctx)
	rec := resolution.Record
	if resolution.Source == secret.SourceStale || resolution.Source == secret.SourceDefault {
		msg := ""
		if resolution.Err != nil {
			msg = resolution.Err.Error()
		}
		c.auditor.LogSecretFallback(req.RequestID, string(resolution.Source), msg)
	}

	localEpoch := c.clock.Now().Unix()
	synced := c.times.Sync(ctx, c.opts.SessionSecret)
	if !synced.Remote {
		msg := ""
		if synced.Err != nil {
			msg = synced.Err.Error()
		}
		c.auditor.LogTimeFallback(req.RequestID, msg)
	}

	secretHex := rec.Hex()
	localCode, err := totp.Generate(secretHex, localEpoch)
	if err != nil {
		return nil, malformed(fmt.Errorf("generate local code: %w", err))
	}
	serverCode, err := totp.Generate(secretHex, synced.EpochSeconds)
	if err != nil {
		return nil, malformed(fmt.Errorf("generate server code: %w", err))
	}

	u, err := url.Parse(c.opts.TokenURL)
	if err != nil {
		return nil, configError(fmt.Errorf("parse token url: %w", err))
	}
	q := u.Query()
	q.Set("reason", firstOr(req.Query, "reason", DefaultReason))
	q.Set("productType", firstOr(req.Query, "productType", DefaultProductType))
	q.Set("totp", localCode)
	q.Set("totpVer", rec.Version)
	q.Set("totpServer", serverCode)
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(ctx, c.opts.TokenTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, configError(fmt.Errorf("build token request: %w", err))
	}
	httpReq.Header.Set("Accept", "application/json")
	if c.opts.UserAgent != "" {
		httpReq.Header.Set("User-Agent", c.opts.UserAgent)
	}
	httpReq.AddCookie(&http.Cookie{Name: c.opts.CookieName, Value: c.opts.SessionSecret})

	status, contentType, body, err := c.do(httpReq, "token")
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, rejected(status, contentType, body)
	}

	cred, err := parseCredential(body)
	if err != nil {
		return nil, malformed(err)
	}

	c.logger.Debug().
		Str("secret_version", rec.Version).
		Str("secret_source", string(resolution.Source)).
		Bool("remote_time", synced.Remote).
		Msg("credential minted")

	return &Result{
		Flow:          FlowChallenge,
		Status:        status,
		ContentType:   "application/json",
		Body:          body,
		Credential:    cred,
		SecretVersion: rec.Version,
		SecretSource:  resolution.Source,
		RemoteTime:    synced.Remote,
	}, nil
}

func (c *Client) proxy(ctx context.Context, req Request) (*Result, error) {
	u, err := url.Parse(c.opts.ProxyURL)
	if err != nil {
		return nil, configError(fmt.Errorf("parse proxy url: %w", err))
	}
	q := u.Query()
	for k, vs := range req.Query {
		q.Set(k, strings.Join(vs, ","))
	}
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(ctx, c.opts.ProxyTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, configError(fmt.Errorf("build proxy request: %w", err))
	}
	if req.Authorization != "" {
		httpReq.Header.Set("Authorization", req.Authorization)
	}
	httpReq.Header.Set("Cache-Control", "no-store")
	httpReq.Header.Set("Pragma", "no-cache")

	status, contentType, body, err := c.do(httpReq, "proxy")
	if err != nil {
		return nil, err
	}

	return &Result{
		Flow:        FlowProxy,
		Status:      status,
		ContentType: contentType,
		Body:        body,
	}, nil
}

// do performs one request and reads the whole body. Transport and read
// failures are classified as unreachable; a body over maxBodySize is malformed
// and never forwarded in part.
func (c *Client) do(req *http.Request, target string) (int, string, []byte, error) {
	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.RecordUpstreamDuration(target, time.Since(start).Seconds())
	if err != nil {
		return 0, "", nil, unreachable(fmt.Errorf("%s request: %w", target, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return 0, "", nil, unreachable(fmt.Errorf("read %s response: %w", target, err))
	}
	if len(body) > maxBodySize {
		return 0, "", nil, malformed(fmt.Errorf("%s response: %w", target, ErrBodyTooLarge))
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain; charset=utf-8"
	}
	return resp.StatusCode, contentType, body, nil
}

type tokenResponse struct {
	AccessToken string `json:"accessToken"`
	ExpiresMs   int64  `json:"accessTokenExpirationTimestampMs"`
}

func parseCredential(body []byte) (*Credential, error) {
	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return nil, errors.New("token response missing accessToken")
	}

	cred := &Credential{AccessToken: tr.AccessToken}
	if tr.ExpiresMs > 0 {
		cred.ExpiresAt = time.UnixMilli(tr.ExpiresMs)
	}
	return cred, nil
}

func firstOr(q url.Values, key, def string) string {
	if v := q.Get(key); v != "" {
		return v
	}
	return def
}
