package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/hfi/token-broker/internal/api"
	"github.com/hfi/token-broker/internal/audit"
	"github.com/hfi/token-broker/internal/broker"
	"github.com/hfi/token-broker/internal/clock"
	"github.com/hfi/token-broker/internal/config"
	"github.com/hfi/token-broker/internal/metrics"
	"github.com/hfi/token-broker/internal/notify"
	"github.com/hfi/token-broker/internal/secret"
	"github.com/hfi/token-broker/internal/server"
	"github.com/hfi/token-broker/internal/storage"
	"github.com/hfi/token-broker/internal/timesync"
)

var (
	// Version information - set at build time
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Printf("Token Broker %s\n", Version)
		fmt.Printf("Git Commit: %s\n", GitCommit)
		fmt.Printf("Build Time: %s\n", BuildTime)
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging, os.Stdout)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("token broker stopped with error")
		stop()
		os.Exit(1)
	}
}

func newLogger(cfg config.LoggingConfig, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).Level(level).With().
		Timestamp().
		Str("service", "token-broker").
		Logger()
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	clk := clock.New()

	auditor, err := newAuditor(cfg.Logging.Audit)
	if err != nil {
		return fmt.Errorf("audit logger: %w", err)
	}
	defer auditor.Close()

	notifier, err := newNotifier(cfg.Notify, auditor, logger)
	if err != nil {
		return err
	}

	cache, err := newCache(ctx, cfg.Cache, clk)
	if err != nil {
		return err
	}
	defer cache.Close()

	// only the memory cache knows its size without scanning the backend
	if mc, ok := cache.(*storage.MemoryCache); ok {
		if err := prometheus.Register(metrics.NewCacheSizeCollector(mc.Size)); err != nil {
			logger.Warn().Err(err).Msg("cache size metric not registered")
		}
	}

	httpClient := &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}

	store := newStore(cfg, httpClient, clk, notifier, logger)
	defer store.Close()

	synchronizer := timesync.New(timesync.Options{
		URL:        cfg.Upstream.ServerTimeURL,
		CookieName: cfg.Upstream.CookieName,
		UserAgent:  cfg.Upstream.UserAgent,
		Timeout:    cfg.Upstream.TimeSyncTimeout,
		Client:     httpClient,
		Clock:      clk,
		Logger:     logger,
	})

	client := broker.NewClient(store, synchronizer, broker.Options{
		TokenURL:      cfg.Upstream.TokenURL,
		ProxyURL:      cfg.Upstream.ProxyURL,
		CookieName:    cfg.Upstream.CookieName,
		SessionSecret: cfg.Upstream.SessionSecret,
		UserAgent:     cfg.Upstream.UserAgent,
		TokenTimeout:  cfg.Upstream.TokenTimeout,
		ProxyTimeout:  cfg.Upstream.ProxyTimeout,
		HTTPClient:    httpClient,
		Clock:         clk,
		Auditor:       auditor,
		Logger:        logger,
	})

	handler := api.New(api.Options{
		Minter:       client,
		Cache:        cache,
		Clock:        clk,
		Auditor:      auditor,
		Logger:       logger,
		DefaultTTL:   cfg.Cache.DefaultTTL,
		SafetyMargin: cfg.Cache.SafetyMargin,
	})

	warm := store.Current(ctx)
	logger.Info().
		Str("version", warm.Record.Version).
		Str("source", string(warm.Source)).
		Msg("secret store initialized")

	if cfg.Upstream.SessionSecret == "" {
		logger.Warn().Msg("SP_DC is not set, the challenge flow will answer with configuration errors")
	}

	apiServer := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	var mgmt *server.Server
	if cfg.Management.Enabled {
		mgmt = server.New(&server.Config{
			Addr:        cfg.Management.Addr,
			MetricsPath: cfg.Management.MetricsPath,
			HealthPath:  cfg.Management.HealthPath,
			ReadyPath:   cfg.Management.ReadyPath,
			LivePath:    cfg.Management.LivePath,
			Version:     Version,
		})
		mgmt.RegisterReadinessCheck("cache", server.PingCheck(cache))
		mgmt.RegisterHealthCheck("secret", server.SecretCheck(store))
		mgmt.RegisterHealthCheck("session", server.SessionCheck(cfg.Upstream.SessionSecret != ""))
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info().Str("addr", apiServer.Addr).Str("version", Version).Msg("token api listening")
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("api server: %w", err)
		}
	}()
	if mgmt != nil {
		go func() {
			logger.Info().Str("addr", mgmt.Addr()).Msg("management server listening")
			if err := mgmt.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("management server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case runErr = <-errCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	errs := []error{runErr}
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("api shutdown: %w", err))
	}
	if mgmt != nil {
		if err := mgmt.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("management shutdown: %w", err))
		}
	}

	logger.Info().Msg("token broker stopped")
	return errors.Join(errs...)
}

func newAuditor(cfg config.AuditConfig) (audit.Auditor, error) {
	if !cfg.Enabled {
		return audit.NewNopLogger(), nil
	}
	return audit.NewLogger(&audit.Config{
		Enabled:              cfg.Enabled,
		Level:                cfg.Level,
		Output:               cfg.Output,
		Format:               cfg.Format,
		IncludeClientAddress: cfg.IncludeClientAddress,
	})
}

func newNotifier(cfg config.NotifyConfig, auditor audit.Auditor, logger zerolog.Logger) (*notify.Multi, error) {
	notifiers := []secret.Notifier{audit.SecretNotifier{Auditor: auditor}}

	sn, err := notify.NewSentryNotifier(sentry.ClientOptions{
		Dsn:     cfg.SentryDSN,
		Release: "token-broker@" + Version,
	})
	if err != nil {
		return nil, err
	}
	if sn != nil {
		notifiers = append(notifiers, sn)
	}

	if sl := notify.NewSlackNotifier(cfg.SlackToken, cfg.SlackChannel, logger); sl != nil {
		notifiers = append(notifiers, sl)
	}

	return notify.NewMulti(notifiers...), nil
}

// newStore builds the secret store; it tags its own log component
func newStore(cfg *config.Config, client *http.Client, clk clock.Clock, n secret.Notifier, logger zerolog.Logger) *secret.Store {
	return secret.NewStore(
		secret.NewHTTPFetcher(client, cfg.Upstream.SecretsURL, cfg.Upstream.UserAgent),
		secret.Options{
			RefreshInterval: cfg.Secrets.RefreshInterval,
			Timeout:         cfg.Upstream.SecretsTimeout,
			FetchRetries:    cfg.Secrets.FetchRetries,
			RetryBaseDelay:  cfg.Secrets.RetryBaseDelay,
			FailureCooldown: cfg.Secrets.FailureCooldown,
			Clock:           clk,
			Notifier:        n,
			Logger:          logger,
		},
	)
}

func newCache(ctx context.Context, cfg config.CacheConfig, clk clock.Clock) (storage.Cache, error) {
	switch cfg.Type {
	case "redis":
		c, err := storage.NewRedisCache(ctx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix, clk)
		if err != nil {
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		return c, nil
	default:
		return storage.NewMemoryCache(clk, cfg.CleanupInterval), nil
	}
}
