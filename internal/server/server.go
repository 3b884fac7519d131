// Package server provides the management endpoints: metrics, health, readiness and liveness.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// checkTimeout bounds a single health check
const checkTimeout = 2 * time.Second

// HealthStatus represents the health status of the server
type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version,omitempty"`
	Uptime    string            `json:"uptime,omitempty"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthChecker is a function that checks component health
type HealthChecker func(ctx context.Context) (ok bool, message string)

type check struct {
	fn HealthChecker
	// critical checks gate readiness; others only degrade /health
	critical bool
}

// Server provides HTTP endpoints for metrics and health
type Server struct {
	mu        sync.RWMutex
	server    *http.Server
	mux       *http.ServeMux
	checks    map[string]check
	startTime time.Time
	version   string
}

// Config holds management server configuration
type Config struct {
	// Addr is the address to listen on (e.g., ":9090")
	Addr string `yaml:"addr"`

	// MetricsPath is the path for Prometheus metrics
	MetricsPath string `yaml:"metrics_path"`

	// HealthPath is the path for health checks
	HealthPath string `yaml:"health_path"`

	// ReadyPath is the path for readiness checks
	ReadyPath string `yaml:"ready_path"`

	// LivePath is the path for liveness checks
	LivePath string `yaml:"live_path"`

	// Version is the application version
	Version string `yaml:"-"`
}

// DefaultConfig returns the default server configuration
func DefaultConfig() *Config {
	return &Config{
		Addr:        ":9090",
		MetricsPath: "/metrics",
		HealthPath:  "/health",
		ReadyPath:   "/ready",
		LivePath:    "/live",
		Version:     "dev",
	}
}

// New creates a new management server
func New(cfg *Config) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	s := &Server{
		mux:       http.NewServeMux(),
		checks:    make(map[string]check),
		startTime: time.Now(),
		version:   cfg.Version,
	}

	s.mux.Handle(cfg.MetricsPath, promhttp.Handler())
	s.mux.HandleFunc(cfg.HealthPath, s.healthHandler)
	s.mux.HandleFunc(cfg.ReadyPath, s.readyHandler)
	s.mux.HandleFunc(cfg.LivePath, s.liveHandler)

	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.mux,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}

	return s
}

// RegisterHealthCheck registers a check reported by /health. A failure marks
// the service degraded but keeps it ready.
func (s *Server) RegisterHealthCheck(name string, checker HealthChecker) {
	s.register(name, checker, false)
}

// RegisterReadinessCheck registers a check that must pass for /ready and /health
func (s *Server) RegisterReadinessCheck(name string, checker HealthChecker) {
	s.register(name, checker, true)
}

func (s *Server) register(name string, checker HealthChecker, critical bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[name] = check{fn: checker, critical: critical}
}

// Start starts the management server
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop gracefully shuts down the server
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) run(ctx context.Context, c check) (bool, string) {
	ctx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()
	return c.fn(ctx)
}

// healthHandler returns detailed health status
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := &HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   s.version,
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Checks:    make(map[string]string),
	}

	code := http.StatusOK
	for name, c := range s.checks {
		ok, msg := s.run(r.Context(), c)
		if ok {
			status.Checks[name] = "ok"
			continue
		}

		status.Checks[name] = msg
		if c.critical {
			status.Status = "unhealthy"
			code = http.StatusServiceUnavailable
		} else if status.Status == "healthy" {
			status.Status = "degraded"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(status); err != nil {
		return
	}
}

// readyHandler indicates if the service is ready to receive traffic
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.checks))
	for name, c := range s.checks {
		if c.critical {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	for _, name := range names {
		if ok, _ := s.run(r.Context(), s.checks[name]); !ok {
			w.WriteHeader(http.StatusServiceUnavailable)
			if _, err := fmt.Fprintf(w, "not ready: %s check failed", name); err != nil {
				return
			}
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ready")); err != nil {
		// Connection closed, nothing we can do
		return
	}
}

// liveHandler indicates if the service is alive
func (s *Server) liveHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("alive")); err != nil {
		// Connection closed, nothing we can do
		return
	}
}

// Handler returns the HTTP handler for testing
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Addr returns the server address
func (s *Server) Addr() string {
	return s.server.Addr
}
