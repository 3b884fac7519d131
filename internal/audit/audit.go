package audit

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// EventType represents the type of audit event
type EventType string

const (
	EventCredentialMinted EventType = "credential_minted"
	EventCacheHit         EventType = "cache_hit"
	EventSecretRefreshed  EventType = "secret_refreshed"
	EventSecretFallback   EventType = "secret_fallback"
	EventTimeFallback     EventType = "time_fallback"
	EventUpstreamError    EventType = "upstream_error"
	EventConfigError      EventType = "config_error"
)

// Event represents an audit log event
type Event struct {
	Timestamp     time.Time         `json:"timestamp"`
	Type          EventType         `json:"type"`
	RequestID     string            `json:"request_id,omitempty"`
	Flow          string            `json:"flow,omitempty"`
	Client        string            `json:"client,omitempty"`
	Status        int               `json:"status,omitempty"`
	SecretVersion string            `json:"secret_version,omitempty"`
	SecretSource  string            `json:"secret_source,omitempty"`
	Duration      float64           `json:"duration_ms,omitempty"`
	Error         string            `json:"error,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Auditor is implemented by Logger and NopLogger
type Auditor interface {
	Log(event *Event)
	LogMinted(requestID, flow, client, secretVersion, secretSource string, durationMs float64)
	LogCacheHit(requestID, client string)
	LogSecretRefreshed(version string)
	LogSecretFallback(requestID, source, errorMsg string)
	LogTimeFallback(requestID, errorMsg string)
	LogError(eventType EventType, requestID, flow string, status int, errorMsg string)
	Close() error
}

var (
	_ Auditor = (*Logger)(nil)
	_ Auditor = (*NopLogger)(nil)
)

// Config holds audit logger configuration
type Config struct {
	// Enabled enables/disables audit logging
	Enabled bool `yaml:"enabled"`

	// Level controls what events are logged
	// "minimal" - only failures and fallbacks
	// "standard" - everything except cache hits
	// "verbose" - all events
	Level string `yaml:"level"`

	// Output specifies where to write logs
	// "stdout", "stderr", or a file path
	Output string `yaml:"output"`

	// Format specifies log format: "json" or "text"
	Format string `yaml:"format"`

	// IncludeClientAddress keeps the caller address in events
	IncludeClientAddress bool `yaml:"include_client_address"`
}

// DefaultConfig returns the default audit configuration
func DefaultConfig() *Config {
	return &Config{
		Enabled:              true,
		Level:                "standard",
		Output:               "stdout",
		Format:               "json",
		IncludeClientAddress: false,
	}
}

// Logger handles audit logging
type Logger struct {
	mu      sync.RWMutex
	config  *Config
	logger  *slog.Logger
	output  io.Writer
	enabled bool
}

// NewLogger creates a new audit logger
func NewLogger(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	l := &Logger{
		config:  cfg,
		enabled: cfg.Enabled,
	}

	if err := l.setupOutput(); err != nil {
		return nil, err
	}

	return l, nil
}

func (l *Logger) setupOutput() error {
	var output io.Writer

	switch l.config.Output {
	case "stdout", "":
		output = os.Stdout
	case "stderr":
		output = os.Stderr
	default:
		f, err := os.OpenFile(l.config.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600) //#nosec G304 -- operator-supplied audit path
		if err != nil {
			return err
		}
		output = f
	}

	l.output = output

	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	var handler slog.Handler
	if l.config.Format == "text" {
		handler = slog.NewTextHandler(output, opts)
	} else {
		handler = slog.NewJSONHandler(output, opts)
	}

	l.logger = slog.New(handler)
	return nil
}

// Log logs an audit event
func (l *Logger) Log(event *Event) {
	l.mu.RLock()
	enabled := l.enabled
	config := l.config
	logger := l.logger
	l.mu.RUnlock()

	if !enabled || logger == nil {
		return
	}

	if !shouldLog(config.Level, event.Type) {
		return
	}

	event.Timestamp = time.Now()

	if !config.IncludeClientAddress {
		event.Client = ""
	}

	attrs := []any{
		slog.String("type", string(event.Type)),
	}

	if event.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", event.RequestID))
	}
	if event.Flow != "" {
		attrs = append(attrs, slog.String("flow", event.Flow))
	}
	if event.Client != "" {
		attrs = append(attrs, slog.String("client", event.Client))
	}
	if event.Status > 0 {
		attrs = append(attrs, slog.Int("status", event.Status))
	}
	if event.SecretVersion != "" {
		attrs = append(attrs, slog.String("secret_version", event.SecretVersion))
	}
	if event.SecretSource != "" {
		attrs = append(attrs, slog.String("secret_source", event.SecretSource))
	}
	if event.Duration > 0 {
		attrs = append(attrs, slog.Float64("duration_ms", event.Duration))
	}
	if event.Error != "" {
		attrs = append(attrs, slog.String("error", event.Error))
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, slog.String(k, v))
	}

	logger.Info("audit", attrs...)
}

func shouldLog(level string, eventType EventType) bool {
	switch level {
	case "minimal":
		return eventType == EventUpstreamError ||
			eventType == EventConfigError ||
			eventType == EventSecretFallback
	case "standard":
		return eventType != EventCacheHit
	default:
		return true
	}
}

// LogMinted logs a credential handed to a caller from a live upstream call
func (l *Logger) LogMinted(requestID, flow, client, secretVersion, secretSource string, durationMs float64) {
	l.Log(&Event{
		Type:          EventCredentialMinted,
		RequestID:     requestID,
		Flow:          flow,
		Client:        client,
		SecretVersion: secretVersion,
		SecretSource:  secretSource,
		Duration:      durationMs,
	})
}

// LogCacheHit logs a credential served from the response cache
func (l *Logger) LogCacheHit(requestID, client string) {
	l.Log(&Event{
		Type:      EventCacheHit,
		RequestID: requestID,
		Client:    client,
	})
}

// LogSecretRefreshed logs a newly fetched secret version
func (l *Logger) LogSecretRefreshed(version string) {
	l.Log(&Event{
		Type:          EventSecretRefreshed,
		SecretVersion: version,
	})
}

// LogSecretFallback logs a request served with a stale or embedded secret
func (l *Logger) LogSecretFallback(requestID, source, errorMsg string) {
	l.Log(&Event{
		Type:         EventSecretFallback,
		RequestID:    requestID,
		SecretSource: source,
		Error:        errorMsg,
	})
}

// LogTimeFallback logs a request that used the local clock
func (l *Logger) LogTimeFallback(requestID, errorMsg string) {
	l.Log(&Event{
		Type:      EventTimeFallback,
		RequestID: requestID,
		Error:     errorMsg,
	})
}

// LogError logs an error event
func (l *Logger) LogError(eventType EventType, requestID, flow string, status int, errorMsg string) {
	l.Log(&Event{
		Type:      eventType,
		RequestID: requestID,
		Flow:      flow,
		Status:    status,
		Error:     errorMsg,
	})
}

// Enable enables audit logging
func (l *Logger) Enable() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = true
}

// Disable disables audit logging
func (l *Logger) Disable() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = false
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cfg := *l.config
	cfg.Level = level
	l.config = &cfg
}

// Close closes the logger
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if closer, ok := l.output.(io.Closer); ok {
		if l.output != os.Stdout && l.output != os.Stderr {
			return closer.Close()
		}
	}
	return nil
}

// ToJSON converts an event to JSON
func (e *Event) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// NopLogger is a logger that does nothing
type NopLogger struct{}

// NewNopLogger creates a no-op logger
func NewNopLogger() *NopLogger {
	return &NopLogger{}
}

// Log does nothing
func (l *NopLogger) Log(_ *Event) {}

// LogMinted does nothing
func (l *NopLogger) LogMinted(_, _, _, _, _ string, _ float64) {}

// LogCacheHit does nothing
func (l *NopLogger) LogCacheHit(_, _ string) {}

// LogSecretRefreshed does nothing
func (l *NopLogger) LogSecretRefreshed(_ string) {}

// LogSecretFallback does nothing
func (l *NopLogger) LogSecretFallback(_, _, _ string) {}

// LogTimeFallback does nothing
func (l *NopLogger) LogTimeFallback(_, _ string) {}

// LogError does nothing
func (l *NopLogger) LogError(_ EventType, _, _ string, _ int, _ string) {}

// Close does nothing
func (l *NopLogger) Close() error { return nil }
