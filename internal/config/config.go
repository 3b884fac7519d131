// Package config provides configuration management for the token broker.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config represents the main configuration structure
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Management ManagementConfig `yaml:"management"`
	Upstream   UpstreamConfig   `yaml:"upstream"`
	Secrets    SecretsConfig    `yaml:"secrets"`
	Cache      CacheConfig      `yaml:"cache"`
	Logging    LoggingConfig    `yaml:"logging"`
	Notify     NotifyConfig     `yaml:"notify"`
}

// ServerConfig contains settings for the public token API
type ServerConfig struct {
	Listen       string        `yaml:"listen" validate:"required"`
	ReadTimeout  time.Duration `yaml:"read_timeout" validate:"gt=0"`
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"gt=0"`
}

// ManagementConfig contains settings for the metrics and health server
type ManagementConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Addr        string `yaml:"addr" validate:"required_if=Enabled true"`
	MetricsPath string `yaml:"metrics_path"`
	HealthPath  string `yaml:"health_path"`
	ReadyPath   string `yaml:"ready_path"`
	LivePath    string `yaml:"live_path"`
}

// UpstreamConfig describes the remote endpoints the broker talks to
type UpstreamConfig struct {
	// TokenURL is the challenge-protected authorization endpoint
	TokenURL string `yaml:"token_url" validate:"required,url"`
	// ProxyURL is the token endpoint used by the direct-proxy flow
	ProxyURL string `yaml:"proxy_url" validate:"required,url"`
	// ServerTimeURL returns authoritative time as {"serverTime": <ms>}
	ServerTimeURL string `yaml:"server_time_url" validate:"required,url"`
	// SecretsURL returns the versioned secret dictionary
	SecretsURL string `yaml:"secrets_url" validate:"required,url"`

	// CookieName is the cookie carrying the session secret
	CookieName string `yaml:"cookie_name" validate:"required"`
	// SessionSecret is normally supplied through the SP_DC environment variable
	SessionSecret string `yaml:"session_secret"` //#nosec G117 -- session credential is intentionally configurable
	UserAgent     string `yaml:"user_agent"`

	TokenTimeout    time.Duration `yaml:"token_timeout" validate:"gt=0"`
	ProxyTimeout    time.Duration `yaml:"proxy_timeout" validate:"gt=0"`
	TimeSyncTimeout time.Duration `yaml:"time_sync_timeout" validate:"gt=0"`
	SecretsTimeout  time.Duration `yaml:"secrets_timeout" validate:"gt=0"`
}

// SecretsConfig contains secret store refresh settings
type SecretsConfig struct {
	RefreshInterval time.Duration `yaml:"refresh_interval" validate:"gt=0"`
	FetchRetries    uint64        `yaml:"fetch_retries"`
	RetryBaseDelay  time.Duration `yaml:"retry_base_delay" validate:"gt=0"`
	// FailureCooldown suppresses new fetch attempts after a failed refresh
	FailureCooldown time.Duration `yaml:"failure_cooldown" validate:"gte=0"`
}

// CacheConfig contains response cache settings
type CacheConfig struct {
	Type            string        `yaml:"type" validate:"oneof=memory redis"` // "memory" or "redis"
	DefaultTTL      time.Duration `yaml:"default_ttl" validate:"gt=0"`
	SafetyMargin    time.Duration `yaml:"safety_margin" validate:"gte=0"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" validate:"gt=0"`
	Redis           RedisConfig   `yaml:"redis"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"` //#nosec G117 -- Password field is intentional for Redis auth config
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string      `yaml:"level" validate:"oneof=trace debug info warn error"`
	Format string      `yaml:"format" validate:"oneof=json console"`
	Audit  AuditConfig `yaml:"audit"`
}

// AuditConfig contains audit logging settings
type AuditConfig struct {
	Enabled              bool   `yaml:"enabled"`
	Level                string `yaml:"level" validate:"oneof=minimal standard verbose"`
	Output               string `yaml:"output"`
	Format               string `yaml:"format" validate:"oneof=json text"`
	IncludeClientAddress bool   `yaml:"include_client_address"`
}

// NotifyConfig contains operator notification settings
type NotifyConfig struct {
	SentryDSN    string `yaml:"sentry_dsn"`
	SlackToken   string `yaml:"slack_token"` //#nosec G117 -- bot token is intentionally configurable
	SlackChannel string `yaml:"slack_channel"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:       ":8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		Management: ManagementConfig{
			Enabled:     true,
			Addr:        ":9090",
			MetricsPath: "/metrics",
			HealthPath:  "/health",
			ReadyPath:   "/ready",
			LivePath:    "/live",
		},
		Upstream: UpstreamConfig{
			TokenURL:        "https://open.spotify.com/api/token",
			ProxyURL:        "https://internal.1lucas1apk.fun/api/token",
			ServerTimeURL:   "https://open.spotify.com/api/server-time",
			SecretsURL:      "https://raw.githubusercontent.com/Thereallo1026/spotify-secrets/refs/heads/main/secrets/secretDict.json",
			CookieName:      "sp_dc",
			UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			TokenTimeout:    15 * time.Second,
			ProxyTimeout:    15 * time.Second,
			TimeSyncTimeout: 5 * time.Second,
			SecretsTimeout:  10 * time.Second,
		},
		Secrets: SecretsConfig{
			RefreshInterval: time.Hour,
			FetchRetries:    2,
			RetryBaseDelay:  200 * time.Millisecond,
			FailureCooldown: time.Minute,
		},
		Cache: CacheConfig{
			Type:            "memory",
			DefaultTTL:      5 * time.Minute,
			SafetyMargin:    time.Minute,
			CleanupInterval: time.Minute,
			Redis: RedisConfig{
				Address: "localhost:6379",
				DB:      0,
				Prefix:  "token-broker:",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Audit: AuditConfig{
				Enabled: true,
				Level:   "standard",
				Output:  "stdout",
				Format:  "json",
			},
		},
	}
}

// Load loads the configuration from file and environment
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	// Absolute paths are an explicit operator choice; relative ones must stay under the working dir
	if !filepath.IsAbs(configPath) {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve working directory: %w", err)
		}
		configPath, err = sanitizeConfigPath(configPath, wd)
		if err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(configPath) //#nosec G304 -- config path is sanitized above
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnv overlays environment variables on top of file values
func (c *Config) applyEnv() {
	overrides := map[string]*string{
		"SP_DC":            &c.Upstream.SessionSecret,
		"BROKER_LISTEN":    &c.Server.Listen,
		"REDIS_ADDRESS":    &c.Cache.Redis.Address,
		"SENTRY_DSN":       &c.Notify.SentryDSN,
		"SLACK_BOT_TOKEN":  &c.Notify.SlackToken,
		"SLACK_CHANNEL_ID": &c.Notify.SlackChannel,
	}
	for env, dst := range overrides {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			*dst = v
		}
	}
}

// Validate checks field constraints. A missing session secret is not an error here:
// it is reported per request by the challenge flow.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid configuration: %s failed on %q", verrs[0].Namespace(), verrs[0].Tag())
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// sanitizeConfigPath resolves path against baseDir and rejects anything that escapes it
func sanitizeConfigPath(path, baseDir string) (string, error) {
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("failed to resolve base directory: %w", err)
	}

	resolved := path
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(absBase, resolved)
	}
	resolved = filepath.Clean(resolved)

	rel, err := filepath.Rel(absBase, resolved)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected: %q escapes %q", path, absBase)
	}

	return resolved, nil
}
