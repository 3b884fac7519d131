package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSanitizeConfigPath(t *testing.T) {
	baseDir := t.TempDir()

	subDir := filepath.Join(baseDir, "conf.d")
	if err := os.MkdirAll(subDir, 0750); err != nil {
		t.Fatalf("failed to create subdir: %v", err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{name: "plain filename", path: "broker.yaml"},
		{name: "nested file", path: "conf.d/broker.yaml"},
		{name: "dot prefix", path: "./broker.yaml"},
		{name: "absolute inside base", path: filepath.Join(subDir, "broker.yaml")},
		{name: "parent escape", path: "../broker.yaml", wantErr: true},
		{name: "hidden escape", path: "conf.d/../../broker.yaml", wantErr: true},
		{name: "absolute outside base", path: "/etc/passwd", wantErr: true},
		{name: "bare dot dot", path: "..", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sanitizeConfigPath(tt.path, baseDir)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("sanitizeConfigPath(%q) = %q, want error", tt.path, got)
				}
				if !strings.Contains(err.Error(), "path traversal detected") {
					t.Errorf("error = %q, want path traversal message", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("sanitizeConfigPath(%q) unexpected error: %v", tt.path, err)
			}

			absBase, _ := filepath.Abs(baseDir)
			rel, err := filepath.Rel(absBase, got)
			if err != nil || strings.HasPrefix(rel, "..") {
				t.Errorf("sanitizeConfigPath(%q) = %q, outside %q", tt.path, got, absBase)
			}
		})
	}
}

func TestSanitizeConfigPath_Empty(t *testing.T) {
	baseDir := t.TempDir()

	got, err := sanitizeConfigPath("", baseDir+"/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	absBase, _ := filepath.Abs(baseDir)
	if got != absBase {
		t.Errorf("got %q, want %q", got, absBase)
	}
}

func TestDefaultConfig_Valid(t *testing.T) {
	cfg := DefaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Secrets.RefreshInterval != time.Hour {
		t.Errorf("RefreshInterval = %v, want 1h", cfg.Secrets.RefreshInterval)
	}
	if cfg.Upstream.SessionSecret != "" {
		t.Error("session secret must not have a default")
	}
}

func TestValidate_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown cache type", func(c *Config) { c.Cache.Type = "memcached" }},
		{"bad token url", func(c *Config) { c.Upstream.TokenURL = "not a url" }},
		{"zero refresh interval", func(c *Config) { c.Secrets.RefreshInterval = 0 }},
		{"zero time sync timeout", func(c *Config) { c.Upstream.TimeSyncTimeout = 0 }},
		{"unknown log level", func(c *Config) { c.Logging.Level = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broker.yaml")
	content := `
server:
  listen: ":7000"
secrets:
  refresh_interval: 30m
cache:
  type: memory
  default_ttl: 2m
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CONFIG_PATH", path)
	t.Setenv("SP_DC", "session-cookie")
	t.Setenv("BROKER_LISTEN", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Listen != ":7000" {
		t.Errorf("Listen = %q, want :7000", cfg.Server.Listen)
	}
	if cfg.Secrets.RefreshInterval != 30*time.Minute {
		t.Errorf("RefreshInterval = %v, want 30m", cfg.Secrets.RefreshInterval)
	}
	if cfg.Cache.DefaultTTL != 2*time.Minute {
		t.Errorf("DefaultTTL = %v, want 2m", cfg.Cache.DefaultTTL)
	}
	if cfg.Upstream.SessionSecret != "session-cookie" {
		t.Errorf("SessionSecret = %q, want value from SP_DC", cfg.Upstream.SessionSecret)
	}
	// untouched sections keep defaults
	if cfg.Upstream.CookieName != "sp_dc" {
		t.Errorf("CookieName = %q, want default", cfg.Upstream.CookieName)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "absent.yaml"))
	t.Setenv("SP_DC", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Listen != ":8080" {
		t.Errorf("Listen = %q, want default", cfg.Server.Listen)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("server: [unterminated"), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)

	if _, err := Load(); err == nil {
		t.Error("Load() should fail on malformed yaml")
	}
}
