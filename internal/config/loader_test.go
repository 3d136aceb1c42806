package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaultsWithoutFile(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.UpstreamTimeout != 10*time.Second {
		t.Errorf("UpstreamTimeout = %v, want 10s", cfg.Server.UpstreamTimeout)
	}
	if cfg.Session.TTL != 2*time.Hour {
		t.Errorf("Session.TTL = %v, want 2h", cfg.Session.TTL)
	}
	if cfg.OpenAI.Timeout <= cfg.Server.UpstreamTimeout {
		t.Errorf("OpenAI.Timeout = %v, want more room than the upstream timeout", cfg.OpenAI.Timeout)
	}
	if cfg.Auth.Google.Issuer != "https://accounts.google.com" {
		t.Errorf("Issuer = %q", cfg.Auth.Google.Issuer)
	}
	if cfg.IsProduction() {
		t.Error("default environment must not be production")
	}
}

func TestLoadExpandsEnvAndOverrides(t *testing.T) {
	t.Setenv("TEST_WEB_CLIENT_ID", "web-123.apps.googleusercontent.com")
	t.Setenv(EnvOpenAIAPIKey, "sk-from-env")

	yaml := `
environment: dev
server:
  port: 8181
auth:
  google:
    web:
      client_id: ${TEST_WEB_CLIENT_ID}
      redirect_url: http://localhost:8181/api/auth/login/google/callback
    mobile:
      client_id: mobile-456
session:
  backend: memory
  ttl: 24h
openai:
  api_key: sk-from-file
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Auth.Google.Web.ClientID != "web-123.apps.googleusercontent.com" {
		t.Errorf("web client id = %q", cfg.Auth.Google.Web.ClientID)
	}
	if cfg.Server.Port != 8181 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Session.TTL != 24*time.Hour {
		t.Errorf("ttl = %v", cfg.Session.TTL)
	}
	if cfg.OpenAI.APIKey != "sk-from-env" {
		t.Errorf("api key = %q, env override should win", cfg.OpenAI.APIKey)
	}
	// Untouched defaults survive a partial file.
	if cfg.Server.UpstreamTimeout != 10*time.Second {
		t.Errorf("UpstreamTimeout = %v", cfg.Server.UpstreamTimeout)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"zero ttl", func(c *Config) { c.Session.TTL = 0 }, "session.ttl"},
		{"zero openai timeout", func(c *Config) { c.OpenAI.Timeout = 0 }, "openai.timeout"},
		{"unknown backend", func(c *Config) { c.Session.Backend = "mongo" }, "session.backend"},
		{"redis without addr", func(c *Config) {
			c.Session.Backend = "redis"
			c.Session.Redis.Addr = ""
		}, "session.redis.addr"},
		{"prod short secret", func(c *Config) {
			c.Environment = "prod"
			c.Session.Secret = "short"
		}, "session.secret"},
		{"prod complete", func(c *Config) {
			c.Environment = "prod"
			c.Session.Secret = strings.Repeat("s", 32)
			c.Auth.JWT.SigningKey = strings.Repeat("k", 32)
			c.Auth.Google.Web.ClientID = "web"
			c.Auth.Google.Mobile.ClientID = "mobile"
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := validate(cfg)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}
