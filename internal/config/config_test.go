package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/eshaffer321/crmreports-go/internal/tokenstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "crm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000", cfg.URL)
	assert.Equal(t, 4*time.Minute, cfg.RefreshInterval)
	assert.Equal(t, 2*time.Second, cfg.PollInterval)
	assert.Equal(t, 3, cfg.Retry.Attempts)
	assert.Zero(t, cfg.PollTimeout)
	assert.Equal(t, "tokens.json", filepath.Base(cfg.TokenFile))
	assert.Equal(t, tokenstore.DefaultPath(), cfg.TokenFile)
}

func TestLoad_Precedence(t *testing.T) {
	path := writeFile(t, `
url: https://crm.example.com
pollInterval: 500ms
retry:
  attempts: 5
  wait: 100ms
  maxWait: 1s
rateLimit: 4
rateBurst: 2
`)
	t.Setenv("CRM_RETRY_ATTEMPTS", "2")
	t.Setenv("CRM_POLL_TIMEOUT", "1m")
	t.Setenv("CRM_TOKEN_FILE", "/tmp/crm-tokens.json")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://crm.example.com", cfg.URL, "file overrides defaults")
	assert.Equal(t, 500*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, 2, cfg.Retry.Attempts, "env overrides file")
	assert.Equal(t, 100*time.Millisecond, cfg.Retry.Wait)
	assert.Equal(t, time.Minute, cfg.PollTimeout)
	assert.Equal(t, "/tmp/crm-tokens.json", cfg.TokenFile)
	assert.Equal(t, 4.0, cfg.RateLimit)
}

func TestLoad_Rejects(t *testing.T) {
	t.Run("unknown key", func(t *testing.T) {
		_, err := Load(writeFile(t, "url: https://crm.example.com\npassword: hunter2\n"))
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})

	t.Run("bad duration env", func(t *testing.T) {
		t.Setenv("CRM_POLL_INTERVAL", "soon")
		_, err := Load("")
		assert.Error(t, err)
	})

	t.Run("bad rate env", func(t *testing.T) {
		t.Setenv("CRM_RATE_LIMIT", "fast")
		_, err := Load("")
		assert.Error(t, err)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"relative url", func(c *Config) { c.URL = "crm.example.com" }},
		{"ftp url", func(c *Config) { c.URL = "ftp://crm.example.com" }},
		{"zero attempts", func(c *Config) { c.Retry.Attempts = 0 }},
		{"max wait below wait", func(c *Config) { c.Retry.MaxWait = time.Millisecond }},
		{"zero refresh", func(c *Config) { c.RefreshInterval = 0 }},
		{"zero poll interval", func(c *Config) { c.PollInterval = 0 }},
		{"negative poll timeout", func(c *Config) { c.PollTimeout = -time.Second }},
		{"negative rate", func(c *Config) { c.RateLimit = -1 }},
		{"rate without burst", func(c *Config) { c.RateLimit = 1; c.RateBurst = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, Default().Validate())
}

func TestClientOptions(t *testing.T) {
	cfg := Default()
	cfg.URL = "https://crm.example.com/"
	cfg.PollTimeout = 30 * time.Second

	opts := cfg.ClientOptions(nil)
	assert.Equal(t, "https://crm.example.com", opts.BaseURL)
	assert.Equal(t, 30*time.Second, opts.PollTimeout)
	assert.Equal(t, 3, opts.RetryConfig.MaxAttempts)
	assert.Nil(t, opts.RateLimiter)
	assert.Nil(t, opts.Logger)

	cfg.RateLimit = 2
	cfg.RateBurst = 3
	opts = cfg.ClientOptions(nil)
	limiter, ok := opts.RateLimiter.(*rate.Limiter)
	require.True(t, ok)
	assert.Equal(t, rate.Limit(2), limiter.Limit())
	assert.Equal(t, 3, limiter.Burst())
}
