// Package config loads client settings from defaults, an optional YAML file
// and CRM_* environment variables, in that order of precedence.
package config

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/eshaffer321/crmreports-go/internal/log"
	"github.com/eshaffer321/crmreports-go/internal/tokenstore"
	"github.com/eshaffer321/crmreports-go/internal/types"
	"github.com/eshaffer321/crmreports-go/pkg/crm"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"
)

// Config holds everything needed to build a client
type Config struct {
	URL             string        `yaml:"url"`
	TokenFile       string        `yaml:"tokenFile"`
	Timeout         time.Duration `yaml:"timeout"`
	RefreshInterval time.Duration `yaml:"refreshInterval"`
	PollInterval    time.Duration `yaml:"pollInterval"`
	PollTimeout     time.Duration `yaml:"pollTimeout"`
	Retry           Retry         `yaml:"retry"`
	RateLimit       float64       `yaml:"rateLimit"`
	RateBurst       int           `yaml:"rateBurst"`
	LogLevel        string        `yaml:"logLevel"`
	SentryDSN       string        `yaml:"sentryDSN"`
}

// Retry is the retry budget section
type Retry struct {
	Attempts int           `yaml:"attempts"`
	Wait     time.Duration `yaml:"wait"`
	MaxWait  time.Duration `yaml:"maxWait"`
}

// Default returns the built-in settings
func Default() *Config {
	return &Config{
		URL:             types.DefaultBaseURL,
		TokenFile:       tokenstore.DefaultPath(),
		Timeout:         types.DefaultTimeout,
		RefreshInterval: types.DefaultRefreshInterval,
		PollInterval:    types.DefaultPollInterval,
		Retry: Retry{
			Attempts: types.DefaultMaxAttempts,
			Wait:     types.DefaultRetryWait,
			MaxWait:  types.DefaultMaxWait,
		},
		RateBurst: 1,
		LogLevel:  "info",
	}
}

// Load applies the file at path (if any) and then the environment over the defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.mergeEnv(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := log.WithComponent("config")
	logger.Debug().
		Str("url", cfg.URL).
		Str("token_file", cfg.TokenFile).
		Bool("sentry", cfg.SentryDSN != "").
		Msg("configuration loaded")

	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the operator
	if err != nil {
		return errors.Wrap(err, "read config file")
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		if err == io.EOF {
			return nil
		}
		return errors.Wrapf(err, "strict config parse error in %s", path)
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.Errorf("config file %s contains multiple documents", path)
	}
	return nil
}

func (c *Config) mergeEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) error {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrapf(err, "invalid %s", key)
		}
		*dst = d
		return nil
	}
	integer := func(key string, dst *int) error {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return errors.Wrapf(err, "invalid %s", key)
		}
		*dst = n
		return nil
	}

	str("CRM_URL", &c.URL)
	str("CRM_TOKEN_FILE", &c.TokenFile)
	str("CRM_LOG_LEVEL", &c.LogLevel)
	str("SENTRY_DSN", &c.SentryDSN)

	for key, dst := range map[string]*time.Duration{
		"CRM_TIMEOUT":          &c.Timeout,
		"CRM_REFRESH_INTERVAL": &c.RefreshInterval,
		"CRM_POLL_INTERVAL":    &c.PollInterval,
		"CRM_POLL_TIMEOUT":     &c.PollTimeout,
		"CRM_RETRY_WAIT":       &c.Retry.Wait,
		"CRM_RETRY_MAX_WAIT":   &c.Retry.MaxWait,
	} {
		if err := dur(key, dst); err != nil {
			return err
		}
	}

	if err := integer("CRM_RETRY_ATTEMPTS", &c.Retry.Attempts); err != nil {
		return err
	}
	if err := integer("CRM_RATE_BURST", &c.RateBurst); err != nil {
		return err
	}

	if v, ok := os.LookupEnv("CRM_RATE_LIMIT"); ok && v != "" {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return errors.Wrap(err, "invalid CRM_RATE_LIMIT")
		}
		c.RateLimit = f
	}
	return nil
}

// Validate rejects settings the client cannot run with
func (c *Config) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("url must be an absolute http(s) URL, got %q", c.URL)
	}
	if c.Retry.Attempts < 1 {
		return fmt.Errorf("retry.attempts must be at least 1, got %d", c.Retry.Attempts)
	}
	if c.Retry.Wait < 0 || c.Retry.MaxWait < c.Retry.Wait {
		return fmt.Errorf("retry.maxWait (%s) must not be below retry.wait (%s)", c.Retry.MaxWait, c.Retry.Wait)
	}
	if c.RefreshInterval <= 0 {
		return fmt.Errorf("refreshInterval must be positive, got %s", c.RefreshInterval)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("pollInterval must be positive, got %s", c.PollInterval)
	}
	if c.PollTimeout < 0 || c.Timeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rateLimit must not be negative, got %v", c.RateLimit)
	}
	if c.RateLimit > 0 && c.RateBurst < 1 {
		return fmt.Errorf("rateBurst must be at least 1 when rateLimit is set, got %d", c.RateBurst)
	}
	return nil
}

// ClientOptions maps the configuration onto client options. logger may be nil.
func (c *Config) ClientOptions(logger crm.Logger) *crm.ClientOptions {
	opts := &crm.ClientOptions{
		BaseURL:         strings.TrimRight(c.URL, "/"),
		Timeout:         c.Timeout,
		TokenFile:       c.TokenFile,
		Logger:          logger,
		RefreshInterval: c.RefreshInterval,
		PollInterval:    c.PollInterval,
		PollTimeout:     c.PollTimeout,
		SentryDSN:       c.SentryDSN,
		RetryConfig: &crm.RetryConfig{
			MaxAttempts: c.Retry.Attempts,
			RetryWait:   c.Retry.Wait,
			MaxWait:     c.Retry.MaxWait,
		},
	}
	if c.RateLimit > 0 {
		opts.RateLimiter = rate.NewLimiter(rate.Limit(c.RateLimit), c.RateBurst)
	}
	return opts
}
