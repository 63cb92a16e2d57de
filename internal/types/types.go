package types

import (
	"context"
	"net/http"
	"time"
)

// Credential is the access/refresh token pair issued by the token endpoint
type Credential struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// Complete reports whether both tokens are present
func (c *Credential) Complete() bool {
	return c != nil && c.Access != "" && c.Refresh != ""
}

// Clone returns a copy of the credential
func (c *Credential) Clone() *Credential {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

// Identity holds the claims decoded from an access token
type Identity struct {
	Username  string    `json:"username"`
	UserID    string    `json:"userId,omitempty"`
	IssuedAt  time.Time `json:"issuedAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Expired reports whether the access token has passed its exp claim
func (i *Identity) Expired(now time.Time) bool {
	return i != nil && !i.ExpiresAt.IsZero() && now.After(i.ExpiresAt)
}

// RetryBudget counts the attempts a request may still make
type RetryBudget struct {
	remaining int
}

// NewRetryBudget creates a budget of n attempts; n below 1 is treated as 1
func NewRetryBudget(n int) *RetryBudget {
	if n < 1 {
		n = 1
	}
	return &RetryBudget{remaining: n}
}

// Spend records a failed attempt and reports whether another attempt is allowed
func (b *RetryBudget) Spend() bool {
	if b.remaining > 0 {
		b.remaining--
	}
	return b.remaining > 0
}

// Remaining returns the attempts left
func (b *RetryBudget) Remaining() int {
	return b.remaining
}

// Logger interface for logging
type Logger interface {
	Debug(msg string, keysAndValues ...interface{})
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// RetryConfig configures retry behavior
type RetryConfig struct {
	MaxAttempts int           `json:"maxAttempts" yaml:"maxAttempts"`
	RetryWait   time.Duration `json:"retryWait" yaml:"retryWait"`
	MaxWait     time.Duration `json:"maxWait" yaml:"maxWait"`
}

// DefaultRetryConfig returns the three-attempt default
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts: DefaultMaxAttempts,
		RetryWait:   DefaultRetryWait,
		MaxWait:     DefaultMaxWait,
	}
}

// Hooks provides lifecycle hooks for requests
type Hooks struct {
	OnRequest  func(ctx context.Context, req *http.Request)
	OnResponse func(ctx context.Context, resp *http.Response, duration time.Duration)
	OnError    func(ctx context.Context, err error)
}
