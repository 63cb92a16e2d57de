package types

import (
	"errors"
	"time"
)

const (
	// DefaultBaseURL is the default CRM API base URL
	DefaultBaseURL = "http://localhost:8000"

	// DefaultTimeout is the default HTTP client timeout
	DefaultTimeout = 30 * time.Second

	// UserAgent is the user agent string
	UserAgent = "crmreports-go/1.0.0"

	// StorageKey is the key the credential pair is persisted under
	StorageKey = "authTokens"

	// DefaultRefreshInterval is how often an active session refreshes its tokens
	DefaultRefreshInterval = 4 * time.Minute

	// DefaultPollInterval is the wait between task polls while the server answers 202
	DefaultPollInterval = 2000 * time.Millisecond

	// DefaultMaxAttempts is the default retry budget for authorized requests
	DefaultMaxAttempts = 3

	// DefaultRetryWait is the base backoff between attempts
	DefaultRetryWait = 250 * time.Millisecond

	// DefaultMaxWait caps the backoff between attempts
	DefaultMaxWait = 5 * time.Second
)

// Error kinds
var (
	// ErrNotAuthenticated is returned when a bearer call is made without a session
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrLoginFailed is returned when the token endpoint rejects the credentials
	ErrLoginFailed = errors.New("login failed")

	// ErrForbidden is returned when an authorized call answers 403
	ErrForbidden = errors.New("forbidden")

	// ErrSessionExpired is returned when the refresh exchange fails
	ErrSessionExpired = errors.New("session expired")

	// ErrHTTP is returned when a request fails after its retry budget is spent
	ErrHTTP = errors.New("http request failed")

	// ErrInvalidTaskID is returned for an empty task identifier
	ErrInvalidTaskID = errors.New("task id is required")

	// ErrPoll is returned when a task status request fails at the network level
	ErrPoll = errors.New("task poll failed")

	// ErrPollTimeout is returned when polling exceeds its wall-clock limit
	ErrPollTimeout = errors.New("task poll timeout")

	// ErrTaskFailed is returned when a resolved task reports failure
	ErrTaskFailed = errors.New("task failed")

	// ErrNoTaskID is returned when a report submission carries no task id
	ErrNoTaskID = errors.New("task id not found in response")

	// ErrInvalidCredential is returned when saving a partial credential pair
	ErrInvalidCredential = errors.New("credential requires both access and refresh tokens")
)
