package crm

import (
	"errors"

	"github.com/eshaffer321/crmreports-go/internal/types"
)

var (
	// ErrNotAuthenticated is returned when a call needs a session and none is held
	ErrNotAuthenticated = types.ErrNotAuthenticated

	// ErrLoginFailed is returned when the token endpoint rejects the credentials
	ErrLoginFailed = types.ErrLoginFailed

	// ErrForbidden is returned when the server answers 403; the session is dropped
	ErrForbidden = types.ErrForbidden

	// ErrSessionExpired is returned when the refresh token is rejected
	ErrSessionExpired = types.ErrSessionExpired

	// ErrHTTP is returned when a request fails after its retry budget is spent
	ErrHTTP = types.ErrHTTP

	// ErrInvalidTaskID is returned for an empty task id
	ErrInvalidTaskID = types.ErrInvalidTaskID

	// ErrPoll is returned when polling a task fails at the network level
	ErrPoll = types.ErrPoll

	// ErrPollTimeout is returned when a task is not ready within the poll timeout
	ErrPollTimeout = types.ErrPollTimeout

	// ErrTaskFailed is returned when a task reports failure
	ErrTaskFailed = types.ErrTaskFailed

	// ErrNoTaskID is returned when a report submission carries no task id
	ErrNoTaskID = types.ErrNoTaskID

	// ErrInvalidDateRange is returned when a report range ends before it starts
	ErrInvalidDateRange = errors.New("invalid date range")
)

// Error represents an API error
type Error = types.Error

// IsAuthError checks if error means the caller must log in again
func IsAuthError(err error) bool {
	return types.IsAuthError(err)
}

// IsRetryable checks if error is worth retrying later
func IsRetryable(err error) bool {
	return types.IsRetryable(err)
}

// IsTaskError checks if error came from resolving a report task
func IsTaskError(err error) bool {
	return types.IsTaskError(err)
}
