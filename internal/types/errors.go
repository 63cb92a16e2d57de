package types

import (
	"errors"
	"fmt"
)

// Error represents an API error. Kind is one of the package sentinels and
// Err is the underlying cause; both are visible to errors.Is.
type Error struct {
	Code       string                 `json:"code"`
	Message    string                 `json:"message"`
	StatusCode int                    `json:"statusCode"`
	Details    map[string]interface{} `json:"details,omitempty"`
	RequestID  string                 `json:"requestId,omitempty"`
	Kind       error                  `json:"-"`
	Err        error                  `json:"-"`
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Kind != nil {
		msg = e.Kind.Error()
	}
	if msg == "" {
		msg = fmt.Sprintf("error: %s", e.Code)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes both the kind and the cause
func (e *Error) Unwrap() []error {
	var errs []error
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NewError creates an error of the given kind
func NewError(kind error, code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Kind:    kind,
	}
}

// WrapError wraps a cause with a kind and code
func WrapError(err, kind error, code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Kind:    kind,
		Err:     err,
	}
}

// IsAuthError reports whether err means the caller must log in again
func IsAuthError(err error) bool {
	return errors.Is(err, ErrNotAuthenticated) ||
		errors.Is(err, ErrLoginFailed) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrSessionExpired)
}

// IsTaskError reports whether err came from resolving a task
func IsTaskError(err error) bool {
	return errors.Is(err, ErrInvalidTaskID) ||
		errors.Is(err, ErrPoll) ||
		errors.Is(err, ErrPollTimeout) ||
		errors.Is(err, ErrTaskFailed) ||
		errors.Is(err, ErrNoTaskID)
}

// IsRetryable reports whether err is worth another attempt later
func IsRetryable(err error) bool {
	if IsAuthError(err) {
		return false
	}
	if errors.Is(err, ErrPoll) || errors.Is(err, ErrPollTimeout) {
		return true
	}

	var apiErr *Error
	if errors.As(err, &apiErr) && errors.Is(apiErr.Kind, ErrHTTP) {
		// StatusCode 0 means no response arrived
		return apiErr.StatusCode == 0 || apiErr.StatusCode >= 500 || apiErr.StatusCode == 429
	}

	return false
}
