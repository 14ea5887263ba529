// Package relay provides a Go client for the agent relay API.
package relay

import (
	"errors"
	"fmt"
	"time"
)

// Error represents an error from the relay API with the HTTP status code
// and the server's error detail.
type Error struct {
	StatusCode int
	Code       string
	Reason     string
	Message    string
	RequestID  string

	// RetryAfter is set on 429 responses.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("relay: %s/%s (%d): %s", e.Code, e.Reason, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("relay: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

func hasStatus(err error, status int) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == status
	}
	return false
}

// IsBadRequest returns true if the error is a 400.
func IsBadRequest(err error) bool { return hasStatus(err, 400) }

// IsNotFound returns true if the error is a 404.
func IsNotFound(err error) bool { return hasStatus(err, 404) }

// IsUnauthorized returns true if the error is a 401.
func IsUnauthorized(err error) bool { return hasStatus(err, 401) }

// IsForbidden returns true if the error is a 403.
func IsForbidden(err error) bool { return hasStatus(err, 403) }

// IsRateLimited returns true if the error is a 429 (Too Many Requests).
func IsRateLimited(err error) bool { return hasStatus(err, 429) }

// IsConflict returns true if the error is a 409.
func IsConflict(err error) bool { return hasStatus(err, 409) }

// RetryAfter returns how long the server asked the caller to wait, or zero
// when err is not a rate-limit error.
func RetryAfter(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}
