package model

import (
	"errors"
	"net/http"
)

// ErrorKind classifies a failure for status mapping at the transport boundary.
type ErrorKind string

const (
	KindUnauthenticated ErrorKind = "unauthenticated"
	KindForbidden       ErrorKind = "forbidden"
	KindNotFound        ErrorKind = "not_found"
	KindInvalidArgument ErrorKind = "invalid_argument"
	KindRateLimited     ErrorKind = "rate_limited"
	KindConflict        ErrorKind = "conflict"
	KindInternal        ErrorKind = "internal"
)

// Machine-readable reasons attached to admission and ownership failures.
const (
	ReasonMissingCredential     = "MissingCredential"
	ReasonInvalidAPIKey         = "InvalidApiKey"
	ReasonInvalidOrExpiredToken = "InvalidOrExpiredToken"
	ReasonInsufficientRole      = "InsufficientRole"
	ReasonNotMessageOwner       = "NotMessageOwner"
	ReasonTooManyRequests       = "TooManyRequests"
)

// Error is a classified error. Data-layer and admission failures are returned
// as *Error (or wrap one) so the boundary can map them without string matching.
type Error struct {
	Kind    ErrorKind
	Reason  string
	Message string
	Err     error

	// RetryAfter is the advisory wait in seconds for KindRateLimited.
	RetryAfter int
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind and, when the target sets one, by reason.
// This lets package-level sentinels be compared with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// NewError builds a classified error.
func NewError(kind ErrorKind, reason, message string) *Error {
	return &Error{Kind: kind, Reason: reason, Message: message}
}

// InvalidArgument reports malformed caller input.
func InvalidArgument(message string) *Error {
	return &Error{Kind: KindInvalidArgument, Message: message}
}

// NotFound reports an absent entity.
func NotFound(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

// RateLimited reports a rejected request and how long to back off.
func RateLimited(message string, retryAfter int) *Error {
	return &Error{Kind: KindRateLimited, Reason: ReasonTooManyRequests, Message: message, RetryAfter: retryAfter}
}

// Conflict reports a write that collides with an existing record.
func Conflict(message string) *Error {
	return &Error{Kind: KindConflict, Message: message}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// HTTPStatus maps an error kind to its response status.
func HTTPStatus(kind ErrorKind) int {
	switch kind {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidArgument:
		return http.StatusBadRequest
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
