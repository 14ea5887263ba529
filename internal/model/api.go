package model

import "time"

// Field length limits applied at the HTTP boundary.
const (
	MaxNameLen      = 200
	MaxAgentRefLen  = 255
	MaxContentLen   = 64 * 1024 // 64 KB
	MaxSessionIDLen = 255
)

// APIError is the standard error response envelope.
type APIError struct {
	Error      ErrorDetail  `json:"error"`
	RetryAfter int          `json:"retryAfter,omitempty"`
	Meta       ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in error responses.
type ResponseMeta struct {
	RequestID string `json:"request_id"`
}

// ErrorDetail describes an API error. Stack is only populated for internal
// errors outside production.
type ErrorDetail struct {
	Code       string    `json:"code"`
	Reason     string    `json:"reason,omitempty"`
	Message    string    `json:"message"`
	StatusCode int       `json:"statusCode"`
	Timestamp  time.Time `json:"timestamp"`
	Stack      string    `json:"stack,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// ErrorCode returns the wire code for an error kind.
func ErrorCode(kind ErrorKind) string {
	switch kind {
	case KindUnauthenticated:
		return ErrCodeUnauthorized
	case KindForbidden:
		return ErrCodeForbidden
	case KindNotFound:
		return ErrCodeNotFound
	case KindInvalidArgument:
		return ErrCodeInvalidInput
	case KindRateLimited:
		return ErrCodeRateLimited
	case KindConflict:
		return ErrCodeConflict
	default:
		return ErrCodeInternalError
	}
}

// Pagination describes a page of a list response. Page and Limit are 1-based.
type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// NewPagination computes the page count for total items.
func NewPagination(page, limit, total int) Pagination {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return Pagination{Page: page, Limit: limit, Total: total, Pages: pages}
}

// PageBounds converts a 1-based page and limit into slice bounds over n items.
// Out-of-range pages yield an empty range.
func PageBounds(page, limit, n int) (start, end int) {
	if page < 1 || limit < 1 {
		return 0, 0
	}
	// Compare before multiplying so huge pages cannot overflow.
	if n == 0 || page-1 > (n-1)/limit {
		return n, n
	}
	start = (page - 1) * limit
	end = start + limit
	if end > n {
		end = n
	}
	return start, end
}

// AgentList is the response for GET /agents.
type AgentList struct {
	Agents     []Agent    `json:"agents"`
	Pagination Pagination `json:"pagination"`
}

// MessageList is the response for GET /messages.
type MessageList struct {
	Messages   []Message  `json:"messages"`
	Pagination Pagination `json:"pagination"`
}

// CreateAgentRequest is the request body for POST /agents.
type CreateAgentRequest struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
}

// UpdateAgentRequest is the request body for PUT /agents/{id}.
type UpdateAgentRequest struct {
	Name   *string `json:"name,omitempty"`
	Status *string `json:"status,omitempty"`
}

// SendMessageRequest is the request body for POST /messages.
type SendMessageRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Content string `json:"content"`
	Type    string `json:"type,omitempty"`
}

// UpdateMessageStatusRequest is the request body for PATCH /messages/{id}/status.
type UpdateMessageStatusRequest struct {
	Status string `json:"status"`
}

// DeletedResponse acknowledges a delete.
type DeletedResponse struct {
	Message string `json:"message"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
	Store     string    `json:"store"`
	Uptime    int64     `json:"uptime_seconds"`
}
