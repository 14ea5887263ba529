package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/ashita-ai/agentrelay/internal/ctxutil"
	"github.com/ashita-ai/agentrelay/internal/model"
)

// writeJSON writes data as the JSON response body.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response with the standard envelope.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeErrorDetail(w, r, status, model.ErrorDetail{Code: code, Message: message}, 0)
}

func writeErrorDetail(w http.ResponseWriter, r *http.Request, status int, detail model.ErrorDetail, retryAfter int) {
	detail.StatusCode = status
	detail.Timestamp = time.Now().UTC()
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}
	writeJSON(w, status, model.APIError{
		Error:      detail,
		RetryAfter: retryAfter,
		Meta:       model.ResponseMeta{RequestID: ctxutil.RequestIDFromContext(r.Context())},
	})
}

func internalDetail(message, stack string) model.ErrorDetail {
	return model.ErrorDetail{Code: model.ErrCodeInternalError, Message: message, Stack: stack}
}

// errorResponder renders any error returned by a store, the admission gate or
// request validation. Classified errors map to their status; everything else
// is logged and reported as a 500.
type errorResponder struct {
	logger      *slog.Logger
	exposeStack bool
}

func (e errorResponder) write(w http.ResponseWriter, r *http.Request, err error) {
	var relayErr *model.Error
	if errors.As(err, &relayErr) && relayErr.Kind != model.KindInternal {
		status := model.HTTPStatus(relayErr.Kind)
		writeErrorDetail(w, r, status, model.ErrorDetail{
			Code:    model.ErrorCode(relayErr.Kind),
			Reason:  relayErr.Reason,
			Message: relayErr.Message,
		}, relayErr.RetryAfter)
		return
	}

	e.logger.ErrorContext(r.Context(), "request failed",
		"error", err,
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", ctxutil.RequestIDFromContext(r.Context()),
	)
	var stack string
	if e.exposeStack {
		stack = fmt.Sprintf("%v\n\n%s", err, debug.Stack())
	}
	writeErrorDetail(w, r, http.StatusInternalServerError, internalDetail("internal server error", stack), 0)
}

// decodeJSON decodes a size-limited JSON request body into target. Unknown
// fields are rejected.
func decodeJSON(w http.ResponseWriter, r *http.Request, target any, maxBytes int64) error {
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return model.InvalidArgument(fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))
		case errors.Is(err, io.EOF):
			return model.InvalidArgument("request body is required")
		default:
			return model.InvalidArgument("invalid request body: " + err.Error())
		}
	}
	if decoder.More() {
		return model.InvalidArgument("invalid request body: unexpected data after JSON object")
	}
	return nil
}
