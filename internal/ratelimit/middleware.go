package ratelimit

import (
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/ashita-ai/agentrelay/internal/model"
)

// KeyFunc extracts the rate limit key from a request.
// Returns empty string to skip rate limiting for this request.
type KeyFunc func(r *http.Request) string

// RejectFunc writes the response for a rejected request. Injected by the
// caller so rejections share the server's error envelope.
type RejectFunc func(w http.ResponseWriter, r *http.Request, err error)

// Middleware returns HTTP middleware that enforces limiter per key. Limiter
// errors fail open. retryAfter is reported to rejected clients.
func Middleware(limiter Limiter, keyFunc KeyFunc, retryAfter time.Duration, reject RejectFunc, logger *slog.Logger) func(http.Handler) http.Handler {
	secs := int(math.Ceil(retryAfter.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := keyFunc(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			ok, err := limiter.Allow(r.Context(), key)
			if err != nil {
				logger.Warn("ratelimit: limiter error, allowing request", "error", err, "key", key)
				next.ServeHTTP(w, r)
				return
			}
			if !ok {
				reject(w, r, model.RateLimited("too many requests from this IP, please try again later", secs))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// IPKeyFunc extracts the client IP from the request for rate limiting.
// Uses RemoteAddr only. X-Forwarded-For is not trusted because any client can
// set an arbitrary value to bypass the limit. Behind a trusted proxy,
// configure the proxy to set RemoteAddr.
func IPKeyFunc(r *http.Request) string {
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}
