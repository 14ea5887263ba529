package agentrelay

import (
	"context"
	"net/http"
)

// MessageHook receives notifications after message changes are committed.
// Multiple hooks may be registered via multiple WithMessageHook calls.
// Hooks run on a single dispatcher goroutine and must not block indefinitely.
// Failures are logged but do not fail the originating request.
type MessageHook interface {
	OnMessageEvent(ctx context.Context, event MessageEvent) error
}

// RouteRegistrar registers additional routes on the shared HTTP mux.
// Extra routes share the mux, middleware chain and OTEL instrumentation with
// the built-in API. Called once during New.
type RouteRegistrar func(mux *http.ServeMux, auth AuthHelper)

// AuthHelper provides admission middleware for use in RouteRegistrar.
type AuthHelper interface {
	// RequireRole admits principals holding one of roles. With no roles any
	// authenticated principal is admitted. Admitted requests count against
	// the caller's rate limit.
	RequireRole(roles ...Role) func(http.Handler) http.Handler
}

// Middleware wraps the root HTTP handler.
// Applied outermost (before routing), so it sees all requests including /api/health.
// Multiple middlewares are applied in registration order (first-registered = outermost).
type Middleware func(http.Handler) http.Handler
