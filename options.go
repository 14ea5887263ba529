package agentrelay

import "log/slog"

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds all extension points after applying defaults.
// Unexported; callers use the With* functions.
type resolvedOptions struct {
	port            int
	store           string
	databaseURL     string
	apiKeys         []string
	logger          *slog.Logger
	version         string
	messageHooks    []MessageHook
	routeRegistrars []RouteRegistrar
	middlewares     []Middleware
}

// WithPort overrides the TCP port from config (RELAY_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithStore overrides the storage backend from config (RELAY_STORE env var):
// "memory", "sqlite" or "postgres".
func WithStore(backend string) Option {
	return func(o *resolvedOptions) { o.store = backend }
}

// WithDatabaseURL overrides the Postgres connection string from config (DATABASE_URL env var).
func WithDatabaseURL(url string) Option {
	return func(o *resolvedOptions) { o.databaseURL = url }
}

// WithAPIKeys adds keys to the x-api-key allow-list on top of RELAY_API_KEYS.
func WithAPIKeys(keys ...string) Option {
	return func(o *resolvedOptions) { o.apiKeys = append(o.apiKeys, keys...) }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}

// WithMessageHook registers a hook to receive message lifecycle notifications.
// All registered hooks receive every event.
func WithMessageHook(hook MessageHook) Option {
	return func(o *resolvedOptions) { o.messageHooks = append(o.messageHooks, hook) }
}

// WithExtraRoutes registers additional routes on the shared HTTP mux.
// Multiple registrars may be registered; all are called in registration order.
func WithExtraRoutes(fn RouteRegistrar) Option {
	return func(o *resolvedOptions) { o.routeRegistrars = append(o.routeRegistrars, fn) }
}

// WithMiddleware registers an outermost HTTP middleware.
// The first-registered middleware is outermost (called first by every request).
func WithMiddleware(mw Middleware) Option {
	return func(o *resolvedOptions) { o.middlewares = append(o.middlewares, mw) }
}
