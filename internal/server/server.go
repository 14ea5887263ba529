package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/agentrelay/internal/admission"
	"github.com/ashita-ai/agentrelay/internal/messages"
	"github.com/ashita-ai/agentrelay/internal/model"
	"github.com/ashita-ai/agentrelay/internal/ratelimit"
	"github.com/ashita-ai/agentrelay/internal/registry"
)

// Server is the agentrelay HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): Broker, IPLimiter, MCPServer, OpenAPISpec,
// ExtraRoutes, Middlewares.
type ServerConfig struct {
	// Required dependencies.
	Registry *registry.Registry
	Messages *messages.Store
	Gate     *admission.Gate
	Logger   *slog.Logger

	// Optional dependencies (nil = disabled).
	Broker    *messages.Broker
	IPLimiter ratelimit.Limiter
	MCPServer *mcpserver.MCPServer

	// OpenAPISpec is served verbatim at GET /api/openapi.yaml.
	OpenAPISpec []byte

	// IPWindow is reported as Retry-After when IPLimiter rejects.
	IPWindow time.Duration

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	StoreBackend        string
	MaxRequestBodyBytes int64
	AllowedOrigins      []string

	// ExposeStack adds diagnostic stacks to 500 responses. Never set in
	// production.
	ExposeStack bool

	// Extension points for embedders.
	ExtraRoutes []RouteRegistrar
	Middlewares []func(http.Handler) http.Handler
}

// RequireFunc wraps a handler in admission for the given roles. An empty role
// list admits any authenticated principal. Admitted requests are rate limited.
type RequireFunc func(roles ...model.Role) func(http.Handler) http.Handler

// RouteRegistrar adds routes to the server mux. Routes registered here share
// the middleware chain of the built-in API.
type RouteRegistrar func(mux *http.ServeMux, require RequireFunc)

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		Registry:            cfg.Registry,
		Messages:            cfg.Messages,
		Broker:              cfg.Broker,
		Logger:              cfg.Logger,
		Version:             cfg.Version,
		StoreBackend:        cfg.StoreBackend,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		ExposeStack:         cfg.ExposeStack,
		OpenAPISpec:         cfg.OpenAPISpec,
	})

	// Admission policies. Every data route is admitted and rate limited per
	// principal; the stream is long-lived so it is admitted but not counted.
	protected := cfg.Gate.Middleware(admission.Policy{RateLimited: true}, h.writeErr)
	streaming := cfg.Gate.Middleware(admission.Policy{}, h.writeErr)
	presidentOnly := cfg.Gate.Middleware(admission.Policy{
		Roles:       []model.Role{model.RolePresident},
		RateLimited: true,
	}, h.writeErr)

	mux := http.NewServeMux()

	// Agents.
	mux.Handle("GET /api/agents", protected(http.HandlerFunc(h.HandleListAgents)))
	mux.Handle("POST /api/agents", protected(http.HandlerFunc(h.HandleCreateAgent)))
	mux.Handle("GET /api/agents/{id}", protected(http.HandlerFunc(h.HandleGetAgent)))
	mux.Handle("PUT /api/agents/{id}", protected(http.HandlerFunc(h.HandleUpdateAgent)))
	mux.Handle("DELETE /api/agents/{id}", protected(http.HandlerFunc(h.HandleDeleteAgent)))
	mux.Handle("GET /api/agents/{id}/status", protected(http.HandlerFunc(h.HandleAgentStatus)))

	// Messages.
	mux.Handle("GET /api/messages", protected(http.HandlerFunc(h.HandleListMessages)))
	mux.Handle("POST /api/messages", protected(http.HandlerFunc(h.HandleSendMessage)))
	mux.Handle("GET /api/messages/stream", streaming(http.HandlerFunc(h.HandleStream)))
	mux.Handle("GET /api/messages/conversation/{a}/{b}", protected(http.HandlerFunc(h.HandleConversation)))
	mux.Handle("GET /api/messages/{id}", protected(http.HandlerFunc(h.HandleGetMessage)))
	mux.Handle("DELETE /api/messages/{id}", protected(http.HandlerFunc(h.HandleDeleteMessage)))
	mux.Handle("PATCH /api/messages/{id}/status", protected(http.HandlerFunc(h.HandleUpdateMessageStatus)))

	// Maintenance.
	mux.Handle("POST /api/admin/reindex", presidentOnly(http.HandlerFunc(h.HandleRebuildIndex)))

	// MCP StreamableHTTP transport.
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", protected(mcpHTTP))
	}

	require := func(roles ...model.Role) func(http.Handler) http.Handler {
		return cfg.Gate.Middleware(admission.Policy{Roles: roles, RateLimited: true}, h.writeErr)
	}
	for _, register := range cfg.ExtraRoutes {
		register(mux, require)
	}

	// Health (no auth).
	mux.HandleFunc("GET /api/health", h.HandleHealth)
	mux.HandleFunc("GET /api/openapi.yaml", h.HandleOpenAPISpec)

	// Everything else is a JSON 404.
	mux.HandleFunc("/", h.HandleNotFound)

	// Middleware chain (outermost executes first):
	// request ID → security headers → CORS → tracing → logging → IP rate limit → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, cfg.ExposeStack, handler)
	if cfg.IPLimiter != nil {
		ipRL := ratelimit.Middleware(cfg.IPLimiter, apiPathKeyFunc(ratelimit.IPKeyFunc), cfg.IPWindow, h.writeErr, cfg.Logger)
		handler = ipRL(handler)
	}
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = corsMiddleware(cfg.AllowedOrigins, handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)
	// Embedder middleware wraps everything; the first registered is outermost.
	for i := len(cfg.Middlewares) - 1; i >= 0; i-- {
		handler = cfg.Middlewares[i](handler)
	}

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			ReadTimeout:       cfg.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.WriteTimeout,
		},
		handler: handler,
		logger:  cfg.Logger,
	}
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
