// Package agentrelay is the public API for embedding the agent relay server.
//
// Consumers import this package to construct and extend the server without
// forking it:
//
//	app, err := agentrelay.New(
//	    agentrelay.WithVersion(version),
//	    agentrelay.WithLogger(logger),
//	    agentrelay.WithMessageHook(myHook{}),
//	    agentrelay.WithExtraRoutes(myRoutes),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: agentrelay (root) imports
// internal/*, but internal/* never imports agentrelay (root). Public types are
// standalone structs with no internal imports; conversion helpers live here
// because this is the only file that sees both sides of the boundary.
package agentrelay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ashita-ai/agentrelay/api"
	"github.com/ashita-ai/agentrelay/internal/admission"
	"github.com/ashita-ai/agentrelay/internal/auth"
	"github.com/ashita-ai/agentrelay/internal/config"
	"github.com/ashita-ai/agentrelay/internal/ids"
	"github.com/ashita-ai/agentrelay/internal/kv"
	"github.com/ashita-ai/agentrelay/internal/mcp"
	"github.com/ashita-ai/agentrelay/internal/messages"
	"github.com/ashita-ai/agentrelay/internal/model"
	"github.com/ashita-ai/agentrelay/internal/ratelimit"
	"github.com/ashita-ai/agentrelay/internal/registry"
	"github.com/ashita-ai/agentrelay/internal/server"
	"github.com/ashita-ai/agentrelay/internal/telemetry"
)

const shutdownHTTPTimeout = 10 * time.Second

// App is the relay server lifecycle. Construct with New(), run with Run().
type App struct {
	cfg          config.Config
	store        kv.Store
	srv          *server.Server
	jwt          *auth.JWTManager
	window       *ratelimit.SlidingWindow
	ipLimiter    *ratelimit.MemoryLimiter
	broker       *messages.Broker
	events       chan messages.Event // nil when no hooks are registered
	hooks        []MessageHook
	otelShutdown telemetry.Shutdown
	logger       *slog.Logger
	version      string

	shutdownOnce sync.Once
	shutdownErr  error
}

// New initialises the relay. It opens the configured store, rebuilds the
// message index, wires all subsystems and returns a ready-to-run App.
// It does NOT start any goroutines or accept HTTP connections; call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.store != "" {
		cfg.Store = o.store
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	cfg.APIKeys = append(cfg.APIKeys, o.apiKeys...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	version := o.version
	if version == "" {
		version = cfg.Version
	}

	logger.Info("agentrelay starting", "version", version, "port", cfg.Port, "env", cfg.Env, "store", cfg.Store)

	otelShutdown, err := telemetry.Init(context.Background(), telemetry.Config{
		Endpoint:       cfg.OTELEndpoint,
		Insecure:       cfg.OTELInsecure,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Env,
		Logger:         logger,
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	store, err := openStore(context.Background(), cfg, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}

	gen := ids.New(time.Now)
	reg := registry.New(store, gen, logger)
	broker := messages.NewBroker(logger)
	msgs := messages.New(store, gen, logger, messages.WithBroker(broker))

	// Rebuild the per-agent index on boot so a crash between writes on a
	// non-transactional backend cannot leave stale entries behind.
	if n, err := msgs.RebuildIndex(context.Background()); err != nil {
		logger.Warn("message index rebuild failed", "error", err)
	} else {
		logger.Info("message index ready", "agents", n)
	}

	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		_ = store.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("auth: %w", err)
	}
	keys := auth.NewAPIKeySet(cfg.APIKeys)
	if keys.Len() == 0 {
		logger.Info("api keys: none configured, x-api-key channel rejects every key")
	}
	resolver := auth.NewResolver(
		auth.APIKeyStrategy{Keys: keys},
		auth.BearerStrategy{Verifier: jwtMgr},
	)

	window := ratelimit.NewSlidingWindow(cfg.RateWindow, cfg.RateMax)
	logger.Info("rate limiting: sliding window per principal", "window", cfg.RateWindow, "max", cfg.RateMax)
	ipLimiter := ratelimit.NewWindowLimiter(cfg.IPRateMax, cfg.IPRateWindow)
	logger.Info("rate limiting: per-IP token bucket on /api", "window", cfg.IPRateWindow, "max", cfg.IPRateMax)

	mcpSrv := mcp.New(reg, msgs, logger, version)

	extraRoutes := make([]server.RouteRegistrar, 0, len(o.routeRegistrars))
	for _, fn := range o.routeRegistrars {
		extraRoutes = append(extraRoutes, func(mux *http.ServeMux, require server.RequireFunc) {
			fn(mux, authHelper{require: require})
		})
	}
	middlewares := make([]func(http.Handler) http.Handler, 0, len(o.middlewares))
	for _, mw := range o.middlewares {
		middlewares = append(middlewares, mw)
	}

	srv := server.New(server.ServerConfig{
		Registry:            reg,
		Messages:            msgs,
		Gate:                admission.NewGate(resolver, window),
		Logger:              logger,
		Broker:              broker,
		IPLimiter:           ipLimiter,
		IPWindow:            cfg.IPRateWindow,
		MCPServer:           mcpSrv.MCPServer(),
		OpenAPISpec:         api.OpenAPISpec,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		StoreBackend:        store.Backend(),
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		AllowedOrigins:      cfg.AllowedOrigins,
		ExposeStack:         !cfg.Production(),
		ExtraRoutes:         extraRoutes,
		Middlewares:         middlewares,
	})

	app := &App{
		cfg:          cfg,
		store:        store,
		srv:          srv,
		jwt:          jwtMgr,
		window:       window,
		ipLimiter:    ipLimiter,
		broker:       broker,
		hooks:        o.messageHooks,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}
	// Subscribe now so events committed before Run starts are buffered.
	if len(app.hooks) > 0 {
		app.events = broker.Subscribe()
	}
	return app, nil
}

// Handler returns the root HTTP handler, for serving the API from an
// embedder's own listener or from tests.
func (a *App) Handler() http.Handler {
	return a.srv.Handler()
}

// IssueToken signs a bearer token for id and role. A ttl of zero uses
// RELAY_JWT_EXPIRATION.
func (a *App) IssueToken(id string, role Role, ttl time.Duration) (string, time.Time, error) {
	return a.jwt.IssueToken(id, model.Role(role), ttl)
}

// Run starts all background goroutines and the HTTP server, then blocks until
// ctx is cancelled or a fatal server error occurs. On return, Shutdown has
// been called; callers should not call it separately.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		a.sweepLoop(gctx)
		return nil
	})
	if a.events != nil {
		g.Go(func() error {
			a.dispatchLoop(gctx)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return a.Shutdown(context.Background())
	})

	return g.Wait()
}

// Shutdown stops accepting HTTP requests, drains in-flight ones, then closes
// the store and OTEL providers. Safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		a.logger.Info("agentrelay shutting down")

		httpCtx, httpCancel := context.WithTimeout(ctx, shutdownHTTPTimeout)
		if err := a.srv.Shutdown(httpCtx); err != nil {
			a.logger.Error("http shutdown error", "error", err)
		}
		httpCancel()

		if a.events != nil {
			a.broker.Unsubscribe(a.events)
		}
		_ = a.ipLimiter.Close()
		if err := a.store.Close(); err != nil {
			a.shutdownErr = fmt.Errorf("close store: %w", err)
		}
		_ = a.otelShutdown(context.Background())

		a.logger.Info("agentrelay stopped")
	})
	return a.shutdownErr
}

// openStore selects the kv backend named by RELAY_STORE.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (kv.Store, error) {
	switch cfg.Store {
	case config.StoreSQLite:
		return kv.NewSQLiteStore(ctx, cfg.SQLitePath, logger)
	case config.StorePostgres:
		return kv.NewPostgresStore(ctx, cfg.DatabaseURL, logger)
	default:
		logger.Info("kv: memory store (data is lost on restart)")
		return kv.NewMemoryStore(), nil
	}
}

// ── Background loops ─────────────────────────────────────────────────────────

// sweepLoop drops idle identities from the sliding window so its memory
// tracks active principals only.
func (a *App) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.window.Sweep(); n > 0 {
				a.logger.Debug("rate limit sweep", "evicted", n, "tracked", a.window.Len())
			}
		}
	}
}

// dispatchLoop forwards committed message events to every hook.
func (a *App) dispatchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-a.events:
			if !ok {
				return
			}
			pub := MessageEvent{Type: ev.Type, Message: toPublicMessage(ev.Message)}
			for _, hook := range a.hooks {
				if err := hook.OnMessageEvent(ctx, pub); err != nil {
					a.logger.Warn("message hook failed", "error", err, "event", ev.Type, "message_id", ev.Message.ID)
				}
			}
		}
	}
}

// authHelper implements AuthHelper over the server's admission middleware.
type authHelper struct {
	require server.RequireFunc
}

func (h authHelper) RequireRole(roles ...Role) func(http.Handler) http.Handler {
	internal := make([]model.Role, len(roles))
	for i, r := range roles {
		internal[i] = model.Role(r)
	}
	return h.require(internal...)
}

// ── Type converters ──────────────────────────────────────────────────────────

func toPublicMessage(m model.Message) Message {
	return Message{
		ID:        m.ID,
		From:      m.From,
		To:        m.To,
		Content:   m.Content,
		Type:      string(m.Type),
		Status:    string(m.Status),
		Timestamp: m.Timestamp,
		UpdatedAt: m.UpdatedAt,
		UserID:    m.UserID,
	}
}
