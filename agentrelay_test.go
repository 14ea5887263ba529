package agentrelay_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/agentrelay"
	"github.com/ashita-ai/agentrelay/internal/testutil"
)

const testAPIKey = "embed-api-key-0123456789"

type recordingHook struct {
	mu     sync.Mutex
	events []agentrelay.MessageEvent
}

func (h *recordingHook) OnMessageEvent(_ context.Context, ev agentrelay.MessageEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
	return nil
}

func (h *recordingHook) snapshot() []agentrelay.MessageEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]agentrelay.MessageEvent(nil), h.events...)
}

func cleanEnv(t *testing.T) {
	t.Helper()
	t.Setenv("RELAY_STORE", "memory")
	t.Setenv("RELAY_ENV", "test")
	t.Setenv("RELAY_API_KEYS", "")
	t.Setenv("RELAY_JWT_PRIVATE_KEY", "")
	t.Setenv("RELAY_JWT_PUBLIC_KEY", "")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
}

func newApp(t *testing.T, opts ...agentrelay.Option) *agentrelay.App {
	t.Helper()
	cleanEnv(t)
	app, err := agentrelay.New(append([]agentrelay.Option{agentrelay.WithPort(0)}, opts...)...)
	require.NoError(t, err)
	return app
}

func do(t *testing.T, srv *httptest.Server, method, path string, header http.Header, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	for k, v := range header {
		req.Header[k] = v
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func bearer(token string) http.Header {
	return http.Header{"Authorization": []string{"Bearer " + token}}
}

func TestEmbeddedApp(t *testing.T) {
	hook := &recordingHook{}
	app := newApp(t,
		agentrelay.WithVersion("9.9.9"),
		agentrelay.WithAPIKeys(testAPIKey),
		agentrelay.WithMessageHook(hook),
		agentrelay.WithExtraRoutes(func(mux *http.ServeMux, auth agentrelay.AuthHelper) {
			mux.Handle("GET /api/ext/ping", auth.RequireRole(agentrelay.RoleBoss)(http.HandlerFunc(
				func(w http.ResponseWriter, _ *http.Request) {
					_, _ = w.Write([]byte("pong"))
				})))
		}),
		agentrelay.WithMiddleware(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("X-Embedded", "yes")
				next.ServeHTTP(w, r)
			})
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	srv := httptest.NewServer(app.Handler())
	defer srv.Close()

	bossToken, _, err := app.IssueToken("boss-1", agentrelay.RoleBoss, time.Hour)
	require.NoError(t, err)
	workerToken, _, err := app.IssueToken("worker-1", agentrelay.RoleWorker, time.Hour)
	require.NoError(t, err)

	t.Run("health reports version", func(t *testing.T) {
		resp := do(t, srv, http.MethodGet, "/api/health", nil, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "yes", resp.Header.Get("X-Embedded"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		assert.Equal(t, "9.9.9", body["version"])
		assert.Equal(t, "memory", body["store"])
	})

	t.Run("openapi document is public", func(t *testing.T) {
		resp := do(t, srv, http.MethodGet, "/api/openapi.yaml", nil, "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/yaml", resp.Header.Get("Content-Type"))
	})

	t.Run("extra route enforces role", func(t *testing.T) {
		resp := do(t, srv, http.MethodGet, "/api/ext/ping", bearer(bossToken), "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		resp = do(t, srv, http.MethodGet, "/api/ext/ping", bearer(workerToken), "")
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)

		resp = do(t, srv, http.MethodGet, "/api/ext/ping", nil, "")
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("api key option is honoured", func(t *testing.T) {
		resp := do(t, srv, http.MethodGet, "/api/agents", http.Header{"X-Api-Key": []string{testAPIKey}}, "")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("hooks receive message events", func(t *testing.T) {
		resp := do(t, srv, http.MethodPost, "/api/messages", bearer(bossToken), `{"from":"boss","to":"worker1","content":"hello"}`)
		require.Equal(t, http.StatusCreated, resp.StatusCode)

		require.Eventually(t, func() bool {
			return len(hook.snapshot()) == 1
		}, 2*time.Second, 10*time.Millisecond)

		ev := hook.snapshot()[0]
		assert.Equal(t, agentrelay.EventMessageSent, ev.Type)
		assert.Equal(t, "boss", ev.Message.From)
		assert.Equal(t, "worker1", ev.Message.To)
		assert.Equal(t, "hello", ev.Message.Content)
		assert.Equal(t, "text", ev.Message.Type)
		assert.Equal(t, "sent", ev.Message.Status)
		assert.Equal(t, "boss-1", ev.Message.UserID)
	})

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(15 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	// A second Shutdown is a no-op.
	require.NoError(t, app.Shutdown(context.Background()))
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cleanEnv(t)
	t.Setenv("RELAY_RATE_MAX", "lots")
	_, err := agentrelay.New()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "RELAY_RATE_MAX")
}

func TestNewRejectsUnknownStore(t *testing.T) {
	cleanEnv(t)
	_, err := agentrelay.New(agentrelay.WithStore("cassandra"))
	require.Error(t, err)
}

func TestPostgresStoreSurvivesRestart(t *testing.T) {
	dsn := testutil.StartPostgres(t)
	cleanEnv(t)

	open := func() (*agentrelay.App, *httptest.Server, string) {
		app, err := agentrelay.New(
			agentrelay.WithPort(0),
			agentrelay.WithStore("postgres"),
			agentrelay.WithDatabaseURL(dsn),
			agentrelay.WithLogger(testutil.TestLogger()),
		)
		require.NoError(t, err)
		token, _, err := app.IssueToken("boss-1", agentrelay.RoleBoss, time.Hour)
		require.NoError(t, err)
		return app, httptest.NewServer(app.Handler()), token
	}

	app, srv, token := open()
	resp := do(t, srv, http.MethodPost, "/api/agents", bearer(token), `{"name":"w1","type":"worker"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var agent struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&agent))
	resp = do(t, srv, http.MethodPost, "/api/messages", bearer(token), `{"from":"boss","to":"worker1","content":"persist me"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	srv.Close()
	require.NoError(t, app.Shutdown(context.Background()))

	// Tokens are signed with an ephemeral key, so the second boot issues its own.
	app, srv, token = open()
	defer srv.Close()
	defer func() { _ = app.Shutdown(context.Background()) }()

	resp = do(t, srv, http.MethodGet, "/api/agents/"+agent.ID, bearer(token), "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp = do(t, srv, http.MethodGet, "/api/messages/conversation/boss/worker1", bearer(token), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var conv struct {
		MessageCount int `json:"messageCount"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&conv))
	assert.Equal(t, 1, conv.MessageCount)
}
