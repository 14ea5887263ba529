package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ashita-ai/agentrelay/internal/ctxutil"
	"github.com/ashita-ai/agentrelay/internal/messages"
	"github.com/ashita-ai/agentrelay/internal/model"
	"github.com/ashita-ai/agentrelay/internal/registry"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	registry            *registry.Registry
	messages            *messages.Store
	broker              *messages.Broker
	errs                errorResponder
	logger              *slog.Logger
	startedAt           time.Time
	version             string
	storeBackend        string
	maxRequestBodyBytes int64
	openapiSpec         []byte
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Broker is optional: without it the message stream answers 503.
// OpenAPISpec is optional: without it /api/openapi.yaml is a 404.
type HandlersDeps struct {
	Registry            *registry.Registry
	Messages            *messages.Store
	Broker              *messages.Broker
	Logger              *slog.Logger
	Version             string
	StoreBackend        string
	MaxRequestBodyBytes int64
	ExposeStack         bool
	OpenAPISpec         []byte
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		registry:            d.Registry,
		messages:            d.Messages,
		broker:              d.Broker,
		errs:                errorResponder{logger: d.Logger, exposeStack: d.ExposeStack},
		logger:              d.Logger,
		startedAt:           time.Now(),
		version:             d.Version,
		storeBackend:        d.StoreBackend,
		maxRequestBodyBytes: d.MaxRequestBodyBytes,
		openapiSpec:         d.OpenAPISpec,
	}
}

func (h *Handlers) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	h.errs.write(w, r, err)
}

// HandleHealth handles GET /api/health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, model.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Version:   h.version,
		Store:     h.storeBackend,
		Uptime:    int64(time.Since(h.startedAt).Seconds()),
	})
}

// HandleNotFound answers every request no route matched.
func (h *Handlers) HandleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "Endpoint not found")
}

// HandleRebuildIndex handles POST /api/admin/reindex.
func (h *Handlers) HandleRebuildIndex(w http.ResponseWriter, r *http.Request) {
	n, err := h.messages.RebuildIndex(r.Context())
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	p, _ := ctxutil.PrincipalFromContext(r.Context())
	h.logger.Info("message index rebuilt", "entries", n, "principal_id", p.ID)
	writeJSON(w, http.StatusOK, map[string]any{"rebuilt": n})
}

// HandleOpenAPISpec serves the embedded OpenAPI specification.
func (h *Handlers) HandleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if len(h.openapiSpec) == 0 {
		h.HandleNotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.openapiSpec)
}

// HandleStream handles GET /api/messages/stream (SSE). With ?agent=X only
// events for messages X sent or received are delivered.
func (h *Handlers) HandleStream(w http.ResponseWriter, r *http.Request) {
	if h.broker == nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError, "message stream not available")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, "streaming not supported")
		return
	}

	agent := r.URL.Query().Get("agent")

	// Subscribe before the headers go out so nothing committed after the
	// client sees 200 is missed.
	ch := h.broker.Subscribe()
	defer h.broker.Unsubscribe(ch)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// Disable the server's WriteTimeout for this long-lived connection.
	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	keepalive := time.NewTicker(15 * time.Second)
	defer keepalive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepalive.C:
			if _, err := w.Write([]byte(":keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case event, ok := <-ch:
			if !ok {
				return
			}
			if agent != "" && event.Message.From != agent && event.Message.To != agent {
				continue
			}
			data, err := json.Marshal(event.Message)
			if err != nil {
				h.logger.Warn("sse: marshal event", "error", err)
				continue
			}
			if _, err := w.Write(formatSSE(event.Type, data)); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// formatSSE formats an event in the text/event-stream wire format.
func formatSSE(eventType string, data []byte) []byte {
	buf := make([]byte, 0, len(eventType)+len(data)+16)
	buf = append(buf, "event: "...)
	buf = append(buf, eventType...)
	buf = append(buf, "\ndata: "...)
	buf = append(buf, data...)
	buf = append(buf, "\n\n"...)
	return buf
}

// maxPageLimit caps page sizes on every list endpoint.
const maxPageLimit = 100

// queryPagination reads page and limit. Absent values take the defaults;
// present values must be integers with page >= 1 and limit in [1, 100].
func queryPagination(r *http.Request, defaultLimit int) (page, limit int, err error) {
	page, err = queryInt(r, "page", 1)
	if err != nil || page < 1 {
		return 0, 0, model.InvalidArgument("page must be a positive integer")
	}
	limit, err = queryInt(r, "limit", defaultLimit)
	if err != nil || limit < 1 || limit > maxPageLimit {
		return 0, 0, model.InvalidArgument("limit must be between 1 and 100")
	}
	return page, limit, nil
}

func queryInt(r *http.Request, key string, defaultVal int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal, nil
	}
	return strconv.Atoi(v)
}

// checkLen rejects a field longer than max bytes.
func checkLen(field, value string, max int) error {
	if len(value) > max {
		return model.InvalidArgument(field + " must be at most " + strconv.Itoa(max) + " characters")
	}
	return nil
}
