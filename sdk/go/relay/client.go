package relay

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const userAgent = "agentrelay-go/0.1.0"

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the root URL of the relay server (e.g. "http://localhost:8080").
	BaseURL string

	// APIKey is sent as X-API-Key. The server checks it before Token.
	APIKey string

	// Token is a bearer token minted for this agent (see relaytoken mint).
	Token string

	// HTTPClient is an optional custom HTTP client. If nil, a default client
	// with a 30-second timeout is used.
	HTTPClient *http.Client

	// Timeout applies to individual API requests. Defaults to 30 seconds.
	Timeout time.Duration
}

// Client is an HTTP client for the agent relay API.
// All methods are safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	token   string
	client  *http.Client
}

// NewClient creates a Client from the given configuration.
// Returns an error if BaseURL is empty or no credential is set.
func NewClient(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("relay: BaseURL is required")
	}
	if cfg.APIKey == "" && cfg.Token == "" {
		return nil, fmt.Errorf("relay: APIKey or Token is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = 30 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/") + "/api",
		apiKey:  cfg.APIKey,
		token:   cfg.Token,
		client:  httpClient,
	}, nil
}

// ---------------------------------------------------------------------------
// Agents
// ---------------------------------------------------------------------------

// ListAgents returns a page of agents. Nil opts use the server defaults.
func (c *Client) ListAgents(ctx context.Context, opts *ListAgentsOptions) (*AgentList, error) {
	params := url.Values{}
	if opts != nil {
		if opts.Type != "" {
			params.Set("type", opts.Type)
		}
		setPage(params, opts.Page, opts.Limit)
	}
	var resp AgentList
	if err := c.do(ctx, http.MethodGet, withQuery("/agents", params), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreateAgent registers a new agent.
func (c *Client) CreateAgent(ctx context.Context, req CreateAgentRequest) (*Agent, error) {
	var resp Agent
	if err := c.do(ctx, http.MethodPost, "/agents", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetAgent retrieves one agent by ID.
func (c *Client) GetAgent(ctx context.Context, id string) (*Agent, error) {
	var resp Agent
	if err := c.do(ctx, http.MethodGet, "/agents/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateAgent changes an agent's name or status.
func (c *Client) UpdateAgent(ctx context.Context, id string, req UpdateAgentRequest) (*Agent, error) {
	var resp Agent
	if err := c.do(ctx, http.MethodPut, "/agents/"+url.PathEscape(id), req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteAgent removes an agent.
func (c *Client) DeleteAgent(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/agents/"+url.PathEscape(id), nil, nil)
}

// GetAgentStatus returns an agent's status and last activity.
func (c *Client) GetAgentStatus(ctx context.Context, id string) (*AgentStatus, error) {
	var resp AgentStatus
	if err := c.do(ctx, http.MethodGet, "/agents/"+url.PathEscape(id)+"/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// Messages
// ---------------------------------------------------------------------------

// ListMessages returns a page of messages, newest first.
func (c *Client) ListMessages(ctx context.Context, opts *ListMessagesOptions) (*MessageList, error) {
	params := url.Values{}
	if opts != nil {
		if opts.From != "" {
			params.Set("from", opts.From)
		}
		if opts.To != "" {
			params.Set("to", opts.To)
		}
		setPage(params, opts.Page, opts.Limit)
	}
	var resp MessageList
	if err := c.do(ctx, http.MethodGet, withQuery("/messages", params), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SendMessage relays a message from one agent to another.
func (c *Client) SendMessage(ctx context.Context, req SendMessageRequest) (*Message, error) {
	var resp Message
	if err := c.do(ctx, http.MethodPost, "/messages", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetMessage retrieves one message by ID.
func (c *Client) GetMessage(ctx context.Context, id string) (*Message, error) {
	var resp Message
	if err := c.do(ctx, http.MethodGet, "/messages/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// UpdateMessageStatus sets a message's delivery status.
func (c *Client) UpdateMessageStatus(ctx context.Context, id, status string) (*Message, error) {
	body := map[string]string{"status": status}
	var resp Message
	if err := c.do(ctx, http.MethodPatch, "/messages/"+url.PathEscape(id)+"/status", body, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// DeleteMessage removes a message. Only the principal that sent it may
// delete it; anyone else gets a 403.
func (c *Client) DeleteMessage(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/messages/"+url.PathEscape(id), nil, nil)
}

// Conversation returns the exchange between agents a and b in chronological
// order. A limit of zero uses the server default.
func (c *Client) Conversation(ctx context.Context, a, b string, limit int) (*Conversation, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	path := withQuery("/messages/conversation/"+url.PathEscape(a)+"/"+url.PathEscape(b), params)
	var resp Conversation
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RebuildIndex asks the server to rebuild its per-agent message index.
// Requires the president role. Returns the number of agents indexed.
func (c *Client) RebuildIndex(ctx context.Context) (int, error) {
	var resp struct {
		Rebuilt int `json:"rebuilt"`
	}
	if err := c.do(ctx, http.MethodPost, "/admin/reindex", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Rebuilt, nil
}

// Health returns the server health status. Does not send credentials.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relay: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var health HealthResponse
	if err := handleResponse(resp, &health); err != nil {
		return nil, err
	}
	return &health, nil
}

// Stream subscribes to message events and calls fn for each one until ctx is
// cancelled, the server closes the stream, or fn returns an error. With a
// non-empty agent only events for messages that agent sent or received are
// delivered. The client's Timeout does not apply to the stream; use ctx.
func (c *Client) Stream(ctx context.Context, agent string, fn func(Event) error) error {
	params := url.Values{}
	if agent != "" {
		params.Set("agent", agent)
	}
	req, err := c.newRequest(ctx, http.MethodGet, withQuery("/messages/stream", params), nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	req.Header.Set("Accept", "text/event-stream")

	// A copy without the per-request timeout, sharing the transport.
	streamClient := *c.client
	streamClient.Timeout = 0

	resp, err := streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("relay: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return handleResponse(resp, nil)
	}

	err = readEvents(resp.Body, fn)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// readEvents parses a text/event-stream body. Comment lines (keepalives) are
// skipped; each blank line terminates one event.
func readEvents(r io.Reader, fn func(Event) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var eventType string
	var data []byte
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data == nil {
				eventType = ""
				continue
			}
			var msg Message
			if err := json.Unmarshal(data, &msg); err != nil {
				return fmt.Errorf("relay: decode stream event: %w", err)
			}
			if err := fn(Event{Type: eventType, Message: msg}); err != nil {
				return err
			}
			eventType, data = "", nil
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " ")...)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("relay: read stream: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// HTTP transport
// ---------------------------------------------------------------------------

// apiErrorEnvelope is the server's standard error response wrapper.
type apiErrorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Reason  string `json:"reason"`
		Message string `json:"message"`
	} `json:"error"`
	RetryAfter int `json:"retryAfter"`
	Meta       struct {
		RequestID string `json:"request_id"`
	} `json:"meta"`
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("relay: marshal request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("relay: create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Request-ID", uuid.NewString())
	return req, nil
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, dest any) error {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	c.authorize(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("relay: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return handleResponse(resp, dest)
}

func handleResponse(resp *http.Response, dest any) error {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("relay: read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return parseErrorResponse(resp, bodyBytes)
	}

	if resp.StatusCode == http.StatusNoContent || dest == nil {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, dest); err != nil {
		return fmt.Errorf("relay: decode response: %w", err)
	}
	return nil
}

func parseErrorResponse(resp *http.Response, body []byte) *Error {
	apiErr := &Error{
		StatusCode: resp.StatusCode,
		RequestID:  resp.Header.Get("X-Request-ID"),
	}

	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Reason = envelope.Error.Reason
		apiErr.Message = envelope.Error.Message
		if envelope.Meta.RequestID != "" {
			apiErr.RequestID = envelope.Meta.RequestID
		}
		apiErr.RetryAfter = time.Duration(envelope.RetryAfter) * time.Second
	} else {
		apiErr.Code = http.StatusText(resp.StatusCode)
		apiErr.Message = string(body)
	}

	if apiErr.RetryAfter == 0 {
		if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil {
			apiErr.RetryAfter = time.Duration(secs) * time.Second
		}
	}

	return apiErr
}

func setPage(params url.Values, page, limit int) {
	if page > 0 {
		params.Set("page", strconv.Itoa(page))
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
}

func withQuery(path string, params url.Values) string {
	if len(params) == 0 {
		return path
	}
	return path + "?" + params.Encode()
}
