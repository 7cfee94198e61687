// ABOUTME: HTTP/JSON client for the hosted backend consumed by the session pipeline
// ABOUTME: Applies bearer auth, per-call deadlines, and error taxonomy mapping

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/baylahnm/nbcon-core/internal/auth"
	"github.com/baylahnm/nbcon-core/internal/credits"
)

// Client talks to the hosted backend's JSON API. All methods resolve the
// actor identity first and fail with ErrAuthRequired before any network
// call when no actor is available.
type Client struct {
	baseURL     string
	httpc       *http.Client
	tokens      auth.TokenSource
	logger      *slog.Logger
	loadTimeout time.Duration
	runTimeout  time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client (used by tests).
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) { c.httpc = httpc }
}

// WithTimeouts sets the per-call deadlines for load and run paths.
func WithTimeouts(load, run time.Duration) Option {
	return func(c *Client) {
		if load > 0 {
			c.loadTimeout = load
		}
		if run > 0 {
			c.runTimeout = run
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger.With("component", "backend") }
}

// New creates a backend client for the given base URL.
func New(baseURL string, tokens auth.TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpc:       &http.Client{},
		tokens:      tokens,
		logger:      slog.Default().With("component", "backend"),
		loadTimeout: 30 * time.Second,
		runTimeout:  2 * time.Minute,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetConversation fetches a conversation and its message history.
func (c *Client) GetConversation(ctx context.Context, id string) (*Conversation, []WireMessage, error) {
	var resp conversationResponse
	path := "/api/conversations/" + url.PathEscape(id)
	if err := c.do(ctx, http.MethodGet, path, c.loadTimeout, nil, &resp); err != nil {
		return nil, nil, fmt.Errorf("fetching conversation: %w", err)
	}
	if resp.ID == "" {
		return nil, nil, fmt.Errorf("conversation payload missing id: %w", ErrUnavailable)
	}
	return &resp.Conversation, resp.Messages, nil
}

// CreateConversation creates a new conversation with the given title.
func (c *Client) CreateConversation(ctx context.Context, title string) (*Conversation, error) {
	var resp Conversation
	body := createConversationRequest{Title: title}
	if err := c.do(ctx, http.MethodPost, "/api/conversations", c.loadTimeout, body, &resp); err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("conversation payload missing id: %w", ErrUnavailable)
	}
	return &resp, nil
}

// UpdateTitle renames a conversation. Used once, when the first message is
// sent into a pre-existing empty conversation.
func (c *Client) UpdateTitle(ctx context.Context, id, title string) error {
	path := "/api/conversations/" + url.PathEscape(id)
	body := updateTitleRequest{Title: title}
	if err := c.do(ctx, http.MethodPatch, path, c.loadTimeout, body, nil); err != nil {
		return fmt.Errorf("updating conversation title: %w", err)
	}
	return nil
}

// RunAgent executes one prompt against the agent execution endpoint.
func (c *Client) RunAgent(ctx context.Context, req RunRequest) (*RunResult, error) {
	var resp RunResult
	if err := c.do(ctx, http.MethodPost, "/api/ai/run", c.runTimeout, req, &resp); err != nil {
		return nil, fmt.Errorf("running agent: %w", err)
	}
	return &resp, nil
}

// Balance reads the actor's current credit balance.
// Implements credits.Source.
func (c *Client) Balance(ctx context.Context) (credits.Balance, error) {
	var resp struct {
		Used      int  `json:"used"`
		Limit     int  `json:"limit"`
		Unlimited bool `json:"unlimited"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/credits", c.loadTimeout, nil, &resp); err != nil {
		return credits.Balance{}, fmt.Errorf("fetching credit balance: %w", err)
	}
	return credits.Balance{Used: resp.Used, Limit: resp.Limit, Unlimited: resp.Unlimited}, nil
}

// do executes one JSON request with bearer auth, a deadline, and taxonomy
// error mapping. out may be nil when the response body is irrelevant.
func (c *Client) do(ctx context.Context, method, path string, timeout time.Duration, in, out any) error {
	identity, err := c.tokens.Identity(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuthRequired, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(callCtx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+identity.Token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		// Caller-driven cancellation stays context.Canceled so the session
		// layer can suppress it; our own deadline becomes ErrUnavailable.
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
			return context.Canceled
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: deadline exceeded", ErrUnavailable)
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.mapStatus(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", ErrUnavailable, err)
	}
	return nil
}

// mapStatus converts a non-2xx response into a taxonomy error.
func (c *Client) mapStatus(resp *http.Response) error {
	var apiErr errorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&apiErr)

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return ErrAuthRequired
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	default:
		c.logger.Debug("backend request failed",
			"status", resp.StatusCode,
			"error", apiErr.Error)
		if apiErr.Error != "" {
			return fmt.Errorf("%w: %s", ErrUnavailable, apiErr.Error)
		}
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}
}
