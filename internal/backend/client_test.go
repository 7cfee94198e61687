// ABOUTME: Tests for the backend HTTP client
// ABOUTME: Verifies bearer auth, taxonomy mapping, and cancellation passthrough

package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baylahnm/nbcon-core/internal/auth"
)

// staticTokens implements auth.TokenSource with a fixed identity
type staticTokens struct {
	identity *auth.Identity
	err      error
}

func (s *staticTokens) Identity(_ context.Context) (*auth.Identity, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.identity, nil
}

func testTokens() *staticTokens {
	return &staticTokens{identity: &auth.Identity{ActorID: "actor-1", Token: "tok-123"}}
}

func TestGetConversation(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/api/conversations/conv-1", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "conv-1",
			"title": "T",
			"created_at": "2025-01-01T00:00:00Z",
			"messages": [
				{"id": "m0", "role": "user", "content": "hi", "created_at": "2025-01-01T00:00:00Z"}
			]
		}`))
	}))
	defer srv.Close()

	client := New(srv.URL, testTokens())

	conv, messages, err := client.GetConversation(context.Background(), "conv-1")
	require.NoError(t, err)

	assert.Equal(t, "Bearer tok-123", gotAuth)
	assert.Equal(t, "conv-1", conv.ID)
	assert.Equal(t, "T", conv.Title)
	require.Len(t, messages, 1)
	assert.Equal(t, "m0", messages[0].ID)
	assert.Equal(t, "user", messages[0].Role)
	assert.Equal(t, "hi", messages[0].Content)
	assert.False(t, messages[0].Synthetic)
}

func TestGetConversation_StatusMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{name: "not found", status: http.StatusNotFound, wantErr: ErrNotFound},
		{name: "unauthorized", status: http.StatusUnauthorized, wantErr: ErrAuthRequired},
		{name: "forbidden", status: http.StatusForbidden, wantErr: ErrForbidden},
		{name: "server error", status: http.StatusInternalServerError, wantErr: ErrUnavailable},
		{name: "bad gateway", status: http.StatusBadGateway, wantErr: ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"error":"nope"}`))
			}))
			defer srv.Close()

			client := New(srv.URL, testTokens())

			_, _, err := client.GetConversation(context.Background(), "conv-x")
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestGetConversation_MalformedPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"title":"no id here"}`))
	}))
	defer srv.Close()

	client := New(srv.URL, testTokens())

	_, _, err := client.GetConversation(context.Background(), "conv-1")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestNoActor_NoNetworkCall(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	client := New(srv.URL, &staticTokens{err: auth.ErrNoActor})

	_, _, err := client.GetConversation(context.Background(), "conv-1")
	assert.ErrorIs(t, err, ErrAuthRequired)

	_, err = client.RunAgent(context.Background(), RunRequest{Model: "m"})
	assert.ErrorIs(t, err, ErrAuthRequired)

	assert.Equal(t, int32(0), calls.Load(), "no network call may happen without an actor")
}

func TestRunAgent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/ai/run", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req RunRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "user", req.Messages[1].Role)
		assert.Equal(t, 0.7, req.Temperature)
		assert.Equal(t, 512, req.MaxTokens)

		_, _ = w.Write([]byte(`{"output":"hello there","tokens":42}`))
	}))
	defer srv.Close()

	client := New(srv.URL, testTokens())

	result, err := client.RunAgent(context.Background(), RunRequest{
		Model: "gpt-4o-mini",
		Messages: []ChatMessage{
			{Role: "system", Content: "be helpful"},
			{Role: "user", Content: "hi"},
		},
		Temperature: 0.7,
		MaxTokens:   512,
	})
	require.NoError(t, err)
	assert.Equal(t, "hello there", result.Output)
	assert.Equal(t, 42, result.Tokens)
}

func TestRunAgent_ServerErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"model overloaded"}`))
	}))
	defer srv.Close()

	client := New(srv.URL, testTokens())

	_, err := client.RunAgent(context.Background(), RunRequest{Model: "m"})
	require.ErrorIs(t, err, ErrUnavailable)
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestCreateConversation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/conversations", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req struct {
			Title string `json:"title"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Explain load calc", req.Title)

		_, _ = w.Write([]byte(`{"id":"conv-9","title":"Explain load calc","created_at":"2025-01-01T00:00:00Z"}`))
	}))
	defer srv.Close()

	client := New(srv.URL, testTokens())

	conv, err := client.CreateConversation(context.Background(), "Explain load calc")
	require.NoError(t, err)
	assert.Equal(t, "conv-9", conv.ID)
}

func TestUpdateTitle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/conversations/conv-1", r.URL.Path)
		assert.Equal(t, http.MethodPatch, r.Method)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := New(srv.URL, testTokens())
	require.NoError(t, client.UpdateTitle(context.Background(), "conv-1", "New title"))
}

func TestBalance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/credits", r.URL.Path)
		_, _ = w.Write([]byte(`{"used":3,"limit":10,"unlimited":false}`))
	}))
	defer srv.Close()

	client := New(srv.URL, testTokens())

	balance, err := client.Balance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, balance.Used)
	assert.Equal(t, 10, balance.Limit)
	assert.False(t, balance.Unlimited)
}

func TestCancellation_SurfacesContextCanceled(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-release
	}))
	defer srv.Close()
	defer close(release)

	client := New(srv.URL, testTokens())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	_, _, err := client.GetConversation(ctx, "conv-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled), "caller cancellation must stay context.Canceled, got %v", err)
}

func TestDeadline_MapsToUnavailable(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	client := New(srv.URL, testTokens(), WithTimeouts(50*time.Millisecond, 50*time.Millisecond))

	_, _, err := client.GetConversation(context.Background(), "conv-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.False(t, errors.Is(err, context.Canceled))
}
