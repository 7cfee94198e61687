// ABOUTME: Wire types for the hosted backend's JSON API
// ABOUTME: Conversations, messages, agent runs, and credit balances as the server shapes them

package backend

import "time"

// Conversation is the conversation envelope returned by the backend.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// WireMessage is a single message row as returned by GET /api/conversations/{id}.
// Synthetic marks locally-synthesized placeholder rows that were never
// persisted as their own audit-log entry; they carry no durable log reference.
type WireMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Synthetic bool      `json:"synthetic,omitempty"`
}

// conversationResponse is the full GET /api/conversations/{id} payload.
type conversationResponse struct {
	Conversation
	Messages []WireMessage `json:"messages"`
}

// ChatMessage is one entry of the messages array sent to POST /api/ai/run.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RunRequest is the body of POST /api/ai/run.
type RunRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

// RunResult is the 200 response of POST /api/ai/run.
type RunResult struct {
	Output string `json:"output"`
	Tokens int    `json:"tokens"`
}

// errorResponse is the non-2xx body shape used across the API.
type errorResponse struct {
	Error string `json:"error"`
}

// createConversationRequest is the body of POST /api/conversations.
type createConversationRequest struct {
	Title string `json:"title"`
}

// updateTitleRequest is the body of PATCH /api/conversations/{id}.
type updateTitleRequest struct {
	Title string `json:"title"`
}
