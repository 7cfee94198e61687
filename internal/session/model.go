// ABOUTME: Conversation and message model materialized by a session surface
// ABOUTME: Messages are append-only; regeneration patches content/version by log id

package session

import "time"

// Role identifies the author side of a message.
type Role string

// Message roles.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Conversation is a titled, ordered thread of messages. Identity is
// immutable once created; the title may be set once, on the first message.
type Conversation struct {
	ID        string
	Title     string
	CreatedAt time.Time
}

// Message is one entry of the ordered message list. LogID links an
// assistant message to its audit-log row for regeneration and feedback;
// it is empty for user messages and for synthetic placeholder rows.
type Message struct {
	Role      Role
	Content   string
	Timestamp time.Time
	LogID     string
	Version   int
}

// State describes where the session state machine currently is.
type State int

// Session states.
const (
	// StateIdle means no conversation is selected.
	StateIdle State = iota
	// StateLoading means a conversation load is in flight.
	StateLoading
	// StateReady means messages are materialized and submissions are accepted.
	StateReady
	// StateAwaitingAgent means one submission is in flight; new submissions
	// are rejected until it settles.
	StateAwaitingAgent
)

// String returns the state name for logging.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateAwaitingAgent:
		return "awaiting_agent"
	default:
		return "unknown"
	}
}
