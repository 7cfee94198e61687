// ABOUTME: Store interface and data types for the durable agent exchange log
// ABOUTME: Exchanges are append-only; regeneration adds a version row, never an update

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// Exchange is the durable record of one prompt/response pair, independent
// of the UI's in-memory message list. Written once, at-most-once, after a
// successful agent call. A regeneration creates a new version under the
// same log id rather than mutating an existing row.
type Exchange struct {
	LogID          string
	Version        int
	ConversationID string
	AgentKey       string
	ActorID        string
	Prompt         string
	Output         string
	Tokens         int
	CreatedAt      time.Time
}

// ExchangeStore defines the audit-log persistence operations
type ExchangeStore interface {
	// InsertExchange writes version 1 of a new exchange, filling LogID,
	// Version, and CreatedAt on the passed struct.
	InsertExchange(ctx context.Context, ex *Exchange) error

	// InsertVersion appends the next version for ex.LogID, filling Version
	// and CreatedAt on the passed struct.
	InsertVersion(ctx context.Context, ex *Exchange) error

	// GetExchange returns the latest version for a log id.
	GetExchange(ctx context.Context, logID string) (*Exchange, error)

	// ListVersions returns all versions for a log id, oldest first.
	ListVersions(ctx context.Context, logID string) ([]*Exchange, error)

	// ListConversationExchanges returns the latest version of every exchange
	// in a conversation, oldest first.
	ListConversationExchanges(ctx context.Context, conversationID string) ([]*Exchange, error)
}
