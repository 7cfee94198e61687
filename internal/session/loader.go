// ABOUTME: ConversationLoader fetches a conversation's history and shapes it for the session
// ABOUTME: Transport failures arrive pre-mapped to the taxonomy; wire rows become Messages here

package session

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/baylahnm/nbcon-core/internal/backend"
)

// ConversationFetcher defines what the loader needs from the backend.
type ConversationFetcher interface {
	GetConversation(ctx context.Context, id string) (*backend.Conversation, []backend.WireMessage, error)
}

// LoadResult is the materialized payload of a successful load.
type LoadResult struct {
	Conversation Conversation
	Messages     []Message
}

// Loader resolves a target conversation id into its message history.
// Cancellation, deduplication, and staleness rules live in the Controller;
// the loader is a pure fetch-and-transform step.
type Loader struct {
	fetcher ConversationFetcher
	logger  *slog.Logger
}

// NewLoader creates a conversation loader.
func NewLoader(fetcher ConversationFetcher, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		fetcher: fetcher,
		logger:  logger.With("component", "loader"),
	}
}

// Load fetches the conversation and transforms its messages into the
// canonical shape. Errors carry the backend taxonomy; a cancelled context
// surfaces as context.Canceled for the controller to suppress.
func (l *Loader) Load(ctx context.Context, targetID string) (*LoadResult, error) {
	conv, wire, err := l.fetcher.GetConversation(ctx, targetID)
	if err != nil {
		return nil, err
	}
	if conv.ID == "" {
		return nil, fmt.Errorf("conversation payload missing id: %w", backend.ErrUnavailable)
	}

	result := &LoadResult{
		Conversation: Conversation{
			ID:        conv.ID,
			Title:     conv.Title,
			CreatedAt: conv.CreatedAt,
		},
		Messages: make([]Message, 0, len(wire)),
	}

	for _, m := range wire {
		msg := Message{
			Role:      Role(m.Role),
			Content:   m.Content,
			Timestamp: m.CreatedAt,
		}
		// Synthetic placeholder rows were never persisted as their own
		// audit-log entry, so they get no durable log reference.
		if msg.Role == RoleAssistant && !m.Synthetic {
			msg.LogID = m.ID
			msg.Version = 1
		}
		result.Messages = append(result.Messages, msg)
	}

	l.logger.Debug("conversation loaded",
		"conversation_id", conv.ID,
		"messages", len(result.Messages))
	return result, nil
}
