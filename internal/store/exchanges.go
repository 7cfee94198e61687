// ABOUTME: SQLite methods for agent exchange rows with append-only versioning
// ABOUTME: InsertExchange writes version 1, InsertVersion appends the next version

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const insertExchangeQuery = `
	INSERT INTO ai_logs (log_id, version, conversation_id, agent_key, actor_id, prompt, output, tokens, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`

// InsertExchange writes version 1 of a new exchange.
// Generates LogID and CreatedAt if not set.
func (s *SQLiteStore) InsertExchange(ctx context.Context, ex *Exchange) error {
	if ex.LogID == "" {
		ex.LogID = uuid.New().String()
	}
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now().UTC()
	}
	ex.Version = 1

	_, err := s.db.ExecContext(ctx, insertExchangeQuery,
		ex.LogID,
		ex.Version,
		nullString(ex.ConversationID),
		ex.AgentKey,
		ex.ActorID,
		ex.Prompt,
		ex.Output,
		ex.Tokens,
		ex.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting exchange: %w", err)
	}

	s.logger.Debug("exchange recorded",
		"log_id", ex.LogID,
		"conversation_id", ex.ConversationID,
		"agent_key", ex.AgentKey,
		"tokens", ex.Tokens,
	)
	return nil
}

// InsertVersion appends the next version for ex.LogID. The version number is
// assigned inside a transaction so concurrent regenerations cannot collide.
func (s *SQLiteStore) InsertVersion(ctx context.Context, ex *Exchange) error {
	if ex.LogID == "" {
		return fmt.Errorf("inserting version: log id is required")
	}
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning version insert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var current int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM ai_logs WHERE log_id = ?`, ex.LogID).Scan(&current)
	if err != nil {
		return fmt.Errorf("reading current version: %w", err)
	}
	if current == 0 {
		return fmt.Errorf("inserting version for %s: %w", ex.LogID, ErrNotFound)
	}
	ex.Version = current + 1

	_, err = tx.ExecContext(ctx, insertExchangeQuery,
		ex.LogID,
		ex.Version,
		nullString(ex.ConversationID),
		ex.AgentKey,
		ex.ActorID,
		ex.Prompt,
		ex.Output,
		ex.Tokens,
		ex.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting exchange version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing version insert: %w", err)
	}

	s.logger.Debug("exchange version recorded",
		"log_id", ex.LogID,
		"version", ex.Version,
	)
	return nil
}

const selectExchangeColumns = `
	SELECT log_id, version, conversation_id, agent_key, actor_id, prompt, output, tokens, created_at
	FROM ai_logs
`

// GetExchange returns the latest version for a log id.
func (s *SQLiteStore) GetExchange(ctx context.Context, logID string) (*Exchange, error) {
	row := s.db.QueryRowContext(ctx,
		selectExchangeColumns+`WHERE log_id = ? ORDER BY version DESC LIMIT 1`, logID)

	ex, err := scanExchange(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return ex, nil
}

// ListVersions returns all versions for a log id, oldest first.
func (s *SQLiteStore) ListVersions(ctx context.Context, logID string) ([]*Exchange, error) {
	rows, err := s.db.QueryContext(ctx,
		selectExchangeColumns+`WHERE log_id = ? ORDER BY version ASC`, logID)
	if err != nil {
		return nil, fmt.Errorf("querying exchange versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectExchanges(rows)
}

// ListConversationExchanges returns the latest version of every exchange in a
// conversation, oldest first.
func (s *SQLiteStore) ListConversationExchanges(ctx context.Context, conversationID string) ([]*Exchange, error) {
	query := selectExchangeColumns + `
		WHERE conversation_id = ?
		  AND version = (SELECT MAX(version) FROM ai_logs inner_logs WHERE inner_logs.log_id = ai_logs.log_id)
		ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("querying conversation exchanges: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collectExchanges(rows)
}

// collectExchanges drains rows into exchange structs.
func collectExchanges(rows *sql.Rows) ([]*Exchange, error) {
	var exchanges []*Exchange
	for rows.Next() {
		ex, err := scanExchange(rows)
		if err != nil {
			return nil, err
		}
		exchanges = append(exchanges, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating exchange rows: %w", err)
	}
	return exchanges, nil
}

// scanExchange scans a single row into an Exchange struct.
func scanExchange(scanner interface{ Scan(dest ...any) error }) (*Exchange, error) {
	var ex Exchange
	var conversationID sql.NullString
	var createdAtStr string

	err := scanner.Scan(
		&ex.LogID,
		&ex.Version,
		&conversationID,
		&ex.AgentKey,
		&ex.ActorID,
		&ex.Prompt,
		&ex.Output,
		&ex.Tokens,
		&createdAtStr,
	)
	if err != nil {
		return nil, err
	}

	if conversationID.Valid {
		ex.ConversationID = conversationID.String
	}

	ex.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &ex, nil
}

// nullString converts an empty string to a NULL-able sql value.
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
