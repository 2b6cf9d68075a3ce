package postgres

import (
	"database/sql"
	"fmt"

	"llm-gateway/internal/logger"
	"llm-gateway/internal/repository/db"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// PlaceholderTitle is the title a conversation carries until its first
// real exchange supplies one.
const PlaceholderTitle = "New conversation"

// EnsureConversation is an idempotent get-or-create. Concurrent callers for
// the same id race on the insert; the loser's conflict is ignored and both
// read the same row back.
func (p *PostgresDB) EnsureConversation(id, accountID string) (*db.Conversation, error) {
	insert := `
	INSERT INTO conversations (id, account_id, title)
	VALUES ($1, $2, $3)
	ON CONFLICT (id) DO NOTHING
	`

	if _, err := p.conn.Exec(insert, id, accountID, PlaceholderTitle); err != nil {
		return nil, fmt.Errorf("error ensuring conversation: %w", err)
	}

	conv, err := p.GetConversation(id)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, fmt.Errorf("conversation %s vanished between insert and read", id)
	}
	return conv, nil
}

// GetConversation retrieves a specific conversation
func (p *PostgresDB) GetConversation(id string) (*db.Conversation, error) {
	var conv db.Conversation
	query := `
	SELECT id, account_id, title, model_history, last_sequence, created_at, updated_at
	FROM conversations
	WHERE id = $1
	`

	err := p.conn.QueryRow(query, id).Scan(
		&conv.ID, &conv.AccountID, &conv.Title, pq.Array(&conv.ModelHistory),
		&conv.LastSequence, &conv.CreatedAt, &conv.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error retrieving conversation: %w", err)
	}

	return &conv, nil
}

// GetConversationsByAccount retrieves all conversations for an account
func (p *PostgresDB) GetConversationsByAccount(accountID string) ([]db.Conversation, error) {
	query := `
	SELECT id, account_id, title, model_history, last_sequence, created_at, updated_at
	FROM conversations
	WHERE account_id = $1
	ORDER BY updated_at DESC
	`

	rows, err := p.conn.Query(query, accountID)
	if err != nil {
		return nil, fmt.Errorf("error querying conversations: %w", err)
	}
	defer rows.Close()

	var conversations []db.Conversation
	for rows.Next() {
		var conv db.Conversation
		if err := rows.Scan(&conv.ID, &conv.AccountID, &conv.Title, pq.Array(&conv.ModelHistory),
			&conv.LastSequence, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, fmt.Errorf("error scanning conversation: %w", err)
		}
		conversations = append(conversations, conv)
	}

	return conversations, rows.Err()
}

// DeleteConversation deletes a conversation and all its messages
func (p *PostgresDB) DeleteConversation(id string) error {
	if _, err := p.conn.Exec(`DELETE FROM conversations WHERE id = $1`, id); err != nil {
		return fmt.Errorf("error deleting conversation: %w", err)
	}

	logger.Log.WithField("conversation_id", id).Info("Deleted conversation")
	return nil
}

// AllocateSequencePair reserves two consecutive sequence numbers in one
// atomic increment. The returned pair stays ordered and unique even when
// exchanges on the same conversation run concurrently.
func (p *PostgresDB) AllocateSequencePair(conversationID string) (int, int, error) {
	query := `
	UPDATE conversations
	SET last_sequence = last_sequence + 2, updated_at = CURRENT_TIMESTAMP
	WHERE id = $1
	RETURNING last_sequence
	`

	var last int
	if err := p.conn.QueryRow(query, conversationID).Scan(&last); err != nil {
		return 0, 0, fmt.Errorf("error allocating sequence numbers: %w", err)
	}

	return last - 1, last, nil
}

// UpdateTitleIfPlaceholder replaces the placeholder title with the first
// ~50 characters of the given text. First write wins; an already-set title
// is never overwritten.
func (p *PostgresDB) UpdateTitleIfPlaceholder(conversationID, title string) error {
	runes := []rune(title)
	if len(runes) > 50 {
		title = string(runes[:50]) + "…"
	}

	query := `UPDATE conversations SET title = $2 WHERE id = $1 AND title = $3`
	if _, err := p.conn.Exec(query, conversationID, title, PlaceholderTitle); err != nil {
		return fmt.Errorf("error updating conversation title: %w", err)
	}
	return nil
}

// AppendModelHistory adds the model to the conversation's ordered history
// only if it is not already present.
func (p *PostgresDB) AppendModelHistory(conversationID, model string) error {
	query := `
	UPDATE conversations
	SET model_history = array_append(model_history, $2)
	WHERE id = $1 AND NOT ($2 = ANY(model_history))
	`

	if _, err := p.conn.Exec(query, conversationID, model); err != nil {
		return fmt.Errorf("error appending model history: %w", err)
	}
	return nil
}

// AddMessage inserts a message with a store-assigned id. Total tokens are
// derived from the input/output counts, never supplied by the caller.
func (p *PostgresDB) AddMessage(conversationID, role, content, model string, inputTokens, outputTokens, sequence int) (*db.Message, error) {
	msgID := uuid.New().String()
	totalTokens := inputTokens + outputTokens

	var modelValue sql.NullString
	if model != "" {
		modelValue = sql.NullString{String: model, Valid: true}
	}

	query := `
	INSERT INTO messages (id, conversation_id, role, content, model, input_tokens, output_tokens, total_tokens, sequence_number)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	RETURNING created_at
	`

	msg := &db.Message{
		ID:             msgID,
		ConversationID: conversationID,
		Role:           role,
		Content:        content,
		Model:          model,
		InputTokens:    inputTokens,
		OutputTokens:   outputTokens,
		TotalTokens:    totalTokens,
		SequenceNumber: sequence,
	}

	err := p.conn.QueryRow(query, msgID, conversationID, role, content, modelValue,
		inputTokens, outputTokens, totalTokens, sequence).Scan(&msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("error adding message: %w", err)
	}

	logger.Log.WithFields(logrus.Fields{
		"conversation_id": conversationID,
		"role":            role,
		"sequence":        sequence,
		"total_tokens":    totalTokens,
	}).Debug("Added message")

	return msg, nil
}

// GetConversationMessages retrieves all messages in sequence order
func (p *PostgresDB) GetConversationMessages(conversationID string) ([]db.Message, error) {
	query := `
	SELECT id, conversation_id, role, content, COALESCE(model, ''), input_tokens, output_tokens, total_tokens, sequence_number, created_at
	FROM messages
	WHERE conversation_id = $1
	ORDER BY sequence_number ASC
	`

	rows, err := p.conn.Query(query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("error querying messages: %w", err)
	}
	defer rows.Close()

	var messages []db.Message
	for rows.Next() {
		var msg db.Message
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &msg.Model,
			&msg.InputTokens, &msg.OutputTokens, &msg.TotalTokens, &msg.SequenceNumber, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("error scanning message: %w", err)
		}
		messages = append(messages, msg)
	}

	return messages, rows.Err()
}
