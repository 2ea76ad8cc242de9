package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kenxsak/voice-chat-ai-sub001/platform/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const insertMessageQuery = `
INSERT INTO messages (id, conversation_id, role, content, parts, image_url, input_tokens, output_tokens, created_at)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7, $8, $9)
RETURNING seq`

const listMessagesQuery = `
SELECT id, conversation_id, seq, role, content, parts, COALESCE(image_url, ''), input_tokens, output_tokens, created_at
FROM messages
WHERE conversation_id = $1
ORDER BY created_at ASC, seq ASC`

// Repository persists messages in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a message repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert appends msg and returns it with its sequence number.
func (r *Repository) Insert(ctx context.Context, msg Message) (Message, error) {
	var parts []byte
	if len(msg.Parts) > 0 {
		encoded, err := json.Marshal(msg.Parts)
		if err != nil {
			return Message{}, fmt.Errorf("encode message parts: %w", err)
		}
		parts = encoded
	}

	err := r.pool.QueryRow(ctx, insertMessageQuery,
		msg.ID, msg.ConversationID, string(msg.Role), msg.Content, parts, msg.ImageURL,
		msg.InputTokens, msg.OutputTokens, msg.CreatedAt,
	).Scan(&msg.Seq)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return Message{}, ErrConversationNotFound
		}
		return Message{}, err
	}
	return msg, nil
}

// ListByConversation returns every message of a conversation in transcript order.
func (r *Repository) ListByConversation(ctx context.Context, conversationID uuid.UUID) ([]Message, error) {
	rows, err := r.pool.Query(ctx, listMessagesQuery, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Message, 0)
	for rows.Next() {
		var (
			msg   Message
			role  string
			parts []byte
		)
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Seq, &role, &msg.Content, &parts,
			&msg.ImageURL, &msg.InputTokens, &msg.OutputTokens, &msg.CreatedAt); err != nil {
			return nil, err
		}
		msg.Role = Role(role)
		if len(parts) > 0 {
			if err := json.Unmarshal(parts, &msg.Parts); err != nil {
				return nil, fmt.Errorf("decode message parts: %w", err)
			}
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}
