package repository

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrConversationNotFound is returned when appending to an unknown conversation.
var ErrConversationNotFound = errors.New("conversation not found")

// Role identifies the author of a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAgent
}

// Part is one element of a multi-part message body.
type Part struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	MediaURL string `json:"mediaUrl,omitempty"`
}

// Message is an immutable entry of a conversation transcript.
type Message struct {
	ID             uuid.UUID
	ConversationID uuid.UUID
	// Seq breaks ties between messages with the same timestamp.
	Seq          int64
	Role         Role
	Content      string
	Parts        []Part
	ImageURL     string
	InputTokens  *int
	OutputTokens *int
	CreatedAt    time.Time
}
