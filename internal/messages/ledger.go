// Package messages is the append-only message ledger of conversations.
package messages

import (
	"context"
	"errors"
	"strings"

	"github.com/kenxsak/voice-chat-ai-sub001/internal/messages/repository"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/apperr"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/clock"

	"github.com/google/uuid"
)

// Store is the persistence the ledger needs.
type Store interface {
	Insert(ctx context.Context, msg repository.Message) (repository.Message, error)
	ListByConversation(ctx context.Context, conversationID uuid.UUID) ([]repository.Message, error)
}

// AppendInput describes a message to append.
type AppendInput struct {
	ConversationID uuid.UUID
	Role           repository.Role
	Content        string
	Parts          []repository.Part
	ImageURL       string
	InputTokens    *int
	OutputTokens   *int
}

// Ledger appends messages and reads transcripts back in order.
type Ledger struct {
	store Store
	clock clock.Clock
}

// New creates a ledger.
func New(store Store, clk clock.Clock) *Ledger {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Ledger{store: store, clock: clk}
}

// Append stores a new message stamped with the current time.
func (l *Ledger) Append(ctx context.Context, in AppendInput) (repository.Message, error) {
	if in.ConversationID == uuid.Nil {
		return repository.Message{}, apperr.Validation("conversation id is required")
	}
	if !in.Role.Valid() {
		return repository.Message{}, apperr.Validation("role must be user or agent")
	}
	content := strings.TrimSpace(in.Content)
	if content == "" && in.ImageURL == "" && len(in.Parts) == 0 {
		return repository.Message{}, apperr.Validation("message content is required")
	}

	msg, err := l.store.Insert(ctx, repository.Message{
		ID:             uuid.New(),
		ConversationID: in.ConversationID,
		Role:           in.Role,
		Content:        content,
		Parts:          in.Parts,
		ImageURL:       strings.TrimSpace(in.ImageURL),
		InputTokens:    in.InputTokens,
		OutputTokens:   in.OutputTokens,
		CreatedAt:      l.clock.Now(),
	})
	if err != nil {
		if errors.Is(err, repository.ErrConversationNotFound) {
			return repository.Message{}, apperr.NotFound("conversation not found")
		}
		return repository.Message{}, apperr.Unavailable("append message", err)
	}
	return msg, nil
}

// Transcript returns every message of the conversation in append order.
func (l *Ledger) Transcript(ctx context.Context, conversationID uuid.UUID) ([]repository.Message, error) {
	return l.store.ListByConversation(ctx, conversationID)
}

// TokenTotals sums the token counters of a transcript. A nil result means no
// message carried that counter.
func TokenTotals(transcript []repository.Message) (input, output *int) {
	for _, msg := range transcript {
		if msg.InputTokens != nil {
			if input == nil {
				input = new(int)
			}
			*input += *msg.InputTokens
		}
		if msg.OutputTokens != nil {
			if output == nil {
				output = new(int)
			}
			*output += *msg.OutputTokens
		}
	}
	return input, output
}

// LastImage returns the image of the most recent message that has one.
func LastImage(transcript []repository.Message) (string, bool) {
	for i := len(transcript) - 1; i >= 0; i-- {
		if transcript[i].ImageURL != "" {
			return transcript[i].ImageURL, true
		}
		for _, part := range transcript[i].Parts {
			if part.MediaURL != "" {
				return part.MediaURL, true
			}
		}
	}
	return "", false
}
