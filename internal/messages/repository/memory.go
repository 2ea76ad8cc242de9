package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// ConversationChecker reports whether a conversation exists.
type ConversationChecker func(ctx context.Context, id uuid.UUID) bool

// Memory is an in-process message store with the same ordering guarantees
// as the PostgreSQL repository.
type Memory struct {
	mu     sync.Mutex
	seq    int64
	byConv map[uuid.UUID][]Message
	exists ConversationChecker
}

// NewMemory creates an empty store. A nil checker accepts every conversation.
func NewMemory(exists ConversationChecker) *Memory {
	return &Memory{byConv: make(map[uuid.UUID][]Message), exists: exists}
}

// Insert appends msg.
func (m *Memory) Insert(ctx context.Context, msg Message) (Message, error) {
	if m.exists != nil && !m.exists(ctx, msg.ConversationID) {
		return Message{}, ErrConversationNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	msg.Seq = m.seq
	msg.Parts = append([]Part(nil), msg.Parts...)
	m.byConv[msg.ConversationID] = append(m.byConv[msg.ConversationID], msg)
	return msg, nil
}

// ListByConversation returns the transcript ordered by timestamp then sequence.
func (m *Memory) ListByConversation(_ context.Context, conversationID uuid.UUID) ([]Message, error) {
	m.mu.Lock()
	out := append([]Message(nil), m.byConv[conversationID]...)
	m.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}
