package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ConversationReader looks conversations up.
type ConversationReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (Conversation, error)
	// FindOpen returns the non-closed conversation for the triple.
	FindOpen(ctx context.Context, tenantID, sessionID, agentID string) (Conversation, error)
	// FindOpenBySession returns the most recently updated non-closed conversation of a session.
	FindOpenBySession(ctx context.Context, tenantID, sessionID string) (Conversation, error)
	// FindByTriple returns the conversation for the triple in any state.
	FindByTriple(ctx context.Context, tenantID, sessionID, agentID string) (Conversation, error)
}

// ConversationWriter performs the conditional single-row transitions.
type ConversationWriter interface {
	Insert(ctx context.Context, conv Conversation) (Conversation, error)
	Touch(ctx context.Context, id uuid.UUID, touch Touch) (Conversation, error)
	// Reassign moves an open conversation to another agent. It returns
	// ErrDuplicate when the target triple is already taken.
	Reassign(ctx context.Context, id uuid.UUID, agentID string, touch Touch) (Conversation, error)
	// Reopen moves a closed conversation back to active. A conversation that is
	// not closed is returned unchanged.
	Reopen(ctx context.Context, id uuid.UUID, at time.Time) (Conversation, error)
	// Claim moves an active conversation to closing. ErrNotClaimable when it is not active.
	Claim(ctx context.Context, id uuid.UUID, at time.Time) (Conversation, error)
	// Finalize moves a closing conversation to closed. ErrNotClaimable when it is not closing.
	Finalize(ctx context.Context, id uuid.UUID, fin Finalize) error
	// Release moves a closing conversation back to active and counts the failed attempt.
	Release(ctx context.Context, id uuid.UUID, at time.Time) error
}

// ConversationSweeper serves the periodic maintenance jobs.
type ConversationSweeper interface {
	// ReleaseStale reverts conversations claimed before cutoff and returns their ids.
	ReleaseStale(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
	// ListIdle returns active conversations not updated since cutoff.
	ListIdle(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error)
}

// ConversationRepository is the full store contract.
type ConversationRepository interface {
	ConversationReader
	ConversationWriter
	ConversationSweeper
}
