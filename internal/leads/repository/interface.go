package repository

import (
	"context"
	"errors"

	"github.com/kenxsak/voice-chat-ai-sub001/internal/leads/domain"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("lead not found")
	// ErrDuplicate reports a collision on a natural key other than the one being upserted.
	ErrDuplicate = errors.New("lead key already taken")
)

// LeadReader looks leads up by natural key.
type LeadReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (domain.Lead, error)
	// FindByKey returns the lead of the month holding key. For the session
	// key the most recently updated lead of the session wins.
	FindByKey(ctx context.Context, tenantID, periodMonth string, key domain.Key) (domain.Lead, error)
}

// Written is the result of an Upsert.
type Written struct {
	Lead     domain.Lead
	Inserted bool
	// Adopted is the prior state of a lead of the same session that the
	// write merged into instead of inserting.
	Adopted *domain.Lead
}

// LeadWriter applies LeadUpdate through a single statement.
type LeadWriter interface {
	// Update merges upd into the lead with id.
	Update(ctx context.Context, id uuid.UUID, tenantID, periodMonth string, upd domain.LeadUpdate) (domain.Lead, error)
	// Upsert inserts a lead or merges into the one already holding the
	// arbiter key. Writes are serialized per tenant, month and session: a
	// session-keyed write merges into the latest lead of its session, and a
	// contact-keyed write merges into the session's lead without contact
	// keys when one exists.
	Upsert(ctx context.Context, ins domain.LeadInsert, arbiter domain.KeyKind, upd domain.LeadUpdate) (Written, error)
}

// LeadRepository is the full store contract.
type LeadRepository interface {
	LeadReader
	LeadWriter
}
