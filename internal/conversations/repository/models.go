package repository

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("conversation not found")
	// ErrDuplicate reports that the (tenant, session, agent) triple already exists.
	ErrDuplicate = errors.New("conversation already exists")
	// ErrNotClaimable reports that the conversation is not in the state the transition requires.
	ErrNotClaimable = errors.New("conversation not in expected state")
)

// Status is the lifecycle state of a conversation.
type Status string

const (
	StatusActive  Status = "active"
	StatusClosing Status = "closing"
	StatusClosed  Status = "closed"
)

type Conversation struct {
	ID            uuid.UUID
	TenantID      string
	SessionID     string
	AgentID       string
	CustomerID    *uuid.UUID
	Status        Status
	Summary       string
	IPAddress     string
	CloseAttempts int
	ClosingSince  *time.Time
	ClosedAt      *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Touch carries the values merged into an open conversation on reuse.
// A nil CustomerID or empty IPAddress keeps the stored value.
type Touch struct {
	CustomerID *uuid.UUID
	IPAddress  string
	At         time.Time
}

// Finalize carries the values written when a claimed conversation closes.
type Finalize struct {
	Summary    string
	CustomerID *uuid.UUID
	ClosedAt   time.Time
}
