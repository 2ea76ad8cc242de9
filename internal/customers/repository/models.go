package repository

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("customer not found")
	// ErrDuplicate reports a collision on a normalized email or phone key.
	ErrDuplicate = errors.New("customer contact already taken")
)

type Customer struct {
	ID              uuid.UUID
	TenantID        string
	Name            string
	Email           string
	Phone           string
	NormalizedEmail string
	NormalizedPhone string
	Sessions        []string
	IPAddresses     []string
	TotalSessions   int
	IsReturning     bool
	FirstSeen       time.Time
	LastSeen        time.Time
}

// Lookup holds the raw and normalized values a customer can be matched by.
// Empty values never match.
type Lookup struct {
	Email           string
	Phone           string
	NormalizedEmail string
	NormalizedPhone string
}

// Visit is merged into a matched customer. Contact values only fill fields
// that are still empty, and only when FillContact is set.
type Visit struct {
	SessionID       string
	IPAddress       string
	Name            string
	Email           string
	Phone           string
	NormalizedEmail string
	NormalizedPhone string
	FillContact     bool
	At              time.Time
}
