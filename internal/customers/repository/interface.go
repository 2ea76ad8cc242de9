package repository

import (
	"context"

	"github.com/google/uuid"
)

// CustomerRepository is the store contract of the identity resolver.
type CustomerRepository interface {
	// FindByContact returns the best match for lookup within the tenant.
	FindByContact(ctx context.Context, tenantID string, lookup Lookup) (Customer, error)
	// Insert creates c with a single session. ErrDuplicate when a normalized key is taken.
	Insert(ctx context.Context, c Customer, sessionID, ipAddress string) (Customer, error)
	// RecordVisit merges v into the customer. ErrDuplicate when a filled key is taken.
	RecordVisit(ctx context.Context, id uuid.UUID, v Visit) (Customer, error)
	// Backfill sets normalized keys that are still missing.
	Backfill(ctx context.Context, id uuid.UUID, normalizedEmail, normalizedPhone string) error
}
