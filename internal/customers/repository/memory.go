package repository

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Memory is an in-process customer store enforcing the same per-tenant
// uniqueness of normalized email and phone as the PostgreSQL indexes.
type Memory struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*Customer

	// BeforeInsert, when set, runs before every insert without the lock held.
	BeforeInsert func(c Customer)
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{rows: make(map[uuid.UUID]*Customer)}
}

var _ CustomerRepository = (*Memory)(nil)

// Seed stores c as is. Tests use it to plant rows written before keys were normalized.
func (m *Memory) Seed(c Customer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := clone(c)
	m.rows[c.ID] = &stored
}

// All returns every stored customer.
func (m *Memory) All() []Customer {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Customer, 0, len(m.rows))
	for _, c := range m.rows {
		out = append(out, clone(*c))
	}
	return out
}

func clone(c Customer) Customer {
	c.Sessions = append([]string(nil), c.Sessions...)
	c.IPAddresses = append([]string(nil), c.IPAddresses...)
	return c
}

func matchRank(c *Customer, lookup Lookup) int {
	switch {
	case lookup.NormalizedEmail != "" && c.NormalizedEmail == lookup.NormalizedEmail:
		return 0
	case lookup.Email != "" && c.Email == lookup.Email:
		return 1
	case lookup.NormalizedPhone != "" && c.NormalizedPhone == lookup.NormalizedPhone:
		return 2
	case lookup.Phone != "" && c.Phone == lookup.Phone:
		return 3
	default:
		return -1
	}
}

func (m *Memory) FindByContact(_ context.Context, tenantID string, lookup Lookup) (Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		best     *Customer
		bestRank int
	)
	for _, c := range m.rows {
		if c.TenantID != tenantID {
			continue
		}
		rank := matchRank(c, lookup)
		if rank < 0 {
			continue
		}
		if best == nil || rank < bestRank || (rank == bestRank && c.FirstSeen.Before(best.FirstSeen)) {
			best, bestRank = c, rank
		}
	}
	if best == nil {
		return Customer{}, ErrNotFound
	}
	return clone(*best), nil
}

// keyTaken reports whether another customer of the tenant holds a normalized key.
func (m *Memory) keyTaken(self uuid.UUID, tenantID, normalizedEmail, normalizedPhone string) bool {
	for id, c := range m.rows {
		if id == self || c.TenantID != tenantID {
			continue
		}
		if normalizedEmail != "" && c.NormalizedEmail == normalizedEmail {
			return true
		}
		if normalizedPhone != "" && c.NormalizedPhone == normalizedPhone {
			return true
		}
	}
	return false
}

func (m *Memory) Insert(_ context.Context, c Customer, sessionID, ipAddress string) (Customer, error) {
	if m.BeforeInsert != nil {
		m.BeforeInsert(c)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keyTaken(c.ID, c.TenantID, c.NormalizedEmail, c.NormalizedPhone) {
		return Customer{}, ErrDuplicate
	}
	c.Sessions = []string{sessionID}
	c.IPAddresses = nil
	if ipAddress != "" {
		c.IPAddresses = []string{ipAddress}
	}
	c.TotalSessions = 1
	c.IsReturning = false
	c.LastSeen = c.FirstSeen
	stored := clone(c)
	m.rows[c.ID] = &stored
	return clone(c), nil
}

func contains(values []string, v string) bool {
	for _, existing := range values {
		if existing == v {
			return true
		}
	}
	return false
}

func fill(current, value string) string {
	if current == "" {
		return value
	}
	return current
}

func (m *Memory) RecordVisit(_ context.Context, id uuid.UUID, v Visit) (Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	if !ok {
		return Customer{}, ErrNotFound
	}
	next := clone(*c)
	if !contains(next.Sessions, v.SessionID) {
		next.Sessions = append(next.Sessions, v.SessionID)
	}
	if v.IPAddress != "" && !contains(next.IPAddresses, v.IPAddress) {
		next.IPAddresses = append(next.IPAddresses, v.IPAddress)
	}
	next.Name = fill(next.Name, v.Name)
	if v.FillContact {
		next.Email = fill(next.Email, v.Email)
		next.NormalizedEmail = fill(next.NormalizedEmail, v.NormalizedEmail)
		next.Phone = fill(next.Phone, v.Phone)
		next.NormalizedPhone = fill(next.NormalizedPhone, v.NormalizedPhone)
	}
	if m.keyTaken(id, next.TenantID, next.NormalizedEmail, next.NormalizedPhone) {
		return Customer{}, ErrDuplicate
	}
	next.TotalSessions = len(next.Sessions)
	next.IsReturning = next.TotalSessions > 1
	if v.At.After(next.LastSeen) {
		next.LastSeen = v.At
	}
	*c = next
	return clone(next), nil
}

func (m *Memory) Backfill(_ context.Context, id uuid.UUID, normalizedEmail, normalizedPhone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.rows[id]
	if !ok {
		return ErrNotFound
	}
	email := fill(c.NormalizedEmail, normalizedEmail)
	phone := fill(c.NormalizedPhone, normalizedPhone)
	if m.keyTaken(id, c.TenantID, email, phone) {
		return ErrDuplicate
	}
	c.NormalizedEmail, c.NormalizedPhone = email, phone
	return nil
}
