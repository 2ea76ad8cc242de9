package repository

import (
	"context"
	"sync"

	"github.com/kenxsak/voice-chat-ai-sub001/internal/leads/domain"

	"github.com/google/uuid"
)

// Memory is an in-process lead store. It merges through domain.Apply and
// enforces the four partial unique indexes of the leads table. The mutex
// stands in for the per-session advisory lock.
type Memory struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*domain.Lead

	// BeforeWrite, when set, runs before every Update and Upsert without the
	// lock held. Tests use it to interleave a competing writer.
	BeforeWrite func()
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{rows: make(map[uuid.UUID]*domain.Lead)}
}

var _ LeadRepository = (*Memory)(nil)

// All returns every stored lead.
func (m *Memory) All() []domain.Lead {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Lead, 0, len(m.rows))
	for _, l := range m.rows {
		out = append(out, *l)
	}
	return out
}

func (m *Memory) GetByID(_ context.Context, id uuid.UUID) (domain.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.rows[id]
	if !ok {
		return domain.Lead{}, ErrNotFound
	}
	return *l, nil
}

func (m *Memory) FindByKey(_ context.Context, tenantID, periodMonth string, key domain.Key) (domain.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *domain.Lead
	for _, l := range m.rows {
		if l.TenantID != tenantID || l.PeriodMonth != periodMonth || l.NormalizedKey(key.Kind) != key.Value {
			continue
		}
		if found == nil || l.LastUpdated.After(found.LastUpdated) {
			found = l
		}
	}
	if found == nil {
		return domain.Lead{}, ErrNotFound
	}
	return *found, nil
}

// indexed reports whether a and b collide on the unique index of kind.
func indexed(a, b *domain.Lead, kind domain.KeyKind) bool {
	if a.TenantID != b.TenantID || a.PeriodMonth != b.PeriodMonth {
		return false
	}
	if kind == domain.KeySession {
		return keyless(a) && keyless(b) && a.SessionID == b.SessionID
	}
	v := a.NormalizedKey(kind)
	return v != "" && v == b.NormalizedKey(kind)
}

// keyless reports whether l holds no contact key, which puts it under the
// session index.
func keyless(l *domain.Lead) bool {
	return l.NormalizedEmail == "" && l.NormalizedPhone == "" && l.NormalizedName == ""
}

// adoptable returns the latest lead of the session an Upsert through arbiter
// merges into before trying to insert.
func (m *Memory) adoptable(tenantID, periodMonth, sessionID string, arbiter domain.KeyKind) *domain.Lead {
	var found *domain.Lead
	for _, l := range m.rows {
		if l.TenantID != tenantID || l.PeriodMonth != periodMonth || l.SessionID != sessionID {
			continue
		}
		if arbiter != domain.KeySession && !keyless(l) {
			continue
		}
		if found == nil || l.LastUpdated.After(found.LastUpdated) {
			found = l
		}
	}
	return found
}

// conflict returns the first stored lead other than self that collides with
// candidate on any index.
func (m *Memory) conflict(candidate *domain.Lead, self uuid.UUID) *domain.Lead {
	for id, l := range m.rows {
		if id == self {
			continue
		}
		for _, kind := range domain.Priority {
			if indexed(candidate, l, kind) {
				return l
			}
		}
	}
	return nil
}

func (m *Memory) Update(_ context.Context, id uuid.UUID, tenantID, periodMonth string, upd domain.LeadUpdate) (domain.Lead, error) {
	if m.BeforeWrite != nil {
		m.BeforeWrite()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.rows[id]
	if !ok || existing.TenantID != tenantID || existing.PeriodMonth != periodMonth {
		return domain.Lead{}, ErrNotFound
	}
	merged := domain.Apply(existing, domain.LeadInsert{}, upd)
	if m.conflict(&merged, id) != nil {
		return domain.Lead{}, ErrDuplicate
	}
	*existing = merged
	return merged, nil
}

func (m *Memory) Upsert(_ context.Context, ins domain.LeadInsert, arbiter domain.KeyKind, upd domain.LeadUpdate) (Written, error) {
	if m.BeforeWrite != nil {
		m.BeforeWrite()
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if l := m.adoptable(ins.TenantID, ins.PeriodMonth, upd.SessionID, arbiter); l != nil {
		prior := *l
		merged := domain.Apply(l, domain.LeadInsert{}, upd)
		if m.conflict(&merged, l.ID) != nil {
			return Written{}, ErrDuplicate
		}
		*l = merged
		return Written{Lead: merged, Adopted: &prior}, nil
	}

	fresh := domain.Apply(nil, ins, upd)
	for id, l := range m.rows {
		if !indexed(&fresh, l, arbiter) {
			continue
		}
		merged := domain.Apply(l, domain.LeadInsert{}, upd)
		if m.conflict(&merged, id) != nil {
			return Written{}, ErrDuplicate
		}
		*l = merged
		return Written{Lead: merged}, nil
	}
	if m.conflict(&fresh, ins.ID) != nil {
		return Written{}, ErrDuplicate
	}
	stored := fresh
	m.rows[fresh.ID] = &stored
	return Written{Lead: fresh, Inserted: true}, nil
}
