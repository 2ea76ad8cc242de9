package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type tripleKey struct {
	tenantID  string
	sessionID string
	agentID   string
}

// Memory is an in-process conversation store. Each method holds the mutex for
// its whole body, which gives the same single-row atomicity as the SQL
// statements of Repository.
type Memory struct {
	mu       sync.Mutex
	byID     map[uuid.UUID]*Conversation
	byTriple map[tripleKey]uuid.UUID

	// BeforeInsert, when set, runs before every insert without the lock held.
	// Tests use it to interleave a competing writer.
	BeforeInsert func(conv Conversation)
}

// NewMemory creates an empty store.
func NewMemory() *Memory {
	return &Memory{
		byID:     make(map[uuid.UUID]*Conversation),
		byTriple: make(map[tripleKey]uuid.UUID),
	}
}

var _ ConversationRepository = (*Memory)(nil)

func keyOf(conv *Conversation) tripleKey {
	return tripleKey{tenantID: conv.TenantID, sessionID: conv.SessionID, agentID: conv.AgentID}
}

// Exists reports whether the conversation is stored.
func (m *Memory) Exists(_ context.Context, id uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.byID[id]
	return ok
}

// Count returns the number of stored conversations.
func (m *Memory) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

func (m *Memory) GetByID(_ context.Context, id uuid.UUID) (Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.byID[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return *conv, nil
}

func (m *Memory) FindOpen(_ context.Context, tenantID, sessionID, agentID string) (Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byTriple[tripleKey{tenantID, sessionID, agentID}]
	if !ok || m.byID[id].Status == StatusClosed {
		return Conversation{}, ErrNotFound
	}
	return *m.byID[id], nil
}

func (m *Memory) FindOpenBySession(_ context.Context, tenantID, sessionID string) (Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var found *Conversation
	for _, conv := range m.byID {
		if conv.TenantID != tenantID || conv.SessionID != sessionID || conv.Status == StatusClosed {
			continue
		}
		if found == nil || conv.UpdatedAt.After(found.UpdatedAt) {
			found = conv
		}
	}
	if found == nil {
		return Conversation{}, ErrNotFound
	}
	return *found, nil
}

func (m *Memory) FindByTriple(_ context.Context, tenantID, sessionID, agentID string) (Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byTriple[tripleKey{tenantID, sessionID, agentID}]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return *m.byID[id], nil
}

func (m *Memory) Insert(_ context.Context, conv Conversation) (Conversation, error) {
	if m.BeforeInsert != nil {
		m.BeforeInsert(conv)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.byTriple[keyOf(&conv)]; taken {
		return Conversation{}, ErrDuplicate
	}
	conv.Status = StatusActive
	conv.UpdatedAt = conv.CreatedAt
	stored := conv
	m.byID[conv.ID] = &stored
	m.byTriple[keyOf(&conv)] = conv.ID
	return conv, nil
}

func applyTouch(conv *Conversation, touch Touch) {
	if touch.CustomerID != nil {
		id := *touch.CustomerID
		conv.CustomerID = &id
	}
	if touch.IPAddress != "" {
		conv.IPAddress = touch.IPAddress
	}
	conv.UpdatedAt = touch.At
}

func (m *Memory) Touch(_ context.Context, id uuid.UUID, touch Touch) (Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.byID[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	applyTouch(conv, touch)
	return *conv, nil
}

func (m *Memory) Reassign(_ context.Context, id uuid.UUID, agentID string, touch Touch) (Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.byID[id]
	if !ok || conv.Status == StatusClosed {
		return Conversation{}, ErrNotClaimable
	}
	next := tripleKey{conv.TenantID, conv.SessionID, agentID}
	if owner, taken := m.byTriple[next]; taken && owner != id {
		return Conversation{}, ErrDuplicate
	}
	delete(m.byTriple, keyOf(conv))
	conv.AgentID = agentID
	m.byTriple[next] = id
	applyTouch(conv, touch)
	return *conv, nil
}

func (m *Memory) Reopen(_ context.Context, id uuid.UUID, at time.Time) (Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.byID[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	if conv.Status == StatusClosed {
		conv.Status = StatusActive
		conv.ClosedAt = nil
		conv.ClosingSince = nil
		conv.UpdatedAt = at
	}
	return *conv, nil
}

func (m *Memory) Claim(_ context.Context, id uuid.UUID, at time.Time) (Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.byID[id]
	if !ok || conv.Status != StatusActive {
		return Conversation{}, ErrNotClaimable
	}
	conv.Status = StatusClosing
	since := at
	conv.ClosingSince = &since
	conv.UpdatedAt = at
	return *conv, nil
}

func (m *Memory) Finalize(_ context.Context, id uuid.UUID, fin Finalize) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.byID[id]
	if !ok || conv.Status != StatusClosing {
		return ErrNotClaimable
	}
	conv.Status = StatusClosed
	conv.Summary = fin.Summary
	if fin.CustomerID != nil {
		cid := *fin.CustomerID
		conv.CustomerID = &cid
	}
	closedAt := fin.ClosedAt
	conv.ClosedAt = &closedAt
	conv.ClosingSince = nil
	conv.UpdatedAt = fin.ClosedAt
	return nil
}

func (m *Memory) Release(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.byID[id]
	if !ok || conv.Status != StatusClosing {
		return ErrNotClaimable
	}
	conv.Status = StatusActive
	conv.ClosingSince = nil
	conv.CloseAttempts++
	conv.UpdatedAt = at
	return nil
}

func (m *Memory) ReleaseStale(_ context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stale := make([]*Conversation, 0)
	for _, conv := range m.byID {
		if conv.Status == StatusClosing && conv.ClosingSince != nil && conv.ClosingSince.Before(cutoff) {
			stale = append(stale, conv)
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].ClosingSince.Before(*stale[j].ClosingSince) })
	if limit > 0 && len(stale) > limit {
		stale = stale[:limit]
	}
	ids := make([]uuid.UUID, 0, len(stale))
	for _, conv := range stale {
		conv.Status = StatusActive
		conv.ClosingSince = nil
		conv.CloseAttempts++
		ids = append(ids, conv.ID)
	}
	return ids, nil
}

func (m *Memory) ListIdle(_ context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idle := make([]*Conversation, 0)
	for _, conv := range m.byID {
		if conv.Status == StatusActive && conv.UpdatedAt.Before(cutoff) {
			idle = append(idle, conv)
		}
	}
	sort.Slice(idle, func(i, j int) bool { return idle[i].UpdatedAt.Before(idle[j].UpdatedAt) })
	if limit > 0 && len(idle) > limit {
		idle = idle[:limit]
	}
	ids := make([]uuid.UUID, 0, len(idle))
	for _, conv := range idle {
		ids = append(ids, conv.ID)
	}
	return ids, nil
}
