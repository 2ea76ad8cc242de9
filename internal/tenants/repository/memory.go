package repository

import (
	"context"
	"sync"
	"time"
)

type agentKey struct {
	tenantID string
	agentID  string
}

// Memory is an in-process tenant directory.
type Memory struct {
	mu      sync.RWMutex
	tenants map[string]Tenant
	agents  map[agentKey]Agent
}

func NewMemory() *Memory {
	return &Memory{
		tenants: make(map[string]Tenant),
		agents:  make(map[agentKey]Agent),
	}
}

var _ TenantRepository = (*Memory)(nil)

func (m *Memory) GetTenant(_ context.Context, tenantID string) (Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tenants[tenantID]
	if !ok {
		return Tenant{}, ErrNotFound
	}
	return t, nil
}

func (m *Memory) GetAgent(_ context.Context, tenantID, agentID string) (Agent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[agentKey{tenantID, agentID}]
	if !ok {
		return Agent{}, ErrNotFound
	}
	return a, nil
}

func (m *Memory) UpsertTenant(_ context.Context, t Tenant) (Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.tenants[t.ID]; ok {
		t.CreatedAt = existing.CreatedAt
	} else {
		t.CreatedAt = time.Now().UTC()
	}
	m.tenants[t.ID] = t
	return t, nil
}

// UpsertAgent fails with ErrNotFound when the tenant does not exist, like the
// foreign key on agents.tenant_id.
func (m *Memory) UpsertAgent(_ context.Context, a Agent) (Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tenants[a.TenantID]; !ok {
		return Agent{}, ErrNotFound
	}
	key := agentKey{a.TenantID, a.ID}
	if existing, ok := m.agents[key]; ok {
		a.CreatedAt = existing.CreatedAt
	} else {
		a.CreatedAt = time.Now().UTC()
	}
	m.agents[key] = a
	return a, nil
}
