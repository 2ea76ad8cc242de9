package repository

import "context"

type TenantReader interface {
	GetTenant(ctx context.Context, tenantID string) (Tenant, error)
	GetAgent(ctx context.Context, tenantID, agentID string) (Agent, error)
}

type TenantWriter interface {
	// UpsertTenant creates or replaces the tenant's settings.
	UpsertTenant(ctx context.Context, t Tenant) (Tenant, error)
	UpsertAgent(ctx context.Context, a Agent) (Agent, error)
}

type TenantRepository interface {
	TenantReader
	TenantWriter
}
