package repository

import (
	"context"
	"errors"

	"github.com/kenxsak/voice-chat-ai-sub001/platform/db"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const tenantColumns = `id, name, business_context, COALESCE(webhook_url, ''),
	COALESCE(notification_email, ''), COALESCE(slack_channel, ''), created_at`

const agentColumns = `id, tenant_id, name, persona, created_at`

const getTenantQuery = `
SELECT ` + tenantColumns + `
FROM tenants
WHERE id = $1`

const getAgentQuery = `
SELECT ` + agentColumns + `
FROM agents
WHERE tenant_id = $1 AND id = $2`

const upsertTenantQuery = `
INSERT INTO tenants (id, name, business_context, webhook_url, notification_email, slack_channel)
VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''))
ON CONFLICT (id) DO UPDATE
SET name = EXCLUDED.name,
	business_context = EXCLUDED.business_context,
	webhook_url = EXCLUDED.webhook_url,
	notification_email = EXCLUDED.notification_email,
	slack_channel = EXCLUDED.slack_channel
RETURNING ` + tenantColumns

const upsertAgentQuery = `
INSERT INTO agents (id, tenant_id, name, persona)
VALUES ($1, $2, $3, $4)
ON CONFLICT (tenant_id, id) DO UPDATE
SET name = EXCLUDED.name, persona = EXCLUDED.persona
RETURNING ` + agentColumns

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ TenantRepository = (*Repository)(nil)

func (r *Repository) GetTenant(ctx context.Context, tenantID string) (Tenant, error) {
	return scanTenant(r.pool.QueryRow(ctx, getTenantQuery, tenantID))
}

func (r *Repository) GetAgent(ctx context.Context, tenantID, agentID string) (Agent, error) {
	return scanAgent(r.pool.QueryRow(ctx, getAgentQuery, tenantID, agentID))
}

func (r *Repository) UpsertTenant(ctx context.Context, t Tenant) (Tenant, error) {
	return scanTenant(r.pool.QueryRow(ctx, upsertTenantQuery,
		t.ID, t.Name, t.BusinessContext, t.WebhookURL, t.NotificationEmail, t.SlackChannel))
}

func (r *Repository) UpsertAgent(ctx context.Context, a Agent) (Agent, error) {
	agent, err := scanAgent(r.pool.QueryRow(ctx, upsertAgentQuery, a.ID, a.TenantID, a.Name, a.Persona))
	if db.IsForeignKeyViolation(err) {
		return Agent{}, ErrNotFound
	}
	return agent, err
}

func scanTenant(row pgx.Row) (Tenant, error) {
	var t Tenant
	err := row.Scan(&t.ID, &t.Name, &t.BusinessContext, &t.WebhookURL, &t.NotificationEmail, &t.SlackChannel, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Tenant{}, ErrNotFound
	}
	return t, err
}

func scanAgent(row pgx.Row) (Agent, error) {
	var a Agent
	err := row.Scan(&a.ID, &a.TenantID, &a.Name, &a.Persona, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Agent{}, ErrNotFound
	}
	return a, err
}
