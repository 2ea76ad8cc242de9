package repository

import (
	"context"
	"errors"
	"time"

	"github.com/kenxsak/voice-chat-ai-sub001/platform/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const tripleConstraint = "conversations_triple_key"

const conversationColumns = `id, tenant_id, session_id, agent_id, customer_id, status, summary,
	COALESCE(ip_address, ''), close_attempts, closing_since, closed_at, created_at, updated_at`

const getConversationQuery = `
SELECT ` + conversationColumns + `
FROM conversations
WHERE id = $1`

const findOpenQuery = `
SELECT ` + conversationColumns + `
FROM conversations
WHERE tenant_id = $1 AND session_id = $2 AND agent_id = $3 AND status <> 'closed'`

const findOpenBySessionQuery = `
SELECT ` + conversationColumns + `
FROM conversations
WHERE tenant_id = $1 AND session_id = $2 AND status <> 'closed'
ORDER BY updated_at DESC
LIMIT 1`

const findByTripleQuery = `
SELECT ` + conversationColumns + `
FROM conversations
WHERE tenant_id = $1 AND session_id = $2 AND agent_id = $3`

const insertConversationQuery = `
INSERT INTO conversations (id, tenant_id, session_id, agent_id, customer_id, status, ip_address, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, 'active', NULLIF($6, ''), $7, $7)
RETURNING ` + conversationColumns

const touchConversationQuery = `
UPDATE conversations
SET customer_id = COALESCE($2, customer_id),
	ip_address = COALESCE(NULLIF($3, ''), ip_address),
	updated_at = $4
WHERE id = $1
RETURNING ` + conversationColumns

const reassignConversationQuery = `
UPDATE conversations
SET agent_id = $2,
	customer_id = COALESCE($3, customer_id),
	ip_address = COALESCE(NULLIF($4, ''), ip_address),
	updated_at = $5
WHERE id = $1 AND status <> 'closed'
RETURNING ` + conversationColumns

const reopenConversationQuery = `
UPDATE conversations
SET status = 'active', closed_at = NULL, closing_since = NULL, updated_at = $2
WHERE id = $1 AND status = 'closed'
RETURNING ` + conversationColumns

const claimConversationQuery = `
UPDATE conversations
SET status = 'closing', closing_since = $2, updated_at = $2
WHERE id = $1 AND status = 'active'
RETURNING ` + conversationColumns

const finalizeConversationQuery = `
UPDATE conversations
SET status = 'closed', summary = $2, customer_id = COALESCE($3, customer_id),
	closed_at = $4, closing_since = NULL, updated_at = $4
WHERE id = $1 AND status = 'closing'`

const releaseConversationQuery = `
UPDATE conversations
SET status = 'active', closing_since = NULL, close_attempts = close_attempts + 1, updated_at = $2
WHERE id = $1 AND status = 'closing'`

const releaseStaleQuery = `
UPDATE conversations
SET status = 'active', closing_since = NULL, close_attempts = close_attempts + 1, updated_at = now()
WHERE id IN (
	SELECT id FROM conversations
	WHERE status = 'closing' AND closing_since < $1
	ORDER BY closing_since ASC
	LIMIT $2
	FOR UPDATE SKIP LOCKED
) AND status = 'closing'
RETURNING id`

const listIdleQuery = `
SELECT id
FROM conversations
WHERE status = 'active' AND updated_at < $1
ORDER BY updated_at ASC
LIMIT $2`

// Repository persists conversations in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a conversation repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ ConversationRepository = (*Repository)(nil)

func scanConversation(row pgx.Row) (Conversation, error) {
	var (
		conv   Conversation
		status string
	)
	err := row.Scan(&conv.ID, &conv.TenantID, &conv.SessionID, &conv.AgentID, &conv.CustomerID, &status,
		&conv.Summary, &conv.IPAddress, &conv.CloseAttempts, &conv.ClosingSince, &conv.ClosedAt,
		&conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, err
	}
	conv.Status = Status(status)
	return conv, nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (Conversation, error) {
	return scanConversation(r.pool.QueryRow(ctx, getConversationQuery, id))
}

func (r *Repository) FindOpen(ctx context.Context, tenantID, sessionID, agentID string) (Conversation, error) {
	return scanConversation(r.pool.QueryRow(ctx, findOpenQuery, tenantID, sessionID, agentID))
}

func (r *Repository) FindOpenBySession(ctx context.Context, tenantID, sessionID string) (Conversation, error) {
	return scanConversation(r.pool.QueryRow(ctx, findOpenBySessionQuery, tenantID, sessionID))
}

func (r *Repository) FindByTriple(ctx context.Context, tenantID, sessionID, agentID string) (Conversation, error) {
	return scanConversation(r.pool.QueryRow(ctx, findByTripleQuery, tenantID, sessionID, agentID))
}

func (r *Repository) Insert(ctx context.Context, conv Conversation) (Conversation, error) {
	created, err := scanConversation(r.pool.QueryRow(ctx, insertConversationQuery,
		conv.ID, conv.TenantID, conv.SessionID, conv.AgentID, conv.CustomerID, conv.IPAddress, conv.CreatedAt))
	if db.IsUniqueViolation(err, tripleConstraint) {
		return Conversation{}, ErrDuplicate
	}
	return created, err
}

func (r *Repository) Touch(ctx context.Context, id uuid.UUID, touch Touch) (Conversation, error) {
	return scanConversation(r.pool.QueryRow(ctx, touchConversationQuery, id, touch.CustomerID, touch.IPAddress, touch.At))
}

func (r *Repository) Reassign(ctx context.Context, id uuid.UUID, agentID string, touch Touch) (Conversation, error) {
	conv, err := scanConversation(r.pool.QueryRow(ctx, reassignConversationQuery,
		id, agentID, touch.CustomerID, touch.IPAddress, touch.At))
	if db.IsUniqueViolation(err, tripleConstraint) {
		return Conversation{}, ErrDuplicate
	}
	if errors.Is(err, ErrNotFound) {
		return Conversation{}, ErrNotClaimable
	}
	return conv, err
}

func (r *Repository) Reopen(ctx context.Context, id uuid.UUID, at time.Time) (Conversation, error) {
	conv, err := scanConversation(r.pool.QueryRow(ctx, reopenConversationQuery, id, at))
	if errors.Is(err, ErrNotFound) {
		// Already open, or a concurrent caller reopened it first.
		return r.GetByID(ctx, id)
	}
	return conv, err
}

func (r *Repository) Claim(ctx context.Context, id uuid.UUID, at time.Time) (Conversation, error) {
	conv, err := scanConversation(r.pool.QueryRow(ctx, claimConversationQuery, id, at))
	if errors.Is(err, ErrNotFound) {
		return Conversation{}, ErrNotClaimable
	}
	return conv, err
}

func (r *Repository) Finalize(ctx context.Context, id uuid.UUID, fin Finalize) error {
	tag, err := r.pool.Exec(ctx, finalizeConversationQuery, id, fin.Summary, fin.CustomerID, fin.ClosedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotClaimable
	}
	return nil
}

func (r *Repository) Release(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx, releaseConversationQuery, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotClaimable
	}
	return nil
}

func (r *Repository) ReleaseStale(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	return r.collectIDs(ctx, releaseStaleQuery, cutoff, limit)
}

func (r *Repository) ListIdle(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	return r.collectIDs(ctx, listIdleQuery, cutoff, limit)
}

func (r *Repository) collectIDs(ctx context.Context, query string, args ...interface{}) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
