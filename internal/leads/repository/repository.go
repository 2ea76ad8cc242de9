package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/kenxsak/voice-chat-ai-sub001/internal/leads/domain"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var keyConstraints = []string{
	"leads_period_email_key",
	"leads_period_phone_key",
	"leads_period_name_key",
	"leads_period_session_key",
}

const leadColumns = `id, tenant_id, period_month, session_id, customer_id,
	COALESCE(name, ''), COALESCE(email, ''), COALESCE(phone, ''),
	COALESCE(normalized_name, ''), COALESCE(normalized_email, ''), COALESCE(normalized_phone, ''),
	COALESCE(summary, ''), summary_data, history, input_tokens, output_tokens,
	COALESCE(image_url, ''), COALESCE(agent_name, ''), status, is_anonymous, created_at, last_updated`

const getLeadQuery = `
SELECT ` + leadColumns + `
FROM leads
WHERE id = $1`

var findByKeyQueries = map[domain.KeyKind]string{
	domain.KeyEmail:   findByKeyQuery("normalized_email = $3", ""),
	domain.KeyPhone:   findByKeyQuery("normalized_phone = $3", ""),
	domain.KeyName:    findByKeyQuery("normalized_name = $3", ""),
	domain.KeySession: findByKeyQuery("session_id = $3", "ORDER BY last_updated DESC"),
}

func findByKeyQuery(predicate, order string) string {
	return `
SELECT ` + leadColumns + `
FROM leads
WHERE tenant_id = $1 AND period_month = $2 AND ` + predicate + `
` + order + `
LIMIT 1`
}

// Parameters shared by the update and upsert statements:
//
//	$1 id  $2 tenant_id  $3 period_month  $4 session_id  $5 customer_id
//	$6 name  $7 email  $8 phone  $9-$11 normalized name/email/phone
//	$12 summary  $13 summary_data  $14 history set  $15 history
//	$16 input_tokens  $17 output_tokens  $18 image set  $19 image_url
//	$20 agent_name  $21 explicit status  $22 preserve keys  $23 timestamp
//	$24 created_at, upsert only
const mergedAnonymous = `(COALESCE(NULLIF($6::text, ''), leads.name) IS NULL
		AND COALESCE(NULLIF($7::text, ''), leads.email) IS NULL
		AND COALESCE(NULLIF($8::text, ''), leads.phone) IS NULL)`

const insertAnonymous = `(NULLIF($6::text, '') IS NULL AND NULLIF($7::text, '') IS NULL AND NULLIF($8::text, '') IS NULL)`

const mergeSetClause = `
	session_id = $4,
	customer_id = COALESCE($5::uuid, leads.customer_id),
	name = COALESCE(NULLIF($6::text, ''), leads.name),
	email = COALESCE(NULLIF($7::text, ''), leads.email),
	phone = COALESCE(NULLIF($8::text, ''), leads.phone),
	normalized_name = CASE WHEN $22::boolean THEN COALESCE(leads.normalized_name, NULLIF($9::text, ''))
		ELSE COALESCE(NULLIF($9::text, ''), leads.normalized_name) END,
	normalized_email = CASE WHEN $22::boolean THEN COALESCE(leads.normalized_email, NULLIF($10::text, ''))
		ELSE COALESCE(NULLIF($10::text, ''), leads.normalized_email) END,
	normalized_phone = CASE WHEN $22::boolean THEN COALESCE(leads.normalized_phone, NULLIF($11::text, ''))
		ELSE COALESCE(NULLIF($11::text, ''), leads.normalized_phone) END,
	summary = COALESCE($12::text, leads.summary),
	summary_data = COALESCE($13::jsonb, leads.summary_data),
	history = CASE WHEN $14::boolean THEN $15::jsonb ELSE leads.history END,
	input_tokens = COALESCE($16::integer, leads.input_tokens),
	output_tokens = COALESCE($17::integer, leads.output_tokens),
	image_url = CASE WHEN $18::boolean THEN $19::text ELSE leads.image_url END,
	agent_name = COALESCE(NULLIF($20::text, ''), leads.agent_name),
	is_anonymous = ` + mergedAnonymous + `,
	status = CASE
		WHEN leads.status = 'Anonymous' AND NOT ` + mergedAnonymous + ` THEN 'Follow-up needed'
		WHEN $21::text <> '' THEN $21::text
		ELSE leads.status
	END,
	last_updated = $23`

const updateLeadQuery = `
UPDATE leads
SET` + mergeSetClause + `
WHERE id = $1 AND tenant_id = $2 AND period_month = $3
RETURNING ` + leadColumns

const insertLeadPrefix = `
INSERT INTO leads (id, tenant_id, period_month, session_id, customer_id, name, email, phone,
	normalized_name, normalized_email, normalized_phone, summary, summary_data, history,
	input_tokens, output_tokens, image_url, agent_name, status, is_anonymous, created_at, last_updated)
VALUES ($1, $2, $3, $4, $5::uuid, NULLIF($6::text, ''), NULLIF($7::text, ''), NULLIF($8::text, ''),
	NULLIF($9::text, ''), NULLIF($10::text, ''), NULLIF($11::text, ''), $12::text, $13::jsonb,
	CASE WHEN $14::boolean THEN $15::jsonb ELSE '[]'::jsonb END,
	$16::integer, $17::integer, CASE WHEN $18::boolean THEN $19::text ELSE NULL END, NULLIF($20::text, ''),
	CASE
		WHEN $21::text <> '' THEN $21::text
		WHEN ` + insertAnonymous + ` THEN 'Anonymous'
		ELSE 'Follow-up needed'
	END,
	` + insertAnonymous + `, $24, $23)
`

// arbiters name the partial unique index each key kind upserts through.
var arbiters = map[domain.KeyKind]string{
	domain.KeyEmail:   "(tenant_id, period_month, normalized_email) WHERE normalized_email IS NOT NULL",
	domain.KeyPhone:   "(tenant_id, period_month, normalized_phone) WHERE normalized_phone IS NOT NULL",
	domain.KeyName:    "(tenant_id, period_month, normalized_name) WHERE normalized_name IS NOT NULL",
	domain.KeySession: "(tenant_id, period_month, session_id) WHERE " + keylessPredicate,
}

const keylessPredicate = "normalized_email IS NULL AND normalized_phone IS NULL AND normalized_name IS NULL"

// lockSessionQuery serializes inserts of one session within a month so a
// session-keyed write and a contact-keyed write cannot both insert.
const lockSessionQuery = `SELECT pg_advisory_xact_lock(hashtextextended($1::text || '/' || $2::text || '/' || $3::text, 0))`

// adoptQueries find the lead of the session an upsert merges into before it
// tries to insert. Session-keyed writes take the latest lead of the session;
// contact-keyed writes only take one without contact keys.
var adoptQueries = func() map[domain.KeyKind]string {
	out := make(map[domain.KeyKind]string, len(arbiters))
	for kind := range arbiters {
		predicate := "session_id = $3"
		if kind != domain.KeySession {
			predicate += " AND " + keylessPredicate
		}
		out[kind] = findByKeyQuery(predicate, "ORDER BY last_updated DESC") + " FOR UPDATE"
	}
	return out
}()

var upsertLeadQueries = func() map[domain.KeyKind]string {
	out := make(map[domain.KeyKind]string, len(arbiters))
	for kind, arbiter := range arbiters {
		out[kind] = insertLeadPrefix + "ON CONFLICT " + arbiter + " DO UPDATE SET" + mergeSetClause +
			"\nRETURNING " + leadColumns + ", (xmax = 0)"
	}
	return out
}()

// Repository persists leads in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a lead repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ LeadRepository = (*Repository)(nil)

func scanLead(row pgx.Row, inserted *bool) (domain.Lead, error) {
	var (
		l           domain.Lead
		summaryData []byte
		history     []byte
	)
	dest := []interface{}{&l.ID, &l.TenantID, &l.PeriodMonth, &l.SessionID, &l.CustomerID,
		&l.Name, &l.Email, &l.Phone, &l.NormalizedName, &l.NormalizedEmail, &l.NormalizedPhone,
		&l.Summary, &summaryData, &history, &l.InputTokens, &l.OutputTokens,
		&l.ImageURL, &l.AgentName, &l.Status, &l.IsAnonymous, &l.CreatedAt, &l.LastUpdated}
	if inserted != nil {
		dest = append(dest, inserted)
	}
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Lead{}, ErrNotFound
		}
		if db.IsUniqueViolation(err, keyConstraints...) {
			return domain.Lead{}, ErrDuplicate
		}
		return domain.Lead{}, err
	}
	if len(summaryData) > 0 {
		l.SummaryData = &domain.SummaryData{}
		if err := json.Unmarshal(summaryData, l.SummaryData); err != nil {
			return domain.Lead{}, fmt.Errorf("decode summary data: %w", err)
		}
	}
	l.History = []domain.HistoryEntry{}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &l.History); err != nil {
			return domain.Lead{}, fmt.Errorf("decode history: %w", err)
		}
	}
	return l, nil
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (domain.Lead, error) {
	return scanLead(r.pool.QueryRow(ctx, getLeadQuery, id), nil)
}

func (r *Repository) FindByKey(ctx context.Context, tenantID, periodMonth string, key domain.Key) (domain.Lead, error) {
	query, ok := findByKeyQueries[key.Kind]
	if !ok {
		return domain.Lead{}, fmt.Errorf("unknown lead key kind %q", key.Kind)
	}
	return scanLead(r.pool.QueryRow(ctx, query, tenantID, periodMonth, key.Value), nil)
}

func (r *Repository) Update(ctx context.Context, id uuid.UUID, tenantID, periodMonth string, upd domain.LeadUpdate) (domain.Lead, error) {
	args, err := mergeArgs(id, tenantID, periodMonth, upd)
	if err != nil {
		return domain.Lead{}, err
	}
	return scanLead(r.pool.QueryRow(ctx, updateLeadQuery, args...), nil)
}

func (r *Repository) Upsert(ctx context.Context, ins domain.LeadInsert, arbiter domain.KeyKind, upd domain.LeadUpdate) (Written, error) {
	query, ok := upsertLeadQueries[arbiter]
	if !ok {
		return Written{}, fmt.Errorf("unknown lead key kind %q", arbiter)
	}
	args, err := mergeArgs(ins.ID, ins.TenantID, ins.PeriodMonth, upd)
	if err != nil {
		return Written{}, err
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Written{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, lockSessionQuery, ins.TenantID, ins.PeriodMonth, upd.SessionID); err != nil {
		return Written{}, fmt.Errorf("lock lead session: %w", err)
	}

	var out Written
	prior, err := scanLead(tx.QueryRow(ctx, adoptQueries[arbiter], ins.TenantID, ins.PeriodMonth, upd.SessionID), nil)
	switch {
	case err == nil:
		args[0] = prior.ID
		out.Lead, err = scanLead(tx.QueryRow(ctx, updateLeadQuery, args...), nil)
		out.Adopted = &prior
	case errors.Is(err, ErrNotFound):
		args = append(args, ins.CreatedAt)
		out.Lead, err = scanLead(tx.QueryRow(ctx, query, args...), &out.Inserted)
	}
	if err != nil {
		return Written{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Written{}, err
	}
	return out, nil
}

func mergeArgs(id uuid.UUID, tenantID, periodMonth string, upd domain.LeadUpdate) ([]interface{}, error) {
	var summaryData []byte
	if upd.SummaryData != nil {
		encoded, err := json.Marshal(upd.SummaryData)
		if err != nil {
			return nil, fmt.Errorf("encode summary data: %w", err)
		}
		summaryData = encoded
	}
	var history []byte
	if upd.History != nil {
		encoded, err := json.Marshal(upd.History)
		if err != nil {
			return nil, fmt.Errorf("encode history: %w", err)
		}
		history = encoded
	}

	return []interface{}{
		id, tenantID, periodMonth, upd.SessionID, upd.CustomerID,
		upd.Name, upd.Email, upd.Phone,
		upd.NormalizedName, upd.NormalizedEmail, upd.NormalizedPhone,
		upd.Summary, summaryData, upd.History != nil, history,
		upd.InputTokens, upd.OutputTokens, upd.Image.Set, upd.Image.Value,
		upd.AgentName, upd.Status, upd.PreserveKeys, upd.At,
	}, nil
}
