package repository

import (
	"context"
	"errors"

	"github.com/kenxsak/voice-chat-ai-sub001/platform/db"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var contactConstraints = []string{"customers_tenant_email_key", "customers_tenant_phone_key"}

const customerColumns = `id, tenant_id, COALESCE(name, ''), COALESCE(email, ''), COALESCE(phone, ''),
	COALESCE(normalized_email, ''), COALESCE(normalized_phone, ''), sessions, ip_addresses,
	total_sessions, is_returning, first_seen, last_seen`

// Email beats phone and normalized beats raw when several rows match.
const findByContactQuery = `
SELECT ` + customerColumns + `
FROM customers
WHERE tenant_id = $1 AND (
	($2::text <> '' AND normalized_email = $2)
	OR ($3::text <> '' AND email = $3)
	OR ($4::text <> '' AND normalized_phone = $4)
	OR ($5::text <> '' AND phone = $5)
)
ORDER BY CASE
	WHEN normalized_email = $2 THEN 0
	WHEN email = $3 THEN 1
	WHEN normalized_phone = $4 THEN 2
	ELSE 3
END, first_seen ASC
LIMIT 1`

const insertCustomerQuery = `
INSERT INTO customers (id, tenant_id, name, email, phone, normalized_email, normalized_phone,
	sessions, ip_addresses, total_sessions, is_returning, first_seen, last_seen)
VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''),
	ARRAY[$8::text], CASE WHEN $9::text = '' THEN '{}'::text[] ELSE ARRAY[$9::text] END, 1, false, $10, $10)
RETURNING ` + customerColumns

// recordVisitQuery merges one visit in a single statement. SET expressions
// see the pre-update row, so the session union is repeated for the counters.
const recordVisitQuery = `
UPDATE customers
SET sessions = CASE WHEN $2::text = ANY(sessions) THEN sessions ELSE array_append(sessions, $2::text) END,
	ip_addresses = CASE WHEN $3::text = '' OR $3::text = ANY(ip_addresses) THEN ip_addresses ELSE array_append(ip_addresses, $3::text) END,
	name = COALESCE(name, NULLIF($4, '')),
	email = CASE WHEN $9::boolean THEN COALESCE(email, NULLIF($5, '')) ELSE email END,
	normalized_email = CASE WHEN $9::boolean THEN COALESCE(normalized_email, NULLIF($6, '')) ELSE normalized_email END,
	phone = CASE WHEN $9::boolean THEN COALESCE(phone, NULLIF($7, '')) ELSE phone END,
	normalized_phone = CASE WHEN $9::boolean THEN COALESCE(normalized_phone, NULLIF($8, '')) ELSE normalized_phone END,
	total_sessions = cardinality(CASE WHEN $2::text = ANY(sessions) THEN sessions ELSE array_append(sessions, $2::text) END),
	is_returning = cardinality(CASE WHEN $2::text = ANY(sessions) THEN sessions ELSE array_append(sessions, $2::text) END) > 1,
	last_seen = GREATEST(last_seen, $10)
WHERE id = $1
RETURNING ` + customerColumns

const backfillCustomerQuery = `
UPDATE customers
SET normalized_email = COALESCE(normalized_email, NULLIF($2, '')),
	normalized_phone = COALESCE(normalized_phone, NULLIF($3, ''))
WHERE id = $1`

// Repository persists customers in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New creates a customer repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ CustomerRepository = (*Repository)(nil)

func scanCustomer(row pgx.Row) (Customer, error) {
	var c Customer
	err := row.Scan(&c.ID, &c.TenantID, &c.Name, &c.Email, &c.Phone, &c.NormalizedEmail, &c.NormalizedPhone,
		&c.Sessions, &c.IPAddresses, &c.TotalSessions, &c.IsReturning, &c.FirstSeen, &c.LastSeen)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Customer{}, ErrNotFound
		}
		if db.IsUniqueViolation(err, contactConstraints...) {
			return Customer{}, ErrDuplicate
		}
		return Customer{}, err
	}
	return c, nil
}

func (r *Repository) FindByContact(ctx context.Context, tenantID string, lookup Lookup) (Customer, error) {
	return scanCustomer(r.pool.QueryRow(ctx, findByContactQuery, tenantID,
		lookup.NormalizedEmail, lookup.Email, lookup.NormalizedPhone, lookup.Phone))
}

func (r *Repository) Insert(ctx context.Context, c Customer, sessionID, ipAddress string) (Customer, error) {
	return scanCustomer(r.pool.QueryRow(ctx, insertCustomerQuery,
		c.ID, c.TenantID, c.Name, c.Email, c.Phone, c.NormalizedEmail, c.NormalizedPhone,
		sessionID, ipAddress, c.FirstSeen))
}

func (r *Repository) RecordVisit(ctx context.Context, id uuid.UUID, v Visit) (Customer, error) {
	return scanCustomer(r.pool.QueryRow(ctx, recordVisitQuery, id,
		v.SessionID, v.IPAddress, v.Name, v.Email, v.NormalizedEmail, v.Phone, v.NormalizedPhone,
		v.FillContact, v.At))
}

func (r *Repository) Backfill(ctx context.Context, id uuid.UUID, normalizedEmail, normalizedPhone string) error {
	_, err := r.pool.Exec(ctx, backfillCustomerQuery, id, normalizedEmail, normalizedPhone)
	if db.IsUniqueViolation(err, contactConstraints...) {
		return ErrDuplicate
	}
	return err
}
