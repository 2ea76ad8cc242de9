package repository

import (
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// Tenant holds the per-tenant settings the chat core reads.
type Tenant struct {
	ID                string
	Name              string
	BusinessContext   string
	WebhookURL        string
	NotificationEmail string
	SlackChannel      string
	CreatedAt         time.Time
}

type Agent struct {
	ID        string
	TenantID  string
	Name      string
	Persona   string
	CreatedAt time.Time
}
