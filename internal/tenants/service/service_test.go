package service

import (
	"context"
	"testing"

	"github.com/kenxsak/voice-chat-ai-sub001/internal/tenants/repository"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/apperr"
)

const seedYAML = `
tenants:
  - id: acme
    name: Acme Plumbing
    business_context: Emergency plumbing in Springfield.
    webhook_url: https://hooks.example.com/acme
    notification_email: sales@acme.example
    agents:
      - id: sales
        name: Sally
        persona: Friendly and brief.
      - id: support
        name: Sam
`

func TestSeedThenProfile(t *testing.T) {
	file, err := ParseSeedFile([]byte(seedYAML))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	svc := New(repository.NewMemory(), nil)
	ctx := context.Background()

	tenants, agents, err := svc.Seed(ctx, file)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if tenants != 1 || agents != 2 {
		t.Fatalf("expected 1 tenant and 2 agents, got %d and %d", tenants, agents)
	}

	profile, err := svc.Profile(ctx, "acme", "sales")
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	if profile.Agent.Name != "Sally" || profile.Tenant.BusinessContext != "Emergency plumbing in Springfield." {
		t.Fatalf("unexpected profile: %+v", profile)
	}
	if profile.Tenant.WebhookURL != "https://hooks.example.com/acme" {
		t.Fatalf("unexpected webhook url %q", profile.Tenant.WebhookURL)
	}
}

func TestProfileMissingIsNotFound(t *testing.T) {
	repo := repository.NewMemory()
	svc := New(repo, nil)
	ctx := context.Background()

	if _, err := svc.Profile(ctx, "ghost", "sales"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found for missing tenant, got %v", err)
	}

	if _, err := repo.UpsertTenant(ctx, repository.Tenant{ID: "acme", Name: "Acme"}); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if _, err := svc.Profile(ctx, "acme", "ghost"); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found for missing agent, got %v", err)
	}
}

func TestParseSeedFileRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "missing name", yaml: "tenants:\n  - id: acme\n"},
		{name: "duplicate tenant", yaml: "tenants:\n  - {id: a, name: A}\n  - {id: a, name: B}\n"},
		{name: "agent without id", yaml: "tenants:\n  - id: a\n    name: A\n    agents:\n      - name: Sally\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseSeedFile([]byte(tt.yaml)); !apperr.Is(err, apperr.KindValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}
