package service

import (
	"context"
	"errors"
	"strings"

	"github.com/kenxsak/voice-chat-ai-sub001/internal/tenants/repository"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/apperr"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/logger"
)

// Profile is what a chat turn needs to know about the tenant and agent.
type Profile struct {
	Tenant repository.Tenant
	Agent  repository.Agent
}

type Service struct {
	repo repository.TenantRepository
	log  *logger.Logger
}

func New(repo repository.TenantRepository, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{repo: repo, log: log}
}

func (s *Service) Tenant(ctx context.Context, tenantID string) (repository.Tenant, error) {
	t, err := s.repo.GetTenant(ctx, tenantID)
	if errors.Is(err, repository.ErrNotFound) {
		return repository.Tenant{}, apperr.NotFound("tenant not found")
	}
	if err != nil {
		return repository.Tenant{}, apperr.Unavailable("failed to load tenant", err)
	}
	return t, nil
}

// Profile loads the tenant and agent. Either one missing is a NotFound.
func (s *Service) Profile(ctx context.Context, tenantID, agentID string) (Profile, error) {
	t, err := s.Tenant(ctx, tenantID)
	if err != nil {
		return Profile{}, err
	}

	a, err := s.repo.GetAgent(ctx, tenantID, agentID)
	if errors.Is(err, repository.ErrNotFound) {
		return Profile{}, apperr.NotFound("agent not found")
	}
	if err != nil {
		return Profile{}, apperr.Unavailable("failed to load agent", err)
	}

	return Profile{Tenant: t, Agent: a}, nil
}

// Seed writes every tenant and agent of the file, replacing existing settings.
func (s *Service) Seed(ctx context.Context, file SeedFile) (int, int, error) {
	if err := file.Validate(); err != nil {
		return 0, 0, err
	}

	tenants, agents := 0, 0
	for _, st := range file.Tenants {
		if _, err := s.repo.UpsertTenant(ctx, st.tenant()); err != nil {
			return tenants, agents, apperr.Wrap(apperr.KindInternal, "failed to seed tenant "+st.ID, err)
		}
		tenants++
		for _, sa := range st.Agents {
			if _, err := s.repo.UpsertAgent(ctx, sa.agent(st.ID)); err != nil {
				return tenants, agents, apperr.Wrap(apperr.KindInternal, "failed to seed agent "+sa.ID, err)
			}
			agents++
		}
		s.log.Info("tenant seeded", "tenantId", st.ID, "agents", len(st.Agents))
	}
	return tenants, agents, nil
}

func trimmed(v string) string { return strings.TrimSpace(v) }
