package service

import (
	"context"
	"errors"
	"time"

	"github.com/kenxsak/voice-chat-ai-sub001/internal/events"
	"github.com/kenxsak/voice-chat-ai-sub001/internal/leads/domain"
	"github.com/kenxsak/voice-chat-ai-sub001/internal/leads/repository"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/apperr"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/clock"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/contact"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/logger"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/metrics"

	"github.com/google/uuid"
)

const maxUpsertRounds = 4

// Payload carries the mutable lead content of one upsert.
type Payload struct {
	CustomerID   *uuid.UUID
	Summary      *string
	SummaryData  *domain.SummaryData
	History      []domain.HistoryEntry
	InputTokens  *int
	OutputTokens *int
	Image        domain.OptionalString
	Status       string
	AgentName    string
}

// plan is the outcome of resolving the natural keys of an upsert.
type plan struct {
	target     *domain.Lead
	targetKind domain.KeyKind
	// blocked kinds are held by some other lead and must not be written.
	blocked map[domain.KeyKind]bool
}

// Service is the lead deduplication and upsert engine.
type Service struct {
	repo     repository.LeadRepository
	eventBus events.Bus
	clock    clock.Clock
	log      *logger.Logger
}

// New creates the lead engine. eventBus may be nil.
func New(repo repository.LeadRepository, eventBus events.Bus, clk clock.Clock, log *logger.Logger) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Service{repo: repo, eventBus: eventBus, clock: clk, log: log}
}

// Upsert creates or merges the lead of the month identified by the strongest
// natural key among c and sessionID.
func (s *Service) Upsert(ctx context.Context, tenantID string, eventDate time.Time, c contact.Fields, sessionID string, p Payload) (domain.Lead, error) {
	if tenantID == "" || sessionID == "" {
		return domain.Lead{}, apperr.Validation("tenant and session are required")
	}
	c = c.Trimmed()
	keys := domain.DeriveKeys(c, sessionID)
	period := domain.PeriodMonth(eventDate)

	for round := 1; round <= maxUpsertRounds; round++ {
		pl, err := s.resolve(ctx, tenantID, period, keys)
		if err != nil {
			return domain.Lead{}, apperr.Unavailable("resolve lead", err)
		}
		upd := buildUpdate(c, keys.Without(pl.blocked), sessionID, p, s.clock.Now(), round > 1)

		var (
			written repository.Written
			keyKind domain.KeyKind
			prior   = pl.target
		)
		if pl.target != nil {
			keyKind = pl.targetKind
			written.Lead, err = s.repo.Update(ctx, pl.target.ID, tenantID, period, upd)
		} else {
			primary, _ := keys.Primary()
			keyKind = primary.Kind
			written, err = s.repo.Upsert(ctx, domain.LeadInsert{
				ID:          uuid.New(),
				TenantID:    tenantID,
				PeriodMonth: period,
				CreatedAt:   upd.At,
			}, keyKind, upd)
			prior = written.Adopted
		}

		if err == nil {
			outcome := "merged"
			if written.Inserted {
				outcome = "created"
			}
			metrics.RecordLeadUpsert(outcome, string(keyKind))
			s.publishIfCaptured(ctx, written.Lead, prior, written.Inserted)
			return written.Lead, nil
		}
		if !errors.Is(err, repository.ErrDuplicate) && !errors.Is(err, repository.ErrNotFound) {
			return domain.Lead{}, apperr.Unavailable("upsert lead", err)
		}
		s.log.Contention("lead_upsert", round, err)
	}

	metrics.RecordLeadUpsert("contended", "")
	return domain.Lead{}, apperr.Unavailable("lead upsert kept colliding", nil)
}

// resolve walks the candidate keys strongest first. The first lead found that
// holds no conflicting stronger key becomes the target; every other lead
// found blocks the key it was found by.
func (s *Service) resolve(ctx context.Context, tenantID, period string, keys domain.Keys) (plan, error) {
	pl := plan{blocked: make(map[domain.KeyKind]bool)}
	for _, key := range keys.Candidates() {
		found, err := s.repo.FindByKey(ctx, tenantID, period, key)
		if errors.Is(err, repository.ErrNotFound) {
			continue
		}
		if err != nil {
			return plan{}, err
		}
		if pl.target == nil && domain.Compatible(found, key.Kind, keys) {
			lead := found
			pl.target, pl.targetKind = &lead, key.Kind
			continue
		}
		if pl.target == nil || found.ID != pl.target.ID {
			pl.blocked[key.Kind] = true
		}
	}
	return pl, nil
}

func buildUpdate(c contact.Fields, keys domain.Keys, sessionID string, p Payload, now time.Time, preserve bool) domain.LeadUpdate {
	return domain.LeadUpdate{
		SessionID:       sessionID,
		CustomerID:      p.CustomerID,
		Name:            c.Name,
		Email:           c.Email,
		Phone:           c.Phone,
		NormalizedName:  keys.Name,
		NormalizedEmail: keys.Email,
		NormalizedPhone: keys.Phone,
		PreserveKeys:    preserve,
		Summary:         p.Summary,
		SummaryData:     p.SummaryData,
		History:         p.History,
		InputTokens:     p.InputTokens,
		OutputTokens:    p.OutputTokens,
		Image:           p.Image,
		AgentName:       p.AgentName,
		Status:          p.Status,
		At:              now,
	}
}

func (s *Service) publishIfCaptured(ctx context.Context, lead domain.Lead, prior *domain.Lead, inserted bool) {
	if s.eventBus == nil || lead.IsAnonymous {
		return
	}
	upgraded := prior != nil && prior.IsAnonymous
	if !inserted && !upgraded {
		return
	}

	history := make([]events.TranscriptLine, 0, len(lead.History))
	for _, h := range lead.History {
		history = append(history, events.TranscriptLine{Role: h.Role, Content: h.Content, ImageURL: h.ImageURL, Timestamp: h.Timestamp})
	}
	s.eventBus.Publish(ctx, events.LeadCaptured{
		BaseEvent:   events.NewBaseEventAt(lead.LastUpdated),
		LeadID:      lead.ID,
		TenantID:    lead.TenantID,
		PeriodMonth: lead.PeriodMonth,
		SessionID:   lead.SessionID,
		Agent:       lead.AgentName,
		LeadName:    lead.Name,
		LeadEmail:   lead.Email,
		LeadPhone:   lead.Phone,
		Summary:     lead.Summary,
		FullHistory: history,
		Upgraded:    upgraded,
	})
	s.log.Info("lead captured", "leadId", lead.ID, "tenantId", lead.TenantID, "upgraded", upgraded)
}

// Get returns a lead of the tenant.
func (s *Service) Get(ctx context.Context, tenantID string, id uuid.UUID) (domain.Lead, error) {
	lead, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && lead.TenantID != tenantID) {
		return domain.Lead{}, apperr.NotFound("lead not found")
	}
	if err != nil {
		return domain.Lead{}, apperr.Unavailable("load lead", err)
	}
	return lead, nil
}
