package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kenxsak/voice-chat-ai-sub001/internal/customers/repository"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/apperr"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/clock"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/contact"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/logger"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/metrics"

	"github.com/google/uuid"
)

const (
	maxResolveRounds = 3
	backfillTimeout  = 5 * time.Second
)

// Service resolves visitors to customers by their contact details.
type Service struct {
	repo  repository.CustomerRepository
	clock clock.Clock
	log   *logger.Logger

	backfills sync.WaitGroup
}

// New creates the identity resolver.
func New(repo repository.CustomerRepository, clk clock.Clock, log *logger.Logger) *Service {
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Service{repo: repo, clock: clk, log: log}
}

func lookupFor(f contact.Fields, n contact.Normalized) repository.Lookup {
	return repository.Lookup{
		Email:           f.Email,
		Phone:           f.Phone,
		NormalizedEmail: n.Email,
		NormalizedPhone: n.Phone,
	}
}

// FindByContact returns the customer matching the email or phone, or nil when
// none does. The name never matches.
func (s *Service) FindByContact(ctx context.Context, tenantID string, f contact.Fields) (*repository.Customer, error) {
	f = f.Trimmed()
	if f.Email == "" && f.Phone == "" {
		return nil, nil
	}
	found, err := s.find(ctx, tenantID, lookupFor(f, contact.Normalize(f)))
	if err != nil {
		return nil, apperr.Unavailable("find customer", err)
	}
	return found, nil
}

func (s *Service) find(ctx context.Context, tenantID string, lookup repository.Lookup) (*repository.Customer, error) {
	c, err := s.repo.FindByContact(ctx, tenantID, lookup)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.backfill(ctx, c)
	return &c, nil
}

// backfill stores missing normalized keys of a row matched on raw values.
// It never blocks the caller.
func (s *Service) backfill(ctx context.Context, c repository.Customer) {
	var email, phone string
	if c.NormalizedEmail == "" {
		email = contact.NormalizeEmail(c.Email)
	}
	if c.NormalizedPhone == "" {
		phone = contact.NormalizePhone(c.Phone)
	}
	if email == "" && phone == "" {
		return
	}

	s.backfills.Add(1)
	go func() {
		defer s.backfills.Done()
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), backfillTimeout)
		defer cancel()
		if err := s.repo.Backfill(bctx, c.ID, email, phone); err != nil {
			s.log.Warn("customer key backfill failed", "customerId", c.ID, "error", err)
			return
		}
		s.log.Debug("customer keys backfilled", "customerId", c.ID)
	}()
}

// WaitBackfills blocks until every running backfill finished.
func (s *Service) WaitBackfills() {
	s.backfills.Wait()
}

// CreateOrUpdate records a visit of the customer identified by f, creating
// the customer on first contact. It returns nil when f has neither email nor
// phone.
func (s *Service) CreateOrUpdate(ctx context.Context, tenantID, sessionID string, f contact.Fields, ipAddress string) (*repository.Customer, error) {
	f = f.Trimmed()
	if f.Email == "" && f.Phone == "" {
		return nil, nil
	}
	if tenantID == "" || sessionID == "" {
		return nil, apperr.Validation("tenant and session are required")
	}
	norm := contact.Normalize(f)
	lookup := lookupFor(f, norm)

	for round := 1; round <= maxResolveRounds; round++ {
		existing, err := s.find(ctx, tenantID, lookup)
		if err != nil {
			return nil, apperr.Unavailable("find customer", err)
		}
		now := s.clock.Now()

		if existing != nil {
			updated, err := s.recordVisit(ctx, existing.ID, repository.Visit{
				SessionID:       sessionID,
				IPAddress:       ipAddress,
				Name:            f.Name,
				Email:           f.Email,
				Phone:           f.Phone,
				NormalizedEmail: norm.Email,
				NormalizedPhone: norm.Phone,
				At:              now,
			})
			if errors.Is(err, repository.ErrNotFound) {
				s.log.Contention("customer_update", round, err)
				continue
			}
			if err != nil {
				return nil, apperr.Unavailable("update customer", err)
			}
			metrics.RecordCustomerResolution("matched")
			return &updated, nil
		}

		created, err := s.repo.Insert(ctx, repository.Customer{
			ID:              uuid.New(),
			TenantID:        tenantID,
			Name:            f.Name,
			Email:           f.Email,
			Phone:           f.Phone,
			NormalizedEmail: norm.Email,
			NormalizedPhone: norm.Phone,
			FirstSeen:       now,
		}, sessionID, ipAddress)
		if err == nil {
			metrics.RecordCustomerResolution("created")
			s.log.Info("customer created", "customerId", created.ID, "tenantId", tenantID)
			return &created, nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return nil, apperr.Unavailable("create customer", err)
		}
		s.log.Contention("customer_insert", round, err)
	}

	metrics.RecordCustomerResolution("contended")
	return nil, apperr.Unavailable("customer resolution kept colliding", nil)
}

// recordVisit fills missing contact keys where possible. When a key belongs to
// another customer the visit is recorded without filling.
func (s *Service) recordVisit(ctx context.Context, id uuid.UUID, v repository.Visit) (repository.Customer, error) {
	v.FillContact = true
	updated, err := s.repo.RecordVisit(ctx, id, v)
	if !errors.Is(err, repository.ErrDuplicate) {
		return updated, err
	}
	s.log.Debug("contact key owned by another customer, not filling", "customerId", id)
	v.FillContact = false
	return s.repo.RecordVisit(ctx, id, v)
}
