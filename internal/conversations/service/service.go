package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kenxsak/voice-chat-ai-sub001/internal/conversations/repository"
	msgrepo "github.com/kenxsak/voice-chat-ai-sub001/internal/messages/repository"
	"github.com/kenxsak/voice-chat-ai-sub001/internal/summarizer"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/apperr"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/clock"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/config"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/logger"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/metrics"

	"github.com/google/uuid"
)

const (
	defaultCreateAttempts    = 5
	defaultCreateBackoff     = 50 * time.Millisecond
	defaultSummarizerTimeout = 30 * time.Second
	releaseTimeout           = 5 * time.Second
)

// errContention marks a lost race that the next attempt can recover from.
var errContention = errors.New("conversation changed concurrently")

// Transcripts reads the ordered message ledger of a conversation.
type Transcripts interface {
	Transcript(ctx context.Context, conversationID uuid.UUID) ([]msgrepo.Message, error)
}

// Options tunes retry budgets and timeouts.
type Options struct {
	CreateAttempts    int
	CreateBackoff     time.Duration
	MaxCloseAttempts  int
	SummarizerTimeout time.Duration
}

// OptionsFromConfig reads Options from configuration.
func OptionsFromConfig(lc config.LifecycleConfig, sc config.SummarizerConfig) Options {
	return Options{
		CreateAttempts:    lc.GetCreateAttempts(),
		CreateBackoff:     lc.GetCreateBackoff(),
		MaxCloseAttempts:  lc.GetMaxCloseAttempts(),
		SummarizerTimeout: sc.GetSummarizerTimeout(),
	}
}

// OpenParams identifies the conversation a chat turn belongs to.
type OpenParams struct {
	TenantID   string
	SessionID  string
	AgentID    string
	CustomerID *uuid.UUID
	IPAddress  string
}

// CloseOutcome is handed to the persist hook once the summary is known.
type CloseOutcome struct {
	Conversation repository.Conversation
	Transcript   []msgrepo.Message
	Summary      summarizer.Summary
	Degraded     bool
}

// Persisted reports what the persist hook stored.
type Persisted struct {
	CustomerID *uuid.UUID
	LeadID     *uuid.UUID
}

// PersistFunc stores the customer and lead derived from a close. It runs
// before the conversation is finalized; an error reverts the claim.
type PersistFunc func(ctx context.Context, outcome CloseOutcome) (Persisted, error)

// CloseParams configures a close.
type CloseParams struct {
	AgentName       string
	BusinessContext string
	Persist         PersistFunc
}

// CloseResult is returned to the caller of Close.
type CloseResult struct {
	ConversationID    uuid.UUID
	CustomerName      string
	CustomerEmail     string
	CustomerPhone     string
	Summary           string
	ProblemsDiscussed []string
	SolutionsProvided []string
	SuggestionsGiven  []string
	CustomerID        *uuid.UUID
	LeadID            *uuid.UUID
	AlreadyClosed     bool
	Degraded          bool
}

// Service is the conversation lifecycle manager.
type Service struct {
	repo        repository.ConversationRepository
	transcripts Transcripts
	summarizer  summarizer.Summarizer
	fallback    summarizer.Summarizer
	clock       clock.Clock
	log         *logger.Logger
	opts        Options
}

// New creates the lifecycle manager.
func New(repo repository.ConversationRepository, transcripts Transcripts, sum summarizer.Summarizer, clk clock.Clock, log *logger.Logger, opts Options) *Service {
	if opts.CreateAttempts <= 0 {
		opts.CreateAttempts = defaultCreateAttempts
	}
	if opts.CreateBackoff <= 0 {
		opts.CreateBackoff = defaultCreateBackoff
	}
	if opts.SummarizerTimeout <= 0 {
		opts.SummarizerTimeout = defaultSummarizerTimeout
	}
	if sum == nil {
		sum = summarizer.Fallback{}
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		repo:        repo,
		transcripts: transcripts,
		summarizer:  sum,
		fallback:    summarizer.Fallback{},
		clock:       clk,
		log:         log,
		opts:        opts,
	}
}

// Get returns a conversation of the tenant.
func (s *Service) Get(ctx context.Context, tenantID string, id uuid.UUID) (repository.Conversation, error) {
	conv, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) || (err == nil && conv.TenantID != tenantID) {
		return repository.Conversation{}, apperr.NotFound("conversation not found")
	}
	if err != nil {
		return repository.Conversation{}, apperr.Unavailable("load conversation", err)
	}
	return conv, nil
}

// Lookup returns a conversation whatever its tenant. Background jobs use it;
// request paths go through Get.
func (s *Service) Lookup(ctx context.Context, id uuid.UUID) (repository.Conversation, error) {
	conv, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return repository.Conversation{}, apperr.NotFound("conversation not found")
	}
	if err != nil {
		return repository.Conversation{}, apperr.Unavailable("load conversation", err)
	}
	return conv, nil
}

// FindOpen returns the open conversation of the triple.
func (s *Service) FindOpen(ctx context.Context, tenantID, sessionID, agentID string) (repository.Conversation, error) {
	conv, err := s.repo.FindOpen(ctx, tenantID, sessionID, agentID)
	if errors.Is(err, repository.ErrNotFound) {
		return repository.Conversation{}, apperr.NotFound("no open conversation for session")
	}
	if err != nil {
		return repository.Conversation{}, apperr.Unavailable("load conversation", err)
	}
	return conv, nil
}

// GetOrCreate returns the open conversation of the triple, moving an open
// conversation of the same session to this agent, creating one, or reopening
// a closed one. Lost races are retried with backoff.
func (s *Service) GetOrCreate(ctx context.Context, p OpenParams) (repository.Conversation, error) {
	if p.TenantID == "" || p.SessionID == "" || p.AgentID == "" {
		return repository.Conversation{}, apperr.Validation("tenant, session and agent are required")
	}

	var lastErr error
	for attempt := 1; attempt <= s.opts.CreateAttempts; attempt++ {
		conv, outcome, err := s.getOrCreateOnce(ctx, p)
		if err == nil {
			metrics.RecordConversation(outcome)
			if outcome != "reused" {
				s.log.Info("conversation "+outcome, "conversationId", conv.ID, "tenantId", p.TenantID, "agentId", p.AgentID)
			}
			return conv, nil
		}
		if !errors.Is(err, errContention) {
			return repository.Conversation{}, apperr.Unavailable("get or create conversation", err)
		}
		lastErr = err
		s.log.Contention("conversation_get_or_create", attempt, err)
		if attempt < s.opts.CreateAttempts {
			if err := s.clock.Sleep(ctx, s.opts.CreateBackoff*time.Duration(attempt)); err != nil {
				return repository.Conversation{}, apperr.Unavailable("get or create conversation", err)
			}
		}
	}

	metrics.RecordConversation("exhausted")
	return repository.Conversation{}, apperr.Wrap(apperr.KindInternal,
		fmt.Sprintf("could not obtain conversation after %d attempts", s.opts.CreateAttempts), lastErr)
}

func (s *Service) getOrCreateOnce(ctx context.Context, p OpenParams) (repository.Conversation, string, error) {
	touch := repository.Touch{CustomerID: p.CustomerID, IPAddress: p.IPAddress, At: s.clock.Now()}

	conv, err := s.repo.FindOpen(ctx, p.TenantID, p.SessionID, p.AgentID)
	switch {
	case err == nil:
		conv, err = s.repo.Touch(ctx, conv.ID, touch)
		return conv, "reused", contention(err)
	case !errors.Is(err, repository.ErrNotFound):
		return repository.Conversation{}, "", err
	}

	conv, err = s.repo.FindOpenBySession(ctx, p.TenantID, p.SessionID)
	switch {
	case err == nil:
		moved, err := s.repo.Reassign(ctx, conv.ID, p.AgentID, touch)
		if err == nil {
			return moved, "reassigned", nil
		}
		if !errors.Is(err, repository.ErrDuplicate) {
			return repository.Conversation{}, "", contention(err)
		}
		// The agent already owns a closed conversation for this session.
		return s.adoptExisting(ctx, p, touch)
	case !errors.Is(err, repository.ErrNotFound):
		return repository.Conversation{}, "", err
	}

	created, err := s.repo.Insert(ctx, repository.Conversation{
		ID:         uuid.New(),
		TenantID:   p.TenantID,
		SessionID:  p.SessionID,
		AgentID:    p.AgentID,
		CustomerID: p.CustomerID,
		IPAddress:  p.IPAddress,
		CreatedAt:  touch.At,
	})
	if err == nil {
		return created, "created", nil
	}
	if !errors.Is(err, repository.ErrDuplicate) {
		return repository.Conversation{}, "", err
	}
	return s.adoptExisting(ctx, p, touch)
}

// adoptExisting takes over the stored conversation of the triple after an
// insert lost to it, reopening it when closed.
func (s *Service) adoptExisting(ctx context.Context, p OpenParams, touch repository.Touch) (repository.Conversation, string, error) {
	existing, err := s.repo.FindByTriple(ctx, p.TenantID, p.SessionID, p.AgentID)
	if err != nil {
		return repository.Conversation{}, "", contention(err)
	}
	outcome := "reused"
	if existing.Status == repository.StatusClosed {
		if _, err := s.repo.Reopen(ctx, existing.ID, touch.At); err != nil {
			return repository.Conversation{}, "", contention(err)
		}
		outcome = "reopened"
	}
	conv, err := s.repo.Touch(ctx, existing.ID, touch)
	return conv, outcome, contention(err)
}

// contention maps errors caused by a row changing underneath us to errContention.
func contention(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, repository.ErrNotClaimable), errors.Is(err, repository.ErrDuplicate):
		return fmt.Errorf("%w: %v", errContention, err)
	default:
		return err
	}
}

// Close claims the conversation, summarizes it, runs the persist hook and
// finalizes it. Callers that lose the claim get AlreadyClosed without side
// effects. Failures after the claim revert the conversation to active.
func (s *Service) Close(ctx context.Context, id uuid.UUID, params CloseParams) (CloseResult, error) {
	conv, err := s.repo.Claim(ctx, id, s.clock.Now())
	if errors.Is(err, repository.ErrNotClaimable) {
		if _, gerr := s.repo.GetByID(ctx, id); errors.Is(gerr, repository.ErrNotFound) {
			return CloseResult{}, apperr.NotFound("conversation not found")
		}
		metrics.RecordCloseClaim(false)
		return CloseResult{ConversationID: id, AlreadyClosed: true}, nil
	}
	if err != nil {
		return CloseResult{}, apperr.Unavailable("claim conversation", err)
	}
	metrics.RecordCloseClaim(true)

	result, err := s.complete(ctx, conv, params)
	if err != nil {
		s.release(ctx, conv.ID, err)
		if apperr.GetKind(err) != apperr.KindUnknown {
			return CloseResult{}, err
		}
		return CloseResult{}, apperr.Unavailable("close conversation", err)
	}

	s.log.Info("conversation closed", "conversationId", conv.ID, "tenantId", conv.TenantID,
		"degraded", result.Degraded, "attempts", conv.CloseAttempts+1)
	return result, nil
}

func (s *Service) complete(ctx context.Context, conv repository.Conversation, params CloseParams) (CloseResult, error) {
	transcript, err := s.transcripts.Transcript(ctx, conv.ID)
	if err != nil {
		return CloseResult{}, fmt.Errorf("load transcript: %w", err)
	}
	turns := toTurns(transcript)

	degraded := s.opts.MaxCloseAttempts > 0 && conv.CloseAttempts >= s.opts.MaxCloseAttempts
	var summary summarizer.Summary
	if degraded {
		s.log.Warn("close attempt cap reached, using fallback summary", "conversationId", conv.ID, "attempts", conv.CloseAttempts)
		summary, err = s.fallback.Summarize(ctx, turns, params.AgentName, params.BusinessContext)
	} else {
		summary, err = s.summarize(ctx, turns, params)
	}
	if err != nil {
		return CloseResult{}, err
	}

	var persisted Persisted
	if params.Persist != nil {
		persisted, err = params.Persist(ctx, CloseOutcome{
			Conversation: conv,
			Transcript:   transcript,
			Summary:      summary,
			Degraded:     degraded,
		})
		if err != nil {
			return CloseResult{}, fmt.Errorf("persist close: %w", err)
		}
	}

	err = s.repo.Finalize(ctx, conv.ID, repository.Finalize{
		Summary:    summary.Summary,
		CustomerID: persisted.CustomerID,
		ClosedAt:   s.clock.Now(),
	})
	if err != nil {
		return CloseResult{}, fmt.Errorf("finalize conversation: %w", err)
	}

	customerID := persisted.CustomerID
	if customerID == nil {
		customerID = conv.CustomerID
	}
	return CloseResult{
		ConversationID:    conv.ID,
		CustomerName:      summary.CustomerName,
		CustomerEmail:     summary.CustomerEmail,
		CustomerPhone:     summary.CustomerPhone,
		Summary:           summary.Summary,
		ProblemsDiscussed: summary.ProblemsDiscussed,
		SolutionsProvided: summary.SolutionsProvided,
		SuggestionsGiven:  summary.SuggestionsGiven,
		CustomerID:        customerID,
		LeadID:            persisted.LeadID,
		Degraded:          degraded,
	}, nil
}

func (s *Service) summarize(ctx context.Context, turns []summarizer.Turn, params CloseParams) (summarizer.Summary, error) {
	sctx, cancel := context.WithTimeout(ctx, s.opts.SummarizerTimeout)
	defer cancel()

	started := time.Now()
	summary, err := s.summarizer.Summarize(sctx, turns, params.AgentName, params.BusinessContext)
	metrics.RecordSummarizer(err, time.Since(started))
	if err != nil {
		return summarizer.Summary{}, fmt.Errorf("summarize transcript: %w", err)
	}
	return summary, nil
}

// release reverts a claim. It runs detached from the caller so a cancelled
// request still leaves the conversation closable.
func (s *Service) release(ctx context.Context, id uuid.UUID, cause error) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	metrics.RecordCloseRollback()
	s.log.Warn("close failed, reverting claim", "conversationId", id, "error", cause)
	if err := s.repo.Release(rctx, id, s.clock.Now()); err != nil {
		s.log.DatabaseError("conversation_release", err)
	}
}

// RecoverStale reverts claims older than lease. It returns how many were reverted.
func (s *Service) RecoverStale(ctx context.Context, lease time.Duration, limit int) (int, error) {
	ids, err := s.repo.ReleaseStale(ctx, s.clock.Now().Add(-lease), limit)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		s.log.Warn("stale close claim reverted", "conversationId", id)
	}
	return len(ids), nil
}

// IdleConversations lists active conversations untouched for idleAfter.
func (s *Service) IdleConversations(ctx context.Context, idleAfter time.Duration, limit int) ([]uuid.UUID, error) {
	return s.repo.ListIdle(ctx, s.clock.Now().Add(-idleAfter), limit)
}

func toTurns(transcript []msgrepo.Message) []summarizer.Turn {
	turns := make([]summarizer.Turn, 0, len(transcript))
	for _, msg := range transcript {
		turns = append(turns, summarizer.Turn{
			Role:      string(msg.Role),
			Content:   msg.Content,
			ImageURL:  msg.ImageURL,
			Timestamp: msg.CreatedAt,
		})
	}
	return turns
}
