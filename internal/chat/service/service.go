// Package service composes conversations, messages, customers and leads into
// the two chat entry points: recording a turn and ending a session.
package service

import (
	"context"
	"strings"
	"time"

	convrepo "github.com/kenxsak/voice-chat-ai-sub001/internal/conversations/repository"
	convservice "github.com/kenxsak/voice-chat-ai-sub001/internal/conversations/service"
	custrepo "github.com/kenxsak/voice-chat-ai-sub001/internal/customers/repository"
	"github.com/kenxsak/voice-chat-ai-sub001/internal/leads/domain"
	leadservice "github.com/kenxsak/voice-chat-ai-sub001/internal/leads/service"
	"github.com/kenxsak/voice-chat-ai-sub001/internal/messages"
	msgrepo "github.com/kenxsak/voice-chat-ai-sub001/internal/messages/repository"
	"github.com/kenxsak/voice-chat-ai-sub001/internal/scheduler"
	tenantservice "github.com/kenxsak/voice-chat-ai-sub001/internal/tenants/service"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/apperr"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/clock"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/contact"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/logger"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/sanitize"

	"github.com/google/uuid"
)

type Profiles interface {
	Profile(ctx context.Context, tenantID, agentID string) (tenantservice.Profile, error)
}

type Conversations interface {
	GetOrCreate(ctx context.Context, p convservice.OpenParams) (convrepo.Conversation, error)
	Get(ctx context.Context, tenantID string, id uuid.UUID) (convrepo.Conversation, error)
	Lookup(ctx context.Context, id uuid.UUID) (convrepo.Conversation, error)
	Close(ctx context.Context, id uuid.UUID, params convservice.CloseParams) (convservice.CloseResult, error)
}

type Ledger interface {
	Append(ctx context.Context, in messages.AppendInput) (msgrepo.Message, error)
	Transcript(ctx context.Context, conversationID uuid.UUID) ([]msgrepo.Message, error)
}

type Customers interface {
	CreateOrUpdate(ctx context.Context, tenantID, sessionID string, f contact.Fields, ipAddress string) (*custrepo.Customer, error)
}

type Leads interface {
	Upsert(ctx context.Context, tenantID string, eventDate time.Time, c contact.Fields, sessionID string, p leadservice.Payload) (domain.Lead, error)
}

// TurnInput is one exchange of a chat session.
type TurnInput struct {
	TenantID     string
	SessionID    string
	AgentID      string
	IPAddress    string
	Message      string
	Reply        string
	ImageURL     string
	InputTokens  *int
	OutputTokens *int
	Contact      contact.Fields
}

type TurnResult struct {
	ConversationID uuid.UUID  `json:"conversationId"`
	CustomerID     *uuid.UUID `json:"customerId,omitempty"`
	LeadID         *uuid.UUID `json:"leadId,omitempty"`
}

// UnloadResult reports how an unload signal was handled.
type UnloadResult struct {
	ConversationID uuid.UUID
	Queued         bool
	Close          *convservice.CloseResult
}

type Service struct {
	profiles      Profiles
	conversations Conversations
	ledger        Ledger
	customers     Customers
	leads         Leads
	closes        scheduler.CloseScheduler
	clock         clock.Clock
	log           *logger.Logger
}

type Deps struct {
	Profiles      Profiles
	Conversations Conversations
	Ledger        Ledger
	Customers     Customers
	Leads         Leads
	// Closes, when set, runs unload closes in the background.
	Closes scheduler.CloseScheduler
	Clock  clock.Clock
	Log    *logger.Logger
}

func New(d Deps) *Service {
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Log == nil {
		d.Log = logger.Nop()
	}
	return &Service{
		profiles:      d.Profiles,
		conversations: d.Conversations,
		ledger:        d.Ledger,
		customers:     d.Customers,
		leads:         d.Leads,
		closes:        d.Closes,
		clock:         d.Clock,
		log:           d.Log,
	}
}

// RecordTurn stores one visitor message and the agent reply. When the turn
// carries contact details the customer is resolved and the lead upserted;
// failures there are logged and retried at close, the turn itself is kept.
func (s *Service) RecordTurn(ctx context.Context, in TurnInput) (TurnResult, error) {
	in.Message = strings.TrimSpace(in.Message)
	in.Contact = sanitize.Contact(in.Contact)
	if in.Message == "" && in.ImageURL == "" {
		return TurnResult{}, apperr.Validation("message or image is required")
	}

	profile, err := s.profiles.Profile(ctx, in.TenantID, in.AgentID)
	if err != nil {
		return TurnResult{}, err
	}

	var customer *custrepo.Customer
	if hasMatchableContact(in.Contact) {
		customer, err = s.customers.CreateOrUpdate(ctx, in.TenantID, in.SessionID, in.Contact, in.IPAddress)
		if err != nil {
			s.log.Warn("customer resolution failed during turn", "tenantId", in.TenantID, "sessionId", in.SessionID, "error", err)
			customer = nil
		}
	}

	var customerID *uuid.UUID
	if customer != nil {
		id := customer.ID
		customerID = &id
	}

	conv, err := s.conversations.GetOrCreate(ctx, convservice.OpenParams{
		TenantID:   in.TenantID,
		SessionID:  in.SessionID,
		AgentID:    in.AgentID,
		CustomerID: customerID,
		IPAddress:  in.IPAddress,
	})
	if err != nil {
		return TurnResult{}, err
	}

	if _, err := s.ledger.Append(ctx, messages.AppendInput{
		ConversationID: conv.ID,
		Role:           msgrepo.RoleUser,
		Content:        in.Message,
		ImageURL:       in.ImageURL,
		InputTokens:    in.InputTokens,
	}); err != nil {
		return TurnResult{}, err
	}
	if reply := strings.TrimSpace(in.Reply); reply != "" {
		if _, err := s.ledger.Append(ctx, messages.AppendInput{
			ConversationID: conv.ID,
			Role:           msgrepo.RoleAgent,
			Content:        reply,
			OutputTokens:   in.OutputTokens,
		}); err != nil {
			return TurnResult{}, err
		}
	}

	result := TurnResult{ConversationID: conv.ID, CustomerID: customerID}
	if in.Contact.IsEmpty() {
		return result, nil
	}

	transcript, err := s.ledger.Transcript(ctx, conv.ID)
	if err != nil {
		s.log.Warn("transcript load failed during turn", "conversationId", conv.ID, "error", err)
		return result, nil
	}

	image := domain.KeepString()
	if in.ImageURL != "" {
		image = domain.SetString(in.ImageURL)
	}
	input, output := messages.TokenTotals(transcript)
	lead, err := s.leads.Upsert(ctx, in.TenantID, s.clock.Now(), in.Contact, in.SessionID, leadservice.Payload{
		CustomerID:   customerID,
		History:      historyOf(transcript),
		InputTokens:  input,
		OutputTokens: output,
		Image:        image,
		AgentName:    profile.Agent.Name,
	})
	if err != nil {
		s.log.Warn("lead upsert failed during turn", "conversationId", conv.ID, "tenantId", in.TenantID, "error", err)
		return result, nil
	}
	result.LeadID = &lead.ID
	return result, nil
}

// Scope is what a widget caller may act on.
type Scope struct {
	TenantID string
	// Agents restricts the caller to these agents. Empty allows every agent.
	Agents []string
}

func (sc Scope) allows(agentID string) bool {
	if len(sc.Agents) == 0 {
		return true
	}
	for _, id := range sc.Agents {
		if id == agentID {
			return true
		}
	}
	return false
}

// scoped loads a conversation visible to sc. Conversations of other agents
// read as not found.
func (s *Service) scoped(ctx context.Context, sc Scope, conversationID uuid.UUID) (convrepo.Conversation, error) {
	conv, err := s.conversations.Get(ctx, sc.TenantID, conversationID)
	if err != nil {
		return convrepo.Conversation{}, err
	}
	if !sc.allows(conv.AgentID) {
		return convrepo.Conversation{}, apperr.NotFound("conversation not found")
	}
	return conv, nil
}

// EndSession closes a conversation within sc and returns its summary.
func (s *Service) EndSession(ctx context.Context, sc Scope, conversationID uuid.UUID) (convservice.CloseResult, error) {
	conv, err := s.scoped(ctx, sc, conversationID)
	if err != nil {
		return convservice.CloseResult{}, err
	}
	return s.close(ctx, conv)
}

// Unload handles a page unload beacon. With a queue the close runs in the
// background, otherwise inline.
func (s *Service) Unload(ctx context.Context, sc Scope, conversationID uuid.UUID) (UnloadResult, error) {
	conv, err := s.scoped(ctx, sc, conversationID)
	if err != nil {
		return UnloadResult{}, err
	}
	if conv.Status != convrepo.StatusActive {
		return UnloadResult{ConversationID: conv.ID}, nil
	}

	if s.closes != nil {
		err := s.closes.ScheduleClose(ctx, scheduler.ConversationClosePayload{
			ConversationID: conv.ID.String(),
			Reason:         scheduler.CloseReasonUnload,
		})
		if err == nil {
			return UnloadResult{ConversationID: conv.ID, Queued: true}, nil
		}
		s.log.Warn("failed to queue unload close, closing inline", "conversationId", conv.ID, "error", err)
	}

	res, err := s.close(ctx, conv)
	if err != nil {
		return UnloadResult{}, err
	}
	return UnloadResult{ConversationID: conv.ID, Close: &res}, nil
}

// CloseConversation closes a conversation picked up by a background job.
func (s *Service) CloseConversation(ctx context.Context, conversationID uuid.UUID, reason string) error {
	conv, err := s.conversations.Lookup(ctx, conversationID)
	if err != nil {
		return err
	}
	res, err := s.close(ctx, conv)
	if err != nil {
		return err
	}
	if !res.AlreadyClosed {
		s.log.Info("conversation closed in background", "conversationId", conversationID, "reason", reason)
	}
	return nil
}

func (s *Service) close(ctx context.Context, conv convrepo.Conversation) (convservice.CloseResult, error) {
	profile, err := s.profiles.Profile(ctx, conv.TenantID, conv.AgentID)
	if err != nil {
		return convservice.CloseResult{}, err
	}

	return s.conversations.Close(ctx, conv.ID, convservice.CloseParams{
		AgentName:       profile.Agent.Name,
		BusinessContext: profile.Tenant.BusinessContext,
		Persist: func(ctx context.Context, out convservice.CloseOutcome) (convservice.Persisted, error) {
			return s.persistClose(ctx, profile, out)
		},
	})
}

// persistClose resolves the customer and upserts the lead from the summary.
// Any error here reverts the close so it can be retried.
func (s *Service) persistClose(ctx context.Context, profile tenantservice.Profile, out convservice.CloseOutcome) (convservice.Persisted, error) {
	conv := out.Conversation
	fields := sanitize.Contact(contact.Fields{
		Name:  out.Summary.CustomerName,
		Email: out.Summary.CustomerEmail,
		Phone: out.Summary.CustomerPhone,
	})

	var persisted convservice.Persisted
	customerID := conv.CustomerID
	if hasMatchableContact(fields) {
		customer, err := s.customers.CreateOrUpdate(ctx, conv.TenantID, conv.SessionID, fields, conv.IPAddress)
		if err != nil {
			return convservice.Persisted{}, err
		}
		if customer != nil {
			id := customer.ID
			customerID = &id
			persisted.CustomerID = &id
		}
	}

	image := domain.ClearString()
	if url, ok := messages.LastImage(out.Transcript); ok {
		image = domain.SetString(url)
	}
	summary := out.Summary.Summary
	input, output := messages.TokenTotals(out.Transcript)

	lead, err := s.leads.Upsert(ctx, conv.TenantID, s.clock.Now(), fields, conv.SessionID, leadservice.Payload{
		CustomerID: customerID,
		Summary:    &summary,
		SummaryData: &domain.SummaryData{
			ProblemsDiscussed: out.Summary.ProblemsDiscussed,
			SolutionsProvided: out.Summary.SolutionsProvided,
			SuggestionsGiven:  out.Summary.SuggestionsGiven,
		},
		History:      historyOf(out.Transcript),
		InputTokens:  input,
		OutputTokens: output,
		Image:        image,
		AgentName:    profile.Agent.Name,
	})
	if err != nil {
		return convservice.Persisted{}, err
	}
	persisted.LeadID = &lead.ID
	return persisted, nil
}

func hasMatchableContact(f contact.Fields) bool {
	return strings.TrimSpace(f.Email) != "" || strings.TrimSpace(f.Phone) != ""
}

func historyOf(transcript []msgrepo.Message) []domain.HistoryEntry {
	history := make([]domain.HistoryEntry, 0, len(transcript))
	for _, msg := range transcript {
		imageURL := msg.ImageURL
		if imageURL == "" {
			for _, part := range msg.Parts {
				if part.MediaURL != "" {
					imageURL = part.MediaURL
					break
				}
			}
		}
		history = append(history, domain.HistoryEntry{
			Role:      string(msg.Role),
			Content:   msg.Content,
			ImageURL:  imageURL,
			Timestamp: msg.CreatedAt,
		})
	}
	return history
}
