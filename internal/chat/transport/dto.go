// Package transport holds the request and response shapes of the chat API.
package transport

import (
	"time"

	"github.com/google/uuid"
)

type ContactRequest struct {
	Name  string `json:"name" validate:"max=200"`
	Email string `json:"email" validate:"omitempty,email,max=254"`
	Phone string `json:"phone" validate:"max=40"`
}

// RecordTurnRequest is one visitor message with the reply the agent gave.
type RecordTurnRequest struct {
	SessionID    string          `json:"sessionId" validate:"required,opaqueid"`
	AgentID      string          `json:"agentId" validate:"required,opaqueid"`
	Message      string          `json:"message" validate:"max=8000"`
	Reply        string          `json:"reply" validate:"max=16000"`
	ImageURL     string          `json:"imageUrl" validate:"omitempty,url,max=2048"`
	InputTokens  *int            `json:"inputTokens" validate:"omitempty,min=0"`
	OutputTokens *int            `json:"outputTokens" validate:"omitempty,min=0"`
	Contact      *ContactRequest `json:"contact"`
}

type RecordTurnResponse struct {
	ConversationID uuid.UUID  `json:"conversationId"`
	CustomerID     *uuid.UUID `json:"customerId,omitempty"`
	LeadID         *uuid.UUID `json:"leadId,omitempty"`
}

// UnloadRequest is sent by the widget from a page unload beacon.
type UnloadRequest struct {
	ConversationID uuid.UUID `json:"conversationId" validate:"required"`
}

type UnloadResponse struct {
	ConversationID uuid.UUID              `json:"conversationId"`
	Queued         bool                   `json:"queued"`
	Close          *CloseConversationResp `json:"close,omitempty"`
}

type CloseConversationResp struct {
	ConversationID    uuid.UUID  `json:"conversationId"`
	CustomerName      string     `json:"customerName"`
	CustomerEmail     string     `json:"customerEmail"`
	CustomerPhone     string     `json:"customerPhone"`
	Summary           string     `json:"summary"`
	ProblemsDiscussed []string   `json:"problemsDiscussed"`
	SolutionsProvided []string   `json:"solutionsProvided"`
	SuggestionsGiven  []string   `json:"suggestionsGiven"`
	CustomerID        *uuid.UUID `json:"customerId,omitempty"`
	LeadID            *uuid.UUID `json:"leadId,omitempty"`
	AlreadyClosed     bool       `json:"alreadyClosed"`
	Degraded          bool       `json:"degraded,omitempty"`
}

type MediaUploadResponse struct {
	URL       string    `json:"url"`
	FileKey   string    `json:"fileKey"`
	ExpiresAt time.Time `json:"expiresAt"`
}
