// Package events provides domain event definitions for decoupled,
// event-driven communication between modules.
// Infrastructure (Bus, Handler) is in platform/events.
package events

import (
	"time"

	"github.com/kenxsak/voice-chat-ai-sub001/platform/events"

	"github.com/google/uuid"
)

// Re-export platform types for convenience
type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
)

// Re-export platform functions
var (
	NewBaseEvent   = events.NewBaseEvent
	NewBaseEventAt = events.NewBaseEventAt
)

// =============================================================================
// Lead Domain Events
// =============================================================================

// TranscriptLine is one message of the transcript carried by lead events.
type TranscriptLine struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	ImageURL  string    `json:"imageUrl,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// LeadCaptured is published when a lead with contact details is created, or
// when an anonymous lead becomes identified.
type LeadCaptured struct {
	BaseEvent
	LeadID      uuid.UUID        `json:"leadId"`
	TenantID    string           `json:"tenantId"`
	PeriodMonth string           `json:"periodMonth"`
	SessionID   string           `json:"sessionId"`
	Agent       string           `json:"agent"`
	LeadName    string           `json:"leadName"`
	LeadEmail   string           `json:"leadEmail"`
	LeadPhone   string           `json:"leadPhone"`
	Summary     string           `json:"summary"`
	FullHistory []TranscriptLine `json:"fullHistory"`
	// Upgraded is true when an existing anonymous lead became identified.
	Upgraded bool `json:"upgraded"`
}

func (e LeadCaptured) EventName() string { return "leads.lead.captured" }
