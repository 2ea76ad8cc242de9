package notification

import (
	"time"

	"github.com/kenxsak/voice-chat-ai-sub001/internal/email"
	"github.com/kenxsak/voice-chat-ai-sub001/internal/events"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/contact"
)

// HistoryItem is one transcript line in a lead notification.
type HistoryItem struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	ImageURL  string    `json:"imageUrl,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// LeadPayload is the body every sink is built from.
type LeadPayload struct {
	LeadID      string        `json:"leadId"`
	TenantID    string        `json:"tenantId"`
	LeadName    string        `json:"leadName"`
	LeadEmail   string        `json:"leadEmail"`
	LeadPhone   string        `json:"leadPhone"`
	Summary     string        `json:"summary"`
	FullHistory []HistoryItem `json:"fullHistory"`
	CapturedAt  time.Time     `json:"capturedAt"`
	Agent       string        `json:"agent"`
	Upgraded    bool          `json:"upgraded,omitempty"`
}

// PayloadFromEvent builds the sink payload. Phones are shown in E.164 when
// they parse.
func PayloadFromEvent(e events.LeadCaptured) LeadPayload {
	history := make([]HistoryItem, 0, len(e.FullHistory))
	for _, line := range e.FullHistory {
		history = append(history, HistoryItem{
			Role:      line.Role,
			Content:   line.Content,
			ImageURL:  line.ImageURL,
			Timestamp: line.Timestamp,
		})
	}
	return LeadPayload{
		LeadID:      e.LeadID.String(),
		TenantID:    e.TenantID,
		LeadName:    e.LeadName,
		LeadEmail:   e.LeadEmail,
		LeadPhone:   contact.DisplayPhone(e.LeadPhone),
		Summary:     e.Summary,
		FullHistory: history,
		CapturedAt:  e.OccurredAt(),
		Agent:       e.Agent,
		Upgraded:    e.Upgraded,
	}
}

func (p LeadPayload) mail(leadURL string) email.LeadCapturedMail {
	transcript := make([]email.TranscriptLine, 0, len(p.FullHistory))
	for _, h := range p.FullHistory {
		transcript = append(transcript, email.TranscriptLine{Role: h.Role, Content: h.Content, At: h.Timestamp})
	}
	return email.LeadCapturedMail{
		Agent:      p.Agent,
		LeadName:   p.LeadName,
		LeadEmail:  p.LeadEmail,
		LeadPhone:  p.LeadPhone,
		Summary:    p.Summary,
		CapturedAt: p.CapturedAt,
		Transcript: transcript,
		Upgraded:   p.Upgraded,
		LeadURL:    leadURL,
	}
}
