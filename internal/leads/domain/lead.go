package domain

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	StatusAnonymous = "Anonymous"
	StatusFollowUp  = "Follow-up needed"
)

// SummaryData is the structured part of a conversation summary.
type SummaryData struct {
	ProblemsDiscussed []string `json:"problemsDiscussed"`
	SolutionsProvided []string `json:"solutionsProvided"`
	SuggestionsGiven  []string `json:"suggestionsGiven"`
}

// HistoryEntry is one transcript line stored on a lead.
type HistoryEntry struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	ImageURL  string    `json:"imageUrl,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// OptionalString distinguishes "leave as is" (Set false), "clear" (Set with a
// nil Value) and "overwrite" (Set with a Value).
type OptionalString struct {
	Value *string
	Set   bool
}

// KeepString leaves the stored value untouched.
func KeepString() OptionalString { return OptionalString{} }

// ClearString clears the stored value.
func ClearString() OptionalString { return OptionalString{Set: true} }

// SetString overwrites the stored value.
func SetString(v string) OptionalString { return OptionalString{Value: &v, Set: true} }

// UnmarshalJSON marks the field as set. A JSON null clears.
func (o *OptionalString) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		o.Value = nil
		return nil
	}
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	o.Value = &v
	return nil
}

type Lead struct {
	ID              uuid.UUID
	TenantID        string
	PeriodMonth     string
	SessionID       string
	CustomerID      *uuid.UUID
	Name            string
	Email           string
	Phone           string
	NormalizedName  string
	NormalizedEmail string
	NormalizedPhone string
	Summary         string
	SummaryData     *SummaryData
	History         []HistoryEntry
	InputTokens     *int
	OutputTokens    *int
	ImageURL        string
	AgentName       string
	Status          string
	IsAnonymous     bool
	CreatedAt       time.Time
	LastUpdated     time.Time
}

// NormalizedKey returns the stored key of kind.
func (l Lead) NormalizedKey(kind KeyKind) string {
	switch kind {
	case KeyEmail:
		return l.NormalizedEmail
	case KeyPhone:
		return l.NormalizedPhone
	case KeyName:
		return l.NormalizedName
	case KeySession:
		return l.SessionID
	}
	return ""
}

// LeadInsert is written only when the lead is created.
type LeadInsert struct {
	ID          uuid.UUID
	TenantID    string
	PeriodMonth string
	CreatedAt   time.Time
}

// LeadUpdate is written on every upsert. Empty strings and nil pointers keep
// the stored value, except where noted.
type LeadUpdate struct {
	// SessionID always overwrites: the lead follows the latest session.
	SessionID  string
	CustomerID *uuid.UUID

	Name  string
	Email string
	Phone string

	NormalizedName  string
	NormalizedEmail string
	NormalizedPhone string
	// PreserveKeys fills normalized keys only where none is stored.
	PreserveKeys bool

	Summary     *string
	SummaryData *SummaryData
	// History replaces the stored transcript when non-nil.
	History      []HistoryEntry
	InputTokens  *int
	OutputTokens *int
	Image        OptionalString
	AgentName    string
	// Status is an explicit status; an anonymous lead that gains contact
	// details moves to follow-up regardless.
	Status string

	At time.Time
}

func pick(next, current string) string {
	if next != "" {
		return next
	}
	return current
}

func pickKey(next, current string, preserve bool) string {
	if preserve && current != "" {
		return current
	}
	return pick(next, current)
}

// Apply merges upd into existing, or builds a new lead from ins when existing
// is nil. The PostgreSQL upsert statements implement the same rules.
func Apply(existing *Lead, ins LeadInsert, upd LeadUpdate) Lead {
	var l Lead
	if existing == nil {
		l = Lead{
			ID:          ins.ID,
			TenantID:    ins.TenantID,
			PeriodMonth: ins.PeriodMonth,
			CreatedAt:   ins.CreatedAt,
			History:     []HistoryEntry{},
		}
	} else {
		l = *existing
		l.History = append([]HistoryEntry{}, existing.History...)
	}

	l.SessionID = upd.SessionID
	if upd.CustomerID != nil {
		id := *upd.CustomerID
		l.CustomerID = &id
	}
	l.Name = pick(upd.Name, l.Name)
	l.Email = pick(upd.Email, l.Email)
	l.Phone = pick(upd.Phone, l.Phone)
	l.NormalizedName = pickKey(upd.NormalizedName, l.NormalizedName, upd.PreserveKeys)
	l.NormalizedEmail = pickKey(upd.NormalizedEmail, l.NormalizedEmail, upd.PreserveKeys)
	l.NormalizedPhone = pickKey(upd.NormalizedPhone, l.NormalizedPhone, upd.PreserveKeys)

	if upd.Summary != nil {
		l.Summary = *upd.Summary
	}
	if upd.SummaryData != nil {
		data := *upd.SummaryData
		l.SummaryData = &data
	}
	if upd.History != nil {
		l.History = append([]HistoryEntry{}, upd.History...)
	}
	if upd.InputTokens != nil {
		v := *upd.InputTokens
		l.InputTokens = &v
	}
	if upd.OutputTokens != nil {
		v := *upd.OutputTokens
		l.OutputTokens = &v
	}
	if upd.Image.Set {
		l.ImageURL = ""
		if upd.Image.Value != nil {
			l.ImageURL = *upd.Image.Value
		}
	}
	l.AgentName = pick(upd.AgentName, l.AgentName)

	l.IsAnonymous = l.Name == "" && l.Email == "" && l.Phone == ""
	switch {
	case existing == nil && upd.Status != "":
		l.Status = upd.Status
	case existing == nil && l.IsAnonymous:
		l.Status = StatusAnonymous
	case existing == nil:
		l.Status = StatusFollowUp
	case existing.Status == StatusAnonymous && !l.IsAnonymous:
		l.Status = StatusFollowUp
	case upd.Status != "":
		l.Status = upd.Status
	}
	l.LastUpdated = upd.At
	return l
}

// Compatible reports whether lead, found through kind, may absorb keys: it
// must not hold a different value for any stronger kind.
func Compatible(lead Lead, kind KeyKind, keys Keys) bool {
	for _, stronger := range Priority {
		if stronger == kind {
			return true
		}
		want, have := keys.Value(stronger), lead.NormalizedKey(stronger)
		if want != "" && have != "" && want != have {
			return false
		}
	}
	return true
}
