// Package domain holds the lead model, its deduplication keys and the merge
// rules shared by every store.
package domain

import (
	"time"

	"github.com/kenxsak/voice-chat-ai-sub001/platform/contact"
)

// KeyKind names a deduplication key.
type KeyKind string

const (
	KeyEmail   KeyKind = "email"
	KeyPhone   KeyKind = "phone"
	KeyName    KeyKind = "name"
	KeySession KeyKind = "session"
)

// Priority lists key kinds from strongest to weakest.
var Priority = []KeyKind{KeyEmail, KeyPhone, KeyName, KeySession}

// Key is one candidate natural key of a lead within its month.
type Key struct {
	Kind  KeyKind
	Value string
}

// Keys holds the normalized value of every key kind. Empty means absent.
type Keys struct {
	Email   string
	Phone   string
	Name    string
	Session string
}

// DeriveKeys normalizes contact details into keys.
func DeriveKeys(c contact.Fields, sessionID string) Keys {
	n := contact.Normalize(c)
	return Keys{Email: n.Email, Phone: n.Phone, Name: n.Name, Session: sessionID}
}

// Value returns the key value of kind.
func (k Keys) Value(kind KeyKind) string {
	switch kind {
	case KeyEmail:
		return k.Email
	case KeyPhone:
		return k.Phone
	case KeyName:
		return k.Name
	case KeySession:
		return k.Session
	}
	return ""
}

// Candidates returns the present keys in priority order.
func (k Keys) Candidates() []Key {
	out := make([]Key, 0, len(Priority))
	for _, kind := range Priority {
		if v := k.Value(kind); v != "" {
			out = append(out, Key{Kind: kind, Value: v})
		}
	}
	return out
}

// Primary returns the strongest present key.
func (k Keys) Primary() (Key, bool) {
	c := k.Candidates()
	if len(c) == 0 {
		return Key{}, false
	}
	return c[0], true
}

// Without returns a copy with the blocked kinds cleared. The session key is
// never cleared.
func (k Keys) Without(blocked map[KeyKind]bool) Keys {
	if blocked[KeyEmail] {
		k.Email = ""
	}
	if blocked[KeyPhone] {
		k.Phone = ""
	}
	if blocked[KeyName] {
		k.Name = ""
	}
	return k
}

// PeriodMonth is the UTC calendar month a lead is partitioned by.
func PeriodMonth(t time.Time) string {
	return t.UTC().Format("2006-01")
}
