// Package contact turns raw, user-typed contact details into canonical
// comparison keys. Every function here is pure.
package contact

import (
	"strings"
	"unicode"

	"github.com/kenxsak/voice-chat-ai-sub001/platform/validator"

	"github.com/nyaruka/phonenumbers"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	// MinPhoneDigits is the shortest digit string still usable as a match key.
	MinPhoneDigits = 6
	// MinNameLetters is the shortest folded name still usable as a dedup key.
	MinNameLetters = 3

	defaultRegion = "US"
)

var emailValidator = validator.New()

// NormalizeEmail lowercases and trims an address. It returns "" when the
// result is not a syntactically valid address.
func NormalizeEmail(raw string) string {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return ""
	}
	if err := emailValidator.Var(email, "email"); err != nil {
		return ""
	}
	return email
}

// NormalizePhone keeps digits only and folds an 11-digit number with a
// leading country code 1 to its 10-digit national form. Results shorter than
// MinPhoneDigits are rejected.
func NormalizePhone(raw string) string {
	digits := phonenumbers.NormalizeDigitsOnly(raw)
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	if len(digits) < MinPhoneDigits {
		return ""
	}
	return digits
}

// NormalizeName strips diacritics, lowercases, and keeps letters separated by
// single spaces. Names with fewer than MinNameLetters letters are rejected.
func NormalizeName(raw string) string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), raw)
	if err != nil {
		folded = raw
	}

	var b strings.Builder
	letters := 0
	pendingSpace := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case unicode.IsLetter(r):
			if pendingSpace && b.Len() > 0 {
				b.WriteByte(' ')
			}
			pendingSpace = false
			b.WriteRune(r)
			letters++
		case unicode.IsSpace(r) || r == '-' || r == '.' || r == '\'':
			pendingSpace = true
		}
	}

	if letters < MinNameLetters {
		return ""
	}
	return b.String()
}

// DisplayPhone formats a number as E.164 when it parses as a valid number,
// otherwise it returns the trimmed input.
func DisplayPhone(input string) string {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return trimmed
	}

	number, err := phonenumbers.Parse(trimmed, defaultRegion)
	if err != nil {
		return trimmed
	}

	if !phonenumbers.IsValidNumber(number) {
		return trimmed
	}

	return phonenumbers.Format(number, phonenumbers.E164)
}

// Fields is a set of raw contact details as captured from a visitor.
type Fields struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Trimmed returns a copy with surrounding whitespace removed.
func (f Fields) Trimmed() Fields {
	return Fields{
		Name:  strings.TrimSpace(f.Name),
		Email: strings.TrimSpace(f.Email),
		Phone: strings.TrimSpace(f.Phone),
	}
}

// IsEmpty reports whether no field carries anything.
func (f Fields) IsEmpty() bool {
	t := f.Trimmed()
	return t.Name == "" && t.Email == "" && t.Phone == ""
}

// Normalized holds the canonical keys derived from Fields. Empty means the
// raw value was absent or too weak to match on.
type Normalized struct {
	Name  string
	Email string
	Phone string
}

// Normalize derives every canonical key from f.
func Normalize(f Fields) Normalized {
	return Normalized{
		Name:  NormalizeName(f.Name),
		Email: NormalizeEmail(f.Email),
		Phone: NormalizePhone(f.Phone),
	}
}
