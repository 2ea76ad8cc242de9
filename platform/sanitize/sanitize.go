// Package sanitize strips markup from visitor supplied text before it is
// stored or forwarded to notification sinks.
package sanitize

import (
	"html"
	"regexp"
	"strings"

	"github.com/kenxsak/voice-chat-ai-sub001/platform/contact"
)

var (
	htmlTagRegex    = regexp.MustCompile(`<[^>]*>`)
	whitespaceRegex = regexp.MustCompile(`\s+`)
)

// StripHTML removes tags, decodes entities and strips again so encoded tags
// do not survive.
func StripHTML(s string) string {
	result := htmlTagRegex.ReplaceAllString(s, "")
	result = html.UnescapeString(result)
	result = htmlTagRegex.ReplaceAllString(result, "")
	return strings.TrimSpace(result)
}

// Line is StripHTML for single line fields: runs of whitespace, newlines
// included, collapse to one space.
func Line(s string) string {
	return whitespaceRegex.ReplaceAllString(StripHTML(s), " ")
}

// Contact cleans every field of f.
func Contact(f contact.Fields) contact.Fields {
	return contact.Fields{
		Name:  Line(f.Name),
		Email: Line(f.Email),
		Phone: Line(f.Phone),
	}
}
