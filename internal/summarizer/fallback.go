package summarizer

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/kenxsak/voice-chat-ai-sub001/platform/contact"
)

const maxOpeningRunes = 160

var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?\(?[0-9][0-9 ().\-]{5,}[0-9]`)
	namePattern  = regexp.MustCompile(`(?i)\b(?:my name is|i am|i'm|this is)\s+([A-Za-zÀ-ÿ'\-]+(?:\s+[A-Za-zÀ-ÿ'\-]+)?)`)
)

// Fallback summarizes without a model. It extracts contact details with
// patterns and describes the visitor's opening message. It never fails.
type Fallback struct{}

// Summarize builds a deterministic summary of transcript.
func (Fallback) Summarize(_ context.Context, transcript []Turn, agentName, _ string) (Summary, error) {
	var (
		out     Summary
		opening string
		users   int
	)
	for _, turn := range transcript {
		if turn.Role != "user" {
			continue
		}
		users++
		if opening == "" {
			opening = strings.TrimSpace(turn.Content)
		}
		if out.CustomerEmail == "" {
			for _, candidate := range emailPattern.FindAllString(turn.Content, -1) {
				if contact.NormalizeEmail(candidate) != "" {
					out.CustomerEmail = candidate
					break
				}
			}
		}
		if out.CustomerPhone == "" {
			for _, candidate := range phonePattern.FindAllString(turn.Content, -1) {
				if contact.NormalizePhone(candidate) != "" {
					out.CustomerPhone = strings.TrimSpace(candidate)
					break
				}
			}
		}
		if out.CustomerName == "" {
			if m := namePattern.FindStringSubmatch(turn.Content); m != nil && contact.NormalizeName(m[1]) != "" {
				out.CustomerName = m[1]
			}
		}
	}

	if agentName == "" {
		agentName = "the agent"
	}
	switch {
	case users == 0:
		out.Summary = fmt.Sprintf("Conversation with %s ended before the visitor wrote anything.", agentName)
	default:
		out.Summary = fmt.Sprintf("Visitor exchanged %d messages with %s, opening with: %q", users, agentName, truncate(opening, maxOpeningRunes))
		out.ProblemsDiscussed = []string{truncate(opening, maxOpeningRunes)}
	}
	return out, nil
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
