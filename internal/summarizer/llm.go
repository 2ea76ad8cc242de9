package summarizer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

const summaryInstruction = `You summarize customer chat conversations for a sales team.
Reply with a single JSON object and nothing else, using exactly these keys:
"customerName", "customerEmail", "customerPhone" (strings, empty when the visitor did not share them),
"summary" (two or three sentences),
"problemsDiscussed", "solutionsProvided", "suggestionsGiven" (arrays of short strings).
Only report contact details the visitor typed themselves.`

// ErrEmptyResponse is returned when the model produced no text.
var ErrEmptyResponse = errors.New("summarizer: empty model response")

// LLM summarizes through any ADK model.
type LLM struct {
	model       model.LLM
	temperature float32
}

func NewLLM(m model.LLM) *LLM {
	return &LLM{model: m, temperature: 0.2}
}

func (s *LLM) Summarize(ctx context.Context, transcript []Turn, agentName, businessContext string) (Summary, error) {
	req := &model.LLMRequest{
		Model: s.model.Name(),
		Contents: []*genai.Content{
			genai.NewContentFromText(renderTranscript(transcript, agentName, businessContext), genai.RoleUser),
		},
		Config: &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(summaryInstruction, genai.RoleUser),
			Temperature:       genai.Ptr(s.temperature),
			ResponseMIMEType:  "application/json",
		},
	}

	var text strings.Builder
	for resp, err := range s.model.GenerateContent(ctx, req, false) {
		if err != nil {
			return Summary{}, fmt.Errorf("summarizer: generate: %w", err)
		}
		if resp == nil || resp.Partial || resp.Content == nil {
			continue
		}
		for _, part := range resp.Content.Parts {
			if part != nil {
				text.WriteString(part.Text)
			}
		}
	}

	return ParseSummary(text.String())
}

// ParseSummary decodes a model reply, tolerating markdown fences and prose
// around the JSON object.
func ParseSummary(raw string) (Summary, error) {
	body := strings.TrimSpace(raw)
	if body == "" {
		return Summary{}, ErrEmptyResponse
	}
	if start, end := strings.Index(body, "{"), strings.LastIndex(body, "}"); start >= 0 && end > start {
		body = body[start : end+1]
	}

	var out Summary
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return Summary{}, fmt.Errorf("summarizer: decode reply: %w", err)
	}
	out.CustomerName = strings.TrimSpace(out.CustomerName)
	out.CustomerEmail = strings.TrimSpace(out.CustomerEmail)
	out.CustomerPhone = strings.TrimSpace(out.CustomerPhone)
	out.Summary = strings.TrimSpace(out.Summary)
	return out, nil
}

func renderTranscript(transcript []Turn, agentName, businessContext string) string {
	var b strings.Builder
	if businessContext != "" {
		fmt.Fprintf(&b, "Business context: %s\n", businessContext)
	}
	fmt.Fprintf(&b, "Agent: %s\n\nTranscript:\n", agentName)
	for _, t := range transcript {
		speaker := "Visitor"
		if t.Role != "user" {
			speaker = agentName
		}
		line := strings.TrimSpace(t.Content)
		if t.ImageURL != "" {
			line = strings.TrimSpace(line + " [image attached]")
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", t.Timestamp.UTC().Format("2006-01-02 15:04"), speaker, line)
	}
	return b.String()
}
