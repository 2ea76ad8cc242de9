// Package summarizer turns a closed conversation transcript into a summary
// and whatever contact details the visitor shared.
package summarizer

import (
	"context"
	"time"
)

// Turn is one transcript line handed to a summarizer.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	ImageURL  string    `json:"imageUrl,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Summary is the structured result of summarizing a transcript.
type Summary struct {
	CustomerName      string   `json:"customerName"`
	CustomerEmail     string   `json:"customerEmail"`
	CustomerPhone     string   `json:"customerPhone"`
	Summary           string   `json:"summary"`
	ProblemsDiscussed []string `json:"problemsDiscussed"`
	SolutionsProvided []string `json:"solutionsProvided"`
	SuggestionsGiven  []string `json:"suggestionsGiven"`
}

// Summarizer produces a Summary for a transcript.
type Summarizer interface {
	Summarize(ctx context.Context, transcript []Turn, agentName, businessContext string) (Summary, error)
}

// Func adapts a function to Summarizer.
type Func func(ctx context.Context, transcript []Turn, agentName, businessContext string) (Summary, error)

// Summarize calls f.
func (f Func) Summarize(ctx context.Context, transcript []Turn, agentName, businessContext string) (Summary, error) {
	return f(ctx, transcript, agentName, businessContext)
}
