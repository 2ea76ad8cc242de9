package summarizer

import (
	"context"
	"fmt"

	"github.com/kenxsak/voice-chat-ai-sub001/platform/ai/openaicompat"
	"github.com/kenxsak/voice-chat-ai-sub001/platform/config"

	"google.golang.org/adk/model/gemini"
	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.5-flash"

// FromConfig builds the configured summarizer. Without credentials for the
// selected model provider it returns the deterministic Fallback.
func FromConfig(ctx context.Context, cfg config.SummarizerConfig) (Summarizer, error) {
	switch cfg.GetSummarizerProvider() {
	case "gemini":
		if cfg.GetGeminiAPIKey() == "" {
			return Fallback{}, nil
		}
		name := cfg.GetSummarizerModel()
		if name == "" {
			name = defaultGeminiModel
		}
		m, err := gemini.NewModel(ctx, name, &genai.ClientConfig{
			APIKey:  cfg.GetGeminiAPIKey(),
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("summarizer: gemini model: %w", err)
		}
		return NewLLM(m), nil
	case "openai":
		if cfg.GetOpenAIAPIKey() == "" {
			return Fallback{}, nil
		}
		m, err := openaicompat.New(openaicompat.Config{
			APIKey:  cfg.GetOpenAIAPIKey(),
			BaseURL: cfg.GetOpenAIBaseURL(),
			Model:   cfg.GetSummarizerModel(),
		})
		if err != nil {
			return nil, fmt.Errorf("summarizer: openai model: %w", err)
		}
		return NewLLM(m), nil
	case "fallback", "":
		return Fallback{}, nil
	default:
		return nil, fmt.Errorf("summarizer: unknown provider %q", cfg.GetSummarizerProvider())
	}
}
