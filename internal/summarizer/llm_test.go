package summarizer

import (
	"context"
	"errors"
	"iter"
	"strings"
	"testing"
	"time"

	"google.golang.org/adk/model"
	"google.golang.org/genai"
)

type scriptedModel struct {
	replies []string
	err     error
	request *model.LLMRequest
}

func (m *scriptedModel) Name() string { return "scripted" }

func (m *scriptedModel) GenerateContent(_ context.Context, req *model.LLMRequest, _ bool) iter.Seq2[*model.LLMResponse, error] {
	m.request = req
	return func(yield func(*model.LLMResponse, error) bool) {
		if m.err != nil {
			yield(nil, m.err)
			return
		}
		for _, r := range m.replies {
			resp := &model.LLMResponse{Content: genai.NewContentFromText(r, genai.RoleModel)}
			if !yield(resp, nil) {
				return
			}
		}
	}
}

func TestLLMSummarizeParsesFencedJSON(t *testing.T) {
	m := &scriptedModel{replies: []string{"```json\n{\"customerName\":\" Jane \",\"customerEmail\":\"jane@example.com\",",
		"\"summary\":\"Wants a boiler quote.\",\"problemsDiscussed\":[\"broken boiler\"]}\n```"}}
	s := NewLLM(m)

	transcript := []Turn{
		{Role: "user", Content: "Hi, I'm Jane", Timestamp: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
		{Role: "agent", Content: "Hello Jane!", Timestamp: time.Date(2026, 3, 1, 9, 1, 0, 0, time.UTC)},
	}
	got, err := s.Summarize(context.Background(), transcript, "Sally", "Plumbing")
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if got.CustomerName != "Jane" || got.CustomerEmail != "jane@example.com" || got.Summary != "Wants a boiler quote." {
		t.Fatalf("unexpected summary: %+v", got)
	}
	if len(got.ProblemsDiscussed) != 1 {
		t.Fatalf("unexpected problems: %v", got.ProblemsDiscussed)
	}

	prompt := m.request.Contents[0].Parts[0].Text
	for _, want := range []string{"Business context: Plumbing", "Visitor: Hi, I'm Jane", "Sally: Hello Jane!"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("expected prompt to contain %q, got:\n%s", want, prompt)
		}
	}
	if m.request.Config.ResponseMIMEType != "application/json" {
		t.Fatalf("expected json response type")
	}
}

func TestLLMSummarizeErrors(t *testing.T) {
	if _, err := NewLLM(&scriptedModel{err: errors.New("quota")}).Summarize(context.Background(), nil, "Sally", ""); err == nil {
		t.Fatalf("expected model error")
	}
	if _, err := NewLLM(&scriptedModel{}).Summarize(context.Background(), nil, "Sally", ""); !errors.Is(err, ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
	if _, err := NewLLM(&scriptedModel{replies: []string{"not json"}}).Summarize(context.Background(), nil, "Sally", ""); err == nil {
		t.Fatalf("expected decode error")
	}
}

type providerConfig struct {
	provider string
	gemini   string
	openai   string
}

func (c providerConfig) GetSummarizerProvider() string       { return c.provider }
func (c providerConfig) GetSummarizerModel() string          { return "" }
func (c providerConfig) GetSummarizerTimeout() time.Duration { return time.Second }
func (c providerConfig) GetGeminiAPIKey() string             { return c.gemini }
func (c providerConfig) GetOpenAIAPIKey() string             { return c.openai }
func (c providerConfig) GetOpenAIBaseURL() string            { return "" }

func TestFromConfig(t *testing.T) {
	ctx := context.Background()

	s, err := FromConfig(ctx, providerConfig{provider: "gemini"})
	if err != nil {
		t.Fatalf("gemini without key: %v", err)
	}
	if _, ok := s.(Fallback); !ok {
		t.Fatalf("expected fallback without gemini key, got %T", s)
	}

	s, err = FromConfig(ctx, providerConfig{provider: "openai", openai: "sk-test"})
	if err != nil {
		t.Fatalf("openai: %v", err)
	}
	if _, ok := s.(*LLM); !ok {
		t.Fatalf("expected llm summarizer, got %T", s)
	}

	if _, err := FromConfig(ctx, providerConfig{provider: "claude"}); err == nil {
		t.Fatalf("expected unknown provider error")
	}
}
