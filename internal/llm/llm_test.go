package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/phat-labs/phatd/pkg/retrieval"
)

func TestOpenAICompatComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer sk-test" {
			t.Errorf("Authorization = %q", auth)
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body["model"] != "gpt-4o" {
			t.Errorf("model = %v", body["model"])
		}
		fmt.Fprint(w, `{
			"choices": [{"message": {"content": "Paris"}}],
			"model": "gpt-4o",
			"usage": {"prompt_tokens": 20, "completion_tokens": 3}
		}`)
	}))
	defer srv.Close()

	p := NewOpenAICompat("openai", srv.URL, "sk-test", "gpt-4o")
	resp, err := p.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: "user", Content: "capital of France?"}},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "Paris" || resp.InputTokens != 20 || resp.OutputTokens != 3 {
		t.Errorf("resp = %+v", resp)
	}
}

func TestAzureRouting(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/openai/deployments/my-deploy/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("api-version") != "2024-02-01" {
			t.Errorf("api-version = %q", r.URL.Query().Get("api-version"))
		}
		if key := r.Header.Get("api-key"); key != "azure-key" {
			t.Errorf("api-key = %q", key)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if _, hasModel := body["model"]; hasModel {
			t.Error("azure requests must not carry a model field")
		}
		fmt.Fprint(w, `{"choices": [{"message": {"content": "ok"}}]}`)
	}))
	defer srv.Close()

	p := NewAzureOpenAI(srv.URL, "azure-key", "my-deploy", "2024-02-01")
	if _, err := p.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	}); err != nil {
		t.Fatalf("Complete: %v", err)
	}
}

func TestCompleteHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "rate limit"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewOpenAICompat("openai", srv.URL, "sk-test", "gpt-4o")
	_, err := p.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})

	var provErr *ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if provErr.StatusCode != http.StatusTooManyRequests || provErr.Provider != "openai" {
		t.Errorf("got %+v", provErr)
	}
}

func TestCompleteEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"choices": []}`)
	}))
	defer srv.Close()

	p := NewOpenAICompat("openai", srv.URL, "sk-test", "gpt-4o")
	_, err := p.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})

	var provErr *ProviderError
	if !errors.As(err, &provErr) {
		t.Fatalf("expected ProviderError for empty choices, got %v", err)
	}
}

// echoProvider records the request and returns a scripted reply.
type echoProvider struct {
	req   CompletionRequest
	reply string
}

func (p *echoProvider) Name() string { return "echo" }
func (p *echoProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	p.req = req
	return &CompletionResponse{Content: p.reply}, nil
}

func TestExtractKeywords(t *testing.T) {
	provider := &echoProvider{reply: "  Maximilian Mustermann\n"}
	e := &Extractor{Provider: provider}

	keywords, err := e.ExtractKeywords(context.Background(), "who is Maximilian Mustermann?")
	if err != nil {
		t.Fatalf("ExtractKeywords: %v", err)
	}
	if keywords != "Maximilian Mustermann" {
		t.Errorf("keywords = %q, want trimmed reply", keywords)
	}

	if provider.req.MaxTokens != 100 {
		t.Errorf("max tokens = %d, want 100", provider.req.MaxTokens)
	}
	if len(provider.req.Messages) != 2 || provider.req.Messages[0].Role != "system" {
		t.Errorf("messages = %+v", provider.req.Messages)
	}
	if provider.req.Messages[1].Content != "who is Maximilian Mustermann?" {
		t.Errorf("user message = %q", provider.req.Messages[1].Content)
	}
}

func TestCompleterAdaptsTurns(t *testing.T) {
	provider := &echoProvider{reply: "answer"}
	c := Completer{Provider: provider, MaxTokens: 500, Temperature: 0.3}

	got, err := c.Complete(context.Background(), []retrieval.Turn{
		{Role: "system", Content: "be brief"},
		{Role: "user", Content: "hello"},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if got != "answer" {
		t.Errorf("got %q", got)
	}
	if provider.req.MaxTokens != 500 || provider.req.Temperature != 0.3 {
		t.Errorf("sampling params not forwarded: %+v", provider.req)
	}
	if provider.req.Messages[0].Role != "system" || provider.req.Messages[1].Content != "hello" {
		t.Errorf("messages = %+v", provider.req.Messages)
	}
}
