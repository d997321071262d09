package provider

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"storyforge-ai-api/internal/config"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func newTestOpenAI(t *testing.T, transport roundTripFunc) *OpenAIClient {
	t.Helper()
	client, err := NewOpenAIClient(&config.OpenAIConfig{
		APIKey: "test-key",
		Model:  "gpt-4o-mini",
	})
	if err != nil {
		t.Fatalf("NewOpenAIClient: %v", err)
	}
	client.client = &http.Client{Transport: transport}
	client.imageClient = &http.Client{Transport: transport}
	return client
}

func TestOpenAIChatSuccess(t *testing.T) {
	client := newTestOpenAI(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/chat/completions" {
			t.Fatalf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Fatalf("authorization = %q", got)
		}
		return jsonResponse(http.StatusOK, `{
			"id": "chatcmpl-1",
			"model": "gpt-4o-mini",
			"choices": [{"message": {"role": "assistant", "content": "chapter text"}}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 34, "total_tokens": 46}
		}`), nil
	})

	result := client.Chat(context.Background(), []Message{{Role: RoleUser, Content: "write"}}, Params{})
	if result.Failed() {
		t.Fatalf("unexpected failure: %v", result.Failure)
	}
	if result.Response.CompletionText() != "chapter text" {
		t.Fatalf("completion = %q", result.Response.CompletionText())
	}
	if result.Response.Usage.TotalTokens != 46 {
		t.Fatalf("total tokens = %d", result.Response.Usage.TotalTokens)
	}
	if result.Stats.StatusCode != http.StatusOK {
		t.Fatalf("stats status = %d", result.Stats.StatusCode)
	}
	if result.Stats.FinishedAt.Before(result.Stats.StartedAt) {
		t.Fatal("stats finished before started")
	}
}

func TestOpenAIChatTransportFailure(t *testing.T) {
	client := newTestOpenAI(t, func(r *http.Request) (*http.Response, error) {
		return nil, errors.New("connection refused")
	})

	result := client.Chat(context.Background(), []Message{{Role: RoleUser, Content: "write"}}, Params{})
	if !result.Failed() {
		t.Fatal("expected failure")
	}
	if result.Failure.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", result.Failure.StatusCode)
	}
	if result.Failure.Message == "" {
		t.Fatal("failure message must be populated")
	}
	if result.Stats.Err == "" {
		t.Fatal("stats error must be recorded")
	}
}

func TestOpenAIChatVendorError(t *testing.T) {
	client := newTestOpenAI(t, func(r *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusTooManyRequests, `{"error": {"message": "rate limit exceeded", "type": "rate_limit"}}`), nil
	})

	result := client.Chat(context.Background(), []Message{{Role: RoleUser, Content: "write"}}, Params{})
	if !result.Failed() {
		t.Fatal("expected failure")
	}
	if result.Failure.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d", result.Failure.StatusCode)
	}
	if result.Failure.Message != "rate limit exceeded" {
		t.Fatalf("message = %q", result.Failure.Message)
	}
}

func TestOpenAIImageReturnsTransientURL(t *testing.T) {
	client := newTestOpenAI(t, func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/images/generations" {
			t.Fatalf("path = %q", r.URL.Path)
		}
		return jsonResponse(http.StatusOK, `{"data": [{"url": "https://oai.example.com/tmp/img.png"}]}`), nil
	})

	result := client.Image(context.Background(), "a castle at dusk", ImageParams{AspectRatio: "16:9"})
	if result.Failed() {
		t.Fatalf("unexpected failure: %v", result.Failure)
	}
	if result.URL != "https://oai.example.com/tmp/img.png" {
		t.Fatalf("url = %q", result.URL)
	}
}

func TestLlamaChatNormalizesGeneratedText(t *testing.T) {
	client, err := NewLlamaClient(&config.LlamaConfig{
		BaseURL: "http://llama.internal:8080",
		Model:   "llama-3-8b",
	})
	if err != nil {
		t.Fatalf("NewLlamaClient: %v", err)
	}
	client.client = &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/generate" {
			t.Fatalf("path = %q", r.URL.Path)
		}
		return jsonResponse(http.StatusOK, `{"generated_text": "a quiet village"}`), nil
	})}

	result := client.Chat(context.Background(), []Message{{Role: RoleUser, Content: "write"}}, Params{})
	if result.Failed() {
		t.Fatalf("unexpected failure: %v", result.Failure)
	}
	if result.Response.CompletionText() != "a quiet village" {
		t.Fatalf("completion = %q", result.Response.CompletionText())
	}
	if !result.Response.UsageEstimated {
		t.Fatal("llama usage must be estimated")
	}
}

func TestLlamaCostIsAlwaysZero(t *testing.T) {
	client, err := NewLlamaClient(&config.LlamaConfig{BaseURL: "http://llama.internal:8080"})
	if err != nil {
		t.Fatalf("NewLlamaClient: %v", err)
	}
	if got := client.CostPer1KTokens(); got != 0 {
		t.Fatalf("cost = %v, want 0", got)
	}
}

func TestNemotronChatUsesResponseField(t *testing.T) {
	client, err := NewNemotron3Client(&config.Nemotron3Config{
		BaseURL: "http://nemotron.internal:8080",
		Model:   "nemotron-3-8b",
	})
	if err != nil {
		t.Fatalf("NewNemotron3Client: %v", err)
	}
	client.client = &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if r.URL.Path != "/chat" {
			t.Fatalf("path = %q", r.URL.Path)
		}
		return jsonResponse(http.StatusOK, `{"response": "an ancient map", "usage": {"prompt_tokens": 3, "completion_tokens": 4, "total_tokens": 7}}`), nil
	})}

	result := client.Chat(context.Background(), []Message{{Role: RoleUser, Content: "write"}}, Params{})
	if result.Failed() {
		t.Fatalf("unexpected failure: %v", result.Failure)
	}
	if result.Response.CompletionText() != "an ancient map" {
		t.Fatalf("completion = %q", result.Response.CompletionText())
	}
	if result.Response.Usage.TotalTokens != 7 {
		t.Fatalf("total tokens = %d", result.Response.Usage.TotalTokens)
	}
}

func TestTextOnlyProvidersRejectImage(t *testing.T) {
	llama, _ := NewLlamaClient(&config.LlamaConfig{BaseURL: "http://llama.internal:8080"})
	result := llama.Image(context.Background(), "a map", ImageParams{})
	if !result.Failed() {
		t.Fatal("expected failure")
	}
	if result.Failure.StatusCode != http.StatusNotImplemented {
		t.Fatalf("status = %d", result.Failure.StatusCode)
	}
}
