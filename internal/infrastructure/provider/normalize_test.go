package provider

import (
	"testing"
)

func TestEstimateTokens(t *testing.T) {
	cases := []struct {
		name string
		text string
		want int
	}{
		{"empty", "", 0},
		{"one char", "a", 1},
		{"exact multiple", "abcd", 1},
		{"rounds up", "abcde", 2},
		{"longer", "abcdefghijklm", 4},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := estimateTokens(tc.text); got != tc.want {
				t.Fatalf("estimateTokens(%q) = %d, want %d", tc.text, got, tc.want)
			}
		})
	}
}

func TestNormalizeOpenAIKeepsVendorUsage(t *testing.T) {
	raw := openAIChatResponse{
		ID:    "chatcmpl-1",
		Model: "gpt-4o-mini",
		Usage: &Usage{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
	}
	raw.Choices = append(raw.Choices, struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	}{})
	raw.Choices[0].Message.Role = RoleAssistant
	raw.Choices[0].Message.Content = "hello there"

	resp := normalizeOpenAI(raw)
	if resp.CompletionText() != "hello there" {
		t.Fatalf("completion = %q", resp.CompletionText())
	}
	if resp.Usage.TotalTokens != 30 {
		t.Fatalf("total tokens = %d, want 30", resp.Usage.TotalTokens)
	}
	if resp.UsageEstimated {
		t.Fatal("usage should not be flagged as estimated when vendor reports it")
	}
}

func TestNormalizeLlamaEstimatesUsage(t *testing.T) {
	text := "once upon a time"
	resp := normalizeLlama(llamaResponse{GeneratedText: text}, "llama-3-8b")

	if resp.Model != "llama-3-8b" {
		t.Fatalf("model = %q", resp.Model)
	}
	if resp.CompletionText() != text {
		t.Fatalf("completion = %q", resp.CompletionText())
	}
	if !resp.UsageEstimated {
		t.Fatal("usage should be flagged as estimated")
	}
	want := (len(text) + 3) / 4
	if resp.Usage.CompletionTokens != want || resp.Usage.TotalTokens != want {
		t.Fatalf("tokens = %+v, want %d", resp.Usage, want)
	}
}

func TestNormalizeNemotronResponseField(t *testing.T) {
	resp := normalizeNemotron(nemotronResponse{
		ID:       "nm-1",
		Response: " the story continues ",
		Usage:    &Usage{PromptTokens: 5, CompletionTokens: 7, TotalTokens: 12},
	}, "nemotron-3-8b")

	if resp.CompletionText() != "the story continues" {
		t.Fatalf("completion = %q", resp.CompletionText())
	}
	if resp.UsageEstimated {
		t.Fatal("usage should not be estimated when vendor reports it")
	}
	if resp.Usage.TotalTokens != 12 {
		t.Fatalf("total tokens = %d", resp.Usage.TotalTokens)
	}
}
