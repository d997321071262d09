package sanitize

import (
	"encoding/json"
	"testing"

	apperrors "storyforge-ai-api/pkg/errors"
)

func TestEscapeControlCharsIdempotentOnValidJSON(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"plain object", `{"title": "The Lost Map", "count": 3}`},
		{"escaped newline", `{"body": "line1\nline2"}`},
		{"escaped quote and backslash", `{"path": "C:\\tmp\\\"x\""}`},
		{"nested", `{"a": {"b": ["x", "y"]}, "c": null}`},
		{"unicode escape", `{"s": "tab\u0009end"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := EscapeControlChars(tc.raw); got != tc.raw {
				t.Fatalf("valid JSON was altered:\n in: %q\nout: %q", tc.raw, got)
			}
		})
	}
}

func TestEscapeControlCharsRepairsRawNewline(t *testing.T) {
	raw := "{\"body\": \"line1\nline2\"}"

	if err := json.Unmarshal([]byte(raw), &struct{}{}); err == nil {
		t.Fatal("strict parse should fail on a raw newline inside a string")
	}

	sanitized := EscapeControlChars(raw)

	var parsed struct {
		Body string `json:"body"`
	}
	if err := json.Unmarshal([]byte(sanitized), &parsed); err != nil {
		t.Fatalf("parse after sanitize: %v", err)
	}
	if parsed.Body != "line1\nline2" {
		t.Fatalf("body = %q, want %q", parsed.Body, "line1\nline2")
	}
}

func TestEscapeControlCharsMiscControls(t *testing.T) {
	raw := "{\"s\": \"a\tb\rc\x01d\"}"
	sanitized := EscapeControlChars(raw)

	want := `{"s": "a\tb\rc\u0001d"}`
	if sanitized != want {
		t.Fatalf("sanitized = %q, want %q", sanitized, want)
	}

	var parsed struct {
		S string `json:"s"`
	}
	if err := json.Unmarshal([]byte(sanitized), &parsed); err != nil {
		t.Fatalf("parse after sanitize: %v", err)
	}
	if parsed.S != "a\tb\rc\x01d" {
		t.Fatalf("s = %q", parsed.S)
	}
}

func TestEscapeControlCharsLeavesControlOutsideString(t *testing.T) {
	// 字符串外的换行本来就是合法 JSON 空白，不应被转义
	raw := "{\n\"a\": 1\n}"
	if got := EscapeControlChars(raw); got != raw {
		t.Fatalf("whitespace outside strings was altered: %q", got)
	}
}

func TestDecodePrefersStrictParse(t *testing.T) {
	var parsed struct {
		Title string `json:"title"`
	}
	if err := Decode(`{"title": "ok"}`, &parsed); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if parsed.Title != "ok" {
		t.Fatalf("title = %q", parsed.Title)
	}
}

func TestDecodeFallsBackToSanitize(t *testing.T) {
	var parsed struct {
		Body string `json:"body"`
	}
	if err := Decode("{\"body\": \"line1\nline2\"}", &parsed); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if parsed.Body != "line1\nline2" {
		t.Fatalf("body = %q", parsed.Body)
	}
}

func TestDecodeReturnsRawOnUnrecoverableInput(t *testing.T) {
	raw := `this is not json at all`
	var parsed struct{}

	err := Decode(raw, &parsed)
	if err == nil {
		t.Fatal("expected error")
	}

	appErr := apperrors.AsAppError(err)
	if appErr.Code != apperrors.CodeMalformedOutput {
		t.Fatalf("code = %s", appErr.Code)
	}
	if appErr.Detail != raw {
		t.Fatalf("detail should retain raw output, got %q", appErr.Detail)
	}
}
