package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/replydesk/aigateway/internal/domain"
	"github.com/replydesk/aigateway/internal/provider"
)

func TestCompleteSuccess(t *testing.T) {
	var gotReq messagesRequest
	var gotKey, gotVersion string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/messages" {
			t.Errorf("path = %q, want /messages", r.URL.Path)
		}
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		json.NewDecoder(r.Body).Decode(&gotReq)

		json.NewEncoder(w).Encode(map[string]any{
			"model": "claude-3-5-sonnet",
			"content": []map[string]string{
				{"type": "text", "text": "part one "},
				{"type": "text", "text": "part two"},
			},
			"stop_reason": "end_turn",
			"usage":       map[string]int{"input_tokens": 20, "output_tokens": 9},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "sk-ant", srv.Client())

	completion, err := c.Complete(context.Background(), provider.CompletionCall{
		Model: "claude-3-5-sonnet",
		Messages: []domain.Message{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "hello"},
		},
	})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	if gotKey != "sk-ant" {
		t.Errorf("x-api-key = %q, want sk-ant", gotKey)
	}
	if gotVersion != apiVersion {
		t.Errorf("anthropic-version = %q, want %q", gotVersion, apiVersion)
	}
	if gotReq.System != "be brief" {
		t.Errorf("system = %q, want system message hoisted", gotReq.System)
	}
	if len(gotReq.Messages) != 1 || gotReq.Messages[0].Role != "user" {
		t.Errorf("messages = %+v, want only the user message", gotReq.Messages)
	}
	if gotReq.MaxTokens != 4096 {
		t.Errorf("max_tokens = %d, want default 4096", gotReq.MaxTokens)
	}

	if completion.Text != "part one part two" {
		t.Errorf("Text = %q, want concatenated blocks", completion.Text)
	}
	if completion.FinishReason != "stop" {
		t.Errorf("FinishReason = %q, want stop", completion.FinishReason)
	}
	if completion.Usage.InputTokens != 20 || completion.Usage.OutputTokens != 9 {
		t.Errorf("Usage = %+v, want 20/9", completion.Usage)
	}
}

func TestCompleteErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   domain.ErrorClass
	}{
		{"unauthorized", http.StatusUnauthorized, domain.ClassAuth},
		{"rate limited", http.StatusTooManyRequests, domain.ClassRateLimited},
		{"not found", http.StatusNotFound, domain.ClassModelNotFound},
		{"overloaded", 529, domain.ClassTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":{"type":"error"}}`))
			}))
			defer srv.Close()

			c := New(srv.URL, "sk-ant", srv.Client())
			_, err := c.Complete(context.Background(), provider.CompletionCall{
				Model:    "claude-3-5-sonnet",
				Messages: []domain.Message{{Role: "user", Content: "hi"}},
			})

			var pe *domain.ProviderError
			if !errors.As(err, &pe) {
				t.Fatalf("error = %v, want ProviderError", err)
			}
			if pe.Class != tt.want {
				t.Errorf("Class = %q, want %q", pe.Class, tt.want)
			}
		})
	}
}

func TestMapStopReason(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"end_turn", "stop"},
		{"stop_sequence", "stop"},
		{"max_tokens", "length"},
		{"tool_use", "tool_use"},
	}

	for _, tt := range tests {
		if got := mapStopReason(tt.in); got != tt.want {
			t.Errorf("mapStopReason(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
