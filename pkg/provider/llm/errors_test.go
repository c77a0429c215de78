package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestNewProviderError_Classification(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		code        string
		wantLimited bool
	}{
		{"429 status", http.StatusTooManyRequests, "", true},
		{"groq rate limit code", http.StatusBadRequest, "rate_limit_exceeded", true},
		{"quota code", 0, "insufficient_quota", true},
		{"auth failure", http.StatusUnauthorized, "invalid_api_key", false},
		{"server error", http.StatusInternalServerError, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewProviderError("groq", tt.status, tt.code, errors.New("boom"))
			if got := errors.Is(err, ErrRateLimited); got != tt.wantLimited {
				t.Errorf("errors.Is(ErrRateLimited) = %v, want %v", got, tt.wantLimited)
			}
			if got := errors.Is(err, ErrProviderFatal); got == tt.wantLimited {
				t.Errorf("errors.Is(ErrProviderFatal) = %v, want %v", got, !tt.wantLimited)
			}
		})
	}
}

func TestNewProviderError_Nil(t *testing.T) {
	if err := NewProviderError("openai", 500, "", nil); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestProviderError_UnwrapsUnderlying(t *testing.T) {
	inner := errors.New("socket closed")
	err := fmt.Errorf("reasoning: %w", NewProviderError("openai", 503, "", inner))
	if !errors.Is(err, inner) {
		t.Error("expected wrapped error to match underlying error")
	}
	var pe *ProviderError
	if !errors.As(err, &pe) {
		t.Fatal("expected errors.As to find *ProviderError")
	}
	if pe.StatusCode != 503 {
		t.Errorf("StatusCode = %d, want 503", pe.StatusCode)
	}
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		wantLimited bool
	}{
		{"status text", errors.New("POST /chat: 429 Too Many Requests"), true},
		{"code text", errors.New(`{"error":{"code":"rate_limit_exceeded"}}`), true},
		{"timeout is fatal", context.DeadlineExceeded, false},
		{"generic", errors.New("invalid request"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ClassifyError("anyllm", tt.err)
			if got := errors.Is(err, ErrRateLimited); got != tt.wantLimited {
				t.Errorf("rate limited = %v, want %v (err: %v)", got, tt.wantLimited, err)
			}
		})
	}
}

func TestClassifyError_KeepsExistingClass(t *testing.T) {
	orig := NewProviderError("openai", 429, "", errors.New("slow down"))
	if got := ClassifyError("wrapper", orig); got != orig {
		t.Errorf("expected classified error to be returned unchanged")
	}
}

func TestEstimateTokens(t *testing.T) {
	msgs := []Message{
		{Role: RoleUser, Content: "12345678"},
		{Role: RoleAssistant, ToolCalls: []ToolCall{{Name: "adder", Arguments: `{"a":1}`}}},
	}
	// 4+2 for the first message, 4+3 for the tool call ("adder" + 7 chars = 12 chars).
	if got := EstimateTokens(msgs); got != 13 {
		t.Errorf("EstimateTokens = %d, want 13", got)
	}
	if got := CountOrEstimate(nil, msgs); got != 13 {
		t.Errorf("CountOrEstimate(nil) = %d, want 13", got)
	}
}

func TestCompletionResponse_Message(t *testing.T) {
	resp := &CompletionResponse{
		Content:   "done",
		Reasoning: "thought",
		ToolCalls: []ToolCall{{ID: "1", Name: "adder"}},
	}
	m := resp.Message()
	if m.Role != RoleAssistant || m.Content != "done" || m.Reasoning != "thought" {
		t.Errorf("unexpected message: %+v", m)
	}
	if !m.HasToolCalls() {
		t.Error("expected HasToolCalls to be true")
	}
}
