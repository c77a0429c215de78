package anyllm

import (
	"testing"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/arbiter/pkg/provider/llm"
)

// ── convertMessage ────────────────────────────────────────────────────────────

func TestConvertMessage_Roles(t *testing.T) {
	tests := []struct {
		role    string
		content string
	}{
		{llm.RoleSystem, "You are helpful."},
		{llm.RoleUser, "Hello!"},
		{llm.RoleAssistant, "Hi there!"},
	}

	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			got := convertMessage(llm.Message{Role: tt.role, Content: tt.content})
			if got.Role != tt.role {
				t.Errorf("expected role %q, got %q", tt.role, got.Role)
			}
			if got.ContentString() != tt.content {
				t.Errorf("expected content %q, got %q", tt.content, got.ContentString())
			}
		})
	}
}

// TestConvertMessage_AssistantWithToolCalls checks tool call conversion.
func TestConvertMessage_AssistantWithToolCalls(t *testing.T) {
	m := llm.Message{
		Role: llm.RoleAssistant,
		ToolCalls: []llm.ToolCall{
			{ID: "call_1", Name: "weather_search_tool", Arguments: `{"city":"Paris","country":"FR"}`},
		},
	}
	got := convertMessage(m)
	if len(got.ToolCalls) != 1 {
		t.Fatalf("expected 1 tool call, got %d", len(got.ToolCalls))
	}
	tc := got.ToolCalls[0]
	if tc.ID != "call_1" {
		t.Errorf("expected ID call_1, got %q", tc.ID)
	}
	if tc.Function.Name != "weather_search_tool" {
		t.Errorf("expected function name weather_search_tool, got %q", tc.Function.Name)
	}
	if tc.Type != "function" {
		t.Errorf("expected type function, got %q", tc.Type)
	}
}

// TestConvertMessage_Tool checks tool-result message conversion.
func TestConvertMessage_Tool(t *testing.T) {
	got := convertMessage(llm.Message{Role: llm.RoleTool, Content: "12", ToolCallID: "call_1"})
	if got.ToolCallID != "call_1" {
		t.Errorf("expected ToolCallID call_1, got %q", got.ToolCallID)
	}
}

// ── buildParams ───────────────────────────────────────────────────────────────

func TestBuildParams_SystemPromptAndTools(t *testing.T) {
	p := &Provider{model: "qwen/qwen3-32b"}
	params := p.buildParams(llm.CompletionRequest{
		SystemPrompt: "policy",
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: "What is 7 plus 5?"}},
		Tools: []llm.ToolDefinition{{
			Name:        "adder",
			Description: "sum",
			Parameters:  map[string]any{"type": "object"},
		}},
		MaxTokens: 2000,
	})

	if params.Model != "qwen/qwen3-32b" {
		t.Errorf("Model = %q", params.Model)
	}
	if len(params.Messages) != 2 || params.Messages[0].Role != anyllmlib.RoleSystem {
		t.Fatalf("expected system prompt first, got %+v", params.Messages)
	}
	if params.Temperature == nil || *params.Temperature != 0 {
		t.Errorf("expected explicit zero temperature, got %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 2000 {
		t.Errorf("expected MaxTokens 2000, got %v", params.MaxTokens)
	}
	if len(params.Tools) != 1 || params.Tools[0].Function.Name != "adder" {
		t.Errorf("unexpected tools: %+v", params.Tools)
	}
}

// ── modelCapabilities ─────────────────────────────────────────────────────────

func TestModelCapabilities(t *testing.T) {
	tests := []struct {
		model         string
		wantReasoning bool
		wantTools     bool
	}{
		{"qwen/qwen3-32b", true, true},
		{"QWEN/QWEN3-32B", true, true},
		{"deepseek-r1-distill-llama-70b", true, true},
		{"llama-3.1-8b-instant", false, true},
		{"o1-mini", true, false},
		{"unknown-model", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			caps := modelCapabilities(tt.model)
			if caps.SupportsReasoning != tt.wantReasoning {
				t.Errorf("SupportsReasoning = %v, want %v", caps.SupportsReasoning, tt.wantReasoning)
			}
			if caps.SupportsToolCalling != tt.wantTools {
				t.Errorf("SupportsToolCalling = %v, want %v", caps.SupportsToolCalling, tt.wantTools)
			}
		})
	}
}

// ── Constructor ───────────────────────────────────────────────────────────────

func TestNew_Validation(t *testing.T) {
	if _, err := New("", "gpt-4o"); err == nil {
		t.Error("expected error for empty providerName")
	}
	if _, err := New("openai", ""); err == nil {
		t.Error("expected error for empty model")
	}
	if _, err := New("fakecloud", "some-model", anyllmlib.WithAPIKey("dummy")); err == nil {
		t.Error("expected error for unsupported provider")
	}
}

func TestNew_Groq_WithAPIKey(t *testing.T) {
	p, err := NewGroq("qwen/qwen3-32b", anyllmlib.WithAPIKey("gsk-test"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.name != "groq" || p.model != "qwen/qwen3-32b" {
		t.Errorf("unexpected provider: name=%q model=%q", p.name, p.model)
	}
}

func TestNew_Ollama_NoAPIKey(t *testing.T) {
	p, err := NewOllama("llama3")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatal("expected non-nil provider")
	}
}

// ── CountTokens ───────────────────────────────────────────────────────────────

// estimatingProvider returns a provider whose tokenizer is never loaded so
// CountTokens uses the character estimate.
func estimatingProvider() *Provider {
	p := &Provider{model: "gpt-4o"}
	p.counterOnce.Do(func() {})
	return p
}

func TestCountTokens_Empty(t *testing.T) {
	count, err := estimatingProvider().CountTokens(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 0 {
		t.Errorf("expected 0 tokens for empty messages, got %d", count)
	}
}

func TestCountTokens_MultipleMessages(t *testing.T) {
	p := estimatingProvider()
	msgs := []llm.Message{
		{Role: llm.RoleUser, Content: "Hello"},
		{Role: llm.RoleAssistant, Content: "Hi there, how can I help?"},
	}
	count, _ := p.CountTokens(msgs)
	single, _ := p.CountTokens(msgs[:1])
	if count <= single {
		t.Errorf("expected more tokens for two messages than one: %d <= %d", count, single)
	}
}
