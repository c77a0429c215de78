package reasoning

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/MrWong99/arbiter/pkg/provider/llm"
	llmmock "github.com/MrWong99/arbiter/pkg/provider/llm/mock"
)

func noWait() backoff.BackOff { return &backoff.ZeroBackOff{} }

func newClient(t *testing.T, p llm.Provider, opts ...Option) *Client {
	t.Helper()
	c, err := New(p, append([]Option{WithBackOff(noWait)}, opts...)...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

var userMsg = []llm.Message{{Role: llm.RoleUser, Content: "What is 7 plus 5?"}}

func rateLimited() error {
	return llm.NewProviderError("groq", 429, "rate_limit_exceeded", errors.New("slow down"))
}

func TestNew_NilProvider(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error for nil provider")
	}
}

func TestDecide_BuildsRequest(t *testing.T) {
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "12"}}
	policy := NewPolicy(PolicyDocument{Version: "v7", Prompt: "be careful"})
	c := newClient(t, p, WithPolicy(policy))

	tools := []llm.ToolDefinition{{Name: "adder"}}
	msg, err := c.Decide(context.Background(), userMsg, tools)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if msg.Role != llm.RoleAssistant || msg.Content != "12" {
		t.Errorf("msg = %+v", msg)
	}

	calls := p.Calls()
	if len(calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(calls))
	}
	req := calls[0].Req
	if req.SystemPrompt != "be careful" {
		t.Errorf("SystemPrompt = %q", req.SystemPrompt)
	}
	if req.Temperature != 0 || req.MaxTokens != 2000 {
		t.Errorf("Temperature = %v, MaxTokens = %d", req.Temperature, req.MaxTokens)
	}
	if len(req.Tools) != 1 || req.Tools[0].Name != "adder" {
		t.Errorf("Tools = %+v", req.Tools)
	}
	if _, ok := calls[0].Ctx.Deadline(); !ok {
		t.Error("provider call should carry a deadline")
	}
}

func TestDecide_PolicySwapIsPickedUp(t *testing.T) {
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "ok"}}
	policy := NewPolicy(PolicyDocument{Version: "1", Prompt: "first"})
	c := newClient(t, p, WithPolicy(policy))

	_, _ = c.Decide(context.Background(), userMsg, nil)
	policy.Set(PolicyDocument{Version: "2", Prompt: "second"})
	_, _ = c.Decide(context.Background(), userMsg, nil)

	calls := p.Calls()
	if calls[0].Req.SystemPrompt != "first" || calls[1].Req.SystemPrompt != "second" {
		t.Errorf("prompts = %q, %q", calls[0].Req.SystemPrompt, calls[1].Req.SystemPrompt)
	}
}

func TestDecide_SplitsReasoning(t *testing.T) {
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{
		Content:   "<think>add the numbers</think>\n  7 plus 5 is 12. ",
		Reasoning: "provider trace",
	}}
	c := newClient(t, p)

	msg, err := c.Decide(context.Background(), userMsg, nil)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if msg.Content != "7 plus 5 is 12." {
		t.Errorf("Content = %q", msg.Content)
	}
	if msg.Reasoning != "provider trace\n\nadd the numbers" {
		t.Errorf("Reasoning = %q", msg.Reasoning)
	}
}

func TestDecide_KeepsToolCallOrder(t *testing.T) {
	calls := []llm.ToolCall{
		{ID: "a", Name: "real_time_tool", Arguments: "{}"},
		{ID: "b", Name: "web_search_tool", Arguments: "{}"},
	}
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{ToolCalls: calls}}
	c := newClient(t, p)

	msg, err := c.Decide(context.Background(), userMsg, nil)
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if len(msg.ToolCalls) != 2 || msg.ToolCalls[0].ID != "a" || msg.ToolCalls[1].ID != "b" {
		t.Errorf("ToolCalls = %+v", msg.ToolCalls)
	}
}

func TestDecide_Retries(t *testing.T) {
	tests := []struct {
		name      string
		script    []llmmock.Step
		retries   int
		wantCalls int
		wantErr   error
	}{
		{
			name: "rate limit then success",
			script: []llmmock.Step{
				{Err: rateLimited()},
				{Response: &llm.CompletionResponse{Content: "ok"}},
			},
			retries:   2,
			wantCalls: 2,
		},
		{
			name:      "rate limit exhausts budget",
			script:    []llmmock.Step{{Err: rateLimited()}, {Err: rateLimited()}, {Err: rateLimited()}, {Err: rateLimited()}},
			retries:   2,
			wantCalls: 3,
			wantErr:   llm.ErrRateLimited,
		},
		{
			name:      "no retries configured",
			script:    []llmmock.Step{{Err: rateLimited()}, {Response: &llm.CompletionResponse{Content: "ok"}}},
			retries:   0,
			wantCalls: 1,
			wantErr:   llm.ErrRateLimited,
		},
		{
			name:      "fatal is not retried",
			script:    []llmmock.Step{{Err: llm.NewProviderError("groq", 401, "", errors.New("bad key"))}},
			retries:   2,
			wantCalls: 1,
			wantErr:   llm.ErrProviderFatal,
		},
		{
			name:      "unclassified error becomes fatal",
			script:    []llmmock.Step{{Err: errors.New("socket closed")}},
			retries:   2,
			wantCalls: 1,
			wantErr:   llm.ErrProviderFatal,
		},
		{
			name:      "nil response is fatal",
			script:    []llmmock.Step{{}},
			retries:   2,
			wantCalls: 1,
			wantErr:   llm.ErrProviderFatal,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &llmmock.Provider{Script: tt.script}
			c := newClient(t, p, WithMaxRetries(tt.retries))

			_, err := c.Decide(context.Background(), userMsg, nil)
			if got := len(p.Calls()); got != tt.wantCalls {
				t.Errorf("calls = %d, want %d", got, tt.wantCalls)
			}
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestDecide_TimeoutIsFatal(t *testing.T) {
	p := &llmmock.Provider{
		CompleteFunc: func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
			<-ctx.Done()
			return nil, llm.ClassifyError("groq", ctx.Err())
		},
	}
	c := newClient(t, p, WithTimeout(20*time.Millisecond))

	_, err := c.Decide(context.Background(), userMsg, nil)
	if !errors.Is(err, ErrTimeout) || !errors.Is(err, llm.ErrProviderFatal) {
		t.Fatalf("err = %v, want timeout classified as fatal", err)
	}
	if errors.Is(err, llm.ErrRateLimited) {
		t.Error("timeout must not be classified as rate limited")
	}
	if n := len(p.Calls()); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

func TestDecide_CallerCancellationStopsRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &llmmock.Provider{
		CompleteFunc: func(context.Context, llm.CompletionRequest) (*llm.CompletionResponse, error) {
			cancel()
			return nil, rateLimited()
		},
	}
	c := newClient(t, p, WithMaxRetries(5))

	if _, err := c.Decide(ctx, userMsg, nil); err == nil {
		t.Fatal("expected error")
	}
	if n := len(p.Calls()); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

func TestDecide_NoMessages(t *testing.T) {
	p := &llmmock.Provider{}
	c := newClient(t, p)
	if _, err := c.Decide(context.Background(), nil, nil); !errors.Is(err, llm.ErrProviderFatal) {
		t.Fatalf("err = %v, want ErrProviderFatal", err)
	}
	if len(p.Calls()) != 0 {
		t.Error("provider must not be called without messages")
	}
}

func TestInstruct(t *testing.T) {
	p := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: " summary "}}
	c := newClient(t, p, WithTemperature(0.3), WithMaxTokens(512))

	msg, err := c.Instruct(context.Background(), "summarise", userMsg)
	if err != nil {
		t.Fatalf("Instruct: %v", err)
	}
	if msg.Content != "summary" {
		t.Errorf("Content = %q", msg.Content)
	}
	req := p.Calls()[0].Req
	if req.SystemPrompt != "summarise" || len(req.Tools) != 0 {
		t.Errorf("req = %+v", req)
	}
	if req.Temperature != 0.3 || req.MaxTokens != 512 {
		t.Errorf("Temperature = %v, MaxTokens = %d", req.Temperature, req.MaxTokens)
	}
}

func TestDefaultPolicyMentionsCapabilities(t *testing.T) {
	c := newClient(t, &llmmock.Provider{})
	prompt := c.Policy().Prompt()
	for _, name := range []string{"real_time_tool", "weather_search_tool", "web_search_tool"} {
		if !strings.Contains(prompt, name) {
			t.Errorf("default policy does not mention %s", name)
		}
	}
	if c.Policy().Version() != BuiltinVersion {
		t.Errorf("Version = %q", c.Policy().Version())
	}
}
