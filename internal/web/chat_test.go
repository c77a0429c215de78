package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/MrWong99/arbiter/internal/agent/orchestrator"
	"github.com/MrWong99/arbiter/pkg/provider/llm"
)

type fakeAsker struct {
	resp    *orchestrator.Response
	err     error
	summary string
	queries []string
}

func (f *fakeAsker) Ask(_ context.Context, query string) (*orchestrator.Response, error) {
	f.queries = append(f.queries, query)
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeAsker) Summary() string { return f.summary }

func TestChat_BlankQuery(t *testing.T) {
	t.Parallel()

	history := []Entry{{Role: llm.RoleUser, Content: "hi"}, {Role: llm.RoleAssistant, Content: "hello"}}
	a := &fakeAsker{}

	for _, q := range []string{"", "   ", "\n\t"} {
		res, err := Chat(context.Background(), a, q, history, "ctx")
		if err != nil {
			t.Fatalf("Chat(%q): %v", q, err)
		}
		if len(res.History) != 2 || res.History[1].Content != "hello" {
			t.Errorf("History = %+v, want unchanged", res.History)
		}
		if res.ToolCallsJSON != "{}" {
			t.Errorf("ToolCallsJSON = %q, want {}", res.ToolCallsJSON)
		}
		if res.Reasoning != "" || res.Input != "" {
			t.Errorf("Reasoning = %q, Input = %q, want both empty", res.Reasoning, res.Input)
		}
		if res.Context != "ctx" {
			t.Errorf("Context = %q, want ctx", res.Context)
		}
	}
	if len(a.queries) != 0 {
		t.Errorf("Ask called %d times, want 0", len(a.queries))
	}
}

func TestChat_Turn(t *testing.T) {
	t.Parallel()

	a := &fakeAsker{
		summary: "user asked about Paris",
		resp: &orchestrator.Response{
			FinalText: "It is **sunny** in Paris.",
			CapabilityRequests: []orchestrator.CapabilityRequest{{
				Round:     1,
				ID:        "call_1",
				Name:      "weather_search_tool",
				Arguments: `{"city":"Paris","country":"FR"}`,
				Status:    orchestrator.StatusDispatched,
				OK:        true,
			}},
			DiagnosticTrace: "need the weather\n\nreport it",
			State:           orchestrator.StateDone,
			Rounds:          2,
		},
	}

	res, err := Chat(context.Background(), a, "Weather in Paris, FR", nil, "")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}

	if len(res.History) != 2 {
		t.Fatalf("len(History) = %d, want 2", len(res.History))
	}
	if got := res.History[0]; got.Role != llm.RoleUser || got.Content != "Weather in Paris, FR" || got.HTML != "" {
		t.Errorf("History[0] = %+v", got)
	}
	assistant := res.History[1]
	if assistant.Role != llm.RoleAssistant || assistant.Content != "It is **sunny** in Paris." {
		t.Errorf("History[1] = %+v", assistant)
	}
	if !strings.Contains(assistant.HTML, "<strong>sunny</strong>") {
		t.Errorf("HTML = %q, want rendered markdown", assistant.HTML)
	}

	var calls []struct {
		Name   string            `json:"name"`
		ID     string            `json:"id"`
		Args   map[string]string `json:"args"`
		Status string            `json:"status"`
	}
	if err := json.Unmarshal([]byte(res.ToolCallsJSON), &calls); err != nil {
		t.Fatalf("ToolCallsJSON is not a JSON list: %v\n%s", err, res.ToolCallsJSON)
	}
	if len(calls) != 1 {
		t.Fatalf("len(calls) = %d, want 1", len(calls))
	}
	if calls[0].Name != "weather_search_tool" || calls[0].Args["city"] != "Paris" || calls[0].Args["country"] != "FR" {
		t.Errorf("calls[0] = %+v", calls[0])
	}
	if calls[0].Status != "dispatched" {
		t.Errorf("Status = %q, want dispatched", calls[0].Status)
	}
	if !strings.Contains(res.ToolCallsJSON, "\n  ") {
		t.Errorf("ToolCallsJSON is not indented:\n%s", res.ToolCallsJSON)
	}

	if res.Reasoning != "need the weather\n\nreport it" {
		t.Errorf("Reasoning = %q", res.Reasoning)
	}
	if res.Input != "" {
		t.Errorf("Input = %q, want cleared", res.Input)
	}
	if res.Context != "user asked about Paris" {
		t.Errorf("Context = %q, want the summary", res.Context)
	}
}

func TestChat_NoRequestsIsEmptyList(t *testing.T) {
	t.Parallel()

	a := &fakeAsker{resp: &orchestrator.Response{FinalText: "12"}}
	res, err := Chat(context.Background(), a, "What is 7 plus 5?", nil, "")
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if res.ToolCallsJSON != "[]" {
		t.Errorf("ToolCallsJSON = %q, want []", res.ToolCallsJSON)
	}
}

func TestChat_DoesNotAliasHistory(t *testing.T) {
	t.Parallel()

	history := make([]Entry, 1, 8)
	history[0] = Entry{Role: llm.RoleUser, Content: "first"}

	a := &fakeAsker{resp: &orchestrator.Response{FinalText: "answer"}}
	if _, err := Chat(context.Background(), a, "second", history, ""); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if spare := history[:2]; spare[1].Content != "" {
		t.Errorf("Chat wrote into the caller's backing array: %+v", spare[1])
	}
}

func TestChat_Error(t *testing.T) {
	t.Parallel()

	history := []Entry{{Role: llm.RoleUser, Content: "hi"}}
	a := &fakeAsker{err: fmt.Errorf("agent: %w", llm.ErrProviderFatal)}

	res, err := Chat(context.Background(), a, "hello?", history, "ctx")
	if !errors.Is(err, llm.ErrProviderFatal) {
		t.Fatalf("err = %v, want ErrProviderFatal", err)
	}
	if len(res.History) != 1 {
		t.Errorf("History = %+v, want unchanged", res.History)
	}
	if res.Input != "hello?" {
		t.Errorf("Input = %q, want the query kept for retry", res.Input)
	}
	if res.Context != "ctx" || res.ToolCallsJSON != "{}" {
		t.Errorf("Context = %q, ToolCallsJSON = %q", res.Context, res.ToolCallsJSON)
	}
}

func TestToolCallsJSON_Arguments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		args string
		want string
	}{
		{name: "object", args: `{"a":7,"b":5}`, want: `"a": 7`},
		{name: "empty", args: "", want: `"args": {}`},
		{name: "malformed", args: `{"a":`, want: `"args": "{\"a\":"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := toolCallsJSON([]orchestrator.CapabilityRequest{{Name: "adder", Arguments: tt.args}})
			if err != nil {
				t.Fatalf("toolCallsJSON: %v", err)
			}
			if !strings.Contains(got, tt.want) {
				t.Errorf("toolCallsJSON = %s, want it to contain %s", got, tt.want)
			}
		})
	}
}

func TestReset(t *testing.T) {
	t.Parallel()

	res := Reset()
	if res.History == nil || len(res.History) != 0 {
		t.Errorf("History = %#v, want empty non-nil", res.History)
	}
	if res.ToolCallsJSON != "{}" {
		t.Errorf("ToolCallsJSON = %q, want {}", res.ToolCallsJSON)
	}
	if res.Reasoning != "" || res.Input != "" || res.Context != "" {
		t.Errorf("Reset = %+v, want empties", res)
	}
}

func TestRenderMarkdown_EscapesRawHTML(t *testing.T) {
	t.Parallel()

	got := renderMarkdown("<script>alert(1)</script>\n\n- a\n- b")
	if strings.Contains(got, "<script>") {
		t.Errorf("renderMarkdown passed raw HTML through: %q", got)
	}
	if !strings.Contains(got, "<li>a</li>") {
		t.Errorf("renderMarkdown = %q, want a list", got)
	}
}
