// Package web is the browser-facing front end. It exposes the chat turn as
// a JSON API and over a WebSocket, with one conversation session per client.
//
// [Chat] and [Reset] implement the chat panel contract: a turn takes the
// query, the displayed history and the session context, and yields the
// updated history, the capability requests of the turn as JSON, the
// reasoning trace, the cleared input field and the updated context.
package web

import (
	"context"
	"encoding/json"
	"slices"
	"strings"

	"github.com/MrWong99/arbiter/internal/agent/orchestrator"
	"github.com/MrWong99/arbiter/pkg/provider/llm"
)

// emptyToolCalls is shown in the tool call pane before the first turn.
const emptyToolCalls = "{}"

// Entry is one bubble of the displayed chat history.
type Entry struct {
	Role    string `json:"role"`
	Content string `json:"content"`

	// HTML is the rendered markdown of assistant entries.
	HTML string `json:"html,omitempty"`
}

// ChatResult is the state of the chat panel after a turn or reset.
type ChatResult struct {
	History       []Entry `json:"history"`
	ToolCallsJSON string  `json:"tool_calls"`
	Reasoning     string  `json:"reasoning"`
	Input         string  `json:"input"`
	Context       string  `json:"context"`
}

// Asker answers queries for one session. *agent.Agent implements it.
type Asker interface {
	Ask(ctx context.Context, query string) (*orchestrator.Response, error)
	Summary() string
}

// Chat runs one turn for query. A blank query changes nothing: history and
// sessionContext come back as given with an empty trace. On error the
// panel is left as it was, input included, so the user can retry.
func Chat(ctx context.Context, a Asker, query string, history []Entry, sessionContext string) (ChatResult, error) {
	if history == nil {
		history = []Entry{}
	}
	if strings.TrimSpace(query) == "" {
		return ChatResult{History: history, ToolCallsJSON: emptyToolCalls, Context: sessionContext}, nil
	}

	resp, err := a.Ask(ctx, query)
	if err != nil {
		return ChatResult{History: history, ToolCallsJSON: emptyToolCalls, Input: query, Context: sessionContext}, err
	}

	calls, err := toolCallsJSON(resp.CapabilityRequests)
	if err != nil {
		return ChatResult{History: history, ToolCallsJSON: emptyToolCalls, Input: query, Context: sessionContext}, err
	}

	updated := slices.Clip(history)
	updated = append(updated,
		Entry{Role: llm.RoleUser, Content: query},
		Entry{Role: llm.RoleAssistant, Content: resp.FinalText, HTML: renderMarkdown(resp.FinalText)},
	)
	return ChatResult{
		History:       updated,
		ToolCallsJSON: calls,
		Reasoning:     resp.DiagnosticTrace,
		Context:       a.Summary(),
	}, nil
}

// Reset returns the empty panel.
func Reset() ChatResult {
	return ChatResult{History: []Entry{}, ToolCallsJSON: emptyToolCalls}
}

type toolCallView struct {
	Round  int             `json:"round"`
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Args   json.RawMessage `json:"args"`
	Status string          `json:"status"`
	OK     bool            `json:"ok"`
	Kind   string          `json:"kind,omitempty"`
}

// toolCallsJSON renders the turn's requests as an indented JSON list.
// Arguments that are not valid JSON are shown as strings.
func toolCallsJSON(reqs []orchestrator.CapabilityRequest) (string, error) {
	views := make([]toolCallView, 0, len(reqs))
	for _, r := range reqs {
		args := json.RawMessage(r.Arguments)
		switch {
		case strings.TrimSpace(r.Arguments) == "":
			args = json.RawMessage("{}")
		case !json.Valid(args):
			quoted, err := json.Marshal(r.Arguments)
			if err != nil {
				return "", err
			}
			args = quoted
		}
		views = append(views, toolCallView{
			Round:  r.Round,
			ID:     r.ID,
			Name:   r.Name,
			Args:   args,
			Status: string(r.Status),
			OK:     r.OK,
			Kind:   string(r.Kind),
		})
	}
	out, err := json.MarshalIndent(views, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}
