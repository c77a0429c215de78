// Package mock provides an in-memory [agent.Runner] for unit tests.
//
// Runner records every message list it is given and returns scripted
// responses, so front ends and the per-session agent can be tested without a
// reasoning backend.
//
// Example:
//
//	r := &mock.Runner{
//	    Responses: []*orchestrator.Response{{FinalText: "12", State: orchestrator.StateDone, Rounds: 1}},
//	}
//	a, _ := agent.New(agent.Config{ID: "s1", Runner: r})
//	resp, err := a.Ask(ctx, "7 + 5?")
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/arbiter/internal/agent"
	"github.com/MrWong99/arbiter/internal/agent/orchestrator"
	"github.com/MrWong99/arbiter/pkg/provider/llm"
)

var _ agent.Runner = (*Runner)(nil)

// RunTurnCall records the arguments of a single [Runner.RunTurn] invocation.
type RunTurnCall struct {
	// Messages is a copy of the message list passed to RunTurn.
	Messages []llm.Message
}

// Runner is a mock implementation of [agent.Runner].
type Runner struct {
	mu sync.Mutex

	// Responses are returned one per call, in order. Once exhausted the last
	// response is repeated. When empty, RunTurn echoes the last message.
	Responses []*orchestrator.Response

	// Err, if non-nil, is returned instead of a response.
	Err error

	// Func, if set, computes every reply and takes precedence over
	// Responses and Err.
	Func func(ctx context.Context, messages []llm.Message) (*orchestrator.Response, error)

	// RunTurnCalls records all RunTurn invocations.
	RunTurnCalls []RunTurnCall
}

// RunTurn implements [agent.Runner].
func (r *Runner) RunTurn(ctx context.Context, messages []llm.Message) (*orchestrator.Response, error) {
	r.mu.Lock()
	r.RunTurnCalls = append(r.RunTurnCalls, RunTurnCall{Messages: slices.Clone(messages)})
	n := len(r.RunTurnCalls)
	fn, err := r.Func, r.Err
	var resp *orchestrator.Response
	if len(r.Responses) > 0 {
		resp = r.Responses[min(n, len(r.Responses))-1]
	}
	r.mu.Unlock()

	if fn != nil {
		return fn(ctx, messages)
	}
	if err != nil {
		return nil, err
	}
	if resp == nil {
		last := messages[len(messages)-1].Content
		resp = &orchestrator.Response{FinalText: "echo: " + last, State: orchestrator.StateDone, Rounds: 1}
	}
	return resp, nil
}

// Calls returns a copy of the recorded calls.
func (r *Runner) Calls() []RunTurnCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.RunTurnCalls)
}
