// Package agent binds one conversation's memory to the orchestration loop.
//
// An [Agent] serves a single session: for every query it assembles the
// message list from its [session.State], drives the turn through a [Runner]
// and commits the finished turn back to the state. Turns of one agent are
// serialised; distinct agents share nothing but their collaborators.
//
// [Sessions] maps session ids to agents for the front ends.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/MrWong99/arbiter/internal/agent/orchestrator"
	"github.com/MrWong99/arbiter/internal/observe"
	"github.com/MrWong99/arbiter/internal/session"
	"github.com/MrWong99/arbiter/pkg/provider/llm"
)

// ErrEmptyQuery is returned by [Agent.Ask] for a blank query.
var ErrEmptyQuery = errors.New("agent: query must not be blank")

// Runner drives one turn to a final answer. *orchestrator.Orchestrator
// implements it.
type Runner interface {
	RunTurn(ctx context.Context, messages []llm.Message) (*orchestrator.Response, error)
}

// Config holds the dependencies of an [Agent].
type Config struct {
	// ID identifies the session. Must not be empty.
	ID string

	// Runner drives turns. Must not be nil.
	Runner Runner

	// State is the conversation memory. When nil a windowed state with
	// default settings and no compressor is used.
	State *session.State
}

// Agent is one conversation session.
type Agent struct {
	id     string
	runner Runner

	// mu serialises turns so concurrent callers wait instead of interleaving
	// commits.
	mu    sync.Mutex
	state *session.State
}

// New creates an Agent.
func New(cfg Config) (*Agent, error) {
	if cfg.ID == "" {
		return nil, errors.New("agent: ID must not be empty")
	}
	if cfg.Runner == nil {
		return nil, errors.New("agent: Runner must not be nil")
	}
	st := cfg.State
	if st == nil {
		st = session.NewState(session.Config{})
	}
	return &Agent{id: cfg.ID, runner: cfg.Runner, state: st}, nil
}

// ID returns the session id.
func (a *Agent) ID() string { return a.id }

// Ask answers query. On success the turn is committed to the conversation
// state, summary refresh included, before Ask returns. On error the state is
// left untouched.
func (a *Agent) Ask(ctx context.Context, query string) (*orchestrator.Response, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	ctx, span := observe.StartSpan(observe.WithSession(ctx, a.id), "agent.ask")
	defer span.End()
	log := observe.Logger(ctx)

	resp, err := a.runner.RunTurn(ctx, a.state.Assemble(query))
	if err != nil {
		span.RecordError(err)
		log.Error("turn failed", "err", err)
		return nil, fmt.Errorf("agent: %w", err)
	}

	a.state.Commit(ctx, session.NewTurn(query, resp.Intermediate, resp.FinalText))
	log.Info("turn committed",
		"rounds", resp.Rounds,
		"state", resp.State.String(),
		"requests", len(resp.CapabilityRequests),
		"degraded", resp.Degraded,
		"window", a.state.Len(),
	)
	return resp, nil
}

// History returns the windowed turns, oldest first.
func (a *Agent) History() []session.Turn {
	return a.state.Window()
}

// Summary returns the running summary of turns before the window.
func (a *Agent) Summary() string {
	return a.state.Summary()
}

// Reset clears the conversation. It waits for an in-flight turn to finish.
func (a *Agent) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state.Reset()
}
