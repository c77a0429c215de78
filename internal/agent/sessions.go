package agent

import (
	"context"
	"time"

	"github.com/MrWong99/arbiter/internal/observe"
	"github.com/MrWong99/arbiter/internal/session"
)

// SessionsConfig configures [Sessions].
type SessionsConfig struct {
	// Runner drives the turns of every session. Must not be nil.
	Runner Runner

	// State is the template for each new session's conversation state.
	State session.Config

	// IdleTTL evicts sessions unused for this long. Default:
	// [session.DefaultIdleTTL].
	IdleTTL time.Duration

	// Metrics, if set, tracks the number of live sessions.
	Metrics *observe.Metrics
}

// Sessions routes session ids to their [Agent]. Each id gets its own agent
// and conversation state.
type Sessions struct {
	store *session.Store[*Agent]
}

// NewSessions creates an empty session table.
func NewSessions(cfg SessionsConfig) *Sessions {
	stateCfg := cfg.State
	m := cfg.Metrics
	return &Sessions{store: session.NewStore(session.StoreConfig[*Agent]{
		IdleTTL: cfg.IdleTTL,
		New: func(id string) *Agent {
			// New only fails on an empty id or nil runner, both excluded here.
			a, _ := New(Config{ID: id, Runner: cfg.Runner, State: session.NewState(stateCfg)})
			return a
		},
		OnCreate: func(id string, _ *Agent) {
			if m != nil {
				m.ActiveSessions.Add(context.Background(), 1)
			}
		},
		OnEvict: func(id string, _ *Agent) {
			if m != nil {
				m.ActiveSessions.Add(context.Background(), -1)
			}
		},
	})}
}

// Open returns the agent for id, creating a session when id is unknown. An
// empty id starts a new session; the effective id is returned.
func (s *Sessions) Open(id string) (string, *Agent) {
	return s.store.GetOrCreate(id)
}

// Lookup returns the agent for id without creating one.
func (s *Sessions) Lookup(id string) (*Agent, bool) {
	return s.store.Get(id)
}

// Close ends the session id. It reports whether the session existed.
func (s *Sessions) Close(id string) bool {
	return s.store.Delete(id)
}

// Len returns the number of live sessions.
func (s *Sessions) Len() int {
	return s.store.Len()
}

// Run evicts idle sessions until ctx is done.
func (s *Sessions) Run(ctx context.Context) {
	s.store.Run(ctx, 0)
}
