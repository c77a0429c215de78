// Package session holds per-conversation memory for arbiter.
//
// [State] keeps a bounded window of recent turns plus a running summary of
// everything before, and assembles the message list for a new query.
// [Compressor] refreshes the summary after every turn ([LLMCompressor] asks
// the reasoning engine). [Store] maps session ids to per-session values and
// evicts idle sessions.
//
// All exported types are safe for concurrent use.
package session

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"unicode/utf8"

	"github.com/MrWong99/arbiter/pkg/provider/llm"
)

// Defaults for a [State].
const (
	DefaultWindowTurns    = 10
	DefaultMaxAnswerChars = 500
)

// SummaryPrefix starts the system message that carries the running summary.
const SummaryPrefix = "[Conversation summary]: "

// HistoryMode selects how prior turns reach the reasoning engine.
type HistoryMode string

const (
	// HistoryWindowed replays the summary and the recent window with every
	// query.
	HistoryWindowed HistoryMode = "windowed"

	// HistoryStateless sends only the new query. Turns are still recorded
	// for display.
	HistoryStateless HistoryMode = "stateless"
)

// IsValid reports whether m is a known mode.
func (m HistoryMode) IsValid() bool {
	return m == HistoryWindowed || m == HistoryStateless
}

// ParseHistoryMode converts s into a [HistoryMode]. The empty string selects
// [HistoryWindowed].
func ParseHistoryMode(s string) (HistoryMode, error) {
	if s == "" {
		return HistoryWindowed, nil
	}
	m := HistoryMode(s)
	if !m.IsValid() {
		return "", fmt.Errorf("session: unknown history mode %q (want %q or %q)", s, HistoryWindowed, HistoryStateless)
	}
	return m, nil
}

// Turn is one completed exchange: the user message, every intermediate
// capability round and the final assistant message.
type Turn struct {
	User         llm.Message
	Intermediate []llm.Message
	Final        llm.Message
}

// NewTurn builds a Turn from the raw query, the intermediate round messages
// and the final answer text.
func NewTurn(query string, intermediate []llm.Message, answer string) Turn {
	return Turn{
		User:         llm.Message{Role: llm.RoleUser, Content: query},
		Intermediate: slices.Clone(intermediate),
		Final:        llm.Message{Role: llm.RoleAssistant, Content: answer},
	}
}

// Query returns the user's text.
func (t Turn) Query() string { return t.User.Content }

// Answer returns the final assistant text.
func (t Turn) Answer() string { return t.Final.Content }

// replay returns the messages re-sent to the reasoning engine for this turn.
// Intermediate rounds are not replayed.
func (t Turn) replay() []llm.Message {
	return []llm.Message{
		{Role: llm.RoleUser, Content: t.User.Content},
		{Role: llm.RoleAssistant, Content: t.Final.Content},
	}
}

// Config configures a [State].
type Config struct {
	// WindowTurns is the number of recent turns kept verbatim. Default: 10.
	WindowTurns int

	// MaxAnswerChars caps the stored final answer of each turn, in runes.
	// Default: 500.
	MaxAnswerChars int

	// Mode selects the history mode. Default: [HistoryWindowed].
	Mode HistoryMode

	// Compressor refreshes the summary after each committed turn. When nil
	// the summary never changes.
	Compressor Compressor
}

// State is the memory of one conversation.
type State struct {
	windowTurns    int
	maxAnswerChars int
	mode           HistoryMode
	compressor     Compressor

	mu      sync.Mutex
	window  []Turn
	summary string
	gen     uint64 // bumped by Reset to discard in-flight summaries
}

// NewState creates an empty State.
func NewState(cfg Config) *State {
	if cfg.WindowTurns <= 0 {
		cfg.WindowTurns = DefaultWindowTurns
	}
	if cfg.MaxAnswerChars <= 0 {
		cfg.MaxAnswerChars = DefaultMaxAnswerChars
	}
	if !cfg.Mode.IsValid() {
		cfg.Mode = HistoryWindowed
	}
	return &State{
		windowTurns:    cfg.WindowTurns,
		maxAnswerChars: cfg.MaxAnswerChars,
		mode:           cfg.Mode,
		compressor:     cfg.Compressor,
		window:         make([]Turn, 0, cfg.WindowTurns),
	}
}

// Mode returns the history mode.
func (s *State) Mode() HistoryMode { return s.mode }

// Assemble returns the message list for query: the summary as a system
// message (when non-empty), the window turns oldest first, then the query as
// a user message. In stateless mode only the query is returned.
func (s *State) Assemble(query string) []llm.Message {
	q := llm.Message{Role: llm.RoleUser, Content: query}
	if s.mode == HistoryStateless {
		return []llm.Message{q}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := make([]llm.Message, 0, 2*len(s.window)+2)
	if s.summary != "" {
		msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: SummaryPrefix + s.summary})
	}
	for _, t := range s.window {
		msgs = append(msgs, t.replay()...)
	}
	return append(msgs, q)
}

// Commit records a finished turn. The stored answer is truncated to
// MaxAnswerChars runes and the oldest turns are evicted until the window fits.
// In windowed mode the summary is then refreshed from the full answer; the
// compressor runs without holding the lock.
func (s *State) Commit(ctx context.Context, turn Turn) {
	answer := turn.Final.Content
	stored := turn
	stored.Intermediate = slices.Clone(turn.Intermediate)
	stored.Final = llm.Message{Role: llm.RoleAssistant, Content: truncateRunes(answer, s.maxAnswerChars)}

	s.mu.Lock()
	s.window = append(s.window, stored)
	if over := len(s.window) - s.windowTurns; over > 0 {
		s.window = slices.Delete(s.window, 0, over)
	}
	old, gen := s.summary, s.gen
	s.mu.Unlock()

	if s.mode == HistoryStateless || s.compressor == nil {
		return
	}
	updated := s.compressor.Compress(ctx, old, turn.User.Content, answer)

	s.mu.Lock()
	if s.gen == gen {
		s.summary = updated
	}
	s.mu.Unlock()
}

// Window returns a copy of the windowed turns, oldest first.
func (s *State) Window() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.window)
}

// Summary returns the running summary.
func (s *State) Summary() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}

// Len returns the number of windowed turns.
func (s *State) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.window)
}

// Reset clears the window and the summary.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window = s.window[:0]
	s.summary = ""
	s.gen++
}

// truncateRunes returns at most n runes of s.
func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
