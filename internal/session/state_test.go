package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/MrWong99/arbiter/pkg/provider/llm"
)

// recordingCompressor appends each query to the summary and records calls.
type recordingCompressor struct {
	mu    sync.Mutex
	calls []compressCall
}

type compressCall struct {
	old, query, answer string
}

func (r *recordingCompressor) Compress(_ context.Context, old, query, answer string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, compressCall{old, query, answer})
	if old == "" {
		return "asked: " + query
	}
	return old + "; asked: " + query
}

func TestParseHistoryMode(t *testing.T) {
	tests := []struct {
		in      string
		want    HistoryMode
		wantErr bool
	}{
		{"", HistoryWindowed, false},
		{"windowed", HistoryWindowed, false},
		{"stateless", HistoryStateless, false},
		{"mixed", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseHistoryMode(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNewState_Defaults(t *testing.T) {
	s := NewState(Config{Mode: "bogus"})
	if s.windowTurns != 10 || s.maxAnswerChars != 500 {
		t.Errorf("windowTurns = %d, maxAnswerChars = %d", s.windowTurns, s.maxAnswerChars)
	}
	if s.Mode() != HistoryWindowed {
		t.Errorf("Mode() = %q", s.Mode())
	}
}

func TestAssemble_Empty(t *testing.T) {
	s := NewState(Config{})
	msgs := s.Assemble("hello")
	if len(msgs) != 1 || msgs[0].Role != llm.RoleUser || msgs[0].Content != "hello" {
		t.Fatalf("Assemble() = %+v", msgs)
	}
}

func TestAssemble_SummaryWindowQuery(t *testing.T) {
	s := NewState(Config{Compressor: &recordingCompressor{}})
	ctx := context.Background()
	s.Commit(ctx, NewTurn("first", nil, "one"))
	s.Commit(ctx, NewTurn("second", []llm.Message{
		{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "adder"}}},
		{Role: llm.RoleTool, ToolCallID: "call_1", Content: "2"},
	}, "two"))

	msgs := s.Assemble("third")
	want := []llm.Message{
		{Role: llm.RoleSystem, Content: "[Conversation summary]: asked: first; asked: second"},
		{Role: llm.RoleUser, Content: "first"},
		{Role: llm.RoleAssistant, Content: "one"},
		{Role: llm.RoleUser, Content: "second"},
		{Role: llm.RoleAssistant, Content: "two"},
		{Role: llm.RoleUser, Content: "third"},
	}
	if len(msgs) != len(want) {
		t.Fatalf("len = %d, want %d: %+v", len(msgs), len(want), msgs)
	}
	for i := range want {
		if msgs[i].Role != want[i].Role || msgs[i].Content != want[i].Content || len(msgs[i].ToolCalls) != 0 {
			t.Errorf("msgs[%d] = %+v, want %+v", i, msgs[i], want[i])
		}
	}
}

func TestCommit_WindowBound(t *testing.T) {
	s := NewState(Config{WindowTurns: 3})
	ctx := context.Background()
	for i := range 7 {
		s.Commit(ctx, NewTurn(fmt.Sprintf("q%d", i), nil, fmt.Sprintf("a%d", i)))
		if s.Len() > 3 {
			t.Fatalf("Len() = %d after %d commits, want <= 3", s.Len(), i+1)
		}
	}
	w := s.Window()
	if w[0].Query() != "q4" || w[2].Query() != "q6" {
		t.Errorf("window = %q..%q, want q4..q6", w[0].Query(), w[2].Query())
	}
}

func TestCommit_TruncatesStoredAnswer(t *testing.T) {
	comp := &recordingCompressor{}
	s := NewState(Config{Compressor: comp})
	long := strings.Repeat("é", 600)

	s.Commit(context.Background(), NewTurn("q", nil, long))

	stored := s.Window()[0].Answer()
	if n := utf8.RuneCountInString(stored); n != 500 {
		t.Errorf("stored runes = %d, want 500", n)
	}
	if !utf8.ValidString(stored) {
		t.Error("truncation split a rune")
	}
	if comp.calls[0].answer != long {
		t.Error("compressor must receive the full answer")
	}
	if replayed := s.Assemble("next")[2].Content; replayed != stored {
		t.Error("replayed answer should be the truncated one")
	}
}

func TestCommit_ShortAnswerUnchanged(t *testing.T) {
	s := NewState(Config{})
	s.Commit(context.Background(), NewTurn("q", nil, "exactly this"))
	if got := s.Window()[0].Answer(); got != "exactly this" {
		t.Errorf("Answer() = %q", got)
	}
}

func TestCommit_ElevenTurns(t *testing.T) {
	comp := &recordingCompressor{}
	s := NewState(Config{Compressor: comp})
	ctx := context.Background()

	for i := 1; i <= 11; i++ {
		s.Commit(ctx, NewTurn(fmt.Sprintf("question %d", i), nil, fmt.Sprintf("answer %d", i)))
	}

	w := s.Window()
	if len(w) != 10 {
		t.Fatalf("window len = %d, want 10", len(w))
	}
	if w[0].Query() != "question 2" || w[9].Query() != "question 11" {
		t.Errorf("window spans %q..%q", w[0].Query(), w[9].Query())
	}
	if !strings.Contains(s.Summary(), "question 1;") {
		t.Errorf("summary %q does not reflect the first turn", s.Summary())
	}
	if len(comp.calls) != 11 {
		t.Errorf("compressor calls = %d, want 11", len(comp.calls))
	}
	if comp.calls[1].old != "asked: question 1" {
		t.Errorf("second compression got old summary %q", comp.calls[1].old)
	}
}

func TestCommit_KeepsIntermediate(t *testing.T) {
	s := NewState(Config{})
	inter := []llm.Message{{Role: llm.RoleTool, ToolCallID: "x", Content: "r"}}
	s.Commit(context.Background(), NewTurn("q", inter, "a"))
	inter[0].Content = "mutated"

	got := s.Window()[0].Intermediate
	if len(got) != 1 || got[0].Content != "r" {
		t.Errorf("Intermediate = %+v", got)
	}
}

func TestStateless(t *testing.T) {
	comp := &recordingCompressor{}
	s := NewState(Config{Mode: HistoryStateless, Compressor: comp})
	ctx := context.Background()

	s.Commit(ctx, NewTurn("q1", nil, "a1"))
	msgs := s.Assemble("q2")
	if len(msgs) != 1 || msgs[0].Content != "q2" {
		t.Errorf("Assemble() = %+v, want only the query", msgs)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, stateless turns are still recorded", s.Len())
	}
	if len(comp.calls) != 0 || s.Summary() != "" {
		t.Error("stateless mode must not compress")
	}
}

func TestReset(t *testing.T) {
	s := NewState(Config{Compressor: &recordingCompressor{}})
	s.Commit(context.Background(), NewTurn("q", nil, "a"))
	s.Reset()
	if s.Len() != 0 || s.Summary() != "" {
		t.Errorf("after Reset: Len = %d, Summary = %q", s.Len(), s.Summary())
	}
	if msgs := s.Assemble("x"); len(msgs) != 1 {
		t.Errorf("Assemble after Reset = %+v", msgs)
	}
}

func TestReset_DiscardsInFlightSummary(t *testing.T) {
	var s *State
	comp := CompressorFunc(func(_ context.Context, _, _, _ string) string {
		s.Reset()
		return "stale"
	})
	s = NewState(Config{Compressor: comp})
	s.Commit(context.Background(), NewTurn("q", nil, "a"))
	if s.Summary() != "" {
		t.Errorf("Summary() = %q, want the reset to win", s.Summary())
	}
}

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 3, "hel"},
		{"日本語テキスト", 3, "日本語"},
		{"", 3, ""},
		{"abc", 0, "abc"},
	}
	for _, tt := range tests {
		if got := truncateRunes(tt.in, tt.n); got != tt.want {
			t.Errorf("truncateRunes(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
