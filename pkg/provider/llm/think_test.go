package llm

import "testing"

func TestSplitReasoning(t *testing.T) {
	tests := []struct {
		name          string
		in            string
		wantAnswer    string
		wantReasoning string
	}{
		{"no block", "  12  ", "12", ""},
		{"single block", "<think>\nadd them\n</think>\n\nThe answer is 12.", "The answer is 12.", "add them"},
		{"two blocks", "<think>a</think>x<think>b</think>y", "xy", "a\n\nb"},
		{"empty block", "<think> </think>Hi", "Hi", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			answer, reasoning := SplitReasoning(tt.in)
			if answer != tt.wantAnswer {
				t.Errorf("answer = %q, want %q", answer, tt.wantAnswer)
			}
			if reasoning != tt.wantReasoning {
				t.Errorf("reasoning = %q, want %q", reasoning, tt.wantReasoning)
			}
		})
	}
}

func TestJoinReasoning(t *testing.T) {
	if got := JoinReasoning("", " a ", "\n", "b"); got != "a\n\nb" {
		t.Errorf("JoinReasoning = %q, want %q", got, "a\n\nb")
	}
}
