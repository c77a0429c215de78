package llm

import (
	"regexp"
	"strings"
)

// thinkBlock matches inline reasoning emitted by models that do not return a
// separate reasoning field (qwen3, deepseek-r1 served raw).
var thinkBlock = regexp.MustCompile(`(?s)<think>(.*?)</think>`)

// SplitReasoning separates inline <think> blocks from content. It returns the
// content with all blocks removed and trimmed, and the concatenated block
// bodies. Content without blocks is returned trimmed with empty reasoning.
func SplitReasoning(content string) (answer, reasoning string) {
	matches := thinkBlock.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return strings.TrimSpace(content), ""
	}
	parts := make([]string, 0, len(matches))
	for _, m := range matches {
		if s := strings.TrimSpace(m[1]); s != "" {
			parts = append(parts, s)
		}
	}
	answer = strings.TrimSpace(thinkBlock.ReplaceAllString(content, ""))
	return answer, strings.Join(parts, "\n\n")
}

// JoinReasoning concatenates non-empty reasoning fragments with blank lines.
func JoinReasoning(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n\n")
}
