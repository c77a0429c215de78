package llm

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// tokensPerMessage is the per-message framing overhead (role markers).
const tokensPerMessage = 4

// charsPerToken is the fallback ratio when no tokenizer is available.
const charsPerToken = 4

var (
	encodingMu    sync.Mutex
	encodingCache = make(map[string]*tiktoken.Tiktoken)
)

// TokenCounter counts tokens with a tiktoken encoding. Models unknown to
// tiktoken use cl100k_base. Safe for concurrent use.
type TokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTokenCounter returns a counter for model. Encodings are cached per model.
func NewTokenCounter(model string) (*TokenCounter, error) {
	encodingMu.Lock()
	defer encodingMu.Unlock()

	if enc, ok := encodingCache[model]; ok {
		return &TokenCounter{enc: enc}, nil
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("llm: load token encoding: %w", err)
		}
	}
	encodingCache[model] = enc
	return &TokenCounter{enc: enc}, nil
}

// Count returns the token count of messages including framing overhead.
func (c *TokenCounter) Count(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += tokensPerMessage
		total += len(c.enc.Encode(m.Content, nil, nil))
		for _, tc := range m.ToolCalls {
			total += len(c.enc.Encode(tc.Name, nil, nil))
			total += len(c.enc.Encode(tc.Arguments, nil, nil))
		}
	}
	return total
}

// EstimateTokens approximates the token count of messages at roughly four
// characters per token. It never undercounts empty messages' framing.
func EstimateTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += tokensPerMessage
		total += (len(m.Content) + charsPerToken - 1) / charsPerToken
		for _, tc := range m.ToolCalls {
			total += (len(tc.Name) + len(tc.Arguments) + charsPerToken - 1) / charsPerToken
		}
	}
	return total
}

// CountOrEstimate counts with c when non-nil and falls back to [EstimateTokens].
func CountOrEstimate(c *TokenCounter, messages []Message) int {
	if c == nil {
		return EstimateTokens(messages)
	}
	return c.Count(messages)
}
