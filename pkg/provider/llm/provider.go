// Package llm defines the Provider interface for the reasoning engine backends.
//
// A provider wraps a remote or local model API (Groq, OpenAI, Anthropic, a
// local Ollama instance, ...) and exposes a uniform completion call so that
// the orchestration core never couples to a specific SDK.
//
// Providers report failures as typed errors: callers use [errors.Is] with
// [ErrRateLimited] and [ErrProviderFatal] to decide whether a failure is
// recoverable.
//
// Implementors must be safe for concurrent use.
package llm

import "context"

// Usage holds token accounting information returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation transcript. The last message drives
	// the response.
	Messages []Message

	// Tools is the set of tool definitions offered to the model.
	Tools []ToolDefinition

	// Temperature controls output randomness. Zero requests greedy decoding
	// where the backend supports it.
	Temperature float64

	// MaxTokens caps the number of completion tokens. Zero means provider default.
	MaxTokens int

	// SystemPrompt is an optional instruction injected before the transcript.
	// Providers without a dedicated system field prepend it as a "system" message.
	SystemPrompt string
}

// CompletionResponse is returned by Complete.
type CompletionResponse struct {
	// Content is the full text of the assistant's reply. Empty when the model
	// responds exclusively with tool calls.
	Content string

	// ToolCalls lists all tool invocations requested by the model, in order.
	ToolCalls []ToolCall

	// Reasoning is the model's separate reasoning trace, if the backend
	// returned one.
	Reasoning string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Message converts the response into an assistant [Message].
func (r *CompletionResponse) Message() Message {
	return Message{
		Role:      RoleAssistant,
		Content:   r.Content,
		ToolCalls: r.ToolCalls,
		Reasoning: r.Reasoning,
	}
}

// Provider is the abstraction over any reasoning-engine backend.
//
// Each method should propagate context cancellation promptly.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	//
	// Failures are classified: rate limiting wraps [ErrRateLimited], every
	// other failure wraps [ErrProviderFatal].
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// CountTokens estimates the number of tokens the given messages would
	// consume in the model's context window. The result need not be exact.
	CountTokens(messages []Message) (int, error)

	// Capabilities returns static metadata describing the underlying model.
	Capabilities() ModelCapabilities
}
