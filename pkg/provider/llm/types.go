package llm

// Message roles understood by every provider binding.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a single message in a conversation transcript.
// Messages are treated as immutable once appended to a transcript.
type Message struct {
	// Role is one of "system", "user", "assistant", or "tool".
	Role string `json:"role"`

	// Content is the text content of the message. Empty for assistant messages
	// that only carry tool calls.
	Content string `json:"content"`

	// ToolCalls contains the capability requests emitted by the assistant, in
	// the order the model produced them.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID is set when Role is "tool", identifying which tool call this
	// message answers.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// Reasoning is diagnostic text produced alongside the message (model
	// reasoning, think blocks). It is never sent back to a provider and never
	// shown to end users as part of an answer.
	Reasoning string `json:"reasoning,omitempty"`
}

// HasToolCalls reports whether m requests at least one tool invocation.
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// ToolCall represents a tool/function invocation requested by the model.
type ToolCall struct {
	// ID is the provider-assigned identifier, unique within one round.
	ID string `json:"id"`

	// Name is the tool/function name.
	Name string `json:"name"`

	// Arguments is the JSON-encoded arguments object.
	Arguments string `json:"arguments"`
}

// ToolDefinition describes a tool that can be offered to a model.
type ToolDefinition struct {
	// Name is the tool's unique identifier.
	Name string

	// Description explains what the tool does (included in model prompts).
	Description string

	// Parameters is the JSON Schema describing the tool's input object.
	Parameters map[string]any
}

// ModelCapabilities describes what a model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one completion.
	MaxOutputTokens int

	// SupportsToolCalling indicates native function/tool calling support.
	SupportsToolCalling bool

	// SupportsReasoning indicates the model emits a separate reasoning trace.
	SupportsReasoning bool
}
