// Package capability defines the closed set of external actions the reasoning
// engine may request, the typed argument contract of each, and the registry
// that validates and dispatches requests.
//
// A capability is built from a plain Go argument struct:
//
//	type addArgs struct {
//	    A int `json:"a" jsonschema:"description=First addend"`
//	    B int `json:"b" jsonschema:"description=Second addend"`
//	}
//
//	adder := capability.New("adder", "Adds two integers.",
//	    func(ctx context.Context, args addArgs) (string, error) {
//	        return strconv.Itoa(args.A + args.B), nil
//	    })
//
// Every field of the struct is required and unknown fields are rejected.
package capability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/arbiter/pkg/provider/llm"
)

// DefaultTimeout bounds a single invocation when a capability declares none.
const DefaultTimeout = 20 * time.Second

// InvokeFunc executes a capability with raw JSON arguments that have already
// been validated against the capability's schema.
type InvokeFunc func(ctx context.Context, args json.RawMessage) (string, error)

// Capability is a named external action with a typed argument contract.
type Capability struct {
	// Name is the unique identifier the reasoning engine uses to request it.
	Name string

	// Description is shown to the reasoning engine.
	Description string

	// Schema is the JSON Schema object describing the arguments.
	Schema map[string]any

	// Timeout bounds a single invocation. Zero means [DefaultTimeout].
	Timeout time.Duration

	// Invoke runs the capability. Implementations must respect context
	// cancellation and be safe for concurrent use.
	Invoke InvokeFunc
}

// Definition returns the reasoning-facing description of c.
func (c Capability) Definition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        c.Name,
		Description: c.Description,
		Parameters:  c.Schema,
	}
}

func (c Capability) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

// Option customises a capability built by [New].
type Option func(*Capability)

// WithTimeout sets the per-invocation timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Capability) {
		c.Timeout = d
	}
}

// New builds a typed capability. The argument schema is generated from T and
// arguments are strictly decoded into T before fn is called.
//
// New panics if no schema can be generated for T; argument types are fixed at
// compile time so this is a programming error.
func New[T any](name, description string, fn func(ctx context.Context, args T) (string, error), opts ...Option) Capability {
	schema, err := generateSchema[T]()
	if err != nil {
		panic(fmt.Sprintf("capability: schema for %q: %v", name, err))
	}

	c := Capability{
		Name:        name,
		Description: description,
		Schema:      schema,
		Invoke: func(ctx context.Context, raw json.RawMessage) (string, error) {
			var args T
			if len(bytes.TrimSpace(raw)) > 0 {
				dec := json.NewDecoder(bytes.NewReader(raw))
				dec.DisallowUnknownFields()
				if err := dec.Decode(&args); err != nil {
					return "", fmt.Errorf("%w: %w", ErrInvalidArguments, err)
				}
			}
			return fn(ctx, args)
		},
	}
	for _, o := range opts {
		o(&c)
	}
	return c
}

// ErrInvalidArguments is returned by an [InvokeFunc] whose arguments do not
// decode. The registry reports it as [KindInvalidArguments].
var ErrInvalidArguments = errors.New("invalid arguments")

// Kind classifies a failed [Result].
type Kind string

const (
	// KindNone marks a successful result.
	KindNone Kind = ""

	// KindInvalidArguments marks arguments that did not satisfy the schema.
	KindInvalidArguments Kind = "invalid_arguments"

	// KindProviderError marks a failure inside the capability or its backend.
	KindProviderError Kind = "provider_error"

	// KindUnknownCapability marks a request for a name outside the registry.
	KindUnknownCapability Kind = "unknown_capability"
)

// Result is the outcome of one dispatched request, paired 1:1 with it by
// RequestID.
type Result struct {
	RequestID string
	Name      string
	Content   string
	OK        bool
	Kind      Kind
	Duration  time.Duration
}

// Message converts r into the tool message fed back to the reasoning engine.
func (r Result) Message() llm.Message {
	return llm.Message{
		Role:       llm.RoleTool,
		Content:    r.Content,
		ToolCallID: r.RequestID,
	}
}
