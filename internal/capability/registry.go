package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/MrWong99/arbiter/internal/observe"
	"github.com/MrWong99/arbiter/pkg/provider/llm"
)

// ErrUnknownCapability is returned by [Registry.Dispatch] when the requested
// name is not registered. The capability is never reached.
var ErrUnknownCapability = errors.New("capability: unknown capability")

// UnknownError describes a request for an unregistered name.
type UnknownError struct {
	Name string

	// Suggestion is the closest registered name, or "".
	Suggestion string
}

func (e *UnknownError) Error() string {
	if e.Suggestion != "" {
		return fmt.Sprintf("capability: unknown capability %q (did you mean %q?)", e.Name, e.Suggestion)
	}
	return fmt.Sprintf("capability: unknown capability %q", e.Name)
}

// Is reports whether target is [ErrUnknownCapability].
func (e *UnknownError) Is(target error) bool {
	return target == ErrUnknownCapability
}

// Registry is the closed set of capabilities available to the reasoning
// engine. It is immutable after construction and safe for concurrent use.
type Registry struct {
	caps    map[string]Capability
	schemas map[string]*jsonschema.Resolved
	names   []string
	defs    []llm.ToolDefinition
}

// NewRegistry builds a registry from caps. Names must be non-empty and
// unique, and every capability must have an Invoke function.
//
// Argument schemas are resolved once here. A schema that cannot be resolved
// disables argument validation for that capability only; its own decoding
// still rejects bad input.
func NewRegistry(caps ...Capability) (*Registry, error) {
	r := &Registry{
		caps:    make(map[string]Capability, len(caps)),
		schemas: make(map[string]*jsonschema.Resolved, len(caps)),
	}
	var errs []error
	for i, c := range caps {
		switch {
		case c.Name == "":
			errs = append(errs, fmt.Errorf("capability[%d]: name must not be empty", i))
			continue
		case c.Invoke == nil:
			errs = append(errs, fmt.Errorf("capability %q: invoke function must not be nil", c.Name))
			continue
		}
		if _, dup := r.caps[c.Name]; dup {
			errs = append(errs, fmt.Errorf("capability %q: registered twice", c.Name))
			continue
		}
		if c.Schema == nil {
			c.Schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		if rs, err := resolveSchema(c.Schema); err != nil {
			slog.Warn("capability schema not usable for validation", "capability", c.Name, "err", err)
		} else {
			r.schemas[c.Name] = rs
		}
		r.caps[c.Name] = c
		r.names = append(r.names, c.Name)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("capability: build registry: %w", err)
	}

	slices.Sort(r.names)
	r.defs = make([]llm.ToolDefinition, 0, len(r.names))
	for _, n := range r.names {
		r.defs = append(r.defs, r.caps[n].Definition())
	}
	return r, nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	return slices.Clone(r.names)
}

// Len returns the number of registered capabilities.
func (r *Registry) Len() int {
	return len(r.names)
}

// Lookup returns the capability registered under name.
func (r *Registry) Lookup(name string) (Capability, bool) {
	c, ok := r.caps[name]
	return c, ok
}

// Definitions returns the reasoning-facing definitions sorted by name.
func (r *Registry) Definitions() []llm.ToolDefinition {
	return slices.Clone(r.defs)
}

// Dispatch validates and invokes one request.
//
// A request for an unregistered name returns an error matching
// [ErrUnknownCapability] together with a failed Result that can be fed back
// to the reasoning engine. Invalid arguments and capability failures never
// produce an error; they are reported in the Result with OK false.
func (r *Registry) Dispatch(ctx context.Context, call llm.ToolCall) (Result, error) {
	start := time.Now()
	res := Result{RequestID: call.ID, Name: call.Name}

	c, ok := r.caps[call.Name]
	if !ok {
		uerr := &UnknownError{Name: call.Name, Suggestion: suggest(call.Name, r.names)}
		res.Kind = KindUnknownCapability
		res.Content = unknownMessage(uerr, r.names)
		return res, uerr
	}

	params, err := parseArguments(call.Arguments)
	if err == nil {
		err = validateArguments(params, r.schemas[c.Name])
	}
	if err != nil {
		res.Kind = KindInvalidArguments
		res.Content = fmt.Sprintf("Invalid arguments for %s: %v. Correct the arguments and request it again.", c.Name, err)
		res.Duration = time.Since(start)
		return res, nil
	}

	out, err := r.invoke(ctx, c, json.RawMessage(normalizeArguments(call.Arguments)))
	res.Duration = time.Since(start)
	switch {
	case err == nil:
		res.OK = true
		res.Content = out
	case errors.Is(err, ErrInvalidArguments):
		res.Kind = KindInvalidArguments
		res.Content = fmt.Sprintf("Invalid arguments for %s: %v. Correct the arguments and request it again.", c.Name, err)
	default:
		res.Kind = KindProviderError
		res.Content = fmt.Sprintf("%s failed: %v. You may retry with different arguments or answer without it.", c.Name, err)
	}

	observe.Logger(ctx).Debug("capability dispatched",
		"capability", c.Name,
		"request_id", call.ID,
		"ok", res.OK,
		"kind", string(res.Kind),
		"duration", res.Duration,
	)
	return res, nil
}

// invoke runs c under its timeout and converts panics into errors.
func (r *Registry) invoke(ctx context.Context, c Capability, args json.RawMessage) (out string, err error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	out, err = c.Invoke(ctx, args)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("timed out after %s: %w", c.timeout(), err)
	}
	return out, err
}

func normalizeArguments(raw string) string {
	if len(raw) == 0 {
		return "{}"
	}
	return raw
}

func unknownMessage(e *UnknownError, names []string) string {
	msg := fmt.Sprintf("No capability named %q exists.", e.Name)
	if e.Suggestion != "" {
		msg += fmt.Sprintf(" Did you mean %q?", e.Suggestion)
	}
	if len(names) > 0 {
		msg += fmt.Sprintf(" Available: %v.", names)
	}
	return msg
}
