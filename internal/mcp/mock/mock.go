// Package mock provides an in-memory test double for the [mcp.Host]
// interface.
//
// [Host] records every method call and exposes exported fields that control
// what the mock returns. It is safe for concurrent use.
//
// Typical usage:
//
//	h := &mock.Host{
//	    Tools: []capability.Capability{echoCapability},
//	}
//	// inject h into the system under test …
//	if got := h.CallCount("RegisterServer"); got != 1 {
//	    t.Errorf("expected 1 RegisterServer call, got %d", got)
//	}
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/arbiter/internal/capability"
	"github.com/MrWong99/arbiter/internal/mcp"
)

var _ mcp.Host = (*Host)(nil)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// Host is a configurable test double for [mcp.Host].
type Host struct {
	mu    sync.Mutex
	calls []Call

	// RegisterServerErr is returned by [Host.RegisterServer] when non-nil.
	RegisterServerErr error

	// Tools is returned by [Host.Capabilities].
	Tools []capability.Capability

	// ExecuteToolResult is returned by [Host.ExecuteTool] when
	// ExecuteToolErr is nil. When both are nil an empty result is returned.
	ExecuteToolResult *mcp.ToolResult

	// ExecuteToolErr is returned by [Host.ExecuteTool] when non-nil.
	ExecuteToolErr error

	// HealthResult is returned by [Host.Health].
	HealthResult []mcp.ToolHealth

	// CloseErr is returned by [Host.Close] when non-nil.
	CloseErr error
}

func (h *Host) record(method string, args ...any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, Call{Method: method, Args: args})
}

// Calls returns a copy of all recorded calls.
func (h *Host) Calls() []Call {
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.calls)
}

// CallCount returns the number of recorded calls to method.
func (h *Host) CallCount(method string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, c := range h.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Reset clears all recorded calls.
func (h *Host) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = nil
}

// RegisterServer implements [mcp.Host].
func (h *Host) RegisterServer(_ context.Context, cfg mcp.ServerConfig) error {
	h.record("RegisterServer", cfg)
	return h.RegisterServerErr
}

// Capabilities implements [mcp.Host].
func (h *Host) Capabilities() []capability.Capability {
	h.record("Capabilities")
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.Tools)
}

// ExecuteTool implements [mcp.Host].
func (h *Host) ExecuteTool(_ context.Context, name string, args string) (*mcp.ToolResult, error) {
	h.record("ExecuteTool", name, args)
	if h.ExecuteToolErr != nil {
		return nil, h.ExecuteToolErr
	}
	if h.ExecuteToolResult != nil {
		return h.ExecuteToolResult, nil
	}
	return &mcp.ToolResult{}, nil
}

// Health implements [mcp.Host].
func (h *Host) Health() []mcp.ToolHealth {
	h.record("Health")
	h.mu.Lock()
	defer h.mu.Unlock()
	return slices.Clone(h.HealthResult)
}

// Close implements [mcp.Host].
func (h *Host) Close() error {
	h.record("Close")
	return h.CloseErr
}
