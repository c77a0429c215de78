// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify the CompletionRequests the core sends
// and to feed controlled responses without a live backend. Responses can be a
// fixed reply (CompleteResponse/CompleteErr) or a script consumed in order
// (Script); when the script is exhausted the fixed reply is used.
//
// Example:
//
//	p := &mock.Provider{
//	    Script: []mock.Step{
//	        {Response: &llm.CompletionResponse{ToolCalls: []llm.ToolCall{{ID: "1", Name: "adder", Arguments: `{"a":7,"b":5}`}}}},
//	        {Response: &llm.CompletionResponse{Content: "7 plus 5 is 12."}},
//	    },
//	}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/arbiter/pkg/provider/llm"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Ctx is the context passed to Complete.
	Ctx context.Context
	// Req is the CompletionRequest passed to Complete.
	Req llm.CompletionRequest
}

// Step is one scripted reply. Exactly one of Response or Err should be set.
type Step struct {
	Response *llm.CompletionResponse
	Err      error
}

// Provider is a mock implementation of llm.Provider.
// Zero values cause methods to return zero values and nil errors.
type Provider struct {
	mu sync.Mutex

	// Script is consumed one step per Complete call, in order.
	Script []Step

	// CompleteFunc, if set, computes the reply for every call and takes
	// precedence over Script and the fixed reply.
	CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)

	// CompleteResponse is returned by Complete once Script is exhausted.
	CompleteResponse *llm.CompletionResponse

	// CompleteErr, if non-nil, is returned once Script is exhausted.
	CompleteErr error

	// TokenCount is returned by CountTokens.
	TokenCount int

	// ModelCapabilities is returned by Capabilities.
	ModelCapabilities llm.ModelCapabilities

	// CompleteCalls records every invocation of Complete in order.
	CompleteCalls []CompleteCall

	next int
}

var _ llm.Provider = (*Provider)(nil)

// Complete records the call and returns the next scripted step, or the fixed
// reply when the script is exhausted.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	fn := p.CompleteFunc
	if fn == nil && p.next < len(p.Script) {
		step := p.Script[p.next]
		p.next++
		p.mu.Unlock()
		return step.Response, step.Err
	}
	resp, err := p.CompleteResponse, p.CompleteErr
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// CountTokens returns TokenCount.
func (p *Provider) CountTokens(_ []llm.Message) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.TokenCount, nil
}

// Capabilities returns ModelCapabilities.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelCapabilities
}

// Calls returns a copy of the recorded Complete calls.
func (p *Provider) Calls() []CompleteCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]CompleteCall, len(p.CompleteCalls))
	copy(out, p.CompleteCalls)
	return out
}

// Reset clears recorded calls and rewinds the script.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CompleteCalls = nil
	p.next = 0
}
