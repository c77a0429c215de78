package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/arbiter/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with automatic failover across multiple
// reasoning backends. Each backend has its own circuit breaker; when the
// primary fails or its breaker is open, the next healthy fallback is tried.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
//
// Unless cfg sets IsFailure, only throttling counts against a backend's
// breaker: a rejected API key or a malformed request must keep reaching the
// caller as a fatal error, never as an open circuit.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	if cfg.CircuitBreaker.IsFailure == nil {
		cfg.CircuitBreaker.IsFailure = IsThrottled
	}
	return &LLMFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional backend.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Backends returns the backend names in failover order.
func (f *LLMFallback) Backends() []string {
	return f.group.Names()
}

// IsThrottled reports whether err is a rate limit. It is the default breaker
// failure predicate of [NewLLMFallback].
func IsThrottled(err error) bool {
	return errors.Is(err, llm.ErrRateLimited)
}

// Complete sends the request to the first healthy backend and returns its
// response. When every breaker is open the error matches both
// [ErrCircuitOpen] and [llm.ErrRateLimited].
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	resp, err := ExecuteWithResult(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
	if errors.Is(err, ErrCircuitOpen) && !errors.Is(err, llm.ErrRateLimited) {
		err = fmt.Errorf("%w: %w", llm.ErrRateLimited, err)
	}
	return resp, err
}

// CountTokens delegates to the first healthy backend's token counter.
func (f *LLMFallback) CountTokens(messages []llm.Message) (int, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (int, error) {
		return p.CountTokens(messages)
	})
}

// Capabilities returns the capabilities of the primary. Capabilities are
// static metadata and do not participate in failover.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	if len(f.group.entries) > 0 {
		return f.group.entries[0].value.Capabilities()
	}
	return llm.ModelCapabilities{}
}

// Healthy reports whether at least one backend's breaker is not open.
func (f *LLMFallback) Healthy() bool {
	for _, name := range f.group.Names() {
		if b := f.group.Breaker(name); b != nil && b.State() != StateOpen {
			return true
		}
	}
	return false
}
