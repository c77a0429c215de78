package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/arbiter/pkg/provider/llm"
	llmmock "github.com/MrWong99/arbiter/pkg/provider/llm/mock"
)

func TestLLMFallback_Complete_PrimarySuccess(t *testing.T) {
	primary := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "hello from primary"},
	}
	secondary := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "hello from secondary"},
	}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	resp, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hello from primary" {
		t.Fatalf("content = %q, want 'hello from primary'", resp.Content)
	}
	if len(primary.CompleteCalls) != 1 {
		t.Fatalf("primary called %d times, want 1", len(primary.CompleteCalls))
	}
	if len(secondary.CompleteCalls) != 0 {
		t.Fatalf("secondary called %d times, want 0", len(secondary.CompleteCalls))
	}
}

func TestLLMFallback_Complete_Failover(t *testing.T) {
	primary := &llmmock.Provider{
		CompleteErr: errors.New("primary down"),
	}
	secondary := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "hello from secondary"},
	}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	resp, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "hello from secondary" {
		t.Fatalf("content = %q, want 'hello from secondary'", resp.Content)
	}
}

func TestLLMFallback_Complete_AllFail(t *testing.T) {
	primary := &llmmock.Provider{CompleteErr: errors.New("primary down")}
	secondary := &llmmock.Provider{CompleteErr: errors.New("secondary down")}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	_, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestLLMFallback_Complete_RateLimitedPrimaryFailsOver(t *testing.T) {
	primary := &llmmock.Provider{
		CompleteErr: llm.NewProviderError("groq", 429, "rate_limit_exceeded", errors.New("slow down")),
	}
	secondary := &llmmock.Provider{
		CompleteResponse: &llm.CompletionResponse{Content: "from ollama"},
	}

	fb := NewLLMFallback(primary, "groq", FallbackConfig{})
	fb.AddFallback("ollama", secondary)

	resp, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Content != "from ollama" {
		t.Fatalf("content = %q, want 'from ollama'", resp.Content)
	}
	if got := fb.Backends(); len(got) != 2 || got[0] != "groq" {
		t.Fatalf("Backends() = %v", got)
	}
}

func TestLLMFallback_Complete_AllFailKeepsClassification(t *testing.T) {
	primary := &llmmock.Provider{
		CompleteErr: llm.NewProviderError("groq", 401, "", errors.New("bad key")),
	}
	secondary := &llmmock.Provider{
		CompleteErr: llm.NewProviderError("ollama", 429, "", errors.New("busy")),
	}

	fb := NewLLMFallback(primary, "groq", FallbackConfig{})
	fb.AddFallback("ollama", secondary)

	_, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if !errors.Is(err, llm.ErrRateLimited) {
		t.Fatalf("err = %v, want the last backend's rate limit to survive wrapping", err)
	}
}

func TestLLMFallback_CountTokens(t *testing.T) {
	primary := &llmmock.Provider{TokenCount: 42}
	secondary := &llmmock.Provider{TokenCount: 7}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	count, err := fb.CountTokens([]llm.Message{{Role: "user", Content: "test"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if count != 42 {
		t.Fatalf("count = %d, want 42", count)
	}
}

func TestLLMFallback_Capabilities(t *testing.T) {
	primary := &llmmock.Provider{
		ModelCapabilities: llm.ModelCapabilities{
			ContextWindow:       128000,
			SupportsToolCalling: true,
		},
	}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})

	caps := fb.Capabilities()
	if caps.ContextWindow != 128000 {
		t.Fatalf("ContextWindow = %d, want 128000", caps.ContextWindow)
	}
	if !caps.SupportsToolCalling {
		t.Fatal("SupportsToolCalling should be true")
	}
}

func TestLLMFallback_Healthy(t *testing.T) {
	primary := &llmmock.Provider{CompleteErr: llm.NewProviderError("p", 429, "", errors.New("busy"))}
	secondary := &llmmock.Provider{CompleteErr: llm.NewProviderError("s", 429, "", errors.New("busy"))}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1},
	})
	fb.AddFallback("secondary", secondary)

	if !fb.Healthy() {
		t.Fatal("fresh fallback should be healthy")
	}
	_, _ = fb.Complete(context.Background(), llm.CompletionRequest{})
	if fb.Healthy() {
		t.Error("all breakers open, want unhealthy")
	}
}

func TestLLMFallback_FatalErrorsKeepBreakerClosed(t *testing.T) {
	const maxFailures = 3
	primary := &llmmock.Provider{
		CompleteErr: llm.NewProviderError("groq", 401, "invalid_api_key", errors.New("bad key")),
	}

	fb := NewLLMFallback(primary, "groq", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: maxFailures},
	})

	for i := range maxFailures + 2 {
		_, err := fb.Complete(context.Background(), llm.CompletionRequest{})
		if !errors.Is(err, llm.ErrProviderFatal) {
			t.Fatalf("call %d: err = %v, want ErrProviderFatal", i+1, err)
		}
		if errors.Is(err, ErrCircuitOpen) || errors.Is(err, llm.ErrRateLimited) {
			t.Fatalf("call %d: err = %v, fatal failure reported as throttling", i+1, err)
		}
		if got := Classify(err); got != ClassFatal {
			t.Fatalf("call %d: Classify() = %v, want fatal", i+1, got)
		}
	}
	if got := len(primary.CompleteCalls); got != maxFailures+2 {
		t.Errorf("primary called %d times, want %d", got, maxFailures+2)
	}
	if !fb.Healthy() {
		t.Error("fatal failures must not open the breaker")
	}
}

func TestLLMFallback_ThrottlingOpensBreaker(t *testing.T) {
	primary := &llmmock.Provider{
		CompleteErr: llm.NewProviderError("groq", 429, "rate_limit_exceeded", errors.New("slow down")),
	}

	fb := NewLLMFallback(primary, "groq", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1},
	})

	if _, err := fb.Complete(context.Background(), llm.CompletionRequest{}); !errors.Is(err, llm.ErrRateLimited) {
		t.Fatalf("first call: err = %v, want ErrRateLimited", err)
	}
	_, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if !errors.Is(err, ErrCircuitOpen) || !errors.Is(err, llm.ErrRateLimited) {
		t.Fatalf("second call: err = %v, want an open circuit marked as rate limited", err)
	}
	if errors.Is(err, llm.ErrProviderFatal) {
		t.Fatalf("second call: err = %v, must not be fatal", err)
	}
	if got := len(primary.CompleteCalls); got != 1 {
		t.Errorf("primary called %d times, want 1", got)
	}
}

func TestLLMFallback_OpenFallbackDoesNotMaskFatalPrimary(t *testing.T) {
	primary := &llmmock.Provider{
		CompleteErr: llm.NewProviderError("groq", 401, "", errors.New("bad key")),
	}
	secondary := &llmmock.Provider{
		CompleteErr: llm.NewProviderError("ollama", 429, "", errors.New("busy")),
	}

	fb := NewLLMFallback(primary, "groq", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1},
	})
	fb.AddFallback("ollama", secondary)

	// The first call opens the fallback's breaker.
	_, _ = fb.Complete(context.Background(), llm.CompletionRequest{})

	_, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if !errors.Is(err, llm.ErrProviderFatal) {
		t.Fatalf("err = %v, want the primary's fatal error", err)
	}
	if errors.Is(err, llm.ErrRateLimited) {
		t.Fatalf("err = %v, skipped fallback reported as throttling", err)
	}
	if got := len(secondary.CompleteCalls); got != 1 {
		t.Errorf("secondary called %d times, want 1", got)
	}
}
