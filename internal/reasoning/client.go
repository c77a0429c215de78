// Package reasoning wraps an [llm.Provider] into the decision call used by the
// orchestration loop.
//
// A [Client] prepends the current [Policy] as system prompt, applies the
// sampling parameters, bounds each call with a timeout and retries rate-limited
// calls with exponential backoff. Failures keep their classification:
// callers test them with errors.Is against [llm.ErrRateLimited] and
// [llm.ErrProviderFatal].
package reasoning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/MrWong99/arbiter/internal/observe"
	"github.com/MrWong99/arbiter/pkg/provider/llm"
)

// Defaults for a [Client].
const (
	DefaultMaxTokens  = 2000
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 2
)

// ErrTimeout marks a reasoning call that exceeded its per-call timeout. It is
// always reported together with [llm.ErrProviderFatal].
var ErrTimeout = errors.New("reasoning: call timed out")

// Option configures a [Client].
type Option func(*Client)

// WithPolicy sets the policy whose prompt is prepended to every decision.
func WithPolicy(p *Policy) Option {
	return func(c *Client) {
		if p != nil {
			c.policy = p
		}
	}
}

// WithTemperature sets the sampling temperature. The default is 0.
func WithTemperature(t float64) Option {
	return func(c *Client) { c.temperature = t }
}

// WithMaxTokens caps completion tokens. Non-positive values are ignored.
func WithMaxTokens(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithTimeout sets the per-attempt timeout. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMaxRetries sets how many times a rate-limited call is retried.
// Negative values are ignored.
func WithMaxRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithBackOff sets the factory for the retry schedule. Each call gets a fresh
// schedule.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(c *Client) {
		if fn != nil {
			c.newBackOff = fn
		}
	}
}

// WithMetrics records call latency and provider outcomes on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithProviderName labels metrics and logs. The default is "llm".
func WithProviderName(name string) Option {
	return func(c *Client) {
		if name != "" {
			c.providerName = name
		}
	}
}

// Client issues reasoning calls. It is safe for concurrent use.
type Client struct {
	provider     llm.Provider
	policy       *Policy
	providerName string
	temperature  float64
	maxTokens    int
	timeout      time.Duration
	maxRetries   int
	newBackOff   func() backoff.BackOff
	metrics      *observe.Metrics
}

// New creates a Client for provider.
func New(provider llm.Provider, opts ...Option) (*Client, error) {
	if provider == nil {
		return nil, errors.New("reasoning: provider must not be nil")
	}
	c := &Client{
		provider:     provider,
		policy:       DefaultPolicy(),
		providerName: "llm",
		maxTokens:    DefaultMaxTokens,
		timeout:      DefaultTimeout,
		maxRetries:   DefaultMaxRetries,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = time.Second
			b.MaxInterval = 8 * time.Second
			return b
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Policy returns the policy the client prepends to decisions.
func (c *Client) Policy() *Policy {
	return c.policy
}

// Decide asks the reasoning engine for the next step given the transcript and
// the offered capabilities. The returned message is an assistant message whose
// ToolCalls are the requested capabilities, in order, or whose Content is the
// final answer.
func (c *Client) Decide(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (llm.Message, error) {
	return c.call(ctx, "decide", c.policy.Prompt(), messages, tools)
}

// Instruct runs a single tool-less call with instruction as system prompt.
// It shares the retry, timeout and classification behaviour of Decide.
func (c *Client) Instruct(ctx context.Context, instruction string, messages []llm.Message) (llm.Message, error) {
	return c.call(ctx, "instruct", instruction, messages, nil)
}

func (c *Client) call(ctx context.Context, op, system string, messages []llm.Message, tools []llm.ToolDefinition) (llm.Message, error) {
	if len(messages) == 0 {
		return llm.Message{}, fmt.Errorf("reasoning: %s: %w: no messages", op, llm.ErrProviderFatal)
	}
	req := llm.CompletionRequest{
		Messages:     messages,
		Tools:        tools,
		Temperature:  c.temperature,
		MaxTokens:    c.maxTokens,
		SystemPrompt: system,
	}
	log := observe.Logger(ctx)
	if log.Enabled(ctx, slog.LevelDebug) {
		if n, err := c.provider.CountTokens(messages); err == nil {
			log.Debug("reasoning call", "op", op, "messages", len(messages), "tools", len(tools), "prompt_tokens_estimate", n)
		}
	}

	attempt := 0
	operation := func() (*llm.CompletionResponse, error) {
		attempt++
		resp, err := c.attempt(ctx, op, req)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil || !errors.Is(err, llm.ErrRateLimited) {
			return nil, backoff.Permanent(err)
		}
		return nil, err
	}
	resp, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(c.newBackOff()),
		backoff.WithMaxTries(uint(c.maxRetries+1)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			log.Warn("reasoning call rate limited, retrying", "op", op, "attempt", attempt, "wait", wait, "err", err)
		}),
	)
	if err != nil {
		if !errors.Is(err, llm.ErrRateLimited) && !errors.Is(err, llm.ErrProviderFatal) {
			err = fmt.Errorf("%w: %w", llm.ErrProviderFatal, err)
		}
		return llm.Message{}, fmt.Errorf("reasoning: %s: %w", op, err)
	}

	msg := resp.Message()
	content, inline := llm.SplitReasoning(msg.Content)
	msg.Content = content
	msg.Reasoning = llm.JoinReasoning(msg.Reasoning, inline)
	return msg, nil
}

// attempt performs one bounded provider call.
func (c *Client) attempt(ctx context.Context, op string, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.provider.Complete(callCtx, req)
	elapsed := time.Since(start)

	if err == nil && resp == nil {
		err = llm.NewProviderError(c.providerName, 0, "", errors.New("empty response"))
	}
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		err = fmt.Errorf("%w after %s: %w: %w", ErrTimeout, c.timeout, llm.ErrProviderFatal, err)
	}
	if c.metrics != nil {
		c.metrics.RecordLLMCall(ctx, op, elapsed)
		status := "ok"
		if err != nil {
			status = "error"
			kind := "fatal"
			if errors.Is(err, llm.ErrRateLimited) {
				kind = "rate_limited"
			}
			c.metrics.RecordProviderError(ctx, c.providerName, kind)
		}
		c.metrics.RecordProviderRequest(ctx, c.providerName, op, status)
	}
	return resp, err
}
