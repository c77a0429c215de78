// Package openai provides an LLM provider backed by the OpenAI chat
// completions API. Any OpenAI-compatible endpoint works through [WithBaseURL];
// Groq is served at https://api.groq.com/openai/v1.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
	"github.com/tidwall/gjson"

	"github.com/MrWong99/arbiter/pkg/provider/llm"
)

// GroqBaseURL is the OpenAI-compatible endpoint of Groq.
const GroqBaseURL = "https://api.groq.com/openai/v1"

// reasoningFields are the non-standard message fields in which compatible
// backends return the model's reasoning trace.
var reasoningFields = []string{"reasoning", "reasoning_content"}

// Provider implements llm.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
	name   string
	extra  []option.RequestOption

	counterOnce sync.Once
	counter     *llm.TokenCounter
}

// config holds optional configuration for the provider.
type config struct {
	name            string
	baseURL         string
	organization    string
	timeout         time.Duration
	maxRetries      int
	reasoningFormat string
	httpClient      *http.Client
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) {
		c.organization = org
	}
}

// WithTimeout sets a per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithMaxRetries sets how often the SDK retries transient HTTP failures.
// Zero disables SDK retries.
func WithMaxRetries(n int) Option {
	return func(c *config) {
		c.maxRetries = n
	}
}

// WithReasoningFormat asks compatible backends (Groq) to return reasoning in
// a separate field ("parsed") or hide it ("hidden").
func WithReasoningFormat(format string) Option {
	return func(c *config) {
		c.reasoningFormat = format
	}
}

// WithName sets the provider name used in errors and logs. Default "openai".
func WithName(name string) Option {
	return func(c *config) {
		c.name = name
	}
}

// WithHTTPClient replaces the HTTP client. Useful in tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) {
		c.httpClient = hc
	}
}

// New constructs a new OpenAI LLM Provider.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{name: "openai", maxRetries: -1}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(cfg.timeout))
	}
	if cfg.maxRetries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(cfg.maxRetries))
	}
	if cfg.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.httpClient))
	}

	var extra []option.RequestOption
	if cfg.reasoningFormat != "" {
		extra = append(extra, option.WithJSONSet("reasoning_format", cfg.reasoningFormat))
	}

	client := oai.NewClient(reqOpts...)
	return &Provider{client: client, model: model, name: cfg.name, extra: extra}, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, llm.NewProviderError(p.name, 0, "", fmt.Errorf("build params: %w", err))
	}

	resp, err := p.client.Chat.Completions.New(ctx, params, p.extra...)
	if err != nil {
		return nil, p.classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, llm.NewProviderError(p.name, 0, "", errors.New("empty choices in response"))
	}

	choice := resp.Choices[0]
	content, inline := llm.SplitReasoning(choice.Message.Content)
	result := &llm.CompletionResponse{
		Content:   content,
		Reasoning: llm.JoinReasoning(extractReasoning(choice.Message.RawJSON()), inline),
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, llm.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return result, nil
}

// classify maps SDK errors onto the llm error classes.
func (p *Provider) classify(err error) error {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		return llm.NewProviderError(p.name, apiErr.StatusCode, apiErr.Code, err)
	}
	return llm.ClassifyError(p.name, err)
}

// extractReasoning reads the reasoning trace from the raw message JSON.
func extractReasoning(raw string) string {
	if raw == "" {
		return ""
	}
	for _, field := range reasoningFields {
		if v := gjson.Get(raw, field); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

// CountTokens implements llm.Provider.
// The tokenizer is loaded on first use; when it cannot be loaded the count
// falls back to an estimate.
func (p *Provider) CountTokens(messages []llm.Message) (int, error) {
	p.counterOnce.Do(func() {
		p.counter, _ = llm.NewTokenCounter(p.model)
	})
	return llm.CountOrEstimate(p.counter, messages), nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() llm.ModelCapabilities {
	return modelCapabilities(p.model)
}

// modelCapabilities returns ModelCapabilities for known model names.
func modelCapabilities(model string) llm.ModelCapabilities {
	caps := llm.ModelCapabilities{
		SupportsToolCalling: true,
		ContextWindow:       128_000,
		MaxOutputTokens:     4_096,
	}

	lower := strings.ToLower(model)
	switch {
	case strings.HasPrefix(lower, "qwen/qwen3"):
		caps.ContextWindow = 131_072
		caps.MaxOutputTokens = 40_960
		caps.SupportsReasoning = true
	case strings.HasPrefix(lower, "llama-3.1-8b"):
		caps.ContextWindow = 131_072
		caps.MaxOutputTokens = 131_072
	case strings.HasPrefix(lower, "gpt-4o"):
		caps.MaxOutputTokens = 16_384
	case strings.HasPrefix(lower, "gpt-4.1"):
		caps.ContextWindow = 1_047_576
		caps.MaxOutputTokens = 32_768
	case strings.HasPrefix(lower, "o3"), strings.HasPrefix(lower, "o4"):
		caps.ContextWindow = 200_000
		caps.MaxOutputTokens = 100_000
		caps.SupportsReasoning = true
	}
	return caps
}

// buildParams converts a CompletionRequest into OpenAI SDK params.
func (p *Provider) buildParams(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	var messages []oai.ChatCompletionMessageParamUnion

	if req.SystemPrompt != "" {
		messages = append(messages, oai.SystemMessage(req.SystemPrompt))
	}

	for _, m := range req.Messages {
		msg, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		messages = append(messages, msg)
	}

	params := oai.ChatCompletionNewParams{
		Model:       shared.ChatModel(p.model),
		Messages:    messages,
		Temperature: param.NewOpt(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}

	for _, td := range req.Tools {
		params.Tools = append(params.Tools, oai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        td.Name,
				Description: param.NewOpt(td.Description),
				Parameters:  shared.FunctionParameters(td.Parameters),
			},
		})
	}
	if len(params.Tools) > 0 {
		// One capability per round is enforced by the orchestrator as well.
		params.ParallelToolCalls = param.NewOpt(false)
	}

	return params, nil
}

// convertMessage converts an llm.Message to an OpenAI SDK message param.
func convertMessage(m llm.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case llm.RoleSystem:
		return oai.SystemMessage(m.Content), nil

	case llm.RoleUser:
		return oai.UserMessage(m.Content), nil

	case llm.RoleAssistant:
		asst := oai.ChatCompletionAssistantMessageParam{}
		if m.Content != "" {
			asst.Content.OfString = oai.String(m.Content)
		}
		for _, tc := range m.ToolCalls {
			asst.ToolCalls = append(asst.ToolCalls, oai.ChatCompletionMessageToolCallParam{
				ID: tc.ID,
				Function: oai.ChatCompletionMessageToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		return oai.ChatCompletionMessageParamUnion{OfAssistant: &asst}, nil

	case llm.RoleTool:
		return oai.ToolMessage(m.Content, m.ToolCallID), nil

	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unknown message role %q", m.Role)
	}
}
