package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/MrWong99/arbiter/internal/observe"
	"github.com/MrWong99/arbiter/internal/resilience"
	"github.com/MrWong99/arbiter/pkg/provider/llm"
)

// DefaultMaxSummaryChars caps the running summary, in runes.
const DefaultMaxSummaryChars = 4000

// compressionPrompt is the instruction sent with every compression call.
const compressionPrompt = `You maintain the running summary of a conversation between a user and an assistant.
You receive the previous summary and the latest exchange. Return an updated summary that keeps:
the user's goals and stated preferences, facts and figures the assistant provided, open questions and pending clarifications.
Drop greetings and filler. Write plain prose in the third person, at most a few short paragraphs. Return only the summary.`

// Compressor folds the latest exchange into the running summary.
//
// Compress never fails: on any problem it returns oldSummary unchanged.
type Compressor interface {
	Compress(ctx context.Context, oldSummary, query, answer string) string
}

// CompressorFunc adapts a function to [Compressor].
type CompressorFunc func(ctx context.Context, oldSummary, query, answer string) string

// Compress implements [Compressor].
func (f CompressorFunc) Compress(ctx context.Context, oldSummary, query, answer string) string {
	return f(ctx, oldSummary, query, answer)
}

// Instructor runs a single tool-less call against the reasoning engine.
// *reasoning.Client implements it.
type Instructor interface {
	Instruct(ctx context.Context, instruction string, messages []llm.Message) (llm.Message, error)
}

// CompressorOption configures an [LLMCompressor].
type CompressorOption func(*LLMCompressor)

// WithMaxSummaryChars caps the summary length. Non-positive values are ignored.
func WithMaxSummaryChars(n int) CompressorOption {
	return func(c *LLMCompressor) {
		if n > 0 {
			c.maxChars = n
		}
	}
}

// WithMetrics counts compression failures by degradation class. The outcome
// is the same for every class: the old summary is kept.
func WithMetrics(m *observe.Metrics) CompressorOption {
	return func(c *LLMCompressor) { c.metrics = m }
}

// LLMCompressor asks the reasoning engine to rewrite the summary.
type LLMCompressor struct {
	inst     Instructor
	metrics  *observe.Metrics
	maxChars int
}

// NewLLMCompressor creates an [LLMCompressor] backed by inst.
func NewLLMCompressor(inst Instructor, opts ...CompressorOption) *LLMCompressor {
	c := &LLMCompressor{inst: inst, maxChars: DefaultMaxSummaryChars}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Compress implements [Compressor].
func (c *LLMCompressor) Compress(ctx context.Context, oldSummary, query, answer string) string {
	resp, err := c.inst.Instruct(ctx, compressionPrompt, []llm.Message{
		{Role: llm.RoleUser, Content: formatExchange(oldSummary, query, answer)},
	})
	if err != nil {
		class := resilience.Classify(err)
		if c.metrics != nil {
			c.metrics.RecordDegradation(ctx, "compress", class.String())
		}
		observe.Logger(ctx).Warn("summary compression failed, keeping previous summary", "class", class.String(), "err", err)
		return oldSummary
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return oldSummary
	}
	return truncateRunes(summary, c.maxChars)
}

func formatExchange(oldSummary, query, answer string) string {
	if oldSummary == "" {
		oldSummary = "(none)"
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Previous summary:\n%s\n\n", oldSummary)
	fmt.Fprintf(&sb, "Latest exchange:\n[user]: %s\n[assistant]: %s\n", query, answer)
	return sb.String()
}
