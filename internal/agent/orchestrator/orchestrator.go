// Package orchestrator drives one conversation turn to a final answer.
//
// Each round asks the reasoning engine for a decision. A decision without
// capability requests ends the turn; otherwise exactly the first requested
// capability is dispatched, its result is appended as a tool message and the
// next round starts. Additional requests in the same round are recorded and
// ignored. A decision with no visible content is asked again once before a
// fallback answer is used. The loop is bounded by a round cap.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/arbiter/internal/capability"
	"github.com/MrWong99/arbiter/internal/observe"
	"github.com/MrWong99/arbiter/internal/resilience"
	"github.com/MrWong99/arbiter/pkg/provider/llm"
)

// Round cap bounds.
const (
	DefaultMaxRounds = 8
	MaxRoundsLimit   = 16
)

// RoundLimitText is the answer returned when the round cap is hit.
const RoundLimitText = "I was unable to resolve this within the allowed number of steps. Please try rephrasing or narrowing your question."

// EmptyAnswerText is the answer returned when the reasoning engine twice ends
// a turn without any visible content.
const EmptyAnswerText = "I could not produce an answer to that. Please try rephrasing your question."

// emptyAnswerNudge asks for a visible answer after a decision that carried
// only reasoning.
const emptyAnswerNudge = "Your previous reply contained no answer. Reply to the user's last message now."

// ErrRoundLimitExceeded is recorded in the diagnostic trace when a turn hits
// the round cap. RunTurn does not return it.
var ErrRoundLimitExceeded = errors.New("orchestrator: round limit exceeded")

// State is the loop state of a turn.
type State int

const (
	StateAwaitingDecision State = iota
	StateDispatching
	StateDone
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateAwaitingDecision:
		return "AWAITING_DECISION"
	case StateDispatching:
		return "DISPATCHING"
	case StateDone:
		return "DONE"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// RequestStatus tells whether a capability request was acted on.
type RequestStatus string

const (
	StatusDispatched RequestStatus = "dispatched"
	StatusIgnored    RequestStatus = "ignored"
)

// CapabilityRequest is one capability request made during a turn.
type CapabilityRequest struct {
	Round     int             `json:"round"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments string          `json:"arguments"`
	Status    RequestStatus   `json:"status"`
	OK        bool            `json:"ok"`
	Kind      capability.Kind `json:"kind,omitempty"`
}

// Response is the outcome of a turn.
type Response struct {
	// FinalText is the answer shown to the user.
	FinalText string

	// CapabilityRequests lists every request of every round, in order,
	// ignored ones included.
	CapabilityRequests []CapabilityRequest

	// DiagnosticTrace joins the reasoning text of all rounds and loop notes
	// with blank lines. Never shown as part of an answer.
	DiagnosticTrace string

	// Intermediate holds the assistant tool-call and tool result messages
	// produced by the turn.
	Intermediate []llm.Message

	// Rounds is the number of decision rounds started.
	Rounds int

	// State is the terminal state, StateDone or StateFailed.
	State State

	// Degraded is set when the answer is the canned rate limit text.
	Degraded bool
}

// Decider produces the next decision. *reasoning.Client implements it.
type Decider interface {
	Decide(ctx context.Context, messages []llm.Message, tools []llm.ToolDefinition) (llm.Message, error)
}

// Dispatcher validates and runs capability requests. *capability.Registry
// implements it.
type Dispatcher interface {
	Definitions() []llm.ToolDefinition
	Dispatch(ctx context.Context, call llm.ToolCall) (capability.Result, error)
}

// Option configures an [Orchestrator] during construction.
type Option func(*Orchestrator)

// WithMaxRounds sets the round cap. The default is 8; values outside
// [1, 16] make [New] fail.
func WithMaxRounds(n int) Option {
	return func(o *Orchestrator) { o.maxRounds = n }
}

// WithDegrader sets the handler for reasoning failures. The default handler
// uses [resilience.DefaultDegradedText].
func WithDegrader(d *resilience.Degrader) Option {
	return func(o *Orchestrator) {
		if d != nil {
			o.degrader = d
		}
	}
}

// WithMetrics records turns and dispatches on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// Orchestrator runs turns. It holds no per-conversation state and is safe
// for concurrent use when its collaborators are.
type Orchestrator struct {
	decider   Decider
	registry  Dispatcher
	degrader  *resilience.Degrader
	maxRounds int
	metrics   *observe.Metrics
}

// New creates an Orchestrator.
func New(decider Decider, registry Dispatcher, opts ...Option) (*Orchestrator, error) {
	if decider == nil {
		return nil, errors.New("orchestrator: decider must not be nil")
	}
	if registry == nil {
		return nil, errors.New("orchestrator: registry must not be nil")
	}
	o := &Orchestrator{
		decider:   decider,
		registry:  registry,
		degrader:  resilience.NewDegrader(),
		maxRounds: DefaultMaxRounds,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.maxRounds < 1 || o.maxRounds > MaxRoundsLimit {
		return nil, fmt.Errorf("orchestrator: max rounds %d out of range [1, %d]", o.maxRounds, MaxRoundsLimit)
	}
	return o, nil
}

// MaxRounds returns the round cap.
func (o *Orchestrator) MaxRounds() int {
	return o.maxRounds
}

// RunTurn drives messages to a final answer.
//
// Capability failures are fed back to the reasoning engine and never abort
// the turn. A rate-limited reasoning call ends the turn with the degraded
// text. Any other reasoning failure is returned as an error matching
// [llm.ErrProviderFatal], without a response.
func (o *Orchestrator) RunTurn(ctx context.Context, messages []llm.Message) (*Response, error) {
	if len(messages) == 0 {
		return nil, errors.New("orchestrator: no messages")
	}
	start := time.Now()
	log := observe.Logger(ctx)

	transcript := slices.Clone(messages)
	tools := o.registry.Definitions()
	resp := &Response{State: StateAwaitingDecision}
	var notes []string

	for round := 1; resp.State != StateDone && resp.State != StateFailed; round++ {
		if round > o.maxRounds {
			resp.State = StateFailed
			resp.FinalText = RoundLimitText
			notes = append(notes, fmt.Sprintf("%v after %d rounds", ErrRoundLimitExceeded, o.maxRounds))
			log.Warn("turn hit round limit", "max_rounds", o.maxRounds)
			break
		}
		resp.Rounds = round

		var err error
		transcript, notes, err = o.runRound(ctx, round, transcript, tools, resp, notes)
		if err != nil {
			o.recordTurn(ctx, "error", resp.Rounds, start)
			return nil, err
		}
	}

	resp.DiagnosticTrace = llm.JoinReasoning(notes...)
	resp.Intermediate = slices.Clone(transcript[len(messages):])

	outcome := "done"
	switch {
	case resp.Degraded:
		outcome = "degraded"
	case resp.State == StateFailed:
		outcome = "failed"
	}
	o.recordTurn(ctx, outcome, resp.Rounds, start)
	log.Debug("turn finished", "state", resp.State.String(), "rounds", resp.Rounds, "requests", len(resp.CapabilityRequests))
	return resp, nil
}

// runRound performs one AWAITING_DECISION step and, when requested, the
// following DISPATCHING step. It updates resp.State.
func (o *Orchestrator) runRound(ctx context.Context, round int, transcript []llm.Message, tools []llm.ToolDefinition, resp *Response, notes []string) ([]llm.Message, []string, error) {
	ctx, span := observe.StartSpan(ctx, "orchestrator.round",
		trace.WithAttributes(attribute.Int("round", round)),
	)
	defer span.End()

	decision, err := o.decider.Decide(ctx, transcript, tools)
	if err != nil {
		span.RecordError(err)
		text, fatal := o.degrader.Absorb(ctx, "decide", err)
		if fatal != nil {
			span.SetStatus(codes.Error, "reasoning failed")
			return transcript, notes, fmt.Errorf("orchestrator: round %d: %w", round, fatal)
		}
		resp.FinalText = text
		resp.Degraded = true
		resp.State = StateDone
		notes = append(notes, fmt.Sprintf("round %d: reasoning rate limited, answered with degraded text", round))
		return transcript, notes, nil
	}
	notes = append(notes, decision.Reasoning)

	if !decision.HasToolCalls() {
		if strings.TrimSpace(decision.Content) != "" {
			resp.FinalText = decision.Content
			resp.State = StateDone
			return transcript, notes, nil
		}
		if last := transcript[len(transcript)-1]; last.Role == llm.RoleUser && last.Content == emptyAnswerNudge {
			resp.FinalText = EmptyAnswerText
			resp.State = StateDone
			notes = append(notes, fmt.Sprintf("round %d: empty answer after retry, answered with fallback text", round))
			return transcript, notes, nil
		}
		notes = append(notes, fmt.Sprintf("round %d: empty answer, asking again", round))
		transcript = append(transcript, llm.Message{Role: llm.RoleUser, Content: emptyAnswerNudge})
		return transcript, notes, nil
	}

	resp.State = StateDispatching
	call := decision.ToolCalls[0]
	if call.ID == "" {
		call.ID = fmt.Sprintf("call_%d", round)
	}
	span.SetAttributes(attribute.String("capability", call.Name))

	reqIndex := len(resp.CapabilityRequests)
	resp.CapabilityRequests = append(resp.CapabilityRequests, CapabilityRequest{
		Round:     round,
		ID:        call.ID,
		Name:      call.Name,
		Arguments: call.Arguments,
		Status:    StatusDispatched,
	})
	if extra := decision.ToolCalls[1:]; len(extra) > 0 {
		names := make([]string, len(extra))
		for i, tc := range extra {
			if tc.ID == "" {
				tc.ID = fmt.Sprintf("call_%d_%d", round, i+2)
			}
			names[i] = tc.Name
			resp.CapabilityRequests = append(resp.CapabilityRequests, CapabilityRequest{
				Round:     round,
				ID:        tc.ID,
				Name:      tc.Name,
				Arguments: tc.Arguments,
				Status:    StatusIgnored,
			})
		}
		notes = append(notes, fmt.Sprintf("round %d: ignored %d additional capability request(s): %s",
			round, len(extra), strings.Join(names, ", ")))
	}

	transcript = append(transcript, llm.Message{
		Role:      llm.RoleAssistant,
		Content:   decision.Content,
		ToolCalls: []llm.ToolCall{call},
	})

	result, derr := o.registry.Dispatch(ctx, call)
	if derr != nil {
		observe.Logger(ctx).Warn("capability dispatch rejected", "capability", call.Name, "round", round, "err", derr)
		notes = append(notes, fmt.Sprintf("round %d: %v", round, derr))
		if result.Content == "" {
			result.Content = fmt.Sprintf("The capability request could not be dispatched: %v", derr)
		}
		if result.Kind == capability.KindNone {
			result.Kind = capability.KindUnknownCapability
		}
		result.OK = false
	}
	result.RequestID = call.ID
	transcript = append(transcript, result.Message())

	req := &resp.CapabilityRequests[reqIndex]
	req.OK = result.OK
	req.Kind = result.Kind
	if o.metrics != nil {
		status := "ok"
		if !result.OK {
			status = string(result.Kind)
		}
		o.metrics.RecordCapabilityCall(ctx, call.Name, status, result.Duration)
	}

	resp.State = StateAwaitingDecision
	return transcript, notes, nil
}

func (o *Orchestrator) recordTurn(ctx context.Context, outcome string, rounds int, start time.Time) {
	if o.metrics != nil {
		o.metrics.RecordTurn(ctx, outcome, rounds, time.Since(start))
	}
}
