package resilience

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrWong99/arbiter/internal/observe"
	"github.com/MrWong99/arbiter/pkg/provider/llm"
)

// DefaultDegradedText is the answer returned in place of a rate-limited
// reasoning call.
const DefaultDegradedText = "Rate limit exceeded. Please reduce the message size or try again later."

// Class is the degradation class of a reasoning failure.
type Class int

const (
	// ClassNone means no failure.
	ClassNone Class = iota

	// ClassRateLimited is a recoverable failure: the backend is throttling
	// or its circuit breaker is open.
	ClassRateLimited

	// ClassFatal is any other failure, timeouts included.
	ClassFatal
)

// String returns the metric label of the class.
func (c Class) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassRateLimited:
		return "rate_limited"
	case ClassFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Classify maps err onto a [Class]. An error marked [llm.ErrProviderFatal]
// is fatal even when it also wraps a rate limit.
func Classify(err error) Class {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, llm.ErrProviderFatal):
		return ClassFatal
	case errors.Is(err, llm.ErrRateLimited), errors.Is(err, ErrCircuitOpen):
		return ClassRateLimited
	default:
		return ClassFatal
	}
}

// DegraderOption configures a [Degrader].
type DegraderOption func(*Degrader)

// WithDegradedText overrides [DefaultDegradedText]. Empty text is ignored.
func WithDegradedText(text string) DegraderOption {
	return func(d *Degrader) {
		if text != "" {
			d.text = text
		}
	}
}

// WithMetrics records every classified failure on m.
func WithMetrics(m *observe.Metrics) DegraderOption {
	return func(d *Degrader) {
		d.metrics = m
	}
}

// Degrader turns reasoning failures into either a canned answer or a fatal
// error. It holds no mutable state and is safe for concurrent use.
type Degrader struct {
	text    string
	metrics *observe.Metrics
}

// NewDegrader creates a [Degrader].
func NewDegrader(opts ...DegraderOption) *Degrader {
	d := &Degrader{text: DefaultDegradedText}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Text returns the canned answer used for rate-limited calls.
func (d *Degrader) Text() string {
	return d.text
}

// Absorb handles the failure err of the reasoning operation op.
//
// A rate-limited failure is absorbed: Absorb returns the canned text and a nil
// error. Any other failure is returned as an error matching
// [llm.ErrProviderFatal]. A nil err returns ("", nil).
func (d *Degrader) Absorb(ctx context.Context, op string, err error) (string, error) {
	class := Classify(err)
	if class == ClassNone {
		return "", nil
	}
	if d.metrics != nil {
		d.metrics.RecordDegradation(ctx, op, class.String())
	}
	log := observe.Logger(ctx)
	if class == ClassRateLimited {
		log.Warn("reasoning call rate limited, answering with degraded text", "op", op, "err", err)
		return d.text, nil
	}
	log.Error("reasoning call failed", "op", op, "err", err)
	if errors.Is(err, llm.ErrProviderFatal) {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return "", fmt.Errorf("%s: %w: %w", op, llm.ErrProviderFatal, err)
}
