// Package observe provides application-wide observability primitives for
// arbiter: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. [Setup] bridges
// them to Prometheus so they can be scraped from /metrics. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all arbiter metrics.
const meterName = "github.com/MrWong99/arbiter"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// LLMDuration tracks reasoning backend latency. Use with attribute:
	//   attribute.String("op", ...) ("decide" or "compress")
	LLMDuration metric.Float64Histogram

	// CapabilityDuration tracks capability invocation latency. Use with
	// attribute:
	//   attribute.String("capability", ...)
	CapabilityDuration metric.Float64Histogram

	// TurnDuration tracks the wall time of a full turn, all rounds included.
	TurnDuration metric.Float64Histogram

	// TurnRounds tracks how many decision rounds a turn needed.
	TurnRounds metric.Int64Histogram

	// --- Counters ---

	// ProviderRequests counts reasoning backend calls. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// CapabilityCalls counts capability dispatches. Use with attributes:
	//   attribute.String("capability", ...), attribute.String("status", ...)
	// where status is "ok" or a failure kind.
	CapabilityCalls metric.Int64Counter

	// Turns counts completed turns. Use with attribute:
	//   attribute.String("outcome", ...) ("done", "failed", "degraded", "error")
	Turns metric.Int64Counter

	// --- Error counters ---

	// ProviderErrors counts reasoning backend errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// Degradations counts failures absorbed or propagated by the degradation
	// handler. Use with attributes:
	//   attribute.String("op", ...), attribute.String("class", ...)
	Degradations metric.Int64Counter

	// BreakerTransitions counts circuit breaker state changes. Use with
	// attributes:
	//   attribute.String("breaker", ...), attribute.String("to", ...)
	BreakerTransitions metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live conversation sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time by method,
	// route pattern and status code. See [Metrics.RecordHTTPRequest].
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) sized for
// remote model and capability calls.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60,
}

// roundBuckets covers the allowed round cap range.
var roundBuckets = []float64{1, 2, 3, 4, 5, 6, 8, 12, 16}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.LLMDuration, err = m.Float64Histogram("arbiter.llm.duration",
		metric.WithDescription("Latency of reasoning backend calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.CapabilityDuration, err = m.Float64Histogram("arbiter.capability.duration",
		metric.WithDescription("Latency of capability invocations."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = m.Float64Histogram("arbiter.turn.duration",
		metric.WithDescription("Wall time of a conversation turn."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.TurnRounds, err = m.Int64Histogram("arbiter.turn.rounds",
		metric.WithDescription("Decision rounds per conversation turn."),
		metric.WithExplicitBucketBoundaries(roundBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.ProviderRequests, err = m.Int64Counter("arbiter.provider.requests",
		metric.WithDescription("Total reasoning backend requests by provider, kind, and status."),
	); err != nil {
		return nil, err
	}
	if met.CapabilityCalls, err = m.Int64Counter("arbiter.capability.calls",
		metric.WithDescription("Total capability dispatches by capability and status."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("arbiter.turns",
		metric.WithDescription("Total conversation turns by outcome."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("arbiter.provider.errors",
		metric.WithDescription("Total reasoning backend errors by provider and kind."),
	); err != nil {
		return nil, err
	}
	if met.Degradations, err = m.Int64Counter("arbiter.degradations",
		metric.WithDescription("Reasoning failures seen by the degradation handler by operation and class."),
	); err != nil {
		return nil, err
	}
	if met.BreakerTransitions, err = m.Int64Counter("arbiter.breaker.transitions",
		metric.WithDescription("Circuit breaker state changes by breaker and target state."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("arbiter.active_sessions",
		metric.WithDescription("Number of live conversation sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("arbiter.http.request.duration",
		metric.WithDescription("HTTP request latency by method, route and status."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordProviderRequest records a provider request counter increment with
// the standard attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}

// RecordLLMCall records the latency of one reasoning backend call.
func (m *Metrics) RecordLLMCall(ctx context.Context, op string, d time.Duration) {
	m.LLMDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("op", op)),
	)
}

// RecordCapabilityCall records one capability dispatch and its latency.
func (m *Metrics) RecordCapabilityCall(ctx context.Context, capability, status string, d time.Duration) {
	m.CapabilityCalls.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("capability", capability),
			attribute.String("status", status),
		),
	)
	m.CapabilityDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("capability", capability)),
	)
}

// RecordTurn records one finished turn.
func (m *Metrics) RecordTurn(ctx context.Context, outcome string, rounds int, d time.Duration) {
	m.Turns.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	m.TurnRounds.Record(ctx, int64(rounds))
	m.TurnDuration.Record(ctx, d.Seconds())
}

// RecordDegradation records a failure classified by the degradation handler.
func (m *Metrics) RecordDegradation(ctx context.Context, op, class string) {
	m.Degradations.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("op", op),
			attribute.String("class", class),
		),
	)
}

// RecordBreakerTransition records a circuit breaker state change.
func (m *Metrics) RecordBreakerTransition(ctx context.Context, breaker, to string) {
	m.BreakerTransitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("breaker", breaker),
			attribute.String("to", to),
		),
	)
}

// RecordHTTPRequest records one served request. route must be a router
// pattern such as /api/sessions/{id}/history, never a raw path.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, route string, status int, d time.Duration) {
	m.HTTPRequestDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(
			attribute.String("method", method),
			attribute.String("route", route),
			attribute.Int("status", status),
		),
	)
}
