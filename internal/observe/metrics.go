// Package observe provides Cherry's observability primitives: OpenTelemetry
// metrics, tracing helpers and the HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and scraped via
// the Prometheus exporter installed by [InitProvider]. A package-level
// instance ([DefaultMetrics]) is provided for convenience; tests should use
// [NewMetrics] with their own [metric.MeterProvider].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all Cherry metrics.
const meterName = "github.com/MrWong99/cherry"

// Metrics holds every metric instrument of the application. The underlying
// OTel types are safe for concurrent use.
type Metrics struct {
	// --- Audio pipeline ---

	// FramesProcessed counts frames taken off the capture queue. Attribute
	// "state" carries the interaction state that consumed the frame.
	FramesProcessed metric.Int64Counter

	// FramesDropped counts frames discarded by a full capture queue.
	FramesDropped metric.Int64Counter

	// WakeDetections counts accepted wake phrases.
	WakeDetections metric.Int64Counter

	// Utterances counts finished listening cycles. Attribute "outcome":
	// ok, short, no_speech, error or timeout.
	Utterances metric.Int64Counter

	// StateTransitions counts state machine edges ("from", "to").
	StateTransitions metric.Int64Counter

	// --- Backend and providers ---

	// BackendDuration tracks the latency of one backend conversation.
	BackendDuration metric.Float64Histogram

	// BackendErrors counts failed conversations by "backend".
	BackendErrors metric.Int64Counter

	STTDuration metric.Float64Histogram
	LLMDuration metric.Float64Histogram

	// ProviderRequests counts provider calls ("provider", "kind", "status").
	ProviderRequests metric.Int64Counter

	// --- Output ---

	// DirectiveExecutions counts executed actions and tool calls
	// ("action", "status").
	DirectiveExecutions metric.Int64Counter

	// PlaybackDuration tracks synthesize-and-play time per spoken reply.
	PlaybackDuration metric.Float64Histogram

	// HTTPRequestDuration tracks brain API latency ("method", "path").
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds sized for voice
// round trips.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60,
}

// NewMetrics creates every instrument on mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.FramesProcessed, "cherry.audio.frames", "Audio frames consumed by the pipeline."},
		{&met.FramesDropped, "cherry.audio.frames_dropped", "Audio frames dropped by a full capture queue."},
		{&met.WakeDetections, "cherry.wake.detections", "Accepted wake phrases."},
		{&met.Utterances, "cherry.utterances", "Finished listening cycles by outcome."},
		{&met.StateTransitions, "cherry.state.transitions", "Interaction state transitions."},
		{&met.BackendErrors, "cherry.backend.errors", "Failed backend conversations."},
		{&met.ProviderRequests, "cherry.provider.requests", "Provider API requests by provider, kind and status."},
		{&met.DirectiveExecutions, "cherry.directive.executions", "Executed actions and tool calls by name and status."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}

	histograms := []struct {
		dst  *metric.Float64Histogram
		name string
		desc string
	}{
		{&met.BackendDuration, "cherry.backend.duration", "Latency of one backend conversation."},
		{&met.STTDuration, "cherry.stt.duration", "Latency of speech-to-text transcription."},
		{&met.LLMDuration, "cherry.llm.duration", "Latency of LLM completion."},
		{&met.PlaybackDuration, "cherry.playback.duration", "Time to synthesize and play one reply."},
	}
	for _, h := range histograms {
		if *h.dst, err = m.Float64Histogram(h.name,
			metric.WithDescription(h.desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		); err != nil {
			return nil, err
		}
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("cherry.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics], created on first use
// from [otel.GetMeterProvider]. Call it after [InitProvider] so the
// instruments bind to the Prometheus exporter.
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

// Attr is shorthand for [attribute.String].
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// Status maps an error to the "status" attribute value.
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// RecordTransition counts one state machine edge.
func (m *Metrics) RecordTransition(ctx context.Context, from, to string) {
	m.StateTransitions.Add(ctx, 1, metric.WithAttributes(Attr("from", from), Attr("to", to)))
}

// RecordUtterance counts one finished listening cycle.
func (m *Metrics) RecordUtterance(ctx context.Context, outcome string) {
	m.Utterances.Add(ctx, 1, metric.WithAttributes(Attr("outcome", outcome)))
}

// RecordDirective counts one executed action or tool call.
func (m *Metrics) RecordDirective(ctx context.Context, action string, err error) {
	m.DirectiveExecutions.Add(ctx, 1, metric.WithAttributes(Attr("action", action), Attr("status", Status(err))))
}

// RecordProviderRequest counts one provider call.
func (m *Metrics) RecordProviderRequest(ctx context.Context, provider, kind string, err error) {
	m.ProviderRequests.Add(ctx, 1, metric.WithAttributes(
		Attr("provider", provider),
		Attr("kind", kind),
		Attr("status", Status(err)),
	))
}

// RecordBackend records the latency of one conversation and counts it as an
// error when err is non-nil.
func (m *Metrics) RecordBackend(ctx context.Context, backend string, seconds float64, err error) {
	attrs := metric.WithAttributes(Attr("backend", backend), Attr("status", Status(err)))
	m.BackendDuration.Record(ctx, seconds, attrs)
	if err != nil {
		m.BackendErrors.Add(ctx, 1, metric.WithAttributes(Attr("backend", backend)))
	}
}
