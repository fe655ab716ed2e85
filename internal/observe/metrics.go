// Package observe provides the observability primitives shared by the
// lesson pipeline: OpenTelemetry metrics, tracing, trace-aware logging, and
// HTTP middleware for the health server.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported
// for Prometheus by [InitProvider]. Tests should build their own [Metrics]
// with [NewMetrics] over a manual reader instead of using [DefaultMetrics].
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope of all lingocast metrics.
const meterName = "github.com/MrWong99/lingocast"

// Resolution sources, used as the "source" attribute of ResolveHits.
const (
	SourceSession   = "session"
	SourceVocab     = "vocab"
	SourceSynthesis = "synthesis"
)

// Metrics holds all metric instruments. The OTel types are safe for
// concurrent use.
type Metrics struct {
	// SynthesisCalls counts synthesizer invocations. Attributes:
	//   provider, outcome (ok|transient|fatal)
	SynthesisCalls metric.Int64Counter

	// SynthesisDuration tracks synthesizer latency in seconds.
	SynthesisDuration metric.Float64Histogram

	// ResolveHits counts resolved phrases by source (session|vocab|synthesis).
	ResolveHits metric.Int64Counter

	// VocabEntriesCreated counts new vocabulary entries. Attribute: scope.
	VocabEntriesCreated metric.Int64Counter

	// LessonsAssembled and LessonsFailed count generation outcomes.
	// Attribute: scope.
	LessonsAssembled metric.Int64Counter
	LessonsFailed    metric.Int64Counter

	// CorruptionDetected and CorruptionRepaired count scan results.
	// Attribute: scope.
	CorruptionDetected metric.Int64Counter
	CorruptionRepaired metric.Int64Counter

	// ReconstructPatched counts lessons whose audio was patched.
	// Attribute: scope.
	ReconstructPatched metric.Int64Counter

	// HTTPRequestDuration tracks health server request time. Attributes:
	//   method, route
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets are histogram boundaries in seconds, sized for TTS calls
// that take from a few hundred milliseconds to tens of seconds.
var latencyBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60,
}

// NewMetrics creates all instruments from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.SynthesisDuration, err = m.Float64Histogram("lingocast.synthesis.duration",
		metric.WithDescription("Latency of speech synthesis calls."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("lingocast.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&met.SynthesisCalls, "lingocast.synthesis.calls", "Speech synthesis calls by provider and outcome."},
		{&met.ResolveHits, "lingocast.resolve.hits", "Resolved phrases by source."},
		{&met.VocabEntriesCreated, "lingocast.vocab.entries.created", "Vocabulary entries created."},
		{&met.LessonsAssembled, "lingocast.lessons.assembled", "Lessons assembled and persisted."},
		{&met.LessonsFailed, "lingocast.lessons.failed", "Lessons aborted during generation."},
		{&met.CorruptionDetected, "lingocast.corruption.detected", "Vocabulary entries detected as corrupt."},
		{&met.CorruptionRepaired, "lingocast.corruption.repaired", "Vocabulary entries repaired in place."},
		{&met.ReconstructPatched, "lingocast.reconstruct.patched", "Lessons patched by reconstruction."},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, err
		}
	}
	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics], created on first use
// from [otel.GetMeterProvider]. Call [InitProvider] first to export them.
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

// RecordSynthesis records one synthesizer call.
func (m *Metrics) RecordSynthesis(ctx context.Context, provider, outcome string, seconds float64) {
	attrs := metric.WithAttributes(Attr("provider", provider), Attr("outcome", outcome))
	m.SynthesisCalls.Add(ctx, 1, attrs)
	m.SynthesisDuration.Record(ctx, seconds, metric.WithAttributes(Attr("provider", provider)))
}

// RecordResolve records one resolved phrase.
func (m *Metrics) RecordResolve(ctx context.Context, source string) {
	m.ResolveHits.Add(ctx, 1, metric.WithAttributes(Attr("source", source)))
}

// Count adds n to a scope-labelled counter.
func Count(ctx context.Context, c metric.Int64Counter, scope string, n int) {
	if n == 0 {
		return
	}
	c.Add(ctx, int64(n), metric.WithAttributes(Attr("scope", scope)))
}
