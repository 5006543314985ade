// Package metrics records pipeline counters and histograms through the
// OpenTelemetry global meter, and installs the optional stdout span and
// metric exporters.
package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("diffsum")

// Fallback kinds passed to RecordFallback.
const (
	FallbackGroupMessage = "group_message"
	FallbackGrouping     = "grouping"
)

// PipelineMetrics collects per-run request metrics.
type PipelineMetrics struct {
	requestsCounter     metric.Int64Counter
	failuresCounter     metric.Int64Counter
	truncationsCounter  metric.Int64Counter
	fallbacksCounter    metric.Int64Counter
	requestTokens       metric.Int64Histogram
	generationHistogram metric.Float64Histogram
}

// New creates the pipeline instruments on the global meter.
func New() (*PipelineMetrics, error) {
	return NewWithMeter(meter)
}

// NewWithMeter creates the pipeline instruments on meter.
func NewWithMeter(meter metric.Meter) (*PipelineMetrics, error) {
	requests, err := meter.Int64Counter(
		"diffsum.requests",
		metric.WithDescription("Generation requests sent"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter(
		"diffsum.requests.failed",
		metric.WithDescription("Generation requests that returned an error"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}
	truncations, err := meter.Int64Counter(
		"diffsum.truncations",
		metric.WithDescription("Request payloads cut to fit the token budget"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}
	fallbacks, err := meter.Int64Counter(
		"diffsum.fallbacks",
		metric.WithDescription("Recovered failures replaced by a default value"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, err
	}
	reqTokens, err := meter.Int64Histogram(
		"diffsum.request.tokens",
		metric.WithDescription("Content tokens per request"),
		metric.WithUnit("{token}"),
	)
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram(
		"diffsum.generation.duration",
		metric.WithDescription("Duration of generation calls in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	return &PipelineMetrics{
		requestsCounter:     requests,
		failuresCounter:     failures,
		truncationsCounter:  truncations,
		fallbacksCounter:    fallbacks,
		requestTokens:       reqTokens,
		generationHistogram: duration,
	}, nil
}

// RecordRequest records one generation call. A nil receiver is a no-op.
func (m *PipelineMetrics) RecordRequest(ctx context.Context, kind string, tokens int, duration time.Duration, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "failed"
		m.failuresCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	}
	attrs := metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("status", status),
	)
	m.requestsCounter.Add(ctx, 1, attrs)
	m.requestTokens.Record(ctx, int64(tokens), attrs)
	m.generationHistogram.Record(ctx, duration.Seconds(), attrs)
}

// RecordTruncation records a payload cut in the given mode.
func (m *PipelineMetrics) RecordTruncation(ctx context.Context, mode string) {
	if m == nil {
		return
	}
	m.truncationsCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("mode", mode)))
}

// RecordFallback records a recovered failure of the given kind.
func (m *PipelineMetrics) RecordFallback(ctx context.Context, kind string) {
	if m == nil {
		return
	}
	m.fallbacksCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
