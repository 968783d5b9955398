package builds

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics provides OTel metrics for the build system.
type Metrics struct {
	buildDuration metric.Float64Histogram
	buildTotal    metric.Int64Counter
	cacheHits     metric.Int64Counter
	stepsExecuted metric.Int64Counter
}

// NewMetrics creates a new Metrics instance.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	buildDuration, err := meter.Float64Histogram(
		"kiln_build_duration_seconds",
		metric.WithDescription("Duration of builds in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	buildTotal, err := meter.Int64Counter(
		"kiln_builds_total",
		metric.WithDescription("Total number of builds"),
	)
	if err != nil {
		return nil, err
	}

	cacheHits, err := meter.Int64Counter(
		"kiln_build_cache_hits_total",
		metric.WithDescription("Build steps served from the layer cache"),
	)
	if err != nil {
		return nil, err
	}

	stepsExecuted, err := meter.Int64Counter(
		"kiln_build_steps_executed_total",
		metric.WithDescription("Build steps executed on cache misses"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		buildDuration: buildDuration,
		buildTotal:    buildTotal,
		cacheHits:     cacheHits,
		stepsExecuted: stepsExecuted,
	}, nil
}

// RecordBuild records metrics for a completed build.
func (m *Metrics) RecordBuild(ctx context.Context, status Status, duration time.Duration, executed, cacheHits int) {
	attrs := []attribute.KeyValue{
		attribute.String("status", string(status)),
	}

	m.buildDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.buildTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.cacheHits.Add(ctx, int64(cacheHits))
	m.stepsExecuted.Add(ctx, int64(executed))
}
