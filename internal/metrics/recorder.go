package metrics

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/chris-regnier/vigil/internal/engine"
)

const meterName = "github.com/chris-regnier/vigil/internal/metrics"

// Recorder turns engine results into audit events and mirrors them to the
// global OpenTelemetry meter. Without an installed meter provider the
// instruments are no-ops.
type Recorder struct {
	collector    *Collector
	cacheEnabled bool

	files    metric.Int64Counter
	findings metric.Int64Counter
	duration metric.Float64Histogram
}

// NewRecorder creates a Recorder feeding collector.
func NewRecorder(collector *Collector, cacheEnabled bool) (*Recorder, error) {
	meter := otel.Meter(meterName)
	files, err := meter.Int64Counter("vigil.files.audited",
		metric.WithDescription("Files audited, by status"))
	if err != nil {
		return nil, err
	}
	findings, err := meter.Int64Counter("vigil.findings",
		metric.WithDescription("Findings reported before aggregation"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("vigil.file.duration",
		metric.WithDescription("Time to audit one file"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	return &Recorder{
		collector:    collector,
		cacheEnabled: cacheEnabled,
		files:        files,
		findings:     findings,
		duration:     duration,
	}, nil
}

// Collector returns the underlying collector.
func (r *Recorder) Collector() *Collector { return r.collector }

// Observe records one file result.
func (r *Recorder) Observe(ctx context.Context, res engine.FileResult) {
	cache := CacheDisabled
	if r.cacheEnabled {
		cache = CacheMiss
		if res.CacheHit {
			cache = CacheHit
		}
	}
	e := AuditEvent{
		File:        res.File,
		Status:      string(res.Status),
		Duration:    res.Duration,
		Nodes:       res.Nodes,
		Findings:    len(res.Findings),
		Diagnostics: len(res.Diagnostics),
		CacheResult: cache,
		Error:       res.Error,
	}
	r.collector.Record(e)

	attrs := metric.WithAttributes(
		attribute.String("vigil.status", e.Status),
		attribute.String("vigil.cache", string(cache)),
	)
	r.files.Add(ctx, 1, attrs)
	r.findings.Add(ctx, int64(e.Findings), attrs)
	r.duration.Record(ctx, float64(e.Duration.Microseconds())/1000, attrs)
}

// ObserveAll records every result in order.
func (r *Recorder) ObserveAll(ctx context.Context, results []engine.FileResult) {
	for _, res := range results {
		r.Observe(ctx, res)
	}
}
