// Package observe provides application-wide observability primitives for
// sutra: OpenTelemetry metrics, distributed tracing, trace-aware logging, and
// HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
//
// All Record methods are nil-safe so components can be built without metrics.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/sutra/internal/cache"
)

// meterName is the instrumentation scope name used for all sutra metrics.
const meterName = "github.com/MrWong99/sutra"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// SegmentDuration tracks end-to-end processing time of one segment.
	SegmentDuration metric.Float64Histogram

	// StageDuration tracks the time spent in a pipeline stage. Use with
	// attribute.String("stage", ...).
	StageDuration metric.Float64Histogram

	// Segments counts processed segments. Use with attributes:
	//   attribute.String("content_type", ...), attribute.String("status", ...)
	Segments metric.Int64Counter

	// Corrections counts applied corrections. Use with attribute:
	//   attribute.String("stage", ...)
	Corrections metric.Int64Counter

	// TermLookups counts term lookups by the source that answered. Use with
	// attribute.String("origin", ...) where origin is cache, store, table or none.
	TermLookups metric.Int64Counter

	// StoreErrors counts failed or skipped structured-store queries.
	StoreErrors metric.Int64Counter

	// HTTPRequestDuration tracks HTTP request processing time. Use with
	// attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram

	meter metric.Meter
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// segment and stage latencies, which are expected to be sub-millisecond in
// the common case.
var latencyBuckets = []float64{
	0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{meter: m}

	if met.SegmentDuration, err = m.Float64Histogram("sutra.segment.duration",
		metric.WithDescription("Latency of processing one subtitle segment."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.StageDuration, err = m.Float64Histogram("sutra.stage.duration",
		metric.WithDescription("Latency of a single pipeline stage."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	if met.Segments, err = m.Int64Counter("sutra.segments",
		metric.WithDescription("Total processed segments by content type and status."),
	); err != nil {
		return nil, err
	}
	if met.Corrections, err = m.Int64Counter("sutra.corrections",
		metric.WithDescription("Total applied corrections by stage."),
	); err != nil {
		return nil, err
	}
	if met.TermLookups, err = m.Int64Counter("sutra.term.lookups",
		metric.WithDescription("Total term lookups by answering source."),
	); err != nil {
		return nil, err
	}
	if met.StoreErrors, err = m.Int64Counter("sutra.store.errors",
		metric.WithDescription("Total failed or skipped structured store queries."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("sutra.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// ObserveCache registers observable gauges reporting the counters of the
// cache whose snapshot is returned by stats.
func (m *Metrics) ObserveCache(stats func() cache.Stats) error {
	if m == nil {
		return nil
	}
	entries, err := m.meter.Int64ObservableGauge("sutra.cache.entries",
		metric.WithDescription("Number of entries held by the term cache."))
	if err != nil {
		return err
	}
	bytes, err := m.meter.Int64ObservableGauge("sutra.cache.bytes",
		metric.WithDescription("Estimated memory footprint of the term cache."),
		metric.WithUnit("By"))
	if err != nil {
		return err
	}
	events, err := m.meter.Int64ObservableCounter("sutra.cache.events",
		metric.WithDescription("Cache hits, misses, evictions and invalidations."))
	if err != nil {
		return err
	}

	_, err = m.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		s := stats()
		o.ObserveInt64(entries, int64(s.Entries))
		o.ObserveInt64(bytes, s.EstimatedBytes)
		o.ObserveInt64(events, s.Hits, metric.WithAttributes(attribute.String("event", "hit")))
		o.ObserveInt64(events, s.Misses, metric.WithAttributes(attribute.String("event", "miss")))
		o.ObserveInt64(events, s.Evictions, metric.WithAttributes(attribute.String("event", "eviction")))
		o.ObserveInt64(events, s.Invalidations, metric.WithAttributes(attribute.String("event", "invalidation")))
		return nil
	}, entries, bytes, events)
	return err
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
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

// RecordSegment records one processed segment.
func (m *Metrics) RecordSegment(ctx context.Context, contentType, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.SegmentDuration.Record(ctx, d.Seconds())
	m.Segments.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("content_type", contentType),
			attribute.String("status", status),
		),
	)
}

// RecordStage records the latency of one pipeline stage.
func (m *Metrics) RecordStage(ctx context.Context, stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.Record(ctx, d.Seconds(),
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordCorrections adds n corrections produced by stage.
func (m *Metrics) RecordCorrections(ctx context.Context, stage string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Corrections.Add(ctx, int64(n),
		metric.WithAttributes(attribute.String("stage", stage)),
	)
}

// RecordLookup records a term lookup answered by origin.
func (m *Metrics) RecordLookup(ctx context.Context, origin string) {
	if m == nil {
		return
	}
	m.TermLookups.Add(ctx, 1,
		metric.WithAttributes(attribute.String("origin", origin)),
	)
}

// RecordStoreError records a failed or skipped structured store query.
func (m *Metrics) RecordStoreError(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	m.StoreErrors.Add(ctx, 1,
		metric.WithAttributes(attribute.String("reason", reason)),
	)
}
