package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/sutra"

// SpanSegment is the name of the span covering one segment.
const SpanSegment = "pipeline.segment"

// Span attribute keys.
const (
	AttrRunID        = attribute.Key("sutra.run_id")
	AttrSegmentIndex = attribute.Key("sutra.segment.index")
	AttrSegmentLen   = attribute.Key("sutra.segment.length")
	AttrContentType  = attribute.Key("sutra.content_type")
	AttrMixed        = attribute.Key("sutra.content_type.mixed")
	AttrCorrections  = attribute.Key("sutra.corrections")
	AttrDegraded     = attribute.Key("sutra.degraded")
)

type runKey struct{}

type segmentKey struct{}

// WithRunID returns ctx tagged with a batch run ID. Segment spans and
// [Logger] pick it up.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runKey{}, id)
}

// RunID returns the batch run ID in ctx, or "".
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runKey{}).(string)
	return id
}

// WithSegmentIndex returns ctx tagged with the position of a segment within
// its run.
func WithSegmentIndex(ctx context.Context, i int) context.Context {
	return context.WithValue(ctx, segmentKey{}, i)
}

// SegmentIndex returns the segment position in ctx.
func SegmentIndex(ctx context.Context) (int, bool) {
	i, ok := ctx.Value(segmentKey{}).(int)
	return i, ok
}

// StartSpan starts a span from the globally registered tracer provider. The
// caller must call span.End().
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// SegmentSpan is the span around the correction of one segment.
type SegmentSpan struct {
	span trace.Span
}

// StartSegment starts a [SpanSegment] span carrying the segment length and,
// when present in ctx, the run ID and segment index.
func StartSegment(ctx context.Context, length int) (context.Context, SegmentSpan) {
	attrs := []attribute.KeyValue{AttrSegmentLen.Int(length)}
	if id := RunID(ctx); id != "" {
		attrs = append(attrs, AttrRunID.String(id))
	}
	if i, ok := SegmentIndex(ctx); ok {
		attrs = append(attrs, AttrSegmentIndex.Int(i))
	}
	ctx, span := StartSpan(ctx, SpanSegment, trace.WithAttributes(attrs...))
	return ctx, SegmentSpan{span: span}
}

// Classified records the content type the classifier picked.
func (s SegmentSpan) Classified(contentType string, mixed []string) {
	s.span.SetAttributes(AttrContentType.String(contentType))
	if len(mixed) > 0 {
		s.span.SetAttributes(AttrMixed.StringSlice(mixed))
	}
}

// End records the outcome and ends the span. A non-nil err marks the span
// failed.
func (s SegmentSpan) End(corrections int, degraded bool, err error) {
	s.span.SetAttributes(AttrCorrections.Int(corrections), AttrDegraded.Bool(degraded))
	if err != nil {
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	}
	s.span.End()
}

// CorrelationID returns the trace ID of the span in ctx, or "" when ctx
// carries no valid span. It doubles as the request ID in logs and responses.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default [slog.Logger] enriched with the run ID, the
// segment index and the trace ID found in ctx.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	if id := RunID(ctx); id != "" {
		l = l.With(slog.String("run_id", id))
	}
	if i, ok := SegmentIndex(ctx); ok {
		l = l.With(slog.Int("segment", i))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		l = l.With(slog.String("trace_id", sc.TraceID().String()))
	}
	return l
}
