package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"goa.design/clue/log"
)

// instrumentationName scopes the OTEL meter and tracer for this module.
const instrumentationName = "goa.design/chatstream"

type (
	// ClueLogger implements Logger on goa.design/clue/log. Formatting and
	// debug settings come from the context (log.Context, log.WithDebug).
	ClueLogger struct{}

	// ClueMetrics implements Metrics on OpenTelemetry instruments created
	// once at construction from the global MeterProvider. Configure the
	// provider before use, typically via Clue's OTEL bootstrap.
	ClueMetrics struct {
		streams       metric.Int64Counter
		streamSeconds metric.Float64Histogram
		toolSeconds   metric.Float64Histogram
	}

	// ClueTracer implements Tracer on the global OTEL TracerProvider.
	ClueTracer struct {
		tracer trace.Tracer
	}

	streamSpan struct {
		span trace.Span
	}
)

// NewClueLogger returns a Logger backed by Clue.
func NewClueLogger() Logger { return ClueLogger{} }

// NewClueMetrics returns a Metrics recorder backed by OTEL. Instrument
// creation errors leave the corresponding instrument nil, which disables
// just that measurement rather than failing construction.
func NewClueMetrics() Metrics {
	meter := otel.Meter(instrumentationName)
	m := &ClueMetrics{}
	m.streams, _ = meter.Int64Counter("chatstream.streams",
		metric.WithDescription("Number of streams submitted"))
	m.streamSeconds, _ = meter.Float64Histogram("chatstream.stream.duration",
		metric.WithDescription("Stream duration from submission to finalization"),
		metric.WithUnit("s"))
	m.toolSeconds, _ = meter.Float64Histogram("chatstream.tool.duration",
		metric.WithDescription("Client tool execution duration"),
		metric.WithUnit("s"))
	return m
}

// NewClueTracer returns a Tracer backed by OTEL.
func NewClueTracer() Tracer {
	return &ClueTracer{tracer: otel.Tracer(instrumentationName)}
}

// Debug implements Logger.
func (ClueLogger) Debug(ctx context.Context, msg string, keyvals ...any) {
	log.Debug(ctx, clueFields(msg, keyvals)...)
}

// Warn implements Logger.
func (ClueLogger) Warn(ctx context.Context, msg string, keyvals ...any) {
	log.Warn(ctx, clueFields(msg, keyvals)...)
}

// Error implements Logger.
func (ClueLogger) Error(ctx context.Context, msg string, keyvals ...any) {
	log.Error(ctx, nil, clueFields(msg, keyvals)...)
}

// RecordStreamStart implements Metrics.
func (m *ClueMetrics) RecordStreamStart(ctx context.Context) {
	if m.streams == nil {
		return
	}
	m.streams.Add(ctx, 1)
}

// RecordStreamEnd implements Metrics.
func (m *ClueMetrics) RecordStreamEnd(ctx context.Context, duration time.Duration, outcome string) {
	if m.streamSeconds == nil {
		return
	}
	m.streamSeconds.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordToolExecution implements Metrics.
func (m *ClueMetrics) RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error) {
	if m.toolSeconds == nil {
		return
	}
	m.toolSeconds.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.Bool("error", err != nil),
	))
}

// StartStream implements Tracer.
func (t *ClueTracer) StartStream(ctx context.Context, conversationID string) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, "chatstream.stream",
		trace.WithAttributes(attribute.String("conversation.id", conversationID)))
	return ctx, streamSpan{span: span}
}

// RecordError implements Span.
func (s streamSpan) RecordError(err error) {
	s.span.RecordError(err)
	s.span.SetStatus(codes.Error, err.Error())
}

// End implements Span.
func (s streamSpan) End() { s.span.End() }

// clueFields pairs msg with the keyvals as Clue fielders. Odd trailing
// values and non-string keys are dropped.
func clueFields(msg string, keyvals []any) []log.Fielder {
	fielders := make([]log.Fielder, 0, len(keyvals)/2+1)
	fielders = append(fielders, log.KV{K: "msg", V: msg})
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		fielders = append(fielders, log.KV{K: key, V: keyvals[i+1]})
	}
	return fielders
}
