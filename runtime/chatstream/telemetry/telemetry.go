// Package telemetry defines the observability seam used by the ChatClient:
// structured logging, stream/tool metrics, and a tracing span per stream.
// The interfaces are deliberately scoped to what the client actually
// records, so tests can stub them with a few lines; production hosts use
// the Clue/OpenTelemetry implementations in clue.go.
package telemetry

import (
	"context"
	"time"
)

type (
	// Logger emits structured log entries. Keyvals are alternating
	// key/value pairs; non-string keys are dropped.
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics records the client's stream and tool activity.
	Metrics interface {
		// RecordStreamStart counts a stream submission.
		RecordStreamStart(ctx context.Context)
		// RecordStreamEnd records how a stream finished. Outcome is one of
		// "ok", "error", or "superseded".
		RecordStreamEnd(ctx context.Context, duration time.Duration, outcome string)
		// RecordToolExecution records one client tool run; err is nil on
		// success.
		RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error)
	}

	// Tracer opens one span per stream.
	Tracer interface {
		// StartStream opens a span covering a StreamResponse call.
		StartStream(ctx context.Context, conversationID string) (context.Context, Span)
	}

	// Span is the in-flight stream span.
	Span interface {
		// RecordError marks the span failed and attaches err.
		RecordError(err error)
		End()
	}
)

// No-op implementations, used as defaults when a host configures no
// telemetry and as stand-ins in tests.
type (
	noopLogger  struct{}
	noopMetrics struct{}
	noopTracer  struct{}
	noopSpan    struct{}
)

// NewNoopLogger returns a Logger that discards everything.
func NewNoopLogger() Logger { return noopLogger{} }

// NewNoopMetrics returns a Metrics that records nothing.
func NewNoopMetrics() Metrics { return noopMetrics{} }

// NewNoopTracer returns a Tracer whose spans do nothing.
func NewNoopTracer() Tracer { return noopTracer{} }

func (noopLogger) Debug(context.Context, string, ...any) {}
func (noopLogger) Warn(context.Context, string, ...any)  {}
func (noopLogger) Error(context.Context, string, ...any) {}

func (noopMetrics) RecordStreamStart(context.Context)                                 {}
func (noopMetrics) RecordStreamEnd(context.Context, time.Duration, string)            {}
func (noopMetrics) RecordToolExecution(context.Context, string, time.Duration, error) {}

func (noopTracer) StartStream(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, noopSpan{}
}

func (noopSpan) RecordError(error) {}
func (noopSpan) End()              {}
