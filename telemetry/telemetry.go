// Package telemetry defines the Logger, Metrics, and Tracer abstractions
// used throughout the engine, so that the orchestrator, session store, and
// tool executor can be instrumented without binding to a concrete logging
// or tracing backend. See noop.go for test-friendly no-op implementations
// and zapotel.go for the production backend (zap + OpenTelemetry).
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type (
	// Logger emits structured, leveled log messages. Every method takes a
	// context first so implementations can pull request/session/trace
	// identifiers out of it, followed by a message and an even-length list of
	// key/value pairs.
	Logger interface {
		Debug(ctx context.Context, msg string, keyvals ...any)
		Info(ctx context.Context, msg string, keyvals ...any)
		Warn(ctx context.Context, msg string, keyvals ...any)
		Error(ctx context.Context, msg string, keyvals ...any)
	}

	// Metrics records counters, timers, and gauges. tags are flattened
	// "key=value" strings appended as attributes/labels by the backend.
	Metrics interface {
		IncCounter(name string, value float64, tags ...string)
		RecordTimer(name string, d time.Duration, tags ...string)
		RecordGauge(name string, value float64, tags ...string)
	}

	// Tracer creates spans for tracing orchestrator steps, lock acquisition,
	// and tool calls across process boundaries.
	Tracer interface {
		Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, Span)
		Span(ctx context.Context) Span
	}

	// Span is a single unit of trace work, matching the subset of
	// OpenTelemetry's span API the engine actually exercises.
	Span interface {
		End(opts ...trace.SpanEndOption)
		AddEvent(name string, keyvals ...any)
		SetStatus(code codes.Code, description string)
		RecordError(err error)
	}
)
