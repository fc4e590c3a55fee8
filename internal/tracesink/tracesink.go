// Package tracesink delivers execution spans and finalized traces to
// interested consumers. Delivery is append-only, fire-and-forget, and
// best-effort: a sink that fails to accept a span or a finalization
// must never alter execution control flow, and failed deliveries are
// not retried.
package tracesink

import (
	"context"
	"time"

	"github.com/conductor-ai/conductor/internal/store"
	"github.com/conductor-ai/conductor/pkg/models"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Sink consumes spans and trace finalizations. Implementations must
// tolerate being called from concurrent runs.
type Sink interface {
	// RecordSpan delivers one step span. Errors are the sink's own
	// problem; callers ignore them.
	RecordSpan(ctx context.Context, span models.Span)

	// FinalizeTrace delivers the run's finalized trace exactly once.
	FinalizeTrace(ctx context.Context, trace models.Trace)
}

// ── Nop sink ────────────────────────────────────────────────

// Nop discards everything.
type Nop struct{}

func (Nop) RecordSpan(context.Context, models.Span)     {}
func (Nop) FinalizeTrace(context.Context, models.Trace) {}

// ── Store sink ──────────────────────────────────────────────

// StoreSink writes spans and traces into the ephemeral store so they
// are inspectable over the API.
type StoreSink struct {
	store store.TraceStore
}

func NewStoreSink(s store.TraceStore) *StoreSink {
	return &StoreSink{store: s}
}

func (s *StoreSink) RecordSpan(ctx context.Context, span models.Span) {
	if err := s.store.AppendSpan(ctx, span.TraceID, span); err != nil {
		log.Warn().Err(err).Str("trace_id", span.TraceID).Msg("tracesink: span delivery failed")
	}
}

func (s *StoreSink) FinalizeTrace(ctx context.Context, t models.Trace) {
	if err := s.store.FinalizeTrace(ctx, &t); err != nil {
		log.Warn().Err(err).Str("trace_id", t.ID).Msg("tracesink: trace finalization failed")
	}
}

// ── OpenTelemetry sink ──────────────────────────────────────

// OTelSink re-emits step spans through the global OpenTelemetry tracer
// so run execution shows up in whatever backend the OTLP exporter
// points at. Spans are emitted after the fact with explicit timestamps.
type OTelSink struct {
	tracer trace.Tracer
}

func NewOTelSink() *OTelSink {
	return &OTelSink{tracer: otel.Tracer("conductor-executor")}
}

func (s *OTelSink) RecordSpan(ctx context.Context, span models.Span) {
	end := span.StartedAt.Add(time.Duration(span.DurationMs) * time.Millisecond)
	_, otSpan := s.tracer.Start(ctx, "execute "+span.Capability,
		trace.WithTimestamp(span.StartedAt),
		trace.WithAttributes(
			attribute.String("conductor.trace_id", span.TraceID),
			attribute.Int("conductor.step", span.Ordinal),
			attribute.String("conductor.capability", span.Capability),
			attribute.Int("conductor.attempts", span.Attempts),
			attribute.String("conductor.status", string(span.Status)),
		),
	)
	if span.Status != models.StepSuccess {
		otSpan.SetStatus(codes.Error, string(span.ErrorClass))
	}
	otSpan.End(trace.WithTimestamp(end))
}

func (s *OTelSink) FinalizeTrace(ctx context.Context, t models.Trace) {
	end := t.StartedAt.Add(time.Duration(t.DurationMs) * time.Millisecond)
	if t.CompletedAt != nil {
		end = *t.CompletedAt
	}
	_, otSpan := s.tracer.Start(ctx, "run",
		trace.WithTimestamp(t.StartedAt),
		trace.WithAttributes(
			attribute.String("conductor.trace_id", t.ID),
			attribute.String("conductor.run_id", t.RunID),
			attribute.String("conductor.status", string(t.Status)),
			attribute.Int("conductor.spans", len(t.Spans)),
		),
	)
	if t.Status == models.RunFailed {
		otSpan.SetStatus(codes.Error, "run failed")
	}
	otSpan.End(trace.WithTimestamp(end))
}

// ── Multi sink ──────────────────────────────────────────────

// Multi fans deliveries out to several sinks.
type Multi []Sink

func (m Multi) RecordSpan(ctx context.Context, span models.Span) {
	for _, s := range m {
		s.RecordSpan(ctx, span)
	}
}

func (m Multi) FinalizeTrace(ctx context.Context, t models.Trace) {
	for _, s := range m {
		s.FinalizeTrace(ctx, t)
	}
}
