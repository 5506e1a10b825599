package observe

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/lucidcare/pkg/dialogue"
)

// tracerName is the instrumentation scope name for the LucidCare tracer.
const tracerName = "github.com/MrWong99/lucidcare"

// Tracer returns the package-level [trace.Tracer]. It uses the globally
// registered [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a new span and returns the updated context and span. The
// caller must call span.End() when done.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// CorrelationID extracts the trace ID from the OTel span context in ctx.
// Returns the empty string when no active span with a valid trace ID exists.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns an [slog.Logger] enriched with trace_id and span_id from
// the OTel span context in ctx. When no active span is present, the returned
// logger is the default slog logger without extra attributes.
func Logger(ctx context.Context) *slog.Logger {
	return LoggerFrom(ctx, slog.Default())
}

// LoggerFrom is like [Logger] but enriches base instead of the default logger.
func LoggerFrom(ctx context.Context, base *slog.Logger) *slog.Logger {
	l := base
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		l = l.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return l
}

// ── Dialogue sessions ────────────────────────────────────────────────────────

// SessionSpans turns a controller's snapshot stream into one
// "dialogue.session" span per session. A span starts with the first snapshot
// of its session and ends when the session completes, errors, loses its
// channel or is superseded. Each finalised section is added as a span event.
//
// Update has the signature of a dialogue OnUpdate callback and may be called
// concurrently. Snapshots older than one already applied are ignored.
type SessionSpans struct {
	tracer trace.Tracer

	mu       sync.Mutex
	id       string
	seq      uint64
	sections int
	span     trace.Span // nil once the current session's span has ended
	retired  map[string]bool
}

// NewSessionSpans returns a SessionSpans recording to tp. A nil tp uses the
// global provider.
func NewSessionSpans(tp trace.TracerProvider) *SessionSpans {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	return &SessionSpans{
		tracer:  tp.Tracer(tracerName),
		retired: make(map[string]bool),
	}
}

// Update applies snap to the span of its session.
func (s *SessionSpans) Update(snap dialogue.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap.ID == "" || s.retired[snap.ID] {
		return
	}
	if snap.ID != s.id {
		if s.id != "" {
			s.endLocked(dialogue.OutcomeSuperseded, nil)
			s.retired[s.id] = true
		}
		s.id = snap.ID
		s.seq = 0
		s.sections = 0
		_, s.span = s.tracer.Start(context.Background(), "dialogue.session",
			trace.WithAttributes(
				attribute.String("session.id", snap.ID),
				attribute.String("emotion", string(snap.Context.Emotion)),
			),
		)
	}
	if s.span == nil {
		return
	}
	if snap.Seq != 0 {
		if snap.Seq <= s.seq {
			return
		}
		s.seq = snap.Seq
	}

	for i := s.sections; i < len(snap.Transcript); i++ {
		attrs := []attribute.KeyValue{attribute.Int("section", i+1)}
		if i == len(snap.Transcript)-1 && snap.Progress != "" {
			attrs = append(attrs, attribute.String("progress", snap.Progress))
		}
		s.span.AddEvent("section.finalised", trace.WithAttributes(attrs...))
	}
	s.sections = max(s.sections, len(snap.Transcript))

	switch {
	case snap.State == dialogue.StateComplete:
		s.endLocked(dialogue.OutcomeComplete, nil)
	case snap.State == dialogue.StateErrored:
		s.endLocked(dialogue.OutcomeErrored, snap.Err)
	case errors.Is(snap.Err, dialogue.ErrClosed):
		s.endLocked(dialogue.OutcomeClosed, nil)
	case snap.Err != nil:
		s.endLocked(dialogue.OutcomeDisconnected, snap.Err)
	}
}

// Close ends the span of a session that is still open.
func (s *SessionSpans) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endLocked(dialogue.OutcomeClosed, nil)
}

func (s *SessionSpans) endLocked(outcome string, err error) {
	if s.span == nil {
		return
	}
	s.span.SetAttributes(
		attribute.String("outcome", outcome),
		attribute.Int("sections", s.sections),
	)
	switch {
	case err != nil:
		s.span.RecordError(err)
		s.span.SetStatus(codes.Error, err.Error())
	case outcome == dialogue.OutcomeErrored:
		s.span.SetStatus(codes.Error, "dialogue errored")
	}
	s.span.End()
	s.span = nil
}
