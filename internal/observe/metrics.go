// Package observe provides application-wide observability primitives for
// LucidCare: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
//
// [Metrics] satisfies both emotion.Recorder and dialogue.Recorder so it can
// be handed straight to the tracker and the controller.
package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/lucidcare/pkg/dialogue"
	"github.com/MrWong99/lucidcare/pkg/emotion"
)

// meterName is the instrumentation scope name used for all LucidCare metrics.
const meterName = "github.com/MrWong99/lucidcare"

// Compile-time interface assertions.
var (
	_ emotion.Recorder  = (*Metrics)(nil)
	_ dialogue.Recorder = (*Metrics)(nil)
)

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use — the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Frames ---

	// FramesObserved counts score vectors that yielded a dominant label. Use
	// with attribute:
	//   attribute.String("emotion", ...)
	FramesObserved metric.Int64Counter

	// FramesDropped counts samples that never reached the tracker. Use with
	// attribute:
	//   attribute.String("reason", ...)
	FramesDropped metric.Int64Counter

	// --- Emotion ---

	// StableChanges counts stable-label flips. Use with attributes:
	//   attribute.String("from", ...), attribute.String("to", ...)
	StableChanges metric.Int64Counter

	// ConsistencyRatio tracks the majority share of the window after each
	// observation.
	ConsistencyRatio metric.Float64Histogram

	// --- Dialogue ---

	// Sessions counts finished sessions. Use with attribute:
	//   attribute.String("outcome", ...)
	Sessions metric.Int64Counter

	// ActiveSessions tracks the number of open dialogue channels.
	ActiveSessions metric.Int64UpDownCounter

	// DialFailures counts channels that failed to open.
	DialFailures metric.Int64Counter

	// DialogueFrames counts inbound frames. Use with attribute:
	//   attribute.String("kind", ...)
	DialogueFrames metric.Int64Counter

	// Sections counts finalised transcript sections.
	Sections metric.Int64Counter

	// SectionDuration tracks how long a section took to stream, from its
	// first chunk to finalisation.
	SectionDuration metric.Float64Histogram

	// Commands counts outbound commands. Use with attributes:
	//   attribute.String("action", ...), attribute.String("status", ...)
	Commands metric.Int64Counter

	// --- HTTP ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for section
// streaming and HTTP latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30,
}

// ratioBuckets spans the [0,1] majority share around the default threshold.
var ratioBuckets = []float64{
	0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Frames.
	if met.FramesObserved, err = m.Int64Counter("lucidcare.frames.observed",
		metric.WithDescription("Score vectors reduced to a dominant emotion, by emotion."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("lucidcare.frames.dropped",
		metric.WithDescription("Detector samples that did not reach the tracker, by reason."),
	); err != nil {
		return nil, err
	}

	// Emotion.
	if met.StableChanges, err = m.Int64Counter("lucidcare.emotion.stable_changes",
		metric.WithDescription("Stable emotion transitions by previous and new label."),
	); err != nil {
		return nil, err
	}
	if met.ConsistencyRatio, err = m.Float64Histogram("lucidcare.emotion.consistency_ratio",
		metric.WithDescription("Share of the observation window held by the majority emotion."),
		metric.WithExplicitBucketBoundaries(ratioBuckets...),
	); err != nil {
		return nil, err
	}

	// Dialogue.
	if met.Sessions, err = m.Int64Counter("lucidcare.dialogue.sessions",
		metric.WithDescription("Dialogue sessions that ended, by outcome."),
	); err != nil {
		return nil, err
	}
	if met.ActiveSessions, err = m.Int64UpDownCounter("lucidcare.dialogue.active_sessions",
		metric.WithDescription("Number of open dialogue channels."),
	); err != nil {
		return nil, err
	}
	if met.DialFailures, err = m.Int64Counter("lucidcare.dialogue.dial_failures",
		metric.WithDescription("Dialogue channels that failed to open."),
	); err != nil {
		return nil, err
	}
	if met.DialogueFrames, err = m.Int64Counter("lucidcare.dialogue.frames",
		metric.WithDescription("Inbound dialogue frames by kind."),
	); err != nil {
		return nil, err
	}
	if met.Sections, err = m.Int64Counter("lucidcare.dialogue.sections",
		metric.WithDescription("Transcript sections finalised."),
	); err != nil {
		return nil, err
	}
	if met.SectionDuration, err = m.Float64Histogram("lucidcare.dialogue.section.duration",
		metric.WithDescription("Time from a section's first chunk to its finalisation."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.Commands, err = m.Int64Counter("lucidcare.dialogue.commands",
		metric.WithDescription("Outbound dialogue commands by action and status."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("lucidcare.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
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

// ── Frames ───────────────────────────────────────────────────────────────────

// RecordFrameDropped records a detector sample that never reached the tracker.
func (m *Metrics) RecordFrameDropped(ctx context.Context, reason string) {
	m.FramesDropped.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// ── emotion.Recorder ─────────────────────────────────────────────────────────

// RecordObservation records a vector reduced to dominant.
func (m *Metrics) RecordObservation(ctx context.Context, dominant emotion.Label) {
	m.FramesObserved.Add(ctx, 1, metric.WithAttributes(attribute.String("emotion", string(dominant))))
}

// RecordConsistency records the window's majority share.
func (m *Metrics) RecordConsistency(ctx context.Context, ratio float64) {
	m.ConsistencyRatio.Record(ctx, ratio)
}

// RecordStableChange records a stable-label flip.
func (m *Metrics) RecordStableChange(ctx context.Context, from, to emotion.Label) {
	m.StableChanges.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("from", string(from)),
			attribute.String("to", string(to)),
		),
	)
}

// ── dialogue.Recorder ────────────────────────────────────────────────────────

// RecordSessionOpened increments the active session gauge.
func (m *Metrics) RecordSessionOpened(ctx context.Context) {
	m.ActiveSessions.Add(ctx, 1)
}

// RecordSessionEnded decrements the active session gauge and counts the
// outcome.
func (m *Metrics) RecordSessionEnded(ctx context.Context, outcome string) {
	m.ActiveSessions.Add(ctx, -1)
	m.Sessions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordDialFailure counts a channel that failed to open.
func (m *Metrics) RecordDialFailure(ctx context.Context) {
	m.DialFailures.Add(ctx, 1)
}

// RecordFrame counts an inbound frame of the given kind.
func (m *Metrics) RecordFrame(ctx context.Context, kind string) {
	m.DialogueFrames.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordSection counts a finalised section and its streaming time.
func (m *Metrics) RecordSection(ctx context.Context, d time.Duration) {
	m.Sections.Add(ctx, 1)
	m.SectionDuration.Record(ctx, d.Seconds())
}

// RecordCommand counts an outbound command.
func (m *Metrics) RecordCommand(ctx context.Context, action, status string) {
	m.Commands.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("action", action),
			attribute.String("status", status),
		),
	)
}
