package observe

import (
	"context"
	"errors"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig configures the OpenTelemetry SDK providers.
type ProviderConfig struct {
	// ServiceName is the service name reported in telemetry. Default: "lucidcare".
	ServiceName string

	// ServiceVersion is the service version reported in telemetry.
	ServiceVersion string

	// DialogueURL and ReportURL are the backends this client talks to. They
	// are attached to the resource when set.
	DialogueURL string
	ReportURL   string

	// MetricReader replaces the Prometheus exporter. Tests pass a
	// [sdkmetric.ManualReader].
	MetricReader sdkmetric.Reader

	// TraceExporter is an optional span exporter. When nil, spans are
	// recorded but not exported.
	TraceExporter sdktrace.SpanExporter
}

// diagnosticRoutes are the only request paths kept as a metric attribute.
// Anything else hitting the diagnostics server is folded into one series.
var diagnosticRoutes = []string{"/healthz", "/readyz", "/metrics"}

// reportBuckets covers report uploads, which wait on a language model and
// can take a minute or more.
var reportBuckets = []float64{
	0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120,
}

// Views returns the metric views LucidCare registers on its meter provider.
//
//   - lucidcare.http.request.duration keeps the path attribute only for the
//     diagnostic routes.
//   - The otelhttp client histogram of the report client uses
//     [reportBuckets].
func Views() []sdkmetric.View {
	return []sdkmetric.View{
		sdkmetric.NewView(
			sdkmetric.Instrument{Name: "lucidcare.http.request.duration"},
			sdkmetric.Stream{AttributeFilter: func(kv attribute.KeyValue) bool {
				if kv.Key == "path" {
					return slices.Contains(diagnosticRoutes, kv.Value.AsString())
				}
				return true
			}},
		),
		sdkmetric.NewView(
			sdkmetric.Instrument{Name: "http.client.request.duration"},
			sdkmetric.Stream{Aggregation: sdkmetric.AggregationExplicitBucketHistogram{
				Boundaries: reportBuckets,
			}},
		),
	}
}

// newResource describes this client and the backends it was configured
// with.
func newResource(cfg ProviderConfig) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	}
	if cfg.DialogueURL != "" {
		attrs = append(attrs, attribute.String("lucidcare.dialogue.url", cfg.DialogueURL))
	}
	if cfg.ReportURL != "" {
		attrs = append(attrs, attribute.String("lucidcare.report.url", cfg.ReportURL))
	}
	return resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
}

// InitProvider registers global meter and tracer providers built from cfg.
// Metrics go to a Prometheus exporter unless cfg.MetricReader is set, and
// [Views] are applied to every reader.
//
// The returned function flushes and shuts down both providers.
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "lucidcare"
	}
	res, err := newResource(cfg)
	if err != nil {
		return nil, err
	}

	reader := cfg.MetricReader
	if reader == nil {
		if reader, err = promexporter.New(); err != nil {
			return nil, err
		}
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
		sdkmetric.WithView(Views()...),
	)
	otel.SetMeterProvider(mp)

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		return errors.Join(mp.Shutdown(ctx), tp.Shutdown(ctx))
	}, nil
}
