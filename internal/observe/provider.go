package observe

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ServiceName is reported as service.name on every signal.
const ServiceName = "parley"

// Resource attributes describing which model service a process talks to.
const (
	AttrChannelBackend = attribute.Key("parley.channel.backend")
	AttrChannelModel   = attribute.Key("parley.channel.model")
)

// ProviderConfig describes the process to the telemetry backends.
type ProviderConfig struct {
	// ServiceVersion is the build version.
	ServiceVersion string

	// Backend and Model name the configured channel implementation and live
	// model. Empty values are omitted.
	Backend string
	Model   string

	// TraceExporter receives session spans. When nil, spans are sampled but
	// not exported.
	TraceExporter sdktrace.SpanExporter
}

// NewResource returns the resource reported with every metric and span. The
// attributes are added without a schema URL so the SDK default's schema is
// kept.
func NewResource(cfg ProviderConfig) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	}
	if cfg.Backend != "" {
		attrs = append(attrs, AttrChannelBackend.String(cfg.Backend))
	}
	if cfg.Model != "" {
		attrs = append(attrs, AttrChannelModel.String(cfg.Model))
	}
	return resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
}

// InitProvider registers global meter and tracer providers. Metrics are
// exported through the default Prometheus registry served at /metrics.
// The returned function flushes and stops both providers.
func InitProvider(_ context.Context, cfg ProviderConfig) (func(context.Context) error, error) {
	res, err := NewResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("observe: resource: %w", err)
	}

	exp, err := promexporter.New()
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(exp))

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}
