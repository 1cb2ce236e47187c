package obs

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Tracing bundles what the shop needs to emit spans: service identity,
// the OTLP collector endpoint and a sampling ratio.
type Tracing struct {
	Service     string
	Environment string
	Endpoint    string
	SampleRatio float64
}

// SetupTracing wires the global tracer provider against an OTLP/HTTP
// collector. The returned function flushes and stops the provider.
func SetupTracing(ctx context.Context, t Tracing) (func(context.Context) error, error) {
	var exporterOpts []otlptracehttp.Option
	if ep := strings.TrimSpace(t.Endpoint); ep != "" {
		exporterOpts = append(exporterOpts, otlptracehttp.WithEndpointURL(ep))
	}
	exporter, err := otlptracehttp.New(ctx, exporterOpts...)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(t.Service),
			semconv.DeploymentEnvironmentKey.String(t.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	ratio := t.SampleRatio
	if ratio <= 0 || ratio > 1 {
		ratio = 1
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return provider.Shutdown, nil
}
