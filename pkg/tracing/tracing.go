// Package tracing configures OpenTelemetry for the service.
package tracing

import (
	"context"
	"os"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// ServiceName is reported on every span and names the global tracer.
const ServiceName = "stockcast"

type Config struct {
	Enabled     bool
	Endpoint    string
	SampleRatio float64
	Version     string
	Environment string
}

// ConfigFromEnv reads TRACING_ENABLED, OTEL_EXPORTER_OTLP_ENDPOINT,
// TRACING_SAMPLE_RATIO, SERVICE_VERSION and DEPLOY_ENV.
func ConfigFromEnv() Config {
	cfg := Config{
		Enabled:     os.Getenv("TRACING_ENABLED") != "false",
		Endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		SampleRatio: 1,
		Version:     os.Getenv("SERVICE_VERSION"),
		Environment: os.Getenv("DEPLOY_ENV"),
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if v := strings.TrimSpace(os.Getenv("TRACING_SAMPLE_RATIO")); v != "" {
		if r, err := strconv.ParseFloat(v, 64); err == nil && r >= 0 && r <= 1 {
			cfg.SampleRatio = r
		}
	}
	return cfg
}

var newTraceExporter = func(ctx context.Context, endpoint string) (sdktrace.SpanExporter, error) {
	return otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
}

// InitTracer installs a global provider configured from the environment.
func InitTracer(ctx context.Context) (*sdktrace.TracerProvider, trace.Tracer, error) {
	return Init(ctx, ConfigFromEnv())
}

// Init installs the global tracer provider. A disabled config keeps spans
// in-process; otherwise they are batched to cfg.Endpoint over OTLP gRPC.
func Init(ctx context.Context, cfg Config) (*sdktrace.TracerProvider, trace.Tracer, error) {
	sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))
	if !cfg.Enabled {
		tp := sdktrace.NewTracerProvider(sdktrace.WithSampler(sampler))
		otel.SetTracerProvider(tp)
		return tp, tp.Tracer(ServiceName), nil
	}

	exporter, err := newTraceExporter(ctx, cfg.Endpoint)
	if err != nil {
		return nil, nil, err
	}

	attrs := []resource.Option{resource.WithAttributes(
		semconv.ServiceName(ServiceName),
		semconv.ServiceVersion(cfg.Version),
	)}
	if cfg.Environment != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.DeploymentEnvironment(cfg.Environment)))
	}
	res, err := resource.New(ctx, attrs...)
	if err != nil {
		return nil, nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return tp, tp.Tracer(ServiceName), nil
}
