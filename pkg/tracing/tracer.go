// Package tracing provides OpenTelemetry tracing for the request pipeline:
// one server span per dispatched request and one client span per executed
// statement, exported over OTLP with W3C trace context propagation.
//
// Example usage:
//
//	tp, shutdown, err := tracing.NewTracerProvider(ctx, cfg.Tracing, cfg.Service.Name, cfg.Service.Version)
//	if err != nil {
//	    return err
//	}
//	defer shutdown(ctx)
package tracing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.32.0"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/Combine-Capital/cqweb/pkg/config"
)

// TracerName is the instrumentation scope of spans created by cqweb.
const TracerName = "cqweb"

const (
	defaultBatchTimeout = 5 * time.Second
	shutdownTimeout     = 30 * time.Second
)

var (
	errNoEndpoint = errors.New("tracing.endpoint is required when tracing is enabled")
	errNoService  = errors.New("a service name is required for tracing")
)

// ShutdownFunc flushes pending spans and stops the provider.
type ShutdownFunc func(context.Context) error

// NewTracerProvider builds a batching provider exporting to cfg.Endpoint
// and installs it globally together with the W3C trace context and baggage
// propagators. cfg.ServiceName overrides serviceName.
//
// With tracing disabled it returns a provider without exporters and a
// shutdown that does nothing; the globals are left untouched.
func NewTracerProvider(ctx context.Context, cfg config.TracingConfig, serviceName, serviceVersion string) (*sdktrace.TracerProvider, ShutdownFunc, error) {
	if !cfg.Enabled {
		return sdktrace.NewTracerProvider(), func(context.Context) error { return nil }, nil
	}
	if cfg.Endpoint == "" {
		return nil, nil, errNoEndpoint
	}
	if cfg.ServiceName != "" {
		serviceName = cfg.ServiceName
	}
	if serviceName == "" {
		return nil, nil, errNoService
	}

	res, err := newResource(ctx, cfg, serviceName, serviceVersion)
	if err != nil {
		return nil, nil, fmt.Errorf("tracing resource: %w", err)
	}
	exp, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = defaultBatchTimeout
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRate)),
		sdktrace.WithBatcher(exp, sdktrace.WithBatchTimeout(batchTimeout)),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		return tp.Shutdown(ctx)
	}, nil
}

func newResource(ctx context.Context, cfg config.TracingConfig, name, version string) (*resource.Resource, error) {
	if version == "" {
		version = "dev"
	}
	opts := []resource.Option{
		resource.WithAttributes(
			semconv.ServiceNameKey.String(name),
			semconv.ServiceVersionKey.String(version),
		),
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithHost(),
	}
	if cfg.Environment != "" {
		opts = append(opts, resource.WithAttributes(semconv.DeploymentEnvironmentNameKey.String(cfg.Environment)))
	}
	return resource.New(ctx, opts...)
}

// newExporter dials the collector over gRPC (the default) or HTTP.
func newExporter(ctx context.Context, cfg config.TracingConfig) (sdktrace.SpanExporter, error) {
	switch cfg.ExportMode {
	case "", "grpc":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
		}
		return otlptracegrpc.New(ctx, opts...)
	case "http":
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	default:
		return nil, fmt.Errorf("tracing.export_mode %q: want grpc or http", cfg.ExportMode)
	}
}

// sampler samples root spans at rate and otherwise follows the parent, so a
// sampled request keeps all of its statement spans.
func sampler(rate float64) sdktrace.Sampler {
	root := sdktrace.TraceIDRatioBased(rate)
	switch {
	case rate <= 0:
		root = sdktrace.NeverSample()
	case rate >= 1:
		root = sdktrace.AlwaysSample()
	}
	return sdktrace.ParentBased(root)
}
