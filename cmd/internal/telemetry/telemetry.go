// Package telemetry installs the OpenTelemetry tracer provider.
package telemetry

import (
	"context"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// Shutdown releases telemetry resources.
type Shutdown func(ctx context.Context) error

// Options selects whether and where spans are exported.
type Options struct {
	Enabled     bool
	Endpoint    string // host:port of an OTLP/HTTP collector
	Insecure    bool
	ServiceName string
	Version     string
}

// Setup installs a global tracer provider exporting over OTLP/HTTP when enabled.
// When disabled the global no-op provider stays in place.
func Setup(ctx context.Context, opts Options, log *slog.Logger) (Shutdown, error) {
	if !opts.Enabled || strings.TrimSpace(opts.Endpoint) == "" {
		log.Debug("telemetry.disabled")
		return func(context.Context) error { return nil }, nil
	}

	exporterOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(opts.Endpoint)}
	if opts.Insecure {
		exporterOpts = append(exporterOpts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, exporterOpts...)
	if err != nil {
		return nil, err
	}

	name := opts.ServiceName
	if name == "" {
		name = "chatshell"
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(name),
			semconv.ServiceVersion(opts.Version),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	log.Info("telemetry.enabled", "endpoint", opts.Endpoint)

	return func(ctx context.Context) error {
		return tp.Shutdown(ctx)
	}, nil
}
