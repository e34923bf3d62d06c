// Package otelx owns the trace pipeline for the API process: an OTLP
// gRPC exporter pointed at the collector deployed next to the service,
// parent-based sampling so dashboard-initiated traces survive end to
// end, and W3C context propagation.
package otelx

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/reachmetrics/reachmetrics-api/internal/xerrors"
)

type Options struct {
	Enabled bool
	// Endpoint is the collector's gRPC address (host:port).
	Endpoint string
	// Insecure skips TLS; the collector is reached over localhost.
	Insecure bool
	// SampleRatio is the head-sampling probability for traces this
	// service starts (0..1). Incoming sampled traces are always kept.
	SampleRatio    float64
	ServiceName    string
	ServiceVersion string
}

// Init installs the global tracer provider and propagators and returns
// a shutdown function that flushes queued spans; call it during drain.
// When disabled, a non-exporting provider is installed so span context
// still propagates (X-Trace-Id response headers, log correlation).
func Init(ctx context.Context, o Options) (func(context.Context) error, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{},
	))

	if !o.Enabled {
		otel.SetTracerProvider(sdktrace.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	exp, err := newExporter(ctx, o)
	if err != nil {
		return nil, xerrors.Wrap(err, "otlp exporter")
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(
			sdktrace.TraceIDRatioBased(o.SampleRatio),
		)),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(newResource(ctx, o)),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func newExporter(ctx context.Context, o Options) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(o.Endpoint),
	}
	if o.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	// Bound the dial so a missing collector fails startup quickly
	// instead of hanging; the default is a blocking call.
	dctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return otlptracegrpc.New(dctx, opts...)
}

func newResource(ctx context.Context, o Options) *resource.Resource {
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithProcess(),
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(o.ServiceName),
			semconv.ServiceVersionKey.String(o.ServiceVersion),
		),
	)
	if err != nil {
		return resource.Default()
	}
	return res
}
