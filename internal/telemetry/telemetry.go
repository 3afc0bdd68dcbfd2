// Package telemetry initializes OpenTelemetry tracing and metrics exporters
// and exposes the instruments shared by the pipeline and the HTTP layer.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Shutdown flushes and stops the exporters.
type Shutdown func(ctx context.Context) error

// Options configures Init.
type Options struct {
	Endpoint    string // OTLP/HTTP endpoint; empty disables export.
	ServiceName string
	Version     string
	Environment string // Recorded as deployment.environment.
	Insecure    bool
}

// Init configures the global OpenTelemetry tracer and meter providers.
// If the endpoint is empty, export is disabled and the global no-op
// providers stay in place; spans still carry valid ids for correlation.
func Init(ctx context.Context, opts Options) (Shutdown, error) {
	otel.SetTextMapPropagator(
		propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	)

	if opts.Endpoint == "" {
		// An SDK provider without exporters still mints trace ids, which the
		// audit record stores.
		tp := sdktrace.NewTracerProvider()
		otel.SetTracerProvider(tp)
		return tp.Shutdown, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(opts.ServiceName),
			semconv.ServiceVersionKey.String(opts.Version),
			semconv.DeploymentEnvironmentKey.String(opts.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create resource: %w", err)
	}

	traceOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(opts.Endpoint)}
	if opts.Insecure {
		traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
	}
	traceExp, err := otlptracehttp.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("telemetry: create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(opts.Endpoint)}
	if opts.Insecure {
		metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
	}
	metricExp, err := otlpmetrichttp.New(ctx, metricOpts...)
	if err != nil {
		_ = tp.Shutdown(ctx)
		return nil, fmt.Errorf("telemetry: create metric exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(15*time.Second)),
		),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}

// Meter returns the global meter for the given instrumentation scope.
func Meter(name string) metric.Meter {
	return otel.GetMeterProvider().Meter(name)
}

// Tracer returns the global tracer for the given instrumentation scope.
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// TraceID returns the hex trace id of the span active in ctx, or "" when
// there is no valid span.
func TraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}

// StageMetrics records per-stage durations and failures.
type StageMetrics struct {
	duration metric.Float64Histogram
	failures metric.Int64Counter
}

// NewStageMetrics creates the stage instruments on the global meter.
// Instrument creation errors leave that instrument as a no-op.
func NewStageMetrics() *StageMetrics {
	meter := Meter("kiko/agent")
	m := &StageMetrics{}
	m.duration, _ = meter.Float64Histogram("kiko.stage.duration",
		metric.WithDescription("Stage run duration"),
		metric.WithUnit("ms"),
	)
	m.failures, _ = meter.Int64Counter("kiko.stage.failures",
		metric.WithDescription("Stage runs that ended in a failure"),
	)
	return m
}

// Record reports one completed stage run. failureKind is "" on success.
func (m *StageMetrics) Record(ctx context.Context, stage string, elapsed time.Duration, failureKind string) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("stage", stage))
	if m.duration != nil {
		m.duration.Record(ctx, float64(elapsed.Microseconds())/1000.0, attrs)
	}
	if failureKind != "" && m.failures != nil {
		m.failures.Add(ctx, 1, metric.WithAttributes(
			attribute.String("stage", stage),
			attribute.String("kind", failureKind),
		))
	}
}
