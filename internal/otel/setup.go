// Package otel wires the OpenTelemetry SDK for traces, metrics and logs.
package otel

import (
	"context"
	"errors"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutlog"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
)

type Options struct {
	ServiceName    string
	ServiceVersion string
	// Export over OTLP gRPC, configured by the standard OTEL_EXPORTER_OTLP_*
	// variables. Otherwise telemetry is written as JSON to Writer.
	UseOTLP bool
	// Defaults to stderr so stdout stays free for audit events and CLI output.
	Writer io.Writer
	// Fraction of root spans kept, 0 means all.
	SampleRatio float64
}

// SetupOTelSDK installs global trace, meter and logger providers. The returned
// shutdown flushes them and is safe to call more than once.
func SetupOTelSDK(ctx context.Context, opts Options) (func(context.Context) error, error) {
	if opts.Writer == nil {
		opts.Writer = os.Stderr
	}

	var shutdownFuncs []func(context.Context) error
	shutdown := func(ctx context.Context) error {
		var errs error
		for _, fn := range shutdownFuncs {
			errs = errors.Join(errs, fn(ctx))
		}
		shutdownFuncs = nil
		return errs
	}
	fail := func(err error) (func(context.Context) error, error) {
		return shutdown, errors.Join(err, shutdown(ctx))
	}

	res, err := newResource(ctx, opts)
	if err != nil {
		return fail(err)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tracerProvider, err := newTracerProvider(ctx, res, opts)
	if err != nil {
		return fail(err)
	}
	shutdownFuncs = append(shutdownFuncs, tracerProvider.Shutdown)
	otel.SetTracerProvider(tracerProvider)

	meterProvider, err := newMeterProvider(ctx, res, opts)
	if err != nil {
		return fail(err)
	}
	shutdownFuncs = append(shutdownFuncs, meterProvider.Shutdown)
	otel.SetMeterProvider(meterProvider)

	loggerProvider, err := newLoggerProvider(ctx, res, opts)
	if err != nil {
		return fail(err)
	}
	shutdownFuncs = append(shutdownFuncs, loggerProvider.Shutdown)
	global.SetLoggerProvider(loggerProvider)

	return shutdown, nil
}

// OTEL_RESOURCE_ATTRIBUTES and OTEL_SERVICE_NAME take precedence over opts.
func newResource(ctx context.Context, opts Options) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{attribute.String("service.name", opts.ServiceName)}
	if opts.ServiceVersion != "" {
		attrs = append(attrs, attribute.String("service.version", opts.ServiceVersion))
	}

	return resource.New(
		ctx,
		resource.WithAttributes(attrs...),
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithHost(),
	)
}

func newTracerProvider(ctx context.Context, res *resource.Resource, opts Options) (*trace.TracerProvider, error) {
	var (
		exporter trace.SpanExporter
		err      error
	)
	if opts.UseOTLP {
		exporter, err = otlptracegrpc.New(ctx)
	} else {
		exporter, err = stdouttrace.New(stdouttrace.WithWriter(opts.Writer))
	}
	if err != nil {
		return nil, err
	}

	sampler := trace.AlwaysSample()
	if opts.SampleRatio > 0 && opts.SampleRatio < 1 {
		sampler = trace.TraceIDRatioBased(opts.SampleRatio)
	}

	return trace.NewTracerProvider(
		trace.WithResource(res),
		trace.WithSampler(trace.ParentBased(sampler)),
		trace.WithBatcher(exporter),
	), nil
}

func newMeterProvider(ctx context.Context, res *resource.Resource, opts Options) (*metric.MeterProvider, error) {
	var (
		exporter metric.Exporter
		err      error
	)
	if opts.UseOTLP {
		exporter, err = otlpmetricgrpc.New(ctx)
	} else {
		exporter, err = stdoutmetric.New(stdoutmetric.WithWriter(opts.Writer))
	}
	if err != nil {
		return nil, err
	}

	return metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(metric.NewPeriodicReader(exporter)),
	), nil
}

func newLoggerProvider(ctx context.Context, res *resource.Resource, opts Options) (*log.LoggerProvider, error) {
	var (
		exporter log.Exporter
		err      error
	)
	if opts.UseOTLP {
		exporter, err = otlploggrpc.New(ctx)
	} else {
		exporter, err = stdoutlog.New(stdoutlog.WithWriter(opts.Writer))
	}
	if err != nil {
		return nil, err
	}

	return log.NewLoggerProvider(
		log.WithResource(res),
		log.WithProcessor(log.NewBatchProcessor(exporter)),
	), nil
}
