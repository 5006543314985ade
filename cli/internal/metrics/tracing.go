package metrics

import (
	"context"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// InitTracer installs a global tracer provider that pretty-prints finished
// spans to w. The returned function flushes and shuts the provider down.
func InitTracer(w io.Writer) (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(
		stdouttrace.WithWriter(w),
		stdouttrace.WithPrettyPrint(),
	)
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// InitMeter installs a global meter provider whose metrics are pretty-printed
// to w. Shutting it down exports a final collection.
func InitMeter(w io.Writer) (func(context.Context) error, error) {
	exporter, err := stdoutmetric.New(
		stdoutmetric.WithWriter(w),
		stdoutmetric.WithPrettyPrint(),
	)
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)))
	otel.SetMeterProvider(mp)
	return mp.Shutdown, nil
}
