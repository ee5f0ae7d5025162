// Package telemetry installs the OpenTelemetry tracer provider used for
// per-stage spans.
package telemetry

import (
	"context"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
)

// Init installs a tracer provider exporting finished spans to w and
// returns its shutdown function. When enabled is false a no-op provider is
// installed instead.
func Init(enabled bool, w io.Writer, logger *zap.Logger) (func(context.Context) error, error) {
	if !enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)

	if logger != nil {
		logger.Debug("OpenTelemetry initialized")
	}
	return tp.Shutdown, nil
}
