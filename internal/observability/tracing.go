// Package observability wires the tracer provider used by the gin
// middleware. Off by default; spans go to stdout when enabled.
package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/coursekb/coursekb-backend/internal/platform/logger"
)

// Setup installs the global tracer provider and returns its shutdown func.
// When disabled the returned shutdown is a no-op.
func Setup(log *logger.Logger, enabled bool) (func(context.Context) error, error) {
	if !enabled {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	log.Info("Tracing enabled", "exporter", "stdout")
	return tp.Shutdown, nil
}
