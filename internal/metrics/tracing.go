package metrics

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// Trace exporters accepted by SetupTracing.
const (
	TracesNone   = "none"
	TracesStdout = "stdout"
)

// SetupTracing installs the global tracer provider for exporter and returns
// its shutdown function, which flushes pending spans. With TracesNone spans
// stay no-ops and shutdown does nothing.
func SetupTracing(exporter string, w io.Writer) (func(context.Context) error, error) {
	switch exporter {
	case TracesNone, "":
		return func(context.Context) error { return nil }, nil
	case TracesStdout:
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exp))
		otel.SetTracerProvider(tp)
		return tp.Shutdown, nil
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", exporter)
	}
}
