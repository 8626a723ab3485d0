// Package tracing sets up the OpenTelemetry tracer provider.
package tracing

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/fx"

	"openai-proxy-go/internal/config"
)

// InstrumentationName names the tracer used by the proxy's own spans.
const InstrumentationName = "openai-proxy-go"

// NewProvider returns a stdout-exporting tracer provider when tracing is
// enabled, and a no-op provider otherwise. Spans go to stderr so they do not
// interleave with the JSON request log on stdout.
func NewProvider(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (trace.TracerProvider, error) {
	if !cfg.Tracing.Enabled {
		return noop.NewTracerProvider(), nil
	}

	tp, err := newSDKProvider(cfg.Tracing.ServiceName, os.Stderr)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return tp.Shutdown(ctx)
		},
	})

	logger.Info("tracing enabled", "service_name", cfg.Tracing.ServiceName)
	return tp, nil
}

func newSDKProvider(serviceName string, w io.Writer) (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("tracing: create stdout exporter: %w", err)
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			"",
			attribute.String("service.name", serviceName),
		)),
	), nil
}
