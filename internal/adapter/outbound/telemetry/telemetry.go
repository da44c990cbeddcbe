// Package telemetry sets up the OpenTelemetry tracer and meter providers of
// the bridge. Both exporters write to a local writer; "none" installs no-op
// providers.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// Exporter modes.
const (
	ModeNone   = "none"
	ModeStdout = "stdout"
)

// DefaultMetricInterval is the export cadence of the stdout metric reader.
const DefaultMetricInterval = 60 * time.Second

// Config selects the exporters.
type Config struct {
	Tracing        string
	Metrics        string
	MetricInterval time.Duration
	ServiceName    string
	Version        string
	// Writer receives stdout exports. Default is os.Stdout.
	Writer io.Writer
}

// Bundle holds the configured providers.
type Bundle struct {
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider

	sdkTracer *sdktrace.TracerProvider
	sdkMeter  *sdkmetric.MeterProvider
	logger    *slog.Logger
}

type errorHandler struct {
	logger *slog.Logger
}

func (h errorHandler) Handle(err error) {
	if err != nil {
		h.logger.Warn("telemetry exporter error", "error", err)
	}
}

// Setup builds the providers for cfg and installs them as the otel globals.
func Setup(cfg Config, logger *slog.Logger) (*Bundle, error) {
	if logger == nil {
		logger = slog.Default()
	}
	w := cfg.Writer
	if w == nil {
		w = os.Stdout
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "mcp-bridge"
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.Version),
	)

	b := &Bundle{
		TracerProvider: tracenoop.NewTracerProvider(),
		MeterProvider:  metricnoop.NewMeterProvider(),
		logger:         logger,
	}

	switch cfg.Tracing {
	case "", ModeNone:
	case ModeStdout:
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("telemetry: start trace exporter: %w", err)
		}
		b.sdkTracer = sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithBatcher(exp),
		)
		b.TracerProvider = b.sdkTracer
		logger.Info("tracing enabled", "exporter", ModeStdout)
	default:
		return nil, fmt.Errorf("telemetry: unsupported tracing mode %q", cfg.Tracing)
	}

	switch cfg.Metrics {
	case "", ModeNone:
	case ModeStdout:
		exp, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
		if err != nil {
			b.shutdownTracer(context.Background())
			return nil, fmt.Errorf("telemetry: start metric exporter: %w", err)
		}
		interval := cfg.MetricInterval
		if interval <= 0 {
			interval = DefaultMetricInterval
		}
		b.sdkMeter = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))),
		)
		b.MeterProvider = b.sdkMeter
		logger.Info("otel metrics enabled", "exporter", ModeStdout, "interval", interval)
	default:
		b.shutdownTracer(context.Background())
		return nil, fmt.Errorf("telemetry: unsupported metrics mode %q", cfg.Metrics)
	}

	otel.SetTracerProvider(b.TracerProvider)
	otel.SetMeterProvider(b.MeterProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	otel.SetErrorHandler(errorHandler{logger: logger})
	return b, nil
}

func (b *Bundle) shutdownTracer(ctx context.Context) {
	if b.sdkTracer != nil {
		_ = b.sdkTracer.Shutdown(ctx)
	}
}

// Shutdown flushes and stops the SDK providers. It is a no-op for "none".
func (b *Bundle) Shutdown(ctx context.Context) error {
	var errs []error
	if b.sdkMeter != nil {
		if err := b.sdkMeter.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metric shutdown: %w", err))
		}
	}
	if b.sdkTracer != nil {
		if err := b.sdkTracer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace shutdown: %w", err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
