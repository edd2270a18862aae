package telemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/steemit/pinmind/pkg/config"
	"github.com/steemit/pinmind/pkg/logging"
)

var (
	tracer      trace.Tracer
	serviceName = "pinmind"
)

// Version is reported as the service.version resource attribute
const Version = "0.3.0"

// Provider owns the exporters installed by Init. Sweeps is nil unless the
// Prometheus exporter is enabled; a nil *SweepMetrics records nothing.
type Provider struct {
	Sweeps *SweepMetrics

	shutdown []func(context.Context) error
}

// Init installs the Jaeger tracer provider and the Prometheus meter provider
// selected by cfg as the otel globals and registers the sweep instruments.
// A disabled config yields a Provider with nothing to shut down.
func Init(cfg *config.TelemetryConfig) (*Provider, error) {
	logger := logging.WithComponent("telemetry")
	p := &Provider{}
	if !cfg.Enabled {
		logger.Info("Telemetry disabled")
		return p, nil
	}
	if cfg.ServiceName != "" {
		serviceName = cfg.ServiceName
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(Version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if cfg.JaegerURL != "" {
		tp, err := newTracerProvider(res, cfg.JaegerURL)
		if err != nil {
			return nil, err
		}
		otel.SetTracerProvider(tp)
		p.shutdown = append(p.shutdown, tp.Shutdown)
		logger.Info("Jaeger exporter initialized", zap.String("url", cfg.JaegerURL))
	}

	if cfg.PrometheusEnabled {
		mp, err := newMeterProvider(res)
		if err != nil {
			p.Shutdown(context.Background())
			return nil, err
		}
		otel.SetMeterProvider(mp)
		p.shutdown = append(p.shutdown, mp.Shutdown)

		if p.Sweeps, err = NewSweepMetrics(mp.Meter(serviceName)); err != nil {
			p.Shutdown(context.Background())
			return nil, err
		}
		logger.Info("Prometheus exporter initialized", zap.Int("port", cfg.PrometheusPort))
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	tracer = otel.Tracer(serviceName)
	return p, nil
}

func newTracerProvider(res *resource.Resource, url string) (*sdktrace.TracerProvider, error) {
	exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(url)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	), nil
}

// newMeterProvider feeds the default Prometheus registry, which the metrics
// server exposes through promhttp
func newMeterProvider(res *resource.Resource) (*metric.MeterProvider, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus exporter: %w", err)
	}
	return metric.NewMeterProvider(
		metric.WithReader(exporter),
		metric.WithResource(res),
	), nil
}

// Shutdown flushes and stops every installed provider. It is safe on a nil
// or disabled Provider and on repeated calls.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	for _, fn := range p.shutdown {
		if err := fn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	p.shutdown = nil
	return errors.Join(errs...)
}

// Tracer returns the global tracer
func Tracer() trace.Tracer {
	if tracer == nil {
		return noop.NewTracerProvider().Tracer(serviceName)
	}
	return tracer
}

// StartSpan starts a new span
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}
