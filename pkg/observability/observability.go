// Package observability wires OpenTelemetry traces and metrics for the state
// channel service.
//
// Instruments:
//   - hive.snapshots.submitted{outcome,reason}: submission attempts by outcome
//   - hive.chain.reconciliations{cause}: times the local head was reset from L0
//   - hive.submit.duration: latency of one submission attempt, seconds
//   - hive.cycle.errors{stage}: capture, encode and sign failures
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "hive.statechannel"

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string // e.g. "localhost:4317"; empty disables export
	Insecure       bool
	ExportInterval time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "hive-sync",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		ExportInterval: 15 * time.Second,
	}
}

// Provider owns the trace and metric pipelines and the service's instruments.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	submitted       metric.Int64Counter
	reconciliations metric.Int64Counter
	submitDuration  metric.Float64Histogram
	cycleErrors     metric.Int64Counter
}

// New creates a provider. Without an OTLP endpoint the global (noop by
// default) providers are used and nothing is exported.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	p := &Provider{logger: slog.Default().With("component", "observability")}

	if config.OTLPEndpoint == "" {
		p.tracer = otel.Tracer(instrumentationName)
		p.meter = otel.Meter(instrumentationName)
		if err := p.initInstruments(); err != nil {
			return nil, fmt.Errorf("failed to init instruments: %w", err)
		}
		p.logger.InfoContext(ctx, "telemetry export disabled")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, config, res); err != nil {
		return nil, fmt.Errorf("failed to init trace provider: %w", err)
	}
	if err := p.initMetricProvider(ctx, config, res); err != nil {
		return nil, fmt.Errorf("failed to init metric provider: %w", err)
	}

	p.tracer = p.tracerProvider.Tracer(instrumentationName, trace.WithInstrumentationVersion(config.ServiceVersion))
	p.meter = p.meterProvider.Meter(instrumentationName, metric.WithInstrumentationVersion(config.ServiceVersion))
	if err := p.initInstruments(); err != nil {
		return nil, fmt.Errorf("failed to init instruments: %w", err)
	}

	p.logger.InfoContext(ctx, "telemetry initialized",
		"service", config.ServiceName,
		"endpoint", config.OTLPEndpoint,
		"insecure", config.Insecure,
	)
	return p, nil
}

// NewWithMeterProvider builds a provider on an existing meter provider.
func NewWithMeterProvider(mp metric.MeterProvider) (*Provider, error) {
	p := &Provider{
		tracer: otel.Tracer(instrumentationName),
		meter:  mp.Meter(instrumentationName),
		logger: slog.Default().With("component", "observability"),
	}
	if err := p.initInstruments(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, config *Config, res *resource.Resource) error {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(config.OTLPEndpoint)}
	if config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create trace exporter: %w", err)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return nil
}

func (p *Provider) initMetricProvider(ctx context.Context, config *Config, res *resource.Resource) error {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(config.OTLPEndpoint)}
	if config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to create metric exporter: %w", err)
	}

	interval := config.ExportInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(p.meterProvider)
	return nil
}

func (p *Provider) initInstruments() error {
	var err error

	p.submitted, err = p.meter.Int64Counter("hive.snapshots.submitted",
		metric.WithDescription("Snapshot submission attempts by outcome"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return err
	}

	p.reconciliations, err = p.meter.Int64Counter("hive.chain.reconciliations",
		metric.WithDescription("Times the chain head was reloaded from L0"),
		metric.WithUnit("{reconciliation}"),
	)
	if err != nil {
		return err
	}

	p.submitDuration, err = p.meter.Float64Histogram("hive.submit.duration",
		metric.WithDescription("Submission attempt duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return err
	}

	p.cycleErrors, err = p.meter.Int64Counter("hive.cycle.errors",
		metric.WithDescription("Cycle failures before submission"),
		metric.WithUnit("{error}"),
	)
	return err
}

// Shutdown flushes and stops exporters.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown trace provider", "error", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			p.logger.ErrorContext(ctx, "failed to shutdown metric provider", "error", err)
		}
	}
	return nil
}

// StartSpan starts a new span with the given name.
func (p *Provider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (p *Provider) RecordSubmission(ctx context.Context, outcome, reason string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome), attribute.String("reason", reason))
	p.submitted.Add(ctx, 1, attrs)
	p.submitDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (p *Provider) RecordReconciliation(ctx context.Context, cause string) {
	p.reconciliations.Add(ctx, 1, metric.WithAttributes(attribute.String("cause", cause)))
}

func (p *Provider) RecordCycleError(ctx context.Context, stage string) {
	p.cycleErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
}
