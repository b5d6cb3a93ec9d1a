// Package telemetry provides OpenTelemetry instrumentation and structured
// logging for snaptag.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/snaptag/internal/config"
)

// Provider wraps OTEL tracer and meter providers.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter

	extraReaders   []sdkmetric.Reader
	extraExporters []sdktrace.SpanExporter

	// Metrics
	runs             metric.Int64Counter
	runDuration      metric.Float64Histogram
	snapshots        metric.Int64Counter
	tagWrites        metric.Int64Counter
	unresolvedTags   metric.Int64Counter
	complianceErrors metric.Int64Counter
}

// Option customizes a Provider.
type Option func(*Provider)

// WithMetricReader attaches an additional metric reader.
func WithMetricReader(r sdkmetric.Reader) Option {
	return func(p *Provider) { p.extraReaders = append(p.extraReaders, r) }
}

// WithSpanExporter attaches an additional synchronous span exporter.
func WithSpanExporter(e sdktrace.SpanExporter) Option {
	return func(p *Provider) { p.extraExporters = append(p.extraExporters, e) }
}

// NewProvider creates a new telemetry provider.
func NewProvider(ctx context.Context, cfg config.OTELConfig, opts ...Option) (*Provider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	p := &Provider{}
	for _, opt := range opts {
		opt(p)
	}

	if err := p.setupTracing(ctx, cfg, res); err != nil {
		return nil, err
	}

	if err := p.setupMetrics(ctx, cfg, res); err != nil {
		if p.tracerProvider != nil {
			_ = p.tracerProvider.Shutdown(ctx)
		}
		return nil, err
	}

	if err := p.initMetrics(); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Provider) setupTracing(ctx context.Context, cfg config.OTELConfig, res *resource.Resource) error {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
	}

	if cfg.Traces.Enabled && cfg.Endpoint != "" {
		exp, err := createTraceExporter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create trace exporter: %w", err)
		}
		sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Traces.SampleRate))
		opts = append(opts, sdktrace.WithBatcher(exp), sdktrace.WithSampler(sampler))
	}
	for _, exp := range p.extraExporters {
		opts = append(opts, sdktrace.WithSyncer(exp))
	}

	p.tracerProvider = sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(p.tracerProvider)
	p.tracer = p.tracerProvider.Tracer("snaptag")

	return nil
}

func (p *Provider) setupMetrics(ctx context.Context, cfg config.OTELConfig, res *resource.Resource) error {
	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
	}

	if cfg.Metrics.Enabled && cfg.Endpoint != "" {
		exp, err := createMetricExporter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
	}

	if cfg.Metrics.Prometheus {
		exp, err := otelprom.New()
		if err != nil {
			return fmt.Errorf("create prometheus exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(exp))
	}

	for _, r := range p.extraReaders {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	p.meterProvider = sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(p.meterProvider)
	p.meter = p.meterProvider.Meter("snaptag")

	return nil
}

func createTraceExporter(ctx context.Context, cfg config.OTELConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.New(ctx, opts...)
}

func createMetricExporter(ctx context.Context, cfg config.OTELConfig) (sdkmetric.Exporter, error) {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	return otlpmetricgrpc.New(ctx, opts...)
}

func (p *Provider) initMetrics() error {
	var err error

	p.runs, err = p.meter.Int64Counter(
		"snaptag_runs_total",
		metric.WithDescription("Reconciliation passes by final status"),
	)
	if err != nil {
		return fmt.Errorf("create runs: %w", err)
	}

	p.runDuration, err = p.meter.Float64Histogram(
		"snaptag_run_duration_seconds",
		metric.WithDescription("Duration of reconciliation passes"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create run_duration: %w", err)
	}

	p.snapshots, err = p.meter.Int64Counter(
		"snaptag_snapshots_total",
		metric.WithDescription("Non-compliant snapshots processed by outcome state"),
	)
	if err != nil {
		return fmt.Errorf("create snapshots: %w", err)
	}

	p.tagWrites, err = p.meter.Int64Counter(
		"snaptag_tag_writes_total",
		metric.WithDescription("Tag writes by value source and status"),
	)
	if err != nil {
		return fmt.Errorf("create tag_writes: %w", err)
	}

	p.unresolvedTags, err = p.meter.Int64Counter(
		"snaptag_unresolved_tags_total",
		metric.WithDescription("Required tags missing on both snapshot and parent instance"),
	)
	if err != nil {
		return fmt.Errorf("create unresolved_tags: %w", err)
	}

	p.complianceErrors, err = p.meter.Int64Counter(
		"snaptag_compliance_errors_total",
		metric.WithDescription("Failed compliance result page fetches"),
	)
	if err != nil {
		return fmt.Errorf("create compliance_errors: %w", err)
	}

	return nil
}

// Meter returns the meter.
func (p *Provider) Meter() metric.Meter {
	return p.meter
}

// StartSpan starts a new span.
func (p *Provider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordRun records a finished pass.
func (p *Provider) RecordRun(ctx context.Context, status string, d time.Duration) {
	attrs := metric.WithAttributes(attribute.String("status", status))
	p.runs.Add(ctx, 1, attrs)
	p.runDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordSnapshot records one snapshot outcome.
func (p *Provider) RecordSnapshot(ctx context.Context, state string) {
	p.snapshots.Add(ctx, 1, metric.WithAttributes(
		attribute.String("state", state),
	))
}

// RecordTagWrite records one tag write attempt.
func (p *Provider) RecordTagWrite(ctx context.Context, source string, ok bool) {
	status := "success"
	if !ok {
		status = "failed"
	}
	p.tagWrites.Add(ctx, 1, metric.WithAttributes(
		attribute.String("source", source),
		attribute.String("status", status),
	))
}

// RecordUnresolved records required tags left blank.
func (p *Provider) RecordUnresolved(ctx context.Context, count int) {
	if count <= 0 {
		return
	}
	p.unresolvedTags.Add(ctx, int64(count))
}

// RecordComplianceError records a failed compliance page fetch.
func (p *Provider) RecordComplianceError(ctx context.Context) {
	p.complianceErrors.Add(ctx, 1)
}

// Shutdown flushes and shuts down the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown tracer: %w", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown meter: %w", err)
		}
	}
	return nil
}
