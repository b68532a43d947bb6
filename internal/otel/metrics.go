// Package otel provides OpenTelemetry metrics for the delivery pipeline.
package otel

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsConfig holds configuration for pipeline metrics.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active. Default: false.
	Enabled bool

	// ServiceName attributes metrics to the instrumented service.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// ExporterType specifies which exporter to use.
	ExporterType ExporterType

	// OTLPEndpoint is the endpoint for OTLP exporters.
	OTLPEndpoint string

	// OTLPInsecure disables TLS for OTLP connections.
	OTLPInsecure bool

	// Attributes are additional attributes added to all metrics.
	Attributes map[string]string
}

// DefaultMetricsConfig returns a default configuration with metrics disabled.
func DefaultMetricsConfig() *MetricsConfig {
	return &MetricsConfig{
		Enabled:      false,
		ServiceName:  "pulsewire",
		ExporterType: ExporterNone,
	}
}

// PipelineCounters feeds the observable instruments. The callbacks are read
// on the exporter's schedule; they must be cheap and safe to call from any
// goroutine.
type PipelineCounters struct {
	EventsAdded   func() int64
	EventsDeduped func() int64
	EventsLost    func() int64
	PendingEvents func() int64
	BreakerState  func() int64
}

// Metrics wraps OpenTelemetry metrics for the pipeline. Owned by the
// Pipeline instance; no package-level singleton.
type Metrics struct {
	config        *MetricsConfig
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	shutdown      func(context.Context) error

	deliveryLatency metric.Float64Histogram
	batchCounter    metric.Int64Counter
	callbackReg     metric.Registration
}

// NewMetrics creates a Metrics instance with the given configuration.
func NewMetrics(ctx context.Context, cfg *MetricsConfig) (*Metrics, error) {
	if cfg == nil {
		cfg = DefaultMetricsConfig()
	}

	m := &Metrics{config: cfg}

	if !cfg.Enabled || cfg.ExporterType == ExporterNone {
		m.meterProvider = sdkmetric.NewMeterProvider()
		m.meter = m.meterProvider.Meter(cfg.ServiceName)
		m.shutdown = func(context.Context) error { return nil }
		return m, nil
	}

	exporter, err := m.createExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics exporter: %w", err)
	}

	res, err := newResource(cfg.ServiceName, cfg.ServiceVersion, cfg.Attributes)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics resource: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)

	m.meterProvider = mp
	m.meter = mp.Meter(cfg.ServiceName)
	m.shutdown = mp.Shutdown

	if err := m.registerInstruments(); err != nil {
		return nil, fmt.Errorf("failed to register metric instruments: %w", err)
	}

	return m, nil
}

// createExporter creates the appropriate metrics exporter based on configuration.
func (m *Metrics) createExporter(ctx context.Context, cfg *MetricsConfig) (sdkmetric.Exporter, error) {
	switch cfg.ExporterType {
	case ExporterStdout:
		return stdoutmetric.New()

	case ExporterOTLPGRPC:
		opts := []otlpmetricgrpc.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, opts...)

	case ExporterOTLPHTTP:
		opts := []otlpmetrichttp.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)

	default:
		return nil, fmt.Errorf("unknown exporter type: %s", cfg.ExporterType)
	}
}

// registerInstruments creates the synchronous metric instruments.
func (m *Metrics) registerInstruments() error {
	var err error

	m.deliveryLatency, err = m.meter.Float64Histogram(
		"pulsewire.delivery.latency",
		metric.WithDescription("Latency of batch delivery attempts, including retries"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return fmt.Errorf("failed to create delivery latency histogram: %w", err)
	}

	m.batchCounter, err = m.meter.Int64Counter(
		"pulsewire.batches",
		metric.WithDescription("Count of flushed batches by outcome"),
	)
	if err != nil {
		return fmt.Errorf("failed to create batch counter: %w", err)
	}

	return nil
}

// ObservePipeline registers observable instruments backed by the pipeline's
// live counters. Call at most once.
func (m *Metrics) ObservePipeline(c PipelineCounters) error {
	added, err := m.meter.Int64ObservableCounter(
		"pulsewire.events.added",
		metric.WithDescription("Events accepted into the batch queue"),
	)
	if err != nil {
		return err
	}
	deduped, err := m.meter.Int64ObservableCounter(
		"pulsewire.events.deduped",
		metric.WithDescription("Events rejected by the dedup window"),
	)
	if err != nil {
		return err
	}
	lost, err := m.meter.Int64ObservableCounter(
		"pulsewire.events.lost",
		metric.WithDescription("Events dropped after delivery gave up"),
	)
	if err != nil {
		return err
	}
	pending, err := m.meter.Int64ObservableGauge(
		"pulsewire.events.pending",
		metric.WithDescription("Events currently waiting in the batch queue"),
	)
	if err != nil {
		return err
	}
	breakerState, err := m.meter.Int64ObservableGauge(
		"pulsewire.breaker.state",
		metric.WithDescription("Circuit breaker state (0=closed, 1=open, 2=half-open)"),
	)
	if err != nil {
		return err
	}

	m.callbackReg, err = m.meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			o.ObserveInt64(added, c.EventsAdded())
			o.ObserveInt64(deduped, c.EventsDeduped())
			o.ObserveInt64(lost, c.EventsLost())
			o.ObserveInt64(pending, c.PendingEvents())
			o.ObserveInt64(breakerState, c.BreakerState())
			return nil
		},
		added, deduped, lost, pending, breakerState,
	)
	return err
}

// RecordDelivery records the outcome and latency of one flushed batch.
func (m *Metrics) RecordDelivery(ctx context.Context, batchSize int, delivered bool, latencyMs float64) {
	if m.deliveryLatency != nil {
		m.deliveryLatency.Record(ctx, latencyMs, metric.WithAttributes(
			attribute.Bool("delivered", delivered),
		))
	}
	if m.batchCounter != nil {
		m.batchCounter.Add(ctx, 1, metric.WithAttributes(
			attribute.Bool("delivered", delivered),
			attribute.Int("batch_size", batchSize),
		))
	}
}

// Shutdown gracefully shuts down the metrics provider.
func (m *Metrics) Shutdown(ctx context.Context) error {
	if m.callbackReg != nil {
		if err := m.callbackReg.Unregister(); err != nil {
			return fmt.Errorf("failed to unregister pipeline callback: %w", err)
		}
	}
	if m.shutdown != nil {
		return m.shutdown(ctx)
	}
	return nil
}

// Enabled returns whether metrics collection is enabled.
func (m *Metrics) Enabled() bool {
	return m.config.Enabled && m.config.ExporterType != ExporterNone
}

// NoopMetrics returns a metrics instance that does nothing.
func NoopMetrics() *Metrics {
	cfg := DefaultMetricsConfig()
	mp := sdkmetric.NewMeterProvider()
	return &Metrics{
		config:        cfg,
		meterProvider: mp,
		meter:         mp.Meter(cfg.ServiceName),
		shutdown:      func(context.Context) error { return nil },
	}
}
