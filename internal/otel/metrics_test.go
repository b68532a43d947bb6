package otel

import (
	"context"
	"testing"
)

func TestDefaultMetricsConfig(t *testing.T) {
	cfg := DefaultMetricsConfig()
	if cfg == nil {
		t.Fatal("DefaultMetricsConfig returned nil")
	}
	if cfg.Enabled {
		t.Error("expected metrics to be disabled by default")
	}
	if cfg.ServiceName != "pulsewire" {
		t.Errorf("expected service name 'pulsewire', got %q", cfg.ServiceName)
	}
	if cfg.ExporterType != ExporterNone {
		t.Errorf("expected ExporterNone, got %v", cfg.ExporterType)
	}
}

func TestNewMetricsDisabled(t *testing.T) {
	ctx := context.Background()

	m, err := NewMetrics(ctx, DefaultMetricsConfig())
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	defer m.Shutdown(ctx)

	if m.Enabled() {
		t.Error("expected metrics to be disabled")
	}
}

func TestNewMetricsWithNilConfig(t *testing.T) {
	ctx := context.Background()

	m, err := NewMetrics(ctx, nil)
	if err != nil {
		t.Fatalf("NewMetrics with nil config failed: %v", err)
	}
	defer m.Shutdown(ctx)

	if m.Enabled() {
		t.Error("expected metrics to be disabled with nil config")
	}
}

func TestNewMetricsStdoutExporter(t *testing.T) {
	ctx := context.Background()
	cfg := &MetricsConfig{
		Enabled:      true,
		ServiceName:  "test-service",
		ExporterType: ExporterStdout,
	}

	m, err := NewMetrics(ctx, cfg)
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	defer m.Shutdown(ctx)

	if !m.Enabled() {
		t.Error("expected metrics to be enabled")
	}
}

func TestNewMetricsUnknownExporter(t *testing.T) {
	ctx := context.Background()
	cfg := &MetricsConfig{
		Enabled:      true,
		ServiceName:  "test-service",
		ExporterType: ExporterType("bogus"),
	}

	if _, err := NewMetrics(ctx, cfg); err == nil {
		t.Fatal("expected an error for an unknown exporter type")
	}
}

func TestRecordDelivery(t *testing.T) {
	ctx := context.Background()
	cfg := &MetricsConfig{
		Enabled:      true,
		ServiceName:  "test-service",
		ExporterType: ExporterStdout,
	}

	m, err := NewMetrics(ctx, cfg)
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	defer m.Shutdown(ctx)

	// No assertions - just verify recording doesn't panic.
	m.RecordDelivery(ctx, 10, true, 42.5)
	m.RecordDelivery(ctx, 3, false, 1250.0)
}

func TestRecordDeliveryDisabled(t *testing.T) {
	ctx := context.Background()

	m, err := NewMetrics(ctx, DefaultMetricsConfig())
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	defer m.Shutdown(ctx)

	// Instruments are not registered when disabled; recording must be a
	// safe no-op.
	m.RecordDelivery(ctx, 10, true, 42.5)
}

func TestObservePipeline(t *testing.T) {
	ctx := context.Background()
	cfg := &MetricsConfig{
		Enabled:      true,
		ServiceName:  "test-service",
		ExporterType: ExporterStdout,
	}

	m, err := NewMetrics(ctx, cfg)
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}

	err = m.ObservePipeline(PipelineCounters{
		EventsAdded:   func() int64 { return 12 },
		EventsDeduped: func() int64 { return 1 },
		EventsLost:    func() int64 { return 0 },
		PendingEvents: func() int64 { return 2 },
		BreakerState:  func() int64 { return 0 },
	})
	if err != nil {
		t.Fatalf("ObservePipeline failed: %v", err)
	}

	// Shutdown unregisters the callback before stopping the provider.
	if err := m.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestObservePipelineDisabled(t *testing.T) {
	ctx := context.Background()

	m, err := NewMetrics(ctx, DefaultMetricsConfig())
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}
	defer m.Shutdown(ctx)

	// The disabled provider has no reader; registration still succeeds and
	// the callbacks are simply never invoked.
	err = m.ObservePipeline(PipelineCounters{
		EventsAdded:   func() int64 { return 0 },
		EventsDeduped: func() int64 { return 0 },
		EventsLost:    func() int64 { return 0 },
		PendingEvents: func() int64 { return 0 },
		BreakerState:  func() int64 { return 0 },
	})
	if err != nil {
		t.Fatalf("ObservePipeline failed: %v", err)
	}
}

func TestNoopMetrics(t *testing.T) {
	m := NoopMetrics()

	if m.Enabled() {
		t.Error("expected noop metrics to report disabled")
	}

	ctx := context.Background()
	m.RecordDelivery(ctx, 5, true, 10.0)

	if err := m.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestMetricsShutdownWithoutObserve(t *testing.T) {
	ctx := context.Background()
	cfg := &MetricsConfig{
		Enabled:      true,
		ServiceName:  "test-service",
		ExporterType: ExporterStdout,
	}

	m, err := NewMetrics(ctx, cfg)
	if err != nil {
		t.Fatalf("NewMetrics failed: %v", err)
	}

	// No callback registered; Shutdown only stops the provider.
	if err := m.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestMetricsWithCustomAttributes(t *testing.T) {
	ctx := context.Background()
	cfg := &MetricsConfig{
		Enabled:        true,
		ServiceName:    "test-service",
		ServiceVersion: "1.2.3",
		ExporterType:   ExporterStdout,
		Attributes: map[string]string{
			"environment": "test",
		},
	}

	m, err := NewMetrics(ctx, cfg)
	if err != nil {
		t.Fatalf("NewMetrics with attributes failed: %v", err)
	}
	defer m.Shutdown(ctx)

	if !m.Enabled() {
		t.Error("expected metrics to be enabled")
	}
}
