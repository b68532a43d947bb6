// Package pulsewire embeds a telemetry delivery pipeline into HTTP
// middleware: per-request observations are sampled, batched, deduplicated
// and delivered to a remote ingestion endpoint without ever blocking request
// handling or surfacing pipeline failures to the application.
//
// A Pipeline is an explicitly constructed instance owned by the hosting
// application; multiple independently configured pipelines can coexist in
// one process.
package pulsewire

import (
	"context"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/bc-dunia/pulsewire/batcher"
	"github.com/bc-dunia/pulsewire/breaker"
	"github.com/bc-dunia/pulsewire/event"
	"github.com/bc-dunia/pulsewire/internal/events"
	"github.com/bc-dunia/pulsewire/internal/health"
	"github.com/bc-dunia/pulsewire/internal/otel"
	"github.com/bc-dunia/pulsewire/sampling"
	"github.com/bc-dunia/pulsewire/sender"
	"github.com/bc-dunia/pulsewire/transport"
)

// Pipeline owns the full delivery chain: sampling engine, batcher, retrying
// sender, circuit breaker and transport. Data flows one direction, hook to
// network; control flows back as booleans.
type Pipeline struct {
	cfg     Config
	log     *events.Logger
	engine  *sampling.Engine
	breaker *breaker.Breaker
	sender  *sender.Sender
	batcher *batcher.Batcher
	tracer  *otel.Tracer
	metrics *otel.Metrics
	health  *health.Monitor

	routeFunc  func(*http.Request) string
	httpClient *http.Client
	logWriter  io.Writer
}

// Stats aggregates the pipeline's live counters.
type Stats struct {
	Batcher batcher.Stats
	Sender  sender.Stats
	Breaker breaker.Snapshot
}

// New constructs a pipeline from cfg. The background flush timer starts
// immediately; callers should defer Stop.
func New(cfg Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	p := &Pipeline{cfg: cfg, logWriter: os.Stderr}
	for _, opt := range opts {
		opt(p)
	}

	p.log = events.NewWithWriter(cfg.ServiceName, cfg.Debug, p.logWriter)
	p.engine = sampling.NewEngine(cfg.Sampling)
	p.breaker = breaker.New(cfg.Breaker)

	tracer, metrics, err := p.buildObservability(cfg)
	if err != nil {
		return nil, err
	}
	p.tracer = tracer
	p.metrics = metrics

	client := transport.New(transport.Config{
		EndpointURL: cfg.IngestionURL,
		APIKey:      cfg.APIKey,
		Timeout:     cfg.DeliveryTimeout,
		HTTPClient:  p.httpClient,
	})

	p.sender = sender.New(cfg.RetryOptions, client, p.breaker, p.log)

	p.batcher = batcher.New(
		&batcher.Config{BatchSize: cfg.BatchSize, FlushInterval: cfg.BatchInterval},
		&meteredDeliverer{inner: p.sender, metrics: p.metrics},
		p.log,
		p.tracer.Tracer(),
	)

	if err := p.metrics.ObservePipeline(otel.PipelineCounters{
		EventsAdded:   func() int64 { return p.batcher.Stats().Added },
		EventsDeduped: func() int64 { return p.batcher.Stats().Deduped },
		EventsLost:    func() int64 { return p.batcher.Stats().Dropped },
		PendingEvents: func() int64 { return int64(p.batcher.Len()) },
		BreakerState:  func() int64 { return int64(p.breaker.State()) },
	}); err != nil {
		return nil, err
	}

	p.health = health.New(cfg.ServiceName, cfg.HealthSnapshotInterval, p.batcher.Add, p.log)

	return p, nil
}

func (p *Pipeline) buildObservability(cfg Config) (*otel.Tracer, *otel.Metrics, error) {
	obs := cfg.Observability
	if obs == nil {
		return otel.NoopTracer(), otel.NoopMetrics(), nil
	}

	ctx := context.Background()
	exporter := otel.ExporterType(obs.Exporter)
	if exporter == "" {
		exporter = otel.ExporterStdout
	}

	tracer, err := otel.NewTracer(ctx, &otel.Config{
		Enabled:        obs.TracesEnabled,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: obs.ServiceVersion,
		ExporterType:   exporter,
		OTLPEndpoint:   obs.OTLPEndpoint,
		OTLPInsecure:   obs.OTLPInsecure,
		Attributes:     obs.Attributes,
	})
	if err != nil {
		return nil, nil, err
	}

	metrics, err := otel.NewMetrics(ctx, &otel.MetricsConfig{
		Enabled:        obs.MetricsEnabled,
		ServiceName:    cfg.ServiceName,
		ServiceVersion: obs.ServiceVersion,
		ExporterType:   exporter,
		OTLPEndpoint:   obs.OTLPEndpoint,
		OTLPInsecure:   obs.OTLPInsecure,
		Attributes:     obs.Attributes,
	})
	if err != nil {
		return nil, nil, err
	}

	return tracer, metrics, nil
}

// Submit applies sampling to ev and queues it when kept. The middleware uses
// it internally; applications can also call it to record custom events.
func (p *Pipeline) Submit(ev event.TelemetryEvent) {
	if !p.engine.ShouldSample(&ev) {
		p.log.LogEventSampledOut(ev.RequestID, ev.Route)
		return
	}
	p.batcher.Add(ev)
}

// Flush forces delivery of currently queued events. Concurrent flushes are
// absorbed by the batcher's single-flight guard.
func (p *Pipeline) Flush(ctx context.Context) {
	p.batcher.Flush(ctx)
}

// Stop cancels background work and shuts down observability exporters. It
// does not force a final flush; call Flush first to drain on exit.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.health.Stop()
	p.batcher.Stop()

	if err := p.tracer.Shutdown(ctx); err != nil {
		return err
	}
	return p.metrics.Shutdown(ctx)
}

// Stats returns the pipeline's live counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Batcher: p.batcher.Stats(),
		Sender:  p.sender.Stats(),
		Breaker: p.breaker.Snapshot(),
	}
}

// meteredDeliverer wraps the sender to record per-batch delivery metrics.
type meteredDeliverer struct {
	inner   batcher.Deliverer
	metrics *otel.Metrics
}

func (d *meteredDeliverer) Deliver(ctx context.Context, batch []event.TelemetryEvent) bool {
	start := time.Now()
	ok := d.inner.Deliver(ctx, batch)
	d.metrics.RecordDelivery(ctx, len(batch), ok, float64(time.Since(start).Milliseconds()))
	return ok
}
