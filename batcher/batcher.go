// Package batcher accumulates accepted telemetry events, deduplicates them
// against a bounded window of recent request IDs, and flushes size- or
// timer-triggered batches through the retrying sender.
package batcher

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/bc-dunia/pulsewire/event"
	"github.com/bc-dunia/pulsewire/internal/events"
)

// dedupWindowSize bounds the recent-ids window (oldest evicted first).
const dedupWindowSize = 1000

// Deliverer sends one batch, reporting acceptance as a boolean.
// Satisfied by *sender.Sender.
type Deliverer interface {
	Deliver(ctx context.Context, batch []event.TelemetryEvent) bool
}

// Config holds the batcher flush triggers.
type Config struct {
	// BatchSize is the queue-size flush trigger. Default: 10.
	BatchSize int

	// FlushInterval is the timer flush trigger, so low-traffic services
	// still deliver within a bounded latency. Default: 5s.
	FlushInterval time.Duration
}

// DefaultConfig returns the default flush triggers.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:     10,
		FlushInterval: 5 * time.Second,
	}
}

// Stats holds cumulative batcher counters.
type Stats struct {
	Added     int64
	Deduped   int64
	Flushes   int64
	Delivered int64
	Dropped   int64
	Pending   int
}

// Batcher owns the pending queue and dedup window exclusively; all other
// components interact with it through Add, Flush and Stop.
type Batcher struct {
	cfg       Config
	deliverer Deliverer
	log       *events.Logger
	tracer    trace.Tracer

	mu      sync.Mutex
	pending []event.TelemetryEvent
	dedup   *dedupWindow

	// Single-flight guard: a flush triggered while one is in progress is
	// skipped entirely; the next trigger catches the remainder.
	flushing atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup

	added     atomic.Int64
	deduped   atomic.Int64
	flushes   atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64
}

// New creates a batcher and starts its background flush timer. cfg may be
// nil for defaults; log may be nil to disable logging; tracer may be nil.
func New(cfg *Config, d Deliverer, log *events.Logger, tracer trace.Tracer) *Batcher {
	defaults := DefaultConfig()
	if cfg == nil {
		cfg = defaults
	}
	c := *cfg
	if c.BatchSize <= 0 {
		c.BatchSize = defaults.BatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaults.FlushInterval
	}
	if log == nil {
		log = events.Noop()
	}
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("pulsewire")
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Batcher{
		cfg:       c,
		deliverer: d,
		log:       log,
		tracer:    tracer,
		dedup:     newDedupWindow(dedupWindowSize),
		cancel:    cancel,
	}

	b.wg.Add(1)
	go b.timerLoop(ctx)

	return b
}

// Add queues ev unless its request ID was recently seen. Reaching the batch
// size threshold triggers an asynchronous flush; Add itself never blocks on
// network I/O.
func (b *Batcher) Add(ev event.TelemetryEvent) {
	b.mu.Lock()
	if b.dedup.Seen(ev.RequestID) {
		b.mu.Unlock()
		b.deduped.Add(1)
		b.log.LogDedupDrop(ev.RequestID)
		return
	}
	b.dedup.Record(ev.RequestID)
	b.pending = append(b.pending, ev)
	full := len(b.pending) >= b.cfg.BatchSize
	b.mu.Unlock()

	b.added.Add(1)

	if full {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.Flush(context.Background())
		}()
	}
}

// Flush snapshots and clears the pending queue atomically, then attempts
// delivery of the snapshot. Events added during the in-flight send start a
// fresh batch. Concurrent flush triggers are absorbed by the single-flight
// guard. On final delivery failure the snapshot is dropped, not re-queued.
func (b *Batcher) Flush(ctx context.Context) {
	if !b.flushing.CompareAndSwap(false, true) {
		return
	}
	defer b.flushing.Store(false)

	b.mu.Lock()
	snapshot := b.pending
	b.pending = nil
	b.mu.Unlock()

	if len(snapshot) == 0 {
		return
	}

	b.flushes.Add(1)

	ctx, span := b.tracer.Start(ctx, "pulsewire.flush",
		trace.WithAttributes(attribute.Int("batch_size", len(snapshot))),
	)
	defer span.End()

	start := time.Now()
	ok := b.deliverer.Deliver(ctx, snapshot)
	elapsed := time.Since(start)

	span.SetAttributes(attribute.Bool("delivered", ok))
	b.log.LogFlush(len(snapshot), ok, elapsed.Milliseconds())

	if ok {
		b.delivered.Add(int64(len(snapshot)))
		return
	}

	// Best effort: without a durable queue, a batch the sender gave up on
	// is lost rather than re-queued.
	b.dropped.Add(int64(len(snapshot)))
	b.log.LogBatchDropped(len(snapshot), "delivery failed")
}

// Stop cancels the background timer and waits for in-flight flushes. It does
// not force a final flush; callers needing drain-on-exit call Flush first.
func (b *Batcher) Stop() {
	b.cancel()
	b.wg.Wait()
}

// Len returns the number of currently pending events.
func (b *Batcher) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Stats returns cumulative batcher counters.
func (b *Batcher) Stats() Stats {
	b.mu.Lock()
	pending := len(b.pending)
	b.mu.Unlock()
	return Stats{
		Added:     b.added.Load(),
		Deduped:   b.deduped.Load(),
		Flushes:   b.flushes.Load(),
		Delivered: b.delivered.Load(),
		Dropped:   b.dropped.Load(),
		Pending:   pending,
	}
}

func (b *Batcher) timerLoop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			// Not the loop ctx: Stop cancelling the timer must not abort a
			// delivery already in flight; Stop waits on the WaitGroup instead.
			b.Flush(context.Background())
		}
	}
}
