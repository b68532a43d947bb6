// Package health periodically captures process resource usage and feeds it
// into the telemetry pipeline as synthetic service_health events.
package health

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/bc-dunia/pulsewire/event"
	"github.com/bc-dunia/pulsewire/internal/events"
)

// HealthRoute marks synthetic health events so dashboards can separate them
// from request telemetry.
const HealthRoute = "_pulsewire/health"

// Monitor emits one service_health event per interval. Snapshots bypass
// sampling: they are low-volume by construction.
type Monitor struct {
	serviceName string
	interval    time.Duration
	submit      func(event.TelemetryEvent)
	log         *events.Logger

	proc   *process.Process
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a monitor submitting snapshots via submit every interval.
// Returns nil when interval is zero (monitoring disabled).
func New(serviceName string, interval time.Duration, submit func(event.TelemetryEvent), log *events.Logger) *Monitor {
	if interval <= 0 {
		return nil
	}
	if log == nil {
		log = events.Noop()
	}

	// Process handle creation only fails for a vanished pid; our own pid
	// always resolves, but degrade to runtime-only stats if it somehow does.
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		proc = nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Monitor{
		serviceName: serviceName,
		interval:    interval,
		submit:      submit,
		log:         log,
		proc:        proc,
		cancel:      cancel,
	}

	m.wg.Add(1)
	go m.loop(ctx)

	return m
}

// Stop cancels the snapshot loop.
func (m *Monitor) Stop() {
	if m == nil {
		return
	}
	m.cancel()
	m.wg.Wait()
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.capture()
		}
	}
}

func (m *Monitor) capture() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	var cpuPercent float64
	var rss uint64
	if m.proc != nil {
		if pct, err := m.proc.CPUPercent(); err == nil {
			cpuPercent = pct
		}
		if mem, err := m.proc.MemoryInfo(); err == nil && mem != nil {
			rss = mem.RSS
		}
	}
	if rss == 0 {
		rss = memStats.Alloc
	}

	m.log.LogHealthSnapshot(cpuPercent, rss)

	m.submit(event.TelemetryEvent{
		RequestID:   event.NewRequestID(),
		ServiceName: m.serviceName,
		Route:       HealthRoute,
		Method:      "INTERNAL",
		Timestamp:   time.Now(),
		Metadata: map[string]any{
			"type":        "service_health",
			"cpu_percent": cpuPercent,
			"mem_bytes":   rss,
			"heap_bytes":  memStats.Alloc,
			"goroutines":  runtime.NumGoroutine(),
		},
	})
}
