// Package events provides structured logging for key pipeline events.
package events

import (
	"io"
	"log/slog"
	"os"
)

// Logger emits JSON log lines for notable pipeline events. It is purely
// observational: nothing in the pipeline changes behavior based on logging.
type Logger struct {
	logger *slog.Logger
}

// New creates a Logger writing JSON to stderr with the service name as a
// base attribute. debug lowers the handler level to Debug.
func New(serviceName string, debug bool) *Logger {
	return NewWithWriter(serviceName, debug, os.Stderr)
}

// NewWithWriter creates a Logger writing to a custom writer. Useful for
// testing or redirecting output.
func NewWithWriter(serviceName string, debug bool, w io.Writer) *Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return &Logger{
		logger: slog.New(handler).With("service", serviceName),
	}
}

// Noop returns a logger that discards all events.
func Noop() *Logger {
	handler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelInfo})
	return &Logger{logger: slog.New(handler)}
}

// LogBreakerTransition logs a circuit breaker state change.
// event: "breaker_transition"
func (l *Logger) LogBreakerTransition(from, to string, failureCount int) {
	l.logger.Warn("breaker_transition",
		"from", from,
		"to", to,
		"failure_count", failureCount,
	)
}

// LogRetry logs a delivery retry with its backoff.
// event: "delivery_retry"
func (l *Logger) LogRetry(attempt int, reason string, backoffMs int64) {
	l.logger.Debug("delivery_retry",
		"attempt", attempt,
		"reason", reason,
		"backoff_ms", backoffMs,
	)
}

// LogDeliveryRejected logs a fast-fail where the breaker denied the attempt.
// event: "delivery_rejected"
func (l *Logger) LogDeliveryRejected(batchSize int) {
	l.logger.Debug("delivery_rejected",
		"batch_size", batchSize,
	)
}

// LogDeliveryExhausted logs a batch permanently failing this round.
// event: "delivery_exhausted"
func (l *Logger) LogDeliveryExhausted(batchSize, attempts int) {
	l.logger.Warn("delivery_exhausted",
		"batch_size", batchSize,
		"attempts", attempts,
	)
}

// LogFlush logs the outcome of one flush cycle.
// event: "flush"
func (l *Logger) LogFlush(batchSize int, delivered bool, durationMs int64) {
	l.logger.Debug("flush",
		"batch_size", batchSize,
		"delivered", delivered,
		"duration_ms", durationMs,
	)
}

// LogBatchDropped logs silent data loss after delivery gave up.
// event: "batch_dropped"
func (l *Logger) LogBatchDropped(batchSize int, reason string) {
	l.logger.Warn("batch_dropped",
		"batch_size", batchSize,
		"reason", reason,
	)
}

// LogDedupDrop logs an event rejected by the dedup window.
// event: "dedup_drop"
func (l *Logger) LogDedupDrop(requestID string) {
	l.logger.Debug("dedup_drop",
		"request_id", requestID,
	)
}

// LogEventSampledOut logs an event dropped by the sampling decision.
// event: "sampled_out"
func (l *Logger) LogEventSampledOut(requestID, route string) {
	l.logger.Debug("sampled_out",
		"request_id", requestID,
		"route", route,
	)
}

// LogHealthSnapshot logs a periodic process health capture.
// event: "health_snapshot"
func (l *Logger) LogHealthSnapshot(cpuPercent float64, memBytes uint64) {
	l.logger.Debug("health_snapshot",
		"cpu_percent", cpuPercent,
		"mem_bytes", memBytes,
	)
}
