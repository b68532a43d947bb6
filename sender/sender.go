// Package sender composes the delivery transport and circuit breaker into a
// best-effort "deliver this batch" operation with bounded retries and
// jittered exponential backoff.
package sender

import (
	"context"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/bc-dunia/pulsewire/breaker"
	"github.com/bc-dunia/pulsewire/event"
	"github.com/bc-dunia/pulsewire/internal/events"
	"github.com/bc-dunia/pulsewire/transport"
)

// Transport performs one delivery attempt. Satisfied by *transport.Client.
type Transport interface {
	Send(ctx context.Context, events []event.TelemetryEvent) transport.Result
}

// Config holds the retry policy. The sender is the single authoritative
// owner of retries; the transport never retries internally.
type Config struct {
	// MaxRetries is the total number of delivery attempts. Default: 3.
	MaxRetries int

	// BaseBackoff seeds the exponential backoff between attempts.
	// Default: 200ms.
	BaseBackoff time.Duration

	// MaxBackoff caps the exponential growth. Default: 5s.
	MaxBackoff time.Duration
}

// DefaultConfig returns the default retry policy.
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:  3,
		BaseBackoff: 200 * time.Millisecond,
		MaxBackoff:  5 * time.Second,
	}
}

// Stats holds cumulative sender counters.
type Stats struct {
	Delivered int64
	Rejected  int64
	Exhausted int64
	Attempts  int64
}

// Sender delivers batches through the breaker gate, feeding each attempt's
// outcome back into the breaker.
type Sender struct {
	cfg       Config
	transport Transport
	breaker   *breaker.Breaker
	log       *events.Logger

	delivered atomic.Int64
	rejected  atomic.Int64
	exhausted atomic.Int64
	attempts  atomic.Int64
}

// New creates a sender. cfg may be nil for defaults; log may be nil to
// disable logging.
func New(cfg *Config, t Transport, b *breaker.Breaker, log *events.Logger) *Sender {
	defaults := DefaultConfig()
	if cfg == nil {
		cfg = defaults
	}
	c := *cfg
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaults.MaxRetries
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = defaults.BaseBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaults.MaxBackoff
	}
	if log == nil {
		log = events.Noop()
	}
	return &Sender{cfg: c, transport: t, breaker: b, log: log}
}

// Deliver attempts to deliver events, returning true once the endpoint
// accepts them and false when the breaker denies the attempt or all retries
// are exhausted. Failure is reported, never propagated as an error; the
// caller decides whether to drop or log the batch.
func (s *Sender) Deliver(ctx context.Context, batch []event.TelemetryEvent) bool {
	if len(batch) == 0 {
		return true
	}

	for attempt := 0; attempt < s.cfg.MaxRetries; attempt++ {
		if !s.breaker.Allow() {
			// Fast fail: no network call while the endpoint is cooling off.
			s.rejected.Add(1)
			s.log.LogDeliveryRejected(len(batch))
			return false
		}

		if attempt > 0 {
			delay := s.backoffDelay(attempt)
			s.log.LogRetry(attempt, "delivery failed", delay.Milliseconds())
			select {
			case <-ctx.Done():
				return false
			case <-time.After(delay):
			}
		}

		s.attempts.Add(1)
		before := s.breaker.State()
		res := s.transport.Send(ctx, batch)
		if res.OK {
			s.breaker.RecordSuccess()
			s.logTransition(before)
			s.delivered.Add(1)
			return true
		}
		s.breaker.RecordFailure()
		s.logTransition(before)
	}

	s.exhausted.Add(1)
	s.log.LogDeliveryExhausted(len(batch), s.cfg.MaxRetries)
	return false
}

// backoffDelay returns min(base << attempt, cap) plus random jitter, so
// multiple instrumented processes do not retry in lockstep.
func (s *Sender) backoffDelay(attempt int) time.Duration {
	delay := s.cfg.BaseBackoff << (attempt - 1)
	if delay > s.cfg.MaxBackoff || delay <= 0 {
		delay = s.cfg.MaxBackoff
	}
	jitter := time.Duration(rand.Int64N(int64(s.cfg.BaseBackoff)))
	return delay + jitter
}

func (s *Sender) logTransition(before breaker.State) {
	snap := s.breaker.Snapshot()
	if snap.State != before {
		s.log.LogBreakerTransition(before.String(), snap.State.String(), snap.FailureCount)
	}
}

// Breaker exposes the underlying breaker for introspection.
func (s *Sender) Breaker() *breaker.Breaker {
	return s.breaker
}

// Stats returns cumulative delivery counters.
func (s *Sender) Stats() Stats {
	return Stats{
		Delivered: s.delivered.Load(),
		Rejected:  s.rejected.Load(),
		Exhausted: s.exhausted.Load(),
		Attempts:  s.attempts.Load(),
	}
}
