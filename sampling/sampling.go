// Package sampling implements the keep-or-drop decision applied to telemetry
// events before they are queued. Decisions are deterministic: the final
// threshold check hashes the event's request ID, so re-evaluating the same
// logical request always yields the same answer.
package sampling

import (
	"github.com/cespare/xxhash/v2"

	"github.com/bc-dunia/pulsewire/event"
)

// RouteRule overrides the effective sampling rate for routes matching
// Pattern. Pattern is matched exactly, or as a glob where '*' expands to
// zero or more of any character.
type RouteRule struct {
	Pattern string
	Rate    float64
}

// StatusRule overrides the effective sampling rate for events whose status
// code is in Statuses, or (when Statuses is empty) within the inclusive
// [Min, Max] range.
type StatusRule struct {
	Statuses []int
	Min      int
	Max      int
	Rate     float64
}

// Verdict is the answer of a custom sampler callback. The zero value means
// "no opinion" and leaves the decision to the remaining rules.
type Verdict struct {
	hasBool bool
	keep    bool
	hasRate bool
	rate    float64
}

// Keep is a final decision to sample the event.
func Keep() Verdict { return Verdict{hasBool: true, keep: true} }

// Drop is a final decision to discard the event.
func Drop() Verdict { return Verdict{hasBool: true, keep: false} }

// Rate replaces the effective sampling rate and lets the threshold check run.
func Rate(r float64) Verdict { return Verdict{hasRate: true, rate: r} }

// NoOpinion defers to the configured rules.
func NoOpinion() Verdict { return Verdict{} }

// Config holds the sampling configuration. A nil Config samples everything.
type Config struct {
	// Rate is the base sampling rate in [0,1]. Nil defaults to 1.
	Rate *float64

	// AlwaysSampleErrors keeps every event with status >= 400 or a non-empty
	// error type, regardless of rate. Nil defaults to true.
	AlwaysSampleErrors *bool

	// AlwaysSampleSlowMs keeps every event at least this many milliseconds
	// long. Zero disables the override.
	AlwaysSampleSlowMs int64

	// RouteRules are evaluated in order; the first matching rule overrides
	// the base rate.
	RouteRules []RouteRule

	// StatusRules are evaluated in order after route rules; the first
	// matching rule overrides the effective rate.
	StatusRules []StatusRule

	// Priority, when set and returning a positive number, multiplies the
	// effective rate (clamped back into [0,1]).
	Priority func(*event.TelemetryEvent) float64

	// Custom, when set, is consulted last. A Keep/Drop verdict is final; a
	// Rate verdict replaces the effective rate before the threshold check.
	Custom func(*event.TelemetryEvent) Verdict

	// HashSalt is mixed into the request-ID hash used by the threshold check.
	HashSalt string
}

// Float returns a pointer to v, for use in Config literals.
func Float(v float64) *float64 { return &v }

// Bool returns a pointer to v, for use in Config literals.
func Bool(v bool) *bool { return &v }

// Engine makes sampling decisions for a fixed configuration. A nil-config
// engine samples everything.
type Engine struct {
	cfg          *Config
	baseRate     float64
	sampleErrors bool
}

// NewEngine builds an engine from cfg, applying defaults. cfg may be nil.
func NewEngine(cfg *Config) *Engine {
	e := &Engine{cfg: cfg, baseRate: 1, sampleErrors: true}
	if cfg == nil {
		return e
	}
	if cfg.Rate != nil {
		e.baseRate = clamp01(*cfg.Rate)
	}
	if cfg.AlwaysSampleErrors != nil {
		e.sampleErrors = *cfg.AlwaysSampleErrors
	}
	return e
}

// ShouldSample decides whether ev is kept. It never mutates ev and is
// deterministic for a fixed request ID and configuration.
func (e *Engine) ShouldSample(ev *event.TelemetryEvent) bool {
	if e.cfg == nil {
		return true
	}

	if e.sampleErrors && (ev.StatusCode >= 400 || ev.HasError()) {
		return true
	}

	if e.cfg.AlwaysSampleSlowMs > 0 && ev.DurationMs >= e.cfg.AlwaysSampleSlowMs {
		return true
	}

	rate := e.baseRate

	for _, rule := range e.cfg.RouteRules {
		if matchRoute(rule.Pattern, ev.Route) {
			rate = clamp01(rule.Rate)
			break
		}
	}

	for _, rule := range e.cfg.StatusRules {
		if rule.matches(ev.StatusCode) {
			rate = clamp01(rule.Rate)
			break
		}
	}

	if e.cfg.Priority != nil {
		if mult := e.cfg.Priority(ev); mult > 0 {
			rate = clamp01(rate * mult)
		}
	}

	if e.cfg.Custom != nil {
		v := e.cfg.Custom(ev)
		if v.hasBool {
			return v.keep
		}
		if v.hasRate {
			rate = clamp01(v.rate)
		}
	}

	if rate >= 1 {
		return true
	}
	if rate <= 0 {
		return false
	}

	return e.hashFraction(ev.RequestID) < rate
}

func (r StatusRule) matches(status int) bool {
	if len(r.Statuses) > 0 {
		for _, s := range r.Statuses {
			if s == status {
				return true
			}
		}
		return false
	}
	return r.Min <= status && status <= r.Max && r.Max > 0
}

// hashFraction maps a request ID to a stable value in [0,1).
func (e *Engine) hashFraction(requestID string) float64 {
	h := xxhash.Sum64String(requestID + e.cfg.HashSalt)
	// Top 53 bits so the quotient is exactly representable as a float64.
	return float64(h>>11) / float64(1<<53)
}

// matchRoute matches route against pattern, where '*' expands to zero or
// more of any character and everything else matches literally.
func matchRoute(pattern, route string) bool {
	if pattern == route {
		return true
	}

	// Greedy two-pointer glob match with backtracking on the last '*'.
	pi, ri := 0, 0
	star, mark := -1, 0
	for ri < len(route) {
		switch {
		case pi < len(pattern) && (pattern[pi] == route[ri]):
			pi++
			ri++
		case pi < len(pattern) && pattern[pi] == '*':
			star = pi
			mark = ri
			pi++
		case star >= 0:
			pi = star + 1
			mark++
			ri = mark
		default:
			return false
		}
	}
	for pi < len(pattern) && pattern[pi] == '*' {
		pi++
	}
	return pi == len(pattern)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
