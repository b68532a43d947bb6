// Package breaker implements a three-state circuit breaker guarding the
// ingestion endpoint. It tracks delivery health across calls and
// short-circuits attempts during sustained failure, probing for recovery
// after a cooldown window.
package breaker

import (
	"sync"
	"time"
)

// State identifies the breaker position.
type State int

const (
	// Closed allows all requests (healthy endpoint).
	Closed State = iota
	// Open blocks all requests until the reset window elapses.
	Open
	// HalfOpen allows probe requests to test recovery.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Number of consecutive half-open successes required to close the breaker.
const halfOpenSuccessTarget = 3

// Config holds the breaker tuning knobs.
type Config struct {
	// FailureThreshold is the number of consecutive failures in the closed
	// state that trips the breaker open.
	FailureThreshold int

	// ResetWindow is how long the breaker stays open before allowing a
	// recovery probe.
	ResetWindow time.Duration
}

// DefaultConfig returns sensible breaker defaults.
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold: 5,
		ResetWindow:      30 * time.Second,
	}
}

// Snapshot is a point-in-time copy of the breaker state, for logging and
// tests.
type Snapshot struct {
	State           State
	FailureCount    int
	SuccessCount    int
	LastFailureTime time.Time

	// Transitions counts state changes since construction.
	Transitions int64
}

// Breaker is safe for concurrent use. All field changes go through the
// transition methods; Allow/RecordSuccess/RecordFailure never block beyond
// the internal mutex and never return errors.
type Breaker struct {
	mu sync.Mutex

	cfg         Config
	state       State
	failures    int
	successes   int
	lastFailure time.Time
	transitions int64

	now func() time.Time
}

// New creates a closed breaker. cfg may be nil for defaults.
func New(cfg *Config) *Breaker {
	defaults := DefaultConfig()
	if cfg == nil {
		cfg = defaults
	}
	c := *cfg
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = defaults.FailureThreshold
	}
	if c.ResetWindow <= 0 {
		c.ResetWindow = defaults.ResetWindow
	}
	return &Breaker{cfg: c, state: Closed, now: time.Now}
}

// Allow reports whether a delivery attempt may proceed. When the breaker is
// open and the reset window has elapsed, it transitions to half-open and
// admits the call as a recovery probe.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return true
	case Open:
		if b.now().Sub(b.lastFailure) > b.cfg.ResetWindow {
			b.setStateLocked(HalfOpen)
			b.successes = 0
			return true
		}
		return false
	case HalfOpen:
		return true
	}
	return false
}

// RecordSuccess feeds a successful delivery attempt into the state machine.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failures = 0
	case HalfOpen:
		b.successes++
		if b.successes >= halfOpenSuccessTarget {
			b.setStateLocked(Closed)
			b.failures = 0
			b.successes = 0
		}
	}
}

// RecordFailure feeds a failed delivery attempt into the state machine.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.setStateLocked(Open)
			b.lastFailure = b.now()
			b.successes = 0
		}
	case HalfOpen:
		b.failures++
		b.setStateLocked(Open)
		b.lastFailure = b.now()
		b.successes = 0
	case Open:
		// Only reachable from a probe admitted just before the window
		// elapsed; keep the cooldown fresh.
		b.lastFailure = b.now()
	}
}

// State returns the current breaker state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns a copy of the current breaker state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		State:           b.state,
		FailureCount:    b.failures,
		SuccessCount:    b.successes,
		LastFailureTime: b.lastFailure,
		Transitions:     b.transitions,
	}
}

func (b *Breaker) setStateLocked(next State) {
	if b.state == next {
		return
	}
	b.state = next
	b.transitions++
}

// SetClock replaces the breaker's time source. Test hook.
func (b *Breaker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}
