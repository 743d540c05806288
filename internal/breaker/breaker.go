// Package breaker implements a per-tool-name failure tracker with
// closed/open/half-open states: a single success closes from
// half-open, a single failure reopens, and halfOpenMaxCalls bounds
// concurrent probes.
package breaker

import (
	"sync"
	"time"
)

// State is one of the three circuit states.
type State string

const (
	Closed   State = "closed"
	Open     State = "open"
	HalfOpen State = "half-open"
)

// Config configures a single Breaker.
type Config struct {
	FailureThreshold int
	OpenTimeout      time.Duration
	HalfOpenMaxCalls int
}

// DefaultConfig returns the package's suggested defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

func (c Config) sanitize() Config {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = d.OpenTimeout
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = d.HalfOpenMaxCalls
	}
	return c
}

// Breaker is a single tool-name's circuit breaker state machine.
type Breaker struct {
	cfg Config

	mu            sync.Mutex
	state         State
	failures      int
	lastFailureAt time.Time
	openedAt      time.Time
	halfOpenCalls int
}

// New creates a closed Breaker with the given config.
func New(cfg Config) *Breaker {
	cfg = cfg.sanitize()
	return &Breaker{cfg: cfg, state: Closed}
}

// Snapshot is a copy-safe view of a Breaker's state.
type Snapshot struct {
	State         State
	Failures      int
	LastFailureAt time.Time
	OpenedAt      time.Time
	HalfOpenCalls int
}

// Check reports whether a call may proceed right now, performing the
// open->half-open transition if the timeout has elapsed. It also
// reserves a half-open probe slot when applicable, so callers
// must pair a true "blocked=false" result with a subsequent
// RecordSuccess/RecordFailure call.
func (b *Breaker) Check() (blocked bool, recovered bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return false, false
	case Open:
		if time.Since(b.openedAt) >= b.cfg.OpenTimeout {
			b.state = HalfOpen
			b.halfOpenCalls = 1
			return false, true
		}
		return true, false
	case HalfOpen:
		if b.halfOpenCalls >= b.cfg.HalfOpenMaxCalls {
			return true, false
		}
		b.halfOpenCalls++
		return false, false
	default:
		return false, false
	}
}

// RecordSuccess reports a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.state = Closed
		b.failures = 0
		b.halfOpenCalls = 0
	case Closed:
		// no-op
	}
}

// RecordFailure reports a failed call.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailureAt = time.Now()

	switch b.state {
	case Closed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.state = Open
			b.openedAt = time.Now()
		}
	case HalfOpen:
		b.state = Open
		b.openedAt = time.Now()
		b.halfOpenCalls = 0
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns a copy-safe view of current state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		State:         b.state,
		Failures:      b.failures,
		LastFailureAt: b.lastFailureAt,
		OpenedAt:      b.openedAt,
		HalfOpenCalls: b.halfOpenCalls,
	}
}

// Registry is the per-Agent map of tool name to Breaker, with entries
// created lazily on first observation of a tool name. It is
// exclusively owned by one Agent, but its entries support concurrent
// updates from one batch's goroutines via per-entry locking.
type Registry struct {
	mu       sync.Mutex
	defaults Config
	breakers map[string]*Breaker
}

// NewRegistry creates an empty per-Agent breaker registry.
func NewRegistry(defaults Config) *Registry {
	return &Registry{defaults: defaults.sanitize(), breakers: make(map[string]*Breaker)}
}

// Get returns (creating lazily if absent) the Breaker for toolName.
func (r *Registry) Get(toolName string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.breakers[toolName]
	if !ok {
		b = New(r.defaults)
		r.breakers[toolName] = b
	}
	return b
}

// Snapshots returns a copy of every tracked breaker's state, keyed by
// tool name, for diagnostics/metrics export.
func (r *Registry) Snapshots() map[string]Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]Snapshot, len(r.breakers))
	for name, b := range r.breakers {
		out[name] = b.Snapshot()
	}
	return out
}
