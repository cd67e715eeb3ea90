// Package circuitbreaker guards the external ledger dependency with
// closed → open → half-open state transitions. One Breaker instance is
// shared by every ledger-facing call in the process.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // Normal: requests flow through
	StateOpen                  // Tripped: requests are rejected
	StateHalfOpen              // Probing: one request allowed to test recovery
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var cbStateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "visitra",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit breaker state transitions by from-state and to-state.",
}, []string{"from_state", "to_state"})

func init() {
	prometheus.MustRegister(cbStateTransitions)
}

// Snapshot is a point-in-time copy of breaker state for health reporting.
type Snapshot struct {
	State               State     `json:"state"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	LastFailureAt       time.Time `json:"lastFailureAt"`
	NextAttemptAt       time.Time `json:"nextAttemptAt"`
}

// Breaker tracks consecutive ledger failures and trips open when they
// reach the threshold. After openTimeout the circuit moves to half-open
// and allows a single probe request.
type Breaker struct {
	mu           sync.Mutex
	state        State
	failures     int
	lastFailure  time.Time
	nextAttempt  time.Time
	threshold    int
	openTimeout  time.Duration
	onTransition func(from, to State) // optional callback for alerting
}

// New creates a circuit breaker that opens after threshold consecutive
// failures and stays open for openTimeout before probing.
func New(threshold int, openTimeout time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if openTimeout <= 0 {
		openTimeout = 60 * time.Second
	}
	return &Breaker{
		threshold:   threshold,
		openTimeout: openTimeout,
	}
}

// OnTransition sets a callback invoked on state changes.
func (b *Breaker) OnTransition(fn func(from, to State)) {
	b.mu.Lock()
	b.onTransition = fn
	b.mu.Unlock()
}

// Allow reports whether a ledger call may proceed. If the circuit is open
// and openTimeout has elapsed, it transitions to half-open and permits one
// probe; further calls are rejected until the probe resolves.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if !time.Now().Before(b.nextAttempt) {
			b.transition(StateHalfOpen)
			return true // Allow one probe
		}
		return false
	case StateHalfOpen:
		return false // Probe in flight, reject until it completes
	default:
		return true
	}
}

// RecordSuccess resets the failure counter and closes the circuit if it
// was half-open.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.transition(StateClosed)
	}
	b.failures = 0
}

// RecordFailure increments the failure counter and trips the circuit open
// once consecutive failures reach the threshold. A failed half-open probe
// reopens the circuit with a fresh timeout.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = time.Now()

	if b.state == StateHalfOpen {
		b.nextAttempt = b.lastFailure.Add(b.openTimeout)
		b.transition(StateOpen)
		return
	}

	if b.state == StateClosed && b.failures >= b.threshold {
		b.nextAttempt = b.lastFailure.Add(b.openTimeout)
		b.transition(StateOpen)
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// RetryAfter returns how long until the next probe is permitted.
// Zero when the circuit is not open.
func (b *Breaker) RetryAfter() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return 0
	}
	d := time.Until(b.nextAttempt)
	if d < 0 {
		return 0
	}
	return d
}

// Snapshot returns a copy of the current breaker state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	return Snapshot{
		State:               b.state,
		ConsecutiveFailures: b.failures,
		LastFailureAt:       b.lastFailure,
		NextAttemptAt:       b.nextAttempt,
	}
}

// transition changes state and fires the callback if set.
// Caller must hold b.mu.
func (b *Breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if to == StateClosed {
		b.failures = 0
	}
	cbStateTransitions.WithLabelValues(from.String(), to.String()).Inc()
	if b.onTransition != nil {
		fn := b.onTransition
		go fn(from, to)
	}
}
