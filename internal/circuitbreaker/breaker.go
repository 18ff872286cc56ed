// Package circuitbreaker stops hammering endpoints that keep failing.
// Each key (a webhook subscription, a provider) gets its own circuit
// moving between closed, open, and half-open.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// State of a single circuit.
type State int

const (
	StateClosed   State = iota // deliveries flow through
	StateOpen                  // deliveries are rejected
	StateHalfOpen              // one probe in flight to test recovery
)

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
	Namespace: "trustverify",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit breaker state transitions by key, from-state, and to-state.",
}, []string{"key", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(cbStateTransitions)
}

type circuit struct {
	state       State
	failures    int
	lastFailure time.Time
}

// Breaker holds one circuit per key. A circuit trips open at threshold
// consecutive failures, stays open for openDuration, then admits a single
// probe; the probe's outcome decides between closed and open again.
type Breaker struct {
	mu           sync.Mutex
	circuits     map[string]*circuit
	threshold    int
	openDuration time.Duration
	onTransition func(key string, from, to State)
}

// New builds a Breaker. Non-positive arguments fall back to 5 failures
// and a 30 second open window.
func New(threshold int, openDuration time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if openDuration <= 0 {
		openDuration = 30 * time.Second
	}
	return &Breaker{
		circuits:     make(map[string]*circuit),
		threshold:    threshold,
		openDuration: openDuration,
	}
}

// OnTransition registers a callback fired on every state change.
func (b *Breaker) OnTransition(fn func(key string, from, to State)) {
	b.mu.Lock()
	b.onTransition = fn
	b.mu.Unlock()
}

// Allow reports whether a request under key may proceed. An open circuit
// whose window has lapsed moves to half-open and admits this one request
// as the probe.
func (b *Breaker) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return true
	}

	switch c.state {
	case StateOpen:
		if time.Since(c.lastFailure) >= b.openDuration {
			b.transition(c, key, StateHalfOpen)
			return true
		}
		return false
	case StateHalfOpen:
		// a probe is already out
		return false
	default:
		return true
	}
}

// RecordSuccess clears the failure count and, if the key was half-open,
// closes the circuit.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return
	}
	if c.state == StateHalfOpen {
		b.transition(c, key, StateClosed)
	}
	c.failures = 0
}

// RecordFailure counts a failure, tripping the circuit at the threshold.
// A failed half-open probe reopens immediately.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		c = &circuit{state: StateClosed}
		b.circuits[key] = c
	}

	c.failures++
	c.lastFailure = time.Now()

	switch {
	case c.state == StateHalfOpen:
		b.transition(c, key, StateOpen)
	case c.state == StateClosed && c.failures >= b.threshold:
		b.transition(c, key, StateOpen)
	}
}

// State returns the circuit state for key; unseen keys read as closed.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.circuits[key]; ok {
		return c.state
	}
	return StateClosed
}

// transition is called with b.mu held.
func (b *Breaker) transition(c *circuit, key string, to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	cbStateTransitions.WithLabelValues(key, from.String(), to.String()).Inc()
	if b.onTransition != nil {
		fn := b.onTransition
		go fn(key, from, to)
	}
}
