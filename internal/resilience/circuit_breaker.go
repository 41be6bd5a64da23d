// Package resilience provides fault-tolerance primitives shared by the
// webhook delivery engine and the PR-integrity collaborator client.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is one of the three circuit-breaker states.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Config configures a CircuitBreaker.
type Config struct {
	MaxFailures   int
	Timeout       time.Duration
	HalfOpenMax   int
	OnStateChange func(from, to State)
}

func DefaultConfig() Config {
	return Config{MaxFailures: 5, Timeout: 30 * time.Second, HalfOpenMax: 3}
}

// Counts is a point-in-time snapshot of a breaker's bookkeeping, exposed
// so a caller can feed it into a metrics gauge without reaching into the
// breaker's internals.
type Counts struct {
	State                State
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	HalfOpenInFlight     int
}

// CircuitBreaker trips on a run of consecutive failures, waits out a
// cooldown, then admits a bounded number of half-open probes before either
// closing (probes succeeded) or re-opening (a probe failed).
type CircuitBreaker struct {
	cfg Config

	mu       sync.Mutex
	state    State
	openedAt time.Time
	counts   Counts
}

func New(cfg Config) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	return &CircuitBreaker{cfg: cfg, state: StateClosed}
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Counts returns a snapshot of the breaker's current bookkeeping.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	snap := cb.counts
	snap.State = cb.state
	return snap
}

// Trip forces the breaker open regardless of its failure count, for an
// operator response to a known-bad downstream (e.g. a provider outage
// announced ahead of the failure threshold being hit).
func (cb *CircuitBreaker) Trip() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateOpen)
}

// Reset forces the breaker closed, discarding accumulated failure state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transition(StateClosed)
}

// Execute runs fn under circuit-breaker protection: admit decides whether
// the call is allowed to proceed at all, and record folds its outcome
// back into the state machine.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn()
	cb.record(err == nil)
	return err
}

// admit gates entry: closed always admits, open admits only after its
// cooldown elapses (promoting itself to half-open in the process), and
// half-open admits up to HalfOpenMax concurrent probes.
func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.openedAt) <= cb.cfg.Timeout {
			return ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
		cb.counts.HalfOpenInFlight = 1
		return nil
	case StateHalfOpen:
		if cb.counts.HalfOpenInFlight >= cb.cfg.HalfOpenMax {
			return ErrTooManyRequests
		}
		cb.counts.HalfOpenInFlight++
		return nil
	default:
		return nil
	}
}

// record folds one call's outcome into the breaker's bookkeeping and
// drives any resulting state transition.
func (cb *CircuitBreaker) record(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if success {
		cb.counts.ConsecutiveFailures = 0
		cb.counts.ConsecutiveSuccesses++
		if cb.state == StateHalfOpen && cb.counts.ConsecutiveSuccesses >= cb.cfg.HalfOpenMax {
			cb.transition(StateClosed)
		}
		return
	}

	cb.counts.ConsecutiveSuccesses = 0
	cb.counts.ConsecutiveFailures++
	switch cb.state {
	case StateHalfOpen:
		cb.transition(StateOpen)
	case StateClosed:
		if cb.counts.ConsecutiveFailures >= cb.cfg.MaxFailures {
			cb.transition(StateOpen)
		}
	}
}

// transition must be called with mu held. It resets the per-state counts
// so a reopened breaker doesn't inherit stale tallies from its previous
// life in that state.
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	cb.counts = Counts{}
	if to == StateOpen {
		cb.openedAt = time.Now()
	}
	if cb.cfg.OnStateChange != nil {
		go cb.cfg.OnStateChange(from, to)
	}
}
