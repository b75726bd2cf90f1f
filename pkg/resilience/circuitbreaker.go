// Package resilience guards the calls a service makes to its backends: a
// circuit breaker that publishes its state as a metric, retry with jittered
// backoff that gives up early on errors no retry can fix, and a deadline
// wrapper for per-shard work.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/imgseek/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

// ErrCircuitOpen is returned without calling the guarded function while the
// circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the phase of a circuit. Its numeric value is what the
// circuit_breaker_state gauge reports.
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

// BreakerConfig controls when a circuit opens and how it recovers. Zero
// fields take defaults: 5 failures, a 30s cooldown and 1 trial call.
type BreakerConfig struct {
	// Failures is the number of consecutive failures that opens the circuit.
	Failures int
	// Cooldown is how long the circuit stays open before a trial call.
	Cooldown time.Duration
	// Trials is how many calls may be in flight while half-open.
	Trials int
	// Ignore reports errors that say nothing about the backend's health,
	// such as a caller giving up. Nil ignores context cancellation.
	Ignore func(error) bool
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.Failures <= 0 {
		c.Failures = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.Trials <= 0 {
		c.Trials = 1
	}
	if c.Ignore == nil {
		c.Ignore = func(err error) bool { return errors.Is(err, context.Canceled) }
	}
	return c
}

// CircuitBreaker fails fast once a backend has failed Failures times in a
// row, then lets trial calls through after Cooldown. Every transition is
// logged and written to the circuit_breaker_state gauge under the
// breaker's name.
type CircuitBreaker struct {
	name   string
	cfg    BreakerConfig
	gauge  prometheus.Gauge
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	trials   int
}

// NewCircuitBreaker creates a closed breaker. m may be nil.
func NewCircuitBreaker(name string, cfg BreakerConfig, m *metrics.Metrics) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:   name,
		cfg:    cfg.withDefaults(),
		logger: slog.Default().With("component", "circuit-breaker", "name", name),
		now:    time.Now,
	}
	if m != nil {
		cb.gauge = m.CircuitBreakerState.WithLabelValues(name)
		cb.gauge.Set(float64(StateClosed))
	}
	return cb
}

// Execute calls fn unless the circuit is open and records its outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn()
	cb.record(err)
	return err
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen {
		wait := cb.cfg.Cooldown - cb.now().Sub(cb.openedAt)
		if wait > 0 {
			return fmt.Errorf("%w: %s, next trial in %v", ErrCircuitOpen, cb.name, wait.Round(time.Millisecond))
		}
		cb.transition(StateHalfOpen)
	}
	if cb.state == StateHalfOpen {
		if cb.trials >= cb.cfg.Trials {
			return fmt.Errorf("%w: %s, trial call in flight", ErrCircuitOpen, cb.name)
		}
		cb.trials++
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil && cb.cfg.Ignore(err) {
		if cb.state == StateHalfOpen && cb.trials > 0 {
			cb.trials--
		}
		return
	}
	if err == nil {
		cb.failures = 0
		if cb.state == StateHalfOpen {
			cb.transition(StateClosed)
		}
		return
	}
	cb.failures++
	if cb.state == StateHalfOpen || cb.failures >= cb.cfg.Failures {
		cb.openedAt = cb.now()
		if cb.state != StateOpen {
			cb.transition(StateOpen)
		}
	}
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	cb.state = to
	cb.trials = 0
	if to == StateClosed {
		cb.failures = 0
	}
	if cb.gauge != nil {
		cb.gauge.Set(float64(to))
	}
	if to == StateOpen {
		cb.logger.Warn("circuit state changed", "from", from.String(), "to", to.String(), "consecutive_failures", cb.failures)
		return
	}
	cb.logger.Info("circuit state changed", "from", from.String(), "to", to.String())
}
