// Package circuitbreaker stops the dashboard from hammering the academic API
// or the database while they fail. A breaker opens after a run of consecutive
// failures, rejects calls until a cool-down elapses, then lets a few trial
// calls through before closing again.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State of a breaker.
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
	}
	return "unknown"
}

var (
	// ErrCircuitOpen rejects calls during the cool-down.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests rejects calls beyond the half-open trial budget.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

type settings struct {
	name          string
	openAfter     int
	closeAfter    int
	coolDown      time.Duration
	trials        int
	onStateChange func(name string, from, to State)
	isFailure     func(error) bool
	now           func() time.Time
}

// Option tunes a breaker created by New.
type Option func(*settings)

// WithFailureThreshold sets how many consecutive failures open the circuit.
func WithFailureThreshold(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.openAfter = n
		}
	}
}

// WithSuccessThreshold sets how many half-open successes close the circuit.
func WithSuccessThreshold(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.closeAfter = n
		}
	}
}

// WithTimeout sets the cool-down spent open before trial calls are allowed.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.coolDown = d
		}
	}
}

// WithMaxHalfOpenRequests caps the trial calls admitted while half-open.
func WithMaxHalfOpenRequests(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.trials = n
		}
	}
}

// WithOnStateChange registers a transition callback. It runs with the breaker
// locked and must not call back into it.
func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(s *settings) { s.onStateChange = fn }
}

// WithIsFailure decides which errors count against the breaker. Errors it
// rejects are recorded as successes.
func WithIsFailure(fn func(error) bool) Option {
	return func(s *settings) { s.isFailure = fn }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		if now != nil {
			s.now = now
		}
	}
}

// Counts are the outcomes recorded since creation or the last Reset.
type Counts struct {
	Requests             int
	TotalSuccesses       int
	TotalFailures        int
	ConsecutiveSuccesses int
	ConsecutiveFailures  int
}

// CircuitBreaker guards calls to one dependency.
type CircuitBreaker struct {
	cfg settings

	mu       sync.Mutex
	state    State
	counts   Counts
	openedAt time.Time
	admitted int
}

// New creates a closed breaker. Defaults: open after 5 failures, close after
// 2 successes, 30s cool-down, one trial call.
func New(name string, opts ...Option) *CircuitBreaker {
	cfg := settings{
		name:       name,
		openAfter:  5,
		closeAfter: 2,
		coolDown:   30 * time.Second,
		trials:     1,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &CircuitBreaker{cfg: cfg}
}

// APIBreaker guards the academic API. isFailure must exclude client-side
// errors such as validation, auth and not found.
func APIBreaker(isFailure func(error) bool, onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New("academic-api",
		WithFailureThreshold(3),
		WithIsFailure(isFailure),
		WithOnStateChange(onStateChange),
	)
}

// DatabaseBreaker guards the database. isFailure must exclude constraint
// violations and missing rows.
func DatabaseBreaker(isFailure func(error) bool, onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New("database",
		WithFailureThreshold(3),
		WithSuccessThreshold(1),
		WithTimeout(10*time.Second),
		WithIsFailure(isFailure),
		WithOnStateChange(onStateChange),
	)
}

// Execute runs fn unless the circuit rejects it, and records the outcome.
// A rejected call returns ErrCircuitOpen or ErrTooManyRequests without
// running fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.cfg.now().Sub(cb.openedAt) < cb.cfg.coolDown {
			return ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
	case StateHalfOpen:
		if cb.admitted >= cb.cfg.trials {
			return ErrTooManyRequests
		}
	default:
		return nil
	}
	cb.admitted++
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.counts.Requests++
	failed := err != nil
	if failed && cb.cfg.isFailure != nil {
		failed = cb.cfg.isFailure(err)
	}

	if !failed {
		cb.counts.TotalSuccesses++
		cb.counts.ConsecutiveSuccesses++
		cb.counts.ConsecutiveFailures = 0
		if cb.state == StateHalfOpen && cb.counts.ConsecutiveSuccesses >= cb.cfg.closeAfter {
			cb.transition(StateClosed)
		}
		return
	}

	cb.counts.TotalFailures++
	cb.counts.ConsecutiveFailures++
	cb.counts.ConsecutiveSuccesses = 0
	if cb.state == StateHalfOpen || cb.counts.ConsecutiveFailures >= cb.cfg.openAfter {
		cb.openedAt = cb.cfg.now()
		cb.transition(StateOpen)
	}
}

// transition clears the streak counters; callers hold mu.
func (cb *CircuitBreaker) transition(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.counts.ConsecutiveSuccesses = 0
	cb.counts.ConsecutiveFailures = 0
	cb.admitted = 0
	if cb.cfg.onStateChange != nil {
		cb.cfg.onStateChange(cb.cfg.name, from, to)
	}
}

// State returns the current state. An open breaker whose cool-down has passed
// still reports open until the next call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Counts returns a copy of the recorded outcomes.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// Reset closes the circuit and clears the counts without notifying
// OnStateChange.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.counts = Counts{}
	cb.admitted = 0
}
