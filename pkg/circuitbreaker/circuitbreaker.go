// Package circuitbreaker guards the optional Redis paths (game-state
// snapshots and the catalog cache) so a dead Redis costs one fast error
// instead of a network timeout on every puzzle request.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State is the breaker position.
type State int

const (
	// StateClosed lets every call through.
	StateClosed State = iota
	// StateOpen rejects calls until the cool-down ends.
	StateOpen
	// StateHalfOpen lets a few trial calls through.
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
	// ErrCircuitOpen is returned without calling fn while the breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")
	// ErrTooManyRequests is returned when the half-open trial slots are taken.
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// IsUnavailable reports whether err is a rejection by a breaker rather than
// an error from the guarded call.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrTooManyRequests)
}

// Config holds circuit breaker configuration.
type Config struct {
	Name string

	// FailureThreshold consecutive failures open a closed breaker.
	FailureThreshold int
	// SuccessThreshold consecutive trial successes close a half-open breaker.
	SuccessThreshold int
	// Timeout is the cool-down before an open breaker allows trials.
	Timeout time.Duration
	// MaxHalfOpenRequests caps concurrent trial calls.
	MaxHalfOpenRequests int

	OnStateChange func(name string, from, to State)

	// IsFailure decides whether an error counts against the breaker.
	// The default counts everything except a cancelled caller.
	IsFailure func(error) bool

	Now func() time.Time
}

// Option is a functional option for configuring the circuit breaker.
type Option func(*Config)

func WithFailureThreshold(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.FailureThreshold = n
		}
	}
}

func WithSuccessThreshold(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.SuccessThreshold = n
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.Timeout = d
		}
	}
}

func WithMaxHalfOpenRequests(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxHalfOpenRequests = n
		}
	}
}

func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(c *Config) { c.OnStateChange = fn }
}

// WithNow sets the time source. Tests use it to step over Timeout.
func WithNow(now func() time.Time) Option {
	return func(c *Config) {
		if now != nil {
			c.Now = now
		}
	}
}

func WithIsFailure(fn func(error) bool) Option {
	return func(c *Config) {
		if fn != nil {
			c.IsFailure = fn
		}
	}
}

func countsAsFailure(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// Stats is a point-in-time view of a breaker, reported by the health check.
type Stats struct {
	Name                string
	State               State
	Requests            int64
	Failures            int64
	Rejected            int64
	ConsecutiveFailures int
	// RetryAt is when an open breaker starts allowing trials.
	RetryAt time.Time
}

// CircuitBreaker implements the circuit breaker pattern.
type CircuitBreaker struct {
	config Config

	mu       sync.Mutex
	state    State
	openedAt time.Time

	requests int64
	failures int64
	rejected int64

	consecutiveFailures  int
	consecutiveSuccesses int
	halfOpenInFlight     int
}

// New creates a closed breaker. Defaults: 5 failures, 2 successes,
// 30s cool-down, 1 trial call.
func New(name string, opts ...Option) *CircuitBreaker {
	cfg := Config{
		Name:                name,
		FailureThreshold:    5,
		SuccessThreshold:    2,
		Timeout:             30 * time.Second,
		MaxHalfOpenRequests: 1,
		IsFailure:           countsAsFailure,
		Now:                 time.Now,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &CircuitBreaker{config: cfg}
}

// Execute runs fn unless the breaker rejects the call, and records the
// outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.record(err)
	return err
}

// ExecuteWithFallback is Execute, with rejections handed to fallback.
// Errors from fn itself are returned as is.
func (cb *CircuitBreaker) ExecuteWithFallback(ctx context.Context, fn func(context.Context) error, fallback func(error) error) error {
	err := cb.Execute(ctx, fn)
	if IsUnavailable(err) {
		return fallback(err)
	}
	return err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil

	case StateOpen:
		if cb.config.Now().Sub(cb.openedAt) < cb.config.Timeout {
			cb.rejected++
			return ErrCircuitOpen
		}
		cb.transition(StateHalfOpen)
		cb.halfOpenInFlight = 1
		return nil

	default: // half-open
		if cb.halfOpenInFlight >= cb.config.MaxHalfOpenRequests {
			cb.rejected++
			return ErrTooManyRequests
		}
		cb.halfOpenInFlight++
		return nil
	}
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.requests++
	if cb.state == StateHalfOpen && cb.halfOpenInFlight > 0 {
		cb.halfOpenInFlight--
	}

	if err == nil || !cb.config.IsFailure(err) {
		cb.consecutiveFailures = 0
		cb.consecutiveSuccesses++
		if cb.state == StateHalfOpen && cb.consecutiveSuccesses >= cb.config.SuccessThreshold {
			cb.transition(StateClosed)
		}
		return
	}

	cb.failures++
	cb.consecutiveSuccesses = 0
	cb.consecutiveFailures++

	switch cb.state {
	case StateClosed:
		if cb.consecutiveFailures >= cb.config.FailureThreshold {
			cb.open()
		}
	case StateHalfOpen:
		cb.open()
	}
}

func (cb *CircuitBreaker) open() {
	cb.openedAt = cb.config.Now()
	cb.transition(StateOpen)
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to State) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.consecutiveSuccesses = 0
	cb.halfOpenInFlight = 0
	if to == StateClosed {
		cb.consecutiveFailures = 0
	}
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.config.Name, from, to)
	}
}

// Name returns the name of the circuit breaker.
func (cb *CircuitBreaker) Name() string { return cb.config.Name }

// State returns the current position.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns a snapshot of the breaker.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s := Stats{
		Name:                cb.config.Name,
		State:               cb.state,
		Requests:            cb.requests,
		Failures:            cb.failures,
		Rejected:            cb.rejected,
		ConsecutiveFailures: cb.consecutiveFailures,
	}
	if cb.state == StateOpen {
		s.RetryAt = cb.openedAt.Add(cb.config.Timeout)
	}
	return s
}

// GameStateBreaker guards the snapshot store. Snapshots are best effort, so
// it opens after three failures and tries again after 30s.
func GameStateBreaker(onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New("gamestate-store",
		WithFailureThreshold(3),
		WithSuccessThreshold(1),
		WithTimeout(30*time.Second),
		WithOnStateChange(onStateChange),
	)
}

// CatalogCacheBreaker guards the catalog cache. While open, reads go
// straight to the database.
func CatalogCacheBreaker(onStateChange func(name string, from, to State)) *CircuitBreaker {
	return New("catalog-cache",
		WithFailureThreshold(5),
		WithSuccessThreshold(2),
		WithTimeout(15*time.Second),
		WithMaxHalfOpenRequests(2),
		WithOnStateChange(onStateChange),
	)
}
