// Package handlers contains the health checker and reusable HTTP middleware.
package handlers

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/puzzlehub/chess-puzzles/pkg/circuitbreaker"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH CHECK INTERFACES
// ══════════════════════════════════════════════════════════════════════════════

// HealthChecker defines the interface for health checking.
type HealthChecker interface {
	// Check runs every registered check and aggregates the results.
	Check(ctx context.Context) HealthStatus
}

// HealthCheckFunc performs a single check. A non-nil error fails it.
type HealthCheckFunc func(ctx context.Context) error

// DetailedCheckFunc is a check that also reports figures (pool usage,
// breaker counters) shown under the check's "details".
type DetailedCheckFunc func(ctx context.Context) (map[string]any, error)

// HealthStatus represents the overall health status of the service.
type HealthStatus struct {
	// Healthy is false when any check failed.
	Healthy bool `json:"healthy"`

	// Ready is false only when a critical check failed. A failing
	// non-critical dependency (cache, snapshot store) degrades the
	// service but it keeps serving.
	Ready bool `json:"ready"`

	Message   string                 `json:"message,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
}

// CheckResult represents the result of a single health check.
type CheckResult struct {
	Healthy  bool           `json:"healthy"`
	Critical bool           `json:"critical"`
	Message  string         `json:"message,omitempty"`
	Duration string         `json:"duration,omitempty"`
	Details  map[string]any `json:"details,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPOSITE HEALTH CHECKER
// ══════════════════════════════════════════════════════════════════════════════

type namedCheck struct {
	fn       DetailedCheckFunc
	critical bool
}

// CompositeHealthChecker aggregates multiple health checks.
type CompositeHealthChecker struct {
	mu        sync.RWMutex
	checks    map[string]namedCheck
	startTime time.Time
	version   string
	timeout   time.Duration
}

// NewCompositeHealthChecker creates a new composite health checker.
func NewCompositeHealthChecker(version string) *CompositeHealthChecker {
	return &CompositeHealthChecker{
		checks:    make(map[string]namedCheck),
		startTime: time.Now(),
		version:   version,
		timeout:   5 * time.Second,
	}
}

// SetTimeout sets the timeout for individual health checks.
func (c *CompositeHealthChecker) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
}

// AddCheck registers a critical check: its failure makes the service not ready.
func (c *CompositeHealthChecker) AddCheck(name string, check HealthCheckFunc) {
	c.AddDetailedCheck(name, true, plain(check))
}

// AddOptionalCheck registers a check whose failure only degrades the service.
func (c *CompositeHealthChecker) AddOptionalCheck(name string, check HealthCheckFunc) {
	c.AddDetailedCheck(name, false, plain(check))
}

// AddDetailedCheck registers a check that reports details.
func (c *CompositeHealthChecker) AddDetailedCheck(name string, critical bool, check DetailedCheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = namedCheck{fn: check, critical: critical}
}

func plain(check HealthCheckFunc) DetailedCheckFunc {
	return func(ctx context.Context) (map[string]any, error) {
		return nil, check(ctx)
	}
}

// RemoveCheck removes a named health check.
func (c *CompositeHealthChecker) RemoveCheck(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.checks, name)
}

// Check runs all checks in parallel and returns the aggregated status.
func (c *CompositeHealthChecker) Check(ctx context.Context) HealthStatus {
	c.mu.RLock()
	checks := make(map[string]namedCheck, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()

	status := HealthStatus{
		Healthy:   true,
		Ready:     true,
		Checks:    make(map[string]CheckResult, len(checks)),
		Uptime:    time.Since(c.startTime).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Version:   c.version,
	}

	if len(checks) == 0 {
		status.Message = "No health checks registered"
		return status
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		failing []string
	)
	for name, check := range checks {
		wg.Add(1)
		go func(name string, check namedCheck) {
			defer wg.Done()

			checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			start := time.Now()
			details, err := check.fn(checkCtx)

			result := CheckResult{
				Healthy:  err == nil,
				Critical: check.critical,
				Message:  "OK",
				Duration: time.Since(start).Round(time.Millisecond).String(),
				Details:  details,
			}
			if err != nil {
				result.Message = err.Error()
			}

			mu.Lock()
			defer mu.Unlock()
			status.Checks[name] = result
			if err != nil {
				status.Healthy = false
				if check.critical {
					status.Ready = false
				}
				failing = append(failing, name)
			}
		}(name, check)
	}
	wg.Wait()

	switch {
	case status.Healthy:
		status.Message = "All checks passed"
	case status.Ready:
		sort.Strings(failing)
		status.Message = "Degraded: " + strings.Join(failing, ", ")
	default:
		sort.Strings(failing)
		status.Message = "Some checks failed: " + strings.Join(failing, ", ")
	}

	return status
}

// ══════════════════════════════════════════════════════════════════════════════
// PREDEFINED HEALTH CHECKS
// ══════════════════════════════════════════════════════════════════════════════

// Pinger is anything that can verify its connection: the pgx pool, the
// Redis cache.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewPingCheck creates a connectivity health check.
func NewPingCheck(p Pinger) HealthCheckFunc {
	return func(ctx context.Context) error {
		return p.Ping(ctx)
	}
}

// BreakerStats is satisfied by *circuitbreaker.CircuitBreaker.
type BreakerStats interface {
	Stats() circuitbreaker.Stats
}

// NewBreakerCheck fails while the breaker is open and reports its counters.
// A half-open breaker passes: trial calls are already going through.
func NewBreakerCheck(b BreakerStats) DetailedCheckFunc {
	return func(context.Context) (map[string]any, error) {
		st := b.Stats()
		details := map[string]any{
			"state":                st.State.String(),
			"requests":             st.Requests,
			"failures":             st.Failures,
			"rejected":             st.Rejected,
			"consecutive_failures": st.ConsecutiveFailures,
		}
		if st.State != circuitbreaker.StateOpen {
			return details, nil
		}
		details["retry_at"] = st.RetryAt.UTC().Format(time.RFC3339)
		return details, fmt.Errorf("circuit breaker %s is open", st.Name)
	}
}
