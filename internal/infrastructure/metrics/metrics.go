// Package metrics exposes Prometheus collectors for the puzzle hub.
//
// Collectors implements the Metrics ports of the command and saga packages,
// so application code never imports Prometheus directly.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/puzzlehub/chess-puzzles/internal/domain/progress"
	"github.com/puzzlehub/chess-puzzles/pkg/circuitbreaker"
)

const namespace = "puzzlehub"

// Attempt results used as the "result" label.
const (
	ResultSolved = "solved"
	ResultFailed = "failed"
)

// Collectors holds every metric the service exports.
type Collectors struct {
	registry *prometheus.Registry

	attempts        *prometheus.CounterVec
	puzzlesSolved   prometheus.Counter
	achievements    *prometheus.CounterVec
	ruleErrors      *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
	breakerState    *prometheus.GaugeVec
	breakerSwitches *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
// Go runtime and process collectors are included when withRuntime is set.
func New(withRuntime bool) *Collectors {
	reg := prometheus.NewRegistry()
	if withRuntime {
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	factory := promauto.With(reg)

	return &Collectors{
		registry: reg,
		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attempts_total",
			Help:      "Puzzle attempts recorded, by result.",
		}, []string{"result"}),
		puzzlesSolved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "puzzles_solved_total",
			Help:      "First-time puzzle solves.",
		}),
		achievements: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "achievements_awarded_total",
			Help:      "Achievements granted, by achievement and source (rule or manual).",
		}, []string{"achievement", "source"}),
		ruleErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rule_errors_total",
			Help:      "Achievement rule predicates that failed during evaluation.",
		}, []string{"achievement"}),
		httpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method", "route", "status"}),
		breakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state: 0 closed, 1 open, 2 half-open.",
		}, []string{"breaker"}),
		breakerSwitches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_transitions_total",
			Help:      "Circuit breaker state transitions, by target state.",
		}, []string{"breaker", "to"}),
	}
}

// Registry returns the underlying registry.
func (c *Collectors) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collectors) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// AttemptRecorded counts an attempt and, for first solves, a solved puzzle.
func (c *Collectors) AttemptRecorded(successful, firstSolve bool) {
	result := ResultFailed
	if successful {
		result = ResultSolved
	}
	c.attempts.WithLabelValues(result).Inc()
	if firstSolve {
		c.puzzlesSolved.Inc()
	}
}

// AchievementAwarded counts a granted achievement.
func (c *Collectors) AchievementAwarded(id progress.AchievementID, source string) {
	c.achievements.WithLabelValues(string(id), source).Inc()
}

// RuleFailed counts a predicate error.
func (c *Collectors) RuleFailed(id progress.AchievementID) {
	c.ruleErrors.WithLabelValues(string(id)).Inc()
}

// ObserveHTTP records one served request.
func (c *Collectors) ObserveHTTP(method, route string, status int, d time.Duration) {
	c.httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// TrackBreaker seeds the state gauge for cb.
func (c *Collectors) TrackBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breakerState.WithLabelValues(cb.Name()).Set(float64(cb.State()))
}

// BreakerStateChanged matches circuitbreaker.WithOnStateChange.
func (c *Collectors) BreakerStateChanged(name string, _, to circuitbreaker.State) {
	c.breakerState.WithLabelValues(name).Set(float64(to))
	c.breakerSwitches.WithLabelValues(name, to.String()).Inc()
}
