package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/puzzlehub/chess-puzzles/internal/domain/progress"
	"github.com/puzzlehub/chess-puzzles/pkg/circuitbreaker"
)

func TestAttemptRecorded(t *testing.T) {
	c := New(false)

	c.AttemptRecorded(true, true)
	c.AttemptRecorded(true, false)
	c.AttemptRecorded(false, false)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.attempts.WithLabelValues(ResultSolved)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.attempts.WithLabelValues(ResultFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.puzzlesSolved))
}

func TestAchievementsAndRuleErrors(t *testing.T) {
	c := New(false)

	c.AchievementAwarded(progress.AchievementFirstPuzzle, "rule")
	c.AchievementAwarded(progress.AchievementFirstPuzzle, "manual")
	c.RuleFailed(progress.AchievementQuickSolver)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.achievements.WithLabelValues("first_puzzle", "rule")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.achievements.WithLabelValues("first_puzzle", "manual")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.ruleErrors.WithLabelValues("quick_solver")))
}

func TestBreakerStateChanged(t *testing.T) {
	c := New(false)
	cb := circuitbreaker.New("gamestate-store",
		circuitbreaker.WithFailureThreshold(1),
		circuitbreaker.WithTimeout(time.Hour),
		circuitbreaker.WithOnStateChange(c.BreakerStateChanged),
	)
	c.TrackBreaker(cb)
	assert.Equal(t, 0.0, testutil.ToFloat64(c.breakerState.WithLabelValues("gamestate-store")))

	_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("down") })

	assert.Equal(t, 1.0, testutil.ToFloat64(c.breakerState.WithLabelValues("gamestate-store")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.breakerSwitches.WithLabelValues("gamestate-store", "open")))
}

func TestHandler_ExposesMetrics(t *testing.T) {
	c := New(false)
	c.ObserveHTTP(http.MethodGet, "/api/progress", http.StatusOK, 12*time.Millisecond)
	c.AttemptRecorded(true, true)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `puzzlehub_http_request_duration_seconds_count{method="GET",route="/api/progress",status="200"} 1`)
	assert.Contains(t, body, "puzzlehub_puzzles_solved_total 1")
}
