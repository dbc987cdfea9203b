package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/puzzlehub/chess-puzzles/internal/application/command"
	"github.com/puzzlehub/chess-puzzles/internal/application/query"
	"github.com/puzzlehub/chess-puzzles/internal/application/saga"
	"github.com/puzzlehub/chess-puzzles/internal/domain/progress"
	"github.com/puzzlehub/chess-puzzles/internal/domain/puzzle"
	"github.com/puzzlehub/chess-puzzles/internal/infrastructure/metrics"
	"github.com/puzzlehub/chess-puzzles/internal/infrastructure/persistence/memory"
	"github.com/puzzlehub/chess-puzzles/internal/interface/http/handlers"
	"github.com/puzzlehub/chess-puzzles/pkg/logger"
	"github.com/puzzlehub/chess-puzzles/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// TEST HARNESS
// ══════════════════════════════════════════════════════════════════════════════

type testEnv struct {
	server   *Server
	metrics  *metrics.Collectors
	progress *memory.ProgressRepository
}

type envOption func(*Config, *Dependencies, *command.AwardAchievementHandlerConfig)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	clock := timeutil.NewFixedClock(timeutil.DateTime(2024, 3, 10, 12, 0, 0))
	log := logger.Nop()

	puzzles := memory.NewPuzzleRepository(
		&puzzle.Puzzle{ID: "b1", Title: "Back Rank Mate", Difficulty: puzzle.DifficultyBeginner, Rating: 800, Category: "tactics"},
		&puzzle.Puzzle{ID: "i1", Title: "Knight Fork", Difficulty: puzzle.DifficultyIntermediate, Rating: 1200, Category: "tactics"},
	)
	progressRepo := memory.NewProgressRepository()
	states := memory.NewGameStateStore(0, clock.Now)
	locker := memory.NewLocker()
	collectors := metrics.New(false)
	rules := progress.DefaultRules()

	flow := saga.NewAchievementFlowSaga(progressRepo, saga.AchievementFlowConfig{
		Rules: rules, Clock: clock, Logger: log, Metrics: collectors,
	})

	cfg := DefaultConfig()
	cfg.RateLimit = 0
	awardCfg := command.AwardAchievementHandlerConfig{
		Rules: rules, Clock: clock, Logger: log, Metrics: collectors,
	}
	deps := Dependencies{
		RecordAttempt: command.NewRecordAttemptHandler(puzzles, progressRepo, locker, flow, states, nil,
			command.RecordAttemptHandlerConfig{Rules: rules, Clock: clock, Logger: log, Metrics: collectors}),
		GameState:     command.NewGameStateHandler(puzzles, states, nil, clock, log),
		Puzzles:       command.NewPuzzleHandler(puzzles, clock, log),
		GetProgress:   query.NewGetProgressHandler(puzzles, progressRepo, rules, 0, clock),
		ListPuzzles:   query.NewListPuzzlesHandler(puzzles, progressRepo, clock),
		GetPuzzle:     query.NewGetPuzzleHandler(puzzles, progressRepo, clock),
		LoadGameState: query.NewLoadGameStateHandler(states, nil),
		Metrics:       collectors,
		Logger:        log,
	}
	for _, opt := range opts {
		opt(&cfg, &deps, &awardCfg)
	}
	deps.AwardAchievement = command.NewAwardAchievementHandler(puzzles, progressRepo, locker, awardCfg)

	return &testEnv{
		server:   NewServer(cfg, deps),
		metrics:  collectors,
		progress: progressRepo,
	}
}

type envelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	Error     *APIError       `json:"error"`
	Meta      *ResponseMeta   `json:"meta"`
	RequestID string          `json:"request_id"`
}

func (e *testEnv) do(t *testing.T, method, path string, body any, headers ...string) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func decodeData[T any](t *testing.T, env envelope) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(env.Data, &v))
	return v
}

type completeBody struct {
	TotalPuzzlesSolved int                      `json:"total_puzzles_solved"`
	BeginnersSolved    int                      `json:"beginners_solved"`
	AverageRating      float64                  `json:"average_rating"`
	Streak             int                      `json:"streak"`
	NewAchievements    []progress.AchievementID `json:"new_achievements"`
	FirstSolve         bool                     `json:"first_solve"`
	GameStateCleared   bool                     `json:"game_state_cleared"`
}

func solved(seconds int) map[string]any {
	return map[string]any{"time_spent": seconds, "moves_used": 3, "hints_used": 0, "successful": true}
}

// ══════════════════════════════════════════════════════════════════════════════
// ENVELOPE & HEALTH
// ══════════════════════════════════════════════════════════════════════════════

func TestEnvelope_CarriesRequestID(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodGet, "/api/health", nil, "X-Request-ID", "req-123")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, body.Success)
	assert.Equal(t, "req-123", body.RequestID)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	require.NotNil(t, body.Meta)
	assert.Equal(t, "v1", body.Meta.Version)
}

func TestHealth_CriticalFailureIsNotReady(t *testing.T) {
	checker := handlers.NewCompositeHealthChecker("test")
	checker.AddCheck("postgres", func(context.Context) error { return errors.New("connection refused") })
	env := newTestEnv(t, func(_ *Config, d *Dependencies, _ *command.AwardAchievementHandlerConfig) {
		d.HealthChecker = checker
	})

	rec, _ := env.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec, body := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.False(t, body.Success)

	rec, _ = env.do(t, http.MethodGet, "/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth_OptionalFailureIsDegraded(t *testing.T) {
	checker := handlers.NewCompositeHealthChecker("test")
	checker.AddOptionalCheck("redis", func(context.Context) error { return errors.New("timeout") })
	env := newTestEnv(t, func(_ *Config, d *Dependencies, _ *command.AwardAchievementHandlerConfig) {
		d.HealthChecker = checker
	})

	rec, body := env.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	status := decodeData[handlers.HealthStatus](t, body)
	assert.False(t, status.Healthy)
	assert.True(t, status.Ready)
	assert.Equal(t, "Degraded: redis", status.Message)
}

// ══════════════════════════════════════════════════════════════════════════════
// CATALOG
// ══════════════════════════════════════════════════════════════════════════════

func TestPuzzles_GetAndNotFound(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodGet, "/api/puzzles/b1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	dto := decodeData[query.PuzzleDTO](t, body)
	assert.Equal(t, "Back Rank Mate", dto.Title)
	assert.False(t, dto.Completed)

	rec, body = env.do(t, http.MethodGet, "/api/puzzles/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NotNil(t, body.Error)
	assert.Equal(t, "not_found", body.Error.Code)
}

func TestPuzzles_ListCompletedFilter(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodPost, "/api/puzzles/b1/complete", solved(45))
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := env.do(t, http.MethodGet, "/api/puzzles?completed=true", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeData[query.ListPuzzlesResult](t, body)
	require.Len(t, list.Puzzles, 1)
	assert.Equal(t, "b1", list.Puzzles[0].ID)
	assert.Equal(t, 1, body.Meta.TotalCount)

	_, body = env.do(t, http.MethodGet, "/api/puzzles?completed=false", nil)
	list = decodeData[query.ListPuzzlesResult](t, body)
	require.Len(t, list.Puzzles, 1)
	assert.Equal(t, "i1", list.Puzzles[0].ID)

	rec, body = env.do(t, http.MethodGet, "/api/puzzles?completed=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", body.Error.Code)
}

func TestPuzzles_CreateUpdateDelete(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodPost, "/api/puzzles", map[string]any{
		"title": "Smothered Mate", "difficulty": "advanced", "rating": 1700, "moves": []string{"Qg8+", "Nf7#"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeData[puzzle.Puzzle](t, body)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "tactics", created.Category)

	rec, body = env.do(t, http.MethodPost, "/api/puzzles", map[string]any{
		"id": "b1", "title": "Duplicate", "difficulty": "beginner",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "already_exists", body.Error.Code)

	rec, body = env.do(t, http.MethodPost, "/api/puzzles", map[string]any{"title": "Bad", "difficulty": "expert"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", body.Error.Code)

	rec, body = env.do(t, http.MethodPut, "/api/puzzles/"+created.ID, map[string]any{"rating": 1750})
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decodeData[puzzle.Puzzle](t, body)
	assert.Equal(t, 1750, updated.Rating)
	assert.Equal(t, "Smothered Mate", updated.Title)

	rec, _ = env.do(t, http.MethodDelete, "/api/puzzles/"+created.ID, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/puzzles/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ══════════════════════════════════════════════════════════════════════════════
// ATTEMPTS & PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

func TestCompletePuzzle_FirstSolveAndRepeat(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodPost, "/api/puzzles/b1/complete", solved(20))
	require.Equal(t, http.StatusOK, rec.Code)
	first := decodeData[completeBody](t, body)
	assert.True(t, first.FirstSolve)
	assert.Equal(t, 1, first.TotalPuzzlesSolved)
	assert.Equal(t, 1, first.BeginnersSolved)
	assert.Equal(t, 800.0, first.AverageRating)
	assert.Equal(t, 1, first.Streak)
	assert.ElementsMatch(t,
		[]progress.AchievementID{progress.AchievementFirstPuzzle, progress.AchievementQuickSolver},
		first.NewAchievements)

	_, body = env.do(t, http.MethodPost, "/api/puzzles/b1/complete", solved(20))
	again := decodeData[completeBody](t, body)
	assert.False(t, again.FirstSolve)
	assert.Equal(t, 1, again.TotalPuzzlesSolved)
	assert.Empty(t, again.NewAchievements)
	assert.NotNil(t, again.NewAchievements)
}

func TestCompletePuzzle_RequiresAllFields(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodPost, "/api/puzzles/b1/complete", map[string]any{"time_spent": 10})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", body.Error.Code)

	rec, body = env.do(t, http.MethodPost, "/api/puzzles/b1/complete", "{not json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_json", body.Error.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/puzzles/nope/complete", solved(10))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCompletePuzzle_ClearsSavedGame(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodPost, "/api/game/save", map[string]any{
		"puzzle_id":    "b1",
		"board":        [][]any{{nil, "wK"}, {"bK", nil}},
		"move_history": []map[string]any{{"from": "e2", "to": "e4"}},
		"time_spent":   12,
		"hints_used":   1,
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/game/b1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	_, body := env.do(t, http.MethodPost, "/api/puzzles/b1/complete", solved(40))
	assert.True(t, decodeData[completeBody](t, body).GameStateCleared)

	rec, body = env.do(t, http.MethodGet, "/api/game/b1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", body.Error.Code)
}

func TestProgress_UserHeaderIsolatesRecords(t *testing.T) {
	env := newTestEnv(t)

	rec, _ := env.do(t, http.MethodPost, "/api/puzzles/b1/complete", solved(45), handlers.HeaderUserID, "alice")
	require.Equal(t, http.StatusOK, rec.Code)

	_, body := env.do(t, http.MethodGet, "/api/progress", nil)
	assert.Equal(t, 0, decodeData[progress.Report](t, body).TotalPuzzlesSolved)

	_, body = env.do(t, http.MethodGet, "/api/progress", nil, handlers.HeaderUserID, "alice")
	report := decodeData[progress.Report](t, body)
	assert.Equal(t, "alice", report.UserID)
	assert.Equal(t, 1, report.TotalPuzzlesSolved)
	require.Len(t, report.RecentActivity, 1)
	assert.Equal(t, "Back Rank Mate", report.RecentActivity[0].Puzzle)
}

func TestAwardAchievement(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodPost, "/api/progress/achievement", map[string]string{"achievement_id": "grandmaster"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "unknown_achievement", body.Error.Code)

	type awardBody struct {
		Added        bool                         `json:"added"`
		Achievements []progress.AchievementStatus `json:"achievements"`
	}

	rec, body = env.do(t, http.MethodPost, "/api/progress/achievement", map[string]string{"achievement_id": "first_puzzle"})
	require.Equal(t, http.StatusOK, rec.Code)
	first := decodeData[awardBody](t, body)
	assert.True(t, first.Added)

	_, body = env.do(t, http.MethodPost, "/api/progress/achievement", map[string]string{"achievement_id": "first_puzzle"})
	second := decodeData[awardBody](t, body)
	assert.False(t, second.Added)

	for i, status := range second.Achievements {
		if status.ID == progress.AchievementFirstPuzzle {
			assert.True(t, status.Earned)
			assert.Equal(t, first.Achievements[i].EarnedDate, status.EarnedDate)
		}
	}
}

func TestAwardAchievement_GateOff(t *testing.T) {
	env := newTestEnv(t, func(_ *Config, _ *Dependencies, a *command.AwardAchievementHandlerConfig) {
		a.Enabled = func(string) bool { return false }
	})

	rec, body := env.do(t, http.MethodPost, "/api/progress/achievement", map[string]string{"achievement_id": "first_puzzle"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "service_unavailable", body.Error.Code)
}

// ══════════════════════════════════════════════════════════════════════════════
// GAME STATE
// ══════════════════════════════════════════════════════════════════════════════

func TestGameState_SaveValidationAndDelete(t *testing.T) {
	env := newTestEnv(t)

	rec, body := env.do(t, http.MethodPost, "/api/game/save", map[string]any{"puzzle_id": "b1", "board": [][]any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_error", body.Error.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/game/save", map[string]any{
		"puzzle_id": "i1", "board": [][]any{{nil}}, "move_history": []any{}, "time_spent": 5, "hints_used": 0,
	}, handlers.HeaderUserID, "bob")
	require.Equal(t, http.StatusOK, rec.Code)

	// Snapshots are per user.
	rec, _ = env.do(t, http.MethodGet, "/api/game/i1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = env.do(t, http.MethodDelete, "/api/game/i1", nil, handlers.HeaderUserID, "bob")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/game/i1", nil, handlers.HeaderUserID, "bob")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

func TestMetrics_RouteLabelUsesPattern(t *testing.T) {
	env := newTestEnv(t)

	env.do(t, http.MethodGet, "/api/puzzles/b1", nil)
	env.do(t, http.MethodGet, "/api/puzzles/i1", nil)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	exposition := rec.Body.String()
	assert.Contains(t, exposition, `puzzlehub_http_request_duration_seconds_count{method="GET",route="/api/puzzles/{id}",status="200"} 2`)
	assert.NotContains(t, exposition, `route="/api/puzzles/b1"`)
}

func TestRateLimit_Rejects(t *testing.T) {
	env := newTestEnv(t, func(c *Config, _ *Dependencies, _ *command.AwardAchievementHandlerConfig) {
		c.RateLimit = 1
		c.RateLimitBurst = 1
	})

	rec, _ := env.do(t, http.MethodGet, "/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, body := env.do(t, http.MethodGet, "/live", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.Equal(t, "rate_limit_exceeded", body.Error.Code)

	rec, _ = env.do(t, http.MethodGet, "/live", nil, "X-Forwarded-For", "203.0.113.9")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBodyLimit_RejectsLargePayload(t *testing.T) {
	env := newTestEnv(t, func(c *Config, _ *Dependencies, _ *command.AwardAchievementHandlerConfig) {
		c.MaxBodyBytes = 64
	})

	big := `{"achievement_id":"` + strings.Repeat("x", 200) + `"}`
	rec, body := env.do(t, http.MethodPost, "/api/progress/achievement", big)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, "request_too_large", body.Error.Code)
}
