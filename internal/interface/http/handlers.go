package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/puzzlehub/chess-puzzles/internal/application/command"
	"github.com/puzzlehub/chess-puzzles/internal/application/query"
	"github.com/puzzlehub/chess-puzzles/internal/domain/gamestate"
	"github.com/puzzlehub/chess-puzzles/internal/domain/progress"
	"github.com/puzzlehub/chess-puzzles/internal/domain/shared"
	"github.com/puzzlehub/chess-puzzles/internal/interface/http/handlers"
	"github.com/puzzlehub/chess-puzzles/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves the root endpoint with basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{
		"name":    "Chess Puzzle Hub API",
		"version": s.config.Version,
		"endpoints": map[string]string{
			"health":   "/api/health",
			"puzzles":  "/api/puzzles",
			"progress": "/api/progress",
			"game":     "/api/game/{puzzleId}",
		},
	})
}

// handleHealth handles GET /health and GET /api/health. A degraded service
// still answers 200.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.deps.HealthChecker.Check(r.Context())
	if !status.Ready {
		writeJSON(w, r, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, r, http.StatusOK, status)
}

// handleReady handles the readiness endpoint.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	status := s.deps.HealthChecker.Check(r.Context())
	if !status.Ready {
		writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"reason": status.Message,
		})
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness endpoint.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// PUZZLE CATALOG HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleListPuzzles handles GET /api/puzzles?difficulty=&completed=
func (s *Server) handleListPuzzles(w http.ResponseWriter, r *http.Request) {
	q := query.ListPuzzlesQuery{
		UserID:     handlers.UserIDFromContext(r.Context()),
		Difficulty: getQueryParam(r, "difficulty", ""),
	}

	if raw := r.URL.Query().Get("completed"); raw != "" {
		completed, err := strconv.ParseBool(raw)
		if err != nil {
			writeJSONError(w, r, http.StatusBadRequest, "validation_error", "completed must be true or false")
			return
		}
		q.Completed = &completed
	}

	result, err := s.deps.ListPuzzles.Handle(r.Context(), q)
	if err != nil {
		s.writeDomainError(w, r, err, "failed to list puzzles")
		return
	}

	writeJSONWithMeta(w, r, http.StatusOK, result, &ResponseMeta{TotalCount: result.Total})
}

// handleGetPuzzle handles GET /api/puzzles/{id}
func (s *Server) handleGetPuzzle(w http.ResponseWriter, r *http.Request) {
	result, err := s.deps.GetPuzzle.Handle(r.Context(), query.GetPuzzleQuery{
		UserID:   handlers.UserIDFromContext(r.Context()),
		PuzzleID: r.PathValue("id"),
	})
	if err != nil {
		s.writeDomainError(w, r, err, "failed to get puzzle")
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

type createPuzzleRequest struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Difficulty  string   `json:"difficulty"`
	TimeLimit   int      `json:"time_limit"`
	Rating      int      `json:"rating"`
	Moves       []string `json:"moves"`
	Position    string   `json:"position"`
	Solution    string   `json:"solution"`
	Hints       []string `json:"hints"`
	Category    string   `json:"category"`
}

// handleCreatePuzzle handles POST /api/puzzles. A missing id is generated.
func (s *Server) handleCreatePuzzle(w http.ResponseWriter, r *http.Request) {
	var req createPuzzleRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}

	created, err := s.deps.Puzzles.Create(r.Context(), command.CreatePuzzleCommand{
		ID:          id,
		Title:       req.Title,
		Description: req.Description,
		Difficulty:  req.Difficulty,
		TimeLimit:   req.TimeLimit,
		Rating:      req.Rating,
		Moves:       req.Moves,
		Position:    req.Position,
		Solution:    req.Solution,
		Hints:       req.Hints,
		Category:    req.Category,
	})
	if err != nil {
		s.writeDomainError(w, r, err, "failed to create puzzle")
		return
	}
	writeJSON(w, r, http.StatusCreated, created)
}

type updatePuzzleRequest struct {
	Title       *string  `json:"title"`
	Description *string  `json:"description"`
	Difficulty  *string  `json:"difficulty"`
	TimeLimit   *int     `json:"time_limit"`
	Rating      *int     `json:"rating"`
	Moves       []string `json:"moves"`
	Position    *string  `json:"position"`
	Solution    *string  `json:"solution"`
	Hints       []string `json:"hints"`
	Category    *string  `json:"category"`
}

// handleUpdatePuzzle handles PUT /api/puzzles/{id}. Absent fields keep
// their current values.
func (s *Server) handleUpdatePuzzle(w http.ResponseWriter, r *http.Request) {
	var req updatePuzzleRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	updated, err := s.deps.Puzzles.Update(r.Context(), command.UpdatePuzzleCommand{
		ID:          r.PathValue("id"),
		Title:       req.Title,
		Description: req.Description,
		Difficulty:  req.Difficulty,
		TimeLimit:   req.TimeLimit,
		Rating:      req.Rating,
		Moves:       req.Moves,
		Position:    req.Position,
		Solution:    req.Solution,
		Hints:       req.Hints,
		Category:    req.Category,
	})
	if err != nil {
		s.writeDomainError(w, r, err, "failed to update puzzle")
		return
	}
	writeJSON(w, r, http.StatusOK, updated)
}

// handleDeletePuzzle handles DELETE /api/puzzles/{id}
func (s *Server) handleDeletePuzzle(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Puzzles.Delete(r.Context(), command.DeletePuzzleCommand{ID: id}); err != nil {
		s.writeDomainError(w, r, err, "failed to delete puzzle")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"deleted": id})
}

// ══════════════════════════════════════════════════════════════════════════════
// ATTEMPT & PROGRESS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// completePuzzleRequest uses pointers so that a missing field is rejected
// instead of read as zero.
type completePuzzleRequest struct {
	TimeSpent  *int  `json:"time_spent"`
	MovesUsed  *int  `json:"moves_used"`
	HintsUsed  *int  `json:"hints_used"`
	Successful *bool `json:"successful"`
}

// completePuzzleResponse is the progress report plus the outcome of this attempt.
type completePuzzleResponse struct {
	*progress.Report
	NewAchievements  []progress.AchievementID `json:"new_achievements"`
	FirstSolve       bool                     `json:"first_solve"`
	GameStateCleared bool                     `json:"game_state_cleared"`
}

// handleCompletePuzzle handles POST /api/puzzles/{id}/complete
func (s *Server) handleCompletePuzzle(w http.ResponseWriter, r *http.Request) {
	var req completePuzzleRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if req.TimeSpent == nil || req.MovesUsed == nil || req.HintsUsed == nil || req.Successful == nil {
		writeJSONError(w, r, http.StatusBadRequest, "validation_error",
			"time_spent, moves_used, hints_used and successful are required")
		return
	}

	result, err := s.deps.RecordAttempt.Handle(r.Context(), command.RecordAttemptCommand{
		UserID:     handlers.UserIDFromContext(r.Context()),
		PuzzleID:   r.PathValue("id"),
		TimeSpent:  *req.TimeSpent,
		MovesUsed:  *req.MovesUsed,
		HintsUsed:  *req.HintsUsed,
		Successful: *req.Successful,
	})
	if err != nil {
		s.writeDomainError(w, r, err, "failed to record attempt")
		return
	}

	earned := result.NewAchievements
	if earned == nil {
		earned = []progress.AchievementID{}
	}
	writeJSON(w, r, http.StatusOK, completePuzzleResponse{
		Report:           result.Report,
		NewAchievements:  earned,
		FirstSolve:       result.FirstSolve,
		GameStateCleared: result.GameStateCleared,
	})
}

// handleGetProgress handles GET /api/progress
func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.GetProgress.Handle(r.Context(), query.GetProgressQuery{
		UserID: handlers.UserIDFromContext(r.Context()),
	})
	if err != nil {
		s.writeDomainError(w, r, err, "failed to build progress report")
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}

type awardAchievementRequest struct {
	AchievementID string `json:"achievement_id"`
}

type awardAchievementResponse struct {
	*progress.Report
	Added bool `json:"added"`
}

// handleAwardAchievement handles POST /api/progress/achievement
func (s *Server) handleAwardAchievement(w http.ResponseWriter, r *http.Request) {
	var req awardAchievementRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	result, err := s.deps.AwardAchievement.Handle(r.Context(), command.AwardAchievementCommand{
		UserID:        handlers.UserIDFromContext(r.Context()),
		AchievementID: req.AchievementID,
	})
	if err != nil {
		s.writeDomainError(w, r, err, "failed to award achievement")
		return
	}
	writeJSON(w, r, http.StatusOK, awardAchievementResponse{Report: result.Report, Added: result.Added})
}

// ══════════════════════════════════════════════════════════════════════════════
// GAME STATE HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

type saveGameStateRequest struct {
	PuzzleID    string           `json:"puzzle_id"`
	Board       [][]*string      `json:"board"`
	MoveHistory []gamestate.Move `json:"move_history"`
	TimeSpent   *int             `json:"time_spent"`
	HintsUsed   *int             `json:"hints_used"`
}

// handleSaveGameState handles POST /api/game/save
func (s *Server) handleSaveGameState(w http.ResponseWriter, r *http.Request) {
	var req saveGameStateRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	result, err := s.deps.GameState.Save(r.Context(), command.SaveGameStateCommand{
		UserID:      handlers.UserIDFromContext(r.Context()),
		PuzzleID:    req.PuzzleID,
		Board:       req.Board,
		MoveHistory: req.MoveHistory,
		TimeSpent:   req.TimeSpent,
		HintsUsed:   req.HintsUsed,
	})
	if err != nil {
		s.writeDomainError(w, r, err, "failed to save game state")
		return
	}
	writeJSON(w, r, http.StatusOK, result.State)
}

// handleLoadGameState handles GET /api/game/{puzzleId}
func (s *Server) handleLoadGameState(w http.ResponseWriter, r *http.Request) {
	state, err := s.deps.LoadGameState.Handle(r.Context(), query.LoadGameStateQuery{
		UserID:   handlers.UserIDFromContext(r.Context()),
		PuzzleID: r.PathValue("puzzleId"),
	})
	if err != nil {
		s.writeDomainError(w, r, err, "failed to load game state")
		return
	}
	writeJSON(w, r, http.StatusOK, state)
}

// handleDeleteGameState handles DELETE /api/game/{puzzleId}
func (s *Server) handleDeleteGameState(w http.ResponseWriter, r *http.Request) {
	puzzleID := r.PathValue("puzzleId")
	err := s.deps.GameState.Delete(r.Context(), command.DeleteGameStateCommand{
		UserID:   handlers.UserIDFromContext(r.Context()),
		PuzzleID: puzzleID,
	})
	if err != nil {
		s.writeDomainError(w, r, err, "failed to delete game state")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"deleted": puzzleID})
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST & ERROR HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// decodeJSON decodes the body into dst. On failure it writes the error
// response and returns false.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err == nil {
		return true
	}

	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		writeJSONError(w, r, http.StatusRequestEntityTooLarge, "request_too_large", "Request body is too large")
	case errors.Is(err, io.EOF):
		writeJSONError(w, r, http.StatusBadRequest, "invalid_json", "Request body is required")
	default:
		writeJSONError(w, r, http.StatusBadRequest, "invalid_json", "Invalid JSON payload")
	}
	return false
}

// writeDomainError maps an application error onto a status code. Only
// unexpected failures are logged.
func (s *Server) writeDomainError(w http.ResponseWriter, r *http.Request, err error, logMsg string) {
	status, code := classifyError(err)

	message := http.StatusText(status)
	var de *shared.DomainError
	if errors.As(err, &de) && de.Message != "" {
		message = de.Message
	}

	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error(logMsg,
			logger.Err(err),
			logger.String("path", r.URL.Path),
			logger.UserID(handlers.UserIDFromContext(r.Context())),
		)
		if status == http.StatusInternalServerError {
			message = "An unexpected error occurred"
		}
	}

	writeJSONError(w, r, status, code, message)
}

func classifyError(err error) (int, string) {
	switch {
	case shared.IsNotFound(err):
		return http.StatusNotFound, "not_found"
	case shared.IsUnknownAchievement(err):
		return http.StatusBadRequest, "unknown_achievement"
	case shared.IsValidation(err):
		return http.StatusBadRequest, "validation_error"
	case shared.IsAlreadyExists(err):
		return http.StatusConflict, "already_exists"
	case shared.IsConflict(err):
		return http.StatusConflict, "conflict"
	case errors.Is(err, shared.ErrServiceUnavailable):
		return http.StatusServiceUnavailable, "service_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// getQueryParam returns a trimmed query parameter or the default.
func getQueryParam(r *http.Request, name, defaultValue string) string {
	if v := strings.TrimSpace(r.URL.Query().Get(name)); v != "" {
		return v
	}
	return defaultValue
}
