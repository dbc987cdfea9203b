package query

import (
	"context"
	"strings"

	"github.com/puzzlehub/chess-puzzles/internal/domain/gamestate"
	"github.com/puzzlehub/chess-puzzles/internal/domain/shared"
	"github.com/puzzlehub/chess-puzzles/pkg/circuitbreaker"
)

// LoadGameStateQuery запрашивает сохранённый снимок партии.
type LoadGameStateQuery struct {
	UserID   string
	PuzzleID string
}

// LoadGameStateHandler читает снимки через circuit breaker.
type LoadGameStateHandler struct {
	store   gamestate.Store
	breaker *circuitbreaker.CircuitBreaker
}

// NewLoadGameStateHandler создаёт новый обработчик.
func NewLoadGameStateHandler(store gamestate.Store, breaker *circuitbreaker.CircuitBreaker) *LoadGameStateHandler {
	if breaker == nil {
		breaker = circuitbreaker.GameStateBreaker(nil)
	}
	return &LoadGameStateHandler{store: store, breaker: breaker}
}

// Handle возвращает снимок или ErrGameStateNotFound.
func (h *LoadGameStateHandler) Handle(ctx context.Context, query LoadGameStateQuery) (*gamestate.GameState, error) {
	if strings.TrimSpace(query.UserID) == "" {
		return nil, shared.ErrInvalidUserID
	}
	if strings.TrimSpace(query.PuzzleID) == "" {
		return nil, shared.ErrInvalidPuzzleID
	}

	var state *gamestate.GameState
	err := h.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		state, err = h.store.Load(ctx, gamestate.Key{UserID: query.UserID, PuzzleID: query.PuzzleID})
		// Отсутствие снимка - не сбой хранилища.
		if shared.IsNotFound(err) {
			return nil
		}
		return err
	})
	if circuitbreaker.IsUnavailable(err) {
		return nil, shared.WrapError("gamestate", "Load", shared.ErrServiceUnavailable, "game state store unavailable", err)
	}
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, gamestate.ErrGameStateNotFound
	}
	return state, nil
}
