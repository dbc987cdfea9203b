package command

import (
	"context"

	"github.com/google/uuid"

	"github.com/puzzlehub/chess-puzzles/internal/domain/gamestate"
	"github.com/puzzlehub/chess-puzzles/internal/domain/puzzle"
	"github.com/puzzlehub/chess-puzzles/internal/domain/shared"
	"github.com/puzzlehub/chess-puzzles/pkg/circuitbreaker"
	"github.com/puzzlehub/chess-puzzles/pkg/logger"
	"github.com/puzzlehub/chess-puzzles/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// SAVE / DELETE GAME STATE COMMANDS
// Board snapshots let the player resume an unfinished puzzle later.
// ══════════════════════════════════════════════════════════════════════════════

// SaveGameStateCommand contains the snapshot to save.
// Pointer fields distinguish "missing" from zero values.
type SaveGameStateCommand struct {
	UserID      string           `validate:"required,max=128"`
	PuzzleID    string           `validate:"required,max=64"`
	Board       [][]*string      `validate:"required,max=8"`
	MoveHistory []gamestate.Move `validate:"required"`
	TimeSpent   *int             `validate:"required,gte=0"`
	HintsUsed   *int             `validate:"required,gte=0"`
}

// Validate validates the command.
func (c SaveGameStateCommand) Validate() error {
	return validateStruct("gamestate", "Save", c)
}

// SaveGameStateResult contains the saved snapshot.
type SaveGameStateResult struct {
	State *gamestate.GameState
}

// DeleteGameStateCommand removes a snapshot.
type DeleteGameStateCommand struct {
	UserID   string `validate:"required,max=128"`
	PuzzleID string `validate:"required,max=64"`
}

// Validate validates the command.
func (c DeleteGameStateCommand) Validate() error {
	return validateStruct("gamestate", "Delete", c)
}

// GameStateHandler handles snapshot commands.
type GameStateHandler struct {
	puzzles puzzle.Repository
	store   gamestate.Store
	breaker *circuitbreaker.CircuitBreaker
	clock   timeutil.Clock
	log     *logger.Logger
}

// NewGameStateHandler creates a new GameStateHandler.
func NewGameStateHandler(
	puzzles puzzle.Repository,
	store gamestate.Store,
	breaker *circuitbreaker.CircuitBreaker,
	clock timeutil.Clock,
	log *logger.Logger,
) *GameStateHandler {
	if breaker == nil {
		breaker = circuitbreaker.GameStateBreaker(nil)
	}
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if log == nil {
		log = logger.Default()
	}
	return &GameStateHandler{
		puzzles: puzzles,
		store:   store,
		breaker: breaker,
		clock:   clock,
		log:     log.With(logger.Component("game_state")),
	}
}

// Save stores the snapshot, replacing any previous one for the same puzzle.
func (h *GameStateHandler) Save(ctx context.Context, cmd SaveGameStateCommand) (*SaveGameStateResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	if _, err := h.puzzles.GetByID(ctx, cmd.PuzzleID); err != nil {
		return nil, err
	}

	state := &gamestate.GameState{
		ID:          uuid.NewString(),
		UserID:      cmd.UserID,
		PuzzleID:    cmd.PuzzleID,
		Board:       cmd.Board,
		MoveHistory: cmd.MoveHistory,
		TimeSpent:   *cmd.TimeSpent,
		HintsUsed:   *cmd.HintsUsed,
		SavedAt:     h.clock.Now(),
	}
	if err := state.Validate(); err != nil {
		return nil, err
	}

	if err := h.execute(ctx, "Save", func(ctx context.Context) error {
		return h.store.Save(ctx, state)
	}); err != nil {
		return nil, err
	}

	h.log.Debug("game state saved", logger.UserID(cmd.UserID), logger.PuzzleID(cmd.PuzzleID))
	return &SaveGameStateResult{State: state}, nil
}

// Delete removes the snapshot. A missing snapshot is not an error.
func (h *GameStateHandler) Delete(ctx context.Context, cmd DeleteGameStateCommand) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	return h.execute(ctx, "Delete", func(ctx context.Context) error {
		return h.store.Delete(ctx, gamestate.Key{UserID: cmd.UserID, PuzzleID: cmd.PuzzleID})
	})
}

// execute runs a store call through the breaker. An open breaker maps to
// ServiceUnavailable.
func (h *GameStateHandler) execute(ctx context.Context, op string, fn func(context.Context) error) error {
	err := h.breaker.Execute(ctx, fn)
	if circuitbreaker.IsUnavailable(err) {
		return shared.WrapError("gamestate", op, shared.ErrServiceUnavailable, "game state store unavailable", err)
	}
	return err
}
