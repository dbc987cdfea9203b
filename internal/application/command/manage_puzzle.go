package command

import (
	"context"

	"github.com/puzzlehub/chess-puzzles/internal/domain/puzzle"
	"github.com/puzzlehub/chess-puzzles/pkg/logger"
	"github.com/puzzlehub/chess-puzzles/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// PUZZLE CATALOG COMMANDS
// Create, update and delete puzzle definitions. Chess legality of positions
// and moves is not checked.
// ══════════════════════════════════════════════════════════════════════════════

// CreatePuzzleCommand contains a new puzzle definition.
type CreatePuzzleCommand struct {
	ID          string   `validate:"required,max=64"`
	Title       string   `validate:"required,max=200"`
	Description string   `validate:"max=2000"`
	Difficulty  string   `validate:"required,oneof=beginner intermediate advanced"`
	TimeLimit   int      `validate:"gte=0"`
	Rating      int      `validate:"gte=0,lte=4000"`
	Moves       []string `validate:"omitempty,dive,required"`
	Position    string   `validate:"max=100"`
	Solution    string
	Hints       []string
	Category    string `validate:"max=50"`
}

// Validate validates the command.
func (c CreatePuzzleCommand) Validate() error {
	return validateStruct("puzzle", "Create", c)
}

// UpdatePuzzleCommand contains a partial update. nil fields are unchanged.
type UpdatePuzzleCommand struct {
	ID          string   `validate:"required,max=64"`
	Title       *string  `validate:"omitempty,min=1,max=200"`
	Description *string  `validate:"omitempty,max=2000"`
	Difficulty  *string  `validate:"omitempty,oneof=beginner intermediate advanced"`
	TimeLimit   *int     `validate:"omitempty,gte=0"`
	Rating      *int     `validate:"omitempty,gte=0,lte=4000"`
	Moves       []string `validate:"omitempty,dive,required"`
	Position    *string  `validate:"omitempty,max=100"`
	Solution    *string
	Hints       []string
	Category    *string `validate:"omitempty,max=50"`
}

// Validate validates the command.
func (c UpdatePuzzleCommand) Validate() error {
	return validateStruct("puzzle", "Update", c)
}

// DeletePuzzleCommand removes a puzzle from the catalog.
type DeletePuzzleCommand struct {
	ID string `validate:"required,max=64"`
}

// Validate validates the command.
func (c DeletePuzzleCommand) Validate() error {
	return validateStruct("puzzle", "Delete", c)
}

// PuzzleHandler handles catalog commands.
type PuzzleHandler struct {
	repo  puzzle.Repository
	clock timeutil.Clock
	log   *logger.Logger
}

// NewPuzzleHandler creates a new PuzzleHandler.
func NewPuzzleHandler(repo puzzle.Repository, clock timeutil.Clock, log *logger.Logger) *PuzzleHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	if log == nil {
		log = logger.Default()
	}
	return &PuzzleHandler{repo: repo, clock: clock, log: log.With(logger.Component("puzzle_catalog"))}
}

// Create adds a puzzle to the catalog.
func (h *PuzzleHandler) Create(ctx context.Context, cmd CreatePuzzleCommand) (*puzzle.Puzzle, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	p, err := puzzle.NewPuzzle(puzzle.NewPuzzleParams{
		ID:          cmd.ID,
		Title:       cmd.Title,
		Description: cmd.Description,
		Difficulty:  puzzle.Difficulty(cmd.Difficulty),
		TimeLimit:   cmd.TimeLimit,
		Rating:      cmd.Rating,
		Moves:       cmd.Moves,
		Position:    cmd.Position,
		Solution:    cmd.Solution,
		Hints:       cmd.Hints,
		Category:    cmd.Category,
	}, h.clock.Now())
	if err != nil {
		return nil, err
	}

	if err := h.repo.Create(ctx, p); err != nil {
		return nil, err
	}

	h.log.Info("puzzle created", logger.PuzzleID(p.ID), logger.String("difficulty", p.Difficulty.String()))
	return p, nil
}

// Update applies a partial update to a puzzle.
func (h *PuzzleHandler) Update(ctx context.Context, cmd UpdatePuzzleCommand) (*puzzle.Puzzle, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	p, err := h.repo.GetByID(ctx, cmd.ID)
	if err != nil {
		return nil, err
	}

	update := puzzle.Update{
		Title:       cmd.Title,
		Description: cmd.Description,
		TimeLimit:   cmd.TimeLimit,
		Rating:      cmd.Rating,
		Moves:       cmd.Moves,
		Position:    cmd.Position,
		Solution:    cmd.Solution,
		Hints:       cmd.Hints,
		Category:    cmd.Category,
	}
	if cmd.Difficulty != nil {
		d := puzzle.Difficulty(*cmd.Difficulty)
		update.Difficulty = &d
	}

	if err := p.Apply(update, h.clock.Now()); err != nil {
		return nil, err
	}
	if err := h.repo.Update(ctx, p); err != nil {
		return nil, err
	}

	h.log.Info("puzzle updated", logger.PuzzleID(p.ID))
	return p, nil
}

// Delete removes a puzzle. Progress records keep their completions; reports
// skip puzzles that are no longer in the catalog.
func (h *PuzzleHandler) Delete(ctx context.Context, cmd DeletePuzzleCommand) error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	if err := h.repo.Delete(ctx, cmd.ID); err != nil {
		return err
	}
	h.log.Info("puzzle deleted", logger.PuzzleID(cmd.ID))
	return nil
}
