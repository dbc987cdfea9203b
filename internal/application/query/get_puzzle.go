package query

import (
	"context"
	"strings"

	"github.com/puzzlehub/chess-puzzles/internal/domain/progress"
	"github.com/puzzlehub/chess-puzzles/internal/domain/puzzle"
	"github.com/puzzlehub/chess-puzzles/pkg/timeutil"
)

// GetPuzzleQuery запрашивает одну задачу.
type GetPuzzleQuery struct {
	UserID   string
	PuzzleID string
}

// GetPuzzleHandler обрабатывает запрос задачи.
type GetPuzzleHandler struct {
	puzzles  puzzle.Repository
	progress progress.Repository
	clock    timeutil.Clock
}

// NewGetPuzzleHandler создаёт новый обработчик.
func NewGetPuzzleHandler(puzzles puzzle.Repository, progressRepo progress.Repository, clock timeutil.Clock) *GetPuzzleHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &GetPuzzleHandler{puzzles: puzzles, progress: progressRepo, clock: clock}
}

// Handle возвращает задачу с отметкой о решении.
func (h *GetPuzzleHandler) Handle(ctx context.Context, query GetPuzzleQuery) (*PuzzleDTO, error) {
	if strings.TrimSpace(query.PuzzleID) == "" {
		return nil, puzzle.ErrInvalidPuzzleID
	}

	p, err := h.puzzles.GetByID(ctx, query.PuzzleID)
	if err != nil {
		return nil, err
	}

	completed := false
	if query.UserID != "" && h.progress != nil {
		rec, err := loadRecord(ctx, h.progress, query.UserID, h.clock)
		if err != nil {
			return nil, err
		}
		completed = rec.HasSolved(p.ID)
	}

	dto := toPuzzleDTO(p, completed)
	return &dto, nil
}
