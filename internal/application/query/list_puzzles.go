package query

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/puzzlehub/chess-puzzles/internal/domain/progress"
	"github.com/puzzlehub/chess-puzzles/internal/domain/puzzle"
	"github.com/puzzlehub/chess-puzzles/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// LIST PUZZLES QUERY
// Каталог задач с отметкой "решено" для текущего пользователя.
// ══════════════════════════════════════════════════════════════════════════════

// ListPuzzlesQuery содержит параметры запроса каталога.
type ListPuzzlesQuery struct {
	// UserID - пользователь для отметки решённых задач.
	UserID string

	// Difficulty - фильтр по сложности (пустая строка = все).
	Difficulty string

	// Completed - фильтр по отметке "решено" (nil = все).
	Completed *bool
}

// PuzzleDTO - задача каталога с отметкой о решении.
type PuzzleDTO struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Difficulty  puzzle.Difficulty `json:"difficulty"`
	TimeLimit   int               `json:"time_limit"`
	Rating      int               `json:"rating"`
	Moves       []string          `json:"moves"`
	Position    string            `json:"position"`
	Solution    string            `json:"solution"`
	Hints       []string          `json:"hints"`
	Category    string            `json:"category"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`

	// Completed - решена ли задача пользователем.
	Completed bool `json:"completed"`
}

// ListPuzzlesResult содержит результат запроса.
type ListPuzzlesResult struct {
	Puzzles []PuzzleDTO `json:"puzzles"`
	Total   int         `json:"total"`
}

// ListPuzzlesHandler обрабатывает запрос каталога.
type ListPuzzlesHandler struct {
	puzzles  puzzle.Repository
	progress progress.Repository
	clock    timeutil.Clock
}

// NewListPuzzlesHandler создаёт новый обработчик.
func NewListPuzzlesHandler(puzzles puzzle.Repository, progressRepo progress.Repository, clock timeutil.Clock) *ListPuzzlesHandler {
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &ListPuzzlesHandler{puzzles: puzzles, progress: progressRepo, clock: clock}
}

// Handle выполняет запрос.
func (h *ListPuzzlesHandler) Handle(ctx context.Context, query ListPuzzlesQuery) (*ListPuzzlesResult, error) {
	difficulty, err := puzzle.ParseDifficulty(query.Difficulty)
	if err != nil {
		return nil, err
	}

	var (
		list   []*puzzle.Puzzle
		solved map[string]struct{}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		list, err = h.puzzles.List(gctx, puzzle.Filter{Difficulty: difficulty})
		return err
	})
	g.Go(func() error {
		var err error
		solved, err = h.solvedSet(gctx, query.UserID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]PuzzleDTO, 0, len(list))
	for _, p := range list {
		_, done := solved[p.ID]
		if query.Completed != nil && *query.Completed != done {
			continue
		}
		out = append(out, toPuzzleDTO(p, done))
	}

	return &ListPuzzlesResult{Puzzles: out, Total: len(out)}, nil
}

func (h *ListPuzzlesHandler) solvedSet(ctx context.Context, userID string) (map[string]struct{}, error) {
	if userID == "" || h.progress == nil {
		return map[string]struct{}{}, nil
	}
	rec, err := loadRecord(ctx, h.progress, userID, h.clock)
	if err != nil {
		return nil, err
	}
	return rec.SolvedSet(), nil
}

func toPuzzleDTO(p *puzzle.Puzzle, completed bool) PuzzleDTO {
	moves := p.Moves
	if moves == nil {
		moves = []string{}
	}
	hints := p.Hints
	if hints == nil {
		hints = []string{}
	}
	return PuzzleDTO{
		ID:          p.ID,
		Title:       p.Title,
		Description: p.Description,
		Difficulty:  p.Difficulty,
		TimeLimit:   p.TimeLimit,
		Rating:      p.Rating,
		Moves:       moves,
		Position:    p.Position,
		Solution:    p.Solution,
		Hints:       hints,
		Category:    p.Category,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
		Completed:   completed,
	}
}
