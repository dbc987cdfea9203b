// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/puzzlehub/chess-puzzles/internal/domain/progress"
	"github.com/puzzlehub/chess-puzzles/internal/domain/puzzle"
	"github.com/puzzlehub/chess-puzzles/internal/domain/shared"
	"github.com/puzzlehub/chess-puzzles/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET PROGRESS QUERY
// Сводный отчёт о прогрессе пользователя: решённые задачи по сложности,
// средний рейтинг, серия, достижения и последняя активность.
// Запрос не имеет побочных эффектов: отсутствующая запись не сохраняется.
// ══════════════════════════════════════════════════════════════════════════════

// GetProgressQuery содержит параметры запроса отчёта.
type GetProgressQuery struct {
	// UserID - пользователь, для которого строится отчёт.
	UserID string
}

// Validate проверяет корректность параметров.
func (q GetProgressQuery) Validate() error {
	if strings.TrimSpace(q.UserID) == "" {
		return shared.ErrInvalidUserID
	}
	return nil
}

// GetProgressHandler обрабатывает запрос отчёта о прогрессе.
type GetProgressHandler struct {
	puzzles     puzzle.Repository
	progress    progress.Repository
	rules       progress.Rules
	recentLimit int
	clock       timeutil.Clock
}

// NewGetProgressHandler создаёт новый обработчик.
func NewGetProgressHandler(
	puzzles puzzle.Repository,
	progressRepo progress.Repository,
	rules progress.Rules,
	recentLimit int,
	clock timeutil.Clock,
) *GetProgressHandler {
	if rules == nil {
		rules = progress.DefaultRules()
	}
	if recentLimit <= 0 {
		recentLimit = progress.DefaultRecentActivityLimit
	}
	if clock == nil {
		clock = timeutil.SystemClock{}
	}
	return &GetProgressHandler{
		puzzles:     puzzles,
		progress:    progressRepo,
		rules:       rules,
		recentLimit: recentLimit,
		clock:       clock,
	}
}

// Handle выполняет запрос. Запись и каталог загружаются параллельно.
func (h *GetProgressHandler) Handle(ctx context.Context, query GetProgressQuery) (*progress.Report, error) {
	if err := query.Validate(); err != nil {
		return nil, err
	}

	var (
		rec     *progress.Record
		catalog puzzle.Catalog
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rec, err = loadRecord(gctx, h.progress, query.UserID, h.clock)
		return err
	})
	g.Go(func() error {
		var err error
		catalog, err = puzzle.LoadCatalog(gctx, h.puzzles)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return progress.BuildReport(rec, catalog, h.rules, h.recentLimit), nil
}

// loadRecord возвращает сохранённую запись или пустую, не сохраняя её.
func loadRecord(ctx context.Context, repo progress.Repository, userID string, clock timeutil.Clock) (*progress.Record, error) {
	rec, err := repo.GetByUser(ctx, userID)
	if err == nil {
		return rec, nil
	}
	if !shared.IsNotFound(err) {
		return nil, err
	}
	return progress.NewRecord("", userID, clock.Now())
}
