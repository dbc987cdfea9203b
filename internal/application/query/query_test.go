package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/puzzlehub/chess-puzzles/internal/domain/gamestate"
	"github.com/puzzlehub/chess-puzzles/internal/domain/progress"
	"github.com/puzzlehub/chess-puzzles/internal/domain/puzzle"
	"github.com/puzzlehub/chess-puzzles/internal/domain/shared"
	"github.com/puzzlehub/chess-puzzles/internal/infrastructure/persistence/memory"
	"github.com/puzzlehub/chess-puzzles/pkg/circuitbreaker"
	"github.com/puzzlehub/chess-puzzles/pkg/timeutil"
)

func seedCatalog() *memory.PuzzleRepository {
	return memory.NewPuzzleRepository(
		&puzzle.Puzzle{ID: "b1", Title: "Fork", Difficulty: puzzle.DifficultyBeginner, Rating: 800},
		&puzzle.Puzzle{ID: "b2", Title: "Pin", Difficulty: puzzle.DifficultyBeginner, Rating: 900},
		&puzzle.Puzzle{ID: "i1", Title: "Skewer", Difficulty: puzzle.DifficultyIntermediate, Rating: 1200},
	)
}

func storedRecord(t *testing.T, repo *memory.ProgressRepository, solved ...string) {
	t.Helper()
	now := timeutil.DateTime(2024, 3, 10, 12, 0, 0)
	rec, err := progress.NewRecord("r1", "u1", now)
	require.NoError(t, err)
	for i, id := range solved {
		rec.RecordCompletion(id, progress.Attempt{TimeSpent: 40, Successful: true}, now.Add(time.Duration(i)*time.Minute))
	}
	rec.Touch(now)
	require.NoError(t, repo.Upsert(context.Background(), rec))
}

// ══════════════════════════════════════════════════════════════════════════════
// GET PROGRESS
// ══════════════════════════════════════════════════════════════════════════════

func TestGetProgress_EmptyRecordHasNoSideEffects(t *testing.T) {
	progressRepo := memory.NewProgressRepository()
	h := NewGetProgressHandler(seedCatalog(), progressRepo, nil, 0, nil)

	report, err := h.Handle(context.Background(), GetProgressQuery{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 0, report.TotalPuzzlesSolved)
	assert.Equal(t, 3, report.TotalPuzzles)
	assert.Equal(t, 0.0, report.AverageRating)
	assert.Empty(t, report.RecentActivity)
	assert.Len(t, report.Achievements, len(progress.DefaultRules()))

	_, err = progressRepo.GetByUser(context.Background(), "u1")
	assert.True(t, shared.IsNotFound(err))
}

func TestGetProgress_Report(t *testing.T) {
	progressRepo := memory.NewProgressRepository()
	storedRecord(t, progressRepo, "b1", "i1")
	h := NewGetProgressHandler(seedCatalog(), progressRepo, nil, 0, nil)

	report, err := h.Handle(context.Background(), GetProgressQuery{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, 2, report.TotalPuzzlesSolved)
	assert.Equal(t, 1, report.BeginnersSolved)
	assert.Equal(t, 1, report.IntermediateSolved)
	assert.Equal(t, 1000.0, report.AverageRating)
	require.Len(t, report.RecentActivity, 2)
	assert.Equal(t, "i1", report.RecentActivity[0].PuzzleID)
}

func TestGetProgress_InvalidUser(t *testing.T) {
	h := NewGetProgressHandler(seedCatalog(), memory.NewProgressRepository(), nil, 0, nil)
	_, err := h.Handle(context.Background(), GetProgressQuery{UserID: "  "})
	assert.True(t, shared.IsValidation(err))
}

type brokenProgressRepo struct{}

func (brokenProgressRepo) GetByUser(context.Context, string) (*progress.Record, error) {
	return nil, shared.StorageError("progress", "GetByUser", errors.New("connection refused"))
}
func (brokenProgressRepo) Upsert(context.Context, *progress.Record) error { return nil }

func TestGetProgress_StorageFailure(t *testing.T) {
	h := NewGetProgressHandler(seedCatalog(), brokenProgressRepo{}, nil, 0, nil)
	_, err := h.Handle(context.Background(), GetProgressQuery{UserID: "u1"})
	assert.True(t, shared.IsStorage(err))
}

// ══════════════════════════════════════════════════════════════════════════════
// LIST / GET PUZZLES
// ══════════════════════════════════════════════════════════════════════════════

func TestListPuzzles(t *testing.T) {
	progressRepo := memory.NewProgressRepository()
	storedRecord(t, progressRepo, "b1")
	h := NewListPuzzlesHandler(seedCatalog(), progressRepo, nil)
	ctx := context.Background()

	res, err := h.Handle(ctx, ListPuzzlesQuery{UserID: "u1"})
	require.NoError(t, err)
	require.Equal(t, 3, res.Total)
	assert.Equal(t, "b1", res.Puzzles[0].ID)
	assert.True(t, res.Puzzles[0].Completed)
	assert.False(t, res.Puzzles[1].Completed)

	res, err = h.Handle(ctx, ListPuzzlesQuery{UserID: "u1", Difficulty: "beginner"})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)

	done := true
	res, err = h.Handle(ctx, ListPuzzlesQuery{UserID: "u1", Completed: &done})
	require.NoError(t, err)
	require.Equal(t, 1, res.Total)
	assert.Equal(t, "b1", res.Puzzles[0].ID)

	notDone := false
	res, err = h.Handle(ctx, ListPuzzlesQuery{UserID: "u1", Completed: &notDone})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Total)

	_, err = h.Handle(ctx, ListPuzzlesQuery{Difficulty: "grandmaster"})
	assert.True(t, shared.IsValidation(err))
}

func TestGetPuzzle(t *testing.T) {
	progressRepo := memory.NewProgressRepository()
	storedRecord(t, progressRepo, "b2")
	h := NewGetPuzzleHandler(seedCatalog(), progressRepo, nil)

	dto, err := h.Handle(context.Background(), GetPuzzleQuery{UserID: "u1", PuzzleID: "b2"})
	require.NoError(t, err)
	assert.Equal(t, "Pin", dto.Title)
	assert.True(t, dto.Completed)
	assert.NotNil(t, dto.Moves)

	_, err = h.Handle(context.Background(), GetPuzzleQuery{UserID: "u1", PuzzleID: "zz"})
	assert.True(t, shared.IsNotFound(err))
}

// ══════════════════════════════════════════════════════════════════════════════
// LOAD GAME STATE
// ══════════════════════════════════════════════════════════════════════════════

func TestLoadGameState(t *testing.T) {
	store := memory.NewGameStateStore(0, nil)
	breaker := circuitbreaker.New("test", circuitbreaker.WithFailureThreshold(1))
	h := NewLoadGameStateHandler(store, breaker)
	ctx := context.Background()

	_, err := h.Handle(ctx, LoadGameStateQuery{UserID: "u1", PuzzleID: "b1"})
	assert.True(t, shared.IsNotFound(err))
	assert.Equal(t, circuitbreaker.StateClosed, breaker.State(), "a missing snapshot is not a store failure")

	require.NoError(t, store.Save(ctx, &gamestate.GameState{UserID: "u1", PuzzleID: "b1", HintsUsed: 2}))
	state, err := h.Handle(ctx, LoadGameStateQuery{UserID: "u1", PuzzleID: "b1"})
	require.NoError(t, err)
	assert.Equal(t, 2, state.HintsUsed)

	_, err = h.Handle(ctx, LoadGameStateQuery{UserID: "u1"})
	assert.True(t, shared.IsValidation(err))
}
