package command

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/puzzlehub/chess-puzzles/internal/application/saga"
	"github.com/puzzlehub/chess-puzzles/internal/domain/gamestate"
	"github.com/puzzlehub/chess-puzzles/internal/domain/progress"
	"github.com/puzzlehub/chess-puzzles/internal/domain/puzzle"
	"github.com/puzzlehub/chess-puzzles/internal/domain/shared"
	"github.com/puzzlehub/chess-puzzles/internal/infrastructure/persistence/memory"
	"github.com/puzzlehub/chess-puzzles/pkg/circuitbreaker"
	"github.com/puzzlehub/chess-puzzles/pkg/logger"
	"github.com/puzzlehub/chess-puzzles/pkg/retry"
	"github.com/puzzlehub/chess-puzzles/pkg/timeutil"
)

type fixture struct {
	clock      *timeutil.FixedClock
	puzzles    *memory.PuzzleRepository
	progress   *memory.ProgressRepository
	gameStates gamestate.Store
	breaker    *circuitbreaker.CircuitBreaker
	recorder   *RecordAttemptHandler
	awarder    *AwardAchievementHandler
}

func newFixture(t *testing.T, gameStates gamestate.Store) *fixture {
	t.Helper()

	clock := timeutil.NewFixedClock(timeutil.DateTime(2024, 3, 10, 12, 0, 0))
	puzzles := memory.NewPuzzleRepository(
		&puzzle.Puzzle{ID: "b1", Title: "Fork", Difficulty: puzzle.DifficultyBeginner, Rating: 800},
		&puzzle.Puzzle{ID: "b2", Title: "Pin", Difficulty: puzzle.DifficultyBeginner, Rating: 900},
		&puzzle.Puzzle{ID: "a1", Title: "Sacrifice", Difficulty: puzzle.DifficultyAdvanced, Rating: 1700},
	)
	progressRepo := memory.NewProgressRepository()
	if gameStates == nil {
		gameStates = memory.NewGameStateStore(0, clock.Now)
	}
	breaker := circuitbreaker.New("test-gamestate", circuitbreaker.WithFailureThreshold(1), circuitbreaker.WithTimeout(time.Hour))
	locker := memory.NewLocker()

	flow := saga.NewAchievementFlowSaga(progressRepo, saga.AchievementFlowConfig{Clock: clock, Logger: logger.Nop()})

	return &fixture{
		clock:      clock,
		puzzles:    puzzles,
		progress:   progressRepo,
		gameStates: gameStates,
		breaker:    breaker,
		recorder: NewRecordAttemptHandler(puzzles, progressRepo, locker, flow, gameStates, breaker,
			RecordAttemptHandlerConfig{Clock: clock, Logger: logger.Nop()}),
		awarder: NewAwardAchievementHandler(puzzles, progressRepo, locker,
			AwardAchievementHandlerConfig{Clock: clock, Logger: logger.Nop()}),
	}
}

func attempt(puzzleID string, successful bool, seconds int) RecordAttemptCommand {
	return RecordAttemptCommand{UserID: "u1", PuzzleID: puzzleID, TimeSpent: seconds, MovesUsed: 3, Successful: successful}
}

type failingStore struct{ calls int }

func (s *failingStore) Save(context.Context, *gamestate.GameState) error { return errors.New("down") }
func (s *failingStore) Load(context.Context, gamestate.Key) (*gamestate.GameState, error) {
	return nil, errors.New("down")
}
func (s *failingStore) Delete(context.Context, gamestate.Key) error {
	s.calls++
	return errors.New("down")
}

// racingRepo lets another writer commit just before the handler's save,
// so the handler's copy is stale. stale forces every save to lose.
type racingRepo struct {
	progress.Repository
	race    func(ctx context.Context)
	stale   bool
	upserts int
}

func (r *racingRepo) Upsert(ctx context.Context, rec *progress.Record) error {
	r.upserts++
	if r.stale {
		return progress.ErrProgressVersionStale
	}
	if r.race != nil {
		race := r.race
		r.race = nil
		race(ctx)
	}
	return r.Repository.Upsert(ctx, rec)
}

// grantDirectly is the competing writer.
func grantDirectly(t *testing.T, repo progress.Repository, id progress.AchievementID, at time.Time) func(context.Context) {
	return func(ctx context.Context) {
		rec, err := repo.GetByUser(ctx, "u1")
		require.NoError(t, err)
		rec.AddAchievement(id, at)
		require.NoError(t, repo.Upsert(ctx, rec))
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// RECORD ATTEMPT
// ══════════════════════════════════════════════════════════════════════════════

func TestRecordAttempt_FirstSolveCountsOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.recorder.Handle(ctx, attempt("b1", true, 60))
	require.NoError(t, err)
	assert.True(t, res.FirstSolve)
	assert.Equal(t, 1, res.Report.TotalPuzzlesSolved)
	assert.Equal(t, 1, res.Report.BeginnersSolved)
	assert.Equal(t, 3, res.Report.TotalPuzzles)

	res, err = f.recorder.Handle(ctx, attempt("b1", true, 10))
	require.NoError(t, err)
	assert.False(t, res.FirstSolve)
	assert.Equal(t, 1, res.Report.TotalPuzzlesSolved)
	assert.Len(t, res.Record.CompletedPuzzles, 1)
}

func TestRecordAttempt_FailedAttemptTouchesStreakOnly(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.recorder.Handle(ctx, attempt("b1", false, 60))
	require.NoError(t, err)
	assert.False(t, res.FirstSolve)
	assert.Equal(t, 0, res.Report.TotalPuzzlesSolved)
	assert.Equal(t, 1, res.Report.Streak)
	assert.Empty(t, res.NewAchievements)

	stored, err := f.progress.GetByUser(ctx, "u1")
	require.NoError(t, err)
	assert.NotNil(t, stored.LastActiveDate)
}

func TestRecordAttempt_StreakTransitions(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	steps := []struct {
		days int
		want int
	}{
		{0, 1},
		{0, 1},
		{1, 2},
		{1, 3},
		{2, 1},
	}

	for _, s := range steps {
		f.clock.AddDays(s.days)
		res, err := f.recorder.Handle(ctx, attempt("b2", false, 5))
		require.NoError(t, err)
		assert.Equal(t, s.want, res.Record.Streak)
	}

	stored, _ := f.progress.GetByUser(ctx, "u1")
	assert.Equal(t, 3, stored.BestStreak)
	assert.True(t, stored.HasAchievement(progress.AchievementStreak3))
}

func TestRecordAttempt_GrantsAchievements(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.recorder.Handle(context.Background(), attempt("b1", true, 20))
	require.NoError(t, err)
	assert.ElementsMatch(t,
		[]progress.AchievementID{progress.AchievementFirstPuzzle, progress.AchievementQuickSolver},
		res.NewAchievements)

	res, err = f.recorder.Handle(context.Background(), attempt("b2", true, 20))
	require.NoError(t, err)
	assert.Empty(t, res.NewAchievements)
}

func TestRecordAttempt_RetriesStaleVersion(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.recorder.Handle(ctx, attempt("b1", true, 60))
	require.NoError(t, err)

	repo := &racingRepo{Repository: f.progress}
	repo.race = grantDirectly(t, f.progress, progress.AchievementTacticalGenius, f.clock.Now())
	recorder := NewRecordAttemptHandler(f.puzzles, repo, memory.NewLocker(), nil, nil, f.breaker,
		RecordAttemptHandlerConfig{Clock: f.clock, Logger: logger.Nop()})

	res, err := recorder.Handle(ctx, attempt("b2", true, 40))
	require.NoError(t, err)
	assert.True(t, res.FirstSolve)
	assert.Equal(t, 2, repo.upserts)

	stored, err := f.progress.GetByUser(ctx, "u1")
	require.NoError(t, err)
	assert.Len(t, stored.CompletedPuzzles, 2)
	assert.True(t, stored.HasAchievement(progress.AchievementTacticalGenius), "the competing write is kept")
}

func TestRecordAttempt_GivesUpOnPersistentConflict(t *testing.T) {
	f := newFixture(t, nil)
	repo := &racingRepo{Repository: f.progress, stale: true}
	recorder := NewRecordAttemptHandler(f.puzzles, repo, memory.NewLocker(), nil, nil, f.breaker,
		RecordAttemptHandlerConfig{
			Clock:     f.clock,
			Logger:    logger.Nop(),
			Conflicts: retry.ConflictRetrier(isStaleVersion, nil),
		})

	_, err := recorder.Handle(context.Background(), attempt("b1", true, 60))
	assert.True(t, shared.IsConflict(err))
	assert.Equal(t, 4, repo.upserts)

	_, err = f.progress.GetByUser(context.Background(), "u1")
	assert.True(t, shared.IsNotFound(err))
}

func TestRecordAttempt_UnknownPuzzle(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.recorder.Handle(context.Background(), attempt("zz", true, 20))
	assert.True(t, shared.IsNotFound(err))

	_, err = f.progress.GetByUser(context.Background(), "u1")
	assert.True(t, shared.IsNotFound(err))
}

func TestRecordAttempt_Validation(t *testing.T) {
	f := newFixture(t, nil)

	cases := []RecordAttemptCommand{
		{PuzzleID: "b1"},
		{UserID: "u1"},
		{UserID: "u1", PuzzleID: "b1", TimeSpent: -1},
		{UserID: "u1", PuzzleID: "b1", HintsUsed: -2},
	}
	for _, cmd := range cases {
		_, err := f.recorder.Handle(context.Background(), cmd)
		assert.True(t, shared.IsValidation(err), "%+v", cmd)
	}
}

func TestRecordAttempt_ClearsGameStateOnSuccess(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	key := gamestate.Key{UserID: "u1", PuzzleID: "b1"}

	require.NoError(t, f.gameStates.Save(ctx, &gamestate.GameState{UserID: "u1", PuzzleID: "b1"}))

	res, err := f.recorder.Handle(ctx, attempt("b1", false, 30))
	require.NoError(t, err)
	assert.False(t, res.GameStateCleared)
	_, err = f.gameStates.Load(ctx, key)
	require.NoError(t, err)

	res, err = f.recorder.Handle(ctx, attempt("b1", true, 30))
	require.NoError(t, err)
	assert.True(t, res.GameStateCleared)
	_, err = f.gameStates.Load(ctx, key)
	assert.True(t, shared.IsNotFound(err))
}

func TestRecordAttempt_GameStateFailureDoesNotFailAttempt(t *testing.T) {
	store := &failingStore{}
	f := newFixture(t, store)
	ctx := context.Background()

	res, err := f.recorder.Handle(ctx, attempt("b1", true, 30))
	require.NoError(t, err)
	assert.False(t, res.GameStateCleared)
	assert.Equal(t, 1, res.Report.TotalPuzzlesSolved)
	assert.Equal(t, circuitbreaker.StateOpen, f.breaker.State())

	// Open breaker short-circuits the store.
	res, err = f.recorder.Handle(ctx, attempt("b2", true, 30))
	require.NoError(t, err)
	assert.False(t, res.GameStateCleared)
	assert.Equal(t, 1, store.calls)
}

func TestRecordAttempt_CleanupGate(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.recorder.config.CleanupGameState = func(string) bool { return false }

	require.NoError(t, f.gameStates.Save(ctx, &gamestate.GameState{UserID: "u1", PuzzleID: "b1"}))
	res, err := f.recorder.Handle(ctx, attempt("b1", true, 30))
	require.NoError(t, err)
	assert.False(t, res.GameStateCleared)

	_, err = f.gameStates.Load(ctx, gamestate.Key{UserID: "u1", PuzzleID: "b1"})
	assert.NoError(t, err)
}

// ══════════════════════════════════════════════════════════════════════════════
// AWARD ACHIEVEMENT
// ══════════════════════════════════════════════════════════════════════════════

func TestAwardAchievement_Idempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	cmd := AwardAchievementCommand{UserID: "u1", AchievementID: string(progress.AchievementTacticalGenius)}

	res, err := f.awarder.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.True(t, res.Added)
	first, _ := f.progress.GetByUser(ctx, "u1")
	earned, ok := first.Achievement(progress.AchievementTacticalGenius)
	require.True(t, ok)

	f.clock.AddDays(3)
	res, err = f.awarder.Handle(ctx, cmd)
	require.NoError(t, err)
	assert.False(t, res.Added)

	again, _ := f.progress.GetByUser(ctx, "u1")
	assert.Len(t, again.Achievements, 1)
	got, _ := again.Achievement(progress.AchievementTacticalGenius)
	assert.Equal(t, earned.EarnedAt, got.EarnedAt)
}

func TestAwardAchievement_Unknown(t *testing.T) {
	f := newFixture(t, nil)

	_, err := f.awarder.Handle(context.Background(), AwardAchievementCommand{UserID: "u1", AchievementID: "grandmaster"})
	assert.True(t, shared.IsUnknownAchievement(err))

	_, err = f.progress.GetByUser(context.Background(), "u1")
	assert.True(t, shared.IsNotFound(err))
}

func TestAwardAchievement_Disabled(t *testing.T) {
	f := newFixture(t, nil)
	f.awarder.enabled = func(string) bool { return false }

	_, err := f.awarder.Handle(context.Background(), AwardAchievementCommand{UserID: "u1", AchievementID: "first_puzzle"})
	assert.ErrorIs(t, err, ErrManualAwardsDisabled)
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
}

func TestAwardAchievement_RetriesStaleVersion(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	_, err := f.recorder.Handle(ctx, attempt("b1", true, 60))
	require.NoError(t, err)

	repo := &racingRepo{Repository: f.progress}
	repo.race = func(ctx context.Context) {
		rec, err := f.progress.GetByUser(ctx, "u1")
		require.NoError(t, err)
		rec.RecordCompletion("b2", progress.Attempt{TimeSpent: 30, Successful: true}, f.clock.Now())
		require.NoError(t, f.progress.Upsert(ctx, rec))
	}
	awarder := NewAwardAchievementHandler(f.puzzles, repo, memory.NewLocker(),
		AwardAchievementHandlerConfig{Clock: f.clock, Logger: logger.Nop()})

	res, err := awarder.Handle(ctx, AwardAchievementCommand{UserID: "u1", AchievementID: string(progress.AchievementTacticalGenius)})
	require.NoError(t, err)
	assert.True(t, res.Added)
	assert.Equal(t, 2, repo.upserts)
	assert.Equal(t, 2, res.Report.TotalPuzzlesSolved, "the competing solve survives the retry")
}

// ══════════════════════════════════════════════════════════════════════════════
// GAME STATE
// ══════════════════════════════════════════════════════════════════════════════

func TestGameStateHandler_Save(t *testing.T) {
	f := newFixture(t, nil)
	h := NewGameStateHandler(f.puzzles, f.gameStates, f.breaker, f.clock, logger.Nop())
	ctx := context.Background()

	piece := "wK"
	board := make([][]*string, 8)
	for i := range board {
		board[i] = make([]*string, 8)
	}
	board[7][4] = &piece
	spent, hints := 42, 1

	res, err := h.Save(ctx, SaveGameStateCommand{
		UserID:      "u1",
		PuzzleID:    "b1",
		Board:       board,
		MoveHistory: []gamestate.Move{{"from": "e2", "to": "e4"}},
		TimeSpent:   &spent,
		HintsUsed:   &hints,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, res.State.ID)

	loaded, err := f.gameStates.Load(ctx, gamestate.Key{UserID: "u1", PuzzleID: "b1"})
	require.NoError(t, err)
	assert.Equal(t, 42, loaded.TimeSpent)
	assert.Equal(t, "wK", *loaded.Board[7][4])

	require.NoError(t, h.Delete(ctx, DeleteGameStateCommand{UserID: "u1", PuzzleID: "b1"}))
	_, err = f.gameStates.Load(ctx, gamestate.Key{UserID: "u1", PuzzleID: "b1"})
	assert.True(t, shared.IsNotFound(err))
}

func TestGameStateHandler_SaveValidation(t *testing.T) {
	f := newFixture(t, nil)
	h := NewGameStateHandler(f.puzzles, f.gameStates, f.breaker, f.clock, logger.Nop())

	_, err := h.Save(context.Background(), SaveGameStateCommand{UserID: "u1", PuzzleID: "b1"})
	assert.True(t, shared.IsValidation(err))

	zero := 0
	_, err = h.Save(context.Background(), SaveGameStateCommand{
		UserID: "u1", PuzzleID: "nope",
		Board: [][]*string{}, MoveHistory: []gamestate.Move{},
		TimeSpent: &zero, HintsUsed: &zero,
	})
	assert.True(t, shared.IsNotFound(err))
}

func TestGameStateHandler_OpenBreaker(t *testing.T) {
	f := newFixture(t, &failingStore{})
	h := NewGameStateHandler(f.puzzles, f.gameStates, f.breaker, f.clock, logger.Nop())

	err := h.Delete(context.Background(), DeleteGameStateCommand{UserID: "u1", PuzzleID: "b1"})
	require.Error(t, err)
	assert.False(t, errors.Is(err, shared.ErrServiceUnavailable))

	err = h.Delete(context.Background(), DeleteGameStateCommand{UserID: "u1", PuzzleID: "b1"})
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
}

// ══════════════════════════════════════════════════════════════════════════════
// PUZZLE CATALOG
// ══════════════════════════════════════════════════════════════════════════════

func TestPuzzleHandler_CRUD(t *testing.T) {
	f := newFixture(t, nil)
	h := NewPuzzleHandler(f.puzzles, f.clock, logger.Nop())
	ctx := context.Background()

	p, err := h.Create(ctx, CreatePuzzleCommand{
		ID:         "i1",
		Title:      "Discovered Attack",
		Difficulty: "intermediate",
		TimeLimit:  120,
		Rating:     1250,
		Moves:      []string{"Nd5", "Qxd5"},
	})
	require.NoError(t, err)
	assert.Equal(t, puzzle.DefaultCategory, p.Category)

	_, err = h.Create(ctx, CreatePuzzleCommand{ID: "i1", Title: "dup", Difficulty: "beginner"})
	assert.True(t, shared.IsAlreadyExists(err))

	_, err = h.Create(ctx, CreatePuzzleCommand{ID: "x", Title: "bad", Difficulty: "expert"})
	assert.True(t, shared.IsValidation(err))

	title := "Discovered Check"
	rating := 1300
	updated, err := h.Update(ctx, UpdatePuzzleCommand{ID: "i1", Title: &title, Rating: &rating})
	require.NoError(t, err)
	assert.Equal(t, "Discovered Check", updated.Title)
	assert.Equal(t, 1300, updated.Rating)
	assert.Equal(t, puzzle.DifficultyIntermediate, updated.Difficulty)

	_, err = h.Update(ctx, UpdatePuzzleCommand{ID: "missing", Title: &title})
	assert.True(t, shared.IsNotFound(err))

	require.NoError(t, h.Delete(ctx, DeletePuzzleCommand{ID: "i1"}))
	assert.True(t, shared.IsNotFound(h.Delete(ctx, DeletePuzzleCommand{ID: "i1"})))
}
