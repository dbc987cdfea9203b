package command

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/puzzlehub/chess-puzzles/internal/domain/gamestate"
	"github.com/puzzlehub/chess-puzzles/internal/domain/progress"
	"github.com/puzzlehub/chess-puzzles/internal/domain/puzzle"
	"github.com/puzzlehub/chess-puzzles/internal/domain/shared"
	"github.com/puzzlehub/chess-puzzles/pkg/circuitbreaker"
	"github.com/puzzlehub/chess-puzzles/pkg/logger"
	"github.com/puzzlehub/chess-puzzles/pkg/retry"
	"github.com/puzzlehub/chess-puzzles/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD ATTEMPT COMMAND
// Records a puzzle attempt: first successful completion, streak transition,
// achievement evaluation and cleanup of the saved board snapshot.
// ══════════════════════════════════════════════════════════════════════════════

// RecordAttemptCommand contains the data to record an attempt.
type RecordAttemptCommand struct {
	// UserID is the acting user.
	UserID string `validate:"required,max=128"`

	// PuzzleID is the attempted puzzle.
	PuzzleID string `validate:"required,max=64"`

	// TimeSpent is the solving time in seconds.
	TimeSpent int `validate:"gte=0"`

	// MovesUsed is the number of moves made.
	MovesUsed int `validate:"gte=0"`

	// HintsUsed is the number of hints revealed.
	HintsUsed int `validate:"gte=0"`

	// Successful indicates the puzzle was solved.
	Successful bool
}

// Validate validates the command.
func (c RecordAttemptCommand) Validate() error {
	return validateStruct("progress", "RecordAttempt", c)
}

// Attempt converts the command into a domain attempt.
func (c RecordAttemptCommand) Attempt() progress.Attempt {
	return progress.Attempt{
		TimeSpent:  c.TimeSpent,
		MovesUsed:  c.MovesUsed,
		HintsUsed:  c.HintsUsed,
		Successful: c.Successful,
	}
}

// RecordAttemptResult contains the result of recording an attempt.
type RecordAttemptResult struct {
	// Record is the updated progress record.
	Record *progress.Record

	// Report is the progress report after the attempt.
	Report *progress.Report

	// NewAchievements lists achievements earned by this attempt.
	NewAchievements []progress.AchievementID

	// FirstSolve indicates this attempt added a new completion.
	FirstSolve bool

	// GameStateCleared indicates the saved snapshot was removed.
	GameStateCleared bool
}

// ══════════════════════════════════════════════════════════════════════════════
// PORTS
// ══════════════════════════════════════════════════════════════════════════════

// AchievementEvaluator grants achievements earned by a record.
type AchievementEvaluator interface {
	Evaluate(ctx context.Context, rec *progress.Record, catalog puzzle.Catalog) ([]progress.AchievementID, error)
}

// Metrics receives command counters.
type Metrics interface {
	AttemptRecorded(successful, firstSolve bool)
	AchievementAwarded(id progress.AchievementID, source string)
}

type nopMetrics struct{}

func (nopMetrics) AttemptRecorded(bool, bool)                         {}
func (nopMetrics) AchievementAwarded(progress.AchievementID, string) {}

// UserGate decides per user whether an optional step runs.
type UserGate func(userID string) bool

func always(string) bool { return true }

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RecordAttemptHandlerConfig contains handler configuration.
type RecordAttemptHandlerConfig struct {
	// AutoEvaluate gates achievement evaluation after the attempt.
	AutoEvaluate UserGate

	// CleanupGameState gates snapshot removal after a successful attempt.
	CleanupGameState UserGate

	// RecentActivityLimit caps the report's activity feed.
	RecentActivityLimit int

	// Conflicts reruns the load-modify-save cycle after a lost version
	// check. Defaults to retry.ConflictRetrier on ErrProgressVersionStale.
	Conflicts *retry.Retrier

	Rules   progress.Rules
	Clock   timeutil.Clock
	NewID   func() string
	Logger  *logger.Logger
	Metrics Metrics
}

// DefaultRecordAttemptHandlerConfig returns default configuration.
func DefaultRecordAttemptHandlerConfig() RecordAttemptHandlerConfig {
	return RecordAttemptHandlerConfig{
		AutoEvaluate:        always,
		CleanupGameState:    always,
		RecentActivityLimit: progress.DefaultRecentActivityLimit,
		Rules:               progress.DefaultRules(),
		Clock:               timeutil.SystemClock{},
		NewID:               uuid.NewString,
		Logger:              logger.Default(),
		Metrics:             nopMetrics{},
	}
}

func (c RecordAttemptHandlerConfig) withDefaults() RecordAttemptHandlerConfig {
	def := DefaultRecordAttemptHandlerConfig()
	if c.AutoEvaluate == nil {
		c.AutoEvaluate = def.AutoEvaluate
	}
	if c.CleanupGameState == nil {
		c.CleanupGameState = def.CleanupGameState
	}
	if c.RecentActivityLimit <= 0 {
		c.RecentActivityLimit = def.RecentActivityLimit
	}
	if c.Rules == nil {
		c.Rules = def.Rules
	}
	if c.Clock == nil {
		c.Clock = def.Clock
	}
	if c.NewID == nil {
		c.NewID = def.NewID
	}
	if c.Logger == nil {
		c.Logger = def.Logger
	}
	if c.Metrics == nil {
		c.Metrics = def.Metrics
	}
	if c.Conflicts == nil {
		c.Conflicts = conflictRetrier(c.Logger)
	}
	return c
}

func isStaleVersion(err error) bool {
	return errors.Is(err, progress.ErrProgressVersionStale)
}

func conflictRetrier(log *logger.Logger) *retry.Retrier {
	return retry.ConflictRetrier(isStaleVersion, func(attempt int, err error, delay time.Duration) {
		log.Debug("progress version conflict, retrying",
			logger.Int("attempt", attempt),
			logger.Elapsed(delay),
			logger.Err(err),
		)
	})
}

// RecordAttemptHandler handles the RecordAttemptCommand.
type RecordAttemptHandler struct {
	puzzles    puzzle.Repository
	progress   progress.Repository
	locker     progress.Locker
	evaluator  AchievementEvaluator
	gameStates gamestate.Store
	breaker    *circuitbreaker.CircuitBreaker
	config     RecordAttemptHandlerConfig
	log        *logger.Logger
}

// NewRecordAttemptHandler creates a new RecordAttemptHandler.
func NewRecordAttemptHandler(
	puzzles puzzle.Repository,
	progressRepo progress.Repository,
	locker progress.Locker,
	evaluator AchievementEvaluator,
	gameStates gamestate.Store,
	breaker *circuitbreaker.CircuitBreaker,
	config RecordAttemptHandlerConfig,
) *RecordAttemptHandler {
	config = config.withDefaults()
	if breaker == nil {
		breaker = circuitbreaker.GameStateBreaker(nil)
	}
	return &RecordAttemptHandler{
		puzzles:    puzzles,
		progress:   progressRepo,
		locker:     locker,
		evaluator:  evaluator,
		gameStates: gameStates,
		breaker:    breaker,
		config:     config,
		log:        config.Logger.With(logger.Component("record_attempt")),
	}
}

// Handle executes the record attempt command.
func (h *RecordAttemptHandler) Handle(ctx context.Context, cmd RecordAttemptCommand) (*RecordAttemptResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}

	// Unknown puzzle -> NotFound before any state is touched.
	if _, err := h.puzzles.GetByID(ctx, cmd.PuzzleID); err != nil {
		return nil, err
	}

	unlock, err := h.locker.Lock(ctx, cmd.UserID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Each try starts from the stored record: a stale copy is dropped.
	var (
		rec        *progress.Record
		firstSolve bool
	)
	err = h.config.Conflicts.Do(ctx, func(ctx context.Context) error {
		var err error
		rec, err = loadOrCreateRecord(ctx, h.progress, cmd.UserID, h.config.NewID, h.config.Clock)
		if err != nil {
			return err
		}
		now := h.config.Clock.Now()
		firstSolve = rec.RecordCompletion(cmd.PuzzleID, cmd.Attempt(), now)
		rec.Touch(now)
		return h.progress.Upsert(ctx, rec)
	})
	if err != nil {
		return nil, err
	}
	h.config.Metrics.AttemptRecorded(cmd.Successful, firstSolve)

	h.log.Info("attempt recorded",
		logger.UserID(cmd.UserID),
		logger.PuzzleID(cmd.PuzzleID),
		logger.Bool("successful", cmd.Successful),
		logger.Bool("first_solve", firstSolve),
		logger.Streak(rec.Streak),
	)

	catalog, err := puzzle.LoadCatalog(ctx, h.puzzles)
	if err != nil {
		return nil, err
	}

	result := &RecordAttemptResult{
		Record:          rec,
		NewAchievements: []progress.AchievementID{},
		FirstSolve:      firstSolve,
	}

	if h.evaluator != nil && h.config.AutoEvaluate(cmd.UserID) {
		ids, err := h.evaluator.Evaluate(ctx, rec, catalog)
		if err != nil {
			return nil, err
		}
		result.NewAchievements = ids
	}

	if cmd.Successful && h.gameStates != nil && h.config.CleanupGameState(cmd.UserID) {
		result.GameStateCleared = h.clearGameState(ctx, cmd.UserID, cmd.PuzzleID)
	}

	result.Report = progress.BuildReport(rec, catalog, h.config.Rules, h.config.RecentActivityLimit)
	return result, nil
}

// clearGameState removes the saved snapshot. Failures never fail the attempt.
func (h *RecordAttemptHandler) clearGameState(ctx context.Context, userID, puzzleID string) bool {
	key := gamestate.Key{UserID: userID, PuzzleID: puzzleID}

	err := h.breaker.ExecuteWithFallback(ctx,
		func(ctx context.Context) error {
			return h.gameStates.Delete(ctx, key)
		},
		func(err error) error {
			return fmt.Errorf("game state store unavailable: %w", err)
		},
	)
	if err != nil {
		h.log.Warn("game state cleanup skipped",
			logger.UserID(userID),
			logger.PuzzleID(puzzleID),
			logger.Err(err),
		)
		return false
	}
	return true
}

// loadOrCreateRecord returns the stored record or a fresh unsaved one.
func loadOrCreateRecord(
	ctx context.Context,
	repo progress.Repository,
	userID string,
	newID func() string,
	clock timeutil.Clock,
) (*progress.Record, error) {
	rec, err := repo.GetByUser(ctx, userID)
	if err == nil {
		return rec, nil
	}
	if !shared.IsNotFound(err) {
		return nil, err
	}
	return progress.NewRecord(newID(), userID, clock.Now())
}
