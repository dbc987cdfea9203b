package command

import (
	"context"

	"github.com/puzzlehub/chess-puzzles/internal/domain/progress"
	"github.com/puzzlehub/chess-puzzles/internal/domain/puzzle"
	"github.com/puzzlehub/chess-puzzles/internal/domain/shared"
	"github.com/puzzlehub/chess-puzzles/pkg/logger"
	"github.com/puzzlehub/chess-puzzles/pkg/retry"
	"github.com/puzzlehub/chess-puzzles/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// AWARD ACHIEVEMENT COMMAND
// Manually grants one achievement from the rule catalog. Idempotent:
// the first earned date is preserved.
// ══════════════════════════════════════════════════════════════════════════════

// SourceManual labels manually granted achievements.
const SourceManual = "manual"

// ErrManualAwardsDisabled is returned when the feature gate is off.
var ErrManualAwardsDisabled = shared.NewDomainError("progress", "Award", shared.ErrServiceUnavailable, "manual achievement awards are disabled")

// AwardAchievementCommand contains the achievement to award.
type AwardAchievementCommand struct {
	UserID        string `validate:"required,max=128"`
	AchievementID string `validate:"required,max=64"`
}

// Validate validates the command.
func (c AwardAchievementCommand) Validate() error {
	return validateStruct("progress", "AwardAchievement", c)
}

// AwardAchievementResult contains the refreshed report.
type AwardAchievementResult struct {
	Report *progress.Report

	// Added is false when the achievement was already earned.
	Added bool
}

// AwardAchievementHandlerConfig contains handler configuration.
type AwardAchievementHandlerConfig struct {
	// Enabled gates manual awards per user.
	Enabled UserGate

	RecentActivityLimit int

	// Conflicts defaults to the record-attempt conflict retrier.
	Conflicts *retry.Retrier

	Rules   progress.Rules
	Clock   timeutil.Clock
	NewID   func() string
	Logger  *logger.Logger
	Metrics Metrics
}

// AwardAchievementHandler handles the AwardAchievementCommand.
type AwardAchievementHandler struct {
	puzzles  puzzle.Repository
	progress progress.Repository
	locker   progress.Locker
	enabled  UserGate
	config   RecordAttemptHandlerConfig
	log      *logger.Logger
}

// NewAwardAchievementHandler creates a new AwardAchievementHandler.
func NewAwardAchievementHandler(
	puzzles puzzle.Repository,
	progressRepo progress.Repository,
	locker progress.Locker,
	config AwardAchievementHandlerConfig,
) *AwardAchievementHandler {
	base := RecordAttemptHandlerConfig{
		RecentActivityLimit: config.RecentActivityLimit,
		Rules:               config.Rules,
		Clock:               config.Clock,
		NewID:               config.NewID,
		Logger:              config.Logger,
		Metrics:             config.Metrics,
		Conflicts:           config.Conflicts,
	}.withDefaults()

	enabled := config.Enabled
	if enabled == nil {
		enabled = always
	}

	return &AwardAchievementHandler{
		puzzles:  puzzles,
		progress: progressRepo,
		locker:   locker,
		enabled:  enabled,
		config:   base,
		log:      base.Logger.With(logger.Component("award_achievement")),
	}
}

// Handle executes the award achievement command.
func (h *AwardAchievementHandler) Handle(ctx context.Context, cmd AwardAchievementCommand) (*AwardAchievementResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, err
	}
	if !h.enabled(cmd.UserID) {
		return nil, ErrManualAwardsDisabled
	}

	id := progress.AchievementID(cmd.AchievementID)
	if _, ok := h.config.Rules.Lookup(id); !ok {
		return nil, progress.ErrAchievementUnknown
	}

	unlock, err := h.locker.Lock(ctx, cmd.UserID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var (
		rec   *progress.Record
		added bool
	)
	err = h.config.Conflicts.Do(ctx, func(ctx context.Context) error {
		var err error
		rec, err = loadOrCreateRecord(ctx, h.progress, cmd.UserID, h.config.NewID, h.config.Clock)
		if err != nil {
			return err
		}
		added, err = rec.Award(h.config.Rules, id, h.config.Clock.Now())
		if err != nil || !added {
			return err
		}
		return h.progress.Upsert(ctx, rec)
	})
	if err != nil {
		return nil, err
	}

	if added {
		h.config.Metrics.AchievementAwarded(id, SourceManual)
		h.log.Info("achievement awarded manually",
			logger.UserID(cmd.UserID),
			logger.AchievementID(cmd.AchievementID),
		)
	}

	catalog, err := puzzle.LoadCatalog(ctx, h.puzzles)
	if err != nil {
		return nil, err
	}

	return &AwardAchievementResult{
		Report: progress.BuildReport(rec, catalog, h.config.Rules, h.config.RecentActivityLimit),
		Added:  added,
	}, nil
}
