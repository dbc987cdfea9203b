// Package saga contains business processes that orchestrate
// several domain operations in a coordinated manner.
package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/puzzlehub/chess-puzzles/internal/domain/progress"
	"github.com/puzzlehub/chess-puzzles/internal/domain/puzzle"
	"github.com/puzzlehub/chess-puzzles/pkg/logger"
	"github.com/puzzlehub/chess-puzzles/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT FLOW SAGA
// Flow: Validate Input → Evaluate Rules (isolated per rule) →
//
//	Grant + Persist each new achievement → Complete
//
// Earned achievements are never revoked. A failing rule is logged and
// skipped; the remaining rules are still evaluated.
// ══════════════════════════════════════════════════════════════════════════════

// AchievementCheckInput contains data needed to check for new achievements.
type AchievementCheckInput struct {
	// Record is the freshly persisted progress record. It is mutated in place.
	Record *progress.Record

	// Catalog is the puzzle catalog snapshot used for difficulty lookups.
	Catalog puzzle.Catalog

	// TriggerEvent - what triggered this check (e.g., "attempt_recorded").
	TriggerEvent string
}

// Validate checks if the input is valid.
func (i AchievementCheckInput) Validate() error {
	if i.Record == nil {
		return errors.New("achievement_flow: record is required")
	}
	if i.Record.UserID == "" {
		return errors.New("achievement_flow: user ID is required")
	}
	return nil
}

// AchievementFlowResult contains the result of achievement processing.
type AchievementFlowResult struct {
	// UserID - the user who received achievements.
	UserID string

	// NewAchievements - ids unlocked by this run, in rule-catalog order.
	NewAchievements []progress.AchievementID

	// FailedRules - rules whose predicate returned an error or panicked.
	FailedRules []progress.AchievementID

	// ProcessedAt - when the flow completed.
	ProcessedAt time.Time
}

// HasNewAchievements returns true if any achievements were unlocked.
func (r *AchievementFlowResult) HasNewAchievements() bool {
	return len(r.NewAchievements) > 0
}

// AchievementFlowStep represents a step in the achievement flow.
type AchievementFlowStep string

const (
	StepValidateInput       AchievementFlowStep = "validate_input"
	StepEvaluateRules       AchievementFlowStep = "evaluate_rules"
	StepGrantAchievement    AchievementFlowStep = "grant_achievement"
	StepAchievementComplete AchievementFlowStep = "complete"
)

// AchievementFlowState tracks the current state of the achievement flow saga.
type AchievementFlowState struct {
	CurrentStep     AchievementFlowStep
	Input           AchievementCheckInput
	NewAchievements []progress.AchievementID
	FailedRules     []progress.AchievementID
	StartedAt       time.Time
	CompletedAt     *time.Time
	Error           error
	FailedStep      AchievementFlowStep
}

// Metrics receives achievement flow counters.
type Metrics interface {
	AchievementAwarded(id progress.AchievementID, source string)
	RuleFailed(id progress.AchievementID)
}

type nopMetrics struct{}

func (nopMetrics) AchievementAwarded(progress.AchievementID, string) {}
func (nopMetrics) RuleFailed(progress.AchievementID)                 {}

// SourceAutomatic labels achievements granted by rule evaluation.
const SourceAutomatic = "rule"

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT FLOW SAGA IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// AchievementFlowSaga evaluates the rule catalog against a record and
// persists every newly earned achievement.
type AchievementFlowSaga struct {
	progressRepo progress.Repository
	rules        progress.Rules
	clock        timeutil.Clock
	log          *logger.Logger
	metrics      Metrics
}

// AchievementFlowConfig contains configuration for the achievement flow saga.
type AchievementFlowConfig struct {
	Rules   progress.Rules
	Clock   timeutil.Clock
	Logger  *logger.Logger
	Metrics Metrics
}

// DefaultAchievementFlowConfig returns default configuration.
func DefaultAchievementFlowConfig() AchievementFlowConfig {
	return AchievementFlowConfig{
		Rules:   progress.DefaultRules(),
		Clock:   timeutil.SystemClock{},
		Logger:  logger.Default(),
		Metrics: nopMetrics{},
	}
}

// NewAchievementFlowSaga creates a new achievement flow saga.
func NewAchievementFlowSaga(progressRepo progress.Repository, config AchievementFlowConfig) *AchievementFlowSaga {
	def := DefaultAchievementFlowConfig()
	if config.Rules == nil {
		config.Rules = def.Rules
	}
	if config.Clock == nil {
		config.Clock = def.Clock
	}
	if config.Logger == nil {
		config.Logger = def.Logger
	}
	if config.Metrics == nil {
		config.Metrics = def.Metrics
	}

	return &AchievementFlowSaga{
		progressRepo: progressRepo,
		rules:        config.Rules,
		clock:        config.Clock,
		log:          config.Logger.With(logger.Component("achievement_flow")),
		metrics:      config.Metrics,
	}
}

// Rules returns the rule catalog the saga evaluates.
func (s *AchievementFlowSaga) Rules() progress.Rules {
	return s.rules
}

// Execute runs rule evaluation and grants new achievements.
// Only storage failures abort the flow; predicate failures are isolated.
func (s *AchievementFlowSaga) Execute(ctx context.Context, input AchievementCheckInput) (*AchievementFlowResult, error) {
	state := &AchievementFlowState{
		CurrentStep: StepValidateInput,
		Input:       input,
		StartedAt:   s.clock.Now(),
	}

	if err := input.Validate(); err != nil {
		state.FailedStep = StepValidateInput
		state.Error = err
		return nil, s.wrapError(state, err)
	}

	state.CurrentStep = StepEvaluateRules
	for _, rule := range s.rules {
		if input.Record.HasAchievement(rule.ID) {
			continue
		}

		earned, err := s.evaluateRule(rule, input.Record, input.Catalog)
		if err != nil {
			state.FailedRules = append(state.FailedRules, rule.ID)
			s.metrics.RuleFailed(rule.ID)
			s.log.Warn("achievement rule failed",
				logger.UserID(input.Record.UserID),
				logger.AchievementID(rule.ID.String()),
				logger.Err(err),
			)
			continue
		}
		if !earned {
			continue
		}

		state.CurrentStep = StepGrantAchievement
		if err := s.stepGrantAchievement(ctx, state, rule); err != nil {
			return nil, s.wrapError(state, err)
		}
		state.CurrentStep = StepEvaluateRules
	}

	state.CurrentStep = StepAchievementComplete
	now := s.clock.Now()
	state.CompletedAt = &now

	newIDs := state.NewAchievements
	if newIDs == nil {
		newIDs = []progress.AchievementID{}
	}

	return &AchievementFlowResult{
		UserID:          input.Record.UserID,
		NewAchievements: newIDs,
		FailedRules:     state.FailedRules,
		ProcessedAt:     now,
	}, nil
}

// Evaluate adapts Execute to the recorder's evaluator port.
func (s *AchievementFlowSaga) Evaluate(ctx context.Context, rec *progress.Record, catalog puzzle.Catalog) ([]progress.AchievementID, error) {
	res, err := s.Execute(ctx, AchievementCheckInput{
		Record:       rec,
		Catalog:      catalog,
		TriggerEvent: "attempt_recorded",
	})
	if err != nil {
		return nil, err
	}
	return res.NewAchievements, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// SAGA STEPS
// ══════════════════════════════════════════════════════════════════════════════

// evaluateRule runs one predicate. A panic is reported as that rule's error.
func (s *AchievementFlowSaga) evaluateRule(rule progress.Rule, rec *progress.Record, catalog puzzle.Catalog) (earned bool, err error) {
	if rule.Predicate == nil {
		return false, fmt.Errorf("rule %s has no predicate", rule.ID)
	}

	defer func() {
		if r := recover(); r != nil {
			earned = false
			err = fmt.Errorf("rule %s panicked: %v", rule.ID, r)
		}
	}()

	return rule.Predicate(rec, catalog)
}

// stepGrantAchievement persists a copy carrying the achievement and commits
// it to the input record only once the write succeeded.
func (s *AchievementFlowSaga) stepGrantAchievement(ctx context.Context, state *AchievementFlowState, rule progress.Rule) error {
	rec := state.Input.Record
	next := rec.Clone()
	if !next.AddAchievement(rule.ID, s.clock.Now()) {
		return nil
	}

	if err := s.progressRepo.Upsert(ctx, next); err != nil {
		state.FailedStep = StepGrantAchievement
		state.Error = fmt.Errorf("failed to save achievement %s: %w", rule.ID, err)
		return state.Error
	}
	*rec = *next

	state.NewAchievements = append(state.NewAchievements, rule.ID)
	s.metrics.AchievementAwarded(rule.ID, SourceAutomatic)
	s.log.Info("achievement awarded",
		logger.UserID(rec.UserID),
		logger.AchievementID(rule.ID.String()),
	)
	return nil
}

// wrapError wraps an error with saga context.
func (s *AchievementFlowSaga) wrapError(state *AchievementFlowState, err error) error {
	return &AchievementFlowError{
		Step:      state.FailedStep,
		UserID:    userIDOf(state.Input.Record),
		Err:       err,
		StartedAt: state.StartedAt,
	}
}

func userIDOf(rec *progress.Record) string {
	if rec == nil {
		return ""
	}
	return rec.UserID
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// AchievementFlowError represents an error in the achievement flow saga.
type AchievementFlowError struct {
	Step      AchievementFlowStep
	UserID    string
	Err       error
	StartedAt time.Time
}

// Error implements the error interface.
func (e *AchievementFlowError) Error() string {
	return fmt.Sprintf("achievement flow failed at step %s for user %s: %v", e.Step, e.UserID, e.Err)
}

// Unwrap returns the underlying error.
func (e *AchievementFlowError) Unwrap() error {
	return e.Err
}
