package saga

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/puzzlehub/chess-puzzles/internal/domain/progress"
	"github.com/puzzlehub/chess-puzzles/internal/domain/puzzle"
	"github.com/puzzlehub/chess-puzzles/pkg/logger"
	"github.com/puzzlehub/chess-puzzles/pkg/timeutil"
)

type fakeProgressRepo struct {
	upserts int
	failAt  int
	saved   *progress.Record
}

func (f *fakeProgressRepo) GetByUser(_ context.Context, _ string) (*progress.Record, error) {
	if f.saved == nil {
		return nil, progress.ErrProgressNotFound
	}
	return f.saved.Clone(), nil
}

func (f *fakeProgressRepo) Upsert(_ context.Context, rec *progress.Record) error {
	f.upserts++
	if f.failAt > 0 && f.upserts == f.failAt {
		return errors.New("connection reset")
	}
	rec.Version++
	f.saved = rec.Clone()
	return nil
}

type countingMetrics struct {
	awarded []progress.AchievementID
	failed  []progress.AchievementID
}

func (m *countingMetrics) AchievementAwarded(id progress.AchievementID, _ string) {
	m.awarded = append(m.awarded, id)
}
func (m *countingMetrics) RuleFailed(id progress.AchievementID) { m.failed = append(m.failed, id) }

func newSaga(repo progress.Repository, rules progress.Rules, m Metrics) *AchievementFlowSaga {
	return NewAchievementFlowSaga(repo, AchievementFlowConfig{
		Rules:   rules,
		Clock:   timeutil.NewFixedClock(timeutil.DateTime(2024, 3, 10, 12, 0, 0)),
		Logger:  logger.Nop(),
		Metrics: m,
	})
}

func solvedRecord(t *testing.T, timeSpent int) *progress.Record {
	t.Helper()
	now := timeutil.DateTime(2024, 3, 10, 11, 0, 0)
	rec, err := progress.NewRecord("rec-1", "default_user", now)
	require.NoError(t, err)
	rec.RecordCompletion("p1", progress.Attempt{TimeSpent: timeSpent, Successful: true}, now)
	rec.Touch(now)
	return rec
}

func TestExecute_AwardsMatchingRules(t *testing.T) {
	repo := &fakeProgressRepo{}
	m := &countingMetrics{}
	s := newSaga(repo, progress.DefaultRules(), m)
	rec := solvedRecord(t, 20)
	catalog := puzzle.NewCatalog([]*puzzle.Puzzle{{ID: "p1", Title: "p1", Difficulty: puzzle.DifficultyBeginner, Rating: 800}})

	res, err := s.Execute(context.Background(), AchievementCheckInput{Record: rec, Catalog: catalog})
	require.NoError(t, err)

	assert.Equal(t, []progress.AchievementID{progress.AchievementFirstPuzzle, progress.AchievementQuickSolver}, res.NewAchievements)
	assert.True(t, res.HasNewAchievements())
	assert.Equal(t, 2, repo.upserts, "one upsert per award")
	assert.True(t, repo.saved.HasAchievement(progress.AchievementQuickSolver))
	assert.Equal(t, res.NewAchievements, m.awarded)
}

func TestExecute_SkipsAlreadyEarned(t *testing.T) {
	repo := &fakeProgressRepo{}
	s := newSaga(repo, progress.DefaultRules(), nil)
	rec := solvedRecord(t, 100)
	earned := timeutil.DateTime(2024, 1, 1, 0, 0, 0)
	rec.AddAchievement(progress.AchievementFirstPuzzle, earned)

	res, err := s.Execute(context.Background(), AchievementCheckInput{Record: rec, Catalog: puzzle.NewCatalog(nil)})
	require.NoError(t, err)

	assert.Empty(t, res.NewAchievements)
	assert.Zero(t, repo.upserts)
	a, _ := rec.Achievement(progress.AchievementFirstPuzzle)
	assert.Equal(t, earned, a.EarnedAt)
}

func TestExecute_IsolatesFailingRules(t *testing.T) {
	rules := progress.Rules{
		{ID: "broken", Predicate: func(*progress.Record, puzzle.Catalog) (bool, error) {
			return false, errors.New("catalog unavailable")
		}},
		{ID: "panicky", Predicate: func(*progress.Record, puzzle.Catalog) (bool, error) {
			var p *puzzle.Puzzle
			return p.Rating > 0, nil
		}},
		{ID: "missing"},
		{ID: progress.AchievementFirstPuzzle, Predicate: func(rec *progress.Record, _ puzzle.Catalog) (bool, error) {
			return rec.TotalPuzzlesSolved >= 1, nil
		}},
	}
	m := &countingMetrics{}
	repo := &fakeProgressRepo{}
	s := newSaga(repo, rules, m)

	res, err := s.Execute(context.Background(), AchievementCheckInput{Record: solvedRecord(t, 100)})
	require.NoError(t, err)

	assert.Equal(t, []progress.AchievementID{progress.AchievementFirstPuzzle}, res.NewAchievements)
	assert.Equal(t, []progress.AchievementID{"broken", "panicky", "missing"}, res.FailedRules)
	assert.Equal(t, res.FailedRules, m.failed)
}

func TestExecute_StorageFailureAborts(t *testing.T) {
	repo := &fakeProgressRepo{failAt: 1}
	s := newSaga(repo, progress.DefaultRules(), nil)
	rec := solvedRecord(t, 20)

	_, err := s.Execute(context.Background(), AchievementCheckInput{Record: rec})
	require.Error(t, err)
	assert.False(t, rec.HasAchievement(progress.AchievementFirstPuzzle), "unsaved achievement must not stay on the record")
	assert.Empty(t, rec.Achievements)
	assert.Zero(t, rec.Version)

	var flowErr *AchievementFlowError
	require.True(t, errors.As(err, &flowErr))
	assert.Equal(t, StepGrantAchievement, flowErr.Step)
	assert.Equal(t, "default_user", flowErr.UserID)
}

func TestExecute_InvalidInput(t *testing.T) {
	s := newSaga(&fakeProgressRepo{}, nil, nil)

	_, err := s.Execute(context.Background(), AchievementCheckInput{})
	var flowErr *AchievementFlowError
	require.True(t, errors.As(err, &flowErr))
	assert.Equal(t, StepValidateInput, flowErr.Step)
}

func TestEvaluate_ReturnsNewIDs(t *testing.T) {
	s := newSaga(&fakeProgressRepo{}, progress.DefaultRules(), nil)

	ids, err := s.Evaluate(context.Background(), solvedRecord(t, 45), puzzle.NewCatalog(nil))
	require.NoError(t, err)
	assert.Equal(t, []progress.AchievementID{progress.AchievementFirstPuzzle}, ids)
}
