package progress

import (
	"github.com/puzzlehub/chess-puzzles/internal/domain/puzzle"
)

// ══════════════════════════════════════════════════════════════════════════════
// ACHIEVEMENT RULES
// ══════════════════════════════════════════════════════════════════════════════

// Идентификаторы достижений.
const (
	AchievementFirstPuzzle        AchievementID = "first_puzzle"
	AchievementBeginnerMaster     AchievementID = "beginner_master"
	AchievementIntermediateMaster AchievementID = "intermediate_master"
	AchievementAdvancedMaster     AchievementID = "advanced_master"
	AchievementQuickSolver        AchievementID = "quick_solver"
	AchievementStreak3            AchievementID = "streak_3"
	AchievementTacticalGenius     AchievementID = "tactical_genius"
	AchievementEndgameExpert      AchievementID = "endgame_expert"
)

// Пороги правил.
const (
	BeginnerMasterThreshold     = 15
	IntermediateMasterThreshold = 20
	AdvancedMasterThreshold     = 15
	TacticalGeniusThreshold     = 5
	QuickSolveSeconds           = 30
	StreakThreshold             = 3
	EndgameExpertThreshold      = 2
)

// EndgamePuzzleIDs - задачи, засчитываемые в "Endgame Expert".
var EndgamePuzzleIDs = []string{"a3", "a4"}

// Predicate проверяет условие достижения. Получает запись и текущий каталог.
type Predicate func(rec *Record, catalog puzzle.Catalog) (bool, error)

// Rule - дескриптор правила достижения.
type Rule struct {
	ID          AchievementID
	Name        string
	Description string
	Predicate   Predicate
}

// Rules - упорядоченный каталог правил.
type Rules []Rule

// Lookup ищет правило по ID.
func (rs Rules) Lookup(id AchievementID) (Rule, bool) {
	for _, r := range rs {
		if r.ID == id {
			return r, true
		}
	}
	return Rule{}, false
}

// IDs возвращает идентификаторы правил в порядке каталога.
func (rs Rules) IDs() []AchievementID {
	ids := make([]AchievementID, len(rs))
	for i, r := range rs {
		ids[i] = r.ID
	}
	return ids
}

// DefaultRules возвращает фиксированный каталог правил.
func DefaultRules() Rules {
	return Rules{
		{
			ID:          AchievementFirstPuzzle,
			Name:        "First Puzzle",
			Description: "Solved your first puzzle!",
			Predicate: func(rec *Record, _ puzzle.Catalog) (bool, error) {
				return rec.TotalPuzzlesSolved >= 1, nil
			},
		},
		{
			ID:          AchievementBeginnerMaster,
			Name:        "Beginner Master",
			Description: "Completed all beginner puzzles",
			Predicate:   difficultyAtLeast(puzzle.DifficultyBeginner, BeginnerMasterThreshold),
		},
		{
			ID:          AchievementIntermediateMaster,
			Name:        "Intermediate Master",
			Description: "Completed all intermediate puzzles",
			Predicate:   difficultyAtLeast(puzzle.DifficultyIntermediate, IntermediateMasterThreshold),
		},
		{
			ID:          AchievementAdvancedMaster,
			Name:        "Advanced Master",
			Description: "Completed all advanced puzzles",
			Predicate:   difficultyAtLeast(puzzle.DifficultyAdvanced, AdvancedMasterThreshold),
		},
		{
			ID:          AchievementQuickSolver,
			Name:        "Quick Solver",
			Description: "Solved a puzzle in under 30 seconds",
			Predicate: func(rec *Record, _ puzzle.Catalog) (bool, error) {
				for _, cp := range rec.CompletedPuzzles {
					if cp.Successful && cp.TimeSpent < QuickSolveSeconds {
						return true, nil
					}
				}
				return false, nil
			},
		},
		{
			ID:          AchievementStreak3,
			Name:        "3-Day Streak",
			Description: "Solved puzzles 3 days in a row",
			Predicate: func(rec *Record, _ puzzle.Catalog) (bool, error) {
				return rec.Streak >= StreakThreshold, nil
			},
		},
		{
			ID:          AchievementTacticalGenius,
			Name:        "Tactical Genius",
			Description: "Solved 5 advanced puzzles",
			Predicate:   difficultyAtLeast(puzzle.DifficultyAdvanced, TacticalGeniusThreshold),
		},
		{
			ID:          AchievementEndgameExpert,
			Name:        "Endgame Expert",
			Description: "Mastered endgame techniques",
			Predicate: func(rec *Record, _ puzzle.Catalog) (bool, error) {
				solved := rec.SolvedSet()
				n := 0
				for _, id := range EndgamePuzzleIDs {
					if _, ok := solved[id]; ok {
						n++
					}
				}
				return n >= EndgameExpertThreshold, nil
			},
		},
	}
}

// difficultyAtLeast строит предикат "не менее n успешных решений сложности d".
func difficultyAtLeast(d puzzle.Difficulty, n int) Predicate {
	return func(rec *Record, catalog puzzle.Catalog) (bool, error) {
		return CountSolvedByDifficulty(rec, catalog)[d] >= n, nil
	}
}

// CountSolvedByDifficulty считает успешные решения по сложности.
// Задачи, отсутствующие в каталоге, не учитываются.
func CountSolvedByDifficulty(rec *Record, catalog puzzle.Catalog) map[puzzle.Difficulty]int {
	counts := make(map[puzzle.Difficulty]int, 3)
	for _, cp := range rec.CompletedPuzzles {
		if !cp.Successful {
			continue
		}
		if d, ok := catalog.DifficultyOf(cp.PuzzleID); ok {
			counts[d]++
		}
	}
	return counts
}
