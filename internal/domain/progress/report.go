package progress

import (
	"math"
	"sort"
	"time"

	"github.com/puzzlehub/chess-puzzles/internal/domain/puzzle"
)

// DefaultRecentActivityLimit - сколько последних решений попадает в отчёт.
const DefaultRecentActivityLimit = 10

// Результаты в ленте активности.
const (
	ActivitySolved = "solved"
	ActivityFailed = "failed"
)

// Report - агрегированный отчёт о прогрессе.
type Report struct {
	UserID             string              `json:"user_id"`
	TotalPuzzlesSolved int                 `json:"total_puzzles_solved"`
	TotalPuzzles       int                 `json:"total_puzzles"`
	BeginnersSolved    int                 `json:"beginners_solved"`
	IntermediateSolved int                 `json:"intermediate_solved"`
	AdvancedSolved     int                 `json:"advanced_solved"`
	AverageRating      float64             `json:"average_rating"`
	Streak             int                 `json:"streak"`
	BestStreak         int                 `json:"best_streak"`
	LastActiveDate     *time.Time          `json:"last_active_date"`
	Achievements       []AchievementStatus `json:"achievements"`
	RecentActivity     []ActivityItem      `json:"recent_activity"`
}

// AchievementStatus - правило достижения и его статус у пользователя.
type AchievementStatus struct {
	ID          AchievementID `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Earned      bool          `json:"earned"`
	EarnedDate  *time.Time    `json:"earned_date"`
}

// ActivityItem - элемент ленты последних решений.
type ActivityItem struct {
	Date     time.Time `json:"date"`
	PuzzleID string    `json:"puzzle_id"`
	Puzzle   string    `json:"puzzle"`
	Result   string    `json:"result"`
	Time     int       `json:"time"`
}

// BuildReport строит отчёт из записи и снимка каталога. Побочных эффектов нет.
func BuildReport(rec *Record, catalog puzzle.Catalog, rules Rules, recentLimit int) *Report {
	if recentLimit <= 0 {
		recentLimit = DefaultRecentActivityLimit
	}

	counts := CountSolvedByDifficulty(rec, catalog)

	report := &Report{
		UserID:             rec.UserID,
		TotalPuzzlesSolved: rec.TotalPuzzlesSolved,
		TotalPuzzles:       catalog.Size(),
		BeginnersSolved:    counts[puzzle.DifficultyBeginner],
		IntermediateSolved: counts[puzzle.DifficultyIntermediate],
		AdvancedSolved:     counts[puzzle.DifficultyAdvanced],
		AverageRating:      averageRating(rec, catalog),
		Streak:             rec.Streak,
		BestStreak:         rec.BestStreak,
		LastActiveDate:     rec.LastActiveDate,
		Achievements:       achievementStatuses(rec, rules),
		RecentActivity:     recentActivity(rec, catalog, recentLimit),
	}
	return report
}

// averageRating - средний рейтинг решённых задач, которые ещё есть в каталоге.
func averageRating(rec *Record, catalog puzzle.Catalog) float64 {
	sum, n := 0, 0
	for _, cp := range rec.CompletedPuzzles {
		if !cp.Successful {
			continue
		}
		p, ok := catalog.Lookup(cp.PuzzleID)
		if !ok {
			continue
		}
		sum += p.Rating
		n++
	}
	if n == 0 {
		return 0
	}
	return math.RoundToEven(float64(sum)/float64(n)*10) / 10
}

func achievementStatuses(rec *Record, rules Rules) []AchievementStatus {
	out := make([]AchievementStatus, 0, len(rules))
	for _, rule := range rules {
		st := AchievementStatus{
			ID:          rule.ID,
			Name:        rule.Name,
			Description: rule.Description,
		}
		if a, ok := rec.Achievement(rule.ID); ok {
			earned := a.EarnedAt
			st.Earned = true
			st.EarnedDate = &earned
		}
		out = append(out, st)
	}
	return out
}

// recentActivity берёт limit последних решений (по убыванию времени,
// при равенстве - в порядке добавления) и отбрасывает удалённые задачи.
func recentActivity(rec *Record, catalog puzzle.Catalog, limit int) []ActivityItem {
	sorted := append([]CompletedPuzzle(nil), rec.CompletedPuzzles...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].CompletedAt.After(sorted[j].CompletedAt)
	})
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}

	items := make([]ActivityItem, 0, len(sorted))
	for _, cp := range sorted {
		p, ok := catalog.Lookup(cp.PuzzleID)
		if !ok {
			continue
		}
		result := ActivityFailed
		if cp.Successful {
			result = ActivitySolved
		}
		items = append(items, ActivityItem{
			Date:     cp.CompletedAt,
			PuzzleID: cp.PuzzleID,
			Puzzle:   p.Title,
			Result:   result,
			Time:     cp.TimeSpent,
		})
	}
	return items
}
