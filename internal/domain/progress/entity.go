package progress

import (
	"strings"
	"time"

	"github.com/puzzlehub/chess-puzzles/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// VALUE OBJECTS
// ══════════════════════════════════════════════════════════════════════════════

// AchievementID - идентификатор достижения из фиксированного каталога правил.
type AchievementID string

// String возвращает строковое представление.
func (id AchievementID) String() string {
	return string(id)
}

// Attempt - попытка решения задачи.
type Attempt struct {
	// TimeSpent - затраченное время в секундах.
	TimeSpent int `json:"time_spent"`

	// MovesUsed - количество сделанных ходов.
	MovesUsed int `json:"moves_used"`

	// HintsUsed - количество использованных подсказок.
	HintsUsed int `json:"hints_used"`

	// Successful - задача решена.
	Successful bool `json:"successful"`
}

// Validate проверяет, что счётчики попытки неотрицательны.
func (a Attempt) Validate() error {
	switch {
	case a.TimeSpent < 0:
		return shared.WrapError("progress", "Attempt.Validate", shared.ErrNegativeValue, "time_spent cannot be negative", nil)
	case a.MovesUsed < 0:
		return shared.WrapError("progress", "Attempt.Validate", shared.ErrNegativeValue, "moves_used cannot be negative", nil)
	case a.HintsUsed < 0:
		return shared.WrapError("progress", "Attempt.Validate", shared.ErrNegativeValue, "hints_used cannot be negative", nil)
	}
	return nil
}

// CompletedPuzzle - запись о первом успешном решении задачи.
type CompletedPuzzle struct {
	PuzzleID    string    `json:"puzzle_id"`
	CompletedAt time.Time `json:"completed_at"`
	TimeSpent   int       `json:"time_spent"`
	MovesUsed   int       `json:"moves_used"`
	HintsUsed   int       `json:"hints_used"`
	Successful  bool      `json:"successful"`
}

// Achievement - полученное достижение.
type Achievement struct {
	ID       AchievementID `json:"achievement_id"`
	EarnedAt time.Time     `json:"earned_at"`
}

// ══════════════════════════════════════════════════════════════════════════════
// AGGREGATE ROOT: RECORD
// ══════════════════════════════════════════════════════════════════════════════

// Record - прогресс пользователя. Один агрегат на пользователя,
// создаётся лениво при первом обращении и никогда не удаляется ядром.
type Record struct {
	// ID - внутренний идентификатор записи (UUID).
	ID string

	// UserID - пользователь, которому принадлежит запись.
	UserID string

	// TotalPuzzlesSolved - число успешных первых решений.
	// Монотонно не убывает.
	TotalPuzzlesSolved int

	// CompletedPuzzles - история решений в порядке добавления.
	CompletedPuzzles []CompletedPuzzle

	// Achievements - полученные достижения в порядке получения.
	Achievements []Achievement

	// Streak - текущая серия дней активности.
	Streak int

	// BestStreak - лучшая серия за всё время.
	BestStreak int

	// LastActiveDate - время последней попытки (nil для новой записи).
	LastActiveDate *time.Time

	// Version - версия для оптимистичной блокировки в хранилище.
	Version int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewRecord создаёт пустую запись прогресса.
func NewRecord(id, userID string, now time.Time) (*Record, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrInvalidUserID
	}

	now = now.UTC()
	return &Record{
		ID:               id,
		UserID:           userID,
		CompletedPuzzles: []CompletedPuzzle{},
		Achievements:     []Achievement{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// HasSolved проверяет, есть ли успешное решение задачи.
func (r *Record) HasSolved(puzzleID string) bool {
	for _, cp := range r.CompletedPuzzles {
		if cp.PuzzleID == puzzleID && cp.Successful {
			return true
		}
	}
	return false
}

// SolvedSet возвращает множество ID успешно решённых задач.
func (r *Record) SolvedSet() map[string]struct{} {
	set := make(map[string]struct{}, len(r.CompletedPuzzles))
	for _, cp := range r.CompletedPuzzles {
		if cp.Successful {
			set[cp.PuzzleID] = struct{}{}
		}
	}
	return set
}

// RecordCompletion добавляет решение, если попытка успешна и задача
// ещё не решалась. Возвращает true, если история изменилась.
func (r *Record) RecordCompletion(puzzleID string, attempt Attempt, now time.Time) bool {
	if !attempt.Successful || r.HasSolved(puzzleID) {
		return false
	}

	r.CompletedPuzzles = append(r.CompletedPuzzles, CompletedPuzzle{
		PuzzleID:    puzzleID,
		CompletedAt: now.UTC(),
		TimeSpent:   attempt.TimeSpent,
		MovesUsed:   attempt.MovesUsed,
		HintsUsed:   attempt.HintsUsed,
		Successful:  true,
	})
	r.TotalPuzzlesSolved++
	r.UpdatedAt = now.UTC()
	return true
}

// Touch применяет переход серии и отмечает активность.
// Вызывается на каждой попытке, успешной или нет.
func (r *Record) Touch(now time.Time) {
	now = now.UTC()
	r.Streak = NextStreak(r.Streak, r.LastActiveDate, now)
	if r.Streak > r.BestStreak {
		r.BestStreak = r.Streak
	}
	r.LastActiveDate = &now
	r.UpdatedAt = now
}

// HasAchievement проверяет, получено ли достижение.
func (r *Record) HasAchievement(id AchievementID) bool {
	_, ok := r.Achievement(id)
	return ok
}

// Achievement возвращает полученное достижение по ID.
func (r *Record) Achievement(id AchievementID) (Achievement, bool) {
	for _, a := range r.Achievements {
		if a.ID == id {
			return a, true
		}
	}
	return Achievement{}, false
}

// AddAchievement добавляет достижение. Повторный вызов ничего не меняет,
// дата получения сохраняется. Возвращает true, если достижение новое.
func (r *Record) AddAchievement(id AchievementID, now time.Time) bool {
	if r.HasAchievement(id) {
		return false
	}
	r.Achievements = append(r.Achievements, Achievement{ID: id, EarnedAt: now.UTC()})
	r.UpdatedAt = now.UTC()
	return true
}

// Award добавляет достижение, проверяя его по каталогу правил.
// Неизвестный ID возвращает ErrAchievementUnknown без изменения записи.
func (r *Record) Award(rules Rules, id AchievementID, now time.Time) (bool, error) {
	if _, ok := rules.Lookup(id); !ok {
		return false, ErrAchievementUnknown
	}
	return r.AddAchievement(id, now), nil
}

// Clone возвращает глубокую копию записи.
func (r *Record) Clone() *Record {
	c := *r
	c.CompletedPuzzles = append([]CompletedPuzzle(nil), r.CompletedPuzzles...)
	c.Achievements = append([]Achievement(nil), r.Achievements...)
	if r.LastActiveDate != nil {
		t := *r.LastActiveDate
		c.LastActiveDate = &t
	}
	if c.CompletedPuzzles == nil {
		c.CompletedPuzzles = []CompletedPuzzle{}
	}
	if c.Achievements == nil {
		c.Achievements = []Achievement{}
	}
	return &c
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

var (
	ErrProgressNotFound     = shared.ErrProgressNotFound
	ErrInvalidUserID        = shared.ErrInvalidUserID
	ErrAchievementUnknown   = shared.ErrAchievementUnknown
	ErrProgressVersionStale = shared.ErrProgressVersionStale
)
