// Package puzzle содержит доменную модель шахматной задачи.
// Задачи неизменяемы после загрузки в каталог; ядро прогресса только читает их.
package puzzle

import (
	"strings"
	"time"

	"github.com/puzzlehub/chess-puzzles/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ENUMS
// ══════════════════════════════════════════════════════════════════════════════

// Difficulty определяет уровень сложности задачи.
type Difficulty string

const (
	// DifficultyBeginner - задачи для начинающих.
	DifficultyBeginner Difficulty = "beginner"
	// DifficultyIntermediate - задачи среднего уровня.
	DifficultyIntermediate Difficulty = "intermediate"
	// DifficultyAdvanced - сложные задачи.
	DifficultyAdvanced Difficulty = "advanced"
)

// Difficulties возвращает все уровни сложности в порядке возрастания.
func Difficulties() []Difficulty {
	return []Difficulty{DifficultyBeginner, DifficultyIntermediate, DifficultyAdvanced}
}

// IsValid проверяет, что уровень сложности корректен.
func (d Difficulty) IsValid() bool {
	switch d {
	case DifficultyBeginner, DifficultyIntermediate, DifficultyAdvanced:
		return true
	default:
		return false
	}
}

// String возвращает строковое представление.
func (d Difficulty) String() string {
	return string(d)
}

// ParseDifficulty разбирает строку в Difficulty.
// Пустая строка означает "без фильтра" и возвращается как есть.
func ParseDifficulty(s string) (Difficulty, error) {
	d := Difficulty(strings.ToLower(strings.TrimSpace(s)))
	if d == "" {
		return "", nil
	}
	if !d.IsValid() {
		return "", ErrInvalidDifficulty
	}
	return d, nil
}

// DefaultCategory - категория по умолчанию.
const DefaultCategory = "tactics"

// ══════════════════════════════════════════════════════════════════════════════
// MAIN ENTITY: PUZZLE
// ══════════════════════════════════════════════════════════════════════════════

// Puzzle - определение задачи из каталога.
type Puzzle struct {
	ID          string     `json:"id" yaml:"id"`
	Title       string     `json:"title" yaml:"title"`
	Description string     `json:"description" yaml:"description"`
	Difficulty  Difficulty `json:"difficulty" yaml:"difficulty"`

	// TimeLimit - рекомендуемое время решения в минутах.
	TimeLimit int `json:"time_limit" yaml:"time_limit"`

	// Rating - рейтинг задачи (Elo-подобный).
	Rating int `json:"rating" yaml:"rating"`

	// Moves - последовательность ходов решения.
	Moves []string `json:"moves" yaml:"moves"`

	// Position - стартовая позиция в нотации FEN.
	Position string `json:"position" yaml:"position"`

	// Solution - решение одной строкой.
	Solution string   `json:"solution" yaml:"solution"`
	Hints    []string `json:"hints" yaml:"hints"`
	Category string   `json:"category" yaml:"category"`

	CreatedAt time.Time `json:"created_at" yaml:"-"`
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// NewPuzzleParams - параметры для создания задачи.
type NewPuzzleParams struct {
	ID          string     `yaml:"id"`
	Title       string     `yaml:"title"`
	Description string     `yaml:"description"`
	Difficulty  Difficulty `yaml:"difficulty"`
	TimeLimit   int        `yaml:"time_limit"`
	Rating      int        `yaml:"rating"`
	Moves       []string   `yaml:"moves"`
	Position    string     `yaml:"position"`
	Solution    string     `yaml:"solution"`
	Hints       []string   `yaml:"hints"`
	Category    string     `yaml:"category"`
}

// NewPuzzle создаёт задачу с валидацией.
func NewPuzzle(params NewPuzzleParams, now time.Time) (*Puzzle, error) {
	p := &Puzzle{
		ID:          strings.TrimSpace(params.ID),
		Title:       strings.TrimSpace(params.Title),
		Description: params.Description,
		Difficulty:  params.Difficulty,
		TimeLimit:   params.TimeLimit,
		Rating:      params.Rating,
		Moves:       params.Moves,
		Position:    params.Position,
		Solution:    params.Solution,
		Hints:       params.Hints,
		Category:    params.Category,
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}
	p.normalize()

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// normalize заполняет значения по умолчанию.
func (p *Puzzle) normalize() {
	if p.Category == "" {
		p.Category = DefaultCategory
	}
	if p.Moves == nil {
		p.Moves = []string{}
	}
	if p.Hints == nil {
		p.Hints = []string{}
	}
}

// Validate проверяет инварианты задачи.
func (p *Puzzle) Validate() error {
	if p.ID == "" {
		return ErrInvalidPuzzleID
	}
	if p.Title == "" {
		return shared.ValidationError("puzzle", "Validate", "title is required")
	}
	if !p.Difficulty.IsValid() {
		return ErrInvalidDifficulty
	}
	if p.Rating < 0 {
		return shared.WrapError("puzzle", "Validate", shared.ErrNegativeValue, "rating cannot be negative", nil)
	}
	if p.TimeLimit < 0 {
		return shared.WrapError("puzzle", "Validate", shared.ErrNegativeValue, "time limit cannot be negative", nil)
	}
	return nil
}

// Update - частичное обновление задачи. nil означает "не менять".
type Update struct {
	Title       *string
	Description *string
	Difficulty  *Difficulty
	TimeLimit   *int
	Rating      *int
	Moves       []string
	Position    *string
	Solution    *string
	Hints       []string
	Category    *string
}

// Apply применяет обновление и проверяет инварианты.
// При ошибке задача остаётся без изменений.
func (p *Puzzle) Apply(u Update, now time.Time) error {
	next := *p
	if u.Title != nil {
		next.Title = strings.TrimSpace(*u.Title)
	}
	if u.Description != nil {
		next.Description = *u.Description
	}
	if u.Difficulty != nil {
		next.Difficulty = *u.Difficulty
	}
	if u.TimeLimit != nil {
		next.TimeLimit = *u.TimeLimit
	}
	if u.Rating != nil {
		next.Rating = *u.Rating
	}
	if u.Moves != nil {
		next.Moves = u.Moves
	}
	if u.Position != nil {
		next.Position = *u.Position
	}
	if u.Solution != nil {
		next.Solution = *u.Solution
	}
	if u.Hints != nil {
		next.Hints = u.Hints
	}
	if u.Category != nil {
		next.Category = *u.Category
	}
	next.normalize()

	if err := next.Validate(); err != nil {
		return err
	}

	next.UpdatedAt = now.UTC()
	*p = next
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// Алиасы доменных ошибок для удобства.
var (
	ErrPuzzleNotFound      = shared.ErrPuzzleNotFound
	ErrPuzzleAlreadyExists = shared.ErrPuzzleAlreadyExists
	ErrInvalidDifficulty   = shared.ErrInvalidDifficulty
	ErrInvalidPuzzleID     = shared.ErrInvalidPuzzleID
)
