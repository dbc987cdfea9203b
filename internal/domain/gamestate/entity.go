// Package gamestate описывает сохранённый снимок незавершённой партии.
// Снимок временный: удаляется после успешного решения задачи или по TTL.
package gamestate

import (
	"context"
	"strings"
	"time"

	"github.com/puzzlehub/chess-puzzles/internal/domain/shared"
)

// DefaultTTL - срок хранения снимка.
const DefaultTTL = 7 * 24 * time.Hour

// BoardSize - размер доски.
const BoardSize = 8

// Move - запись в истории ходов. Формат задаёт клиент.
type Move map[string]any

// GameState - снимок доски для продолжения решения позже.
type GameState struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	PuzzleID string `json:"puzzle_id"`

	// Board - доска 8x8, пустая клетка - nil.
	Board [][]*string `json:"board"`

	MoveHistory []Move    `json:"move_history"`
	TimeSpent   int       `json:"time_spent"`
	HintsUsed   int       `json:"hints_used"`
	SavedAt     time.Time `json:"saved_at"`
}

// Validate проверяет снимок перед сохранением.
func (g *GameState) Validate() error {
	if strings.TrimSpace(g.UserID) == "" {
		return shared.ErrInvalidUserID
	}
	if strings.TrimSpace(g.PuzzleID) == "" {
		return shared.ErrInvalidPuzzleID
	}
	if g.Board == nil {
		return shared.ValidationError("gamestate", "Validate", "board is required")
	}
	if g.MoveHistory == nil {
		return shared.ValidationError("gamestate", "Validate", "move_history is required")
	}
	if g.TimeSpent < 0 || g.HintsUsed < 0 {
		return shared.WrapError("gamestate", "Validate", shared.ErrNegativeValue, "time_spent and hints_used cannot be negative", nil)
	}
	return nil
}

// Key - составной ключ снимка.
type Key struct {
	UserID   string
	PuzzleID string
}

// Key возвращает ключ снимка.
func (g *GameState) Key() Key {
	return Key{UserID: g.UserID, PuzzleID: g.PuzzleID}
}

// Store - хранилище снимков.
type Store interface {
	// Save сохраняет снимок, заменяя предыдущий для той же пары (user, puzzle).
	Save(ctx context.Context, state *GameState) error

	// Load возвращает снимок или ErrGameStateNotFound.
	Load(ctx context.Context, key Key) (*GameState, error)

	// Delete удаляет снимок. Отсутствие снимка ошибкой не считается.
	Delete(ctx context.Context, key Key) error
}

// ErrGameStateNotFound - снимок не найден.
var ErrGameStateNotFound = shared.ErrGameStateNotFound
