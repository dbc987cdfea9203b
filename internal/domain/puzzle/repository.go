package puzzle

import "context"

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Контракт хранилища каталога задач.
// Реализации находятся в infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Filter - параметры выборки задач.
type Filter struct {
	// Difficulty - фильтр по сложности (пустое значение = все задачи).
	Difficulty Difficulty
}

// Repository определяет операции с каталогом задач.
type Repository interface {
	// List возвращает задачи, удовлетворяющие фильтру.
	List(ctx context.Context, filter Filter) ([]*Puzzle, error)

	// GetByID возвращает задачу по ID.
	// Возвращает ErrPuzzleNotFound, если задача не найдена.
	GetByID(ctx context.Context, id string) (*Puzzle, error)

	// Create добавляет задачу в каталог.
	// Возвращает ErrPuzzleAlreadyExists, если ID занят.
	Create(ctx context.Context, p *Puzzle) error

	// Update сохраняет изменения задачи.
	// Возвращает ErrPuzzleNotFound, если задача не найдена.
	Update(ctx context.Context, p *Puzzle) error

	// Delete удаляет задачу из каталога.
	// Возвращает ErrPuzzleNotFound, если задача не найдена.
	Delete(ctx context.Context, id string) error

	// Count возвращает размер каталога.
	Count(ctx context.Context) (int, error)
}

// LoadCatalog читает весь каталог и возвращает снимок.
func LoadCatalog(ctx context.Context, repo Repository) (Catalog, error) {
	puzzles, err := repo.List(ctx, Filter{})
	if err != nil {
		return Catalog{}, err
	}
	return NewCatalog(puzzles), nil
}
