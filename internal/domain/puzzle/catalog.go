package puzzle

import "sort"

// Catalog - снимок каталога задач на момент вычисления.
// Передаётся явно в правила достижений и в построение отчёта.
type Catalog struct {
	byID  map[string]*Puzzle
	order []string
}

// NewCatalog строит каталог из списка задач.
// При повторяющихся ID побеждает последняя запись.
func NewCatalog(puzzles []*Puzzle) Catalog {
	c := Catalog{
		byID:  make(map[string]*Puzzle, len(puzzles)),
		order: make([]string, 0, len(puzzles)),
	}
	for _, p := range puzzles {
		if p == nil {
			continue
		}
		if _, seen := c.byID[p.ID]; !seen {
			c.order = append(c.order, p.ID)
		}
		c.byID[p.ID] = p
	}
	return c
}

// Lookup возвращает задачу по ID.
func (c Catalog) Lookup(id string) (*Puzzle, bool) {
	p, ok := c.byID[id]
	return p, ok
}

// Contains проверяет наличие задачи в каталоге.
func (c Catalog) Contains(id string) bool {
	_, ok := c.byID[id]
	return ok
}

// DifficultyOf возвращает сложность задачи, если она есть в каталоге.
func (c Catalog) DifficultyOf(id string) (Difficulty, bool) {
	p, ok := c.byID[id]
	if !ok {
		return "", false
	}
	return p.Difficulty, true
}

// Size возвращает количество задач в каталоге.
func (c Catalog) Size() int {
	return len(c.byID)
}

// CountByDifficulty возвращает количество задач каждой сложности.
func (c Catalog) CountByDifficulty() map[Difficulty]int {
	counts := make(map[Difficulty]int, 3)
	for _, p := range c.byID {
		counts[p.Difficulty]++
	}
	return counts
}

// All возвращает задачи в порядке добавления.
func (c Catalog) All() []*Puzzle {
	out := make([]*Puzzle, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

// SortPuzzles сортирует задачи: по сложности, затем по рейтингу, затем по ID.
func SortPuzzles(puzzles []*Puzzle) {
	rank := map[Difficulty]int{
		DifficultyBeginner:     0,
		DifficultyIntermediate: 1,
		DifficultyAdvanced:     2,
	}
	sort.SliceStable(puzzles, func(i, j int) bool {
		a, b := puzzles[i], puzzles[j]
		if rank[a.Difficulty] != rank[b.Difficulty] {
			return rank[a.Difficulty] < rank[b.Difficulty]
		}
		if a.Rating != b.Rating {
			return a.Rating < b.Rating
		}
		return a.ID < b.ID
	})
}
