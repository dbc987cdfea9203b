// Package seed loads the bundled sample catalog into a puzzle repository.
package seed

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/puzzlehub/chess-puzzles/internal/domain/puzzle"
	"github.com/puzzlehub/chess-puzzles/pkg/logger"
	"github.com/puzzlehub/chess-puzzles/pkg/timeutil"
)

//go:embed puzzles.yaml
var defaultPuzzlesYAML []byte

// ErrForceUnsupported is returned when Force is requested against a
// repository without bulk delete.
var ErrForceUnsupported = errors.New("seed: repository does not support DeleteAll")

// file mirrors puzzles.yaml.
type file struct {
	Puzzles []puzzle.NewPuzzleParams `yaml:"puzzles"`
}

// Parse decodes a seed document and validates every puzzle.
func Parse(data []byte, now timeutil.Clock) ([]*puzzle.Puzzle, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc file
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("seed: decode: %w", err)
	}

	seen := make(map[string]struct{}, len(doc.Puzzles))
	puzzles := make([]*puzzle.Puzzle, 0, len(doc.Puzzles))
	for i, params := range doc.Puzzles {
		p, err := puzzle.NewPuzzle(params, now.Now())
		if err != nil {
			return nil, fmt.Errorf("seed: puzzle #%d (%q): %w", i, params.ID, err)
		}
		if _, dup := seen[p.ID]; dup {
			return nil, fmt.Errorf("seed: duplicate puzzle id %q", p.ID)
		}
		seen[p.ID] = struct{}{}
		puzzles = append(puzzles, p)
	}
	return puzzles, nil
}

// Default returns the bundled sample catalog.
func Default(now timeutil.Clock) ([]*puzzle.Puzzle, error) {
	return Parse(defaultPuzzlesYAML, now)
}

// ══════════════════════════════════════════════════════════════════════════════
// SEEDER
// ══════════════════════════════════════════════════════════════════════════════

// Options controls a seeding run.
type Options struct {
	// Force clears the catalog before loading.
	Force bool
}

// Result summarizes a seeding run.
type Result struct {
	Inserted     int
	Skipped      bool
	ByDifficulty map[puzzle.Difficulty]int
	ByCategory   map[string]int
}

// Seeder loads puzzles into a repository.
type Seeder struct {
	repo    puzzle.Repository
	puzzles []*puzzle.Puzzle
	log     *logger.Logger
}

// NewSeeder creates a seeder for the given puzzles.
func NewSeeder(repo puzzle.Repository, puzzles []*puzzle.Puzzle, log *logger.Logger) *Seeder {
	if log == nil {
		log = logger.Default()
	}
	return &Seeder{
		repo:    repo,
		puzzles: puzzles,
		log:     log.With(logger.Component("seeder")),
	}
}

// Run loads the puzzles when the catalog is empty, or always when Force is set.
func (s *Seeder) Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.Force {
		bulk, ok := s.repo.(interface {
			DeleteAll(ctx context.Context) error
		})
		if !ok {
			return nil, ErrForceUnsupported
		}
		if err := bulk.DeleteAll(ctx); err != nil {
			return nil, fmt.Errorf("seed: clear catalog: %w", err)
		}
		s.log.Info("catalog cleared")
	} else {
		count, err := s.repo.Count(ctx)
		if err != nil {
			return nil, fmt.Errorf("seed: count catalog: %w", err)
		}
		if count > 0 {
			s.log.Info("catalog already populated, skipping seed", logger.Int("count", count))
			return &Result{Skipped: true}, nil
		}
	}

	result := &Result{
		ByDifficulty: make(map[puzzle.Difficulty]int),
		ByCategory:   make(map[string]int),
	}
	for _, p := range s.puzzles {
		if err := s.repo.Create(ctx, p); err != nil {
			return result, fmt.Errorf("seed: create %q: %w", p.ID, err)
		}
		result.Inserted++
		result.ByDifficulty[p.Difficulty]++
		result.ByCategory[p.Category]++
	}

	s.log.Info("catalog seeded",
		logger.Int("inserted", result.Inserted),
		logger.Any("by_difficulty", result.ByDifficulty),
		logger.Any("by_category", result.ByCategory),
	)
	return result, nil
}
