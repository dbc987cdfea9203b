package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/puzzlehub/chess-puzzles/internal/domain/puzzle"
	"github.com/puzzlehub/chess-puzzles/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PUZZLE REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// PuzzleRepository implements puzzle.Repository for PostgreSQL.
type PuzzleRepository struct {
	conn *Connection
}

// NewPuzzleRepository creates a new PuzzleRepository.
func NewPuzzleRepository(conn *Connection) *PuzzleRepository {
	return &PuzzleRepository{conn: conn}
}

const puzzleColumns = `
	id, title, description, difficulty, time_limit, rating,
	moves, position, solution, hints, category, created_at, updated_at
`

// Catalog order: difficulty rank, then rating, then id.
const puzzleOrder = `
	ORDER BY CASE difficulty
		WHEN 'beginner' THEN 1
		WHEN 'intermediate' THEN 2
		WHEN 'advanced' THEN 3
		ELSE 4
	END, rating, id
`

// List returns puzzles matching the filter in catalog order.
func (r *PuzzleRepository) List(ctx context.Context, filter puzzle.Filter) ([]*puzzle.Puzzle, error) {
	query := `SELECT ` + puzzleColumns + ` FROM puzzles`
	args := []any{}
	if filter.Difficulty != "" {
		query += ` WHERE difficulty = $1`
		args = append(args, string(filter.Difficulty))
	}
	query += puzzleOrder

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, shared.StorageError("puzzle", "List", err)
	}
	defer rows.Close()

	puzzles := make([]*puzzle.Puzzle, 0)
	for rows.Next() {
		p, err := scanPuzzle(rows)
		if err != nil {
			return nil, shared.StorageError("puzzle", "List", err)
		}
		puzzles = append(puzzles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, shared.StorageError("puzzle", "List", err)
	}

	return puzzles, nil
}

// GetByID returns a puzzle by id.
func (r *PuzzleRepository) GetByID(ctx context.Context, id string) (*puzzle.Puzzle, error) {
	row := r.conn.QueryRow(ctx, `SELECT `+puzzleColumns+` FROM puzzles WHERE id = $1`, id)
	p, err := scanPuzzle(row)
	if IsNoRows(err) {
		return nil, puzzle.ErrPuzzleNotFound
	}
	if err != nil {
		return nil, shared.StorageError("puzzle", "GetByID", err)
	}
	return p, nil
}

// Create inserts a new puzzle.
func (r *PuzzleRepository) Create(ctx context.Context, p *puzzle.Puzzle) error {
	_, err := r.conn.Exec(ctx, `
		INSERT INTO puzzles (`+puzzleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, puzzleArgs(p)...)
	if err != nil {
		return mapPuzzleWriteError("Create", err)
	}
	return nil
}

// Update replaces every mutable field of a puzzle.
func (r *PuzzleRepository) Update(ctx context.Context, p *puzzle.Puzzle) error {
	result, err := r.conn.Exec(ctx, `
		UPDATE puzzles SET
			title = $2,
			description = $3,
			difficulty = $4,
			time_limit = $5,
			rating = $6,
			moves = $7,
			position = $8,
			solution = $9,
			hints = $10,
			category = $11,
			updated_at = $12
		WHERE id = $1
	`, updateArgs(p)...)
	if err != nil {
		return mapPuzzleWriteError("Update", err)
	}
	if result.RowsAffected() == 0 {
		return puzzle.ErrPuzzleNotFound
	}
	return nil
}

// mapPuzzleWriteError turns constraint violations into domain errors.
func mapPuzzleWriteError(op string, err error) error {
	switch {
	case IsUniqueViolation(err):
		return puzzle.ErrPuzzleAlreadyExists
	case IsCheckViolation(err):
		msg := "puzzle violates a catalog constraint"
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.ConstraintName != "" {
			msg = "puzzle violates constraint " + pgErr.ConstraintName
		}
		return shared.ValidationError("puzzle", op, msg)
	default:
		return shared.StorageError("puzzle", op, err)
	}
}

// Delete removes a puzzle.
func (r *PuzzleRepository) Delete(ctx context.Context, id string) error {
	result, err := r.conn.Exec(ctx, `DELETE FROM puzzles WHERE id = $1`, id)
	if err != nil {
		return shared.StorageError("puzzle", "Delete", err)
	}
	if result.RowsAffected() == 0 {
		return puzzle.ErrPuzzleNotFound
	}
	return nil
}

// Count returns the catalog size.
func (r *PuzzleRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.conn.QueryRow(ctx, `SELECT COUNT(*) FROM puzzles`).Scan(&n); err != nil {
		return 0, shared.StorageError("puzzle", "Count", err)
	}
	return n, nil
}

// DeleteAll clears the catalog. Used by forced seeding.
func (r *PuzzleRepository) DeleteAll(ctx context.Context) error {
	if _, err := r.conn.Exec(ctx, `DELETE FROM puzzles`); err != nil {
		return shared.StorageError("puzzle", "DeleteAll", err)
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helper Functions
// ─────────────────────────────────────────────────────────────────────────────

// puzzleArgs returns arguments in puzzleColumns order.
func puzzleArgs(p *puzzle.Puzzle) []any {
	moves := p.Moves
	if moves == nil {
		moves = []string{}
	}
	hints := p.Hints
	if hints == nil {
		hints = []string{}
	}
	return []any{
		p.ID,
		p.Title,
		p.Description,
		string(p.Difficulty),
		p.TimeLimit,
		p.Rating,
		moves,
		p.Position,
		p.Solution,
		hints,
		p.Category,
		p.CreatedAt,
		p.UpdatedAt,
	}
}

// updateArgs drops created_at, which never changes.
func updateArgs(p *puzzle.Puzzle) []any {
	args := puzzleArgs(p)
	return append(args[:11], args[12])
}

func scanPuzzle(row pgx.Row) (*puzzle.Puzzle, error) {
	var (
		p          puzzle.Puzzle
		difficulty string
	)
	err := row.Scan(
		&p.ID,
		&p.Title,
		&p.Description,
		&difficulty,
		&p.TimeLimit,
		&p.Rating,
		&p.Moves,
		&p.Position,
		&p.Solution,
		&p.Hints,
		&p.Category,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Difficulty = puzzle.Difficulty(difficulty)
	if !p.Difficulty.IsValid() {
		return nil, fmt.Errorf("puzzle %s has unknown difficulty %q", p.ID, difficulty)
	}
	if p.Moves == nil {
		p.Moves = []string{}
	}
	if p.Hints == nil {
		p.Hints = []string{}
	}
	return &p, nil
}
