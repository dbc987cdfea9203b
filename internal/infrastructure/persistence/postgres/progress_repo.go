package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/puzzlehub/chess-puzzles/internal/domain/progress"
	"github.com/puzzlehub/chess-puzzles/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS REPOSITORY IMPLEMENTATION
// A record is stored across user_progress, completed_puzzles and
// user_achievements and is always written as a whole inside one transaction.
// ══════════════════════════════════════════════════════════════════════════════

// ProgressRepository implements progress.Repository for PostgreSQL.
type ProgressRepository struct {
	conn *Connection
}

// NewProgressRepository creates a new ProgressRepository.
func NewProgressRepository(conn *Connection) *ProgressRepository {
	return &ProgressRepository{conn: conn}
}

// GetByUser loads the record with its completions and achievements from a
// single snapshot.
func (r *ProgressRepository) GetByUser(ctx context.Context, userID string) (*progress.Record, error) {
	var rec *progress.Record

	err := r.conn.WithTx(ctx, ReadOnlyTxOptions(), func(tx pgx.Tx) error {
		var err error
		rec, err = loadRecord(ctx, tx, userID)
		return err
	})
	if errors.Is(err, progress.ErrProgressNotFound) {
		return nil, progress.ErrProgressNotFound
	}
	if err != nil {
		return nil, shared.StorageError("progress", "GetByUser", err)
	}

	return rec, nil
}

// Upsert fully replaces the stored record when rec.Version matches the
// stored version (0 when absent) and increments rec.Version on success.
func (r *ProgressRepository) Upsert(ctx context.Context, rec *progress.Record) error {
	err := r.conn.WithTx(ctx, DefaultTxOptions(), func(tx pgx.Tx) error {
		var stored int64
		err := tx.QueryRow(ctx,
			`SELECT version FROM user_progress WHERE user_id = $1 FOR UPDATE`,
			rec.UserID,
		).Scan(&stored)
		if err != nil && !IsNoRows(err) {
			return fmt.Errorf("failed to lock progress row: %w", err)
		}
		if stored != rec.Version {
			return progress.ErrProgressVersionStale
		}

		if err := writeHeader(ctx, tx, rec, stored == 0); err != nil {
			return err
		}
		if err := replaceCompletions(ctx, tx, rec); err != nil {
			return err
		}
		return replaceAchievements(ctx, tx, rec)
	})

	switch {
	case err == nil:
		rec.Version++
		return nil
	case errors.Is(err, progress.ErrProgressVersionStale):
		return progress.ErrProgressVersionStale
	case IsUniqueViolation(err):
		// Two first writes raced on the same user.
		return progress.ErrProgressVersionStale
	default:
		return shared.StorageError("progress", "Upsert", err)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Write Helpers
// ─────────────────────────────────────────────────────────────────────────────

func writeHeader(ctx context.Context, tx pgx.Tx, rec *progress.Record, insert bool) error {
	if insert {
		_, err := tx.Exec(ctx, `
			INSERT INTO user_progress (
				id, user_id, total_puzzles_solved, streak, best_streak,
				last_active_date, version, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $8)
		`,
			rec.ID,
			rec.UserID,
			rec.TotalPuzzlesSolved,
			rec.Streak,
			rec.BestStreak,
			rec.LastActiveDate,
			rec.CreatedAt,
			rec.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert progress: %w", err)
		}
		return nil
	}

	_, err := tx.Exec(ctx, `
		UPDATE user_progress SET
			total_puzzles_solved = $2,
			streak = $3,
			best_streak = $4,
			last_active_date = $5,
			version = version + 1,
			updated_at = $6
		WHERE user_id = $1
	`,
		rec.UserID,
		rec.TotalPuzzlesSolved,
		rec.Streak,
		rec.BestStreak,
		rec.LastActiveDate,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update progress: %w", err)
	}
	return nil
}

func replaceCompletions(ctx context.Context, tx pgx.Tx, rec *progress.Record) error {
	if _, err := tx.Exec(ctx, `DELETE FROM completed_puzzles WHERE user_id = $1`, rec.UserID); err != nil {
		return fmt.Errorf("failed to clear completions: %w", err)
	}
	if len(rec.CompletedPuzzles) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i, cp := range rec.CompletedPuzzles {
		batch.Queue(`
			INSERT INTO completed_puzzles
			(user_id, seq, puzzle_id, completed_at, time_spent, moves_used, hints_used, successful)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`,
			rec.UserID,
			i,
			cp.PuzzleID,
			cp.CompletedAt,
			cp.TimeSpent,
			cp.MovesUsed,
			cp.HintsUsed,
			cp.Successful,
		)
	}
	return sendBatch(ctx, tx, batch, "completion")
}

func replaceAchievements(ctx context.Context, tx pgx.Tx, rec *progress.Record) error {
	if _, err := tx.Exec(ctx, `DELETE FROM user_achievements WHERE user_id = $1`, rec.UserID); err != nil {
		return fmt.Errorf("failed to clear achievements: %w", err)
	}
	if len(rec.Achievements) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i, a := range rec.Achievements {
		batch.Queue(`
			INSERT INTO user_achievements (user_id, seq, achievement_id, earned_at)
			VALUES ($1, $2, $3, $4)
		`, rec.UserID, i, string(a.ID), a.EarnedAt)
	}
	return sendBatch(ctx, tx, batch, "achievement")
}

func sendBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch, what string) error {
	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("failed to insert %s: %w", what, err)
		}
	}
	return br.Close()
}

// ─────────────────────────────────────────────────────────────────────────────
// Read Helpers
// ─────────────────────────────────────────────────────────────────────────────

func loadRecord(ctx context.Context, q Querier, userID string) (*progress.Record, error) {
	var (
		rec        progress.Record
		lastActive *time.Time
	)
	err := q.QueryRow(ctx, `
		SELECT id, user_id, total_puzzles_solved, streak, best_streak,
		       last_active_date, version, created_at, updated_at
		FROM user_progress
		WHERE user_id = $1
	`, userID).Scan(
		&rec.ID,
		&rec.UserID,
		&rec.TotalPuzzlesSolved,
		&rec.Streak,
		&rec.BestStreak,
		&lastActive,
		&rec.Version,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if IsNoRows(err) {
		return nil, progress.ErrProgressNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load progress: %w", err)
	}
	if lastActive != nil {
		t := lastActive.UTC()
		rec.LastActiveDate = &t
	}

	if rec.CompletedPuzzles, err = loadCompletions(ctx, q, userID); err != nil {
		return nil, err
	}
	if rec.Achievements, err = loadAchievements(ctx, q, userID); err != nil {
		return nil, err
	}

	return &rec, nil
}

func loadCompletions(ctx context.Context, q Querier, userID string) ([]progress.CompletedPuzzle, error) {
	rows, err := q.Query(ctx, `
		SELECT puzzle_id, completed_at, time_spent, moves_used, hints_used, successful
		FROM completed_puzzles
		WHERE user_id = $1
		ORDER BY seq
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load completions: %w", err)
	}
	defer rows.Close()

	out := make([]progress.CompletedPuzzle, 0)
	for rows.Next() {
		var cp progress.CompletedPuzzle
		if err := rows.Scan(&cp.PuzzleID, &cp.CompletedAt, &cp.TimeSpent, &cp.MovesUsed, &cp.HintsUsed, &cp.Successful); err != nil {
			return nil, fmt.Errorf("failed to scan completion: %w", err)
		}
		cp.CompletedAt = cp.CompletedAt.UTC()
		out = append(out, cp)
	}
	return out, rows.Err()
}

func loadAchievements(ctx context.Context, q Querier, userID string) ([]progress.Achievement, error) {
	rows, err := q.Query(ctx, `
		SELECT achievement_id, earned_at
		FROM user_achievements
		WHERE user_id = $1
		ORDER BY seq
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load achievements: %w", err)
	}
	defer rows.Close()

	out := make([]progress.Achievement, 0)
	for rows.Next() {
		var (
			id       string
			earnedAt time.Time
		)
		if err := rows.Scan(&id, &earnedAt); err != nil {
			return nil, fmt.Errorf("failed to scan achievement: %w", err)
		}
		out = append(out, progress.Achievement{ID: progress.AchievementID(id), EarnedAt: earnedAt.UTC()})
	}
	return out, rows.Err()
}
