// Package memory provides in-process implementations of the repository ports.
// Used when Postgres or Redis is disabled (local runs, tests). Every value is
// cloned on the way in and out so callers never share state with the store.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/puzzlehub/chess-puzzles/internal/domain/gamestate"
	"github.com/puzzlehub/chess-puzzles/internal/domain/progress"
	"github.com/puzzlehub/chess-puzzles/internal/domain/puzzle"
	"github.com/puzzlehub/chess-puzzles/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PUZZLE REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// PuzzleRepository implements puzzle.Repository.
type PuzzleRepository struct {
	mu      sync.RWMutex
	puzzles map[string]*puzzle.Puzzle
}

// NewPuzzleRepository creates a repository pre-filled with puzzles.
func NewPuzzleRepository(puzzles ...*puzzle.Puzzle) *PuzzleRepository {
	r := &PuzzleRepository{puzzles: make(map[string]*puzzle.Puzzle, len(puzzles))}
	for _, p := range puzzles {
		r.puzzles[p.ID] = clonePuzzle(p)
	}
	return r
}

// List returns puzzles ordered by difficulty, rating and id.
func (r *PuzzleRepository) List(_ context.Context, filter puzzle.Filter) ([]*puzzle.Puzzle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*puzzle.Puzzle, 0, len(r.puzzles))
	for _, p := range r.puzzles {
		if filter.Difficulty != "" && p.Difficulty != filter.Difficulty {
			continue
		}
		out = append(out, clonePuzzle(p))
	}
	puzzle.SortPuzzles(out)
	return out, nil
}

// GetByID returns a puzzle by id.
func (r *PuzzleRepository) GetByID(_ context.Context, id string) (*puzzle.Puzzle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.puzzles[id]
	if !ok {
		return nil, puzzle.ErrPuzzleNotFound
	}
	return clonePuzzle(p), nil
}

// Create adds a puzzle.
func (r *PuzzleRepository) Create(_ context.Context, p *puzzle.Puzzle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.puzzles[p.ID]; exists {
		return puzzle.ErrPuzzleAlreadyExists
	}
	r.puzzles[p.ID] = clonePuzzle(p)
	return nil
}

// Update replaces a puzzle.
func (r *PuzzleRepository) Update(_ context.Context, p *puzzle.Puzzle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.puzzles[p.ID]; !exists {
		return puzzle.ErrPuzzleNotFound
	}
	r.puzzles[p.ID] = clonePuzzle(p)
	return nil
}

// Delete removes a puzzle.
func (r *PuzzleRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.puzzles[id]; !exists {
		return puzzle.ErrPuzzleNotFound
	}
	delete(r.puzzles, id)
	return nil
}

// Count returns the catalog size.
func (r *PuzzleRepository) Count(_ context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.puzzles), nil
}

// DeleteAll clears the catalog.
func (r *PuzzleRepository) DeleteAll(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.puzzles = make(map[string]*puzzle.Puzzle)
	return nil
}

func clonePuzzle(p *puzzle.Puzzle) *puzzle.Puzzle {
	c := *p
	c.Moves = append([]string{}, p.Moves...)
	c.Hints = append([]string{}, p.Hints...)
	return &c
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS REPOSITORY
// ══════════════════════════════════════════════════════════════════════════════

// ProgressRepository implements progress.Repository with version checks.
type ProgressRepository struct {
	mu      sync.RWMutex
	records map[string]*progress.Record
}

// NewProgressRepository creates an empty repository.
func NewProgressRepository() *ProgressRepository {
	return &ProgressRepository{records: make(map[string]*progress.Record)}
}

// GetByUser returns the user's record.
func (r *ProgressRepository) GetByUser(_ context.Context, userID string) (*progress.Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[userID]
	if !ok {
		return nil, progress.ErrProgressNotFound
	}
	return rec.Clone(), nil
}

// Upsert fully replaces the record if rec.Version matches the stored one.
func (r *ProgressRepository) Upsert(_ context.Context, rec *progress.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var stored int64
	if existing, ok := r.records[rec.UserID]; ok {
		stored = existing.Version
	}
	if stored != rec.Version {
		return progress.ErrProgressVersionStale
	}

	rec.Version++
	r.records[rec.UserID] = rec.Clone()
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// GAME STATE STORE
// ══════════════════════════════════════════════════════════════════════════════

type gameStateEntry struct {
	state     *gamestate.GameState
	expiresAt time.Time
}

// GameStateStore implements gamestate.Store with lazy TTL expiry.
type GameStateStore struct {
	mu      sync.Mutex
	entries map[gamestate.Key]gameStateEntry
	ttl     time.Duration
	nowFn   func() time.Time
}

// NewGameStateStore creates a store. ttl <= 0 uses gamestate.DefaultTTL.
func NewGameStateStore(ttl time.Duration, nowFn func() time.Time) *GameStateStore {
	if ttl <= 0 {
		ttl = gamestate.DefaultTTL
	}
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}
	return &GameStateStore{
		entries: make(map[gamestate.Key]gameStateEntry),
		ttl:     ttl,
		nowFn:   nowFn,
	}
}

// Save stores the snapshot.
func (s *GameStateStore) Save(_ context.Context, state *gamestate.GameState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *state
	s.entries[state.Key()] = gameStateEntry{state: &c, expiresAt: s.nowFn().Add(s.ttl)}
	return nil
}

// Load returns the snapshot if present and not expired.
func (s *GameStateStore) Load(_ context.Context, key gamestate.Key) (*gamestate.GameState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[key]
	if !ok {
		return nil, gamestate.ErrGameStateNotFound
	}
	if !s.nowFn().Before(e.expiresAt) {
		delete(s.entries, key)
		return nil, gamestate.ErrGameStateNotFound
	}
	c := *e.state
	return &c, nil
}

// Delete removes the snapshot.
func (s *GameStateStore) Delete(_ context.Context, key gamestate.Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// USER LOCKER
// ══════════════════════════════════════════════════════════════════════════════

// Locker serializes operations per user within one process.
type Locker struct {
	mu    sync.Mutex
	locks map[string]*userLock
}

type userLock struct {
	ch   chan struct{}
	refs int
}

// NewLocker creates a locker.
func NewLocker() *Locker {
	return &Locker{locks: make(map[string]*userLock)}
}

// Lock blocks until the user's lock is free or ctx is done.
func (l *Locker) Lock(ctx context.Context, userID string) (func(), error) {
	l.mu.Lock()
	ul, ok := l.locks[userID]
	if !ok {
		ul = &userLock{ch: make(chan struct{}, 1)}
		l.locks[userID] = ul
	}
	ul.refs++
	l.mu.Unlock()

	select {
	case ul.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(userID, ul, false)
		return nil, shared.WrapError("progress", "Lock", shared.ErrLockNotAcquired, "user lock wait cancelled", ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(userID, ul, true) })
	}, nil
}

func (l *Locker) release(userID string, ul *userLock, held bool) {
	if held {
		<-ul.ch
	}
	l.mu.Lock()
	ul.refs--
	if ul.refs == 0 {
		delete(l.locks, userID)
	}
	l.mu.Unlock()
}
